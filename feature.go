package peers

import (
	"context"
	"sync/atomic"
	"time"
)

// ProbeFunc reports whether the companion spam prediction plugin is available.
type ProbeFunc func() bool

// Feature is a process-wide switch of the predictive features: hash identifiers,
// reputation and forwarded channels tracking.
//
// It is set once by a detached probe shortly after start and read without locks after that.
// Until the probe finishes the feature is treated as unavailable, events observed in this
// window are stored without hashes and get them later by the lazy backfill.
type Feature struct {
	enabled atomic.Bool
	ready   chan struct{}
	done    atomic.Bool
}

// NewFeature returns a disabled [Feature] waiting for [Feature.Probe] or [Feature.Set].
func NewFeature() *Feature {
	return &Feature{ready: make(chan struct{})}
}

// Enabled returns true if predictive features are available.
func (f *Feature) Enabled() bool {
	if f == nil {
		return false
	}
	return f.enabled.Load()
}

// Set sets the value and releases everyone waiting in [Feature.Wait].
// Only the first call releases the barrier, next calls just change the value.
func (f *Feature) Set(enabled bool) {
	f.enabled.Store(enabled)
	if f.done.CompareAndSwap(false, true) {
		close(f.ready)
	}
}

// Probe runs probe after delay in a separate goroutine and sets the result.
// A nil probe disables the feature. Context cancellation stops the probe without setting anything.
func (f *Feature) Probe(ctx context.Context, delay time.Duration, probe ProbeFunc) {
	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		f.Set(probe != nil && probe())
	}()
}

// Wait blocks until the value is set or the context is done.
func (f *Feature) Wait(ctx context.Context) error {
	select {
	case <-f.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
