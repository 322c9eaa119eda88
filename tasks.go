package peers

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/gorder"
	"github.com/maxbolgarin/logze"
	"github.com/panjf2000/ants/v2"
)

// eventQueue runs event handlers in background. Handlers of the same chat run
// one after another in the order of pushing, different chats are handled concurrently.
// Nothing is dropped: a push never fails, tasks wait for a free worker.
type eventQueue struct {
	queue   *gorder.Gorder[string]
	log     logze.Logger
	metr    *metrics
	timeout time.Duration

	wg sync.WaitGroup
}

func newEventQueue(workers int, timeout time.Duration, l logze.Logger, metr *metrics) *eventQueue {
	q := gorder.NewWithOptions[string](context.Background(), gorder.Options{
		Workers: workers,
		Log:     queueLogger{l},
	})
	return &eventQueue{
		queue:   q,
		log:     l,
		metr:    metr,
		timeout: timeout,
	}
}

// Push adds fn to the queue of chatID. Failed handler is logged and not retried:
// a retry would run it after newer events of the same chat.
func (q *eventQueue) Push(chatID int64, event string, fn func(ctx context.Context) error) {
	q.wg.Add(1)
	q.queue.Push(strconv.FormatInt(chatID, 10), event, func(ctx context.Context) error {
		defer q.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, q.timeout)
		defer cancel()

		start := time.Now()
		err := fn(ctx)
		q.metr.observeHandlerDuration(event, time.Since(start))
		if err != nil {
			q.log.Warn("cannot handle event", "event", event, "chat_id", chatID, "error", err)
		}
		return nil
	})
}

// Wait blocks until all pushed handlers are finished.
func (q *eventQueue) Wait() {
	q.wg.Wait()
}

// Shutdown waits for pushed handlers and stops workers.
func (q *eventQueue) Shutdown(ctx context.Context) error {
	q.wg.Wait()
	return q.queue.Shutdown(ctx)
}

// queueLogger passes queue logs to logze.
type queueLogger struct {
	l logze.Logger
}

func (q queueLogger) Debug(msg string, args ...any) { q.l.Debug(msg, args...) }
func (q queueLogger) Info(msg string, args ...any)  { q.l.Info(msg, args...) }
func (q queueLogger) Warn(msg string, args ...any)  { q.l.Warn(msg, args...) }
func (q queueLogger) Error(msg string, args ...any) { q.l.Error(errm.New(msg), msg, args...) }

// taskPool runs best-effort background tasks that don't depend on event order,
// like tracking of forwarded channels. Errors are logged, a full pool drops new tasks.
type taskPool struct {
	pool    *ants.Pool
	log     logze.Logger
	metr    *metrics
	timeout time.Duration

	wg sync.WaitGroup
}

func newTaskPool(size int, timeout time.Duration, l logze.Logger, metr *metrics) (*taskPool, error) {
	pool, err := ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			l.Error(errm.New(fmt.Sprint(p)), "panic in background task")
		}),
	)
	if err != nil {
		return nil, errm.Wrap(err, "new ants pool", "size", size)
	}

	return &taskPool{
		pool:    pool,
		log:     l,
		metr:    metr,
		timeout: timeout,
	}, nil
}

// Go submits fn to the pool and returns immediately.
func (p *taskPool) Go(name string, fn func(ctx context.Context) error) {
	p.wg.Add(1)
	err := p.pool.Submit(func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			p.metr.incDetachedTask(MetricsResultError)
			p.log.Warn("background task failed", "task", name, "error", err)
			return
		}
		p.metr.incDetachedTask(MetricsResultOK)
	})
	if err != nil {
		p.wg.Done()
		p.metr.incDetachedTask(MetricsResultError)
		p.log.Warn("background task dropped", "task", name, "error", err)
	}
}

// Wait blocks until all submitted tasks are finished.
func (p *taskPool) Wait() {
	p.wg.Wait()
}

// Release waits for submitted tasks and closes the pool.
func (p *taskPool) Release() {
	p.wg.Wait()
	p.pool.Release()
}

type mutation struct {
	name string
	fn   func(ctx context.Context) error
}

// runAll runs mutations concurrently and waits for all of them.
// Every failure is reported, one failed mutation doesn't stop the others.
func runAll(ctx context.Context, metr *metrics, ops ...mutation) error {
	var (
		errList = errm.NewSafeList()
		wg      sync.WaitGroup
	)

	for _, op := range ops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := op.fn(ctx); err != nil {
				metr.incStoreError(op.name)
				errList.Wrap(err, op.name)
			}
		}()
	}

	wg.Wait()

	return errList.Err()
}
