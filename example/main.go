package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	peers "github.com/maxbolgarin/bote-peers"
	"github.com/maxbolgarin/contem"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/logze"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()

	contem.Start(run, slog.Default())
}

func run(ctx contem.Context) error {
	var cfg peers.Config
	if err := cfg.Read(os.Args[1:]...); err != nil {
		return errm.Wrap(err, "read config")
	}

	zerolog.SetGlobalLevel(lang.If(cfg.Debug, zerolog.DebugLevel, zerolog.InfoLevel))
	log := logze.NewDefault()

	p, err := peers.New(ctx,
		peers.WithConfig(cfg),
		peers.WithLogger(log),
		peers.WithMetrics(peers.MetricsConfig{Registry: prometheus.DefaultRegisterer, Namespace: "bot"}),
	)
	if err != nil {
		return errm.Wrap(err, "new peers")
	}
	p.Start()

	if addr := os.Getenv("PEERS_METRICS_ADDR"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux}
		ctx.Add(srv.Shutdown)

		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(err, "metrics server")
			}
		}()
	}

	return nil
}
