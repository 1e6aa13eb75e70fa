package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"conductor/extract"
	"conductor/internal/config"
	"conductor/internal/httpapi"
	"conductor/internal/inspect"
	"conductor/internal/logging"
	"conductor/internal/store"
	"conductor/internal/supervisor"
	"conductor/internal/telemetry"

	_ "conductor/sink/database"
	_ "conductor/sink/file"
	_ "conductor/sink/forward"
)

func main() {
	logging.InitFromEnv()

	cfg, err := config.Load(os.Getenv("CONDUCTOR_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.LogLevel != "" {
		logging.Configure(logging.Options{Level: cfg.LogLevel, JSON: os.Getenv("LOG_JSON") == "true"})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	extract.Register("sarama", func() extract.Client { return &extract.SaramaClient{} })
	extract.Register("franz", func() extract.Client { return &extract.FranzClient{} })

	var st store.Store
	if cfg.DatabaseURL != "" {
		if st, err = store.OpenGorm(cfg.DatabaseURL); err != nil {
			log.Fatalf("store: %v", err)
		}
	} else {
		st = store.NewMemory()
	}

	sup, err := supervisor.New(st, supervisor.Options{
		Driver:      cfg.KafkaDriver,
		PollTimeout: cfg.PollTimeout(),
		StopTimeout: cfg.StopTimeout(),
	})
	if err != nil {
		log.Fatalf("supervisor: %v", err)
	}

	insp := inspect.New(cfg.BootstrapServers(), cfg.InspectorTimeout())

	telemetry.Expose(cfg.MetricsPort)

	srv := httpapi.New(sup, insp)
	if err := srv.Run(ctx, cfg.HTTPPort); err != nil {
		log.Fatalf("http: %v", err)
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.StopTimeout())
	defer cancel()
	if err := sup.Shutdown(sctx); err != nil {
		logging.L().Error("shutdown: supervisor teardown failed", "err", err)
	}
	logging.L().Info("service shutdown complete")
}
