package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kadro.org/internal/audit"
	"kadro.org/internal/auth"
	"kadro.org/internal/blob"
	"kadro.org/internal/config"
	"kadro.org/internal/httpapi"
	"kadro.org/internal/obs"
	"kadro.org/internal/retention"
	"kadro.org/internal/store/pg"
	"kadro.org/internal/stream"
)

var version = "0.3.1"

func main() {
	configPath := flag.String("config", os.Getenv("KADRO_CONFIG"), "path to YAML config")
	flag.Parse()

	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("KADRO_COMMIT"))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Хранилище: Postgres, если задан DSN, иначе in-memory (dev-режим)
	var (
		docs     retention.DocumentStore
		policies retention.PolicyStore
		jobs     retention.JobStore
		ready    httpapi.ReadyProbe
	)
	if cfg.Postgres.DSN != "" {
		store, err := pg.Open(cfg.Postgres.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		docs, policies, jobs = store, store, store
		ready = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		log.Println("KADRO_PG_DSN is empty, using in-memory stores")
		mem := retention.NewInMemory()
		docs, policies, jobs = mem, mem, mem
	}

	// Blob-хранилище документов
	var blobs retention.BlobStore
	switch cfg.Blob.Driver {
	case "s3":
		s3, err := blob.NewS3(context.Background(), cfg.Blob.S3)
		if err != nil {
			log.Fatalf("blob s3: %v", err)
		}
		blobs = s3
	default:
		blobs = blob.NewMemory()
	}

	sink := audit.NewRecorder()
	events := stream.New()
	gate := retention.NewLegalHoldGate(docs, sink, events)

	orch := retention.NewOrchestrator(docs, policies, jobs, retention.NewLocalRegistry(), sink, events,
		retention.OrchestratorConfig{
			Workers:       cfg.Retention.Workers,
			ProgressEvery: cfg.Retention.ProgressEvery,
		})
	defer orch.Close()

	exec := retention.NewExecutor(docs, policies, blobs, gate, sink, events,
		retention.ExecutorConfig{
			DeleteTimeout:    cfg.Retention.DeleteTimeout(),
			DeletesPerSecond: cfg.Retention.DeletesPerSecond,
			BatchLimit:       cfg.Retention.ExecBatchLimit,
		})

	sched := retention.NewScheduler(orch, exec, retention.SchedulerConfig{
		ApplySchedule:   cfg.Retention.ApplySchedule,
		ExecuteSchedule: cfg.Retention.ExecuteSchedule,
	})
	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	if err := sched.Start(schedCtx); err != nil {
		log.Fatalf("scheduler: %v", err)
	}

	// HTTP API
	api := httpapi.New(httpapi.Options{
		Ready:      ready,
		Version:    version,
		Policies:   policies,
		Jobs:       jobs,
		Orch:       orch,
		Exec:       exec,
		Gate:       gate,
		Stream:     events,
		Auth:       auth.NewService(cfg.Auth.Secret, cfg.Auth.Issuer),
		RateBurst:  cfg.HTTP.RateLimitBurst,
		RatePerSec: cfg.HTTP.RateLimitPerSec,
		MaxBody:    cfg.HTTP.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           api.Handler(), // уже обёрнут метриками в httpapi
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second, // SSE держит соединение дольше обычного
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting kadro-retention %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	sched.Stop()
	schedCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
