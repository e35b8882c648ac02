// Command agentd runs the capability synchronization agent: a local HTTP
// surface over the reconcile-then-register core, with pluggable record
// storage and an optional kafka audit sink.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"capsync/internal/auth"
	"capsync/internal/capability/client"
	"capsync/internal/capability/handler"
	"capsync/internal/capability/metrics"
	"capsync/internal/capability/reconciler"
	"capsync/internal/capability/retry"
	"capsync/internal/capability/service"
	"capsync/internal/capability/store"
	"capsync/internal/platform/config"
	"capsync/internal/platform/httpserver"
	"capsync/internal/platform/logger"
	platformredis "capsync/internal/platform/redis"
	audit "capsync/pkg/platform/audit"
	auditkafka "capsync/pkg/platform/audit/publishers/kafka"
	auditmem "capsync/pkg/platform/audit/store/memory"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Upstream.BaseURL == "" {
		log.Error("CAPSYNC_ACCOUNT_URL is required")
		os.Exit(1)
	}

	tokens, err := buildTokenSource(cfg)
	if err != nil {
		log.Error("configure token source", "error", err.Error())
		os.Exit(1)
	}

	registrationClient, err := client.New(cfg.Upstream.BaseURL, tokens,
		client.WithHTTPClient(&http.Client{Timeout: cfg.Upstream.Timeout}))
	if err != nil {
		log.Error("configure registration client", "error", err.Error())
		os.Exit(1)
	}

	registrar := retry.New(registrationClient, retry.Config{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
	}, retry.WithLogger(log))

	recordStore, cleanup, err := buildRecordStore(ctx, cfg)
	if err != nil {
		log.Error("configure record store", "error", err.Error())
		os.Exit(1)
	}
	defer cleanup()

	publisher, closePublisher, err := buildAuditPublisher(ctx, cfg, log)
	if err != nil {
		log.Error("configure audit publisher", "error", err.Error())
		os.Exit(1)
	}
	defer closePublisher()

	svc, err := service.New(recordStore, registrar,
		service.WithLogger(log),
		service.WithMetrics(metrics.New()),
		service.WithAuditPublisher(publisher),
		service.WithReconciler(reconciler.New(reconciler.WithRecordTTL(cfg.Store.RecordTTL))),
	)
	if err != nil {
		log.Error("configure synchronizer", "error", err.Error())
		os.Exit(1)
	}

	router := chi.NewRouter()
	handler.New(svc, log).Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := httpserver.New(cfg.Server.Addr, router)

	log.Info("starting capsync agent",
		"addr", cfg.Server.Addr,
		"store", cfg.Store.Backend,
		"account_url", cfg.Upstream.BaseURL,
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err.Error())
	}
}

func buildTokenSource(cfg config.Config) (client.TokenSource, error) {
	if cfg.Upstream.SigningKey != "" {
		return auth.NewServiceTokenSource(
			cfg.Upstream.SigningKey,
			cfg.Upstream.Issuer,
			cfg.Upstream.Audience,
			cfg.Upstream.Subject,
			cfg.Upstream.TokenTTL,
		)
	}
	return auth.NewStaticTokenSource(cfg.Upstream.Token), nil
}

func buildRecordStore(ctx context.Context, cfg config.Config) (store.RecordStore, func(), error) {
	switch cfg.Store.Backend {
	case "redis":
		rc, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		if rc == nil {
			return nil, nil, fmt.Errorf("redis store selected but CAPSYNC_REDIS_URL is not set")
		}
		return store.NewRedisStore(rc.Client), func() { _ = rc.Close() }, nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		if _, err := db.ExecContext(ctx, store.Schema); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store.NewPostgresStore(db), func() { _ = db.Close() }, nil

	default:
		return store.NewInMemoryStore(), func() {}, nil
	}
}

func buildAuditPublisher(ctx context.Context, cfg config.Config, log *slog.Logger) (*audit.Publisher, func(), error) {
	sinks := []audit.Sink{auditmem.NewInMemoryStore()}

	var kafkaSink *auditkafka.Sink
	if len(cfg.Kafka.Brokers) > 0 {
		var err error
		kafkaSink, err = auditkafka.NewSink(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic,
			auditkafka.WithLogger(log))
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, kafkaSink)
	}

	publisher := audit.NewPublisher(sinks,
		audit.WithAsyncBuffer(256),
		audit.WithPublisherLogger(log),
	)

	closeAll := func() {
		publisher.Close()
		if kafkaSink != nil {
			kafkaSink.Close()
		}
	}
	return publisher, closeAll, nil
}
