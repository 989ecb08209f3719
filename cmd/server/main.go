package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"converge/internal/outbox"
	"converge/internal/platform/config"
	"converge/internal/platform/httpserver"
	"converge/internal/platform/jwttoken"
	"converge/internal/platform/logger"
	"converge/internal/platform/middleware"
	platformredis "converge/internal/platform/redis"
	"converge/internal/registry"
	"converge/internal/ubo/handler"
	"converge/internal/ubo/metrics"
	"converge/internal/ubo/models"
	"converge/internal/ubo/service"
	"converge/internal/ubo/store/postgres"
	"converge/internal/ubo/workflow"
	"converge/internal/workstream"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	db, err := sql.Open("postgres", cfg.DatabaseDSN)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	var resolver registry.Resolver = registry.NewPostgresResolver(db)
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		resolver = registry.NewCachedResolver(resolver, redisClient.Client, cfg.RegistryCacheTTL, log)
	}

	svc, err := service.New(
		postgres.New(db),
		resolver,
		workstream.NewPostgresPort(db),
		service.WithLogger(log),
		service.WithMetrics(metrics.New()),
		service.WithPolicy(riskPolicy(cfg.Risk)),
	)
	if err != nil {
		log.Error("failed to build service", "error", err)
		os.Exit(1)
	}

	jwtService := jwttoken.NewService(cfg.JWTSigningKey, "converge", "converge-api")
	h := handler.New(svc, workflow.NewRunner(svc), log)

	router := chi.NewRouter()
	router.Use(middleware.RequestMeta)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(jwtService, log))
		h.Register(r)
	})

	srv := httpserver.New(cfg.Addr, router)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(rootCtx)

	group.Go(func() error {
		log.Info("starting converge server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := outbox.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			log.Error("failed to build kafka publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		worker := outbox.NewWorker(db, publisher, cfg.Kafka.PollInterval, outbox.WithLogger(log))
		group.Go(func() error {
			log.Info("starting outbox relay", "topic", cfg.Kafka.AuditTopic)
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		log.Warn("no kafka brokers configured; outbox relay disabled")
	}

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func riskPolicy(cfg config.RiskConfig) models.RiskPolicy {
	return models.RiskPolicy{
		HardStopWeight:     cfg.HardStopWeight,
		EscalateWeight:     cfg.EscalateWeight,
		SoftWeight:         cfg.SoftWeight,
		ExpiredProofWeight: cfg.ExpiredProofWeight,
		MissingProofWeight: cfg.MissingProofWeight,
		DisputedWeight:     cfg.DisputedWeight,
		EscalateCountLimit: cfg.EscalateCountLimit,
		ScoreLimit:         cfg.ScoreLimit,
		UBOThresholdPct:    cfg.UBOThresholdPct,
		PercentTolerance:   cfg.PercentTolerance,
	}
}
