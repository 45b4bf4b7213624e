package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/medsched/clinic-scheduling/internal/api"
	"github.com/medsched/clinic-scheduling/internal/audit"
	"github.com/medsched/clinic-scheduling/internal/config"
	"github.com/medsched/clinic-scheduling/internal/db"
	"github.com/medsched/clinic-scheduling/internal/logger"
	"github.com/medsched/clinic-scheduling/internal/notify"
	redisclient "github.com/medsched/clinic-scheduling/internal/redis"
	"github.com/medsched/clinic-scheduling/internal/schedule"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.Timezone).Msg("invalid clinic timezone")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	migCtx, cancelMig := context.WithTimeout(rootCtx, 30*time.Second)
	err = db.Migrate(migCtx, pgPool)
	cancelMig()
	if err != nil {
		log.Fatal().Err(err).Msg("migration error")
	}
	log.Info().Msg("migrations applied")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	repo := schedule.NewPgRepository(pgPool)
	locker := redisclient.NewRedisProviderLocker(rdb, cfg.LockTTL)
	auditor := audit.NewPgRecorder(pgPool, log)
	publisher := notify.NewRedisPublisher(rdb, log)

	svc := schedule.NewService(repo, locker, auditor, publisher, cfg, tz, log)

	router := api.NewRouter(api.RouterConfig{
		Service:  svc,
		PgPool:   pgPool,
		Redis:    rdb,
		Timezone: tz,
		Logger:   log,
		Env:      cfg.Env,
		Version:  version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
