package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/webcanary/webcanary/internal/alarming/auditlog"
	"github.com/webcanary/webcanary/internal/alarming/reconciler"
	"github.com/webcanary/webcanary/internal/config"
	"github.com/webcanary/webcanary/internal/database"
	"github.com/webcanary/webcanary/internal/middleware"
	"github.com/webcanary/webcanary/internal/monitoring/probe"
	"github.com/webcanary/webcanary/internal/monitoring/publish"
	"github.com/webcanary/webcanary/internal/monitoring/scheduler"
	"github.com/webcanary/webcanary/internal/registry"
	registryapi "github.com/webcanary/webcanary/internal/registry/api"
	"github.com/webcanary/webcanary/internal/registry/feed"
)

func main() {
	log.Info().Msg("starting webcanary")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	db, err := database.New(cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("database init failed")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("schema init failed")
	}

	targets := registry.NewPgStore(db)
	if err := seedTargets(ctx, targets, cfg.Seeds); err != nil {
		log.Error().Err(err).Msg("seeding targets failed")
	}

	// metrics store + publisher
	metricStore := publish.NewPromStore(cfg.Alarming.Namespace)
	publisher := publish.NewPublisher(metricStore, cfg.Alarming.Namespace)

	// reconciler behind the change feed
	alarms := reconciler.NewPgAlarmStore(db)
	dashboard := reconciler.NewPgDashboard(db, metricStore, cfg.Alarming.DashboardName)
	rec := reconciler.New(alarms, dashboard, reconciler.Defaults{
		Namespace:             cfg.Alarming.Namespace,
		EvalWindow:            config.Duration(cfg.Alarming.EvalWindow, 5*time.Minute),
		AvailabilityThreshold: cfg.Alarming.AvailabilityThreshold,
		AvailabilityPeriods:   cfg.Alarming.AvailabilityPeriods,
		AvailabilityBreaches:  cfg.Alarming.AvailabilityBreaches,
		AdaptivePeriods:       cfg.Alarming.AdaptivePeriods,
		AdaptiveBreaches:      cfg.Alarming.AdaptiveBreaches,
		DeviationFactor:       cfg.Alarming.DeviationFactor,
	})

	dispatcher := feed.NewDispatcher(rec, cfg.Feed.Shards, cfg.Feed.Buffer)
	dispatcher.Start(ctx)
	poller := &feed.Poller{
		DB:         db,
		Dispatcher: dispatcher,
		Batch:      cfg.Feed.Batch,
		Interval:   config.Duration(cfg.Feed.Interval, 5*time.Second),
	}
	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		poller.Run(ctx)
	}()

	// probe scheduler
	sched := scheduler.New(scheduler.Deps{
		Targets:        targets,
		Prober:         probe.NewHTTPProber(config.Duration(cfg.Monitoring.ProbeTimeout, 10*time.Second)),
		Publisher:      publisher,
		Interval:       config.Duration(cfg.Monitoring.Interval, 5*time.Minute),
		Workers:        cfg.Monitoring.Workers,
		PublishRetries: cfg.Monitoring.PublishRetries,
		PublishBackoff: config.Duration(cfg.Monitoring.PublishBackoff, 2*time.Second),
	})
	go sched.Run(ctx)

	// alarm notification audit log
	recorder := auditlog.NewRecorder(auditlog.NewPgDAO(db), auditlog.NewRedisCache(newRedisClient(&cfg.Redis)))

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.Authentication)
	registryapi.NewApi(router, targets)
	auditlog.RegisterWebhookRoutes(router, auditlog.NewHandler(recorder))
	router.GET("/metrics", gin.WrapH(metricStore.Handler()))

	srv := &http.Server{Addr: cfg.Server.BindAddr, Handler: router}
	go func() {
		log.Info().Msgf("listening on %s", cfg.Server.BindAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	// the poller must stop enqueueing before the shard channels close
	<-pollerDone
	// drain events already handed to the reconciler before exit
	dispatcher.Close()
	log.Info().Msg("webcanary exit")
}

func newRedisClient(c *config.RedisConfig) *redis.Client {
	if c == nil || c.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
}

// seedTargets creates the configured bootstrap targets that do not exist
// yet, matched by name.
func seedTargets(ctx context.Context, store registry.Store, seeds []config.SeedTarget) error {
	if len(seeds) == 0 {
		return nil
	}
	existing, err := store.List(ctx)
	if err != nil {
		return err
	}
	byName := map[string]struct{}{}
	for _, t := range existing {
		byName[t.Name] = struct{}{}
	}
	for _, seed := range seeds {
		if _, ok := byName[seed.Name]; ok {
			continue
		}
		enabled := true
		if seed.Enabled != nil {
			enabled = *seed.Enabled
		}
		if _, err := store.Create(ctx, seed.Name, seed.URL, enabled); err != nil {
			log.Error().Err(err).Str("name", seed.Name).Msg("seed target failed")
			continue
		}
		log.Info().Str("name", seed.Name).Msg("seed target created")
	}
	return nil
}
