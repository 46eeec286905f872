package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bracket_tracker/ingestion/internal/api"
	"bracket_tracker/ingestion/internal/app"
	"bracket_tracker/ingestion/internal/config"
	"bracket_tracker/ingestion/internal/metrics"
	"bracket_tracker/ingestion/internal/repository"
	"bracket_tracker/ingestion/internal/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var version = "dev"

func main() {
	// Load configuration
	cfg := config.MustLoad()
	app.SetupLogger(cfg.AppEnv, cfg.LogLevel)

	log.Info().
		Str("version", version).
		Str("env", cfg.AppEnv).
		Str("store", cfg.StoreDriver).
		Msg("Starting bracket ingestion worker")

	// Create context that is cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := app.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer closeStore()
	log.Info().Msg("Store ready")

	redisCache := app.OpenCache(cfg)
	if redisCache != nil {
		defer redisCache.Close()
		log.Info().Msg("Redis cache connected")
	}

	feed := app.NewFeed(cfg)
	rec := app.NewReconciler(cfg, feed, st)

	var opts []scheduler.Option
	if redisCache != nil {
		opts = append(opts, scheduler.WithCache(redisCache), scheduler.WithLease(redisCache))
	}
	sched := scheduler.NewScheduler(cfg, rec, st.Teams(), opts...)

	if cfg.EnableScheduler {
		if err := sched.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start scheduler")
		}
	} else {
		log.Info().Msg("Scheduler disabled")
	}

	deps := api.Deps{
		Teams:         st.Teams(),
		Store:         st,
		CacheTTL:      time.Duration(cfg.CacheTTLTeams) * time.Second,
		DefaultSeason: func() int { return sched.TrackedDate().Year() },
		Version:       version,

		AllowedOrigins: cfg.CORSAllowedOrigins,
	}
	if redisCache != nil {
		deps.Cache = redisCache
	}
	if cfg.EnableScheduler {
		deps.Poller = sched
	}

	mode := gin.ReleaseMode
	if cfg.IsDevelopment() {
		mode = gin.DebugMode
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           api.NewRouter(api.NewHandler(deps), mode),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	// Update system uptime and pool gauges
	startTime := time.Now()
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.SystemUptime.Set(time.Since(startTime).Seconds())
				if db, ok := st.(*repository.Database); ok {
					db.PoolStats()
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Keep running until a shutdown signal arrives
	<-ctx.Done()
	log.Info().Msg("Received shutdown signal, gracefully shutting down...")

	if cfg.EnableScheduler {
		sched.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Worker shutdown complete")
}
