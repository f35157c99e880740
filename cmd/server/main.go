// Command server runs the script catalog HTTP API: script upload and
// metadata extraction, search, likes/downvotes with moderation, script
// requests, and the websocket notification channel.
//
//	@title			Script Catalog API
//	@version		1.0
//	@description	Upload, search, rank and moderate scripts.
//	@BasePath		/api/v1
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-script-catalog/internal/config"
	httpapi "github.com/tbourn/go-script-catalog/internal/http"
	"github.com/tbourn/go-script-catalog/internal/llm"
	"github.com/tbourn/go-script-catalog/internal/notify"
	"github.com/tbourn/go-script-catalog/internal/observability"
	"github.com/tbourn/go-script-catalog/internal/repo"
	"github.com/tbourn/go-script-catalog/internal/sysutil"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.ConfigureLogging(cfg.LogLevel, cfg.LogPretty, os.Stderr)
	version := sysutil.Version()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("opentelemetry setup failed")
	}

	db, err := repo.Open(cfg.DB.Driver, cfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}
	if cfg.OTEL.Enabled {
		if err := repo.UseTracing(db); err != nil {
			log.Warn().Err(err).Msg("gorm tracing plugin not registered")
		}
	}

	var extractor llm.Extractor
	if cfg.LLM.APIKey != "" {
		extractor = llm.NewGeminiExtractor(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Endpoint, cfg.LLM.Timeout)
	} else {
		log.Warn().Msg("GEMINI_API_KEY not set; uploads are disabled")
	}

	hub := notify.NewBroadcaster(notify.WithSendTimeout(cfg.BroadcastSendTimeout))

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, extractor, hub, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", version).
			Str("db_driver", cfg.DB.Driver).
			Int64("moderation_threshold", cfg.ModerationThreshold).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server error")
		}
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by http.Server.
	hub.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("server stopped")
}
