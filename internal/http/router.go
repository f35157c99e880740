// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, compression, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-script-catalog/docs"
	"github.com/tbourn/go-script-catalog/internal/config"
	"github.com/tbourn/go-script-catalog/internal/http/handlers"
	"github.com/tbourn/go-script-catalog/internal/http/middleware"
	"github.com/tbourn/go-script-catalog/internal/llm"
	"github.com/tbourn/go-script-catalog/internal/notify"
	"github.com/tbourn/go-script-catalog/internal/repo"
	"github.com/tbourn/go-script-catalog/internal/services"
)

// defaultBodyLimit caps JSON bodies; uploads get MaxUploadBytes plus framing.
const defaultBodyLimit = 1 << 20

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the versioned public API under cfg.APIBasePath.
//
// ex may be nil, in which case uploads answer 503. hub may be nil, in which
// case fulfillment notifies nobody and the websocket endpoint answers 503.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator on uploads (before the limiter to allow bypass on replay)
//  8. Rate limiter (per origin)
//  9. CORS and Security headers
//  10. Gzip (optional, never for the websocket)
func RegisterRoutes(r *gin.Engine, db *gorm.DB, ex llm.Extractor, hub *notify.Broadcaster, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	// Voter identity is the client address; forwarded headers count only
	// when they come from a configured proxy.
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Warn().Err(err).Msg("invalid trusted proxies; using the socket peer")
		_ = r.SetTrustedProxies(nil)
	}
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	wsPath := joinPath(apiBase, "/ws/notifications")

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit, raised to fit uploads
	bodyLimit := int64(defaultBodyLimit)
	if up := cfg.MaxUploadBytes + 64<<10; up > bodyLimit {
		bodyLimit = up
	}
	r.Use(limitBody(bodyLimit))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation on uploads (before rate limiting so replays bypass it)
	uploadIdem := middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			Scope:  handlers.UploadScope,
			MaxLen: 200,
		},
		func(ctx context.Context, origin, scope, key string, now time.Time) (bool, error) {
			_, err := repo.GetIdempotency(ctx, db, origin, scope, key, now)
			switch {
			case err == nil:
				return true, nil
			case errors.Is(err, repo.ErrNotFound):
				return false, nil
			default:
				return false, err
			}
		},
	)
	uploadPath := joinPath(apiBase, "/scripts/upload")
	r.Use(func(c *gin.Context) {
		if c.FullPath() == uploadPath {
			uploadIdem(c)
			return
		}
		c.Next()
	})

	// 8) Token-bucket rate limiter per origin
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByOrigin())
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match", middleware.HeaderIdempotencyKey}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// 10) Response compression
	if cfg.GzipEnabled {
		r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{wsPath, "/metrics"})))
	}

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// API docs
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = apiBase
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/extractor/hub
	var notifier services.Notifier
	var subscriber handlers.Subscriber
	if hub != nil {
		notifier, subscriber = hub, hub
	}
	requests := services.NewRequestService(db, notifier)
	scripts := services.NewScriptService(db, ex, requests)
	scripts.Retry = services.RetryPolicy{Attempts: cfg.LLM.Attempts}
	scripts.RecentWindow = cfg.RecentWindow
	scripts.TrendingMinLikes = cfg.TrendingMinLikes
	idem := repo.IdempotencyStore{DB: db, TTL: cfg.IdempotencyTTL}

	h := handlers.New(handlers.Deps{
		Scripts:     scripts,
		Votes:       services.NewVoteService(db, cfg.ModerationThreshold),
		Requests:    requests,
		Analytics:   &services.AnalyticsService{DB: db, RecentWindow: cfg.RecentWindow},
		Hub:         subscriber,
		Idempotency: idem,
	})
	h.MaxUploadBytes = cfg.MaxUploadBytes
	h.WSReadLimit = cfg.WSReadLimit
	h.WSPongWait = cfg.WSPongWait

	// Public API
	api := groupWithPrefix(r, apiBase)
	{
		// Scripts
		api.POST("/scripts/upload", h.UploadScript)
		api.POST("/scripts", h.CreateScript)
		api.GET("/scripts", h.ListScripts)
		api.GET("/scripts/search", h.SearchScripts)
		api.GET("/scripts/recent", h.RecentScripts)
		api.GET("/scripts/trending", h.TrendingScripts)
		api.GET("/scripts/:id", h.GetScript)
		api.PUT("/scripts/:id", h.UpdateScript)
		api.DELETE("/scripts/:id", h.DeleteScript)
		api.GET("/tags", h.ListTags)

		// Votes
		api.POST("/scripts/:id/like", h.LikeScript)
		api.POST("/scripts/:id/downvote", h.DownvoteScript)
		api.GET("/scripts/:id/likes", h.ScriptLikes)
		api.GET("/scripts/:id/downvotes", h.ScriptDownvotes)

		// Analytics
		api.GET("/analytics", h.Analytics)

		// Script requests
		api.POST("/requests", h.CreateRequest)
		api.GET("/requests", h.ListRequests)
		api.PUT("/requests/:id/fulfill", h.FulfillRequest)

		// Notifications
		api.GET("/ws/notifications", h.Notifications)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// joinPath appends p to the API prefix, treating "/" (or empty) as root.
func joinPath(prefix, p string) string {
	if prefix == "" || prefix == "/" {
		return p
	}
	return prefix + p
}
