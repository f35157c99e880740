// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the request plumbing every other middleware leans on:
//
//   - RequestID() propagates or mints the X-Request-ID correlation id.
//   - Recovery() turns panics into the JSON error envelope.
//   - LoggerFrom() returns the request-scoped logger attached by
//     RedactingLogger, or the global logger outside a request.
//   - OriginFrom() / SetOrigin() expose the caller's network origin. The
//     origin is the voter identity for likes and downvotes and scopes
//     idempotency records and rate-limit buckets.
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	loggerKey       = "logger"
	originKey       = "origin"
	requestIDHeader = "X-Request-ID"

	// maxRequestIDLength bounds client-supplied ids; longer ones are replaced.
	maxRequestIDLength = 128
)

// RequestID reuses a sane client X-Request-ID or generates a UUIDv4, stores
// it in the context and echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" || len(rid) > maxRequestIDLength {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// RequestIDFrom returns the correlation id of the current request, or "".
func RequestIDFrom(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return c.Writer.Header().Get(requestIDHeader)
}

// Recovery converts a panic into a 500 with the standard error envelope and
// logs the stack through the request logger.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := RequestIDFrom(c)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", rid).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, falling back to the global
// one. The result is never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok && lg != nil {
			return lg
		}
	}
	return &log.Logger
}

// OriginFrom returns the caller's network origin: a value stored with
// SetOrigin when present, otherwise gin's ClientIP (which honors the
// engine's trusted proxies).
func OriginFrom(c *gin.Context) string {
	if v, ok := c.Get(originKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return c.ClientIP()
}

// SetOrigin overrides the origin for the rest of the chain.
func SetOrigin(c *gin.Context, origin string) { c.Set(originKey, origin) }
