// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// RedactingLogger is the access logger. It attaches a request-scoped zerolog
// logger (request id, method, route, masked origin) for handlers and
// services, then writes one "http_request" line per request with scrubbed
// query string and headers. Bodies are never logged; uploaded scripts and
// LLM prompts stay out of the logs.
package middleware

import (
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxQueryLogLength = 1024

var (
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits only, so hex ids are left alone.
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
	tokenRE = regexp.MustCompile(`(?i)\b(key|token|api_key|apikey|secret)=[^&\s]+`)
)

// alwaysMasked are headers whose values are never logged.
var alwaysMasked = []string{
	"Authorization",
	"Cookie",
	"Set-Cookie",
	"X-Goog-Api-Key",
	"Sec-WebSocket-Key",
}

// RedactOptions configures RedactingLogger.
type RedactOptions struct {
	// MaskHeaders lists extra headers (case-insensitive) to replace with
	// "[REDACTED]".
	MaskHeaders []string
	// KeepOrigin logs the caller origin verbatim instead of masking the
	// host part of the address.
	KeepOrigin bool
}

type redactor struct {
	masked     map[string]struct{}
	keepOrigin bool
}

func newRedactor(opts RedactOptions) *redactor {
	r := &redactor{masked: make(map[string]struct{}), keepOrigin: opts.KeepOrigin}
	for _, h := range append(alwaysMasked, opts.MaskHeaders...) {
		if h = strings.TrimSpace(h); h != "" {
			r.masked[http.CanonicalHeaderKey(h)] = struct{}{}
		}
	}
	return r
}

// text scrubs credentials, emails and phone numbers from s.
func (r *redactor) text(s string) string {
	if s == "" {
		return s
	}
	s = tokenRE.ReplaceAllString(s, "$1=[REDACTED]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

func (r *redactor) headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := r.masked[http.CanonicalHeaderKey(k)]; ok {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = r.text(strings.Join(vv, ", "))
	}
	return out
}

func (r *redactor) origin(o string) string {
	if r.keepOrigin {
		return o
	}
	return maskIP(o)
}

// maskIP zeroes the host part of an address: the last octet of IPv4 and the
// last 80 bits of IPv6. Non-IP origins are returned unchanged.
func maskIP(s string) string {
	ip := net.ParseIP(s)
	if ip == nil {
		return s
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String()
	}
	return ip.Mask(net.CIDRMask(48, 128)).String()
}

// RedactingLogger returns the access-log middleware.
//
// The final line is logged at error level for 5xx or when handlers attached
// gin errors, warn for 4xx, and info otherwise.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	red := newRedactor(opts)

	return func(c *gin.Context) {
		start := time.Now()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		scoped := log.With().
			Str("request_id", RequestIDFrom(c)).
			Str("method", c.Request.Method).
			Str("path", route).
			Str("origin", red.origin(OriginFrom(c))).
			Logger()
		c.Set(loggerKey, &scoped)

		query := red.text(truncate(c.Request.URL.RawQuery, maxQueryLogLength))
		headers := red.headers(c.Request.Header)

		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case len(c.Errors) > 0:
			ev = scoped.Error().Str("errors", c.Errors.String())
		case status >= http.StatusInternalServerError:
			ev = scoped.Error()
		case status >= http.StatusBadRequest:
			ev = scoped.Warn()
		default:
			ev = scoped.Info()
		}
		ev.Str("query", query).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Int64("bytes_in", c.Request.ContentLength).
			Dur("latency", time.Since(start)).
			Bool("websocket", c.IsWebsocket()).
			Interface("headers", headers).
			Msg("http_request")
	}
}

// truncate cuts s to max bytes and appends an ellipsis; max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
