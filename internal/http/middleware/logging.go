// Package middleware holds the Gin middleware shared across the HTTP layer:
// correlation IDs, structured access logging, panic recovery, rate limiting,
// idempotency-key validation, metrics, and security headers.
//
// This file covers the logging backbone. The intended chain order is
// RequestID, then Logger (or RedactingLogger), then Recovery, so panics and
// error responses always carry the correlation ID. A request-scoped
// zerolog.Logger is stashed in the Gin context under "logger"; handlers and
// services retrieve it through LoggerFrom to add their own fields, e.g.
// lg.Info().Str("conversation_id", cv.ID).Msg("page served").
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// requestIDKey is the Gin context key holding the correlation ID.
	requestIDKey = "requestID"
	// requestIDHeader propagates the correlation ID on both directions.
	requestIDHeader = "X-Request-ID"
	// queryLogCap bounds how many bytes of the raw query string get logged.
	queryLogCap = 2048
)

// RequestID reuses the caller's X-Request-ID when present and otherwise mints
// a UUIDv4, then mirrors the value onto the response header and the Gin
// context. Runs first in the chain so every later log line can correlate.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Logger emits one structured access-log line per request and plants the
// request-scoped logger in the context for downstream enrichment.
//
// The line carries method, matched route (raw path on 404), client IP,
// user agent, referer, capped query string, correlation and user IDs, sizes,
// status, and latency. Level follows the outcome: error for 5xx or collected
// Gin errors, warn for 4xx, info otherwise.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid, _ := c.Get(requestIDKey)
		uid, _ := c.Get("userID")
		path := c.FullPath()
		if path == "" {
			// Unmatched route; fall back to what the client sent.
			path = c.Request.URL.Path
		}

		l := log.With().
			Str("request_id", ctxString(rid)).
			Str("user_id", ctxString(uid)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("referer", c.Request.Referer()).
			Str("query", clip(c.Request.URL.RawQuery, queryLogCap)).
			Int64("bytes_in", c.Request.ContentLength).
			Logger()

		c.Set("logger", &l)

		c.Next()

		out := l.With().
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size()).
			Logger()

		switch status := c.Writer.Status(); {
		case len(c.Errors) > 0:
			out.Error().Str("errors", c.Errors.String()).Msg("request")
		case status >= 500:
			out.Error().Msg("request")
		case status >= 400:
			out.Warn().Msg("request")
		default:
			out.Info().Msg("request")
		}
	}
}

// Recovery turns panics into logged JSON 500 responses. The stack trace and
// panic value go to the log with the correlation ID; the client receives the
// standard error envelope unless a response was already partially written.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				rid, _ := c.Get(requestIDKey)
				log.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("request_id", ctxString(rid)).
					Msg("panic recovered")

				if !c.Writer.Written() {
					c.Header("Content-Type", "application/json")
					c.Header(requestIDHeader, ctxString(rid))
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"request_id": ctxString(rid),
						"code":       "internal_error",
						"message":    "internal server error",
					})
					return
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger planted by Logger or
// RedactingLogger, or an unscoped fallback when none is present. The result
// is never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get("logger"); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// ctxString unwraps a context value as a string, empty for anything else.
func ctxString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// clip bounds s to max bytes for logging, appending an ellipsis when cut.
// Byte-level truncation is fine here; the value is only ever logged.
func clip(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
