// Package handlers implements the HTTP surface of the connection and
// messaging API.
//
// Every endpoint answers through the helpers in this file so that success
// bodies and error envelopes keep one shape across the whole API. Error
// envelopes always carry a stable machine-readable code (errors.go) next to
// the human-readable message, plus the request ID when the middleware minted
// one:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "already_resolved",
//	  "message": "connection request already resolved"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-connect-backend/internal/http/middleware"
)

// ErrorResponse is the error envelope every failing endpoint returns.
// RequestID echoes the X-Request-ID response header so a client report can
// be matched to server logs; Code is one of the errors.go constants.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Code      string `json:"code" example:"not_connected"`
	Message   string `json:"message" example:"users are not connected"`
}

// fail writes the error envelope and aborts the chain. Statuses at or above
// 500 additionally go to the request-scoped logger; client errors are the
// caller's problem and stay out of the error log.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail exposes fail to the router for its 404 and 405 fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes body as the JSON success response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
