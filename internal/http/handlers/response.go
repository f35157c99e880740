// Package handlers implements the HTTP endpoints of the script catalog.
//
// Every failure is written as an ErrorResponse envelope with a stable code
// from errors.go; clients branch on the code, not the message. Success
// bodies are plain JSON objects, e.g.
//
//	{ "script_id": "141add05-...", "like_count": 3 }
//	{ "detail": "Script has been deleted due to too many downvotes" }
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-script-catalog/internal/http/middleware"
)

// ErrorResponse is the error envelope returned by every endpoint.
type ErrorResponse struct {
	// Echo of X-Request-ID, for matching client reports to server logs.
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Machine-readable code (see errors.go).
	Code string `json:"code" example:"duplicate_vote"`
	// Human-readable message, safe to display.
	Message string `json:"message" example:"vote already recorded for this origin"`
}

// fail aborts with the envelope. Server errors are logged with the request
// logger; client errors are left to the access log.
func fail(c *gin.Context, status int, code, msg string) { failWith(c, status, code, msg, nil) }

// failWith is fail with a cause that is logged but never sent to the client.
func failWith(c *gin.Context, status int, code, msg string, cause error) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Err(cause).
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

// Fail exposes fail to the router (fallback routes).
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) { c.JSON(status, body) }

func noContent(c *gin.Context) { c.Status(http.StatusNoContent) }
