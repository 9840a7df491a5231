// Package response writes the JSON envelope shared by every REST route:
// {"success": bool, "data": ..., "error": {"code", "message"}}.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes. They match the codes sent in websocket error events.
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeRateLimited  = "RATE_LIMITED"
	CodeInternal     = "INTERNAL_ERROR"
)

var statusByCode = map[string]int{
	CodeBadRequest:   http.StatusBadRequest,
	CodeUnauthorized: http.StatusUnauthorized,
	CodeForbidden:    http.StatusForbidden,
	CodeNotFound:     http.StatusNotFound,
	CodeConflict:     http.StatusConflict,
	CodeRateLimited:  http.StatusTooManyRequests,
	CodeInternal:     http.StatusInternalServerError,
}

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusFor returns the HTTP status for an error code. Unknown codes are 500.
func StatusFor(code string) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Success: true, Data: data})
}

// Fail writes an error envelope with the status implied by code.
func Fail(c *gin.Context, code, message string) {
	c.JSON(StatusFor(code), Response{
		Error: &ErrorInfo{Code: code, Message: message},
	})
}

func BadRequest(c *gin.Context, message string) { Fail(c, CodeBadRequest, message) }
func Unauthorized(c *gin.Context, message string) { Fail(c, CodeUnauthorized, message) }
func Forbidden(c *gin.Context, message string) { Fail(c, CodeForbidden, message) }
func NotFound(c *gin.Context, message string) { Fail(c, CodeNotFound, message) }
func TooManyRequests(c *gin.Context, message string) { Fail(c, CodeRateLimited, message) }
func InternalError(c *gin.Context, message string) { Fail(c, CodeInternal, message) }
