package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nocodo/nocodo/backend/internal/domain/permission"
	"github.com/nocodo/nocodo/backend/internal/infrastructure/tracing"
	"github.com/nocodo/nocodo/backend/internal/providers/process"
	"github.com/nocodo/nocodo/backend/internal/providers/terminal"
	"go.uber.org/zap"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, permission.ErrDenied):
		return http.StatusForbidden
	case errors.Is(err, process.ErrPathEscape), errors.Is(err, terminal.ErrInvalidSize):
		return http.StatusBadRequest
	case errors.Is(err, terminal.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, terminal.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, terminal.ErrManagerClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("trace_id", string(tracing.GetTraceID(c.Request.Context()))),
			zap.Error(err))
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
