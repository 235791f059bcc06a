package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nocodo/nocodo/backend/internal/providers/bash"
)

// ExecRequest is the body of POST /exec.
type ExecRequest struct {
	Command       string `json:"command" binding:"required"`
	TimeoutMs     int64  `json:"timeout_ms"`
	WorkingDirRef string `json:"working_dir_ref"`
}

// Exec runs one bash command and returns its result. Denied commands and
// path escapes are reported as 403 and 400; a command that ran is 200 even
// when it failed or timed out.
func (h *Handlers) Exec(c *gin.Context) {
	var req ExecRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.TimeoutMs < 0 {
		badRequest(c, "timeout_ms must not be negative")
		return
	}

	res := h.executor.Run(c.Request.Context(), bash.ExecutionRequest{
		Command:    req.Command,
		WorkingDir: req.WorkingDirRef,
		Timeout:    time.Duration(req.TimeoutMs) * time.Millisecond,
	})
	if res.Err != nil {
		h.fail(c, res.Err)
		return
	}
	c.JSON(http.StatusOK, res)
}
