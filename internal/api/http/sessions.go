package http

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nocodo/nocodo/backend/internal/providers/terminal"
	"github.com/nocodo/nocodo/backend/internal/shared/id"
)

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	ToolName      string `json:"tool_name" binding:"required"`
	Cols          uint16 `json:"cols"`
	Rows          uint16 `json:"rows"`
	WorkingDirRef string `json:"working_dir_ref"`
}

// InputRequest is the body of POST /sessions/:id/input. Bytes are base64 in
// JSON.
type InputRequest struct {
	Bytes []byte `json:"bytes"`
}

// ResizeRequest is the body of POST /sessions/:id/resize.
type ResizeRequest struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// TranscriptResponse is returned by GET /sessions/:id/transcript.
type TranscriptResponse struct {
	SessionID string `json:"session_id"`
	Bytes     string `json:"bytes"`
	Truncated bool   `json:"truncated"`
}

// sessionID validates the :id parameter. Malformed ids are reported as
// unknown sessions.
func sessionID(c *gin.Context) (string, bool) {
	sid := c.Param("id")
	if !id.IsSessionID(sid) {
		c.JSON(http.StatusNotFound, gin.H{"error": terminal.ErrSessionNotFound.Error() + ": " + sid})
		return "", false
	}
	return sid, true
}

// CreateSession starts a tool on a new terminal.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	info, err := h.sessions.Create(c.Request.Context(), terminal.CreateRequest{
		ToolName:   req.ToolName,
		Cols:       req.Cols,
		Rows:       req.Rows,
		WorkingDir: req.WorkingDirRef,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"session_id": info.ID,
		"session":    info,
	})
}

// ListSessions lists sessions held in memory.
func (h *Handlers) ListSessions(c *gin.Context) {
	list := h.sessions.List()
	c.JSON(http.StatusOK, gin.H{
		"sessions": list,
		"count":    len(list),
	})
}

// GetSession returns one session.
func (h *Handlers) GetSession(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	info, err := h.sessions.Get(c.Request.Context(), sid)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// SessionInput writes bytes to the terminal.
func (h *Handlers) SessionInput(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	var req InputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.sessions.Input(sid, req.Bytes); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ResizeSession changes the terminal size.
func (h *Handlers) ResizeSession(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	var req ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.sessions.Resize(sid, req.Cols, req.Rows); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// TerminateSession asks the session to stop.
func (h *Handlers) TerminateSession(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	if err := h.sessions.Terminate(sid); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": sid, "status": "terminating"})
}

// SessionTranscript returns the retained output.
func (h *Handlers) SessionTranscript(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	data, truncated, err := h.sessions.Transcript(c.Request.Context(), sid)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, TranscriptResponse{
		SessionID: sid,
		Bytes:     base64.StdEncoding.EncodeToString(data),
		Truncated: truncated,
	})
}
