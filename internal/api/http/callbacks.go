package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codeexec/public-terminals/internal/auth"
	"github.com/codeexec/public-terminals/internal/terminal"
)

// Callback endpoints. Reports arrive from supervisors racing against
// deletion and reclamation; a report against an absorbing record is
// accepted with 200 and discarded, while an id the orchestrator never
// issued is rejected with 404.

type tunnelReport struct {
	TerminalID string `json:"terminal_id" binding:"required"`
	TunnelURL  string `json:"tunnel_url" binding:"required"`
}

type statusReport struct {
	TerminalID   string `json:"terminal_id" binding:"required"`
	Status       string `json:"status" binding:"required"`
	ErrorMessage string `json:"error_message"`
}

type healthReport struct {
	TerminalID string `json:"terminal_id" binding:"required"`
}

type statsReport struct {
	TerminalID  string  `json:"terminal_id" binding:"required"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes float64 `json:"memory_bytes"`
}

// TunnelCallback records the public URL reported by a supervisor.
func (h *Handlers) TunnelCallback(c *gin.Context) {
	var req tunnelReport
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "terminal_id and tunnel_url are required"})
		return
	}
	if !h.authorizeCallback(c, req.TerminalID) {
		return
	}
	if err := h.manager.ReportTunnel(c.Request.Context(), req.TerminalID, req.TunnelURL); err != nil {
		h.renderCallbackError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

// StatusCallback records a supervisor-reported failure. Only the failed
// status is accepted on this path; lifecycle progress arrives through the
// tunnel callback.
func (h *Handlers) StatusCallback(c *gin.Context) {
	var req statusReport
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "terminal_id and status are required"})
		return
	}
	if req.Status != string(terminal.StatusFailed) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only failed may be reported here"})
		return
	}
	if !h.authorizeCallback(c, req.TerminalID) {
		return
	}
	if err := h.manager.ReportFailure(c.Request.Context(), req.TerminalID, req.ErrorMessage); err != nil {
		h.renderCallbackError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

// HealthCallback refreshes liveness and tells the supervisor whether its
// terminal still exists.
func (h *Handlers) HealthCallback(c *gin.Context) {
	var req healthReport
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "terminal_id is required"})
		return
	}
	if !h.authorizeCallback(c, req.TerminalID) {
		return
	}
	active, err := h.manager.HealthPing(c.Request.Context(), req.TerminalID)
	if err != nil {
		h.renderCallbackError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": active})
}

// StatsCallback ingests a resource usage sample for the unit.
func (h *Handlers) StatsCallback(c *gin.Context) {
	var req statsReport
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "terminal_id is required"})
		return
	}
	if !h.authorizeCallback(c, req.TerminalID) {
		return
	}
	if err := h.manager.ReportStats(c.Request.Context(), req.TerminalID, req.CPUPercent, req.MemoryBytes); err != nil {
		h.renderCallbackError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

// IdleCallback records a self-initiated idle shutdown.
func (h *Handlers) IdleCallback(c *gin.Context) {
	var req healthReport
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "terminal_id is required"})
		return
	}
	if !h.authorizeCallback(c, req.TerminalID) {
		return
	}
	if err := h.manager.ReportIdle(c.Request.Context(), req.TerminalID); err != nil {
		h.renderCallbackError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

// authorizeCallback verifies the per-terminal bearer token. With no secret
// configured the check is disabled.
func (h *Handlers) authorizeCallback(c *gin.Context, terminalID string) bool {
	token := auth.ExtractBearer(c.GetHeader("Authorization"))
	if auth.Verify(h.secret, terminalID, token) {
		return true
	}
	h.log.Warn("callback rejected, bad token", zap.String("terminal_id", terminalID))
	c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid callback token"})
	return false
}

func (h *Handlers) renderCallbackError(c *gin.Context, err error) {
	if errors.Is(err, terminal.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown terminal"})
		return
	}
	h.log.Error("callback failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
