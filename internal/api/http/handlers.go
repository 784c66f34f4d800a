package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codeexec/public-terminals/internal/infrastructure/logging"
	"github.com/codeexec/public-terminals/internal/shared/id"
	"github.com/codeexec/public-terminals/internal/terminal"
)

const guestHeader = "X-Guest-ID"

// Handlers serves the public terminal API.
type Handlers struct {
	manager *terminal.Manager
	secret  string
	log     *logging.Logger
}

// NewHandlers creates the handler set. secret signs callback tokens; empty
// disables callback authentication.
func NewHandlers(manager *terminal.Manager, secret string, log *logging.Logger) *Handlers {
	return &Handlers{
		manager: manager,
		secret:  secret,
		log:     log.Named("api"),
	}
}

// Health reports process liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CreateTerminal registers a terminal and returns 202 immediately;
// provisioning proceeds in the background and readiness arrives through the
// record's status.
func (h *Handlers) CreateTerminal(c *gin.Context) {
	owner := c.GetHeader(guestHeader)

	t, err := h.manager.Create(c.Request.Context(), owner)
	if err != nil {
		h.log.Error("create terminal failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create terminal"})
		return
	}
	c.JSON(http.StatusAccepted, t)
}

// ListTerminals returns records matching the query filters, newest first.
// Soft-deleted records are excluded unless include_deleted is set.
func (h *Handlers) ListTerminals(c *gin.Context) {
	f := terminal.Filter{
		Owner:          c.Query("owner"),
		IncludeDeleted: c.Query("include_deleted") == "true",
	}
	if s := c.Query("status"); s != "" {
		status := terminal.Status(s)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + s})
			return
		}
		f.Status = status
	}
	var err error
	if f.Limit, err = queryInt(c, "limit", 0); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}
	if f.Offset, err = queryInt(c, "offset", 0); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
		return
	}

	terminals, err := h.manager.List(c.Request.Context(), f)
	if err != nil {
		h.log.Error("list terminals failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list terminals"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"terminals": terminals,
		"count":     len(terminals),
	})
}

// GetTerminal returns one record, absorbing states included.
func (h *Handlers) GetTerminal(c *gin.Context) {
	terminalID, ok := h.terminalID(c)
	if !ok {
		return
	}
	t, err := h.manager.Get(c.Request.Context(), terminalID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// GetTerminalStatus returns the lifecycle projection of one record.
func (h *Handlers) GetTerminalStatus(c *gin.Context) {
	terminalID, ok := h.terminalID(c)
	if !ok {
		return
	}
	t, err := h.manager.Get(c.Request.Context(), terminalID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":            t.ID,
		"status":        t.Status,
		"tunnel_url":    t.TunnelURL,
		"error_message": t.ErrorMessage,
		"expires_at":    t.ExpiresAt,
	})
}

// DeleteTerminal applies deletion intent. Repeated deletes succeed.
func (h *Handlers) DeleteTerminal(c *gin.Context) {
	terminalID, ok := h.terminalID(c)
	if !ok {
		return
	}
	if err := h.manager.Delete(c.Request.Context(), terminalID); err != nil {
		h.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) terminalID(c *gin.Context) (string, bool) {
	terminalID := c.Param("id")
	if !id.IsTerminalID(terminalID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed terminal id"})
		return "", false
	}
	return terminalID, true
}

func (h *Handlers) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, terminal.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "terminal not found"})
	default:
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New("invalid " + name)
	}
	return v, nil
}
