package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"callsync/internal/auth"
	"callsync/internal/backfill"
	"callsync/internal/integration"
	"callsync/internal/provision"
	"callsync/internal/rbac"
	"callsync/pkg/logger"
)

// workspaceParam binds the path workspace to the caller's token. Only a
// super admin may operate on a workspace other than their own.
func workspaceParam(c *gin.Context) (string, bool) {
	ws := c.Param("workspace_id")
	if ws == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workspace_id is required"})
		return "", false
	}
	tokenWS, err := auth.WorkspaceID(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return "", false
	}
	if tokenWS != ws {
		role, _ := auth.Role(c.Request.Context())
		if !rbac.IsSuperAdmin(role) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return "", false
		}
	}
	return ws, true
}

type activateRequest struct {
	ResourceIDs []string `json:"resource_ids"`
}

// Activate provisions the full webhook subscription bundle.
func (h *Handlers) Activate(c *gin.Context) {
	ws, ok := workspaceParam(c)
	if !ok {
		return
	}
	var req activateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
	}

	status, err := h.provisioner.Ensure(c.Request.Context(), provision.Params{
		WorkspaceID: ws,
		ResourceIDs: req.ResourceIDs,
	})
	if err != nil {
		if errors.Is(err, integration.ErrInvalidArgument) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.From(c.Request.Context()).Error("activation failed", "workspace_id", ws, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "activation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(status)})
}

// Deactivate tears down the recorded subscriptions.
func (h *Handlers) Deactivate(c *gin.Context) {
	ws, ok := workspaceParam(c)
	if !ok {
		return
	}
	status, err := h.provisioner.Teardown(c.Request.Context(), ws)
	if err != nil {
		logger.From(c.Request.Context()).Error("deactivation failed", "workspace_id", ws, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "deactivation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(status)})
}

type backfillRequest struct {
	Offset   int `json:"offset"`
	PageSize int `json:"page_size"`
}

// Backfill runs the CRM person backfill from the requested offset. The
// run is synchronous; the response carries the final cursor so a timed
// out run can be resumed.
func (h *Handlers) Backfill(c *gin.Context) {
	ws, ok := workspaceParam(c)
	if !ok {
		return
	}
	var req backfillRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
	}
	if req.Offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must not be negative"})
		return
	}
	if req.PageSize < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page_size must not be negative"})
		return
	}

	total, err := h.backfiller.Run(c.Request.Context(), ws, backfill.Cursor{Offset: req.Offset}, req.PageSize)
	if err != nil {
		logger.From(c.Request.Context()).Error("backfill failed", "workspace_id", ws, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":       "backfill failed",
			"seen":        total.Seen,
			"mapped":      total.Mapped,
			"next_offset": total.Next.Offset,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"seen":        total.Seen,
		"mapped":      total.Mapped,
		"skipped":     total.Skipped,
		"next_offset": total.Next.Offset,
	})
}

// Status reports integration configuration plus the sync summary.
func (h *Handlers) Status(c *gin.Context) {
	ws, ok := workspaceParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	out := gin.H{"workspace_id": ws, "configured": false}
	cfg, err := h.cfgStore.Get(ctx, ws)
	switch {
	case err == nil:
		out["configured"] = cfg.Complete()
		out["partial"] = cfg.Partial()
		out["subscriptions"] = len(cfg.Subscriptions())
		out["enabled_resource_ids"] = cfg.EnabledResourceIDs
		out["updated_at"] = cfg.UpdatedAt
	case errors.Is(err, integration.ErrNotFound):
		// Not configured; summary still applies.
	default:
		logger.From(ctx).Error("status lookup failed", "workspace_id", ws, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	summary, err := h.reports.SyncSummary(ctx, ws)
	if err != nil {
		logger.From(ctx).Error("sync summary failed", "workspace_id", ws, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	out["sync"] = summary
	c.JSON(http.StatusOK, out)
}

// Messages lists operator-visible integration messages.
func (h *Handlers) Messages(c *gin.Context) {
	ws, ok := workspaceParam(c)
	if !ok {
		return
	}
	msgs, err := h.messages.List(c.Request.Context(), ws)
	if err != nil {
		logger.From(c.Request.Context()).Error("message listing failed", "workspace_id", ws, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
