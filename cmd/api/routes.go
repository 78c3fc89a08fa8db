package main

import (
	"github.com/gin-gonic/gin"

	"callsync/internal/httpapi"
	"callsync/internal/rbac"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h *httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Webhook ingress (public, signature-verified in the handlers).
	r.POST("/webhooks/telephony", h.TelephonyWebhook)
	r.POST("/webhooks/crm", h.CRMWebhook)

	// Operator API.
	v1 := r.Group("/v1")
	v1.Use(authMW)
	v1.Use(rbac.RequireWorkspace())
	{
		integrations := v1.Group("/integrations/:workspace_id")
		integrations.Use(rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleAdmin, rbac.RoleSuperAdmin))
		{
			integrations.POST("/activate", h.Activate)
			integrations.POST("/deactivate", h.Deactivate)
			integrations.POST("/backfill", h.Backfill)
			integrations.GET("/status", h.Status)
			integrations.GET("/messages", h.Messages)
		}
	}
}
