package main

import (
	"log/slog"
	"net/http"

	"claimline/internal/audit"
	"claimline/internal/auth"
	"claimline/internal/callstate"
	"claimline/internal/config"
	"claimline/internal/httpapi"
	"claimline/internal/ingress"
	"claimline/internal/orchestrator"
	"claimline/internal/rbac"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type routeDeps struct {
	cfg     config.Config
	auth    *auth.Manager
	adapter *ingress.Adapter
	orch    *orchestrator.Orchestrator
	store   callstate.Store
	audit   *audit.Service
	log     *slog.Logger
}

var mediaUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The provider's media stream dials without a browser origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public, protected by Twilio signature validation).
	{
		wh := ingress.WebhookHandler{
			Adapter:       deps.adapter,
			Sink:          deps.orch.Submit,
			AuthToken:     deps.cfg.Twilio.AuthToken,
			PublicBaseURL: deps.cfg.Twilio.PublicBaseURL,
			StreamURL:     deps.cfg.Twilio.StreamURL,
		}
		r.POST("/webhooks/voice/inbound", wh.HandleInboundCall)
		r.POST("/webhooks/voice/event", wh.HandleStatusEvent)
	}

	// Media stream websocket (public; the stream start message binds it to a
	// call admitted through the signed webhook).
	r.GET("/media", func(c *gin.Context) {
		conn, err := mediaUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			deps.log.Warn("media upgrade failed", "err", err)
			return
		}
		if err := deps.orch.HandleMedia(c.Request.Context(), conn); err != nil {
			deps.log.Warn("media stream ended with error", "err", err)
		}
	})

	h := httpapi.Handlers{
		Auth:  deps.auth,
		Store: deps.store,
		Calls: deps.orch,
		Audit: deps.audit,
	}

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(deps.auth))
	{
		// Observation endpoints: any operator.
		calls := v1.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleSupervisor))
		{
			calls.GET("", h.ListCalls)
			calls.GET("/:call_id", h.GetCall)
		}

		// Intervention endpoints: supervisors only.
		supervised := v1.Group("/calls")
		supervised.Use(rbac.RequireAnyRole(rbac.RoleSupervisor))
		{
			supervised.GET("/:call_id/audit", h.GetCallAudit)
			supervised.POST("/:call_id/hangup", h.ForceHangup)
		}
	}
}
