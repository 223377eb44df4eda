package httpapi

import (
	"errors"
	"net/http"
	"time"

	"claimline/internal/auth"
	"claimline/internal/audit"
	"claimline/internal/callstate"
	"claimline/internal/orchestrator"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth  *auth.Manager
	Store callstate.Store
	Calls *orchestrator.Orchestrator
	Audit *audit.Service
}

// --- Auth ---

type loginRequest struct {
	OperatorID string `json:"operator_id"`
	Role       string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.OperatorID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "operator_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.OperatorID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

// callSummary is the list-view shape; the full message log stays behind the
// per-call endpoint.
type callSummary struct {
	CallID       string          `json:"call_id"`
	CallerNumber string          `json:"caller_number"`
	Phase        callstate.Phase `json:"phase"`
	Messages     int             `json:"messages"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ListCalls returns every active (unarchived) call.
func (h Handlers) ListCalls(c *gin.Context) {
	states, err := h.Store.ListActive(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call listing failed"})
		return
	}
	out := make([]callSummary, 0, len(states))
	for _, st := range states {
		out = append(out, callSummary{
			CallID:       st.CallID,
			CallerNumber: st.CallerNumber,
			Phase:        st.Phase,
			Messages:     len(st.Messages),
			CreatedAt:    st.CreatedAt,
			UpdatedAt:    st.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}

// GetCall returns one call's full durable state, archived or not.
func (h Handlers) GetCall(c *gin.Context) {
	callID := c.Param("call_id")
	if callID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return
	}
	st, err := h.Store.Load(c.Request.Context(), callID)
	if errors.Is(err, callstate.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// GetCallAudit returns a call's side-effect trail.
// RBAC: supervisor or super_admin.
func (h Handlers) GetCallAudit(c *gin.Context) {
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit not configured"})
		return
	}
	callID := c.Param("call_id")
	if callID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return
	}
	events, err := h.Audit.Trail(c.Request.Context(), callID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// ForceHangup tears a live call down on the operator's behalf.
// RBAC: supervisor or super_admin.
func (h Handlers) ForceHangup(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "orchestrator not configured"})
		return
	}
	callID := c.Param("call_id")
	if callID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return
	}
	operatorID, _ := auth.OperatorID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())

	err := h.Calls.ForceHangup(c.Request.Context(), callID, operatorID, role)
	if errors.Is(err, orchestrator.ErrUnknownCall) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not active"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "hangup failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "hangup requested"})
}
