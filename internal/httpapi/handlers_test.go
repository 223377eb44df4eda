package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"claimline/internal/auth"
	"claimline/internal/audit"
	"claimline/internal/callstate"
	"claimline/internal/config"
	"claimline/internal/orchestrator"
	"claimline/internal/rbac"

	"github.com/gin-gonic/gin"
)

func newTestHandlers(t *testing.T) (Handlers, callstate.Store) {
	t.Helper()
	m, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}

	store := callstate.NewMemoryStore()
	o := orchestrator.New(orchestrator.Config{}, orchestrator.Deps{Store: store})
	o.Start(context.Background())
	t.Cleanup(o.Stop)

	return Handlers{
		Auth:  m,
		Store: store,
		Calls: o,
		Audit: audit.NewService(audit.NewMemoryRepo()),
	}, store
}

func identity(operatorID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), operatorID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func newTestRouter(h Handlers, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	v1 := r.Group("/v1")
	v1.Use(identity("op-1", role))
	{
		calls := v1.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleSupervisor))
		{
			calls.GET("", h.ListCalls)
			calls.GET("/:call_id", h.GetCall)
		}
		supervised := v1.Group("/calls")
		supervised.Use(rbac.RequireAnyRole(rbac.RoleSupervisor))
		{
			supervised.GET("/:call_id/audit", h.GetCallAudit)
			supervised.POST("/:call_id/hangup", h.ForceHangup)
		}
	}
	r.POST("/v1/auth/login", h.Login)
	return r
}

func TestLogin_IssuesTokenPair(t *testing.T) {
	h, _ := newTestHandlers(t)
	r := newTestRouter(h, rbac.RoleOperator)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login",
		strings.NewReader(`{"operator_id":"op-1","role":"operator"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.AccessToken == "" || body.RefreshToken == "" {
		t.Fatalf("expected token pair, got %s", w.Body.String())
	}
}

func TestListCalls_ReturnsActiveOnly(t *testing.T) {
	h, store := newTestHandlers(t)
	now := time.Unix(1700000000, 0).UTC()

	if _, err := store.Create(context.Background(), callstate.New("CA1", "+15550000001", now)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Create(context.Background(), callstate.New("CA2", "+15550000002", now)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := callstate.Archive(context.Background(), store, "CA2", now); err != nil {
		t.Fatalf("archive: %v", err)
	}

	r := newTestRouter(h, rbac.RoleOperator)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/calls", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Calls []callSummary `json:"calls"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Calls) != 1 || body.Calls[0].CallID != "CA1" {
		t.Fatalf("expected only CA1 active, got %+v", body.Calls)
	}
}

func TestGetCall_NotFound(t *testing.T) {
	h, _ := newTestHandlers(t)
	r := newTestRouter(h, rbac.RoleOperator)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/calls/CA404", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestForceHangup_RequiresSupervisor(t *testing.T) {
	h, _ := newTestHandlers(t)
	r := newTestRouter(h, rbac.RoleOperator)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/calls/CA1/hangup", nil))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for operator role, got %d", w.Code)
	}
}

func TestForceHangup_UnknownCall(t *testing.T) {
	h, _ := newTestHandlers(t)
	r := newTestRouter(h, rbac.RoleSupervisor)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/calls/CA404/hangup", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetCallAudit_EmptyTrail(t *testing.T) {
	h, _ := newTestHandlers(t)
	r := newTestRouter(h, rbac.RoleSupervisor)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/calls/CA1/audit", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}
