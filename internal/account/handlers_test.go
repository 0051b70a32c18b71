package account

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetmaster/fleetmaster/internal/access"
	"github.com/fleetmaster/fleetmaster/internal/auth"
	"github.com/fleetmaster/fleetmaster/internal/plan"
)

type trialResolver struct{}

func (trialResolver) Resolve(ctx context.Context, t *Tenant) (access.AccountStatus, error) {
	return access.Evaluate(access.Input{
		Role:      t.Role,
		Confirmed: t.Confirmed,
		CreatedAt: t.CreatedAt,
	}, time.Now()), nil
}

type capturingSender struct {
	mu     sync.Mutex
	tokens map[string]string // email -> token
}

func (s *capturingSender) ConfirmationRequested(email, name, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		s.tokens = make(map[string]string)
	}
	s.tokens[email] = token
}

func newAuthRouter(t *testing.T) (*gin.Engine, *capturingSender) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	service := NewService(NewMemoryStore())
	tokens := auth.NewTokens("0123456789abcdef0123456789abcdef", time.Hour)
	sender := &capturingSender{}
	h := NewHandler(service, tokens, trialResolver{}, sender, nil)

	r := gin.New()
	h.RegisterPublicRoutes(r.Group(""))
	authed := r.Group("/v1", auth.RequireSession(tokens))
	h.RegisterRoutes(authed)
	return r, sender
}

func doJSON(r *gin.Engine, method, path string, body any, token string) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterConfirmLoginRefresh(t *testing.T) {
	r, sender := newAuthRouter(t)

	// Register.
	w := doJSON(r, http.MethodPost, "/auth/register", gin.H{
		"email": "op@fleet.co", "name": "Operador", "password": "hunter2hunter2",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotEmpty(t, sender.tokens["op@fleet.co"], "confirmation token not delivered")

	// Duplicate email refused.
	w = doJSON(r, http.MethodPost, "/auth/register", gin.H{
		"email": "OP@fleet.co", "name": "Otro", "password": "hunter2hunter2",
	}, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// Unconfirmed login yields a BLOCKED status but still authenticates.
	w = doJSON(r, http.MethodPost, "/auth/login", gin.H{"email": "op@fleet.co", "password": "hunter2hunter2"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	var loginResp struct {
		Token  string               `json:"token"`
		Status access.AccountStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loginResp))
	assert.Equal(t, access.LevelBlocked, loginResp.Status.Level)
	assert.Equal(t, access.ReasonUnconfirmed, loginResp.Status.Reason)

	// Confirm.
	w = doJSON(r, http.MethodPost, "/auth/confirm", gin.H{"token": sender.tokens["op@fleet.co"]}, "")
	require.Equal(t, http.StatusOK, w.Code)

	// Token is single use.
	w = doJSON(r, http.MethodPost, "/auth/confirm", gin.H{"token": sender.tokens["op@fleet.co"]}, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Confirmed login: trial access.
	w = doJSON(r, http.MethodPost, "/auth/login", gin.H{"email": "op@fleet.co", "password": "hunter2hunter2"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loginResp))
	assert.Equal(t, access.LevelLimited, loginResp.Status.Level)
	assert.Equal(t, access.ReasonTrial, loginResp.Status.Reason)
	assert.Equal(t, plan.PlanTrial, loginResp.Status.Plan)

	// Refresh with the session token.
	w = doJSON(r, http.MethodPost, "/v1/auth/refresh", nil, loginResp.Token)
	require.Equal(t, http.StatusOK, w.Code)

	// Refresh without a token is rejected.
	w = doJSON(r, http.MethodPost, "/v1/auth/refresh", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin_BadCredentials(t *testing.T) {
	r, _ := newAuthRouter(t)

	w := doJSON(r, http.MethodPost, "/auth/register", gin.H{
		"email": "op@fleet.co", "name": "Operador", "password": "hunter2hunter2",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code)

	// Wrong password and unknown email produce the same response.
	w = doJSON(r, http.MethodPost, "/auth/login", gin.H{"email": "op@fleet.co", "password": "wrong-password"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = doJSON(r, http.MethodPost, "/auth/login", gin.H{"email": "ghost@fleet.co", "password": "whatever123"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegister_Validation(t *testing.T) {
	r, _ := newAuthRouter(t)

	w := doJSON(r, http.MethodPost, "/auth/register", gin.H{
		"email": "not-an-email", "name": "X", "password": "hunter2hunter2",
	}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/auth/register", gin.H{
		"email": "op@fleet.co", "name": "X", "password": "short",
	}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
