package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fleetmaster/fleetmaster/internal/config"
	"github.com/fleetmaster/fleetmaster/internal/gateway"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:                   "0",
		Env:                    "development",
		LogLevel:               "error",
		LogFormat:              "text",
		GatewayPublicKey:       "pub_test_key",
		GatewayIntegritySecret: "test_integrity_secret",
		GatewayEventsSecret:    "test_events_secret",
		GatewayRedirectURL:     "https://app.example.test/billing/result",
		Currency:               "COP",
		SessionSecret:          "0123456789abcdef0123456789abcdef",
		SessionTTL:             time.Hour,
		AdminSecret:            "test_admin_secret",
		RateLimitRPM:           6000,
	}
}

// newTestServer creates a server backed by in-memory stores
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// do performs a request against the router and decodes the JSON body
func do(t *testing.T, s *Server, method, path, token string, body any) (int, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
		}
	}
	return w.Code, resp
}

// doAdmin performs a request carrying the admin secret header
func doAdmin(t *testing.T, s *Server, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Secret", s.cfg.AdminSecret)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
		}
	}
	return w.Code, resp
}

// signUp registers, confirms and logs in a tenant, returning a session token
func signUp(t *testing.T, s *Server, email string) string {
	t.Helper()

	code, _ := do(t, s, "POST", "/v1/auth/register", "", gin.H{
		"email":    email,
		"name":     "Test Operator",
		"password": "hunter2hunter2",
	})
	if code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", code)
	}

	// The confirmation token travels by email in production; pull it from
	// the store here.
	tenant, err := s.accounts.Store().GetByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("Failed to load tenant: %v", err)
	}
	code, _ = do(t, s, "POST", "/v1/auth/confirm", "", gin.H{"token": tenant.ConfirmToken})
	if code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d", code)
	}

	code, resp := do(t, s, "POST", "/v1/auth/login", "", gin.H{
		"email":    email,
		"password": "hunter2hunter2",
	})
	if code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", code)
	}
	token, _ := resp["token"].(string)
	if token == "" {
		t.Fatal("login returned no token")
	}
	return token
}

// accessLevel extracts status.accessLevel from a session response
func accessLevel(resp map[string]any) string {
	status, _ := resp["status"].(map[string]any)
	level, _ := status["accessLevel"].(string)
	return level
}

// ---------------------------------------------------------------------------
// Health & info endpoints
// ---------------------------------------------------------------------------

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	code, resp := do(t, s, "GET", "/health", "", nil)
	if code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", code)
	}
	if resp["status"] != "healthy" {
		t.Errorf("health: expected healthy, got %v", resp["status"])
	}

	code, _ = do(t, s, "GET", "/health/live", "", nil)
	if code != http.StatusOK {
		t.Errorf("liveness: expected 200, got %d", code)
	}

	// Readiness flips only once Run has started
	code, _ = do(t, s, "GET", "/health/ready", "", nil)
	if code != http.StatusServiceUnavailable {
		t.Errorf("readiness before Run: expected 503, got %d", code)
	}
}

func TestInfoEndpoint(t *testing.T) {
	s := newTestServer(t)

	code, resp := do(t, s, "GET", "/api", "", nil)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if resp["currency"] != "COP" {
		t.Errorf("Expected COP currency, got %v", resp["currency"])
	}
	plans, _ := resp["plans"].([]any)
	if len(plans) != 3 {
		t.Errorf("Expected 3 purchasable plans, got %v", resp["plans"])
	}
}

// ---------------------------------------------------------------------------
// Auth gating
// ---------------------------------------------------------------------------

func TestProtectedRoutesRequireSession(t *testing.T) {
	s := newTestServer(t)

	for _, route := range []struct{ method, path string }{
		{"POST", "/v1/billing/checkout"},
		{"GET", "/v1/billing/transactions"},
		{"POST", "/v1/licenses/redeem"},
		{"GET", "/v1/arrears"},
		{"POST", "/v1/auth/refresh"},
	} {
		code, _ := do(t, s, route.method, route.path, "", nil)
		if code != http.StatusUnauthorized {
			t.Errorf("%s %s without token: expected 401, got %d", route.method, route.path, code)
		}
	}
}

func TestAdminRoutesRequireSecret(t *testing.T) {
	s := newTestServer(t)

	code, _ := do(t, s, "POST", "/v1/admin/license-keys", "", gin.H{"plan": "pro", "duration": "monthly"})
	if code != http.StatusUnauthorized {
		t.Errorf("admin route without secret: expected 401, got %d", code)
	}
}

// ---------------------------------------------------------------------------
// Full billing flow: register -> checkout -> webhook -> full access
// ---------------------------------------------------------------------------

func TestFullBillingFlow(t *testing.T) {
	s := newTestServer(t)
	token := signUp(t, s, "operator@example.test")

	// A fresh confirmed account sits in the trial window
	code, resp := do(t, s, "POST", "/v1/auth/refresh", token, nil)
	if code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d", code)
	}
	if accessLevel(resp) != "LIMITED" {
		t.Fatalf("Expected LIMITED trial access, got %q", accessLevel(resp))
	}

	// Open a checkout session
	code, session := do(t, s, "POST", "/v1/billing/checkout", token, gin.H{
		"plan":     "pro",
		"duration": "monthly",
	})
	if code != http.StatusOK {
		t.Fatalf("checkout: expected 200, got %d (%v)", code, session)
	}
	reference, _ := session["reference"].(string)
	amountInCents := int64(session["amountInCents"].(float64))
	if reference == "" || amountInCents <= 0 {
		t.Fatalf("Malformed session: %v", session)
	}

	// Simulate the gateway's settlement webhook
	ev := gateway.Event{
		Event:     gateway.EventTransactionUpdated,
		Timestamp: time.Now().Unix(),
		Data: gateway.EventData{Transaction: &gateway.EventTransaction{
			ID:                "12034-1629092409-11321",
			Status:            "APPROVED",
			Reference:         reference,
			AmountInCents:     amountInCents,
			Currency:          "COP",
			PaymentMethodType: "CARD",
		}},
	}
	signer := gateway.NewSigner(s.cfg.GatewayIntegritySecret, s.cfg.GatewayEventsSecret)
	checksum := signer.EventChecksum(ev.Data.Transaction.ID, "APPROVED", amountInCents, ev.Timestamp)

	body, _ := json.Marshal(ev)
	req := httptest.NewRequest("POST", "/v1/webhooks/payments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(gateway.ChecksumHeader, checksum)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("webhook: expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	// Client-side polling sees the settled row
	code, resp = do(t, s, "GET", "/v1/billing/transactions/12034-1629092409-11321", token, nil)
	if code != http.StatusOK {
		t.Fatalf("status poll: expected 200, got %d", code)
	}
	if resp["status"] != "APPROVED" {
		t.Errorf("Expected APPROVED, got %v", resp["status"])
	}

	// The next refresh reflects the paid subscription
	code, resp = do(t, s, "POST", "/v1/auth/refresh", token, nil)
	if code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d", code)
	}
	if accessLevel(resp) != "FULL" {
		t.Errorf("Expected FULL access after settlement, got %q", accessLevel(resp))
	}

	// A second purchase attempt is refused while the subscription runs
	code, _ = do(t, s, "POST", "/v1/billing/checkout", token, gin.H{
		"plan":     "basic",
		"duration": "monthly",
	})
	if code != http.StatusConflict {
		t.Errorf("second checkout: expected 409, got %d", code)
	}
}

// ---------------------------------------------------------------------------
// License key flow
// ---------------------------------------------------------------------------

func TestLicenseKeyFlow(t *testing.T) {
	s := newTestServer(t)

	code, resp := doAdmin(t, s, "POST", "/v1/admin/license-keys", gin.H{
		"plan":     "enterprise",
		"duration": "yearly",
		"count":    1,
	})
	if code != http.StatusCreated {
		t.Fatalf("generate keys: expected 201, got %d", code)
	}
	keys, _ := resp["keys"].([]any)
	if len(keys) != 1 {
		t.Fatalf("Expected 1 key, got %v", resp)
	}
	keyCode, _ := keys[0].(string)

	token := signUp(t, s, "sales-lead@example.test")
	code, resp = do(t, s, "POST", "/v1/licenses/redeem", token, gin.H{"key": keyCode})
	if code != http.StatusOK {
		t.Fatalf("redeem: expected 200, got %d (%v)", code, resp)
	}
	if resp["plan"] != "enterprise" {
		t.Errorf("Expected enterprise activation, got %v", resp["plan"])
	}

	code, resp = do(t, s, "POST", "/v1/auth/refresh", token, nil)
	if code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d", code)
	}
	if accessLevel(resp) != "FULL" {
		t.Errorf("Expected FULL access after redemption, got %q", accessLevel(resp))
	}

	// Same key again, different tenant
	other := signUp(t, s, "second@example.test")
	code, _ = do(t, s, "POST", "/v1/licenses/redeem", other, gin.H{"key": keyCode})
	if code != http.StatusConflict {
		t.Errorf("re-redeem: expected 409, got %d", code)
	}
}

// ---------------------------------------------------------------------------
// Arrears flow
// ---------------------------------------------------------------------------

func TestArrearsFlow(t *testing.T) {
	s := newTestServer(t)
	token := signUp(t, s, "fleet-owner@example.test")

	code, _ := doAdmin(t, s, "POST", "/v1/admin/vehicles", gin.H{
		"vehicleId":    "veh_42",
		"expectedRent": 100,
	})
	if code != http.StatusOK {
		t.Fatalf("set vehicle rent: expected 200, got %d", code)
	}

	// Short rent payment opens an arrear for the difference
	code, resp := do(t, s, "POST", "/v1/payments", token, gin.H{
		"driverId":  "drv_9",
		"vehicleId": "veh_42",
		"type":      "rent",
		"amount":    60,
		"paidAt":    time.Now().UTC().Format(time.RFC3339),
	})
	if code != http.StatusCreated {
		t.Fatalf("record payment: expected 201, got %d (%v)", code, resp)
	}

	code, resp = do(t, s, "GET", "/v1/arrears?status=pending", token, nil)
	if code != http.StatusOK {
		t.Fatalf("list arrears: expected 200, got %d", code)
	}
	arrearsList, _ := resp["arrears"].([]any)
	if len(arrearsList) != 1 {
		t.Fatalf("Expected 1 pending arrear, got %v", resp)
	}
	arrear, _ := arrearsList[0].(map[string]any)
	if owed := int64(arrear["amountOwed"].(float64)); owed != 40 {
		t.Errorf("Expected 40 owed, got %d", owed)
	}
	if arrear["driverId"] != "drv_9" {
		t.Errorf("Expected arrear attributed to drv_9, got %v", arrear["driverId"])
	}
}

// ---------------------------------------------------------------------------
// Admin overrides
// ---------------------------------------------------------------------------

func TestOverrideGrantsAccess(t *testing.T) {
	s := newTestServer(t)
	token := signUp(t, s, "vip@example.test")

	tenant, err := s.accounts.Store().GetByEmail(context.Background(), "vip@example.test")
	if err != nil {
		t.Fatalf("Failed to load tenant: %v", err)
	}

	code, _ := doAdmin(t, s, "POST", "/v1/admin/overrides", gin.H{
		"tenantId": tenant.ID,
		"plan":     "pro",
		"reason":   "pilot customer",
	})
	if code != http.StatusCreated {
		t.Fatalf("create override: expected 201, got %d", code)
	}

	code, resp := do(t, s, "POST", "/v1/auth/refresh", token, nil)
	if code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d", code)
	}
	if accessLevel(resp) != "FULL" {
		t.Errorf("Expected FULL access under override, got %q", accessLevel(resp))
	}
	status, _ := resp["status"].(map[string]any)
	if manual, _ := status["isManual"].(bool); !manual {
		t.Errorf("Expected isManual flag, got %v", status)
	}
}

// ---------------------------------------------------------------------------
// Request plumbing
// ---------------------------------------------------------------------------

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected generated X-Request-ID header")
	}

	req = httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "upstream-id" {
		t.Errorf("Expected upstream request id to pass through, got %q", got)
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	s := newTestServer(t)

	big := bytes.Repeat([]byte("a"), 2<<20)
	body := fmt.Sprintf(`{"email":"x@example.test","name":"%s","password":"hunter2hunter2"}`, big)
	req := httptest.NewRequest("POST", "/v1/auth/register", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge && w.Code != http.StatusBadRequest {
		t.Errorf("Expected oversized body to be rejected, got %d", w.Code)
	}
}
