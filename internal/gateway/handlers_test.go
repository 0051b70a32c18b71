package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetmaster/fleetmaster/internal/auth"
	"github.com/fleetmaster/fleetmaster/internal/ledger"
)

func newTestRouter(t *testing.T) (*gin.Engine, *fixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := newFixture()
	checkout := NewCheckout(f.ledger, f.subs, f.signer, "pub_test_key", "COP", "https://app.example.com/billing/result", nil)
	h := NewHandler(checkout, f.reconciler, f.ledger, nil)

	r := gin.New()
	authed := r.Group("/v1")
	authed.Use(func(c *gin.Context) { c.Set(auth.ContextKeyTenantID, "usr_1") })
	h.RegisterRoutes(authed)
	h.RegisterWebhookRoutes(r.Group(""))
	return r, f
}

func postJSON(r *gin.Engine, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookEndpoint_StatusCodes(t *testing.T) {
	r, f := newTestRouter(t)
	f.seedPending(t, "FMP-AAAA0001", 90000)

	ev, sum := f.signedEvent("FMP-AAAA0001", "gw-1", "APPROVED", 9000000)

	// Bad signature: 401, nothing written.
	w := postJSON(r, "/webhooks/payments", ev, map[string]string{ChecksumHeader: "deadbeef"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Valid delivery: 200 applied.
	w = postJSON(r, "/webhooks/payments", ev, map[string]string{ChecksumHeader: sum})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "applied")

	// Redelivery: 200 duplicate.
	w = postJSON(r, "/webhooks/payments", ev, map[string]string{ChecksumHeader: sum})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "duplicate")

	// Unknown reference: 200, acknowledged.
	ev2, sum2 := f.signedEvent("FMP-MISSING1", "gw-9", "APPROVED", 9000000)
	w = postJSON(r, "/webhooks/payments", ev2, map[string]string{ChecksumHeader: sum2})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookEndpoint_FraudReturns500(t *testing.T) {
	r, f := newTestRouter(t)
	f.seedPending(t, "FMP-AAAA0001", 90000)

	ev, sum := f.signedEvent("FMP-AAAA0001", "gw-1", "APPROVED", 12345)
	w := postJSON(r, "/webhooks/payments", ev, map[string]string{ChecksumHeader: sum})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCheckoutEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := postJSON(r, "/v1/billing/checkout", gin.H{"plan": "pro", "duration": "monthly"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var session Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	assert.Equal(t, int64(9000000), session.AmountInCents)
	assert.Regexp(t, `^FMP-[0-9A-F]{8}$`, session.Reference)
	assert.NotEmpty(t, session.Signature)

	// Bad plan: 400.
	w = postJSON(r, "/v1/billing/checkout", gin.H{"plan": "platinum", "duration": "monthly"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Missing fields: 400.
	w = postJSON(r, "/v1/billing/checkout", gin.H{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckoutEndpoint_ConflictOnActiveSubscription(t *testing.T) {
	r, f := newTestRouter(t)

	// First purchase settles and activates.
	w := postJSON(r, "/v1/billing/checkout", gin.H{"plan": "pro", "duration": "monthly"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var session Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))

	ev, sum := f.signedEvent(session.Reference, "gw-1", "APPROVED", session.AmountInCents)
	w = postJSON(r, "/webhooks/payments", ev, map[string]string{ChecksumHeader: sum})
	require.Equal(t, http.StatusOK, w.Code)

	// Second purchase refused while the period runs.
	w = postJSON(r, "/v1/billing/checkout", gin.H{"plan": "enterprise", "duration": "yearly"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStatusEndpoint(t *testing.T) {
	r, f := newTestRouter(t)
	f.seedPending(t, "FMP-AAAA0001", 90000)

	ev, sum := f.signedEvent("FMP-AAAA0001", "gw-1", "APPROVED", 9000000)
	w := postJSON(r, "/webhooks/payments", ev, map[string]string{ChecksumHeader: sum})
	require.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/billing/transactions/gw-1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Status    string `json:"status"`
		Reference string `json:"reference"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "APPROVED", out.Status)
	assert.Equal(t, "FMP-AAAA0001", out.Reference)

	// Unknown gateway id: 404.
	req = httptest.NewRequest(http.MethodGet, "/v1/billing/transactions/gw-nope", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTransactionsEndpoint(t *testing.T) {
	r, f := newTestRouter(t)
	f.seedPending(t, "FMP-AAAA0001", 90000)
	f.seedPending(t, "FMP-AAAA0002", 50000)

	req := httptest.NewRequest(http.MethodGet, "/v1/billing/transactions", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Transactions []*ledger.Transaction `json:"transactions"`
		Count        int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 2, out.Count)
}
