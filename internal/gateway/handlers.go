package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fleetmaster/fleetmaster/internal/auth"
	"github.com/fleetmaster/fleetmaster/internal/ledger"
	"github.com/fleetmaster/fleetmaster/internal/plan"
)

// ChecksumHeader carries the gateway's event signature.
const ChecksumHeader = "x-event-checksum"

// Handler provides HTTP endpoints for billing and webhook intake.
type Handler struct {
	checkout   *Checkout
	reconciler *Reconciler
	store      ledger.Store
	logger     *slog.Logger
}

func NewHandler(checkout *Checkout, reconciler *Reconciler, store ledger.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{checkout: checkout, reconciler: reconciler, store: store, logger: logger}
}

// RegisterRoutes sets up authenticated billing routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/billing/checkout", h.BeginCheckout)
	r.GET("/billing/transactions", h.ListTransactions)
	r.GET("/billing/transactions/:gatewayId", h.TransactionStatus)
}

// RegisterWebhookRoutes sets up the unauthenticated webhook intake.
// Authentication is the checksum header, verified by the reconciler.
func (h *Handler) RegisterWebhookRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/payments", h.ReceiveWebhook)
}

type checkoutRequest struct {
	Plan     string `json:"plan" binding:"required"`
	Duration string `json:"duration" binding:"required"`
}

// BeginCheckout handles POST /v1/billing/checkout
func (h *Handler) BeginCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "plan and duration are required"})
		return
	}

	session, err := h.checkout.Begin(c.Request.Context(), auth.TenantID(c), plan.Plan(req.Plan), plan.Duration(req.Duration))
	switch {
	case errors.Is(err, plan.ErrUnknownPlan):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan", "message": "Unknown or non-purchasable plan"})
		return
	case errors.Is(err, plan.ErrUnknownDuration):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_duration", "message": "Duration must be monthly, semiannual or yearly"})
		return
	case errors.Is(err, ErrActiveSubscription):
		c.JSON(http.StatusConflict, gin.H{"error": "active_subscription", "message": "An active subscription already exists; wait for it to expire before purchasing"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "checkout_failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, session)
}

// ReceiveWebhook handles POST /webhooks/payments
func (h *Handler) ReceiveWebhook(c *gin.Context) {
	var ev Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "message": "Malformed event body"})
		return
	}

	outcome, err := h.reconciler.Process(c.Request.Context(), &ev, c.GetHeader(ChecksumHeader))
	switch {
	case errors.Is(err, ErrBadSignature):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature", "message": "Checksum verification failed"})
		return
	case err != nil:
		// Fraud, replay or internal failure. A 500 tells the gateway to
		// retry, which is safe: legitimate retries are absorbed and
		// tampered events keep failing the same checks.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation_failed", "message": "Event could not be processed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": string(outcome)})
}

// TransactionStatus handles GET /v1/billing/transactions/:gatewayId
//
// Clients poll this after the payment widget closes, since settlement
// only lands when the webhook does.
func (h *Handler) TransactionStatus(c *gin.Context) {
	tx, err := h.store.GetByGatewayID(c.Request.Context(), c.Param("gatewayId"))
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No transaction for that gateway id"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed", "message": err.Error()})
		return
	}
	if tx.TenantID != auth.TenantID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No transaction for that gateway id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(tx.Status), "reference": tx.Reference})
}

// ListTransactions handles GET /v1/billing/transactions
func (h *Handler) ListTransactions(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	txs, err := h.store.ListByTenant(c.Request.Context(), auth.TenantID(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed", "message": err.Error()})
		return
	}
	if txs == nil {
		txs = []*ledger.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "count": len(txs)})
}
