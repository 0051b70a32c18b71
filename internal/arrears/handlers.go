package arrears

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fleetmaster/fleetmaster/internal/auth"
)

// Handler provides HTTP endpoints for payments and arrears.
type Handler struct {
	engine *Engine
	store  Store
	logger *slog.Logger
}

func NewHandler(engine *Engine, store Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: engine, store: store, logger: logger}
}

// RegisterRoutes sets up payment and arrear routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments", h.RecordPayment)
	r.GET("/payments", h.ListPayments)
	r.DELETE("/payments/:id", h.DeletePayment)
	r.GET("/arrears", h.ListArrears)
	r.POST("/arrears/:id/pay", h.PayArrear)
}

type paymentRequest struct {
	DriverID  string     `json:"driverId" binding:"required"`
	VehicleID string     `json:"vehicleId" binding:"required"`
	Type      string     `json:"type"`
	Amount    int64      `json:"amount" binding:"required"`
	PaidAt    *time.Time `json:"paidAt"`
}

// RecordPayment handles POST /v1/payments
func (h *Handler) RecordPayment(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "driverId, vehicleId and amount are required"})
		return
	}
	typ := PaymentType(req.Type)
	if typ == "" {
		typ = PaymentRent
	}
	if typ != PaymentRent && typ != PaymentOther {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_type", "message": "type must be rent or other"})
		return
	}

	p := &Payment{
		TenantID:  auth.TenantID(c),
		DriverID:  req.DriverID,
		VehicleID: req.VehicleID,
		Type:      typ,
		Amount:    req.Amount,
	}
	if req.PaidAt != nil {
		p.PaidAt = *req.PaidAt
	}

	arrear, err := h.engine.RecordPayment(c.Request.Context(), p)
	switch {
	case errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": "Amount must be positive"})
		return
	case errors.Is(err, ErrVehicleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "vehicle_not_found", "message": "No expected rent registered for that vehicle"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record_failed", "message": err.Error()})
		return
	}

	resp := gin.H{"payment": p}
	if arrear != nil {
		resp["arrear"] = arrear
	}
	c.JSON(http.StatusCreated, resp)
}

// ListPayments handles GET /v1/payments
func (h *Handler) ListPayments(c *gin.Context) {
	out, err := h.store.ListPayments(c.Request.Context(), auth.TenantID(c), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed", "message": err.Error()})
		return
	}
	if out == nil {
		out = []*Payment{}
	}
	c.JSON(http.StatusOK, gin.H{"payments": out, "count": len(out)})
}

// DeletePayment handles DELETE /v1/payments/:id
func (h *Handler) DeletePayment(c *gin.Context) {
	id := c.Param("id")

	p, err := h.store.GetPayment(c.Request.Context(), id)
	if errors.Is(err, ErrPaymentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No such payment"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed", "message": err.Error()})
		return
	}
	if p.TenantID != auth.TenantID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No such payment"})
		return
	}

	if err := h.engine.DeletePayment(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ListArrears handles GET /v1/arrears
func (h *Handler) ListArrears(c *gin.Context) {
	status := ArrearStatus(c.Query("status"))
	if status != "" && status != ArrearPending && status != ArrearPaid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status", "message": "status must be pending or paid"})
		return
	}

	out, err := h.store.ListArrears(c.Request.Context(), auth.TenantID(c), status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed", "message": err.Error()})
		return
	}
	if out == nil {
		out = []*Arrear{}
	}
	c.JSON(http.StatusOK, gin.H{"arrears": out, "count": len(out)})
}

type payArrearRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

// PayArrear handles POST /v1/arrears/:id/pay
func (h *Handler) PayArrear(c *gin.Context) {
	var req payArrearRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "amount is required"})
		return
	}

	arrear, err := h.store.GetArrear(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrArrearNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No such arrear"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed", "message": err.Error()})
		return
	}
	if arrear.TenantID != auth.TenantID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No such arrear"})
		return
	}

	out, err := h.engine.Pay(c.Request.Context(), arrear.ID, req.Amount)
	switch {
	case errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": "Amount must be positive"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pay_failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}
