package license

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fleetmaster/fleetmaster/internal/auth"
	"github.com/fleetmaster/fleetmaster/internal/idgen"
	"github.com/fleetmaster/fleetmaster/internal/plan"
)

// Handler provides HTTP endpoints for overrides and key redemption.
type Handler struct {
	overrides OverrideStore
	keys      KeyStore
	redeemer  *Redeemer
	logger    *slog.Logger
}

func NewHandler(overrides OverrideStore, keys KeyStore, redeemer *Redeemer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{overrides: overrides, keys: keys, redeemer: redeemer, logger: logger}
}

// RegisterRoutes sets up tenant-facing routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/licenses/redeem", h.RedeemKey)
}

// RegisterAdminRoutes sets up operator routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/overrides", h.CreateOverride)
	r.GET("/admin/overrides/:tenantId", h.ListOverrides)
	r.DELETE("/admin/overrides/:id", h.DeleteOverride)
	r.POST("/admin/license-keys", h.GenerateKeys)
}

type redeemRequest struct {
	Key string `json:"key" binding:"required"`
}

// RedeemKey handles POST /v1/licenses/redeem
func (h *Handler) RedeemKey(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "key is required"})
		return
	}

	rec, err := h.redeemer.Redeem(c.Request.Context(), auth.TenantID(c), req.Key)
	switch {
	case errors.Is(err, ErrKeyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "key_not_found", "message": "Unknown license key"})
		return
	case errors.Is(err, ErrKeyRedeemed):
		c.JSON(http.StatusConflict, gin.H{"error": "key_redeemed", "message": "That key has already been redeemed"})
		return
	case errors.Is(err, ErrDowngrade):
		c.JSON(http.StatusConflict, gin.H{"error": "downgrade_refused", "message": "You already have an active plan of equal or higher tier"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "redeem_failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"startDate": rec.StartsAt,
		"dueDate":   rec.DueAt,
		"plan":      string(rec.Plan),
	})
}

type overrideRequest struct {
	TenantID  string     `json:"tenantId" binding:"required"`
	Plan      string     `json:"plan" binding:"required"`
	ExpiresAt *time.Time `json:"expiresAt"`
	Reason    string     `json:"reason"`
}

// CreateOverride handles POST /admin/overrides
func (h *Handler) CreateOverride(c *gin.Context) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "tenantId and plan are required"})
		return
	}
	if !plan.Valid(plan.Plan(req.Plan)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan", "message": "Unknown plan"})
		return
	}

	o := &Override{
		ID:        idgen.WithPrefix("ovr_"),
		TenantID:  req.TenantID,
		Plan:      plan.Plan(req.Plan),
		ExpiresAt: req.ExpiresAt,
		Reason:    req.Reason,
		CreatedAt: time.Now(),
	}
	if err := h.overrides.Create(c.Request.Context(), o); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed", "message": err.Error()})
		return
	}
	h.logger.Info("override created", "tenant_id", o.TenantID, "plan", string(o.Plan), "reason", o.Reason)
	c.JSON(http.StatusCreated, o)
}

// ListOverrides handles GET /admin/overrides/:tenantId
func (h *Handler) ListOverrides(c *gin.Context) {
	out, err := h.overrides.ListByTenant(c.Request.Context(), c.Param("tenantId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed", "message": err.Error()})
		return
	}
	if out == nil {
		out = []*Override{}
	}
	c.JSON(http.StatusOK, gin.H{"overrides": out, "count": len(out)})
}

// DeleteOverride handles DELETE /admin/overrides/:id
func (h *Handler) DeleteOverride(c *gin.Context) {
	err := h.overrides.Delete(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrOverrideNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No such override"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type generateKeysRequest struct {
	Plan     string `json:"plan" binding:"required"`
	Duration string `json:"duration" binding:"required"`
	Count    int    `json:"count"`
}

// GenerateKeys handles POST /admin/license-keys
func (h *Handler) GenerateKeys(c *gin.Context) {
	var req generateKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "plan and duration are required"})
		return
	}
	if !plan.Purchasable(plan.Plan(req.Plan)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan", "message": "Keys cannot be generated for that plan"})
		return
	}
	if !plan.ValidDuration(plan.Duration(req.Duration)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_duration", "message": "Duration must be monthly, semiannual or yearly"})
		return
	}
	count := req.Count
	if count <= 0 {
		count = 1
	}
	if count > 100 {
		count = 100
	}

	now := time.Now()
	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		k := &Key{
			ID:        idgen.WithPrefix("key_"),
			Code:      idgen.LicenseKey(),
			Plan:      plan.Plan(req.Plan),
			Duration:  plan.Duration(req.Duration),
			CreatedAt: now,
		}
		if err := h.keys.Create(c.Request.Context(), k); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed", "message": err.Error()})
			return
		}
		codes = append(codes, k.Code)
	}
	c.JSON(http.StatusCreated, gin.H{"keys": codes, "count": len(codes)})
}
