package account

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fleetmaster/fleetmaster/internal/access"
	"github.com/fleetmaster/fleetmaster/internal/auth"
	"github.com/fleetmaster/fleetmaster/internal/validation"
)

// StatusResolver computes the tenant's current access decision. The
// server wires it up from the override and subscription stores.
type StatusResolver interface {
	Resolve(ctx context.Context, t *Tenant) (access.AccountStatus, error)
}

// ConfirmationSender delivers the confirmation token to a new tenant.
// Implementations are fire-and-forget.
type ConfirmationSender interface {
	ConfirmationRequested(email, name, token string)
}

// Handler provides HTTP endpoints for registration and sessions.
type Handler struct {
	service  *Service
	tokens   *auth.Tokens
	resolver StatusResolver
	sender   ConfirmationSender
	logger   *slog.Logger
}

func NewHandler(service *Service, tokens *auth.Tokens, resolver StatusResolver, sender ConfirmationSender, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, tokens: tokens, resolver: resolver, sender: sender, logger: logger}
}

// RegisterPublicRoutes sets up unauthenticated routes.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/auth/register", h.Register)
	r.POST("/auth/confirm", h.Confirm)
	r.POST("/auth/login", h.Login)
}

// RegisterRoutes sets up session-bound routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/auth/refresh", h.Refresh)
}

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
}

// Register handles POST /auth/register
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "email, name and a password of at least 8 characters are required"})
		return
	}
	if !validation.ValidEmail(req.Email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email", "message": "Malformed email address"})
		return
	}

	tenant, confirmToken, err := h.service.Register(c.Request.Context(),
		req.Email, validation.SanitizeString(req.Name, validation.MaxNameLength), req.Password)
	if errors.Is(err, ErrEmailTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": "email_taken", "message": "An account with that email already exists"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "register_failed", "message": err.Error()})
		return
	}

	if h.sender != nil {
		h.sender.ConfirmationRequested(tenant.Email, tenant.Name, confirmToken)
	}
	c.JSON(http.StatusCreated, gin.H{"id": tenant.ID, "email": tenant.Email})
}

type confirmRequest struct {
	Token string `json:"token" binding:"required"`
}

// Confirm handles POST /auth/confirm
func (h *Handler) Confirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "token is required"})
		return
	}

	tenant, err := h.service.Confirm(c.Request.Context(), req.Token)
	if errors.Is(err, ErrTokenNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "token_not_found", "message": "Unknown or already used confirmation token"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "confirm_failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": tenant.ID, "confirmed": true})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /auth/login
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "email and password are required"})
		return
	}

	tenant, err := h.service.Authenticate(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, ErrBadPassword) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "bad_credentials", "message": "Email or password is incorrect"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed", "message": err.Error()})
		return
	}

	h.issueSession(c, tenant)
}

// Refresh handles POST /v1/auth/refresh
//
// Access can change between logins: trials expire, subscriptions lapse,
// overrides land. The client re-checks on every privileged page load.
func (h *Handler) Refresh(c *gin.Context) {
	tenant, err := h.service.Store().Get(c.Request.Context(), auth.TenantID(c))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown_tenant", "message": "Session references a deleted account"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh_failed", "message": err.Error()})
		return
	}

	h.issueSession(c, tenant)
}

func (h *Handler) issueSession(c *gin.Context, tenant *Tenant) {
	status, err := h.resolver.Resolve(c.Request.Context(), tenant)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status_failed", "message": err.Error()})
		return
	}

	token, err := h.tokens.Issue(tenant.ID, tenant.Role, string(status.Level), string(status.Plan))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_failed", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":  token,
		"status": status,
		"tenant": gin.H{"id": tenant.ID, "email": tenant.Email, "name": tenant.Name, "role": tenant.Role},
	})
}
