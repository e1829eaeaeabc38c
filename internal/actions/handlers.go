package actions

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sentinelpay/triage/internal/idempotency"
	"github.com/sentinelpay/triage/internal/ledger"
)

// Handler provides the side-effecting action endpoints.
type Handler struct {
	service *Service
	idem    *idempotency.Coordinator
	logger  *slog.Logger
}

// NewHandler creates the actions handler.
func NewHandler(service *Service, idem *idempotency.Coordinator, logger *slog.Logger) *Handler {
	return &Handler{service: service, idem: idem, logger: logger}
}

// RegisterRoutes mounts the action endpoints. The mutating routes require an
// Idempotency-Key header; the audit log read does not.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/actions", h.History)

	group := r.Group("/actions", idempotency.Middleware())
	group.POST("/freeze-card", h.FreezeCard)
	group.POST("/open-dispute", h.OpenDispute)
	group.POST("/contact-customer", h.ContactCustomer)
}

// History handles GET /v1/actions, newest first.
func (h *Handler) History(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	history := h.service.History(limit)
	c.JSON(http.StatusOK, gin.H{"actions": history, "count": len(history)})
}

type freezeCardRequest struct {
	CustomerID string `json:"customerId" binding:"required"`
	CardID     string `json:"cardId" binding:"required"`
	Reason     string `json:"reason"`
}

// FreezeCard handles POST /v1/actions/freeze-card.
func (h *Handler) FreezeCard(c *gin.Context) {
	var req freezeCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	h.execute(c, func(ctx context.Context) (int, any, error) {
		action, err := h.service.FreezeCard(ctx, req.CustomerID, req.CardID, req.Reason)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, action, nil
	})
}

type openDisputeRequest struct {
	CustomerID    string `json:"customerId" binding:"required"`
	TransactionID string `json:"transactionId" binding:"required"`
	Reason        string `json:"reason" binding:"required"`
}

// OpenDispute handles POST /v1/actions/open-dispute.
func (h *Handler) OpenDispute(c *gin.Context) {
	var req openDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	h.execute(c, func(ctx context.Context) (int, any, error) {
		action, err := h.service.OpenDispute(ctx, req.CustomerID, req.TransactionID, req.Reason)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, action, nil
	})
}

type contactCustomerRequest struct {
	CustomerID string `json:"customerId" binding:"required"`
	Channel    string `json:"channel" binding:"required"`
	Message    string `json:"message" binding:"required"`
}

// ContactCustomer handles POST /v1/actions/contact-customer.
func (h *Handler) ContactCustomer(c *gin.Context) {
	var req contactCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	h.execute(c, func(ctx context.Context) (int, any, error) {
		action, err := h.service.ContactCustomer(ctx, req.CustomerID, req.Channel, req.Message)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, action, nil
	})
}

// execute runs the operation through the idempotency coordinator and writes
// the outcome.
func (h *Handler) execute(c *gin.Context, op idempotency.Operation) {
	key := idempotency.KeyFromContext(c)

	outcome, err := h.idem.Execute(c.Request.Context(), key, op)
	if err != nil {
		status := http.StatusInternalServerError
		code := "action_failed"
		switch {
		case errors.Is(err, ledger.ErrCustomerNotFound), errors.Is(err, ledger.ErrTransactionNotFound):
			status = http.StatusNotFound
			code = "not_found"
		}
		h.logger.Error("action failed", "error", err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	idempotency.Respond(c, outcome)
}
