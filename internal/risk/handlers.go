package risk

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sentinelpay/triage/internal/validation"
)

// Handler exposes the assessment audit trail.
type Handler struct {
	store Store
}

// NewHandler creates the assessment handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes mounts the assessment endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/assessments/:customerId", h.ListByCustomer)
}

// ListByCustomer handles GET /v1/assessments/:customerId.
func (h *Handler) ListByCustomer(c *gin.Context) {
	customerID := c.Param("customerId")
	if !validation.IsValidID(customerID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed customerId"})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	assessments, err := h.store.ListByCustomer(c.Request.Context(), customerID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	if assessments == nil {
		assessments = []*Assessment{}
	}
	c.JSON(http.StatusOK, gin.H{"assessments": assessments, "count": len(assessments)})
}
