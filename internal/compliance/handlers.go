package compliance

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes read access to the policy set.
type Handler struct {
	store Store
}

// NewHandler creates the policy handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes mounts the policy endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/policies", h.List)
	r.GET("/policies/:id", h.Get)
}

// List handles GET /v1/policies.
func (h *Handler) List(c *gin.Context) {
	policies, err := h.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": policies, "count": len(policies)})
}

// Get handles GET /v1/policies/:id.
func (h *Handler) Get(c *gin.Context) {
	policy, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "policy_not_found"})
		return
	}
	c.JSON(http.StatusOK, policy)
}
