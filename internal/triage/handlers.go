package triage

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sentinelpay/triage/internal/compliance"
	"github.com/sentinelpay/triage/internal/realtime"
	"github.com/sentinelpay/triage/internal/validation"
)

// Handler provides the triage HTTP surface.
type Handler struct {
	service *Service
	hub     *realtime.Hub
	logger  *slog.Logger
}

// NewHandler creates the triage handler. hub may be nil when streaming is
// disabled.
func NewHandler(service *Service, hub *realtime.Hub, logger *slog.Logger) *Handler {
	return &Handler{service: service, hub: hub, logger: logger}
}

// RegisterRoutes mounts the triage endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/triage", h.Start)
	r.GET("/triage/:id", h.Get)
	r.GET("/triage/:id/stream", h.Stream)
}

// Start handles POST /v1/triage. Processing continues asynchronously; the
// response carries the session id to poll or stream.
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if !validation.IsValidID(req.CustomerID) || !validation.IsValidID(req.TransactionID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "customerId and transactionId must be prefixed identifiers",
		})
		return
	}
	if req.SessionID != "" && !validation.IsValidID(req.SessionID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed sessionId"})
		return
	}

	sess, err := h.service.Start(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrThreatBlocked):
			c.JSON(http.StatusForbidden, gin.H{"error": "threat_blocked", "message": "request rejected by input screening"})
		case errors.Is(err, ErrAdmissionRejected):
			c.Header("Retry-After", "1")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admission_rejected", "message": "concurrent session capacity reached, retry shortly"})
		default:
			h.logger.Error("failed to start session", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"sessionId": sess.ID, "status": sess.Status})
}

type sessionResponse struct {
	SessionID       string                 `json:"sessionId"`
	Status          Status                 `json:"status"`
	Assessment      any                    `json:"assessment,omitempty"`
	Summary         string                 `json:"summary,omitempty"`
	ProposedActions []string               `json:"proposedActions,omitempty"`
	Error           string                 `json:"error,omitempty"`
	FallbacksUsed   []string               `json:"fallbacksUsed"`
	PolicyBlocks    []compliance.Violation `json:"policyBlocks"`
	Steps           []stepSummary          `json:"steps"`
	CreatedAt       time.Time              `json:"createdAt"`
}

type stepSummary struct {
	ID         StepID `json:"id"`
	Status     string `json:"status"`
	Input      string `json:"input,omitempty"`
	Attempts   int    `json:"attempts"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// Get handles GET /v1/triage/:id.
func (h *Handler) Get(c *gin.Context) {
	sess, err := h.service.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
		return
	}

	resp := sessionResponse{
		SessionID:       sess.ID,
		Status:          sess.Status,
		Summary:         sess.Summary,
		ProposedActions: sess.ProposedActions,
		Error:           sess.Error,
		FallbacksUsed:   sess.FallbacksUsed,
		PolicyBlocks:    []compliance.Violation{},
		Steps:           make([]stepSummary, 0, len(sess.Steps)),
		CreatedAt:       sess.CreatedAt,
	}
	if sess.FallbacksUsed == nil {
		resp.FallbacksUsed = []string{}
	}
	if sess.Assessment != nil {
		resp.Assessment = sess.Assessment
	}
	if sess.Verdict != nil {
		for _, v := range sess.Verdict.Violations {
			if v.Action == compliance.ActionBlock {
				resp.PolicyBlocks = append(resp.PolicyBlocks, v)
			}
		}
	}
	for _, step := range sess.Steps {
		resp.Steps = append(resp.Steps, stepSummary{
			ID:         step.ID,
			Status:     step.Status,
			Input:      step.Input,
			Attempts:   step.Attempts,
			DurationMs: step.Duration.Milliseconds(),
			Error:      step.Error,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// Stream handles GET /v1/triage/:id/stream. Events emitted before the
// subscriber connected are replayed first; unknown sessions get a terminal
// session_not_found event over the socket rather than an HTTP error.
func (h *Handler) Stream(c *gin.Context) {
	id := c.Param("id")

	sess, err := h.service.Get(id)
	if err != nil {
		h.hub.Subscribe(c.Writer, c.Request, id, []*realtime.Event{{
			Type:      EventSessionNotFound,
			SessionID: id,
			Timestamp: time.Now(),
			Terminal:  true,
		}})
		return
	}

	h.hub.Subscribe(c.Writer, c.Request, id, sess.Events)
}
