package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/pharmatrace/services/provenance/internal/services"
	"example.com/pharmatrace/services/provenance/internal/tracing"
)

// ResetHandler handles the reset request/approve workflow
type ResetHandler struct {
	resetService *services.ResetService
	tracer       tracing.Tracer
}

// NewResetHandler creates a new reset handler
func NewResetHandler(resetService *services.ResetService, tracer tracing.Tracer) *ResetHandler {
	return &ResetHandler{
		resetService: resetService,
		tracer:       tracer,
	}
}

// HandleRequestReset opens a pending reset request for a claimed bottle
func (h *ResetHandler) HandleRequestReset(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-request-reset")
	defer h.tracer.EndTransaction(txn)

	bottleID := c.Param("bottleId")
	h.tracer.AddAttribute(txn, "bottle_id", bottleID)

	// The reason is optional, so a bodyless request is fine
	var req services.ResetRequestPayload
	if err := bindJSONAllowEmpty(c, &req); err != nil {
		log.Error().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	actor := services.Actor{ID: c.GetHeader("X-Actor-ID")}

	result, err := h.resetService.RequestReset(c, bottleID, req, actor)
	if err != nil {
		log.Error().Err(err).Str("bottle_id", bottleID).Msg("Failed to request reset")
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if !result.Requested {
		status = http.StatusTooManyRequests
	}
	c.JSON(status, result)
}

// HandleApproveReset approves the bottle's pending reset request
func (h *ResetHandler) HandleApproveReset(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-approve-reset")
	defer h.tracer.EndTransaction(txn)

	bottleID := c.Param("bottleId")
	h.tracer.AddAttribute(txn, "bottle_id", bottleID)

	approver := services.Actor{ID: c.GetHeader("X-Actor-ID")}

	result, err := h.resetService.ApproveReset(c, bottleID, approver)
	if err != nil {
		log.Error().Err(err).Str("bottle_id", bottleID).Msg("Failed to approve reset")
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if !result.Approved {
		status = http.StatusNotFound
	}
	c.JSON(status, result)
}

// RegisterRoutes registers the handler's routes
func (h *ResetHandler) RegisterRoutes(router gin.IRouter) {
	router.POST("/bottles/:bottleId/reset-requests", h.HandleRequestReset)
	router.POST("/bottles/:bottleId/reset-approvals", h.HandleApproveReset)
}
