package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/pharmatrace/services/provenance/internal/services"
	"example.com/pharmatrace/services/provenance/internal/tracing"
)

// BottleHandler handles bottle-related HTTP requests
type BottleHandler struct {
	bottleService *services.BottleService
	claimService  *services.ClaimService
	tracer        tracing.Tracer
}

// NewBottleHandler creates a new bottle handler
func NewBottleHandler(bottleService *services.BottleService, claimService *services.ClaimService, tracer tracing.Tracer) *BottleHandler {
	return &BottleHandler{
		bottleService: bottleService,
		claimService:  claimService,
		tracer:        tracer,
	}
}

// HandleListBottles lists bottles filtered by batch and state
func (h *BottleHandler) HandleListBottles(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-list-bottles")
	defer h.tracer.EndTransaction(txn)

	page := intQuery(c, "page", 1)
	limit := intQuery(c, "limit", 25)

	bottles, err := h.bottleService.List(c, c.Query("batchId"), c.Query("state"), page, limit)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"bottles": bottles, "page": page, "limit": limit})
}

// HandleCreateBottle registers a single bottle outside the bulk mint path
func (h *BottleHandler) HandleCreateBottle(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-create-bottle")
	defer h.tracer.EndTransaction(txn)

	var req services.BottlePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	bottle, err := h.bottleService.Create(c, req)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, bottle)
}

// HandleGetBottle loads one bottle by its public identifier
func (h *BottleHandler) HandleGetBottle(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-get-bottle")
	defer h.tracer.EndTransaction(txn)

	bottleID := c.Param("bottleId")
	h.tracer.AddAttribute(txn, "bottle_id", bottleID)

	bottle, err := h.bottleService.GetByID(c, bottleID)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, bottle)
}

// HandleGetSignedToken issues the server-signed label token for a bottle
func (h *BottleHandler) HandleGetSignedToken(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-get-signed-token")
	defer h.tracer.EndTransaction(txn)

	bottleID := c.Param("bottleId")
	h.tracer.AddAttribute(txn, "bottle_id", bottleID)

	token, err := h.bottleService.SignedToken(c, bottleID)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"bottleId": bottleID, "token": token})
}

// HandleClaimBottle takes consumer ownership of a bottle
func (h *BottleHandler) HandleClaimBottle(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-claim-bottle")
	defer h.tracer.EndTransaction(txn)

	bottleID := c.Param("bottleId")
	h.tracer.AddAttribute(txn, "bottle_id", bottleID)

	actor := services.Actor{ID: c.GetHeader("X-Actor-ID")}

	result, err := h.claimService.Claim(c, bottleID, actor)
	if err != nil {
		log.Error().Err(err).Str("bottle_id", bottleID).Msg("Failed to claim bottle")
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if !result.Claimed {
		status = http.StatusConflict
	}
	c.JSON(status, result)
}

// ClaimByTokenRequest represents a claim carrying the scanned token instead
// of a bottle id
type ClaimByTokenRequest struct {
	QRToken string `json:"qrToken" binding:"required"`
}

// HandleClaimByToken claims the bottle behind a scanned token
func (h *BottleHandler) HandleClaimByToken(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-claim-by-token")
	defer h.tracer.EndTransaction(txn)

	var req ClaimByTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	actor := services.Actor{ID: c.GetHeader("X-Actor-ID")}

	result, err := h.claimService.ClaimByToken(c, req.QRToken, actor)
	if err != nil {
		log.Error().Err(err).Msg("Failed to claim bottle by token")
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if !result.Claimed {
		status = http.StatusConflict
	}
	c.JSON(status, result)
}

// RegisterGetRoutes registers the handler's read-only routes
func (h *BottleHandler) RegisterGetRoutes(router gin.IRouter) {
	router.GET("/bottles", h.HandleListBottles)
	router.GET("/bottles/:bottleId", h.HandleGetBottle)
	router.GET("/bottles/:bottleId/token", h.HandleGetSignedToken)
}

// RegisterMutateRoutes registers the handler's state-changing routes
func (h *BottleHandler) RegisterMutateRoutes(router gin.IRouter) {
	router.POST("/bottles", h.HandleCreateBottle)
	router.POST("/bottles/:bottleId/claim", h.HandleClaimBottle)
	router.POST("/scan/claim", h.HandleClaimByToken)
}
