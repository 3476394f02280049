package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/pharmatrace/services/provenance/internal/services"
	"example.com/pharmatrace/services/provenance/internal/tracing"
)

// VerifyHandler handles token verification scans
type VerifyHandler struct {
	verificationService *services.VerificationService
	tracer              tracing.Tracer
}

// NewVerifyHandler creates a new verify handler
func NewVerifyHandler(verificationService *services.VerificationService, tracer tracing.Tracer) *VerifyHandler {
	return &VerifyHandler{
		verificationService: verificationService,
		tracer:              tracer,
	}
}

// VerifyRequest represents an incoming scan with optional scanner context
type VerifyRequest struct {
	QRToken    string   `json:"qrToken" binding:"required"`
	DeviceHash string   `json:"deviceHash"`
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
}

// HandleVerifyToken judges a scanned token posted in the request body
func (h *VerifyHandler) HandleVerifyToken(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-verify-token")
	defer h.tracer.EndTransaction(txn)

	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	deviceHash := req.DeviceHash
	if deviceHash == "" {
		deviceHash = c.GetHeader("X-Device-Hash")
	}

	meta := services.ScanMeta{
		DeviceHash: deviceHash,
		Lat:        req.Lat,
		Lng:        req.Lng,
	}

	result, err := h.verificationService.VerifyCode(c, req.QRToken, meta)
	if err != nil {
		log.Error().Err(err).Msg("Failed to verify token")
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	h.tracer.AddAttribute(txn, "valid", result.Valid)

	c.JSON(http.StatusOK, result)
}

// HandleVerifyTokenByPath judges a token carried in the URL, for scanners
// that can only follow a link
func (h *VerifyHandler) HandleVerifyTokenByPath(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-verify-token-path")
	defer h.tracer.EndTransaction(txn)

	meta := services.ScanMeta{DeviceHash: c.GetHeader("X-Device-Hash")}

	result, err := h.verificationService.VerifyCode(c, c.Param("qrToken"), meta)
	if err != nil {
		log.Error().Err(err).Msg("Failed to verify token")
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	h.tracer.AddAttribute(txn, "valid", result.Valid)

	c.JSON(http.StatusOK, result)
}

// RegisterRoutes registers the handler's routes
func (h *VerifyHandler) RegisterRoutes(router gin.IRouter) {
	router.POST("/verify", h.HandleVerifyToken)
	router.POST("/scan/validate", h.HandleVerifyToken)
	router.GET("/verify/:qrToken", h.HandleVerifyTokenByPath)
}
