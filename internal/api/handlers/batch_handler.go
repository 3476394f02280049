package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/pharmatrace/services/provenance/internal/services"
	"example.com/pharmatrace/services/provenance/internal/tracing"
)

// BatchHandler handles batch-related HTTP requests
type BatchHandler struct {
	batchService  *services.BatchService
	exportService *services.ExportService
	tracer        tracing.Tracer
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(batchService *services.BatchService, exportService *services.ExportService, tracer tracing.Tracer) *BatchHandler {
	return &BatchHandler{
		batchService:  batchService,
		exportService: exportService,
		tracer:        tracer,
	}
}

// HandleCreateBatch registers a new batch
func (h *BatchHandler) HandleCreateBatch(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-create-batch")
	defer h.tracer.EndTransaction(txn)

	var req services.BatchPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	h.tracer.AddAttribute(txn, "batch_id", req.BatchID)

	batch, err := h.batchService.Create(c, req)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, batch)
}

// HandleListBatches lists batches, optionally filtered by manufacturer
func (h *BatchHandler) HandleListBatches(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-list-batches")
	defer h.tracer.EndTransaction(txn)

	page := intQuery(c, "page", 1)
	limit := intQuery(c, "limit", 25)

	batches, err := h.batchService.List(c, c.Query("manufacturerId"), page, limit)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"batches": batches, "page": page, "limit": limit})
}

// HandleGetBatch loads one batch by its public identifier
func (h *BatchHandler) HandleGetBatch(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-get-batch")
	defer h.tracer.EndTransaction(txn)

	batchID := c.Param("batchId")
	h.tracer.AddAttribute(txn, "batch_id", batchID)

	batch, err := h.batchService.GetByID(c, batchID)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, batch)
}

// HandleConfirmMint provisions a batch's bottles after its on-chain mint is
// confirmed
func (h *BatchHandler) HandleConfirmMint(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-confirm-mint")
	defer h.tracer.EndTransaction(txn)

	batchID := c.Param("batchId")
	h.tracer.AddAttribute(txn, "batch_id", batchID)

	var req services.ConfirmMintPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	result, err := h.batchService.ConfirmMint(c, batchID, req)
	if err != nil {
		log.Error().Err(err).Str("batch_id", batchID).Msg("Failed to confirm mint")
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleExportManifest streams the batch manifest as a CSV attachment
func (h *BatchHandler) HandleExportManifest(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-export-manifest")
	defer h.tracer.EndTransaction(txn)

	batchID := c.Param("batchId")
	h.tracer.AddAttribute(txn, "batch_id", batchID)

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="manifest-`+batchID+`.csv"`)

	if err := h.exportService.WriteManifest(c, c.Writer, batchID); err != nil {
		log.Error().Err(err).Str("batch_id", batchID).Msg("Failed to export manifest")
		h.tracer.RecordError(txn, err)
		// Headers may already be out; only respond with JSON if nothing was written
		if !c.Writer.Written() {
			respondError(c, err)
		}
		return
	}
}

// RegisterRoutes registers the handler's routes
func (h *BatchHandler) RegisterRoutes(router gin.IRouter) {
	router.POST("/batches", h.HandleCreateBatch)
	router.GET("/batches", h.HandleListBatches)
	router.GET("/batches/:batchId", h.HandleGetBatch)
	router.POST("/batches/:batchId/mint", h.HandleConfirmMint)
	router.GET("/batches/:batchId/manifest", h.HandleExportManifest)
}
