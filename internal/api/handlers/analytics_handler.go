package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/pharmatrace/services/provenance/internal/services"
	"example.com/pharmatrace/services/provenance/internal/tracing"
)

// AnalyticsHandler handles aggregate reporting requests
type AnalyticsHandler struct {
	analyticsService *services.AnalyticsService
	tracer           tracing.Tracer
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(analyticsService *services.AnalyticsService, tracer tracing.Tracer) *AnalyticsHandler {
	return &AnalyticsHandler{
		analyticsService: analyticsService,
		tracer:           tracer,
	}
}

// HandleGetSummary returns ledger-wide batch and bottle totals
func (h *AnalyticsHandler) HandleGetSummary(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-analytics-summary")
	defer h.tracer.EndTransaction(txn)

	summary, err := h.analyticsService.GetSummary(c)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// HandleGetManufacturerOverview groups batch and bottle counts by
// manufacturer within an optional time window
func (h *AnalyticsHandler) HandleGetManufacturerOverview(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-analytics-manufacturers")
	defer h.tracer.EndTransaction(txn)

	from, ok := timeQuery(c, "from")
	if !ok {
		return
	}
	to, ok := timeQuery(c, "to")
	if !ok {
		return
	}

	overview, err := h.analyticsService.GetManufacturerOverview(c, c.Query("manufacturerId"), from, to)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"manufacturers": overview})
}

// HandleGetGeoOverview groups scan activity near a point
func (h *AnalyticsHandler) HandleGetGeoOverview(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-analytics-geo")
	defer h.tracer.EndTransaction(txn)

	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat is required and must be a number"})
		return
	}
	lng, err := strconv.ParseFloat(c.Query("lng"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lng is required and must be a number"})
		return
	}

	from, ok := timeQuery(c, "from")
	if !ok {
		return
	}
	to, ok := timeQuery(c, "to")
	if !ok {
		return
	}

	query := services.GeoQuery{
		Lat:            lat,
		Lng:            lng,
		DistanceMeters: intQuery(c, "distance", 0),
		From:           from,
		To:             to,
	}

	buckets, err := h.analyticsService.GetGeoOverview(c, query)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query geo overview")
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"buckets": buckets})
}

// timeQuery parses an optional RFC 3339 query parameter, responding 400
// itself when the value is malformed
func timeQuery(c *gin.Context, name string) (*time.Time, bool) {
	value := c.Query(name)
	if value == "" {
		return nil, true
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be an RFC 3339 timestamp"})
		return nil, false
	}
	return &parsed, true
}

// RegisterRoutes registers the handler's routes
func (h *AnalyticsHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/analytics/summary", h.HandleGetSummary)
	router.GET("/analytics/manufacturers", h.HandleGetManufacturerOverview)
	router.GET("/analytics/geo", h.HandleGetGeoOverview)
}
