package services

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"example.com/pharmatrace/services/provenance/internal/repositories"
	"example.com/pharmatrace/services/provenance/internal/search"
)

// Summary aggregates the whole ledger
type Summary struct {
	TotalBatches int64 `json:"totalBatches"`
	TotalBottles int64 `json:"totalBottles"`
}

// GeoQuery bounds a geo overview: scans within DistanceMeters of the point,
// optionally inside a time window
type GeoQuery struct {
	Lat            float64
	Lng            float64
	DistanceMeters int
	From           *time.Time
	To             *time.Time
}

// ScanSearcher is the slice of the search client analytics depends on
type ScanSearcher interface {
	GeoOverview(ctx context.Context, lat, lon float64, distanceMeters int, from, to *time.Time) ([]search.GeoBucket, error)
}

// AnalyticsService aggregates batches and scan activity for dashboards
type AnalyticsService struct {
	batchRepo repositories.BatchRepository
	searcher  ScanSearcher
}

// NewAnalyticsService creates a new analytics service. The searcher may be
// nil; geo queries then fail with a configuration message.
func NewAnalyticsService(batchRepo repositories.BatchRepository, searcher ScanSearcher) *AnalyticsService {
	return &AnalyticsService{batchRepo: batchRepo, searcher: searcher}
}

// GetSummary returns ledger-wide batch and bottle totals
func (s *AnalyticsService) GetSummary(ctx context.Context) (*Summary, error) {
	totalBatches, err := s.batchRepo.Count(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count batches")
	}

	totalBottles, err := s.batchRepo.TotalBottles(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sum bottle counts")
	}

	return &Summary{TotalBatches: totalBatches, TotalBottles: totalBottles}, nil
}

// GetManufacturerOverview groups batch and bottle counts by manufacturer
func (s *AnalyticsService) GetManufacturerOverview(ctx context.Context, manufacturerID string, from, to *time.Time) ([]repositories.ManufacturerTotals, error) {
	return s.batchRepo.ManufacturerOverview(ctx, manufacturerID, from, to)
}

// GetGeoOverview groups scan activity near a point by token hash, from the
// search index
func (s *AnalyticsService) GetGeoOverview(ctx context.Context, query GeoQuery) ([]search.GeoBucket, error) {
	if s.searcher == nil {
		return nil, errors.New("search index is not configured")
	}
	if query.DistanceMeters <= 0 {
		query.DistanceMeters = 5000
	}
	return s.searcher.GeoOverview(ctx, query.Lat, query.Lng, query.DistanceMeters, query.From, query.To)
}
