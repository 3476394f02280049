package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/pharmatrace/services/provenance/config"
)

// ScanDocument is the shape of one scan event in the search index
type ScanDocument struct {
	ScanLogID   string     `json:"scan_log_id"`
	QRTokenHash string     `json:"qr_token_hash"`
	BottleID    string     `json:"bottle_id,omitempty"`
	BatchID     string     `json:"batch_id,omitempty"`
	DeviceHash  string     `json:"device_hash,omitempty"`
	Valid       bool       `json:"valid"`
	Reason      string     `json:"reason,omitempty"`
	Location    *GeoPoint  `json:"location,omitempty"`
	ScannedAt   time.Time  `json:"scanned_at"`
}

// GeoPoint is a lat/lon pair in Elasticsearch geo_point form
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// GeoBucket is one aggregation row of the geo overview: scans of a single
// token hash near the query point
type GeoBucket struct {
	QRTokenHash string    `json:"qrTokenHash"`
	Count       int64     `json:"count"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// ElasticClient provides integration with Elasticsearch
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

// EnsureIndex creates the scan index with its geo_point mapping when missing
func (c *ElasticClient) EnsureIndex(ctx context.Context) error {
	indexName := config.FormatIndex(c.config, c.config.Index)

	existsRes, err := esapi.IndicesExistsRequest{Index: []string{indexName}}.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to check scan index existence")
	}
	defer existsRes.Body.Close()
	if existsRes.StatusCode == 200 {
		return nil
	}

	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"scan_log_id":   map[string]interface{}{"type": "keyword"},
				"qr_token_hash": map[string]interface{}{"type": "keyword"},
				"bottle_id":     map[string]interface{}{"type": "keyword"},
				"batch_id":      map[string]interface{}{"type": "keyword"},
				"device_hash":   map[string]interface{}{"type": "keyword"},
				"valid":         map[string]interface{}{"type": "boolean"},
				"reason":        map[string]interface{}{"type": "keyword"},
				"location":      map[string]interface{}{"type": "geo_point"},
				"scanned_at":    map[string]interface{}{"type": "date"},
			},
		},
	}

	body, err := json.Marshal(mapping)
	if err != nil {
		return errors.Wrap(err, "failed to marshal scan index mapping")
	}

	res, err := esapi.IndicesCreateRequest{
		Index: indexName,
		Body:  bytes.NewReader(body),
	}.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to create scan index")
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.Errorf("Elasticsearch index creation error: %s", res.String())
	}

	log.Info().Str("index", indexName).Msg("scan index created")
	return nil
}

// IndexScan indexes one scan event, keyed by its scan log id so replays are
// idempotent
func (c *ElasticClient) IndexScan(ctx context.Context, doc ScanDocument) error {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal scan document")
	}

	indexName := config.FormatIndex(c.config, c.config.Index)
	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: doc.ScanLogID,
		Body:       bytes.NewReader(docJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error: %v", e)
	}

	return nil
}

// GeoOverview aggregates scans within distanceMeters of the given point,
// grouped by token hash, optionally bounded by a time window
func (c *ElasticClient) GeoOverview(ctx context.Context, lat, lon float64, distanceMeters int, from, to *time.Time) ([]GeoBucket, error) {
	filters := []map[string]interface{}{
		{
			"geo_distance": map[string]interface{}{
				"distance": fmt.Sprintf("%dm", distanceMeters),
				"location": map[string]interface{}{"lat": lat, "lon": lon},
			},
		},
	}
	if from != nil || to != nil {
		window := map[string]interface{}{}
		if from != nil {
			window["gte"] = from.Format(time.RFC3339)
		}
		if to != nil {
			window["lte"] = to.Format(time.RFC3339)
		}
		filters = append(filters, map[string]interface{}{
			"range": map[string]interface{}{"scanned_at": window},
		})
	}

	query := map[string]interface{}{
		"size": 0,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"filter": filters},
		},
		"aggs": map[string]interface{}{
			"by_token": map[string]interface{}{
				"terms": map[string]interface{}{
					"field": "qr_token_hash",
					"size":  100,
				},
				"aggs": map[string]interface{}{
					"last_seen": map[string]interface{}{
						"max": map[string]interface{}{"field": "scanned_at"},
					},
				},
			},
		},
	}

	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal geo overview query")
	}

	indexName := config.FormatIndex(c.config, c.config.Index)
	req := esapi.SearchRequest{
		Index: []string{indexName},
		Body:  bytes.NewReader(queryJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return nil, errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return nil, errors.Errorf("Elasticsearch search error: %v", e)
	}

	var result struct {
		Aggregations struct {
			ByToken struct {
				Buckets []struct {
					Key      string `json:"key"`
					DocCount int64  `json:"doc_count"`
					LastSeen struct {
						ValueAsString string `json:"value_as_string"`
					} `json:"last_seen"`
				} `json:"buckets"`
			} `json:"by_token"`
		} `json:"aggregations"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	buckets := make([]GeoBucket, 0, len(result.Aggregations.ByToken.Buckets))
	for _, bucket := range result.Aggregations.ByToken.Buckets {
		row := GeoBucket{
			QRTokenHash: bucket.Key,
			Count:       bucket.DocCount,
		}
		if bucket.LastSeen.ValueAsString != "" {
			if parsed, err := time.Parse(time.RFC3339, bucket.LastSeen.ValueAsString); err == nil {
				row.LastSeenAt = parsed
			}
		}
		buckets = append(buckets, row)
	}

	return buckets, nil
}
