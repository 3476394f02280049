package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/pharmatrace/services/provenance/internal/cache"
	"example.com/pharmatrace/services/provenance/internal/metrics"
	"example.com/pharmatrace/services/provenance/internal/tracing"
)

// RequestLogger logs every request with latency and status
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= 500 {
			event = log.Error()
		} else if status >= 400 {
			event = log.Warn()
		}
		event.
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Str("method", c.Request.Method).
			Str("path", path).
			Msg("Request processed")
	}
}

// RequestMetrics counts requests and records handler latency
func RequestMetrics(collector *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		collector.IncrCounter("http.requests")
		if c.Writer.Status() >= 400 {
			collector.IncrCounter("http.errors")
		}
		collector.RecordTimer("http.request", time.Since(start))
	}
}

// Tracing opens a tracer transaction per request
func Tracing(tracer tracing.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		txn := tracer.StartTransaction(c.Request.Method + " " + c.FullPath())
		defer tracer.EndTransaction(txn)

		tracer.AddAttribute(txn, "client_ip", c.ClientIP())
		c.Next()

		if len(c.Errors) > 0 {
			tracer.RecordError(txn, c.Errors.Last())
		}
	}
}

// Idempotency rejects replays of a request carrying an already-seen
// Idempotency-Key header. Keys live in Redis so the check holds across
// replicas.
func Idempotency(redisCache *cache.RedisCache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("Idempotency-Key")
		if key == "" || !redisCache.Enabled() {
			c.Next()
			return
		}

		first, err := redisCache.SetNX(c.Request.Context(), cache.IdempotencyCacheKey(key), ttl)
		if err != nil {
			log.Warn().Err(err).Msg("Idempotency check failed, letting request through")
			c.Next()
			return
		}
		if !first {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "Duplicate request"})
			return
		}

		c.Next()
	}
}

// ScanRateLimit caps verification traffic per scanner. The counter key is
// the device hash when the scanner presents one, the client IP otherwise.
func ScanRateLimit(redisCache *cache.RedisCache, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !redisCache.Enabled() {
			c.Next()
			return
		}

		scanner := c.GetHeader("X-Device-Hash")
		if scanner == "" {
			scanner = c.ClientIP()
		}

		count, err := redisCache.Increment(c.Request.Context(), cache.ScanRateCacheKey(scanner), window)
		if err != nil {
			log.Warn().Err(err).Msg("Rate limit check failed, letting request through")
			c.Next()
			return
		}
		if count > int64(limit) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}

		c.Next()
	}
}
