package server

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) DrainJobs(c *gin.Context) {
	batchSize := 0
	if raw := c.Query("batch_size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		batchSize = parsed
	}

	stats, err := s.jobQueueSvc.Drain(c.Request.Context(), batchSize)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"claimed":   stats.Claimed,
		"completed": stats.Completed,
		"retried":   stats.Retried,
		"failed":    stats.Failed,
	})
}

func (s *Server) ResetStaleJobs(c *gin.Context) {
	reset, err := s.jobQueueSvc.ResetStale(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "reset": reset})
}

func (s *Server) JobStats(c *gin.Context) {
	counts, err := s.jobRepo.CountByStatus(c.Request.Context(), s.db)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

func (s *Server) RunReconcileSweep(c *gin.Context) {
	minutesBack, ok := parseMinutesBack(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var locations []string
	if raw := strings.TrimSpace(c.Query("locations")); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				locations = append(locations, id)
			}
		}
	}

	sweep, err := s.reconcileSvc.Sweep(c.Request.Context(), minutesBack, locations)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, sweep)
}

// OpsReconcileRateLimit applies the per-vendor token bucket to the
// operator reconcile trigger.
func (s *Server) OpsReconcileRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.opsLimiter.Enabled() {
			c.Next()
			return
		}

		vendorSlug := c.Param("slug")
		result, err := s.opsLimiter.AllowVendor(c.Request.Context(), vendorSlug)
		if err != nil {
			s.log.Warn("ops reconcile rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			if s.metrics != nil {
				s.metrics.RecordRateLimitDenied(c.Request.Context(), "ops_reconcile", "vendor-rate")
			}
			retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}

		if s.metrics != nil {
			s.metrics.RecordRateLimitAllowed(c.Request.Context(), "ops_reconcile")
		}
		c.Next()
	}
}

func (s *Server) ReconcileVendor(c *gin.Context) {
	minutesBack, ok := parseMinutesBack(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	stats, err := s.reconcileSvc.ReconcileVendor(c.Request.Context(), c.Param("slug"), minutesBack)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func parseMinutesBack(c *gin.Context) (int, bool) {
	raw := c.Query("minutes_back")
	if raw == "" {
		return 0, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return 0, false
	}
	return parsed, true
}
