package management

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CodeBuddyAPI/internal/usage"
	log "github.com/sirupsen/logrus"
)

// GetUsageStatistics returns the in-memory request statistics snapshot.
func (h *Handler) GetUsageStatistics(c *gin.Context) {
	var snapshot usage.StatisticsSnapshot
	if h != nil && h.usageStats != nil {
		snapshot = h.usageStats.Snapshot()
	}

	byModel := make(map[string]int64, len(snapshot.Models))
	for name, m := range snapshot.Models {
		byModel[name] = m.TotalRequests
	}

	c.JSON(http.StatusOK, gin.H{
		"usage":           snapshot,
		"by_model":        byModel,
		"failed_requests": snapshot.FailureCount,
	})
}

// GetLogs returns recent entries from the in-process log buffer.
// Query parameters: limit (default 100) and level (minimum severity, default debug).
func (h *Handler) GetLogs(c *gin.Context) {
	limit := 100
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	minLevel := log.TraceLevel
	if raw := strings.TrimSpace(c.Query("level")); raw != "" {
		lvl, err := log.ParseLevel(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "unknown log level")
			return
		}
		minLevel = lvl
	}

	entries := h.logs.Recent(limit, minLevel)
	c.JSON(http.StatusOK, gin.H{
		"logs":     entries,
		"count":    len(entries),
		"capacity": h.logs.Cap(),
	})
}
