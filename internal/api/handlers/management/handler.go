// Package management provides the credential, usage and log endpoints used to
// operate a running gateway.
package management

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CodeBuddyAPI/internal/credential"
	"github.com/router-for-me/CodeBuddyAPI/internal/logging"
	"github.com/router-for-me/CodeBuddyAPI/internal/usage"
)

// Handler serves the management endpoints.
type Handler struct {
	creds      *credential.Manager
	usageStats *usage.RequestStatistics
	logs       *logging.RingBuffer
	now        func() time.Time
}

// NewHandler creates a management handler. logs may be nil, in which case the
// process-wide logging.GlobalBuffer is served.
func NewHandler(creds *credential.Manager, stats *usage.RequestStatistics, logs *logging.RingBuffer) *Handler {
	if logs == nil {
		logs = logging.GlobalBuffer
	}
	return &Handler{creds: creds, usageStats: stats, logs: logs, now: time.Now}
}

func writeError(c *gin.Context, status int, message string) {
	errType := "invalid_request_error"
	if status >= http.StatusInternalServerError {
		errType = "server_error"
	}
	c.JSON(status, gin.H{"error": gin.H{"message": message, "type": errType}})
}
