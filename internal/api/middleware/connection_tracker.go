package middleware

import (
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// ConnectionTracker counts in-flight requests. Unlike the Prometheus gauge it
// runs regardless of whether metrics are enabled, so /healthz can report it.
type ConnectionTracker struct {
	count atomic.Int64
}

func (ct *ConnectionTracker) Increment() { ct.count.Add(1) }

func (ct *ConnectionTracker) Decrement() { ct.count.Add(-1) }

// Count returns the number of requests currently being served.
func (ct *ConnectionTracker) Count() int64 {
	return ct.count.Load()
}

// ActiveConnections is the tracker installed by ConnectionTrackerMiddleware.
var ActiveConnections = &ConnectionTracker{}

// ConnectionTrackerMiddleware counts requests for the lifetime of the handler chain.
func ConnectionTrackerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ActiveConnections.Increment()
		defer ActiveConnections.Decrement()
		c.Next()
	}
}
