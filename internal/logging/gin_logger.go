// Package logging configures the process-wide logrus logger and provides Gin
// middleware for request logging and panic recovery. Recent entries are kept in
// an in-memory ring buffer that backs the /v1/logs endpoint.
package logging

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/router-for-me/CodeBuddyAPI/internal/util"
	log "github.com/sirupsen/logrus"
)

const (
	skipGinLogKey   = "__gin_skip_request_logging__"
	chatLogKey      = "codebuddy.chat"
	maxUserAgentLen = 120
)

// ChatLogInfo describes the chat completion served by a request. The access
// log appends it to the request line.
type ChatLogInfo struct {
	Model        string
	CredentialID string
	Stream       bool
}

// SetChatLogInfo attaches chat details to c for the access log. Later calls
// overwrite earlier ones.
func SetChatLogInfo(c *gin.Context, info ChatLogInfo) {
	if c == nil {
		return
	}
	c.Set(chatLogKey, info)
}

func chatLogInfo(c *gin.Context) (ChatLogInfo, bool) {
	val, ok := c.Get(chatLogKey)
	if !ok {
		return ChatLogInfo{}, false
	}
	info, ok := val.(ChatLogInfo)
	return info, ok
}

// GinLogrusLogger logs one line per request through logrus and propagates an
// X-Request-Id header, generating one when the caller did not send it.
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := strings.TrimSpace(c.Request.Header.Get("X-Request-Id"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-Id", requestID)

		c.Next()

		if shouldSkipGinRequestLogging(c) {
			return
		}

		path := c.Request.URL.Path
		if raw := util.MaskSensitiveQuery(c.Request.URL.RawQuery); raw != "" {
			path += "?" + raw
		}
		latency := roundLatency(time.Since(start))
		status := c.Writer.Status()

		fields := log.Fields{
			"status":     status,
			"latency_ms": latency.Milliseconds(),
			"client_ip":  c.ClientIP(),
			"method":     c.Request.Method,
			"path":       path,
			"request_id": requestID,
			"bytes_out":  c.Writer.Size(),
		}
		line := fmt.Sprintf("%3d | %10v | %-7s %s", status, latency, c.Request.Method, path)

		if info, ok := chatLogInfo(c); ok {
			fields["model"] = info.Model
			fields["stream"] = info.Stream
			if info.CredentialID != "" {
				fields["credential"] = info.CredentialID
			}
			mode := "sync"
			if info.Stream {
				mode = "stream"
			}
			line += fmt.Sprintf(" | %s %s", mode, info.Model)
		}
		if ua := c.Request.UserAgent(); ua != "" {
			if len(ua) > maxUserAgentLen {
				ua = ua[:maxUserAgentLen] + "..."
			}
			fields["user_agent"] = ua
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			line += " | " + errs
		}

		entry := log.WithFields(fields)
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error(line)
		case status >= http.StatusBadRequest:
			entry.Warn(line)
		default:
			entry.Info(line)
		}
	}
}

// Long streams are reported in whole seconds.
func roundLatency(d time.Duration) time.Duration {
	if d > time.Minute {
		return d.Truncate(time.Second)
	}
	return d.Truncate(time.Millisecond)
}

// GinLogrusRecovery recovers from handler panics, logs the stack and answers 500.
func GinLogrusRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.WithFields(log.Fields{
			"panic": recovered,
			"stack": string(debug.Stack()),
			"path":  c.Request.URL.Path,
		}).Error("recovered from panic")

		c.AbortWithStatus(http.StatusInternalServerError)
	})
}

// SkipGinRequestLogging marks c so GinLogrusLogger emits nothing for it.
func SkipGinRequestLogging(c *gin.Context) {
	if c == nil {
		return
	}
	c.Set(skipGinLogKey, true)
}

func shouldSkipGinRequestLogging(c *gin.Context) bool {
	if c == nil {
		return false
	}
	skip, _ := c.Get(skipGinLogKey)
	flag, _ := skip.(bool)
	return flag
}
