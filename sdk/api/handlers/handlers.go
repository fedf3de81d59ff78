// Package handlers provides the shared pieces of the gateway's API handlers:
// the OpenAI error envelope, request contexts, and access to the credential
// pool, executor and usage store.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CodeBuddyAPI/internal/api/middleware"
	"github.com/router-for-me/CodeBuddyAPI/internal/config"
	"github.com/router-for-me/CodeBuddyAPI/internal/credential"
	apperrors "github.com/router-for-me/CodeBuddyAPI/internal/errors"
	"github.com/router-for-me/CodeBuddyAPI/internal/runtime/executor"
	"github.com/router-for-me/CodeBuddyAPI/internal/usage"
	log "github.com/sirupsen/logrus"
)

// ErrorResponse represents a standard error response format for the API.
// It contains a single ErrorDetail field.
type ErrorResponse struct {
	// Error contains detailed information about the error that occurred.
	Error ErrorDetail `json:"error"`
}

// ErrorDetail provides specific information about an error that occurred.
// It includes a human-readable message, an error type, and an optional error code.
type ErrorDetail struct {
	// Message is a human-readable message providing more details about the error.
	Message string `json:"message"`

	// Type is the category of error that occurred (e.g., "invalid_request_error").
	Type string `json:"type"`

	// Code is a short code identifying the error, if applicable.
	Code string `json:"code,omitempty"`
}

// BaseAPIHandler contains the dependencies shared by the API endpoints.
type BaseAPIHandler struct {
	// Credentials owns the credential pool and its backing store.
	Credentials *credential.Manager

	// Executor sends requests to CodeBuddy.
	Executor *executor.Executor

	// Usage collects per-model request statistics.
	Usage *usage.RequestStatistics

	cfg atomic.Pointer[config.Config]
}

// NewBaseAPIHandlers creates a new API handlers instance.
func NewBaseAPIHandlers(cfg *config.Config, creds *credential.Manager, exec *executor.Executor, stats *usage.RequestStatistics) *BaseAPIHandler {
	h := &BaseAPIHandler{
		Credentials: creds,
		Executor:    exec,
		Usage:       stats,
	}
	h.cfg.Store(cfg)
	return h
}

// UpdateClients swaps in a reloaded configuration.
func (h *BaseAPIHandler) UpdateClients(cfg *config.Config) {
	if cfg == nil {
		return
	}
	h.cfg.Store(cfg)
	if h.Executor != nil {
		h.Executor.UpdateConfig(cfg)
	}
}

// Config returns the configuration currently in effect.
func (h *BaseAPIHandler) Config() *config.Config {
	return h.cfg.Load()
}

// GetContextWithCancel derives a cancellable request context carrying the gin context.
func (h *BaseAPIHandler) GetContextWithCancel(c *gin.Context, ctx context.Context) (context.Context, context.CancelFunc) {
	newCtx, cancel := context.WithCancel(ctx)
	newCtx = context.WithValue(newCtx, "gin", c) //nolint:staticcheck // gin context lookups use this key
	return newCtx, cancel
}

// WriteErrorResponse writes err as an OpenAI error envelope. AppErrors keep
// their status and type; anything else becomes a 500.
func (h *BaseAPIHandler) WriteErrorResponse(c *gin.Context, err error) {
	appErr := apperrors.As(err)
	if appErr == nil {
		appErr = apperrors.Internal(http.StatusText(http.StatusInternalServerError), nil)
	}
	status := appErr.StatusCode()

	message := strings.TrimSpace(appErr.Message)
	if message == "" {
		message = http.StatusText(status)
	}
	errType := appErr.Type
	if errType == "" {
		errType = apperrors.TypeInvalidRequest
		if status >= http.StatusInternalServerError {
			errType = apperrors.TypeServer
		}
	}

	if status >= http.StatusInternalServerError {
		log.WithError(appErr).Errorf("request failed with status %d", status)
	} else {
		log.Debugf("request rejected with status %d: %s", status, message)
	}
	middleware.RecordAPIError(errType)

	// Always return a JSON error envelope for OpenAI-compatible clients.
	payload, _ := json.Marshal(ErrorResponse{
		Error: ErrorDetail{
			Message: message,
			Type:    errType,
			Code:    appErr.Code,
		},
	})
	if len(payload) == 0 {
		payload = []byte(`{"error":{"message":"unknown error","type":"server_error"}}`)
	}
	c.Header("Content-Type", "application/json")
	c.Status(status)
	_, _ = c.Writer.Write(payload)
}

// AbortWithError writes err and stops the handler chain.
func (h *BaseAPIHandler) AbortWithError(c *gin.Context, err error) {
	h.WriteErrorResponse(c, err)
	c.Abort()
}
