// Package openai provides the OpenAI-compatible chat-completion and model
// listing endpoints served on top of CodeBuddy.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CodeBuddyAPI/internal/api/middleware"
	"github.com/router-for-me/CodeBuddyAPI/internal/credential"
	apperrors "github.com/router-for-me/CodeBuddyAPI/internal/errors"
	"github.com/router-for-me/CodeBuddyAPI/internal/logging"
	"github.com/router-for-me/CodeBuddyAPI/internal/runtime/executor"
	"github.com/router-for-me/CodeBuddyAPI/internal/usage"
	"github.com/router-for-me/CodeBuddyAPI/internal/util"
	"github.com/router-for-me/CodeBuddyAPI/sdk/api/handlers"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// OpenAIAPIHandler contains the handlers for the OpenAI-compatible endpoints.
type OpenAIAPIHandler struct {
	*handlers.BaseAPIHandler
}

// NewOpenAIAPIHandler creates a new OpenAI API handlers instance.
func NewOpenAIAPIHandler(apiHandlers *handlers.BaseAPIHandler) *OpenAIAPIHandler {
	return &OpenAIAPIHandler{
		BaseAPIHandler: apiHandlers,
	}
}

// HandlerType returns the identifier for this handler implementation.
func (h *OpenAIAPIHandler) HandlerType() string {
	return "openai"
}

// Models returns the configured model list in OpenAI format.
func (h *OpenAIAPIHandler) Models() []map[string]any {
	created := time.Now().Unix()
	models := h.Config().Models
	out := make([]map[string]any, 0, len(models))
	for _, id := range models {
		out = append(out, map[string]any{
			"id":       id,
			"object":   "model",
			"created":  created,
			"owned_by": "codebuddy",
		})
	}
	return out
}

// OpenAIModels handles GET /v1/models.
func (h *OpenAIAPIHandler) OpenAIModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   h.Models(),
	})
}

// ChatCompletions handles POST /v1/chat/completions. It validates the request,
// picks a credential, prepares the upstream payload and then either relays the
// upstream stream or returns one aggregated completion.
func (h *OpenAIAPIHandler) ChatCompletions(c *gin.Context) {
	rawJSON, err := c.GetRawData()
	if err != nil {
		h.WriteErrorResponse(c, apperrors.BadRequest(fmt.Sprintf("Invalid request: %v", err)))
		return
	}
	if !json.Valid(rawJSON) {
		h.WriteErrorResponse(c, apperrors.BadRequest("Invalid JSON request body"))
		return
	}
	if err = executor.ValidateChatRequest(rawJSON); err != nil {
		h.WriteErrorResponse(c, err)
		return
	}

	modelName := gjson.GetBytes(rawJSON, "model").String()
	if modelName == "" {
		modelName = "unknown"
	}
	stream := gjson.GetBytes(rawJSON, "stream").Bool()
	logging.SetChatLogInfo(c, logging.ChatLogInfo{Model: modelName, Stream: stream})

	cred, err := h.Credentials.Pool().Next()
	if err != nil {
		if errors.Is(err, credential.ErrNoCredential) {
			h.WriteErrorResponse(c, apperrors.Unauthorized("No CodeBuddy credential available"))
			return
		}
		h.WriteErrorResponse(c, apperrors.Internal("Failed to obtain credential", err))
		return
	}
	middleware.RecordCredentialSelection()
	logging.SetChatLogInfo(c, logging.ChatLogInfo{Model: modelName, CredentialID: cred.ID, Stream: stream})

	cfg := h.Config()
	payload, err := executor.PreparePayload(rawJSON, util.NewKeywordReplacer(cfg.KeywordReplacements))
	if err != nil {
		h.WriteErrorResponse(c, apperrors.Internal("Failed to prepare request", err))
		return
	}

	collector := &usage.Collector{}
	req := executor.Request{
		Credential: cred,
		Payload:    payload,
		Model:      modelName,
		Header:     c.Request.Header,
		OnChunk:    collector.Observe,
	}

	if stream {
		h.handleStreamingResponse(c, req, collector)
	} else {
		h.handleNonStreamingResponse(c, req, collector)
	}
}

func (h *OpenAIAPIHandler) handleNonStreamingResponse(c *gin.Context, req executor.Request, collector *usage.Collector) {
	ctx, cancel := h.GetContextWithCancel(c, c.Request.Context())
	defer cancel()

	completion, err := h.Executor.Execute(ctx, req)
	h.recordUsage(req, collector, false, err != nil)
	if err != nil {
		h.WriteErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, completion)
}

func (h *OpenAIAPIHandler) handleStreamingResponse(c *gin.Context, req executor.Request, collector *usage.Collector) {
	if _, ok := c.Writer.(http.Flusher); !ok {
		h.WriteErrorResponse(c, apperrors.Internal("Streaming not supported", nil))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()

	ctx, cancel := h.GetContextWithCancel(c, c.Request.Context())
	defer cancel()

	err := h.Executor.ExecuteStream(ctx, c.Writer, req)
	h.recordUsage(req, collector, true, err != nil)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		log.Debugf("client disconnected during %s stream", req.Model)
		return
	}
	var statusErr *executor.StatusError
	if errors.As(err, &statusErr) {
		middleware.RecordAPIError(apperrors.As(err).Type)
		return
	}
	log.WithError(err).Warnf("stream for %s ended with error", req.Model)
	middleware.RecordAPIError(apperrors.TypeUpstream)
}

func (h *OpenAIAPIHandler) recordUsage(req executor.Request, collector *usage.Collector, stream, failed bool) {
	tokens, estimated := collector.Tokens(req.Model, req.Payload)
	if !failed {
		middleware.RecordTokenUsage(req.Model, "prompt", tokens.PromptTokens)
		middleware.RecordTokenUsage(req.Model, "completion", tokens.CompletionTokens)
	}
	if h.Usage == nil {
		return
	}
	h.Usage.Record(usage.Record{
		Model:        req.Model,
		CredentialID: req.Credential.ID,
		Stream:       stream,
		Failed:       failed,
		Tokens:       tokens,
		Estimated:    estimated,
		RequestedAt:  time.Now(),
	})
}
