// Package executor sends prepared chat requests to CodeBuddy and turns the
// upstream event stream into OpenAI-compatible output.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/router-for-me/CodeBuddyAPI/internal/api/middleware"
	"github.com/router-for-me/CodeBuddyAPI/internal/config"
	"github.com/router-for-me/CodeBuddyAPI/internal/credential"
	apperrors "github.com/router-for-me/CodeBuddyAPI/internal/errors"
	"github.com/router-for-me/CodeBuddyAPI/internal/translator/codebuddy"
	"github.com/router-for-me/CodeBuddyAPI/internal/util"
	log "github.com/sirupsen/logrus"
)

// maxErrorBodyBytes bounds how much of an upstream error body is kept.
const maxErrorBodyBytes = 1 << 20

// Request is one prepared upstream call.
type Request struct {
	Credential credential.Credential
	// Payload is the body produced by PreparePayload.
	Payload []byte
	Model   string
	// Header is the caller's request header; conversation ids are taken from it.
	Header http.Header
	// OnChunk observes every decoded upstream chunk.
	OnChunk func(*codebuddy.Chunk)
}

// Executor talks to the CodeBuddy chat-completions endpoint.
type Executor struct {
	cfg     atomic.Pointer[config.Config]
	clients clientCache
	// sleep overrides the retry wait; tests set it.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor for cfg.
func NewExecutor(cfg *config.Config) *Executor {
	e := &Executor{}
	e.cfg.Store(cfg)
	return e
}

// Identifier returns the executor identifier.
func (e *Executor) Identifier() string { return "codebuddy" }

// UpdateConfig swaps the configuration used by later requests. The upstream
// client is rebuilt lazily if its settings changed.
func (e *Executor) UpdateConfig(cfg *config.Config) {
	if cfg != nil {
		e.cfg.Store(cfg)
	}
}

// Close releases idle upstream connections.
func (e *Executor) Close() {
	e.clients.close()
}

// ExecuteStream relays the upstream event stream to w as OpenAI chunks,
// retrying transient connection failures. A non-2xx upstream answer is written
// to w as an api_error event and returned as *StatusError.
func (e *Executor) ExecuteStream(ctx context.Context, w io.Writer, req Request) error {
	cfg := e.cfg.Load()
	transport := NewResilientTransport(cfg.Retry.GetMaxRetries(), cfg.Retry.GetBaseDelay())
	transport.Sleep = e.sleep
	transport.OnRetry = func(int, time.Duration, error) { middleware.RecordUpstreamRetry() }

	conversation := conversationHeaders(req.Header)
	var statusErr *StatusError

	err := transport.Stream(ctx, w, func(ctx context.Context, w io.Writer) error {
		start := time.Now()
		resp, err := e.open(ctx, cfg, req, conversation)
		if err != nil {
			middleware.RecordUpstreamRequest(req.Model, true, 0, time.Since(start))
			return err
		}
		defer closeBody(resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
			middleware.RecordUpstreamRequest(req.Model, true, resp.StatusCode, time.Since(start))
			log.Debugf("codebuddy executor: stream request error, status: %d, body: %s", resp.StatusCode, string(util.RedactSensitiveJSON(b)))
			statusErr = &StatusError{Code: resp.StatusCode, Body: string(b)}
			writeSSEError(w, statusErr.Error(), EventAPIError)
			return nil
		}

		translator := codebuddy.NewStreamTranslator()
		translator.OnChunk = req.OnChunk
		err = translator.Translate(ctx, resp.Body, w)
		middleware.RecordUpstreamRequest(req.Model, true, resp.StatusCode, time.Since(start))
		return err
	})
	if err != nil {
		return err
	}
	if statusErr != nil {
		return statusErr
	}
	return nil
}

// Execute performs the upstream call and aggregates the stream into a single
// completion. Transient failures are retried like the streaming path, with a
// fresh aggregator per attempt. Failures are returned as *apperrors.AppError.
func (e *Executor) Execute(ctx context.Context, req Request) (*codebuddy.Completion, error) {
	cfg := e.cfg.Load()
	transport := NewResilientTransport(cfg.Retry.GetMaxRetries(), cfg.Retry.GetBaseDelay())
	transport.Sleep = e.sleep
	transport.OnRetry = func(int, time.Duration, error) { middleware.RecordUpstreamRetry() }

	conversation := conversationHeaders(req.Header)
	var completion *codebuddy.Completion

	err := transport.Stream(ctx, io.Discard, func(ctx context.Context, _ io.Writer) error {
		start := time.Now()
		resp, err := e.open(ctx, cfg, req, conversation)
		if err != nil {
			middleware.RecordUpstreamRequest(req.Model, false, 0, time.Since(start))
			return err
		}
		defer closeBody(resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
			middleware.RecordUpstreamRequest(req.Model, false, resp.StatusCode, time.Since(start))
			log.Debugf("codebuddy executor: request error, status: %d, body: %s", resp.StatusCode, string(util.RedactSensitiveJSON(b)))
			return &StatusError{Code: resp.StatusCode, Body: string(b)}
		}

		agg := codebuddy.NewAggregator()
		err = codebuddy.ForEachChunk(ctx, resp.Body, func(chunk *codebuddy.Chunk) error {
			if req.OnChunk != nil {
				req.OnChunk(chunk)
			}
			return agg.ProcessChunk(chunk)
		})
		middleware.RecordUpstreamRequest(req.Model, false, resp.StatusCode, time.Since(start))
		if err != nil {
			return err
		}

		result, errFinalize := agg.Finalize()
		if errFinalize != nil {
			return apperrors.Internal("Internal server error", errFinalize)
		}
		completion = result
		return nil
	})
	if err != nil {
		log.WithError(err).Warn("codebuddy executor: request failed")
		return nil, mapUpstreamError(err)
	}
	return completion, nil
}

// open sends one upstream request and returns the response with its body
// already decoded.
func (e *Executor) open(ctx context.Context, cfg *config.Config, req Request, conversation http.Header) (*http.Response, error) {
	client, err := e.clients.get(cfg)
	if err != nil {
		return nil, err
	}

	url := cfg.ChatCompletionsURL()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req.Payload))
	if err != nil {
		return nil, fmt.Errorf("codebuddy executor: build request: %w", err)
	}
	applyCodeBuddyHeaders(httpReq, req.Credential, conversation)
	log.Debugf("codebuddy executor: POST %s model=%s token=%s", url, req.Model, util.MaskToken(req.Credential.Bearer))

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	body, err := decodeResponseBody(newIdleTimeoutBody(resp.Body, cfg.Upstream.GetTimeout()), resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	resp.Body = body
	return resp, nil
}

func closeBody(body io.Closer) {
	if errClose := body.Close(); errClose != nil {
		log.Errorf("codebuddy executor: close response body error: %v", errClose)
	}
}
