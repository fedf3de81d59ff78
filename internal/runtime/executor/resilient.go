package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

// Event types written in-band on the SSE stream.
const (
	EventConnectionRetry  = "connection_retry"
	EventConnectionFailed = "connection_failed"
	EventStreamError      = "stream_error"
	EventAPIError         = "api_error"
)

// TransientError marks an attempt failure as retryable.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// ResilientTransport retries a streaming attempt on transient network failures,
// telling the client about each retry through in-band SSE error events.
type ResilientTransport struct {
	MaxRetries int
	BaseDelay  time.Duration
	// Sleep waits for d or until ctx ends. Nil means a timer-based sleep.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry, when set, is called before each retry sleep.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// NewResilientTransport returns a transport with the given budget. A negative
// maxRetries falls back to three retries and zero disables retrying. A
// non-positive baseDelay falls back to one second.
func NewResilientTransport(maxRetries int, baseDelay time.Duration) *ResilientTransport {
	if maxRetries < 0 {
		maxRetries = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &ResilientTransport{MaxRetries: maxRetries, BaseDelay: baseDelay}
}

// Backoff returns the wait before retry k (1-based): BaseDelay * 2^(k-1).
func (t *ResilientTransport) Backoff(k int) time.Duration {
	if k < 1 {
		k = 1
	}
	return t.BaseDelay << uint(k-1)
}

// Stream runs attempt until it succeeds, fails permanently, or the retry budget
// is spent. Partial output already written by a failed attempt stays on w.
func (t *ResilientTransport) Stream(ctx context.Context, w io.Writer, attempt func(ctx context.Context, w io.Writer) error) error {
	sleep := t.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for k := 0; ; k++ {
		err := attempt(ctx, w)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !IsTransient(err) {
			log.WithError(err).Warn("codebuddy stream: non-retryable error")
			writeSSEError(w, "Stream error: "+err.Error(), EventStreamError)
			return err
		}
		if k >= t.MaxRetries {
			log.WithError(err).Errorf("codebuddy stream: giving up after %d retries", t.MaxRetries)
			writeSSEError(w, fmt.Sprintf("Connection failed after %d retries: %v", t.MaxRetries, err), EventConnectionFailed)
			return err
		}

		wait := t.Backoff(k + 1)
		log.WithError(err).Warnf("codebuddy stream: connection lost, retry %d in %s", k+1, wait)
		writeSSEError(w, fmt.Sprintf("Connection lost, retrying in %ss... (attempt %d)", formatSeconds(wait), k+1), EventConnectionRetry)
		if t.OnRetry != nil {
			t.OnRetry(k+1, wait, err)
		}
		if errSleep := sleep(ctx, wait); errSleep != nil {
			return errSleep
		}
	}
}

// IsTransient reports whether err is worth another streaming attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return false
	}
	// io.EOF here means the peer closed the connection before answering.
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe")
}

// writeSSEError writes {"error":{"message":...,"type":...}} as one SSE frame.
func writeSSEError(w io.Writer, message, errType string) {
	payload := []byte(`{"error":{"message":"","type":""}}`)
	payload, _ = sjson.SetBytes(payload, "error.message", message)
	payload, _ = sjson.SetBytes(payload, "error.type", errType)

	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')
	if _, err := w.Write(frame); err != nil {
		log.WithError(err).Debug("codebuddy stream: write error event")
		return
	}
	if f, ok := w.(interface{ Flush() }); ok {
		f.Flush()
	}
}

// formatSeconds renders whole seconds without a fraction ("2") and keeps
// sub-second precision otherwise ("0.5").
func formatSeconds(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%d", int64(d/time.Second))
	}
	return fmt.Sprintf("%g", d.Seconds())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
