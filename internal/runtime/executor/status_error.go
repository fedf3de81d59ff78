package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	apperrors "github.com/router-for-me/CodeBuddyAPI/internal/errors"
	"github.com/tidwall/gjson"
)

// StatusError is a non-2xx answer from CodeBuddy. It is never retried.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("CodeBuddy API error: %d - %s", e.Code, e.Body)
}

// StatusCode returns the upstream HTTP status.
func (e *StatusError) StatusCode() int { return e.Code }

// upstreamMessage extracts error.message from a JSON error body, falling back
// to the raw body.
func (e *StatusError) upstreamMessage() string {
	if msg := gjson.Get(e.Body, "error.message"); msg.Type == gjson.String && msg.String() != "" {
		return msg.String()
	}
	if msg := gjson.Get(e.Body, "message"); msg.Type == gjson.String && msg.String() != "" {
		return msg.String()
	}
	return strings.TrimSpace(e.Body)
}

// mapUpstreamError converts a non-stream upstream failure into the AppError
// returned to the caller.
func mapUpstreamError(err error) *apperrors.AppError {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Code == http.StatusUnauthorized:
			return apperrors.Upstream(http.StatusUnauthorized, "CodeBuddy API authentication failed", err)
		case statusErr.Code == http.StatusTooManyRequests:
			return apperrors.Upstream(http.StatusTooManyRequests, "CodeBuddy API rate limit exceeded", err)
		case statusErr.Code >= http.StatusInternalServerError:
			return apperrors.Upstream(http.StatusBadGateway, "CodeBuddy API server error", err)
		default:
			return apperrors.Upstream(statusErr.Code, "CodeBuddy API error: "+statusErr.upstreamMessage(), err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Upstream(http.StatusGatewayTimeout, "CodeBuddy API timeout", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return apperrors.Upstream(http.StatusGatewayTimeout, "CodeBuddy API timeout", err)
		}
		return apperrors.Upstream(http.StatusBadGateway, "CodeBuddy API network error", err)
	}
	return apperrors.Internal("Internal server error", err)
}
