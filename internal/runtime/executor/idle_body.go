package executor

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// idleTimeoutError is returned when the upstream body stays silent for longer
// than the read timeout. It satisfies net.Error so the transport retries it and
// the non-stream path maps it to 504.
type idleTimeoutError struct {
	after time.Duration
}

func (e *idleTimeoutError) Error() string {
	return fmt.Sprintf("codebuddy executor: no upstream data for %s", e.after)
}

func (e *idleTimeoutError) Timeout() bool   { return true }
func (e *idleTimeoutError) Temporary() bool { return true }

// idleTimeoutBody closes the wrapped body when no bytes arrive within timeout.
// Every successful read restarts the clock, so long generations that keep
// producing output are never cut off.
type idleTimeoutBody struct {
	body    io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	expired atomic.Bool
}

func newIdleTimeoutBody(body io.ReadCloser, timeout time.Duration) io.ReadCloser {
	if timeout <= 0 {
		return body
	}
	b := &idleTimeoutBody{body: body, timeout: timeout}
	b.timer = time.AfterFunc(timeout, func() {
		b.expired.Store(true)
		_ = body.Close()
	})
	return b
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if b.expired.Load() {
		return n, &idleTimeoutError{after: b.timeout}
	}
	if n > 0 {
		b.timer.Reset(b.timeout)
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	b.timer.Stop()
	return b.body.Close()
}
