package config

import "time"

// UpstreamConfig tunes the shared HTTP client used for CodeBuddy calls.
type UpstreamConfig struct {
	// TimeoutSeconds bounds the wait for response headers and the idle gap
	// between two reads of the streamed body.
	// nil means default (300).
	TimeoutSeconds *int `yaml:"timeout-seconds,omitempty" json:"timeout-seconds,omitempty"`

	// ConnectTimeoutSeconds bounds TCP dial and TLS handshake.
	// nil means default (30).
	ConnectTimeoutSeconds *int `yaml:"connect-timeout-seconds,omitempty" json:"connect-timeout-seconds,omitempty"`

	// MaxIdleConns caps keep-alive connections per upstream host.
	// nil means default (20).
	MaxIdleConns *int `yaml:"max-idle-conns,omitempty" json:"max-idle-conns,omitempty"`

	// MaxConns caps concurrent connections per upstream host.
	// nil means default (100).
	MaxConns *int `yaml:"max-conns,omitempty" json:"max-conns,omitempty"`
}

// RetryConfig controls how streaming calls survive transient network failures.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	// nil means default (3). 0 disables retries.
	MaxRetries *int `yaml:"max-retries,omitempty" json:"max-retries,omitempty"`

	// BaseDelayMS is the first backoff delay; it doubles on every retry.
	// nil means default (1000).
	BaseDelayMS *int `yaml:"base-delay-ms,omitempty" json:"base-delay-ms,omitempty"`
}

// KeywordReplacement rewrites one literal in outgoing system messages.
type KeywordReplacement struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

// GetTimeout returns the upstream read timeout, defaulting to 300 seconds.
func (u *UpstreamConfig) GetTimeout() time.Duration {
	if u == nil || u.TimeoutSeconds == nil {
		return 300 * time.Second
	}
	return time.Duration(*u.TimeoutSeconds) * time.Second
}

// GetConnectTimeout returns the dial timeout, defaulting to 30 seconds.
func (u *UpstreamConfig) GetConnectTimeout() time.Duration {
	if u == nil || u.ConnectTimeoutSeconds == nil {
		return 30 * time.Second
	}
	return time.Duration(*u.ConnectTimeoutSeconds) * time.Second
}

// GetMaxIdleConns returns the keep-alive pool size, defaulting to 20.
func (u *UpstreamConfig) GetMaxIdleConns() int {
	if u == nil || u.MaxIdleConns == nil {
		return 20
	}
	return *u.MaxIdleConns
}

// GetMaxConns returns the per-host connection cap, defaulting to 100.
func (u *UpstreamConfig) GetMaxConns() int {
	if u == nil || u.MaxConns == nil {
		return 100
	}
	return *u.MaxConns
}

// GetMaxRetries returns the retry budget, defaulting to 3.
func (r *RetryConfig) GetMaxRetries() int {
	if r == nil || r.MaxRetries == nil {
		return 3
	}
	if *r.MaxRetries < 0 {
		return 0
	}
	return *r.MaxRetries
}

// GetBaseDelay returns the first backoff delay, defaulting to one second.
func (r *RetryConfig) GetBaseDelay() time.Duration {
	if r == nil || r.BaseDelayMS == nil {
		return time.Second
	}
	return time.Duration(*r.BaseDelayMS) * time.Millisecond
}
