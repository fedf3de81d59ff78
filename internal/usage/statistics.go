// Package usage records per-model request and token statistics for the gateway.
package usage

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// maxDetailsPerModel bounds the per-model request history kept in memory.
const maxDetailsPerModel = 1000

var statisticsEnabled atomic.Bool

func init() {
	statisticsEnabled.Store(true)
}

// SetStatisticsEnabled toggles whether in-memory statistics are recorded.
func SetStatisticsEnabled(enabled bool) { statisticsEnabled.Store(enabled) }

// StatisticsEnabled reports the current recording state.
func StatisticsEnabled() bool { return statisticsEnabled.Load() }

// Record is one finished chat-completion request.
type Record struct {
	Model string
	// CredentialID identifies the credential that served the request.
	CredentialID string
	Stream       bool
	Failed       bool
	Tokens       TokenStats
	// Estimated is true when token counts were computed locally.
	Estimated   bool
	RequestedAt time.Time
}

// TokenStats captures the token usage breakdown for a request.
type TokenStats struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// RequestDetail stores the timestamp and token usage for a single request.
type RequestDetail struct {
	Timestamp    time.Time  `json:"timestamp"`
	CredentialID string     `json:"credential_id,omitempty"`
	Stream       bool       `json:"stream"`
	Estimated    bool       `json:"estimated"`
	Tokens       TokenStats `json:"tokens"`
	Failed       bool       `json:"failed"`
}

// RequestStatistics maintains aggregated request metrics in memory.
type RequestStatistics struct {
	mu sync.RWMutex

	totalRequests    int64
	successCount     int64
	failureCount     int64
	promptTokens     int64
	completionTokens int64
	totalTokens      int64

	models         map[string]*modelStats
	credentials    map[string]int64
	requestsByDay  map[string]int64
	requestsByHour map[int]int64
	tokensByDay    map[string]int64
}

type modelStats struct {
	TotalRequests int64
	TotalTokens   int64
	Details       []RequestDetail
}

// StatisticsSnapshot represents an immutable view of the aggregated metrics.
type StatisticsSnapshot struct {
	TotalRequests    int64 `json:"total_requests"`
	SuccessCount     int64 `json:"success_count"`
	FailureCount     int64 `json:"failure_count"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`

	Models map[string]ModelSnapshot `json:"models"`
	// RequestsByCredential counts requests served by each credential id.
	RequestsByCredential map[string]int64 `json:"requests_by_credential"`

	RequestsByDay  map[string]int64 `json:"requests_by_day"`
	RequestsByHour map[string]int64 `json:"requests_by_hour"`
	TokensByDay    map[string]int64 `json:"tokens_by_day"`
}

// ModelSnapshot summarises metrics for a specific model.
type ModelSnapshot struct {
	TotalRequests int64           `json:"total_requests"`
	TotalTokens   int64           `json:"total_tokens"`
	Details       []RequestDetail `json:"details"`
}

// NewRequestStatistics constructs an empty statistics store.
func NewRequestStatistics() *RequestStatistics {
	return &RequestStatistics{
		models:         make(map[string]*modelStats),
		credentials:    make(map[string]int64),
		requestsByDay:  make(map[string]int64),
		requestsByHour: make(map[int]int64),
		tokensByDay:    make(map[string]int64),
	}
}

// Record ingests a finished request and updates the aggregates.
func (s *RequestStatistics) Record(record Record) {
	if s == nil || !statisticsEnabled.Load() {
		return
	}
	timestamp := record.RequestedAt
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	tokens := normaliseTokens(record.Tokens)
	modelName := record.Model
	if modelName == "" {
		modelName = "unknown"
	}
	dayKey := timestamp.Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalRequests++
	if record.Failed {
		s.failureCount++
	} else {
		s.successCount++
	}
	s.promptTokens += tokens.PromptTokens
	s.completionTokens += tokens.CompletionTokens
	s.totalTokens += tokens.TotalTokens

	stats, ok := s.models[modelName]
	if !ok {
		stats = &modelStats{}
		s.models[modelName] = stats
	}
	stats.TotalRequests++
	stats.TotalTokens += tokens.TotalTokens
	stats.Details = append(stats.Details, RequestDetail{
		Timestamp:    timestamp,
		CredentialID: record.CredentialID,
		Stream:       record.Stream,
		Estimated:    record.Estimated,
		Tokens:       tokens,
		Failed:       record.Failed,
	})
	if over := len(stats.Details) - maxDetailsPerModel; over > 0 {
		stats.Details = append(stats.Details[:0:0], stats.Details[over:]...)
	}

	if record.CredentialID != "" {
		s.credentials[record.CredentialID]++
	}
	s.requestsByDay[dayKey]++
	s.requestsByHour[timestamp.Hour()]++
	s.tokensByDay[dayKey] += tokens.TotalTokens
}

// Snapshot returns a copy of the aggregated metrics for external consumption.
func (s *RequestStatistics) Snapshot() StatisticsSnapshot {
	result := StatisticsSnapshot{}
	if s == nil {
		return result
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result.TotalRequests = s.totalRequests
	result.SuccessCount = s.successCount
	result.FailureCount = s.failureCount
	result.PromptTokens = s.promptTokens
	result.CompletionTokens = s.completionTokens
	result.TotalTokens = s.totalTokens

	result.Models = make(map[string]ModelSnapshot, len(s.models))
	for name, stats := range s.models {
		details := make([]RequestDetail, len(stats.Details))
		copy(details, stats.Details)
		result.Models[name] = ModelSnapshot{
			TotalRequests: stats.TotalRequests,
			TotalTokens:   stats.TotalTokens,
			Details:       details,
		}
	}

	result.RequestsByCredential = copyCounts(s.credentials)
	result.RequestsByDay = copyCounts(s.requestsByDay)
	result.TokensByDay = copyCounts(s.tokensByDay)
	result.RequestsByHour = make(map[string]int64, len(s.requestsByHour))
	for hour, v := range s.requestsByHour {
		result.RequestsByHour[formatHour(hour)] = v
	}
	return result
}

// Reset clears every aggregate.
func (s *RequestStatistics) Reset() {
	if s == nil {
		return
	}
	fresh := NewRequestStatistics()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRequests, s.successCount, s.failureCount = 0, 0, 0
	s.promptTokens, s.completionTokens, s.totalTokens = 0, 0, 0
	s.models = fresh.models
	s.credentials = fresh.credentials
	s.requestsByDay = fresh.requestsByDay
	s.requestsByHour = fresh.requestsByHour
	s.tokensByDay = fresh.tokensByDay
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func normaliseTokens(t TokenStats) TokenStats {
	if t.TotalTokens == 0 {
		t.TotalTokens = t.PromptTokens + t.CompletionTokens
	}
	return t
}

func formatHour(hour int) string {
	if hour < 0 {
		hour = 0
	}
	return fmt.Sprintf("%02d", hour%24)
}
