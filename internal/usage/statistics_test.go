package usage

import (
	"sync"
	"testing"
	"time"

	"github.com/router-for-me/CodeBuddyAPI/internal/translator/codebuddy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestStatistics_RecordAndSnapshot(t *testing.T) {
	s := NewRequestStatistics()
	at := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)

	s.Record(Record{Model: "gpt-5", CredentialID: "a.json", Tokens: TokenStats{PromptTokens: 10, CompletionTokens: 5}, RequestedAt: at})
	s.Record(Record{Model: "gpt-5", CredentialID: "b.json", Stream: true, Tokens: TokenStats{TotalTokens: 7}, RequestedAt: at})
	s.Record(Record{Failed: true, RequestedAt: at})

	snap := s.Snapshot()
	assert.Equal(t, int64(3), snap.TotalRequests)
	assert.Equal(t, int64(2), snap.SuccessCount)
	assert.Equal(t, int64(1), snap.FailureCount)
	assert.Equal(t, int64(10), snap.PromptTokens)
	assert.Equal(t, int64(5), snap.CompletionTokens)
	assert.Equal(t, int64(22), snap.TotalTokens)

	require.Contains(t, snap.Models, "gpt-5")
	assert.Equal(t, int64(2), snap.Models["gpt-5"].TotalRequests)
	assert.Equal(t, int64(22), snap.Models["gpt-5"].TotalTokens)
	assert.Len(t, snap.Models["gpt-5"].Details, 2)
	assert.Equal(t, int64(1), snap.Models["unknown"].TotalRequests)

	assert.Equal(t, map[string]int64{"a.json": 1, "b.json": 1}, snap.RequestsByCredential)
	assert.Equal(t, int64(3), snap.RequestsByDay["2026-03-04"])
	assert.Equal(t, int64(3), snap.RequestsByHour["15"])
	assert.Equal(t, int64(22), snap.TokensByDay["2026-03-04"])
}

func TestRequestStatistics_SnapshotIsACopy(t *testing.T) {
	s := NewRequestStatistics()
	s.Record(Record{Model: "m"})
	snap := s.Snapshot()
	snap.Models["m"].Details[0].Failed = true
	snap.RequestsByDay["x"] = 99

	again := s.Snapshot()
	assert.False(t, again.Models["m"].Details[0].Failed)
	assert.NotContains(t, again.RequestsByDay, "x")
}

func TestRequestStatistics_DetailsAreBounded(t *testing.T) {
	s := NewRequestStatistics()
	for i := 0; i < maxDetailsPerModel+10; i++ {
		s.Record(Record{Model: "m"})
	}
	snap := s.Snapshot()
	assert.Len(t, snap.Models["m"].Details, maxDetailsPerModel)
	assert.Equal(t, int64(maxDetailsPerModel+10), snap.Models["m"].TotalRequests)
}

func TestRequestStatistics_DisabledAndReset(t *testing.T) {
	s := NewRequestStatistics()
	SetStatisticsEnabled(false)
	s.Record(Record{Model: "m"})
	SetStatisticsEnabled(true)
	assert.Equal(t, int64(0), s.Snapshot().TotalRequests)

	s.Record(Record{Model: "m"})
	s.Reset()
	snap := s.Snapshot()
	assert.Equal(t, int64(0), snap.TotalRequests)
	assert.Empty(t, snap.Models)
}

func TestRequestStatistics_Concurrent(t *testing.T) {
	s := NewRequestStatistics()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Record(Record{Model: "m", Tokens: TokenStats{TotalTokens: 1}})
			_ = s.Snapshot()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), s.Snapshot().TotalTokens)
}

func TestNilStatisticsIsSafe(t *testing.T) {
	var s *RequestStatistics
	s.Record(Record{Model: "m"})
	s.Reset()
	assert.Equal(t, int64(0), s.Snapshot().TotalRequests)
}

func TestCollector_PrefersUpstreamUsage(t *testing.T) {
	var c Collector
	c.Observe(codebuddy.ParseLine([]byte(`data: {"choices":[{"delta":{"content":"hello"}}]}`)))
	c.Observe(codebuddy.ParseLine([]byte(`data: {"choices":[],"usage":{"prompt_tokens":4,"completion_tokens":6}}`)))
	c.Observe(nil)

	tokens, estimated := c.Tokens("gpt-5", nil)
	assert.False(t, estimated)
	assert.Equal(t, TokenStats{PromptTokens: 4, CompletionTokens: 6, TotalTokens: 10}, tokens)
}

func TestCollector_EstimatesWithoutUsage(t *testing.T) {
	var c Collector
	c.Observe(codebuddy.ParseLine([]byte(`data: {"choices":[{"delta":{"content":"Hello there, how are you today?"}}]}`)))

	tokens, estimated := c.Tokens("gpt-4o", []byte(`{"messages":[{"role":"user","content":"Say hello"}]}`))
	assert.True(t, estimated)
	assert.Greater(t, tokens.PromptTokens, int64(0))
	assert.Greater(t, tokens.CompletionTokens, int64(0))
	assert.Equal(t, tokens.PromptTokens+tokens.CompletionTokens, tokens.TotalTokens)
}

func TestPromptText(t *testing.T) {
	payload := []byte(`{"messages":[
		{"role":"system","content":"sys"},
		{"role":"user","content":[{"type":"text","text":"part"},{"type":"image_url"}]},
		{"role":"assistant","content":null,"tool_calls":[{"function":{"name":"f","arguments":"{}"}}]}
	]}`)
	assert.Equal(t, "sys\npart\nf\n{}", PromptText(payload))
	assert.Equal(t, "", PromptText(nil))
}

func TestCountTokens(t *testing.T) {
	assert.Equal(t, int64(0), CountTokens("gpt-5", ""))
	assert.Greater(t, CountTokens("claude-4.0", "The quick brown fox"), int64(0))
	// Same model twice exercises the cached codec.
	assert.Equal(t, CountTokens("gpt-4", "abc def"), CountTokens("gpt-4", "abc def"))
}
