package codebuddy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine_Rejects(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"no prefix", `{"id":"x"}`},
		{"event line", `event: message`},
		{"prefix without space", `data:{"id":"x"}`},
		{"empty payload", `data: `},
		{"done", `data: [DONE]`},
		{"malformed json", `data: {"id":`},
		{"non-object json", `data: [1,2,3]`},
		{"bare string", `data: "hello"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, ParseLine([]byte(tt.line)))
		})
	}
}

func TestParseLine_DecodesFields(t *testing.T) {
	line := `data: {"id":"c1","model":"claude-4.0","system_fingerprint":"fp","choices":[{"index":0,"delta":{"content":"Hi","tool_calls":[{"index":0,"id":"tooluse_a","type":"function","function":{"name":"f","arguments":"{\"x\":"}},{"index":0,"function":{"arguments":"1}"}}]},"finish_reason":"stop"}],"usage":{"total_tokens":3}}`
	chunk := ParseLine([]byte(line))
	require.NotNil(t, chunk)

	assert.Equal(t, "c1", chunk.ID)
	assert.Equal(t, "claude-4.0", chunk.Model)
	assert.Equal(t, "fp", chunk.Fingerprint)
	assert.Equal(t, "Hi", chunk.Content)
	assert.Equal(t, "stop", chunk.FinishReason)
	assert.JSONEq(t, `{"total_tokens":3}`, string(chunk.Usage))
	assert.True(t, chunk.HasChoices())

	require.Len(t, chunk.ToolCalls, 2)
	assert.Equal(t, ToolCallFragment{Position: 0, ID: "tooluse_a", Type: "function", Name: "f", Arguments: `{"x":`}, chunk.ToolCalls[0])
	assert.Equal(t, ToolCallFragment{Position: 1, Arguments: "1}"}, chunk.ToolCalls[1])
}

func TestParseLine_CopiesPayload(t *testing.T) {
	line := []byte(`data: {"id":"c1"}`)
	chunk := ParseLine(line)
	require.NotNil(t, chunk)
	line[7] = 'X'
	assert.Equal(t, `{"id":"c1"}`, string(chunk.Raw))
}

func TestParseLine_NoChoices(t *testing.T) {
	chunk := ParseLine([]byte(`data: {"id":"c1","usage":{"prompt_tokens":1}}`))
	require.NotNil(t, chunk)
	assert.False(t, chunk.HasChoices())
	assert.Empty(t, chunk.Content)
	assert.NotNil(t, chunk.Usage)
}

func TestIsDone(t *testing.T) {
	assert.True(t, IsDone([]byte("data: [DONE]")))
	assert.True(t, IsDone([]byte("data: [DONE]  ")))
	assert.False(t, IsDone([]byte("[DONE]")))
	assert.False(t, IsDone([]byte(`data: {"choices":[{"delta":{"content":"[DONE]"}}]}`)))
}
