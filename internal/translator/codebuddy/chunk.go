// Package codebuddy translates the CodeBuddy chat-completion event stream into
// OpenAI chat-completion output, either as a re-framed SSE stream or as one
// aggregated response object.
package codebuddy

import (
	"bytes"

	"github.com/tidwall/gjson"
)

var (
	dataPrefix = []byte("data: ")
	doneMarker = []byte("[DONE]")
)

// ToolCallFragment is one entry of choices[0].delta.tool_calls.
type ToolCallFragment struct {
	// Position is the fragment's offset inside the tool_calls array.
	Position  int
	ID        string
	Type      string
	Name      string
	Arguments string
}

// Chunk is a decoded upstream stream event. It is never mutated after ParseLine.
type Chunk struct {
	ID           string
	Model        string
	Fingerprint  string
	Content      string
	ToolCalls    []ToolCallFragment
	FinishReason string
	// Usage is the raw usage object, nil when absent.
	Usage []byte
	// Raw is the JSON payload as received.
	Raw []byte
}

// HasChoices reports whether the payload carried a non-empty choices array.
func (c *Chunk) HasChoices() bool {
	return gjson.GetBytes(c.Raw, "choices.0").Exists()
}

// ParseLine decodes one "data: " line. It returns nil for lines without the
// prefix, for the [DONE] terminator, and for empty or malformed payloads.
func ParseLine(line []byte) *Chunk {
	payload, ok := dataPayload(line)
	if !ok || len(payload) == 0 || bytes.Equal(payload, doneMarker) {
		return nil
	}
	if !gjson.ValidBytes(payload) {
		return nil
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return nil
	}

	raw := make([]byte, len(payload))
	copy(raw, payload)

	chunk := &Chunk{
		ID:          root.Get("id").String(),
		Model:       root.Get("model").String(),
		Fingerprint: root.Get("system_fingerprint").String(),
		Raw:         raw,
	}
	if usage := root.Get("usage"); usage.IsObject() {
		chunk.Usage = []byte(usage.Raw)
	}

	choice := root.Get("choices.0")
	if !choice.Exists() {
		return chunk
	}
	delta := choice.Get("delta")
	chunk.Content = delta.Get("content").String()
	chunk.FinishReason = choice.Get("finish_reason").String()

	calls := delta.Get("tool_calls")
	if calls.IsArray() {
		position := 0
		calls.ForEach(func(_, tc gjson.Result) bool {
			chunk.ToolCalls = append(chunk.ToolCalls, ToolCallFragment{
				Position:  position,
				ID:        tc.Get("id").String(),
				Type:      tc.Get("type").String(),
				Name:      tc.Get("function.name").String(),
				Arguments: tc.Get("function.arguments").String(),
			})
			position++
			return true
		})
	}
	return chunk
}

// IsDone reports whether line is the "data: [DONE]" stream terminator. Content
// chunks that merely mention [DONE] inside their JSON do not count.
func IsDone(line []byte) bool {
	payload, ok := dataPayload(line)
	return ok && bytes.Equal(payload, doneMarker)
}

func dataPayload(line []byte) ([]byte, bool) {
	if !bytes.HasPrefix(line, dataPrefix) {
		return nil, false
	}
	return bytes.TrimSpace(line[len(dataPrefix):]), true
}
