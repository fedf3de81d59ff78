package codebuddy

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ErrAggregatorFinalized is returned when an Aggregator is used after Finalize.
var ErrAggregatorFinalized = errors.New("codebuddy: aggregator already finalized")

const (
	finishReasonStop      = "stop"
	finishReasonToolCalls = "tool_calls"
	unknownModel          = "unknown"
)

// Completion is an OpenAI chat.completion object.
type Completion struct {
	ID                string             `json:"id"`
	Object            string             `json:"object"`
	Created           int64              `json:"created"`
	Model             string             `json:"model"`
	Choices           []CompletionChoice `json:"choices"`
	Usage             json.RawMessage    `json:"usage,omitempty"`
	SystemFingerprint string             `json:"system_fingerprint,omitempty"`
}

type CompletionChoice struct {
	Index        int         `json:"index"`
	Message      Message     `json:"message"`
	FinishReason string      `json:"finish_reason"`
	Logprobs     interface{} `json:"logprobs"`
}

type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type toolCallEntry struct {
	id   string
	typ  string
	name string
	args strings.Builder
}

// Aggregator folds a chunk stream into one Completion. Tool-call fragments are
// accumulated by id, never by the vendor's index, which is unreliable.
type Aggregator struct {
	id           string
	model        string
	fingerprint  string
	content      strings.Builder
	finishReason string
	usage        []byte

	calls     map[string]*toolCallEntry
	order     []string
	currentID string

	finalized bool
	now       func() time.Time
}

// NewAggregator returns an aggregator in the open state.
func NewAggregator() *Aggregator {
	return &Aggregator{
		calls: make(map[string]*toolCallEntry),
		now:   time.Now,
	}
}

// ProcessChunk merges chunk into the aggregate.
func (a *Aggregator) ProcessChunk(chunk *Chunk) error {
	if a.finalized {
		return ErrAggregatorFinalized
	}
	if chunk == nil {
		return nil
	}

	if a.id == "" {
		a.id = chunk.ID
	}
	if a.model == "" {
		a.model = chunk.Model
	}
	if a.fingerprint == "" {
		a.fingerprint = chunk.Fingerprint
	}
	if len(chunk.Usage) > 0 {
		a.usage = chunk.Usage
	}
	if chunk.FinishReason != "" {
		a.finishReason = chunk.FinishReason
	}
	a.content.WriteString(chunk.Content)

	for _, frag := range chunk.ToolCalls {
		var entry *toolCallEntry
		if frag.ID != "" {
			id := ConvertToolCallID(frag.ID)
			entry = a.calls[id]
			if entry == nil {
				entry = &toolCallEntry{id: id, typ: "function"}
				a.calls[id] = entry
				a.order = append(a.order, id)
				log.Debugf("codebuddy: new tool call %s", id)
			}
			a.currentID = id
		} else if a.currentID != "" {
			entry = a.calls[a.currentID]
		} else {
			log.Warn("codebuddy: tool call fragment without id and no active call, skipped")
			continue
		}

		if frag.ID != "" && frag.Type != "" {
			entry.typ = frag.Type
		}
		if frag.Name != "" {
			entry.name = frag.Name
		}
		entry.args.WriteString(frag.Arguments)
	}
	return nil
}

// Content returns the text accumulated so far.
func (a *Aggregator) Content() string {
	return a.content.String()
}

// Finalize builds the completion. It may be called once.
func (a *Aggregator) Finalize() (*Completion, error) {
	if a.finalized {
		return nil, ErrAggregatorFinalized
	}
	a.finalized = true

	msg := Message{Role: "assistant", Content: a.content.String()}
	for _, id := range a.order {
		entry := a.calls[id]
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:   entry.id,
			Type: entry.typ,
			Function: FunctionCall{
				Name:      entry.name,
				Arguments: RepairArguments(entry.args.String()),
			},
		})
	}

	finish := a.finishReason
	switch {
	case len(msg.ToolCalls) > 0:
		finish = finishReasonToolCalls
	case finish == "":
		finish = finishReasonStop
	}

	id := a.id
	if id == "" {
		id = uuid.NewString()
	}
	model := a.model
	if model == "" {
		model = unknownModel
	}

	return &Completion{
		ID:      id,
		Object:  "chat.completion",
		Created: a.now().Unix(),
		Model:   model,
		Choices: []CompletionChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: finish,
		}},
		Usage:             a.usage,
		SystemFingerprint: a.fingerprint,
	}, nil
}
