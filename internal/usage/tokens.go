package usage

import (
	"strings"
	"sync"

	"github.com/router-for-me/CodeBuddyAPI/internal/translator/codebuddy"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tiktoken-go/tokenizer"
)

// tokenizerCache stores one codec per model name.
var tokenizerCache sync.Map

// codecFor returns a cached tokenizer for model. CodeBuddy fronts several
// vendors; non-OpenAI models are counted with o200k_base as an approximation.
func codecFor(model string) (tokenizer.Codec, error) {
	if cached, ok := tokenizerCache.Load(model); ok {
		return cached.(tokenizer.Codec), nil
	}

	var enc tokenizer.Codec
	var err error
	sanitized := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(sanitized, "gpt-4o"), strings.HasPrefix(sanitized, "gpt-4.1"):
		enc, err = tokenizer.ForModel(tokenizer.GPT4o)
	case strings.HasPrefix(sanitized, "gpt-4"):
		enc, err = tokenizer.ForModel(tokenizer.GPT4)
	case strings.HasPrefix(sanitized, "gpt-3.5"):
		enc, err = tokenizer.ForModel(tokenizer.GPT35Turbo)
	default:
		enc, err = tokenizer.Get(tokenizer.O200kBase)
	}
	if err != nil {
		return nil, err
	}

	actual, _ := tokenizerCache.LoadOrStore(model, enc)
	return actual.(tokenizer.Codec), nil
}

// CountTokens counts text with the model's tokenizer, falling back to a
// four-characters-per-token estimate if no codec is available.
func CountTokens(model, text string) int64 {
	if text == "" {
		return 0
	}
	enc, err := codecFor(model)
	if err == nil {
		ids, _, errEncode := enc.Encode(text)
		if errEncode == nil {
			return int64(len(ids))
		}
		err = errEncode
	}
	log.WithError(err).Debug("usage: tokenizer unavailable, using length estimate")
	n := int64(len(text) / 4)
	if n == 0 {
		n = 1
	}
	return n
}

// PromptText joins the text parts of an OpenAI chat request's messages.
func PromptText(payload []byte) string {
	var segments []string
	gjson.GetBytes(payload, "messages").ForEach(func(_, msg gjson.Result) bool {
		content := msg.Get("content")
		switch {
		case content.Type == gjson.String:
			segments = append(segments, content.String())
		case content.IsArray():
			content.ForEach(func(_, part gjson.Result) bool {
				if text := part.Get("text"); text.Type == gjson.String {
					segments = append(segments, text.String())
				}
				return true
			})
		}
		msg.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
			segments = append(segments, call.Get("function.name").String(), call.Get("function.arguments").String())
			return true
		})
		return true
	})
	return strings.Join(segments, "\n")
}

// Collector accumulates what a single upstream stream reports about token use.
// It is fed from the executor's chunk callback and is not safe for concurrent use.
type Collector struct {
	usage   []byte
	content strings.Builder
	args    strings.Builder
}

// Observe records one upstream chunk.
func (c *Collector) Observe(chunk *codebuddy.Chunk) {
	if chunk == nil {
		return
	}
	if len(chunk.Usage) > 0 {
		c.usage = chunk.Usage
	}
	c.content.WriteString(chunk.Content)
	for _, tc := range chunk.ToolCalls {
		c.args.WriteString(tc.Name)
		c.args.WriteString(tc.Arguments)
	}
}

// Tokens returns the upstream-reported usage when one was seen. Otherwise it
// estimates prompt and completion tokens locally and reports estimated=true.
func (c *Collector) Tokens(model string, payload []byte) (tokens TokenStats, estimated bool) {
	if len(c.usage) > 0 {
		u := gjson.ParseBytes(c.usage)
		tokens = TokenStats{
			PromptTokens:     u.Get("prompt_tokens").Int(),
			CompletionTokens: u.Get("completion_tokens").Int(),
			TotalTokens:      u.Get("total_tokens").Int(),
		}
		return normaliseTokens(tokens), false
	}
	tokens = TokenStats{
		PromptTokens:     CountTokens(model, PromptText(payload)),
		CompletionTokens: CountTokens(model, c.content.String()+c.args.String()),
	}
	return normaliseTokens(tokens), true
}
