package executor

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/router-for-me/CodeBuddyAPI/internal/errors"
	"github.com/router-for-me/CodeBuddyAPI/internal/util"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultSystemPrompt is prepended when a request carries a single user message.
const DefaultSystemPrompt = "You are a helpful assistant."

var upstreamErrorMarkers = []string{"Error: API error", "API error:"}

// ValidateChatRequest checks the inbound chat-completion body.
func ValidateChatRequest(body []byte) error {
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return apperrors.BadRequest("Request body must be a JSON object")
	}
	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() || len(messages.Array()) == 0 {
		return apperrors.BadRequest("Messages field is required and must be a non-empty array")
	}
	for i, msg := range messages.Array() {
		if !msg.IsObject() {
			return apperrors.BadRequest(fmt.Sprintf("Message %d must be an object", i))
		}
		if !msg.Get("role").Exists() || !msg.Get("content").Exists() {
			return apperrors.BadRequest(fmt.Sprintf("Message %d must have 'role' and 'content' fields", i))
		}
	}
	return nil
}

// PreparePayload rewrites a validated chat request into the upstream form:
// assistant messages that echo earlier upstream errors are dropped, a default
// system prompt is added in front of a lone user message, keyword replacements
// are applied to system content, and streaming is forced on.
func PreparePayload(body []byte, replacer *util.KeywordReplacer) ([]byte, error) {
	messages := gjson.GetBytes(body, "messages").Array()

	kept := make([][]byte, 0, len(messages)+1)
	var roles []string
	for _, msg := range messages {
		role := msg.Get("role").String()
		if role == "assistant" && isUpstreamErrorEcho(msg.Get("content")) {
			continue
		}
		raw := []byte(msg.Raw)
		if role == "system" && !replacer.Empty() {
			raw = replaceSystemContent(raw, msg.Get("content"), replacer)
		}
		kept = append(kept, raw)
		roles = append(roles, role)
	}

	if len(kept) == 1 && roles[0] == "user" {
		system := []byte(`{"role":"system","content":""}`)
		system, _ = sjson.SetBytes(system, "content", replacer.Replace(DefaultSystemPrompt))
		kept = append([][]byte{system}, kept...)
	}

	list := make([]byte, 0, len(body)+64)
	list = append(list, '[')
	list = append(list, bytes.Join(kept, []byte(","))...)
	list = append(list, ']')

	out, err := sjson.SetRawBytes(body, "messages", list)
	if err != nil {
		return nil, fmt.Errorf("prepare payload: set messages: %w", err)
	}
	if out, err = sjson.SetBytes(out, "stream", true); err != nil {
		return nil, fmt.Errorf("prepare payload: set stream: %w", err)
	}
	return out, nil
}

func isUpstreamErrorEcho(content gjson.Result) bool {
	if content.Type != gjson.String {
		return false
	}
	text := content.String()
	for _, marker := range upstreamErrorMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func replaceSystemContent(raw []byte, content gjson.Result, replacer *util.KeywordReplacer) []byte {
	switch {
	case content.Type == gjson.String:
		if updated, err := sjson.SetBytes(raw, "content", replacer.Replace(content.String())); err == nil {
			return updated
		}
	case content.IsArray():
		for i, part := range content.Array() {
			text := part.Get("text")
			if text.Type != gjson.String {
				continue
			}
			path := "content." + strconv.Itoa(i) + ".text"
			if updated, err := sjson.SetBytes(raw, path, replacer.Replace(text.String())); err == nil {
				raw = updated
			}
		}
	}
	return raw
}
