package executor

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/router-for-me/CodeBuddyAPI/internal/credential"
)

// conversationHeaderNames are copied from the caller's request when present
// and generated otherwise.
var conversationHeaderNames = []string{
	"X-Conversation-ID",
	"X-Conversation-Request-ID",
	"X-Conversation-Message-ID",
	"X-Request-ID",
}

// conversationHeaders resolves the conversation identifiers for one request.
// They are computed once so that retries reuse the same values.
func conversationHeaders(inbound http.Header) http.Header {
	out := make(http.Header, len(conversationHeaderNames))
	for _, name := range conversationHeaderNames {
		v := inbound.Get(name)
		if v == "" {
			v = uuid.NewString()
		}
		out.Set(name, v)
	}
	return out
}

// applyCodeBuddyHeaders sets the fixed header set the CodeBuddy endpoint expects.
func applyCodeBuddyHeaders(req *http.Request, cred credential.Credential, conversation http.Header) {
	h := req.Header
	h.Set("Accept", "text/event-stream")
	h.Set("Accept-Encoding", "gzip, br, zstd")
	h.Set("Content-Type", "application/json")
	h.Set("X-Requested-With", "XMLHttpRequest")
	h.Set("X-B3-ParentSpanId", "")
	h.Set("X-B3-Sampled", "1")
	h.Set("X-Agent-Intent", "CodeCompletion")
	h.Set("X-Env-ID", "production")
	h.Set("Authorization", "Bearer "+cred.Bearer)
	h.Set("X-User-Id", cred.EffectiveUserID())
	h.Set("X-Domain", "copilot.tencent.com")
	h.Set("User-Agent", "")
	h.Set("X-Product", "SaaS")

	for name, values := range conversation {
		if len(values) > 0 {
			h.Set(name, values[0])
		}
	}
}
