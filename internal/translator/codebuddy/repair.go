package codebuddy

import (
	"strings"

	"github.com/tidwall/gjson"
)

const emptyArguments = "{}"

// RepairArguments returns valid JSON for accumulated tool-call argument text.
//
// Concatenated objects ("{...}{...}") are split at top level and the first one
// that parses is kept, compacted. A single object or array missing its final
// closer gets one appended. Anything else that does not parse becomes "{}".
func RepairArguments(args string) string {
	s := strings.TrimSpace(args)
	if s == "" {
		return emptyArguments
	}

	if strings.Contains(s, "}{") {
		for _, candidate := range splitTopLevelObjects(s) {
			if gjson.Valid(candidate) {
				return gjson.Get(candidate, "@ugly").Raw
			}
		}
	}

	if gjson.Valid(s) {
		return s
	}

	opens, closes := strings.Count(s, "{"), strings.Count(s, "}")
	switch {
	case !strings.HasSuffix(s, "}") && opens > closes:
		s += "}"
	case !strings.HasSuffix(s, "]") && strings.Count(s, "[") > strings.Count(s, "]"):
		s += "]"
	}
	if gjson.Valid(s) {
		return s
	}
	return emptyArguments
}

// splitTopLevelObjects cuts s wherever the brace depth returns to zero. Braces
// inside string literals are ignored.
func splitTopLevelObjects(s string) []string {
	var (
		out      []string
		depth    int
		start    = -1
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				out = append(out, s[start:i+1])
				start = -1
			}
		}
	}
	return out
}
