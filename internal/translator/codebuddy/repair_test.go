package codebuddy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestRepairArguments(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "{}"},
		{"blank", "   \n", "{}"},
		{"valid object kept as-is", `{"a": 1}`, `{"a": 1}`},
		{"valid with surrounding space", "  {\"a\":1}\n", `{"a":1}`},
		{"concatenated objects keep first", `{"a":1}{"b":2}`, `{"a":1}`},
		{"concatenated compacted", `{ "a" : [1, 2] }{"b":2}`, `{"a":[1,2]}`},
		{"first candidate broken", `{"a":}{"b":2}`, `{"b":2}`},
		{"braces inside strings", `{"s":"}{"}{"b":2}`, `{"s":"}{"}`},
		{"missing closing brace", `{"a":1`, `{"a":1}`},
		{"missing closing bracket", `[1,2`, `[1,2]`},
		{"not json", "not json", "{}"},
		{"too broken", `{"a":{"b":`, "{}"},
		{"only closer", "}", "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RepairArguments(tt.in)
			assert.Equal(t, tt.want, got)
			assert.True(t, gjson.Valid(got), "output must be valid JSON: %q", got)
		})
	}
}

func TestRepairArguments_NeverPanics(t *testing.T) {
	inputs := []string{`}{`, `{{{{`, `"unterminated`, `{"a":"\`, `]]]`, "\x00{", `{"a":1}{`, `}{"a":1}`}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			assert.True(t, gjson.Valid(RepairArguments(in)), in)
		})
	}
}

func TestSplitTopLevelObjects(t *testing.T) {
	assert.Equal(t, []string{`{"a":{"b":1}}`, `{"c":"\"}"}`}, splitTopLevelObjects(`{"a":{"b":1}}{"c":"\"}"}`))
	assert.Empty(t, splitTopLevelObjects(`no braces`))
}
