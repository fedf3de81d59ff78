package util

import (
	"strings"

	"github.com/router-for-me/CodeBuddyAPI/internal/config"
)

// KeywordReplacer rewrites configured substrings, applying each pair in order.
type KeywordReplacer struct {
	pairs []config.KeywordReplacement
}

// NewKeywordReplacer returns a replacer for pairs. Pairs with an empty From are ignored.
func NewKeywordReplacer(pairs []config.KeywordReplacement) *KeywordReplacer {
	kept := make([]config.KeywordReplacement, 0, len(pairs))
	for _, p := range pairs {
		if p.From != "" {
			kept = append(kept, p)
		}
	}
	return &KeywordReplacer{pairs: kept}
}

// Empty reports whether the replacer has nothing to do.
func (r *KeywordReplacer) Empty() bool {
	return r == nil || len(r.pairs) == 0
}

// Replace applies every pair to s in configuration order.
func (r *KeywordReplacer) Replace(s string) string {
	if r.Empty() {
		return s
	}
	for _, p := range r.pairs {
		s = strings.ReplaceAll(s, p.From, p.To)
	}
	return s
}
