// Package credential holds CodeBuddy bearer credentials: the rotating in-memory
// pool, the JSON file store backing it, and the manager that keeps the two in sync.
package credential

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultUserID is sent as X-User-Id when a credential carries no user id.
const DefaultUserID = "56277846-534b-4f8d-b8b4-9793936bc07c"

// Credential is one stored CodeBuddy bearer token.
type Credential struct {
	// ID is the file name of the credential inside the store directory.
	ID     string
	Bearer string
	UserID string
	// CreatedAt is when the token was issued or stored.
	CreatedAt time.Time
	// ExpiresAt is zero when the token has no known expiry.
	ExpiresAt time.Time
}

// IsValid reports whether c can be handed out at now. Tokens expiring within
// grace are treated as already expired.
func (c Credential) IsValid(now time.Time, grace time.Duration) bool {
	if strings.TrimSpace(c.Bearer) == "" {
		return false
	}
	if c.ExpiresAt.IsZero() {
		return true
	}
	return c.ExpiresAt.After(now.Add(grace))
}

// TimeRemaining returns the time left before expiry. ok is false when the
// expiry is unknown.
func (c Credential) TimeRemaining(now time.Time) (remaining time.Duration, ok bool) {
	if c.ExpiresAt.IsZero() {
		return 0, false
	}
	return c.ExpiresAt.Sub(now), true
}

// EffectiveUserID returns the user id to send upstream.
func (c Credential) EffectiveUserID() string {
	if c.UserID == "" {
		return DefaultUserID
	}
	return c.UserID
}

// FormatRemaining renders a remaining duration the way the management API shows it:
// "2d 3h", "5h 12m", "42m", "Expired" or "Unknown".
func FormatRemaining(remaining time.Duration, known bool) string {
	if !known {
		return "Unknown"
	}
	secs := int64(remaining / time.Second)
	if secs <= 0 {
		return "Expired"
	}
	days := secs / 86400
	hours := (secs % 86400) / 3600
	minutes := (secs % 3600) / 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

// ClaimsFromToken reads the user identity and expiry from a JWT bearer without
// verifying it. Opaque tokens yield empty results.
func ClaimsFromToken(token string) (userID string, expiresAt time.Time) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return "", time.Time{}
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil || !gjson.ValidBytes(payload) {
		return "", time.Time{}
	}
	claims := gjson.ParseBytes(payload)
	for _, key := range []string{"email", "preferred_username", "sub"} {
		if v := claims.Get(key).String(); v != "" {
			userID = v
			break
		}
	}
	if exp := claims.Get("exp").Int(); exp > 0 {
		expiresAt = time.Unix(exp, 0)
	}
	return userID, expiresAt
}
