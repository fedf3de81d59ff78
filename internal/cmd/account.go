// Package cmd provides the command-line entry points of the CodeBuddy gateway.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/router-for-me/CodeBuddyAPI/internal/config"
	"github.com/router-for-me/CodeBuddyAPI/internal/credential"
	"github.com/router-for-me/CodeBuddyAPI/internal/util"
)

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

var timeNow = time.Now

// AccountInfo is the display form of one stored credential.
type AccountInfo struct {
	Index     int       `json:"index"`
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"token_preview"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Remaining string    `json:"time_remaining"`
	IsExpired bool      `json:"is_expired"`
	FilePath  string    `json:"file_path"`
}

// ListAccounts prints the credentials stored in cfg.CredsDir.
func ListAccounts(cfg *config.Config, jsonOutput bool, out io.Writer) error {
	accounts, err := loadAccounts(cfg)
	if err != nil {
		return err
	}
	if jsonOutput {
		return outputJSON(out, accounts)
	}
	return outputTable(out, accounts)
}

// CleanupExpired removes credential files whose token is past its expiry grace.
func CleanupExpired(cfg *config.Config, dryRun bool, out io.Writer) error {
	accounts, err := loadAccounts(cfg)
	if err != nil {
		return err
	}

	var expired []AccountInfo
	for _, acc := range accounts {
		if acc.IsExpired {
			expired = append(expired, acc)
		}
	}
	if len(expired) == 0 {
		_, _ = fmt.Fprintf(out, "%s✓ No expired credentials found%s\n", colorGreen, colorReset)
		return nil
	}

	_, _ = fmt.Fprintf(out, "\n%sExpired credentials:%s\n", colorYellow, colorReset)
	for _, acc := range expired {
		_, _ = fmt.Fprintf(out, "  • %s (%s) - expired %s\n", acc.ID, acc.UserID, acc.ExpiresAt.Format("2006-01-02"))
	}
	if dryRun {
		_, _ = fmt.Fprintf(out, "\n%s[dry-run] Would remove %d expired credential(s)%s\n", colorCyan, len(expired), colorReset)
		return nil
	}

	for _, acc := range expired {
		if errRemove := os.Remove(acc.FilePath); errRemove != nil {
			_, _ = fmt.Fprintf(out, "  %s✗ Failed to remove %s: %v%s\n", colorRed, acc.ID, errRemove, colorReset)
		} else {
			_, _ = fmt.Fprintf(out, "  %s✓ Removed %s%s\n", colorGreen, acc.ID, colorReset)
		}
	}
	return nil
}

func loadAccounts(cfg *config.Config) ([]AccountInfo, error) {
	store := credential.NewFileStore(cfg.CredsDir)
	creds, err := store.Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	grace := time.Duration(cfg.GetCredentialExpiryGraceSeconds()) * time.Second
	return parseAccounts(creds, store.Dir(), timeNow(), grace), nil
}

func parseAccounts(creds []credential.Credential, dir string, now time.Time, grace time.Duration) []AccountInfo {
	accounts := make([]AccountInfo, 0, len(creds))
	for i, c := range creds {
		remaining, known := c.TimeRemaining(now)
		accounts = append(accounts, AccountInfo{
			Index:     i,
			ID:        c.ID,
			UserID:    c.EffectiveUserID(),
			Token:     util.MaskToken(c.Bearer),
			ExpiresAt: c.ExpiresAt,
			Remaining: credential.FormatRemaining(remaining, known),
			IsExpired: known && !c.IsValid(now, grace),
			FilePath:  filepath.Join(dir, c.ID),
		})
	}
	return accounts
}

func outputJSON(out io.Writer, data any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func outputTable(out io.Writer, accounts []AccountInfo) error {
	if len(accounts) == 0 {
		_, _ = fmt.Fprintf(out, "%sNo credentials found%s\n", colorYellow, colorReset)
		return nil
	}

	_, _ = fmt.Fprintf(out, "\n%s%s%-4s %-40s %-20s %-12s %s%s\n",
		colorBold, colorCyan,
		"#", "FILE", "TOKEN", "REMAINING", "STATUS",
		colorReset)
	_, _ = fmt.Fprintf(out, "%s────────────────────────────────────────────────────────────────────────────────────%s\n", colorDim, colorReset)

	for _, acc := range accounts {
		id := acc.ID
		if len(id) > 38 {
			id = id[:35] + "..."
		}
		status := colorGreen + "active" + colorReset
		if acc.IsExpired {
			status = colorRed + "expired" + colorReset
		}
		_, _ = fmt.Fprintf(out, "%-4d %-40s %-20s %-12s %s\n", acc.Index+1, id, acc.Token, acc.Remaining, status)
	}

	_, _ = fmt.Fprintf(out, "%s────────────────────────────────────────────────────────────────────────────────────%s\n", colorDim, colorReset)
	_, _ = fmt.Fprintf(out, "Total: %d credential(s)\n\n", len(accounts))
	return nil
}
