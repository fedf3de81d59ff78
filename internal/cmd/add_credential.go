package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/router-for-me/CodeBuddyAPI/internal/config"
	"github.com/router-for-me/CodeBuddyAPI/internal/credential"
	"github.com/router-for-me/CodeBuddyAPI/internal/util"
	"golang.org/x/term"
)

// AddOptions carries the inputs of DoAddCredential. Token is prompted for when empty.
type AddOptions struct {
	Token    string
	UserID   string
	FileName string
	// Prompt reads one secret line; defaults to a no-echo terminal prompt.
	Prompt func(prompt string) (string, error)
	Out    io.Writer
}

// DoAddCredential stores a bearer token in the configured credential directory.
func DoAddCredential(ctx context.Context, cfg *config.Config, opts *AddOptions) (credential.Credential, error) {
	if opts == nil {
		opts = &AddOptions{}
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	promptFn := opts.Prompt
	if promptFn == nil {
		promptFn = promptSecret
	}

	token := strings.TrimSpace(opts.Token)
	if token == "" {
		value, err := promptFn("Paste the CodeBuddy bearer token: ")
		if err != nil {
			return credential.Credential{}, fmt.Errorf("read token: %w", err)
		}
		token = strings.TrimSpace(value)
	}
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return credential.Credential{}, errors.New("bearer token is required")
	}

	manager := credential.NewManager(credential.NewPool(1, 0), credential.NewFileStore(cfg.CredsDir))
	saved, err := manager.Add(ctx, credential.AddRequest{
		BearerToken: token,
		UserID:      opts.UserID,
		FileName:    opts.FileName,
	})
	if err != nil {
		return credential.Credential{}, err
	}

	_, _ = fmt.Fprintf(out, "%s✓ Credential saved to %s/%s%s\n", colorGreen, cfg.CredsDir, saved.ID, colorReset)
	_, _ = fmt.Fprintf(out, "  token: %s\n", util.MaskToken(saved.Bearer))
	if remaining, known := saved.TimeRemaining(timeNow()); known {
		_, _ = fmt.Fprintf(out, "  expires in: %s\n", credential.FormatRemaining(remaining, known))
	}
	return saved, nil
}

func promptSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return line, nil
}
