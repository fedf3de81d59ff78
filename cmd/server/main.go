// Package main provides the entry point for the CodeBuddy API gateway.
// The gateway exposes an OpenAI-compatible chat completions API backed by a
// rotating pool of CodeBuddy bearer tokens.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/router-for-me/CodeBuddyAPI/internal/cmd"
	"github.com/router-for-me/CodeBuddyAPI/internal/config"
	"github.com/router-for-me/CodeBuddyAPI/internal/logging"
	log "github.com/sirupsen/logrus"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	var (
		configPath     string
		addCredential  bool
		token          string
		userID         string
		fileName       string
		listAccounts   bool
		cleanupExpired bool
		dryRun         bool
		jsonOutput     bool
		showVersion    bool
	)

	flag.StringVar(&configPath, "config", config.DefaultConfigPath, "Configure File Path")
	flag.BoolVar(&addCredential, "add-credential", false, "Store a CodeBuddy bearer token and exit")
	flag.StringVar(&token, "token", "", "Bearer token for -add-credential (prompted for when empty)")
	flag.StringVar(&userID, "user-id", "", "User id stored with -add-credential")
	flag.StringVar(&fileName, "filename", "", "File name used by -add-credential")
	flag.BoolVar(&listAccounts, "list-accounts", false, "List stored credentials and exit")
	flag.BoolVar(&cleanupExpired, "cleanup-expired", false, "Remove expired credentials and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "Show what -cleanup-expired would remove")
	flag.BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("CodeBuddy API Version: %s, Commit: %s, BuiltAt: %s\n", Version, Commit, BuildDate)
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		os.Exit(1)
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	cfg, err := config.LoadConfigOptional(configPath, configPath == config.DefaultConfigPath)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}
	warnings, err := config.ValidateConfig(cfg)
	if err != nil {
		log.Errorf("invalid config: %v", err)
		os.Exit(1)
	}

	logging.SetLogLevel(cfg.LogLevel)
	if errLog := logging.ConfigureLogOutput(cfg.LoggingToFile, ""); errLog != nil {
		log.Errorf("failed to configure log output: %v", errLog)
		os.Exit(1)
	}

	ctx := context.Background()
	switch {
	case addCredential:
		_, err = cmd.DoAddCredential(ctx, cfg, &cmd.AddOptions{Token: token, UserID: userID, FileName: fileName})
	case listAccounts:
		err = cmd.ListAccounts(cfg, jsonOutput, os.Stdout)
	case cleanupExpired:
		err = cmd.CleanupExpired(cfg, dryRun, os.Stdout)
	default:
		for _, w := range warnings {
			log.Warn(w)
		}
		log.Infof("CodeBuddy API Version: %s, Commit: %s, BuiltAt: %s", Version, Commit, BuildDate)
		err = cmd.StartService(ctx, cfg, configPath, Version)
	}
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
