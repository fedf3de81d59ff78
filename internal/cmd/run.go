package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/router-for-me/CodeBuddyAPI/internal/api"
	"github.com/router-for-me/CodeBuddyAPI/internal/config"
	"github.com/router-for-me/CodeBuddyAPI/internal/credential"
	"github.com/router-for-me/CodeBuddyAPI/internal/logging"
	"github.com/router-for-me/CodeBuddyAPI/internal/runtime/executor"
	"github.com/router-for-me/CodeBuddyAPI/internal/usage"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds how long in-flight streams get to finish on exit.
const shutdownTimeout = 30 * time.Second

// StartService runs the gateway until ctx is cancelled or SIGINT/SIGTERM arrives.
// The config file at configPath is watched for changes when it exists, and the
// credential directory is watched so files dropped in by hand are picked up.
func StartService(ctx context.Context, cfg *config.Config, configPath, version string) error {
	grace := time.Duration(cfg.GetCredentialExpiryGraceSeconds()) * time.Second
	manager := credential.NewManager(credential.NewPool(cfg.RotationCount, grace), credential.NewFileStore(cfg.CredsDir))
	if err := manager.Reload(ctx); err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if manager.Pool().Len() == 0 {
		log.Warnf("no credentials in %s; add one with -add-credential or POST /v1/credentials", cfg.CredsDir)
	}

	exec := executor.NewExecutor(cfg)
	defer exec.Close()

	server := api.NewServer(cfg, manager, exec, usage.NewRequestStatistics(), api.WithVersion(version))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Stop(shutdownCtx)
	})
	g.Go(func() error {
		return manager.Watch(gctx)
	})
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			current := cfg
			watcher := config.NewWatcher(configPath, func(next *config.Config) {
				if next.CredsDir != current.CredsDir {
					log.Warn("creds-dir changes require a restart")
				}
				if next.LoggingToFile != current.LoggingToFile {
					if errLog := logging.ConfigureLogOutput(next.LoggingToFile, ""); errLog != nil {
						log.Errorf("failed to reconfigure log output: %v", errLog)
					}
				}
				server.UpdateConfig(next)
				current = next
			})
			g.Go(func() error {
				return watcher.Run(gctx)
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("CodeBuddy API gateway stopped")
	return nil
}
