package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/prodcal/internal/config"
	"github.com/mschirtzinger/prodcal/internal/orchestrator"
	"github.com/mschirtzinger/prodcal/internal/remote"
	"github.com/mschirtzinger/prodcal/internal/store"
	"github.com/mschirtzinger/prodcal/internal/ui"
)

var rootCmd = &cobra.Command{
	Use:   "pcal",
	Short: "Offline-first productivity calendar with optional remote sync",
	Long: `pcal manages a day-bucketed task calendar stored locally in SQLite.

Tasks live on this device first. When sync is enabled, the dataset is
merged with a copy in a remote document store; conflicts resolve in favor
of the version with more completed work, and no task is ever lost to a
sync.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ~/.prodcal/config.yaml)")
	rootCmd.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Task Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)
}

// loadConfig resolves the --config flag into a Config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openStore opens the local dataset store from config.
func openStore(cfg *config.Config) (*store.Store, error) {
	s, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open local store (%s): %w", cfg.Storage.Path, err)
	}
	return s, nil
}

// buildOrchestrator wires the store, remote client, and orchestrator
// together. With no remote base URL configured the orchestrator runs
// local-only and every sync command that needs the remote reports it.
func buildOrchestrator(cfg *config.Config, s *store.Store, logger *log.Logger, notify func(orchestrator.Event)) (*orchestrator.Orchestrator, error) {
	var rc remote.Client
	if cfg.Remote.BaseURL != "" {
		var err error
		rc, err = remote.NewClient(remote.Config{
			BaseURL: cfg.Remote.BaseURL,
			Logger:  logger,
		}, envTokenSource{}, s)
		if err != nil {
			return nil, fmt.Errorf("build remote client: %w", err)
		}
	}
	return orchestrator.New(s, rc, orchestrator.Config{
		Logger: logger,
		Notify: notify,
	}), nil
}

// envTokenSource reads the access credential from the environment. The
// interactive OAuth dance belongs to the desktop shell; the CLI takes a
// pre-obtained token.
type envTokenSource struct{}

func (envTokenSource) Token(ctx context.Context) (remote.Credential, error) {
	token := os.Getenv("PRODCAL_ACCESS_TOKEN")
	if token == "" {
		return remote.Credential{}, fmt.Errorf("PRODCAL_ACCESS_TOKEN is not set")
	}
	return remote.Credential{
		AccessToken: token,
		ExpiresAt:   time.Now().Add(time.Hour),
	}, nil
}

// parseNaturalDate resolves a natural-language date ("today", "next
// friday", "2024-03-05") to a point in time.
func parseNaturalDate(text string, base time.Time) (time.Time, error) {
	if text == "" || text == "today" {
		return base, nil
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	result, err := w.Parse(text, base)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", text, err)
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("could not understand date %q", text)
	}
	return result.Time, nil
}

func stylesFor(cfg *config.Config) ui.Styles {
	return ui.NewStyles(cfg.Display.Colors)
}
