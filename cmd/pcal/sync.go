package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/prodcal/internal/config"
	"github.com/mschirtzinger/prodcal/internal/orchestrator"
	"github.com/mschirtzinger/prodcal/internal/store"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Control remote synchronization",
}

// syncContext opens everything a sync subcommand needs.
func syncContext(cmd *cobra.Command) (*config.Config, *store.Store, *orchestrator.Orchestrator, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.Remote.BaseURL == "" {
		return nil, nil, nil, fmt.Errorf("remote.base_url is not configured; run 'pcal config init' and set it")
	}
	s, err := openStore(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := log.New(os.Stderr, "[sync] ", log.LstdFlags)
	o, err := buildOrchestrator(cfg, s, logger, nil)
	if err != nil {
		s.Close()
		return nil, nil, nil, err
	}
	return cfg, s, o, nil
}

var syncEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Sign in and turn on remote sync",
	Long: `Authenticate against the remote document store and run an initial
reconciliation: the remote copy is merged with local data, the result is
stored locally and pushed back.

The access credential is read from the PRODCAL_ACCESS_TOKEN environment
variable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, s, o, err := syncContext(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := o.EnableSync(context.Background()); err != nil {
			return fmt.Errorf("enable sync: %w", err)
		}
		fmt.Print(stylesFor(cfg).RenderStatus(o.GetSyncStatus()))
		return nil
	},
}

var syncDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Sign out and turn off remote sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, s, o, err := syncContext(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := o.DisableSync(context.Background()); err != nil {
			return err
		}
		fmt.Println("Sync disabled. Local data kept.")
		return nil
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		o, err := buildOrchestrator(cfg, s, log.New(os.Stderr, "[sync] ", log.LstdFlags), nil)
		if err != nil {
			return err
		}
		fmt.Print(stylesFor(cfg).RenderStatus(o.GetSyncStatus()))
		return nil
	},
}

var syncRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Clear backoff and retry a remote load now",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, s, o, err := syncContext(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		ds, err := o.ForceSyncRetry(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Dataset holds %d tasks\n", ds.TaskCount())
		fmt.Print(stylesFor(cfg).RenderStatus(o.GetSyncStatus()))
		return nil
	},
}

var syncResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset sync failure state",
	Long: `Clear the failure counter and backoff state. Use after sync has
paused itself following repeated failures.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, s, o, err := syncContext(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		o.ResetSyncState()
		fmt.Print(stylesFor(cfg).RenderStatus(o.GetSyncStatus()))
		return nil
	},
}

var syncRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Force a fresh pull-and-merge from the remote store",
	Long: `Emergency recovery: fetch the remote document ignoring all
throttling, merge it with local data, and store the result. Use when
sync appears stuck.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, s, o, err := syncContext(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		ds, err := o.EmergencyRecovery(context.Background())
		if err != nil {
			return fmt.Errorf("recovery failed: %w", err)
		}
		fmt.Printf("Recovered: dataset holds %d tasks\n", ds.TaskCount())
		fmt.Print(stylesFor(cfg).RenderStatus(o.GetSyncStatus()))
		return nil
	},
}

func init() {
	syncCmd.AddCommand(syncEnableCmd)
	syncCmd.AddCommand(syncDisableCmd)
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncRetryCmd)
	syncCmd.AddCommand(syncResetCmd)
	syncCmd.AddCommand(syncRecoverCmd)
	rootCmd.AddCommand(syncCmd)
}
