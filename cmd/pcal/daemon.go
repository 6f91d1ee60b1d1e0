package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mschirtzinger/prodcal/internal/daemon"
	"github.com/mschirtzinger/prodcal/internal/dashboard"
	"github.com/mschirtzinger/prodcal/internal/orchestrator"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "advanced",
	Short:   "Run the background sync daemon",
	Long: `Run the sync daemon in the foreground.

The daemon:
- watches the inbox directory for dropped dataset JSON files and merges
  them into the local dataset
- periodically reconciles local data with the remote store when sync is
  enabled
- optionally serves a status dashboard (WebSocket + /status + /health)

Example usage:
  pcal daemon                          # inbox watching + reconciliation
  pcal daemon --dashboard              # also serve the dashboard
  pcal daemon --dashboard-port 9000    # dashboard on a custom port`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		dashPort, _ := cmd.Flags().GetInt("dashboard-port")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("dashboard-port") {
			withDashboard = true
			cfg.Dashboard.Port = dashPort
		}
		if cfg.Dashboard.Enabled {
			withDashboard = true
		}

		logger := daemonLogger(cfg.Daemon.LogFile, cfg.Daemon.LogMaxSizeMB, cfg.Daemon.LogMaxBackups)

		s, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		var notify func(orchestrator.Event)
		var dash *dashboard.Server
		o, err := buildOrchestrator(cfg, s, logger, func(ev orchestrator.Event) {
			if notify != nil {
				notify(ev)
			}
		})
		if err != nil {
			return err
		}

		if withDashboard {
			dash = dashboard.NewServer(o, &dashboard.Config{
				Port:   cfg.Dashboard.Port,
				Logger: logger,
			})
			if err := dash.Start(); err != nil {
				return fmt.Errorf("start dashboard: %w", err)
			}
			notify = dash.Notify
			fmt.Printf("Dashboard: http://localhost:%d/status (ws://localhost:%d/ws)\n",
				cfg.Dashboard.Port, cfg.Dashboard.Port)
			defer func() {
				if err := dash.Stop(); err != nil {
					logger.Printf("Dashboard shutdown: %v", err)
				}
			}()
		}

		d, err := daemon.New(o, cfg.Storage.Inbox, &daemon.Config{
			ReconcileInterval: cfg.Daemon.ReconcileInterval,
			DebounceInterval:  cfg.Daemon.DebounceInterval,
			Logger:            logger,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Watching inbox: %s\n", cfg.Storage.Inbox)
		fmt.Println("Press Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return d.Start(ctx)
	},
}

// daemonLogger routes daemon logs to a size-rotated file when configured,
// stderr otherwise.
func daemonLogger(logFile string, maxSizeMB, maxBackups int) *log.Logger {
	var w io.Writer = os.Stderr
	if logFile != "" {
		w = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			Compress:   true,
		}
	}
	return log.New(w, "[daemon] ", log.LstdFlags)
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Serve the status dashboard")
	daemonCmd.Flags().Int("dashboard-port", 8377, "Dashboard port")
	rootCmd.AddCommand(daemonCmd)
}
