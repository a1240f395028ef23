package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/waybill-app/waybill/internal/daemon"
	"github.com/waybill-app/waybill/internal/dashboard"
	"github.com/waybill-app/waybill/internal/syncengine"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run background synchronization",
	Long: `Daemon keeps the local database and the remote store reconciled:
it pulls on an interval, pushes queued local changes, and watches the
database file so out-of-process edits trigger a push.

With --dashboard, a WebSocket server broadcasts sync progress for live
monitoring.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pullEvery, _ := cmd.Flags().GetDuration("pull-interval")
		pushEvery, _ := cmd.Flags().GetDuration("push-interval")
		logFile, _ := cmd.Flags().GetString("log-file")
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		dashboardPort, _ := cmd.Flags().GetInt("dashboard-port")

		logger := log.New(os.Stderr, "[daemon] ", log.LstdFlags)
		if logFile != "" {
			logger.SetOutput(&lumberjack.Logger{
				Filename:   logFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     14, // days
			})
		}

		var server *dashboard.Server
		engineConfig := syncengine.Config{Logger: logger}
		if withDashboard {
			server = dashboard.NewServer(&dashboard.Config{Port: dashboardPort, Logger: logger})
			if err := server.Start(); err != nil {
				return err
			}
			defer server.Stop()
			engineConfig.Progress = server.BroadcastProgress
			fmt.Printf("Dashboard: http://%s (ws endpoint /ws)\n", server.Addr())
		}

		engine, sess, cleanup, err := newEngine(cmd.Context(), engineConfig)
		if err != nil {
			return err
		}
		defer cleanup()

		config := daemon.DefaultConfig()
		config.Logger = logger
		if pullEvery > 0 {
			config.PullInterval = pullEvery
		}
		if pushEvery > 0 {
			config.PushInterval = pushEvery
		}

		var notify daemon.Notify
		if server != nil {
			notify = func(direction string, report *syncengine.Report, err error) {
				server.BroadcastSyncComplete(direction, report, err)
			}
		}

		d, err := daemon.New(engine, sess, dbPath(), config, notify)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("Syncing %s every %s (push every %s). Press Ctrl+C to stop.\n",
			sess, config.PullInterval, config.PushInterval)
		return d.Start(ctx)
	},
}

func init() {
	daemonCmd.Flags().Duration("pull-interval", 5*time.Minute, "how often to pull remote changes")
	daemonCmd.Flags().Duration("push-interval", time.Minute, "how often to push local changes")
	daemonCmd.Flags().String("log-file", "", "write logs to this file with rotation")
	daemonCmd.Flags().Bool("dashboard", false, "serve the WebSocket dashboard")
	daemonCmd.Flags().Int("dashboard-port", 8422, "dashboard port")

	rootCmd.AddCommand(daemonCmd)
}
