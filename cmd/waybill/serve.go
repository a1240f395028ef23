package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/waybill-app/waybill/internal/dashboard"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the WebSocket sync dashboard",
	Long: `Serve starts the dashboard server on its own, without background
syncing. Useful when another process runs the daemon and this one only
exposes its activity.

Connect a WebSocket client to ws://localhost:<port>/ws to receive
sync_progress, sync_complete and shipment_update messages.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")

		server := dashboard.NewServer(&dashboard.Config{
			Port:   port,
			Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
		})
		if err := server.Start(); err != nil {
			return err
		}

		fmt.Printf("Dashboard listening on http://localhost:%d\n", port)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Println("Press Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()

		return server.Stop()
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8422, "port to listen on")
	rootCmd.AddCommand(serveCmd)
}
