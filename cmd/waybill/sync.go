package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/waybill-app/waybill/internal/syncengine"
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Fetch remote changes into the local database",
	Long: `Pull downloads the tenant's shipments, boxes, products and reference
data from the remote store into the local database.

Pulls are idempotent: records already present locally are matched by
remote ID or business identity and skipped (or overwritten with
--overwrite), never duplicated. A record that fails is skipped and
reported; the pull keeps going.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		overwrite, _ := cmd.Flags().GetBool("overwrite")

		config := syncengine.Config{Progress: progressPrinter()}
		if overwrite {
			config.PullPolicy = syncengine.PolicyOverwrite
		}

		engine, sess, cleanup, err := newEngine(cmd.Context(), config)
		if err != nil {
			return err
		}
		defer cleanup()

		if reprobe, _ := cmd.Flags().GetBool("reprobe"); reprobe {
			if err := engine.ForgetCanonicalKeys(cmd.Context(), sess); err != nil {
				return err
			}
		}

		report, err := engine.Pull(cmd.Context(), sess)
		if err != nil {
			return fmt.Errorf("pull failed: %w", err)
		}

		fmt.Println(report.Summary())
		if report.TotalFailed() > 0 {
			fmt.Fprintf(os.Stderr, "%d records failed; run pull again to retry\n", report.TotalFailed())
			os.Exit(1)
		}
		return nil
	},
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload local changes to the remote store",
	Long: `Push uploads the tenant's local records to the remote store and drains
the queue of writes that missed the remote earlier.

Every record is attempted; failures are reported at the end and stay
queued for the next push.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, sess, cleanup, err := newEngine(cmd.Context(), syncengine.Config{Progress: progressPrinter()})
		if err != nil {
			return err
		}
		defer cleanup()

		report, err := engine.Push(cmd.Context(), sess)
		if err != nil {
			return fmt.Errorf("push failed: %w", err)
		}

		fmt.Println(report.Summary())
		if report.TotalFailed() > 0 {
			fmt.Fprintf(os.Stderr, "%d records failed; they remain queued\n", report.TotalFailed())
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	pullCmd.Flags().Bool("overwrite", false, "replace local records with remote copies on match")
	pullCmd.Flags().Bool("reprobe", false, "forget resolved canonical keys and probe again")

	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(pushCmd)
}
