package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/waybill-app/waybill/internal/migrate"
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export the local database to a JSONL file",
	Long: `Export writes the tenant's local records to a JSONL file, parents
before children. The file is written atomically: a crash mid-export
never leaves a truncated file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := currentSession()
		if err != nil {
			return err
		}
		db, err := openLocal(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		result, err := migrate.Export(cmd.Context(), db, sess, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Exported %d records to %s (%d shipments, %d boxes, %d products, %d reference)\n",
			result.Total(), args[0], result.Shipments, result.Boxes, result.Products, result.Dimensions)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a JSONL export into the local database",
	Long: `Import reads a JSONL export into the local database. Bad lines are
reported and skipped; the rest of the file still imports. Use --dry-run
to validate a file without writing.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		sess, err := currentSession()
		if err != nil {
			return err
		}
		db, err := openLocal(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		result, err := migrate.Import(cmd.Context(), db, sess, args[0], migrate.ImportOptions{DryRun: dryRun})
		if err != nil {
			return err
		}

		verb := "Imported"
		if dryRun {
			verb = "Validated"
		}
		fmt.Printf("%s %d records (%d shipments, %d boxes, %d products, %d reference)\n",
			verb, result.Total(), result.Shipments, result.Boxes, result.Products, result.Dimensions)

		if len(result.Errors) > 0 {
			fmt.Fprintf(os.Stderr, "%d lines failed:\n", len(result.Errors))
			for _, e := range result.Errors {
				fmt.Fprintln(os.Stderr, " ", e)
			}
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().Bool("dry-run", false, "validate without writing")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
