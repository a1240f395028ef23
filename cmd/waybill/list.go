package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/waybill-app/waybill/internal/localstore"
	"github.com/waybill-app/waybill/internal/model"
	"github.com/waybill-app/waybill/internal/syncengine"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List shipments from the local database",
	Long: `List prints the tenant's shipments. The listing is served entirely from
the local database and works with no connectivity at all.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")
		withBoxes, _ := cmd.Flags().GetBool("boxes")

		engine, sess, cleanup, err := newEngine(cmd.Context(), syncengine.Config{})
		if err != nil {
			return err
		}
		defer cleanup()

		shipments, err := engine.Shipments(cmd.Context(), sess, localstore.ShipmentFilter{Status: status, Limit: limit})
		if err != nil {
			return err
		}

		if asJSON {
			return json.NewEncoder(os.Stdout).Encode(shipments)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "INVOICE\tAWB\tSTATUS\tORIGIN\tDEST\tSYNCED")
		for _, s := range shipments {
			synced := "no"
			if s.RemoteID != "" {
				synced = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				s.InvoiceNo, s.AWBNo, s.Status, s.Origin, s.Destination, synced)

			if withBoxes {
				boxes, err := engine.BoxesFor(cmd.Context(), sess, s)
				if err != nil {
					return err
				}
				for _, b := range boxes {
					fmt.Fprintf(w, "  box %d\t%.1f kg\t\t\t\t\n", b.Ordinal, b.WeightKg)
				}
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}

		pending, err := engine.PendingCount(cmd.Context(), sess)
		if err == nil && pending > 0 {
			fmt.Fprintf(os.Stderr, "\n%d local changes waiting for push\n", pending)
		}
		return nil
	},
}

var dimensionsCmd = &cobra.Command{
	Use:   "dimensions [kind]",
	Short: "List reference data (shippers, consignees, product kinds)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, sess, cleanup, err := newEngine(cmd.Context(), syncengine.Config{})
		if err != nil {
			return err
		}
		defer cleanup()

		kinds := model.DimensionKinds
		if len(args) == 1 {
			kinds = []model.DimensionKind{model.DimensionKind(args[0])}
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tNAME\tSYNCED")
		for _, kind := range kinds {
			dims, err := engine.Dimensions(cmd.Context(), sess, kind)
			if err != nil {
				return err
			}
			for _, d := range dims {
				synced := "no"
				if d.RemoteID != "" {
					synced = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.Kind, d.Name, synced)
			}
		}
		return w.Flush()
	},
}

func init() {
	listCmd.Flags().String("status", "", "filter by status")
	listCmd.Flags().Int("limit", 0, "maximum shipments to list")
	listCmd.Flags().Bool("json", false, "emit JSON")
	listCmd.Flags().Bool("boxes", false, "include each shipment's boxes")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(dimensionsCmd)
}
