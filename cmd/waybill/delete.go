package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/waybill-app/waybill/internal/model"
	"github.com/waybill-app/waybill/internal/syncengine"
)

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete records locally and best-effort remotely",
}

var deleteShipmentCmd = &cobra.Command{
	Use:   "shipment <key>",
	Short: "Delete a shipment and its boxes and products",
	Long: `Delete removes the shipment from the local database (the authoritative
half) and then attempts to remove the remote copies. A remote failure
does not resurrect the local record; the orphaned remote copy is
reported so a later cleanup can remove it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, sess, cleanup, err := newEngine(cmd.Context(), syncengine.Config{})
		if err != nil {
			return err
		}
		defer cleanup()

		s, err := engine.Shipment(cmd.Context(), sess, args[0])
		if err != nil {
			return err
		}
		if s == nil {
			return fmt.Errorf("no shipment %q in the local database", args[0])
		}

		result, err := engine.DeleteShipment(cmd.Context(), sess, s.LocalID)
		if err != nil {
			return err
		}
		reportDelete(s.PrimaryKey(), result)
		return nil
	},
}

var deleteDimensionCmd = &cobra.Command{
	Use:   "dimension <kind> <name>",
	Short: "Delete a reference-data record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, sess, cleanup, err := newEngine(cmd.Context(), syncengine.Config{})
		if err != nil {
			return err
		}
		defer cleanup()

		result, err := engine.DeleteDimension(cmd.Context(), sess, model.DimensionKind(args[0]), args[1])
		if err != nil {
			return err
		}
		reportDelete(args[0]+"/"+args[1], result)
		return nil
	},
}

func reportDelete(key string, result *syncengine.DeleteResult) {
	if !result.LocalDeleted {
		fmt.Printf("Nothing to delete for %s\n", key)
		return
	}
	fmt.Printf("Deleted %s locally\n", key)
	if result.RemoteErr != nil {
		fmt.Fprintf(os.Stderr, "Remote copy not removed (%v); it will linger until cleaned up\n", result.RemoteErr)
	} else if result.RemoteDeleted {
		fmt.Println("Remote copy removed")
	}
}

func init() {
	deleteCmd.AddCommand(deleteShipmentCmd)
	deleteCmd.AddCommand(deleteDimensionCmd)
	rootCmd.AddCommand(deleteCmd)
}
