package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/waybill-app/waybill/internal/model"
	"github.com/waybill-app/waybill/internal/syncengine"
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Create or update records locally (and replicate best-effort)",
}

var addShipmentCmd = &cobra.Command{
	Use:   "shipment",
	Short: "Create a shipment",
	Long: `Create a shipment addressed by an invoice number, an AWB number, or
both. The record commits locally first; if the remote store is
unreachable the upload is queued for the next push.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := &model.Shipment{}
		s.InvoiceNo, _ = cmd.Flags().GetString("invoice")
		s.AWBNo, _ = cmd.Flags().GetString("awb")
		s.Origin, _ = cmd.Flags().GetString("origin")
		s.Destination, _ = cmd.Flags().GetString("dest")
		s.Status, _ = cmd.Flags().GetString("status")
		s.ShipperID, _ = cmd.Flags().GetString("shipper")
		s.ConsigneeID, _ = cmd.Flags().GetString("consignee")

		engine, sess, cleanup, err := newEngine(cmd.Context(), syncengine.Config{})
		if err != nil {
			return err
		}
		defer cleanup()

		result, err := engine.WriteShipment(cmd.Context(), sess, s)
		if err != nil {
			return err
		}

		fmt.Printf("Created shipment %s\n", s.PrimaryKey())
		reportWrite(result)
		return nil
	},
}

var addBoxCmd = &cobra.Command{
	Use:   "box <shipment-key>",
	Short: "Add a box to a shipment",
	Args:  cobra.ExactArgs(1),
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
			return fmt.Errorf("no shipment %q in the local database (pull first?)", args[0])
		}

		boxes, err := engine.BoxesFor(cmd.Context(), sess, s)
		if err != nil {
			return err
		}

		b := &model.Box{Ordinal: len(boxes) + 1}
		b.WeightKg, _ = cmd.Flags().GetFloat64("weight")
		b.LengthCm, _ = cmd.Flags().GetFloat64("length")
		b.WidthCm, _ = cmd.Flags().GetFloat64("width")
		b.HeightCm, _ = cmd.Flags().GetFloat64("height")
		if ordinal, _ := cmd.Flags().GetInt("ordinal"); ordinal > 0 {
			b.Ordinal = ordinal
		}

		result, err := engine.WriteBox(cmd.Context(), sess, s, b)
		if err != nil {
			return err
		}

		fmt.Printf("Added box %d to %s\n", b.Ordinal, s.PrimaryKey())
		reportWrite(result)
		return nil
	},
}

var addProductCmd = &cobra.Command{
	Use:   "product <shipment-key> <box-ordinal>",
	Short: "Add a product to a box",
	Args:  cobra.ExactArgs(2),
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

		boxes, err := engine.BoxesFor(cmd.Context(), sess, s)
		if err != nil {
			return err
		}
		var box *model.Box
		for _, b := range boxes {
			if fmt.Sprint(b.Ordinal) == args[1] {
				box = b
				break
			}
		}
		if box == nil {
			return fmt.Errorf("shipment %s has no box %s", s.PrimaryKey(), args[1])
		}

		products, err := engine.ProductsFor(cmd.Context(), sess, box)
		if err != nil {
			return err
		}

		p := &model.Product{Ordinal: len(products) + 1}
		p.Description, _ = cmd.Flags().GetString("description")
		p.KindID, _ = cmd.Flags().GetString("kind")
		p.Quantity, _ = cmd.Flags().GetInt("quantity")
		p.UnitValue, _ = cmd.Flags().GetFloat64("value")

		result, err := engine.WriteProduct(cmd.Context(), sess, s, box, p)
		if err != nil {
			return err
		}

		fmt.Printf("Added product %d to %s box %d\n", p.Ordinal, s.PrimaryKey(), box.Ordinal)
		reportWrite(result)
		return nil
	},
}

var addDimensionCmd = &cobra.Command{
	Use:   "dimension <kind> <name>",
	Short: "Add a reference-data record (shipper, consignee, product_kind)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, sess, cleanup, err := newEngine(cmd.Context(), syncengine.Config{})
		if err != nil {
			return err
		}
		defer cleanup()

		attrs, _ := cmd.Flags().GetStringToString("attr")
		d := &model.Dimension{Kind: model.DimensionKind(args[0]), Name: args[1], Attr: attrs}

		result, err := engine.WriteDimension(cmd.Context(), sess, d)
		if err != nil {
			return err
		}

		fmt.Printf("Created %s %q\n", d.Kind, d.Name)
		reportWrite(result)
		return nil
	},
}

func reportWrite(result *syncengine.WriteResult) {
	if result.Synced {
		fmt.Println("Replicated to remote store")
		return
	}
	fmt.Fprintf(os.Stderr, "Saved locally; remote replication pending (%v)\n", result.RemoteErr)
}

func init() {
	addShipmentCmd.Flags().String("invoice", "", "invoice number")
	addShipmentCmd.Flags().String("awb", "", "air waybill number")
	addShipmentCmd.Flags().String("origin", "", "origin code")
	addShipmentCmd.Flags().String("dest", "", "destination code")
	addShipmentCmd.Flags().String("status", "draft", "shipment status")
	addShipmentCmd.Flags().String("shipper", "", "shipper reference")
	addShipmentCmd.Flags().String("consignee", "", "consignee reference")

	addBoxCmd.Flags().Float64("weight", 0, "weight in kg")
	addBoxCmd.Flags().Float64("length", 0, "length in cm")
	addBoxCmd.Flags().Float64("width", 0, "width in cm")
	addBoxCmd.Flags().Float64("height", 0, "height in cm")
	addBoxCmd.Flags().Int("ordinal", 0, "box position (default: append)")

	addProductCmd.Flags().String("description", "", "product description")
	addProductCmd.Flags().String("kind", "", "product kind reference")
	addProductCmd.Flags().Int("quantity", 1, "quantity")
	addProductCmd.Flags().Float64("value", 0, "unit value")

	addDimensionCmd.Flags().StringToString("attr", nil, "attributes as key=value pairs")

	addCmd.AddCommand(addShipmentCmd)
	addCmd.AddCommand(addBoxCmd)
	addCmd.AddCommand(addProductCmd)
	addCmd.AddCommand(addDimensionCmd)
	rootCmd.AddCommand(addCmd)
}
