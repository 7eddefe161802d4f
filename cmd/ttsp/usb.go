package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/karalabe/hid"
	"github.com/mklimuk/ttsp/adapter"
	"github.com/urfave/cli/v2"
)

var usbCmd = cli.Command{
	Name:  "usb",
	Usage: "USB HID devices and known I2C bridges",
	Subcommands: cli.Commands{
		&usbLsCmd,
		&usbDetectCmd,
	},
}

var usbLsCmd = cli.Command{
	Name: "ls",
	Action: func(c *cli.Context) error {
		devices := hid.Enumerate(0, 0)
		w := tabwriter.NewWriter(os.Stdout, 24, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "PATH\tSERIAL\tVENDOR\tPRODUCT ID\tMANUFACTURER\tPRODUCT\n")

		for _, dev := range devices {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%#x\t%#x\t%s\t%s\n",
				dev.Path, dev.Serial, dev.VendorID, dev.ProductID, dev.Manufacturer, dev.Product)
		}
		_ = w.Flush()
		return nil
	},
}

var usbDetectCmd = cli.Command{
	Name: "detect",
	Action: func(c *cli.Context) error {
		predefined := map[string][]uint16{
			"MCP2221": {adapter.VendorID, adapter.ProductID},
		}
		// the index is the one to put in the mcp2221 bus configuration
		index := make(map[string]int)
		w := tabwriter.NewWriter(os.Stdout, 24, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "INDEX\tVENDOR\tPRODUCT\tDEVICE\tSERIAL\n")
		for descName, codes := range predefined {
			for _, dev := range hid.Enumerate(codes[0], codes[1]) {
				_, _ = fmt.Fprintf(w, "%d\t%#x\t%#x\t%s\t%s\n", index[descName], dev.VendorID, dev.ProductID, descName, dev.Serial)
				index[descName]++
			}
		}
		_ = w.Flush()
		return nil
	},
}
