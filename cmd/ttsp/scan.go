package main

import (
	"encoding/hex"

	"github.com/mklimuk/ttsp/cmd/ttsp/console"
	"github.com/mklimuk/ttsp/touch"
	"github.com/urfave/cli/v2"
)

var scanCmd = cli.Command{
	Name:  "scan",
	Usage: "run a panel scan and retrieve raw elements",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "offset", Value: 0},
		&cli.IntFlag{Name: "count", Value: 100},
		&cli.UintFlag{Name: "type", Value: 0, Usage: "data type: raw, baseline, difference..."},
		&cli.BoolFlag{Name: "no-scan", Usage: "retrieve the previous scan only"},
		&cli.IntFlag{Name: "structure", Value: -1, Usage: "retrieve data structure with this id instead"},
	},
	Action: withDevice(func(c *cli.Context, d *device) error {
		if id := c.Int("structure"); id >= 0 {
			data, err := d.core.ReadDataStructure(c.Context, c.Int("offset"), c.Int("count"), byte(id))
			if err != nil {
				return console.Exit(1, "could not retrieve data structure: %s", console.Red(err))
			}
			console.Print(hex.Dump(data))
			return nil
		}
		scan, err := d.core.ScanAndRetrieve(c.Context, touch.ScanRequest{
			SwitchToDiagnostic: true,
			Scan:               !c.Bool("no-scan"),
			Offset:             c.Int("offset"),
			Count:              c.Int("count"),
			DataType:           byte(c.Uint("type")),
		})
		if err != nil {
			return console.Exit(1, "scan failed: %s", console.Red(err))
		}
		console.PInfof(console.PictoScroll, "%d elements of %d bytes", scan.Count, scan.ElementSize)
		console.Print(hex.Dump(scan.Elements))
		return nil
	}),
}
