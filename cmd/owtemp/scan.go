package main

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/onewire/cmd/owtemp/console"
	"github.com/mklimuk/onewire/ds18b20"
)

var scanCmd = cli.Command{
	Name:    "scan",
	Aliases: []string{"s"},
	Usage:   "enumerate devices present on the bus",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
	},
	Action: func(c *cli.Context) error {
		ctx := console.SetVerbose(context.Background(), c.Bool("verbose"))
		bus, err := openBus(c)
		if err != nil {
			return console.Exit(1, "bus initialization error: %s", console.Red(err))
		}
		defer func() { _ = bus.Close(ctx) }()

		count := 0
		rom, found, err := bus.SearchFirst(ctx)
		for err == nil && found {
			if rom.Family() == ds18b20.FamilyCode {
				console.Printf("%s %2d: %s\n", console.PictoThermometer, count, console.White(rom))
			} else {
				console.Printf("%s %2d: %s (family %#02x, not a thermometer)\n", console.PictoPin, count, console.Yellow(rom), rom.Family())
			}
			count++
			rom, found, err = bus.SearchNext(ctx)
		}
		if err != nil {
			return console.Exit(1, "bus search error: %s", console.Red(err))
		}
		if count == 0 {
			console.Warn("no devices found")
		}
		return nil
	},
}
