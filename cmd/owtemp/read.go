package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/onewire/cmd/owtemp/console"
	"github.com/mklimuk/onewire/ds18b20"
	"github.com/mklimuk/onewire/therm"
)

var readCmd = cli.Command{
	Name:    "read",
	Aliases: []string{"r"},
	Usage:   "capture and log temperatures from every device on the bus",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "resolution",
			Aliases: []string{"b"},
			Usage:   "conversion resolution in bits (9-12)",
			Value:   12,
		},
		&cli.IntFlag{
			Name:    "samples",
			Aliases: []string{"n"},
			Usage:   "number of capture cycles to run",
			Value:   1,
		},
		&cli.BoolFlag{
			Name:  "strong-pullup",
			Usage: "hold the strong pull-up during conversions of parasitic-powered devices",
		},
	},
	Action: func(c *cli.Context) error {
		res := ds18b20.Resolution(c.Int("resolution"))
		if !res.Valid() {
			return console.Exit(1, "invalid resolution: %s bits", console.Red(c.Int("resolution")))
		}
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		bus, err := openBus(c)
		if err != nil {
			return console.Exit(1, "bus initialization error: %s", console.Red(err))
		}
		opts := []therm.Option{therm.WithResolution(res)}
		if c.Bool("strong-pullup") {
			opts = append(opts, therm.WithStrongPullup())
		}
		manager := therm.NewManager(bus, opts...)
		defer func() { _ = manager.Close(context.Background()) }()

		found, err := manager.Init(ctx)
		if err != nil {
			return console.Exit(1, "initialization error: %s", console.Red(err))
		}
		if found == 0 {
			console.Warn("no devices found")
			return nil
		}
		for range c.Int("samples") {
			if err = manager.ReadAndLog(ctx); err != nil {
				return console.Exit(1, "capture error: %s", console.Red(err))
			}
		}
		return nil
	},
}
