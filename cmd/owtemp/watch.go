package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/onewire/cmd/owtemp/console"
	"github.com/mklimuk/onewire/ds18b20"
	"github.com/mklimuk/onewire/therm"
)

var watchCmd = cli.Command{
	Name:    "watch",
	Aliases: []string{"w"},
	Usage:   "continuously capture and print temperatures until interrupted",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "configuration file",
			Value:   "owtemp.yaml",
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := LoadConfig(c.String("config"))
		if err != nil {
			return console.Exit(1, "configuration error: %s", console.Red(err))
		}
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		bus, err := openNamedBus(cfg.Bus, cfg.PullupPin)
		if err != nil {
			return console.Exit(1, "bus initialization error: %s", console.Red(err))
		}
		opts := []therm.Option{
			therm.WithResolution(ds18b20.Resolution(cfg.Resolution)),
			therm.WithSamplePeriod(cfg.Period),
		}
		if cfg.StrongPullup {
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
		roms := manager.ROMs()
		buf := make([]float32, found)
		for {
			err = manager.Capture(ctx, buf)
			if errors.Is(err, context.Canceled) {
				console.Print("stopping")
				return nil
			}
			if err != nil {
				return console.Exit(1, "capture error: %s", console.Red(err))
			}
			for slot, temp := range buf {
				console.Printf("%s %-20s %s\n", console.PictoThermometer, cfg.Alias(roms[slot]), console.White(fmt.Sprintf("%.1f", temp)))
			}
		}
	},
}
