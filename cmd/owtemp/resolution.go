package main

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/onewire"
	"github.com/mklimuk/onewire/cmd/owtemp/console"
	"github.com/mklimuk/onewire/ds18b20"
)

var resolutionCmd = cli.Command{
	Name:    "resolution",
	Aliases: []string{"res"},
	Usage:   "configure the conversion resolution on every device",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "bits",
			Aliases: []string{"b"},
			Usage:   "conversion resolution in bits (9-12)",
			Value:   12,
		},
		&cli.BoolFlag{
			Name:  "save",
			Usage: "persist the configuration to device EEPROM",
		},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
	},
	Action: func(c *cli.Context) error {
		res := ds18b20.Resolution(c.Int("bits"))
		if !res.Valid() {
			return console.Exit(1, "invalid resolution: %s bits", console.Red(c.Int("bits")))
		}
		ctx := console.SetVerbose(context.Background(), c.Bool("verbose"))
		bus, err := openBus(c)
		if err != nil {
			return console.Exit(1, "bus initialization error: %s", console.Red(err))
		}
		defer func() { _ = bus.Close(ctx) }()

		var roms []onewire.ROM
		rom, found, err := bus.SearchFirst(ctx)
		for err == nil && found {
			if rom.Family() == ds18b20.FamilyCode {
				roms = append(roms, rom)
			} else {
				console.Debugf("skipping %s, family %#02x", rom, rom.Family())
			}
			rom, found, err = bus.SearchNext(ctx)
		}
		if err != nil {
			return console.Exit(1, "bus search error: %s", console.Red(err))
		}
		if len(roms) == 0 {
			console.Warn("no thermometers found")
			return nil
		}

		sensors := make([]*ds18b20.Sensor, 0, len(roms))
		for _, rom := range roms {
			var sensor *ds18b20.Sensor
			if len(roms) == 1 {
				sensor = ds18b20.NewSolo(bus)
			} else {
				sensor = ds18b20.New(bus, rom)
			}
			sensor.UseCRC(true)
			if err = sensor.SetResolution(ctx, res); err != nil {
				return console.Exit(1, "could not configure %s: %s", rom, console.Red(err))
			}
			console.Printf("%s %s configured at %s bits\n", console.PictoThermometer, console.White(rom), console.Green(res))
			sensors = append(sensors, sensor)
		}

		if !c.Bool("save") {
			return nil
		}
		answer, err := console.YesOrNo("write the configuration to device EEPROM?")
		if err != nil {
			return console.Exit(1, "prompt error: %s", console.Red(err))
		}
		if answer != console.Yes {
			console.Print("skipped, configuration is volatile")
			return nil
		}
		for i, sensor := range sensors {
			if err = sensor.SaveSettings(ctx); err != nil {
				return console.Exit(1, "could not save settings of %s: %s", roms[i], console.Red(err))
			}
			console.Printf("%s %s saved\n", console.PictoFinish, console.White(roms[i]))
		}
		return nil
	},
}
