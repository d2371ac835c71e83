package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/onewire/periphbus"
)

var version string
var commit string
var date string

func main() {
	os.Exit(run())
}

func run() int {
	app := cli.NewApp()
	app.Name = "owtemp"
	app.EnableBashCompletion = true
	app.Version = fmt.Sprintf("%s-%s-%s", version, date, commit)
	app.Usage = "DS18B20 1-wire thermometer cli"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable verbose logging",
		},
		&cli.StringFlag{
			Name:  "bus",
			Usage: "1-wire bus name from the periph registry, empty selects the first one",
		},
		&cli.StringFlag{
			Name:  "pullup-pin",
			Usage: "GPIO driving an external strong pull-up transistor",
		},
	}
	app.Before = func(ctx *cli.Context) error {
		charm := chlog.NewWithOptions(os.Stdout, chlog.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
		charm.SetColorProfile(termenv.TrueColor)
		charm.SetLevel(chlog.InfoLevel)
		if ctx.Bool("verbose") {
			charm.SetLevel(chlog.DebugLevel)
		}
		chlog.SetDefault(charm)
		slog.SetDefault(slog.New(charm))
		return nil
	}
	app.Commands = cli.Commands{
		&scanCmd,
		&readCmd,
		&watchCmd,
		&resolutionCmd,
	}
	err := app.Run(os.Args)
	if err != nil {
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			log.Printf("unexpected error: %v", err)
			return exerr.ExitCode()
		}
		return 1
	}
	return 0
}

func openBus(c *cli.Context) (*periphbus.Bus, error) {
	return openNamedBus(c.String("bus"), c.String("pullup-pin"))
}

func openNamedBus(name, pullupPin string) (*periphbus.Bus, error) {
	var opts []periphbus.Option
	if pullupPin != "" {
		opts = append(opts, periphbus.WithStrongPullupPin(pullupPin))
	}
	return periphbus.New(name, opts...)
}
