package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/sharedbus/cmd/sharedbus/console"
	"github.com/mklimuk/sharedbus/config"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	app := newApp()
	err := app.Run(args)
	if err != nil {
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			return exerr.ExitCode()
		}
		return console.ExitError
	}
	return 0
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "sharedbus"
	app.EnableBashCompletion = true
	app.Version = fmt.Sprintf("%s-%s-%s", config.Version, config.Date, config.Commit)
	app.Usage = "poll an SHTC3 and an ICM-42670-P sharing one I2C bus"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Usage:   "enable verbose logging and bus dumps",
			EnvVars: []string{"SHAREDBUS_VERBOSE"},
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to a YAML configuration file",
			EnvVars: []string{"SHAREDBUS_CONFIG"},
		},
	}
	app.Before = func(ctx *cli.Context) error {
		charm := chlog.NewWithOptions(os.Stderr, chlog.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
		charm.SetColorProfile(termenv.NewOutput(os.Stderr).ColorProfile())
		charm.SetLevel(chlog.InfoLevel)
		if ctx.Bool("verbose") {
			charm.SetLevel(chlog.DebugLevel)
		}
		slog.SetDefault(slog.New(charm))
		return nil
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		if err != nil {
			console.Errorf("%s", err)
		}
	}
	app.Commands = cli.Commands{
		&runCmd,
		&idCmd,
		&measureCmd,
		&shellCmd,
		&usbCmd,
		&mcp2221Cmd,
	}
	return app
}
