package main

import (
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/sharedbus/adapter"
	"github.com/mklimuk/sharedbus/cmd/sharedbus/console"
	"github.com/mklimuk/sharedbus/snsctx"
)

var serialFlag = &cli.StringFlag{
	Name:    "device",
	Aliases: []string{"d"},
	Usage:   "serial number of the bridge when several are attached",
	EnvVars: []string{"SHAREDBUS_DEVICE"},
}

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "MCP2221 bridge maintenance",
	Subcommands: cli.Commands{
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
	},
}

var mcp2221StatusCmd = cli.Command{
	Name:  "status",
	Usage: "print the bridge I2C engine state",
	Flags: []cli.Flag{serialFlag},
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221(adapter.OpenHID(c.String("device")))
		defer func() { _ = a.Close() }()
		ctx := snsctx.SetVerbose(c.Context, c.Bool("verbose"))
		status, err := a.Status(ctx)
		if err != nil {
			return console.Exit(console.ExitBus, "adapter communication error: %s", console.Red(err))
		}
		return encodeStatus(status)
	},
}

var mcp2221ReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel the current transfer and free the bus",
	Flags: []cli.Flag{
		serialFlag,
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	},
	Action: func(c *cli.Context) error {
		if !c.Bool("yes") {
			ok, err := console.Confirm("cancel the transfer in progress?", console.Yes)
			if err != nil {
				return console.Exit(console.ExitError, "prompt error: %s", console.Red(err))
			}
			if !ok {
				return nil
			}
		}
		a := adapter.NewMCP2221(adapter.OpenHID(c.String("device")))
		defer func() { _ = a.Close() }()
		ctx := snsctx.SetVerbose(c.Context, c.Bool("verbose"))
		status, err := a.ReleaseBus(ctx)
		if err != nil {
			return console.Exit(console.ExitBus, "adapter communication error: %s", console.Red(err))
		}
		return encodeStatus(status)
	},
}

func encodeStatus(status *adapter.Status) error {
	enc := yaml.NewEncoder(console.Output())
	if err := enc.Encode(status); err != nil {
		return console.Exit(console.ExitError, "encoding error: %s", console.Red(err))
	}
	return enc.Close()
}
