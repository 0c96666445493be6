package main

import (
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/sharedbus/cmd/sharedbus/console"
	"github.com/mklimuk/sharedbus/environment"
	"github.com/mklimuk/sharedbus/motion"
	"github.com/mklimuk/sharedbus/shared"
	"github.com/mklimuk/sharedbus/snsctx"
)

var idCmd = cli.Command{
	Name:  "id",
	Usage: "read the identifiers of both sensors",
	Flags: busFlags,
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		m, err := openManager(c, cfg, nil)
		if err != nil {
			return err
		}
		defer closeManager(m)
		ctx := snsctx.SetVerbose(c.Context, c.Bool("verbose"))

		sht := environment.NewSHTC3(m.Acquire(shared.Named("shtc3")))
		raw, err := sht.RawID(ctx)
		if err != nil {
			return console.Exit(console.ExitBus, "SHTC3 identification failed: %s", console.Failure(err))
		}
		imu := motion.NewICM42670(m.Acquire(shared.Named("icm42670")))
		who, err := imu.DeviceID(ctx)
		if err != nil {
			return console.Exit(console.ExitBus, "ICM42670P identification failed: %s", console.Failure(err))
		}
		console.PInfof(console.PictoChip, "SHTC3     at 0x%02x: id %s (raw 0x%04x)", environment.SHTC3Address,
			console.White(formatID(environment.Identifier(raw))), raw)
		status := console.Green("ok")
		if who != motion.ICM42670ID {
			status = console.Yellow("unexpected")
		}
		console.PInfof(console.PictoChip, "ICM42670P at 0x%02x: id %s (%s)", imu.Address(), console.White(formatID(who)), status)
		return nil
	},
}

var measureCmd = cli.Command{
	Name:    "measure",
	Aliases: []string{"temp"},
	Usage:   "wake the SHTC3, take one measurement and put it back to sleep",
	Flags:   busFlags,
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		m, err := openManager(c, cfg, nil)
		if err != nil {
			return err
		}
		defer closeManager(m)
		ctx := snsctx.SetVerbose(c.Context, c.Bool("verbose"))

		temp, hum, err := environment.NewSHTC3(m.Acquire(shared.Named("shtc3"))).GetTempAndHum(ctx)
		if err != nil {
			return console.Exit(console.ExitBus, "error getting temperature read: %s", console.Failure(err))
		}
		console.PInfof(console.PictoThermometer, "%s °C", console.White(formatFloat(temp)))
		console.PInfof(console.PictoHumidity, "%s %%", console.White(formatFloat(hum)))
		return nil
	},
}
