package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/sharedbus"
	"github.com/mklimuk/sharedbus/adapter"
	"github.com/mklimuk/sharedbus/cmd/sharedbus/console"
	"github.com/mklimuk/sharedbus/config"
	"github.com/mklimuk/sharedbus/i2c"
	"github.com/mklimuk/sharedbus/shared"
	"github.com/mklimuk/sharedbus/sim"
)

var busFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "adapter",
		Aliases: []string{"a"},
		Usage:   "bus adapter: generic, nanopi, mcp2221 or sim",
		EnvVars: []string{"SHAREDBUS_ADAPTER"},
	},
	&cli.StringFlag{
		Name:    "device",
		Aliases: []string{"d"},
		Usage:   "periph bus name or MCP2221 serial number",
		EnvVars: []string{"SHAREDBUS_DEVICE"},
	},
	&cli.IntFlag{
		Name:    "gobot-bus",
		Usage:   "bus number for the nanopi adapter",
		EnvVars: []string{"SHAREDBUS_GOBOT_BUS"},
	},
	&cli.IntFlag{
		Name:    "speed",
		Usage:   "bus clock in kHz",
		EnvVars: []string{"SHAREDBUS_SPEED"},
	},
	&cli.DurationFlag{
		Name:    "timeout",
		Usage:   "per operation bus timeout",
		EnvVars: []string{"SHAREDBUS_TIMEOUT"},
	},
}

// loadConfig reads the config file and applies the flags that were set.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return config.Config{}, console.Exit(console.ExitConfig, "configuration error: %s", console.Red(err))
	}
	if c.IsSet("adapter") {
		cfg.Bus.Adapter = c.String("adapter")
	}
	if c.IsSet("device") {
		cfg.Bus.Device = c.String("device")
	}
	if c.IsSet("gobot-bus") {
		cfg.Bus.GobotBus = c.Int("gobot-bus")
	}
	if c.IsSet("speed") {
		cfg.Bus.SpeedKHz = c.Int("speed")
	}
	if c.IsSet("timeout") {
		cfg.Bus.Timeout = c.Duration("timeout")
	}
	applyPollFlags(c, &cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, console.Exit(console.ExitConfig, "configuration error: %s", console.Red(err))
	}
	return cfg, nil
}

// openTransport opens the adapter selected in cfg.
func openTransport(c *cli.Context, cfg config.Bus) (sharedbus.Transactor, error) {
	slog.Debug("opening bus", "adapter", cfg.Adapter, "device", cfg.Device, "speed_khz", cfg.SpeedKHz)
	switch cfg.Adapter {
	case config.AdapterGeneric:
		bus, err := i2c.NewGenericBus(cfg.Device,
			i2c.WithTimeout(cfg.Timeout),
			i2c.WithSpeed(physic.Frequency(cfg.SpeedKHz)*physic.KiloHertz))
		if err != nil {
			return nil, console.Exit(console.ExitBus, "could not open i2c bus: %s", console.Red(err))
		}
		return bus, nil
	case config.AdapterNanoPi:
		bus, err := i2c.NewNanoPiBus(cfg.GobotBus)
		if err != nil {
			return nil, console.Exit(console.ExitBus, "could not open nanopi bus: %s", console.Red(err))
		}
		return bus, nil
	case config.AdapterMCP2221:
		mcp := adapter.NewMCP2221(adapter.OpenHID(cfg.Device))
		if err := mcp.SetSpeed(c.Context, cfg.SpeedKHz*1000); err != nil {
			_ = mcp.Close()
			return nil, console.Exit(console.ExitBus, "could not configure MCP2221: %s", console.Red(err))
		}
		return mcp, nil
	case config.AdapterSim:
		return newSimBus(), nil
	}
	return nil, console.Exit(console.ExitConfig, "unknown adapter %q", cfg.Adapter)
}

// newSimBus returns a simulated bus with both sensors attached, for trying the tool
// without hardware.
func newSimBus() *sim.Bus {
	bus := sim.NewBus()
	sht := sim.NewSHTC3()
	sht.SetConditions(22.5, 45)
	icm := sim.NewICM42670()
	icm.SetMotion([3]float64{0.5, -0.25, 0.125}, [3]float64{0, 0, 1})
	bus.Attach(sim.SHTC3Address, sht)
	bus.Attach(sim.ICM42670Address, icm)
	return bus
}

// openManager opens the transport and wraps it in the arbiter. Arbiter metrics go to
// reg when it is not nil.
func openManager(c *cli.Context, cfg config.Config, reg prometheus.Registerer) (*shared.Manager, error) {
	transport, err := openTransport(c, cfg.Bus)
	if err != nil {
		return nil, err
	}
	opts := []shared.Option{shared.WithLogger(slog.Default())}
	if reg != nil {
		opts = append(opts, shared.WithMetrics(shared.NewMetrics(reg)))
	}
	return shared.NewManager(transport, opts...), nil
}

func closeManager(m *shared.Manager) {
	if err := m.Close(); err != nil {
		slog.Warn("could not close bus", "err", err)
	}
}

func describe(cfg config.Bus) string {
	if cfg.Device == "" {
		return cfg.Adapter
	}
	return fmt.Sprintf("%s:%s", cfg.Adapter, cfg.Device)
}
