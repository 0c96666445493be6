// Package config holds the runtime configuration of the sharedbus tool and its build
// metadata.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mklimuk/sharedbus/environment"
	"github.com/mklimuk/sharedbus/monitor"
	"github.com/mklimuk/sharedbus/motion"
)

// Set at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const (
	AdapterGeneric = "generic"
	AdapterNanoPi  = "nanopi"
	AdapterMCP2221 = "mcp2221"
	AdapterSim     = "sim"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Bus     Bus     `yaml:"bus"`
	Poll    Poll    `yaml:"poll"`
	Metrics Metrics `yaml:"metrics"`
}

type Bus struct {
	Adapter string `yaml:"adapter"`
	// Device is the periph bus name ("" picks the first one) or the MCP2221 serial number.
	Device string `yaml:"device"`
	// GobotBus is the bus number for the nanopi adapter.
	GobotBus int           `yaml:"gobot_bus"`
	SpeedKHz int           `yaml:"speed_khz"`
	Timeout  time.Duration `yaml:"timeout"`
}

type Poll struct {
	Interval    time.Duration `yaml:"interval"`
	Iterations  int           `yaml:"iterations"`
	MaxFailures int           `yaml:"max_failures"`
	ClimateMode string        `yaml:"climate_mode"`
	IMUMode     string        `yaml:"imu_mode"`
}

type Metrics struct {
	// Listen enables the prometheus endpoint when set, e.g. ":9100".
	Listen string `yaml:"listen"`
}

func Default() Config {
	return Config{
		Bus: Bus{
			Adapter:  AdapterGeneric,
			GobotBus: 0,
			SpeedKHz: 400,
			Timeout:  100 * time.Millisecond,
		},
		Poll: Poll{
			Interval:    500 * time.Millisecond,
			MaxFailures: 1,
			ClimateMode: environment.NormalMode.String(),
			IMUMode:     motion.GyroLowNoise.String(),
		},
	}
}

// Load reads the file at path on top of the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("could not open config file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("could not read config: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("could not decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Bus.Adapter {
	case AdapterGeneric, AdapterNanoPi, AdapterMCP2221, AdapterSim:
	default:
		return fmt.Errorf("%w: unknown bus adapter %q", ErrInvalid, c.Bus.Adapter)
	}
	if c.Bus.SpeedKHz <= 0 {
		return fmt.Errorf("%w: bus speed must be positive", ErrInvalid)
	}
	if c.Bus.Timeout <= 0 {
		return fmt.Errorf("%w: bus timeout must be positive", ErrInvalid)
	}
	if c.Poll.Interval < 0 {
		return fmt.Errorf("%w: negative poll interval", ErrInvalid)
	}
	if c.Poll.Iterations < 0 {
		return fmt.Errorf("%w: negative iteration count", ErrInvalid)
	}
	if c.Poll.MaxFailures < 1 {
		return fmt.Errorf("%w: max_failures must be at least 1", ErrInvalid)
	}
	if _, err := c.Poll.Monitor(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Monitor converts the poll section to the loop configuration.
func (p Poll) Monitor() (monitor.Config, error) {
	climate, err := environment.ParsePowerMode(p.ClimateMode)
	if err != nil {
		return monitor.Config{}, err
	}
	imu, err := motion.ParsePowerMode(p.IMUMode)
	if err != nil {
		return monitor.Config{}, err
	}
	return monitor.Config{
		Interval:               p.Interval,
		Iterations:             p.Iterations,
		MaxConsecutiveFailures: p.MaxFailures,
		ClimateMode:            climate,
		IMUMode:                imu,
	}, nil
}

// Encode writes the configuration as YAML.
func (c Config) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("could not encode config: %w", err)
	}
	return enc.Close()
}
