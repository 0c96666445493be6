package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/sharedbus/environment"
	"github.com/mklimuk/sharedbus/motion"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, AdapterGeneric, cfg.Bus.Adapter)
	assert.Equal(t, 400, cfg.Bus.SpeedKHz)

	loop, err := cfg.Poll.Monitor()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, loop.Interval)
	assert.Equal(t, 1, loop.MaxConsecutiveFailures)
	assert.Equal(t, environment.NormalMode, loop.ClimateMode)
	assert.Equal(t, motion.GyroLowNoise, loop.IMUMode)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sharedbus.yaml")
	err := os.WriteFile(path, []byte(`
bus:
  adapter: mcp2221
  device: "0001234567"
  timeout: 250ms
poll:
  interval: 2s
  iterations: 10
  climate_mode: low_power
  imu_mode: six_axis_low_noise
metrics:
  listen: ":9100"
`), 0o600)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, AdapterMCP2221, cfg.Bus.Adapter)
	assert.Equal(t, "0001234567", cfg.Bus.Device)
	assert.Equal(t, 250*time.Millisecond, cfg.Bus.Timeout)
	assert.Equal(t, 400, cfg.Bus.SpeedKHz, "unset keys keep defaults")
	assert.Equal(t, ":9100", cfg.Metrics.Listen)

	loop, err := cfg.Poll.Monitor()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, loop.Interval)
	assert.Equal(t, 10, loop.Iterations)
	assert.Equal(t, environment.LowPowerMode, loop.ClimateMode)
	assert.Equal(t, motion.SixAxisLowNoise, loop.IMUMode)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestDecode_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown adapter": "bus:\n  adapter: spi\n",
		"zero speed":      "bus:\n  speed_khz: 0\n",
		"no failures":     "poll:\n  max_failures: 0\n",
		"bad imu mode":    "poll:\n  imu_mode: turbo\n",
		"bad climate":     "poll:\n  climate_mode: fast\n",
		"negative":        "poll:\n  iterations: -1\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(doc))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestDecode_UnknownKey(t *testing.T) {
	_, err := Decode(strings.NewReader("bus:\n  baud: 9600\n"))
	assert.Error(t, err)
}

func TestEncode(t *testing.T) {
	cfg := Default()
	cfg.Bus.Adapter = AdapterSim
	var buf bytes.Buffer
	require.NoError(t, cfg.Encode(&buf))
	assert.Contains(t, buf.String(), "adapter: sim")
	assert.Contains(t, buf.String(), "interval: 500ms")

	decoded, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, cfg, decoded)
}
