package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/sharedbus/cmd/sharedbus/console"
)

func captureOutput(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	console.SetOutput(out, errOut)
	t.Cleanup(func() { console.SetOutput(os.Stdout, os.Stderr) })
	return out, errOut
}

func TestRun_SimulatedBus(t *testing.T) {
	out, _ := captureOutput(t)
	code := run([]string{"sharedbus", "run", "--adapter", "sim", "--iterations", "2", "--interval", "1ms"})
	require.Equal(t, 0, code)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Device ID SHTC3: 0x47", lines[0])
	assert.Equal(t, "Device ID ICM42670P: 0x67", lines[1])
	assert.Equal(t, "TEMP: 22.50 °C | HUM: 45.00 % | GYRO: X= 0.49  Y= -0.24  Z= 0.12", lines[2])
}

func TestRun_ConfigFile(t *testing.T) {
	out, _ := captureOutput(t)
	path := filepath.Join(t.TempDir(), "sharedbus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bus:\n  adapter: sim\npoll:\n  iterations: 1\n  interval: 1ms\n  climate_mode: low_power\n"), 0o600))
	code := run([]string{"sharedbus", "--config", path, "run"})
	require.Equal(t, 0, code)
	assert.Equal(t, 3, strings.Count(out.String(), "\n"))
}

func TestRun_InvalidConfig(t *testing.T) {
	_, errOut := captureOutput(t)
	code := run([]string{"sharedbus", "run", "--adapter", "spi"})
	assert.Equal(t, console.ExitConfig, code)
	assert.Contains(t, errOut.String(), "unknown bus adapter")
}

func TestID_SimulatedBus(t *testing.T) {
	out, _ := captureOutput(t)
	code := run([]string{"sharedbus", "id", "--adapter", "sim"})
	require.Equal(t, 0, code)
	assert.Contains(t, out.String(), "0x47")
	assert.Contains(t, out.String(), "0x67")
	assert.Contains(t, out.String(), "raw 0x0807")
}

func TestMeasure_SimulatedBus(t *testing.T) {
	out, _ := captureOutput(t)
	code := run([]string{"sharedbus", "measure", "--adapter", "sim"})
	require.Equal(t, 0, code)
	assert.Contains(t, out.String(), "22.50")
	assert.Contains(t, out.String(), "45.00")
}
