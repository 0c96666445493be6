package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/sharedbus"
	"github.com/mklimuk/sharedbus/shared"
)

func newTestShell() (*shell, *bytes.Buffer) {
	out := &bytes.Buffer{}
	m := shared.NewManager(newSimBus())
	return &shell{bus: m.Acquire(shared.Named("shell")), out: out}, out
}

func TestParseTx(t *testing.T) {
	addr, ops, err := parseTx([]string{"70", "w:efc8", "r:3"})
	require.NoError(t, err)
	assert.Equal(t, byte(0x70), addr)
	require.Len(t, ops, 2)
	assert.Equal(t, []byte{0xEF, 0xC8}, ops[0].Write)
	assert.Len(t, ops[1].Read, 3)

	addr, ops, err = parseTx([]string{"0x68", "wr:75:1"})
	require.NoError(t, err)
	assert.Equal(t, byte(0x68), addr)
	assert.Equal(t, "w1/r1", ops[0].String())
}

func TestParseTx_Invalid(t *testing.T) {
	tests := map[string][]string{
		"no ops":      {"70"},
		"bad address": {"zz", "r:1"},
		"10-bit":      {"80", "r:1"},
		"bad hex":     {"70", "w:xyz"},
		"zero read":   {"70", "r:0"},
		"unknown":     {"70", "x:1"},
		"missing len": {"70", "wr:75"},
		"huge read":   {"70", "r:1000"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := parseTx(args)
			assert.Error(t, err)
		})
	}
}

func TestShell_Exec(t *testing.T) {
	sh, out := newTestShell()
	ctx := context.Background()

	require.NoError(t, sh.exec(ctx, "tx 70 w:efc8 r:3"))
	assert.Equal(t, "#1: 08 07 21\n", out.String())

	out.Reset()
	require.NoError(t, sh.exec(ctx, "tx 68 w:1f0c"))
	assert.Equal(t, "ok\n", out.String())

	out.Reset()
	require.NoError(t, sh.exec(ctx, "id"))
	assert.Equal(t, "Device ID SHTC3: 0x47\nDevice ID ICM42670P: 0x67\n", out.String())

	assert.ErrorIs(t, sh.exec(ctx, "tx 44 r:1"), sharedbus.ErrNoAcknowledge)
	assert.ErrorIs(t, sh.exec(ctx, "quit"), errQuit)
	assert.Error(t, sh.exec(ctx, "reboot"))
	assert.NoError(t, sh.exec(ctx, "   "))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0x07", formatID(7))
	assert.Equal(t, "23.46", formatFloat(23.456))
	assert.Equal(t, "ok", formatReads([]sharedbus.Op{sharedbus.Write(0x01)}))
}
