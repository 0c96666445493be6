// Package adapter implements an I2C transport over the Microchip MCP2221 USB-HID bridge.
package adapter

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mklimuk/sharedbus"
	"github.com/mklimuk/sharedbus/snsctx"
)

var (
	_ sharedbus.Transactor = &MCP2221{}
	_ sharedbus.Releaser   = &MCP2221{}
)

var ErrCommandFailed = errors.New("command failed")

// Device is an open HID device.
type Device interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// Opener opens the HID device on first use.
type Opener func() (Device, error)

type Option func(*MCP2221)

// WithResponseWait sets the pause between a request and reading its answer.
func WithResponseWait(d time.Duration) Option {
	return func(m *MCP2221) {
		m.responseWait = d
	}
}

// WithStatusPolls bounds how many times the engine state is polled after a write before
// the write is reported as timed out.
func WithStatusPolls(n int) Option {
	return func(m *MCP2221) {
		m.statusPolls = n
	}
}

// MCP2221 is a transport over an MCP2221 bridge. One HID report carries at most 60 bytes
// of I2C data; longer operations are rejected as invalid.
type MCP2221 struct {
	mx           sync.Mutex
	open         Opener
	dev          Device
	request      []byte
	response     []byte
	responseWait time.Duration
	statusPolls  int
}

func NewMCP2221(open Opener, opts ...Option) *MCP2221 {
	m := &MCP2221{
		open:         open,
		request:      make([]byte, reportSize),
		response:     make([]byte, reportSize),
		responseWait: time.Millisecond,
		statusPolls:  20,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (d *MCP2221) Transaction(ctx context.Context, address byte, ops ...sharedbus.Op) error {
	if err := sharedbus.ValidateOps(ops); err != nil {
		return err
	}
	for i, op := range ops {
		if len(op.Write) > maxChunk || len(op.Read) > maxChunk {
			return sharedbus.NewBusError(sharedbus.ErrInvalidTransaction, address, i, fmt.Errorf("operation %s exceeds %d bytes", op, maxChunk))
		}
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	for i, op := range ops {
		var err error
		switch {
		case op.IsWrite() && op.IsRead():
			err = d.write(ctx, cmdWriteNoStop, address, op.Write)
			if err == nil {
				err = d.read(ctx, cmdReadRepeatStart, address, op.Read)
			}
		case op.IsWrite():
			err = d.write(ctx, cmdWrite, address, op.Write)
		default:
			err = d.read(ctx, cmdRead, address, op.Read)
		}
		if err != nil {
			var busErr *sharedbus.BusError
			if errors.As(err, &busErr) {
				busErr.Address, busErr.Op = address, i
				return busErr
			}
			return sharedbus.NewBusError(sharedbus.ErrTransportFault, address, i, err)
		}
	}
	return nil
}

func (d *MCP2221) write(ctx context.Context, cmd byte, address byte, data []byte) error {
	encodeTransfer(d.request, cmd, address, len(data), data)
	if err := d.send(ctx); err != nil {
		return err
	}
	if d.response[1] == respBusy {
		slog.Debug("adapter busy", "addr", fmt.Sprintf("0x%02x", address))
		return sharedbus.NewBusError(sharedbus.ErrTransportFault, address, 0, sharedbus.ErrBusBusy)
	}
	for range d.statusPolls {
		status, err := d.status(ctx)
		if err != nil {
			return err
		}
		if status.NACK {
			return sharedbus.NewBusError(sharedbus.ErrNoAcknowledge, address, 0, nil)
		}
		if status.Idle() || (cmd == cmdWriteNoStop && status.I2CState == stateNoStop) {
			return nil
		}
		time.Sleep(d.responseWait)
	}
	return sharedbus.NewBusError(sharedbus.ErrTimeout, address, 0, errors.New("write not completed"))
}

func (d *MCP2221) read(ctx context.Context, cmd byte, address byte, buffer []byte) error {
	encodeTransfer(d.request, cmd, address, len(buffer), nil)
	if err := d.send(ctx); err != nil {
		return err
	}
	if d.response[1] == respBusy {
		return sharedbus.NewBusError(sharedbus.ErrTransportFault, address, 0, sharedbus.ErrBusBusy)
	}
	clear(d.request)
	d.request[0] = cmdGetData
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("error getting read data from adapter: %w", err)
	}
	if d.response[1] == respReadError || d.response[3] == sizeReadError {
		status, err := d.status(ctx)
		if err == nil && status.NACK {
			return sharedbus.NewBusError(sharedbus.ErrNoAcknowledge, address, 0, nil)
		}
		return sharedbus.NewBusError(sharedbus.ErrTransportFault, address, 0, errors.New("error reading the I2C slave data from the I2C engine"))
	}
	if int(d.response[3]) != len(buffer) {
		return sharedbus.NewBusError(sharedbus.ErrMalformedResponse, address, 0,
			fmt.Errorf("invalid data size byte; expected %d, got %d", len(buffer), d.response[3]))
	}
	copy(buffer, d.response[4:])
	return nil
}

// Status returns the bridge state without changing it.
func (d *MCP2221) Status(ctx context.Context) (*Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.status(ctx)
}

func (d *MCP2221) status(ctx context.Context) (*Status, error) {
	clear(d.request)
	d.request[0] = cmdStatus
	if err := d.send(ctx); err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	if d.response[1] != respOK {
		return nil, ErrCommandFailed
	}
	return decodeStatus(d.response), nil
}

// SetSpeed changes the I2C clock. The bridge refuses while a transfer is in progress.
func (d *MCP2221) SetSpeed(ctx context.Context, hz int) error {
	if hz <= 0 {
		return fmt.Errorf("invalid bus speed %d Hz", hz)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	clear(d.request)
	d.request[0] = cmdStatus
	d.request[3] = speedAccepted
	d.request[4] = speedDivider(hz)
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("set speed request failed: %w", err)
	}
	if d.response[3] != speedAccepted {
		return fmt.Errorf("speed %d Hz: %w", hz, ErrCommandFailed)
	}
	return nil
}

// Release cancels the current transfer, freeing a bus left hanging by an interrupted
// transaction.
func (d *MCP2221) Release(ctx context.Context) error {
	_, err := d.ReleaseBus(ctx)
	return err
}

func (d *MCP2221) ReleaseBus(ctx context.Context) (*Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	clear(d.request)
	d.request[0] = cmdStatus
	d.request[2] = cancelAccepted
	if err := d.send(ctx); err != nil {
		return nil, fmt.Errorf("cancel request failed: %w", err)
	}
	return decodeStatus(d.response), nil
}

func (d *MCP2221) Close() error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.dev == nil {
		return nil
	}
	err := d.dev.Close()
	d.dev = nil
	return err
}

func (d *MCP2221) send(ctx context.Context) error {
	if d.dev == nil {
		dev, err := d.open()
		if err != nil {
			return fmt.Errorf("error opening device: %w", err)
		}
		d.dev = dev
	}
	verbose := snsctx.IsVerbose(ctx)
	if verbose {
		slog.Debug("sending message to adapter", "client", snsctx.Client(ctx), "data", hex.Dump(d.request))
	}
	n, err := d.dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	if d.responseWait > 0 {
		time.Sleep(d.responseWait)
	}
	clear(d.response)
	n, err = d.dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	if verbose {
		slog.Debug("read message from adapter", "client", snsctx.Client(ctx), "data", hex.Dump(d.response))
	}
	return nil
}
