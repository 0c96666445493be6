// Package i2c provides bus transports for Linux I2C controllers.
package i2c

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"syscall"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/mklimuk/sharedbus"
	"github.com/mklimuk/sharedbus/snsctx"
)

var (
	_ sharedbus.Transactor = &GenericBus{}
	_ sharedbus.Releaser   = &GenericBus{}
)

const DefaultTimeout = 100 * time.Millisecond

type Option func(*GenericBus)

// WithTimeout bounds a whole transaction, all of its operations together. Zero disables
// the bound.
func WithTimeout(d time.Duration) Option {
	return func(b *GenericBus) {
		b.timeout = d
	}
}

// WithSpeed sets the bus clock when the bus is opened.
func WithSpeed(f physic.Frequency) Option {
	return func(b *GenericBus) {
		b.speed = f
	}
}

// GenericBus is a transport over a periph.io I2C bus. Operations of a transaction are
// issued one by one; a combined write-read op goes out as one periph Tx (repeated start).
//
// A transaction that exceeds the timeout is reported as sharedbus.ErrTimeout, but the
// kernel call behind it cannot be aborted: the bus stays busy until it returns and the
// next transaction waits for it, at most one more timeout.
type GenericBus struct {
	bus     i2c.Bus
	timeout time.Duration
	speed   physic.Frequency
	// held by the operation currently inside the driver
	busy chan struct{}
}

// NewGenericBus initializes periph host drivers and opens dev. An empty dev picks the
// first available bus.
func NewGenericBus(dev string, opts ...Option) (*GenericBus, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("periph driver loaded", "driver", driver.String())
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus: %w", err)
	}
	b := NewBus(bus, opts...)
	if b.speed != 0 {
		if err := b.SetSpeed(b.speed); err != nil {
			_ = bus.Close()
			return nil, err
		}
	}
	return b, nil
}

// NewBus wraps an already opened bus.
func NewBus(bus i2c.Bus, opts ...Option) *GenericBus {
	b := &GenericBus{
		bus:     bus,
		timeout: DefaultTimeout,
		busy:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *GenericBus) String() string {
	return b.bus.String()
}

func (b *GenericBus) SetSpeed(f physic.Frequency) error {
	if err := b.bus.SetSpeed(f); err != nil {
		return fmt.Errorf("could not set bus speed to %s: %w", f, err)
	}
	b.speed = f
	return nil
}

func (b *GenericBus) Transaction(ctx context.Context, address byte, ops ...sharedbus.Op) error {
	if err := sharedbus.ValidateOps(ops); err != nil {
		return err
	}
	var expired <-chan time.Time
	if b.timeout > 0 {
		deadline := time.NewTimer(b.timeout)
		defer deadline.Stop()
		expired = deadline.C
	}
	verbose := snsctx.IsVerbose(ctx)
	for i, op := range ops {
		var r []byte
		if op.IsRead() {
			r = op.Read
		}
		if verbose && op.IsWrite() {
			slog.Debug("i2c write", "client", snsctx.Client(ctx), "addr", fmt.Sprintf("0x%02x", address), "data", hex.Dump(op.Write))
		}
		if err := b.tx(expired, address, i, op.Write, r); err != nil {
			return err
		}
		if verbose && r != nil {
			slog.Debug("i2c read", "client", snsctx.Client(ctx), "addr", fmt.Sprintf("0x%02x", address), "data", hex.Dump(r))
		}
	}
	return nil
}

// tx runs one op. A nil expired channel means no deadline. The driver call works on
// private copies of w and r: after a timeout it may still be running, and r is filled
// only when it completes in time.
func (b *GenericBus) tx(expired <-chan time.Time, address byte, op int, w, r []byte) error {
	if expired == nil {
		b.busy <- struct{}{}
		defer func() { <-b.busy }()
		return classify(address, op, b.bus.Tx(uint16(address), w, r))
	}
	select {
	case b.busy <- struct{}{}:
	case <-expired:
		return sharedbus.NewBusError(sharedbus.ErrTimeout, address, op, sharedbus.ErrBusBusy)
	}
	wbuf := bytes.Clone(w)
	var rbuf []byte
	if len(r) > 0 {
		rbuf = make([]byte, len(r))
	}
	done := make(chan error, 1)
	go func() {
		defer func() { <-b.busy }()
		done <- b.bus.Tx(uint16(address), wbuf, rbuf)
	}()
	select {
	case err := <-done:
		if err == nil {
			copy(r, rbuf)
		}
		return classify(address, op, err)
	case <-expired:
		return sharedbus.NewBusError(sharedbus.ErrTimeout, address, op, fmt.Errorf("transaction not completed within %s", b.timeout))
	}
}

// classify maps driver errors to fault kinds. Linux reports a missing acknowledge as
// ENXIO or EREMOTEIO depending on the controller.
func classify(address byte, op int, err error) error {
	if err == nil {
		return nil
	}
	if kind := sharedbus.KindOf(err); kind != nil {
		return sharedbus.NewBusError(kind, address, op, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, syscall.ENXIO),
		strings.Contains(msg, "remote i/o error"),
		strings.Contains(msg, "no such device or address"),
		strings.Contains(msg, "nack"):
		return sharedbus.NewBusError(sharedbus.ErrNoAcknowledge, address, op, err)
	case errors.Is(err, syscall.ETIMEDOUT),
		strings.Contains(msg, "timed out"):
		return sharedbus.NewBusError(sharedbus.ErrTimeout, address, op, err)
	}
	return sharedbus.NewBusError(sharedbus.ErrTransportFault, address, op, err)
}

func (b *GenericBus) Release(ctx context.Context) error {
	return nil
}

func (b *GenericBus) Close() error {
	if c, ok := b.bus.(i2c.BusCloser); ok {
		return c.Close()
	}
	return nil
}
