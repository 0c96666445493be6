// Package shared lets several independently written drivers use one physical I2C bus.
//
// A Manager owns the transport and hands out Handles. Every Handle behaves like an
// exclusively owned bus, but each transaction it issues runs under the Manager's single
// lock, so sub-operations of two transactions are never interleaved on the wire. The
// lock covers one transaction only: a driver that waits between two transactions (for
// example while a sensor converts) leaves the bus free for everybody else.
//
//	m := shared.NewManager(transport)
//	sht := environment.NewSHTC3(m.Acquire(shared.Named("shtc3")))
//	imu := motion.NewICM42670(m.Acquire(shared.Named("icm42670")))
package shared

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mklimuk/sharedbus"
	"github.com/mklimuk/sharedbus/snsctx"
)

var ErrClosed = errors.New("shared bus closed")

type Option func(*Manager)

// WithMetrics records transaction outcomes and lock wait times.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.log = logger
	}
}

// Manager serializes transactions of all its Handles on one transport.
type Manager struct {
	transport sharedbus.Transactor
	// one-slot semaphore; holding the slot means owning the transport
	lock    chan struct{}
	closed  atomic.Bool
	handles atomic.Uint64
	metrics *Metrics
	log     *slog.Logger
}

func NewManager(transport sharedbus.Transactor, opts ...Option) *Manager {
	m := &Manager{
		transport: transport,
		lock:      make(chan struct{}, 1),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire returns a new Handle. There is no limit on the number of handles.
func (m *Manager) Acquire(opts ...HandleOption) *Handle {
	n := m.handles.Add(1)
	h := &Handle{manager: m, name: fmt.Sprintf("handle-%d", n)}
	for _, opt := range opts {
		opt(h)
	}
	m.log.Debug("bus handle acquired", "client", h.name)
	return h
}

// Close waits for the transaction in flight, if any, and closes the transport when it
// implements io.Closer. Transactions issued afterwards fail with ErrClosed.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.lock <- struct{}{}
	defer func() { <-m.lock }()
	if c, ok := m.transport.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("could not close bus transport: %w", err)
		}
	}
	return nil
}

func (m *Manager) transaction(ctx context.Context, client string, address byte, ops []sharedbus.Op) error {
	if err := sharedbus.ValidateOps(ops); err != nil {
		return err
	}
	if m.closed.Load() {
		return ErrClosed
	}
	start := time.Now()
	select {
	case m.lock <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("waiting for bus: %w", ctx.Err())
	}
	defer func() { <-m.lock }()
	// Close may have won the race for the slot
	if m.closed.Load() {
		return ErrClosed
	}
	m.metrics.observeWait(client, time.Since(start))

	err := m.transport.Transaction(snsctx.SetClient(ctx, client), address, ops...)
	m.metrics.observeResult(client, err)
	if err != nil {
		m.log.Debug("bus transaction failed", "client", client, "address", fmt.Sprintf("0x%02x", address), "ops", len(ops), "error", err)
	}
	return err
}
