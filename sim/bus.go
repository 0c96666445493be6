// Package sim provides a simulated I2C transport with simple device models.
//
// The bus does not serialize callers on its own: two unsynchronized transactions may
// interleave their operations, and the event log shows it. This makes it suitable for
// checking the arbitration layer as well as for running the CLI without hardware.
package sim

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mklimuk/sharedbus"
	"github.com/mklimuk/sharedbus/snsctx"
)

var _ sharedbus.Transactor = &Bus{}

// Device is the bus-facing side of a simulated peripheral.
type Device interface {
	Write(data []byte) error
	Read(buf []byte) error
}

// Event is one executed (or failed) operation.
type Event struct {
	Txn     uint64
	Client  string
	Address byte
	Op      int
	Write   []byte
	Read    []byte
	Err     error
	At      time.Time
}

type Option func(*Bus)

// WithOpDelay stretches every operation, widening the window in which unsynchronized
// transactions would interleave.
func WithOpDelay(d time.Duration) Option {
	return func(b *Bus) {
		b.opDelay = d
	}
}

// WithObserver calls fn after every operation, outside of the bus' internal lock.
func WithObserver(fn func(Event)) Option {
	return func(b *Bus) {
		b.observer = fn
	}
}

type Bus struct {
	mx       sync.Mutex
	devices  map[byte]Device
	faults   map[byte]error
	events   []Event
	opDelay  time.Duration
	observer func(Event)

	txn       atomic.Uint64
	active    atomic.Int64
	maxActive atomic.Int64
}

func NewBus(opts ...Option) *Bus {
	b := &Bus{
		devices: map[byte]Device{},
		faults:  map[byte]error{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Attach places dev at address, replacing whatever was there.
func (b *Bus) Attach(address byte, dev Device) {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.devices[address] = dev
}

// Fail makes every following transaction to address fail with a fault of the given kind.
func (b *Bus) Fail(address byte, kind error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.faults[address] = kind
}

// Heal removes a fault installed with Fail.
func (b *Bus) Heal(address byte) {
	b.mx.Lock()
	defer b.mx.Unlock()
	delete(b.faults, address)
}

// Events returns a copy of the operation log.
func (b *Bus) Events() []Event {
	b.mx.Lock()
	defer b.mx.Unlock()
	return append([]Event(nil), b.events...)
}

func (b *Bus) Reset() {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.events = nil
	b.maxActive.Store(0)
}

// MaxConcurrent reports the highest number of transactions observed executing at once.
func (b *Bus) MaxConcurrent() int {
	return int(b.maxActive.Load())
}

func (b *Bus) Transaction(ctx context.Context, address byte, ops ...sharedbus.Op) error {
	if err := sharedbus.ValidateOps(ops); err != nil {
		return err
	}
	active := b.active.Add(1)
	defer b.active.Add(-1)
	for {
		peak := b.maxActive.Load()
		if active <= peak || b.maxActive.CompareAndSwap(peak, active) {
			break
		}
	}
	txn := b.txn.Add(1)
	client := snsctx.Client(ctx)
	for i, op := range ops {
		if b.opDelay > 0 {
			time.Sleep(b.opDelay)
		}
		ev, err := b.execute(txn, client, address, i, op)
		if b.observer != nil {
			b.observer(ev)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) execute(txn uint64, client string, address byte, i int, op sharedbus.Op) (Event, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	ev := Event{Txn: txn, Client: client, Address: address, Op: i, At: time.Now()}
	err := b.apply(address, i, op)
	if op.IsWrite() {
		ev.Write = append([]byte{}, op.Write...)
	}
	if op.IsRead() {
		ev.Read = append([]byte(nil), op.Read...)
	}
	ev.Err = err
	b.events = append(b.events, ev)
	return ev, err
}

func (b *Bus) apply(address byte, i int, op sharedbus.Op) error {
	if kind, ok := b.faults[address]; ok {
		return sharedbus.NewBusError(kind, address, i, errors.New("injected fault"))
	}
	dev, ok := b.devices[address]
	if !ok {
		return sharedbus.NewBusError(sharedbus.ErrNoAcknowledge, address, i, errors.New("no device"))
	}
	if op.IsWrite() {
		if err := dev.Write(op.Write); err != nil {
			return sharedbus.NewBusError(sharedbus.KindOf(err), address, i, err)
		}
	}
	if op.IsRead() {
		if err := dev.Read(op.Read); err != nil {
			return sharedbus.NewBusError(sharedbus.KindOf(err), address, i, err)
		}
	}
	return nil
}
