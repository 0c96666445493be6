package i2c

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	gobi2c "gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/sharedbus"
)

var _ sharedbus.Transactor = &GobotBus{}

// GobotBus is a transport over a gobot I2C connector. Connections are opened lazily,
// one per device address. Gobot has no combined transfer, so a write-read op is a
// write followed by a separate read with a stop condition in between; register-pointer
// devices do not mind.
type GobotBus struct {
	connector gobi2c.Connector
	busNr     int
	finalize  func() error

	mx    sync.Mutex
	conns map[byte]gobi2c.Connection
}

// NewGobotBus uses bus busNr of the connector; a negative number selects its default bus.
func NewGobotBus(connector gobi2c.Connector, busNr int) *GobotBus {
	if busNr < 0 {
		busNr = connector.DefaultI2cBus()
	}
	return &GobotBus{
		connector: connector,
		busNr:     busNr,
		conns:     map[byte]gobi2c.Connection{},
	}
}

// NewNanoPiBus connects the I2C side of a NanoPi NEO board.
func NewNanoPiBus(busNr int) (*GobotBus, error) {
	npi := nanopi.NewNeoAdaptor()
	if err := npi.I2cBusAdaptor.Connect(); err != nil {
		return nil, fmt.Errorf("adaptor connect error: %w", err)
	}
	b := NewGobotBus(npi, busNr)
	b.finalize = npi.I2cBusAdaptor.Finalize
	return b, nil
}

func (b *GobotBus) Transaction(ctx context.Context, address byte, ops ...sharedbus.Op) error {
	if err := sharedbus.ValidateOps(ops); err != nil {
		return err
	}
	conn, err := b.connection(address)
	if err != nil {
		return sharedbus.NewBusError(sharedbus.ErrTransportFault, address, 0, err)
	}
	for i, op := range ops {
		if op.IsWrite() {
			n, err := conn.Write(op.Write)
			if err != nil {
				return classify(address, i, err)
			}
			if n != len(op.Write) {
				return sharedbus.NewBusError(sharedbus.ErrTransportFault, address, i, fmt.Errorf("short write: %d of %d bytes", n, len(op.Write)))
			}
		}
		if op.IsRead() {
			n, err := conn.Read(op.Read)
			if err != nil && err != io.EOF {
				return classify(address, i, err)
			}
			if n != len(op.Read) {
				return sharedbus.NewBusError(sharedbus.ErrMalformedResponse, address, i, fmt.Errorf("short read: %d of %d bytes", n, len(op.Read)))
			}
		}
	}
	return nil
}

func (b *GobotBus) connection(address byte) (gobi2c.Connection, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	if conn, ok := b.conns[address]; ok {
		return conn, nil
	}
	conn, err := b.connector.GetI2cConnection(int(address), b.busNr)
	if err != nil {
		return nil, fmt.Errorf("could not open connection to 0x%02x on bus %d: %w", address, b.busNr, err)
	}
	slog.Debug("gobot i2c connection opened", "addr", fmt.Sprintf("0x%02x", address), "bus", b.busNr)
	b.conns[address] = conn
	return conn, nil
}

func (b *GobotBus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	var firstErr error
	for addr, conn := range b.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("could not close connection to 0x%02x: %w", addr, err)
		}
		delete(b.conns, addr)
	}
	if b.finalize != nil {
		if err := b.finalize(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("could not finalize adaptor: %w", err)
		}
	}
	return firstErr
}
