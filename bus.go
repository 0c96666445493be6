package sharedbus

import (
	"context"
	"fmt"
)

// Op is a single sub-operation of a bus transaction. A write carries a (possibly empty)
// payload, a read carries the buffer to fill. When both are set the transport performs
// a register read: write followed by a repeated start and read where it supports it.
type Op struct {
	Write []byte
	Read  []byte
}

// Write returns a write-only op.
func Write(data ...byte) Op {
	if data == nil {
		data = []byte{}
	}
	return Op{Write: data}
}

// Read returns a read-only op filling buf.
func Read(buf []byte) Op {
	return Op{Read: buf}
}

// WriteRead returns a combined op, typically a register pointer followed by a read.
func WriteRead(w, r []byte) Op {
	return Op{Write: w, Read: r}
}

func (o Op) IsWrite() bool { return o.Write != nil }

func (o Op) IsRead() bool { return len(o.Read) > 0 }

func (o Op) String() string {
	switch {
	case o.IsWrite() && o.IsRead():
		return fmt.Sprintf("w%d/r%d", len(o.Write), len(o.Read))
	case o.IsRead():
		return fmt.Sprintf("r%d", len(o.Read))
	default:
		return fmt.Sprintf("w%d", len(o.Write))
	}
}

// ValidateOps checks the transaction precondition: at least one op and every op either
// writes or reads something.
func ValidateOps(ops []Op) error {
	if len(ops) == 0 {
		return fmt.Errorf("%w: no operations", ErrInvalidTransaction)
	}
	for i, op := range ops {
		if !op.IsWrite() && !op.IsRead() {
			return fmt.Errorf("%w: operation %d neither writes nor reads", ErrInvalidTransaction, i)
		}
	}
	return nil
}

// Transactor executes a sequence of operations against one device address. All ops of
// a call complete before the call returns.
type Transactor interface {
	Transaction(ctx context.Context, address byte, ops ...Op) error
}

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
}

// Releaser is implemented by transports that can be told to release a stuck bus.
type Releaser interface {
	Release(ctx context.Context) error
}

// I2CBus is what sensor drivers are built on.
type I2CBus interface {
	Transactor
	AddressableReader
	AddressableWriter
	WriteReadAddr(ctx context.Context, address byte, w, r []byte) error
}
