package sharedbus

import (
	"errors"
	"fmt"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

// Fault kinds reported by transports and drivers.
var (
	ErrNoAcknowledge      = errors.New("no acknowledge")
	ErrTimeout            = errors.New("bus timeout")
	ErrTransportFault     = errors.New("transport fault")
	ErrMalformedResponse  = errors.New("malformed response")
	ErrInvalidTransaction = errors.New("invalid transaction")
)

// BusError describes a failed transaction. It unwraps to both Kind and the underlying
// cause, so errors.Is matches either.
type BusError struct {
	Kind    error
	Address byte
	Op      int
	Err     error
}

func (e *BusError) Error() string {
	msg := fmt.Sprintf("%v at 0x%02x (op %d)", e.Kind, e.Address, e.Op)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BusError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewBusError builds a BusError. A nil kind is treated as ErrTransportFault.
func NewBusError(kind error, address byte, op int, err error) *BusError {
	if kind == nil {
		kind = ErrTransportFault
	}
	return &BusError{Kind: kind, Address: address, Op: op, Err: err}
}

// KindOf returns the fault kind of err, or nil when err carries none of the known kinds.
func KindOf(err error) error {
	for _, kind := range []error{ErrNoAcknowledge, ErrTimeout, ErrMalformedResponse, ErrInvalidTransaction, ErrTransportFault} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
