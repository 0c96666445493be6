package sharedbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateOps(t *testing.T) {
	tests := []struct {
		name  string
		ops   []Op
		valid bool
	}{
		{"empty", nil, false},
		{"zero length write", []Op{Write()}, true},
		{"register read", []Op{WriteRead([]byte{0x75}, make([]byte, 1))}, true},
		{"command then read", []Op{Write(0xEF, 0xC8), Read(make([]byte, 3))}, true},
		{"blank op", []Op{Write(0x01), {}}, false},
		{"zero length read", []Op{Read(nil)}, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := ValidateOps(test.ops)
			if test.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransaction)
			}
		})
	}
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "w2", Write(0xEF, 0xC8).String())
	assert.Equal(t, "r6", Read(make([]byte, 6)).String())
	assert.Equal(t, "w1/r6", WriteRead([]byte{0x11}, make([]byte, 6)).String())
}

func TestBusError(t *testing.T) {
	cause := errors.New("remote I/O error")
	err := NewBusError(ErrNoAcknowledge, 0x70, 1, cause)
	assert.ErrorIs(t, err, ErrNoAcknowledge)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, "no acknowledge at 0x70 (op 1): remote I/O error", err.Error())

	var busErr *BusError
	assert.True(t, errors.As(err, &busErr))
	assert.Equal(t, byte(0x70), busErr.Address)

	assert.ErrorIs(t, NewBusError(nil, 0x68, 0, nil), ErrTransportFault)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrTimeout, KindOf(NewBusError(ErrTimeout, 0x68, 0, nil)))
	assert.Equal(t, ErrMalformedResponse, KindOf(errors.Join(errors.New("shtc3"), ErrMalformedResponse)))
	assert.Nil(t, KindOf(errors.New("other")))
	assert.Nil(t, KindOf(nil))
}
