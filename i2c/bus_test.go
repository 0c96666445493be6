package i2c

import (
	"context"
	"errors"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/sharedbus"
	"github.com/mklimuk/sharedbus/environment"
	"github.com/mklimuk/sharedbus/motion"
	"github.com/mklimuk/sharedbus/shared"
)

// scriptedBus answers every Tx with err after waiting for release, if set.
type scriptedBus struct {
	err     error
	release chan struct{}
	calls   int
}

func (s *scriptedBus) String() string { return "scripted" }

func (s *scriptedBus) Tx(addr uint16, w, r []byte) error {
	s.calls++
	if s.release != nil {
		<-s.release
	}
	return s.err
}

func (s *scriptedBus) SetSpeed(f physic.Frequency) error { return nil }

// slowBus takes delay per Tx and fills reads with fill.
type slowBus struct {
	delay time.Duration
	fill  byte
	calls atomic.Int32
}

func (s *slowBus) String() string { return "slow" }

func (s *slowBus) Tx(addr uint16, w, r []byte) error {
	s.calls.Add(1)
	time.Sleep(s.delay)
	for i := range r {
		r[i] = s.fill
	}
	return nil
}

func (s *slowBus) SetSpeed(f physic.Frequency) error { return nil }

func TestGenericBus_Transaction(t *testing.T) {
	playback := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x68, W: []byte{0x20}, R: []byte{0x06}},
			{Addr: 0x68, W: []byte{0x11}, R: []byte{0x00, 0xA4, 0xFF, 0x5C, 0x00, 0x00}},
		},
		DontPanic: true,
	}
	bus := NewBus(playback)
	imu := motion.NewICM42670(shared.NewManager(bus).Acquire())
	g, err := imu.GyroNorm(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 10, g.X, 0.01)
	assert.InDelta(t, -10, g.Y, 0.01)
	require.NoError(t, playback.Close())
}

func TestGenericBus_SHTC3(t *testing.T) {
	playback := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x70, W: []byte{0xEF, 0xC8}},
			{Addr: 0x70, R: []byte{0x08, 0x07, 0x21}},
		},
		DontPanic: true,
	}
	s := environment.NewSHTC3(shared.NewManager(NewBus(playback)).Acquire())
	id, err := s.DeviceIdentifier(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(0x47), id)
	require.NoError(t, playback.Close())
}

func TestGenericBus_InvalidOps(t *testing.T) {
	bus := &scriptedBus{}
	err := NewBus(bus).Transaction(context.Background(), 0x70)
	assert.ErrorIs(t, err, sharedbus.ErrInvalidTransaction)
	assert.Equal(t, 0, bus.calls)
}

func TestGenericBus_Classification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"enxio", syscall.ENXIO, sharedbus.ErrNoAcknowledge},
		{"remote io", errors.New("sysfs-i2c: remote I/O error"), sharedbus.ErrNoAcknowledge},
		{"timed out", syscall.ETIMEDOUT, sharedbus.ErrTimeout},
		{"other", errors.New("sysfs-i2c: bad file descriptor"), sharedbus.ErrTransportFault},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := NewBus(&scriptedBus{err: test.err}).Transaction(context.Background(), 0x70, sharedbus.Write(0x35, 0x17))
			assert.ErrorIs(t, err, test.kind)
			assert.ErrorIs(t, err, test.err)
			var busErr *sharedbus.BusError
			require.ErrorAs(t, err, &busErr)
			assert.Equal(t, byte(0x70), busErr.Address)
		})
	}
}

func TestGenericBus_StopsAtFirstFailedOp(t *testing.T) {
	bus := &scriptedBus{err: syscall.ENXIO}
	err := NewBus(bus).Transaction(context.Background(), 0x68,
		sharedbus.WriteRead([]byte{0x20}, make([]byte, 1)),
		sharedbus.WriteRead([]byte{0x11}, make([]byte, 6)),
	)
	assert.ErrorIs(t, err, sharedbus.ErrNoAcknowledge)
	assert.Equal(t, 1, bus.calls)
}

func TestGenericBus_Timeout(t *testing.T) {
	stuck := &scriptedBus{release: make(chan struct{})}
	bus := NewBus(stuck, WithTimeout(20*time.Millisecond))

	begin := time.Now()
	err := bus.Transaction(context.Background(), 0x70, sharedbus.Write(0x35, 0x17))
	assert.ErrorIs(t, err, sharedbus.ErrTimeout)
	assert.Less(t, time.Since(begin), time.Second)

	err = bus.Transaction(context.Background(), 0x70, sharedbus.Write(0x35, 0x17))
	assert.ErrorIs(t, err, sharedbus.ErrTimeout)
	assert.ErrorIs(t, err, sharedbus.ErrBusBusy, "the wedged operation still owns the bus")

	close(stuck.release)
	assert.Eventually(t, func() bool {
		return bus.Transaction(context.Background(), 0x70, sharedbus.Write(0x35, 0x17)) == nil
	}, time.Second, 10*time.Millisecond)
}

func TestGenericBus_TimedOutReadLeavesBufferAlone(t *testing.T) {
	slow := &slowBus{delay: 30 * time.Millisecond, fill: 0xAA}
	bus := NewBus(slow, WithTimeout(5*time.Millisecond))

	buf := make([]byte, 4)
	err := bus.Transaction(context.Background(), 0x68, sharedbus.Read(buf))
	require.ErrorIs(t, err, sharedbus.ErrTimeout)
	assert.Equal(t, []byte{0, 0, 0, 0}, buf)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []byte{0, 0, 0, 0}, buf, "late completion must not touch the caller's buffer")

	require.NoError(t, NewBus(slow, WithTimeout(time.Second)).Transaction(context.Background(), 0x68, sharedbus.Read(buf)))
	assert.Equal(t, []byte{0xAA, 0xAA, 0xAA, 0xAA}, buf)
}

func TestGenericBus_TimeoutCoversWholeTransaction(t *testing.T) {
	slow := &slowBus{delay: 40 * time.Millisecond}
	bus := NewBus(slow, WithTimeout(100*time.Millisecond))

	err := bus.Transaction(context.Background(), 0x68,
		sharedbus.Write(0x1F, 0x0C),
		sharedbus.Write(0x20, 0x06),
		sharedbus.Write(0x21, 0x06),
	)
	require.ErrorIs(t, err, sharedbus.ErrTimeout)
	var busErr *sharedbus.BusError
	require.ErrorAs(t, err, &busErr)
	assert.Equal(t, 2, busErr.Op)
	assert.Equal(t, int32(3), slow.calls.Load())
}

func TestGenericBus_SetSpeed(t *testing.T) {
	bus := NewBus(&i2ctest.Playback{})
	require.NoError(t, bus.SetSpeed(400*physic.KiloHertz))
	assert.Equal(t, 400*physic.KiloHertz, bus.speed)
	assert.NoError(t, bus.Release(context.Background()))
}
