package monitor

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/sharedbus"
	"github.com/mklimuk/sharedbus/environment"
	"github.com/mklimuk/sharedbus/motion"
	"github.com/mklimuk/sharedbus/shared"
	"github.com/mklimuk/sharedbus/sim"
)

type mockGyro struct {
	mock.Mock
}

func (m *mockGyro) DeviceID(ctx context.Context) (uint8, error) {
	args := m.Called()
	return args.Get(0).(uint8), args.Error(1)
}

func (m *mockGyro) SetPowerMode(ctx context.Context, mode motion.PowerMode) error {
	return m.Called(mode).Error(0)
}

func (m *mockGyro) GyroNorm(ctx context.Context) (motion.Vector, error) {
	args := m.Called()
	return args.Get(0).(motion.Vector), args.Error(1)
}

type rig struct {
	bus   *sim.Bus
	sht   *sim.SHTC3
	icm   *sim.ICM42670
	loop  *Loop
	out   *bytes.Buffer
	stats *Metrics
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	r := &rig{
		bus:   sim.NewBus(),
		sht:   sim.NewSHTC3(),
		icm:   sim.NewICM42670(),
		out:   &bytes.Buffer{},
		stats: NewMetrics(prometheus.NewRegistry()),
	}
	r.bus.Attach(sim.SHTC3Address, r.sht)
	r.bus.Attach(sim.ICM42670Address, r.icm)
	m := shared.NewManager(r.bus)
	r.loop = NewLoop(
		environment.NewSHTC3(m.Acquire(shared.Named("shtc3"))),
		motion.NewICM42670(m.Acquire(shared.Named("icm42670"))),
		cfg,
		WithOutput(r.out),
		WithMetrics(r.stats),
	)
	return r
}

func testConfig(iterations, maxFailures int) Config {
	cfg := DefaultConfig()
	cfg.Interval = time.Millisecond
	cfg.Iterations = iterations
	cfg.MaxConsecutiveFailures = maxFailures
	return cfg
}

func TestFormatReading(t *testing.T) {
	line := FormatReading(Reading{
		Temperature: 23.456,
		Humidity:    41.2,
		Gyro:        motion.Vector{X: 1.005, Y: -0.994, Z: 0.001},
	})
	assert.Equal(t, "TEMP: 23.46 °C | HUM: 41.20 % | GYRO: X= 1.00  Y= -0.99  Z= 0.00", line)
}

func TestLoop_Run(t *testing.T) {
	r := newRig(t, testConfig(2, 1))
	r.sht.SetConditions(21.5, 40)
	r.icm.SetMotion([3]float64{10, -5, 0}, [3]float64{})

	require.NoError(t, r.loop.Run(context.Background()))
	assert.Equal(t, StateStopped, r.loop.State())
	assert.Equal(t, []string{
		"Device ID SHTC3: 0x47",
		"Device ID ICM42670P: 0x67",
		"TEMP: 21.50 °C | HUM: 40.00 % | GYRO: X= 10.00  Y= -5.00  Z= 0.00",
		"TEMP: 21.50 °C | HUM: 40.00 % | GYRO: X= 10.00  Y= -5.00  Z= 0.00",
	}, strings.Split(strings.TrimSpace(r.out.String()), "\n"))
	assert.Equal(t, byte(motion.GyroLowNoise), r.icm.Register(0x1F))
	assert.Equal(t, float64(2), testutil.ToFloat64(r.stats.iterations))
	assert.InDelta(t, 21.5, testutil.ToFloat64(r.stats.temperature), 0.01)
	assert.InDelta(t, -5, testutil.ToFloat64(r.stats.gyro.WithLabelValues("y")), 0.01)
}

func TestLoop_FailFastStopsIssuingTransactions(t *testing.T) {
	r := newRig(t, testConfig(0, 1))
	require.NoError(t, r.loop.Init(context.Background()))
	assert.Equal(t, StateRunning, r.loop.State())
	r.bus.Reset()
	r.bus.Fail(sim.ICM42670Address, sharedbus.ErrTimeout)

	err := r.loop.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooManyFailures)
	assert.ErrorIs(t, err, sharedbus.ErrTimeout)

	events := r.bus.Events()
	require.Len(t, events, 1, "nothing is issued after the failing operation")
	assert.Equal(t, byte(sim.ICM42670Address), events[0].Address)
	assert.Equal(t, float64(1), testutil.ToFloat64(r.stats.failures))
}

func TestLoop_DefaultStopsAtFirstFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interval = time.Millisecond
	cfg.Iterations = 10
	r := newRig(t, cfg)
	require.NoError(t, r.loop.Init(context.Background()))
	r.bus.Reset()
	r.bus.Fail(sim.SHTC3Address, sharedbus.ErrNoAcknowledge)

	err := r.loop.Run(context.Background())
	assert.ErrorIs(t, err, sharedbus.ErrNoAcknowledge)

	// gyro config + data, then the failed measurement command
	events := r.bus.Events()
	require.Len(t, events, 3)
	assert.Equal(t, byte(sim.SHTC3Address), events[2].Address)
	assert.Equal(t, float64(1), testutil.ToFloat64(r.stats.failures))
	assert.Equal(t, StateStopped, r.loop.State())
}

func TestLoop_CircuitBreakerTrips(t *testing.T) {
	r := newRig(t, testConfig(10, 3))
	require.NoError(t, r.loop.Init(context.Background()))
	r.bus.Fail(sim.SHTC3Address, sharedbus.ErrNoAcknowledge)

	err := r.loop.Run(context.Background())
	assert.ErrorIs(t, err, ErrTooManyFailures)
	assert.ErrorIs(t, err, sharedbus.ErrNoAcknowledge)
	assert.Equal(t, float64(3), testutil.ToFloat64(r.stats.failures))
	assert.Equal(t, float64(0), testutil.ToFloat64(r.stats.iterations))
}

func TestLoop_RecoversFromTransientFailures(t *testing.T) {
	calls := 0
	climate := environment.NewMockSHTC3(
		func(ctx context.Context) (float32, error) {
			calls++
			if calls%3 != 0 {
				return 0, errors.New("transient")
			}
			return 20, nil
		},
		func(ctx context.Context) (float32, error) { return 50, nil },
	)
	gyro := &mockGyro{}
	gyro.On("DeviceID").Return(uint8(0x67), nil)
	gyro.On("SetPowerMode", motion.GyroLowNoise).Return(nil)
	gyro.On("GyroNorm").Return(motion.Vector{X: 1}, nil)

	out := &bytes.Buffer{}
	loop := NewLoop(climate, gyro, testConfig(6, 3), WithOutput(out))
	require.NoError(t, loop.Run(context.Background()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "TEMP: 20.00 °C | HUM: 50.00 % | GYRO: X= 1.00  Y= 0.00  Z= 0.00", lines[2])
	gyro.AssertNumberOfCalls(t, "GyroNorm", 6)
	gyro.AssertNumberOfCalls(t, "SetPowerMode", 1)
}

func TestLoop_InitFailureIsFatal(t *testing.T) {
	gyro := &mockGyro{}
	gyro.On("DeviceID").Return(uint8(0), sharedbus.NewBusError(sharedbus.ErrNoAcknowledge, 0x68, 0, nil))
	climate := environment.NewMockSHTC3(
		func(ctx context.Context) (float32, error) { return 20, nil },
		func(ctx context.Context) (float32, error) { return 50, nil },
	)
	loop := NewLoop(climate, gyro, testConfig(1, 5), WithOutput(&bytes.Buffer{}))

	err := loop.Run(context.Background())
	assert.ErrorIs(t, err, sharedbus.ErrNoAcknowledge)
	assert.Equal(t, StateInit, loop.State())
	gyro.AssertNotCalled(t, "SetPowerMode", mock.Anything)
	gyro.AssertNotCalled(t, "GyroNorm")
}

func TestLoop_StopsOnCancel(t *testing.T) {
	cfg := testConfig(0, 1)
	cfg.Interval = 10 * time.Millisecond
	r := newRig(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.loop.Run(ctx) }()
	assert.Eventually(t, func() bool {
		return r.loop.State() == StateRunning && testutil.ToFloat64(r.stats.iterations) > 0
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
	assert.Equal(t, StateStopped, r.loop.State())
}

func TestNewLoop_FailureLimitAtLeastOne(t *testing.T) {
	loop := NewLoop(nil, nil, Config{})
	assert.Equal(t, 1, loop.cfg.MaxConsecutiveFailures)
	assert.Equal(t, "init", loop.State().String())
}
