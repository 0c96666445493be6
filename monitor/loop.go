// Package monitor drives the periodic read-out of the climate sensor and the gyroscope
// sharing one bus.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/mklimuk/sharedbus/environment"
	"github.com/mklimuk/sharedbus/motion"
)

var ErrTooManyFailures = errors.New("too many consecutive failed iterations")

// Climate is the temperature and humidity sensor surface the loop needs.
type Climate interface {
	DeviceIdentifier(ctx context.Context) (uint8, error)
	Measure(ctx context.Context, mode environment.PowerMode) (environment.Measurement, error)
}

// Gyroscope is the IMU surface the loop needs.
type Gyroscope interface {
	DeviceID(ctx context.Context) (uint8, error)
	SetPowerMode(ctx context.Context, mode motion.PowerMode) error
	GyroNorm(ctx context.Context) (motion.Vector, error)
}

type Config struct {
	// Interval is the pause after every iteration.
	Interval time.Duration
	// Iterations stops the loop after that many iterations; 0 runs until the context ends.
	Iterations int
	// MaxConsecutiveFailures aborts the loop after that many failed iterations in a row.
	// The default of 1 makes the first failure fatal; larger values skip failed
	// iterations until the limit is reached.
	MaxConsecutiveFailures int
	ClimateMode            environment.PowerMode
	IMUMode                motion.PowerMode
}

func DefaultConfig() Config {
	return Config{
		Interval:               500 * time.Millisecond,
		MaxConsecutiveFailures: 1,
		ClimateMode:            environment.NormalMode,
		IMUMode:                motion.GyroLowNoise,
	}
}

// Reading is the result of one iteration.
type Reading struct {
	Temperature float32
	Humidity    float32
	Gyro        motion.Vector
}

func FormatReading(r Reading) string {
	return fmt.Sprintf("TEMP: %.2f °C | HUM: %.2f %% | GYRO: X= %.2f  Y= %.2f  Z= %.2f",
		r.Temperature, r.Humidity, r.Gyro.X, r.Gyro.Y, r.Gyro.Z)
}

type State int

const (
	StateInit State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "init"
	}
}

type Option func(*Loop)

// WithOutput redirects report lines, stdout by default.
func WithOutput(w io.Writer) Option {
	return func(l *Loop) {
		l.out = w
	}
}

func WithMetrics(m *Metrics) Option {
	return func(l *Loop) {
		l.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		l.log = logger
	}
}

// Loop identifies both sensors once and then polls them until stopped.
type Loop struct {
	climate Climate
	gyro    Gyroscope
	cfg     Config
	state   atomic.Int32
	out     io.Writer
	metrics *Metrics
	log     *slog.Logger
}

func NewLoop(climate Climate, gyro Gyroscope, cfg Config, opts ...Option) *Loop {
	if cfg.MaxConsecutiveFailures < 1 {
		cfg.MaxConsecutiveFailures = 1
	}
	l := &Loop{
		climate: climate,
		gyro:    gyro,
		cfg:     cfg,
		out:     os.Stdout,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State may be read from any goroutine while Run is in progress.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Init reports both device identifiers and switches the IMU to the configured mode.
// Any failure is returned as is; the loop stays in the init state.
func (l *Loop) Init(ctx context.Context) error {
	if l.State() != StateInit {
		return nil
	}
	id, err := l.climate.DeviceIdentifier(ctx)
	if err != nil {
		return fmt.Errorf("could not identify climate sensor: %w", err)
	}
	_, _ = fmt.Fprintf(l.out, "Device ID SHTC3: 0x%02x\n", id)
	id, err = l.gyro.DeviceID(ctx)
	if err != nil {
		return fmt.Errorf("could not identify imu: %w", err)
	}
	_, _ = fmt.Fprintf(l.out, "Device ID ICM42670P: 0x%02x\n", id)
	if err := l.gyro.SetPowerMode(ctx, l.cfg.IMUMode); err != nil {
		return fmt.Errorf("could not set imu power mode: %w", err)
	}
	l.log.Debug("sensors initialized", "imu_mode", l.cfg.IMUMode, "climate_mode", l.cfg.ClimateMode)
	l.state.Store(int32(StateRunning))
	return nil
}

// Poll runs a single iteration: gyroscope read, then climate measurement.
func (l *Loop) Poll(ctx context.Context) (Reading, error) {
	g, err := l.gyro.GyroNorm(ctx)
	if err != nil {
		return Reading{}, err
	}
	m, err := l.climate.Measure(ctx, l.cfg.ClimateMode)
	if err != nil {
		return Reading{}, err
	}
	return Reading{Temperature: m.Temperature, Humidity: m.Humidity, Gyro: g}, nil
}

// Run initializes the loop if needed and polls until the context ends, the configured
// number of iterations is reached or the failure limit trips. Context cancellation is
// not an error.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Init(ctx); err != nil {
		return err
	}
	defer l.state.Store(int32(StateStopped))
	failures := 0
	for i := 1; l.cfg.Iterations == 0 || i <= l.cfg.Iterations; i++ {
		r, err := l.Poll(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			failures++
			l.metrics.observeFailure()
			l.log.Error("poll iteration failed", "iteration", i, "consecutive", failures, "err", err)
			if failures >= l.cfg.MaxConsecutiveFailures {
				return fmt.Errorf("%w (%d): %w", ErrTooManyFailures, failures, err)
			}
		} else {
			failures = 0
			l.metrics.observeReading(r)
			_, _ = fmt.Fprintln(l.out, FormatReading(r))
		}
		if l.cfg.Iterations != 0 && i == l.cfg.Iterations {
			break
		}
		if err := sleepCtx(ctx, l.cfg.Interval); err != nil {
			return nil
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
