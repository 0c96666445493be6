package environment

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mklimuk/sharedbus"
)

// SHTC3 I2C address (7-bit)
const SHTC3Address = 0x70

// Commands (Big Endian on the wire)
const (
	shtc3CmdWake      uint16 = 0x3517
	shtc3CmdSleep     uint16 = 0xB098
	shtc3CmdSoftReset uint16 = 0x805D
	shtc3CmdReadID    uint16 = 0xEFC8

	// clock stretching disabled, T first, then RH
	shtc3CmdMeasureNormal   uint16 = 0x7866
	shtc3CmdMeasureLowPower uint16 = 0x609C
)

// wake-up time is 240us max
const shtc3WakeDelay = 240 * time.Microsecond

// PowerMode selects the measurement mode of the sensor.
type PowerMode int

const (
	NormalMode PowerMode = iota
	LowPowerMode
)

func (m PowerMode) String() string {
	switch m {
	case LowPowerMode:
		return "low_power"
	default:
		return "normal"
	}
}

// ParsePowerMode accepts the names returned by PowerMode.String.
func ParsePowerMode(s string) (PowerMode, error) {
	switch s {
	case "normal", "":
		return NormalMode, nil
	case "low_power", "lowpower", "low":
		return LowPowerMode, nil
	}
	return 0, fmt.Errorf("unknown shtc3 power mode %q", s)
}

// MaxMeasurementDuration is the datasheet maximum conversion time, rounded up.
func (m PowerMode) MaxMeasurementDuration() time.Duration {
	if m == LowPowerMode {
		return 1 * time.Millisecond
	}
	return 13 * time.Millisecond
}

func (m PowerMode) command() uint16 {
	if m == LowPowerMode {
		return shtc3CmdMeasureLowPower
	}
	return shtc3CmdMeasureNormal
}

// Measurement is a single temperature (Celsius) and relative humidity (%RH) reading.
type Measurement struct {
	Temperature float32
	Humidity    float32
}

type SHTC3Opt func(*SHTC3)

// WithSettleDelay overrides the wait between starting and reading a measurement. It
// must not be shorter than the conversion time of the mode in use.
func WithSettleDelay(d time.Duration) SHTC3Opt {
	return func(s *SHTC3) {
		s.settle = d
	}
}

// SHTC3 represents Sensirion SHTC3 Temperature/Humidity sensor
// Typical usage:
//
//	s := NewSHTC3(bus)
//	m, err := s.Measure(ctx, environment.NormalMode)
//
// Every method issues whole transactions only; the bus is free while Measure waits for
// the conversion to finish.
type SHTC3 struct {
	transport sharedbus.I2CBus
	settle    time.Duration
	lastTemp  float32
	lastHum   float32
}

func NewSHTC3(trans sharedbus.I2CBus, opts ...SHTC3Opt) *SHTC3 {
	s := &SHTC3{transport: trans}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RawID reads the 16-bit ID register.
func (s *SHTC3) RawID(ctx context.Context) (uint16, error) {
	var cmd [2]byte
	binary.BigEndian.PutUint16(cmd[:], shtc3CmdReadID)
	buf := make([]byte, 3)
	err := s.transport.Transaction(ctx, SHTC3Address, sharedbus.Write(cmd[:]...), sharedbus.Read(buf))
	if err != nil {
		return 0, fmt.Errorf("shtc3: id read failed: %w", err)
	}
	if !shtCRC8Check(buf[0:2], buf[2]) {
		return 0, fmt.Errorf("shtc3: id %w: CRC mismatch", sharedbus.ErrMalformedResponse)
	}
	return binary.BigEndian.Uint16(buf[0:2]), nil
}

// DeviceIdentifier returns the 7-bit product identifier (bits 11 and 5:0 of the ID
// register); 0x47 for an SHTC3.
func (s *SHTC3) DeviceIdentifier(ctx context.Context) (uint8, error) {
	raw, err := s.RawID(ctx)
	if err != nil {
		return 0, err
	}
	return Identifier(raw), nil
}

// Identifier extracts the product identifier from the raw ID register.
func Identifier(raw uint16) uint8 {
	return uint8(raw&0x003F) | uint8((raw&0x0800)>>5)
}

func (s *SHTC3) Wakeup(ctx context.Context) error {
	if err := s.writeCmd(ctx, shtc3CmdWake); err != nil {
		return fmt.Errorf("shtc3: wake failed: %w", err)
	}
	return sleepCtx(ctx, shtc3WakeDelay)
}

func (s *SHTC3) Sleep(ctx context.Context) error {
	if err := s.writeCmd(ctx, shtc3CmdSleep); err != nil {
		return fmt.Errorf("shtc3: sleep failed: %w", err)
	}
	return nil
}

func (s *SHTC3) SoftReset(ctx context.Context) error {
	if err := s.writeCmd(ctx, shtc3CmdSoftReset); err != nil {
		return fmt.Errorf("shtc3: soft reset failed: %w", err)
	}
	return sleepCtx(ctx, shtc3WakeDelay)
}

// StartMeasurement triggers a conversion. The result is available after
// mode.MaxMeasurementDuration.
func (s *SHTC3) StartMeasurement(ctx context.Context, mode PowerMode) error {
	if err := s.writeCmd(ctx, mode.command()); err != nil {
		return fmt.Errorf("shtc3: measure command failed: %w", err)
	}
	return nil
}

// ReadMeasurement fetches the result of the last conversion.
func (s *SHTC3) ReadMeasurement(ctx context.Context) (Measurement, error) {
	// T[0:2], CRC, RH[3:5], CRC
	buf := make([]byte, 6)
	if err := s.transport.ReadFromAddr(ctx, SHTC3Address, buf); err != nil {
		return Measurement{}, fmt.Errorf("shtc3: read failed: %w", err)
	}
	if !shtCRC8Check(buf[0:2], buf[2]) {
		return Measurement{}, fmt.Errorf("shtc3: temperature %w: CRC mismatch", sharedbus.ErrMalformedResponse)
	}
	if !shtCRC8Check(buf[3:5], buf[5]) {
		return Measurement{}, fmt.Errorf("shtc3: humidity %w: CRC mismatch", sharedbus.ErrMalformedResponse)
	}
	m := Measurement{
		Temperature: convertSHTC3Temperature(binary.BigEndian.Uint16(buf[0:2])),
		Humidity:    convertSHTC3Humidity(binary.BigEndian.Uint16(buf[3:5])),
	}
	s.lastTemp, s.lastHum = m.Temperature, m.Humidity
	return m, nil
}

// Measure starts a conversion, waits for it to complete and reads the result.
func (s *SHTC3) Measure(ctx context.Context, mode PowerMode) (Measurement, error) {
	if err := s.StartMeasurement(ctx, mode); err != nil {
		return Measurement{}, err
	}
	settle := s.settle
	if settle <= 0 {
		settle = mode.MaxMeasurementDuration()
	}
	if err := sleepCtx(ctx, settle); err != nil {
		return Measurement{}, fmt.Errorf("shtc3: waiting for conversion: %w", err)
	}
	return s.ReadMeasurement(ctx)
}

// GetTemperature performs a single measurement and returns temperature in Celsius.
func (s *SHTC3) GetTemperature(ctx context.Context) (float32, error) {
	if err := s.measure(ctx); err != nil {
		return 0, err
	}
	return s.lastTemp, nil
}

// GetHumidity performs a single measurement and returns relative humidity in %RH.
func (s *SHTC3) GetHumidity(ctx context.Context) (float32, error) {
	if err := s.measure(ctx); err != nil {
		return 0, err
	}
	return s.lastHum, nil
}

// GetTempAndHum performs a single measurement and returns temperature and humidity.
func (s *SHTC3) GetTempAndHum(ctx context.Context) (float32, float32, error) {
	if err := s.measure(ctx); err != nil {
		return 0, 0, err
	}
	return s.lastTemp, s.lastHum, nil
}

// measure wraps a normal mode measurement in a wake/sleep cycle.
func (s *SHTC3) measure(ctx context.Context) error {
	if err := s.Wakeup(ctx); err != nil {
		return err
	}
	if _, err := s.Measure(ctx, NormalMode); err != nil {
		return err
	}
	// Not fatal for reading, but report so caller knows
	return s.Sleep(ctx)
}

func (s *SHTC3) writeCmd(ctx context.Context, cmd uint16) error {
	var out [2]byte
	binary.BigEndian.PutUint16(out[:], cmd)
	return s.transport.WriteToAddr(ctx, SHTC3Address, out[:])
}

// T(C) = -45 + 175 * raw / 2^16
func convertSHTC3Temperature(raw uint16) float32 {
	return -45.0 + 175.0*float32(raw)/65536.0
}

// RH(%) = 100 * raw / 2^16
func convertSHTC3Humidity(raw uint16) float32 {
	return 100.0 * float32(raw) / 65536.0
}

// Sensirion CRC-8, polynomial 0x31, init 0xFF
func shtCRC8(data []byte) byte {
	var crc byte = 0xFF
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if (crc & 0x80) != 0 {
				crc = (crc << 1) ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func shtCRC8Check(data []byte, expected byte) bool {
	return shtCRC8(data) == expected
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
