package motion

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mklimuk/sharedbus"
)

// I2C addresses selected by the AP_AD0 strap
const (
	AddressPrimary   = 0x68
	AddressSecondary = 0x69
)

// ICM42670ID is the WHO_AM_I value of an ICM-42670-P.
const ICM42670ID = 0x67

// User bank 0 registers
const (
	regTempData1    = 0x09
	regAccelDataX1  = 0x0B
	regGyroDataX1   = 0x11
	regPwrMgmt0     = 0x1F
	regGyroConfig0  = 0x20
	regAccelConfig0 = 0x21
	regWhoAmI       = 0x75
)

const fsSelMask = 0b0110_0000

var ErrUnexpectedDevice = errors.New("icm42670: unexpected device id")

// PowerMode is the PWR_MGMT0 register value. Bits 3:2 select the gyroscope mode, bits
// 1:0 the accelerometer mode and bit 4 keeps the RC oscillator on.
type PowerMode byte

const (
	Sleep           PowerMode = 0b0000_0000
	Standby         PowerMode = 0b0001_0000
	AccelLowPower   PowerMode = 0b0000_0010
	AccelLowNoise   PowerMode = 0b0000_0011
	GyroLowNoise    PowerMode = 0b0000_1100
	SixAxisLowNoise PowerMode = 0b0000_1111
)

var powerModeNames = map[PowerMode]string{
	Sleep:           "sleep",
	Standby:         "standby",
	AccelLowPower:   "accel_low_power",
	AccelLowNoise:   "accel_low_noise",
	GyroLowNoise:    "gyro_low_noise",
	SixAxisLowNoise: "six_axis_low_noise",
}

func (m PowerMode) String() string {
	if name, ok := powerModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("power_mode(%#08b)", byte(m))
}

func ParsePowerMode(s string) (PowerMode, error) {
	for mode, name := range powerModeNames {
		if name == s {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("unknown icm42670 power mode %q", s)
}

// GyroRange is the gyroscope full scale, GYRO_CONFIG0 bits 6:5.
type GyroRange byte

const (
	Gyro2000DPS GyroRange = iota
	Gyro1000DPS
	Gyro500DPS
	Gyro250DPS
)

// Sensitivity in LSB per °/s.
func (r GyroRange) Sensitivity() float32 {
	return [...]float32{16.4, 32.8, 65.5, 131}[r&0x03]
}

// AccelRange is the accelerometer full scale, ACCEL_CONFIG0 bits 6:5.
type AccelRange byte

const (
	Accel16G AccelRange = iota
	Accel8G
	Accel4G
	Accel2G
)

// Sensitivity in LSB per g.
func (r AccelRange) Sensitivity() float32 {
	return [...]float32{2048, 4096, 8192, 16384}[r&0x03]
}

// Vector is a 3-axis reading.
type Vector struct {
	X, Y, Z float32
}

// RawVector holds register values as read from the device.
type RawVector struct {
	X, Y, Z int16
}

type ICM42670Opt func(*ICM42670)

func WithAddress(address byte) ICM42670Opt {
	return func(d *ICM42670) {
		d.address = address
	}
}

// ICM42670 represents TDK InvenSense ICM-42670-P 6-axis IMU.
// Typical usage:
//
//	imu := NewICM42670(bus)
//	err := imu.SetPowerMode(ctx, motion.GyroLowNoise)
//	g, err := imu.GyroNorm(ctx)
//
// Data reads return whatever the device latched last; they are not synchronized with
// the output data rate.
type ICM42670 struct {
	transport sharedbus.I2CBus
	address   byte
}

func NewICM42670(trans sharedbus.I2CBus, opts ...ICM42670Opt) *ICM42670 {
	d := &ICM42670{transport: trans, address: AddressPrimary}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *ICM42670) Address() byte {
	return d.address
}

// DeviceID reads WHO_AM_I.
func (d *ICM42670) DeviceID(ctx context.Context) (uint8, error) {
	id, err := d.readRegister(ctx, regWhoAmI)
	if err != nil {
		return 0, fmt.Errorf("icm42670: could not read device id: %w", err)
	}
	return id, nil
}

// Verify checks that the device answering at the configured address is an ICM-42670-P.
func (d *ICM42670) Verify(ctx context.Context) error {
	id, err := d.DeviceID(ctx)
	if err != nil {
		return err
	}
	if id != ICM42670ID {
		return fmt.Errorf("%w: 0x%02x", ErrUnexpectedDevice, id)
	}
	return nil
}

// SetPowerMode writes PWR_MGMT0. Writing the same mode again leaves the device unchanged.
func (d *ICM42670) SetPowerMode(ctx context.Context, mode PowerMode) error {
	err := d.transport.WriteToAddr(ctx, d.address, []byte{regPwrMgmt0, byte(mode)})
	if err != nil {
		return fmt.Errorf("icm42670: could not set power mode %s: %w", mode, err)
	}
	return nil
}

func (d *ICM42670) PowerMode(ctx context.Context) (PowerMode, error) {
	v, err := d.readRegister(ctx, regPwrMgmt0)
	if err != nil {
		return 0, fmt.Errorf("icm42670: could not read power mode: %w", err)
	}
	return PowerMode(v), nil
}

// GyroRange reads the configured gyroscope full scale.
func (d *ICM42670) GyroRange(ctx context.Context) (GyroRange, error) {
	v, err := d.readRegister(ctx, regGyroConfig0)
	if err != nil {
		return 0, fmt.Errorf("icm42670: could not read gyro config: %w", err)
	}
	return GyroRange((v & fsSelMask) >> 5), nil
}

// SetGyroRange changes the full scale, keeping the output data rate bits. Only this
// driver touches the register, so the read and the write need not share a transaction.
func (d *ICM42670) SetGyroRange(ctx context.Context, r GyroRange) error {
	if err := d.updateFullScale(ctx, regGyroConfig0, byte(r)); err != nil {
		return fmt.Errorf("icm42670: could not set gyro range: %w", err)
	}
	return nil
}

func (d *ICM42670) AccelRange(ctx context.Context) (AccelRange, error) {
	v, err := d.readRegister(ctx, regAccelConfig0)
	if err != nil {
		return 0, fmt.Errorf("icm42670: could not read accel config: %w", err)
	}
	return AccelRange((v & fsSelMask) >> 5), nil
}

func (d *ICM42670) SetAccelRange(ctx context.Context, r AccelRange) error {
	if err := d.updateFullScale(ctx, regAccelConfig0, byte(r)); err != nil {
		return fmt.Errorf("icm42670: could not set accel range: %w", err)
	}
	return nil
}

// GyroRaw reads the gyroscope data registers.
func (d *ICM42670) GyroRaw(ctx context.Context) (RawVector, error) {
	buf := make([]byte, 6)
	if err := d.transport.WriteReadAddr(ctx, d.address, []byte{regGyroDataX1}, buf); err != nil {
		return RawVector{}, fmt.Errorf("icm42670: could not read gyro data: %w", err)
	}
	return decodeVector(buf), nil
}

// GyroNorm returns angular rate in °/s. The full scale and the data registers are read
// in one transaction.
func (d *ICM42670) GyroNorm(ctx context.Context) (Vector, error) {
	cfg, raw, err := d.readScaled(ctx, regGyroConfig0, regGyroDataX1)
	if err != nil {
		return Vector{}, fmt.Errorf("icm42670: could not read gyro: %w", err)
	}
	return raw.scale(GyroRange(cfg).Sensitivity()), nil
}

// AccelNorm returns acceleration in g.
func (d *ICM42670) AccelNorm(ctx context.Context) (Vector, error) {
	cfg, raw, err := d.readScaled(ctx, regAccelConfig0, regAccelDataX1)
	if err != nil {
		return Vector{}, fmt.Errorf("icm42670: could not read accel: %w", err)
	}
	return raw.scale(AccelRange(cfg).Sensitivity()), nil
}

// Temperature returns the die temperature in Celsius.
func (d *ICM42670) Temperature(ctx context.Context) (float32, error) {
	buf := make([]byte, 2)
	if err := d.transport.WriteReadAddr(ctx, d.address, []byte{regTempData1}, buf); err != nil {
		return 0, fmt.Errorf("icm42670: could not read temperature: %w", err)
	}
	return float32(int16(binary.BigEndian.Uint16(buf)))/128 + 25, nil
}

func (d *ICM42670) readScaled(ctx context.Context, cfgReg, dataReg byte) (byte, RawVector, error) {
	cfg := make([]byte, 1)
	data := make([]byte, 6)
	err := d.transport.Transaction(ctx, d.address,
		sharedbus.WriteRead([]byte{cfgReg}, cfg),
		sharedbus.WriteRead([]byte{dataReg}, data),
	)
	if err != nil {
		return 0, RawVector{}, err
	}
	return (cfg[0] & fsSelMask) >> 5, decodeVector(data), nil
}

func (d *ICM42670) updateFullScale(ctx context.Context, reg byte, fs byte) error {
	v, err := d.readRegister(ctx, reg)
	if err != nil {
		return err
	}
	v = v&^fsSelMask | (fs<<5)&fsSelMask
	return d.transport.WriteToAddr(ctx, d.address, []byte{reg, v})
}

func (d *ICM42670) readRegister(ctx context.Context, reg byte) (byte, error) {
	buf := []byte{0x00}
	if err := d.transport.WriteReadAddr(ctx, d.address, []byte{reg}, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func decodeVector(buf []byte) RawVector {
	return RawVector{
		X: int16(binary.BigEndian.Uint16(buf[0:2])),
		Y: int16(binary.BigEndian.Uint16(buf[2:4])),
		Z: int16(binary.BigEndian.Uint16(buf[4:6])),
	}
}

func (r RawVector) scale(sensitivity float32) Vector {
	return Vector{
		X: float32(r.X) / sensitivity,
		Y: float32(r.Y) / sensitivity,
		Z: float32(r.Z) / sensitivity,
	}
}
