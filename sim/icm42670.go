package sim

import (
	"math"
	"sync"
)

const ICM42670Address = 0x68

const (
	icmRegTempData1  = 0x09
	icmRegAccelData  = 0x0B
	icmRegGyroData   = 0x11
	icmRegPwrMgmt0   = 0x1F
	icmRegGyroConfig = 0x20
	icmRegAccelConf  = 0x21
	icmRegWhoAmI     = 0x75
)

var (
	icmGyroSensitivity  = [4]float64{16.4, 32.8, 65.5, 131}
	icmAccelSensitivity = [4]float64{2048, 4096, 8192, 16384}
)

// ICM42670 models the register file of a TDK ICM-42670-P. Sensor data registers are
// latched from the configured motion on every read starting inside the data block.
type ICM42670 struct {
	mx          sync.Mutex
	regs        [128]byte
	ptr         byte
	gyro        [3]float64
	accel       [3]float64
	temperature float64
	writes      map[byte]int
}

func NewICM42670() *ICM42670 {
	d := &ICM42670{temperature: 25, writes: map[byte]int{}}
	d.regs[icmRegWhoAmI] = 0x67
	d.regs[icmRegGyroConfig] = 0x06
	d.regs[icmRegAccelConf] = 0x06
	return d
}

// SetMotion sets angular rate in °/s and acceleration in g.
func (d *ICM42670) SetMotion(gyro, accel [3]float64) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.gyro = gyro
	d.accel = accel
}

func (d *ICM42670) SetTemperature(celsius float64) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.temperature = celsius
}

// Register returns the current content of reg.
func (d *ICM42670) Register(reg byte) byte {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.regs[reg&0x7F]
}

// Writes returns how many times reg was written.
func (d *ICM42670) Writes(reg byte) int {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.writes[reg]
}

func (d *ICM42670) Write(data []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if len(data) == 0 {
		return nil
	}
	d.ptr = data[0] & 0x7F
	for _, b := range data[1:] {
		if d.ptr != icmRegWhoAmI {
			d.regs[d.ptr] = b
		}
		d.writes[d.ptr]++
		d.ptr = (d.ptr + 1) & 0x7F
	}
	return nil
}

func (d *ICM42670) Read(buf []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.ptr >= icmRegTempData1 && d.ptr < icmRegGyroData+6 {
		d.latch()
	}
	for i := range buf {
		buf[i] = d.regs[d.ptr]
		d.ptr = (d.ptr + 1) & 0x7F
	}
	return nil
}

func (d *ICM42670) latch() {
	pwr := d.regs[icmRegPwrMgmt0]
	gyroOn := pwr&0x0C == 0x0C
	accelOn := pwr&0x03 >= 0x02
	gs := icmGyroSensitivity[(d.regs[icmRegGyroConfig]>>5)&0x03]
	as := icmAccelSensitivity[(d.regs[icmRegAccelConf]>>5)&0x03]
	for i := range 3 {
		g, a := int16(math.MinInt16), int16(math.MinInt16)
		if gyroOn {
			g = toInt16(d.gyro[i] * gs)
		}
		if accelOn {
			a = toInt16(d.accel[i] * as)
		}
		putInt16(d.regs[icmRegGyroData+2*i:], g)
		putInt16(d.regs[icmRegAccelData+2*i:], a)
	}
	putInt16(d.regs[icmRegTempData1:], toInt16((d.temperature-25)*128))
}

func toInt16(v float64) int16 {
	v = math.Round(v)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16+1:
		return math.MinInt16 + 1
	}
	return int16(v)
}

func putInt16(b []byte, v int16) {
	b[0] = byte(uint16(v) >> 8)
	b[1] = byte(uint16(v))
}
