package adapter

import (
	"encoding/binary"
	"encoding/hex"
)

const reportSize = 64

// maximum payload of a single I2C data report
const maxChunk = 60

// HID command codes
const (
	cmdStatus          = 0x10
	cmdGetData         = 0x40
	cmdWrite           = 0x90
	cmdRead            = 0x91
	cmdReadRepeatStart = 0x93
	cmdWriteNoStop     = 0x94
)

// response codes
const (
	respOK         = 0x00
	respBusy       = 0x01
	respReadError  = 0x41
	sizeReadError  = 127
	stateIdle      = 0x00
	stateNoStop    = 0x45
	ackStatusNACK  = 0x40
	cancelAccepted = 0x10
	speedAccepted  = 0x20
	speedRejected  = 0x21
	clockHz        = 12_000_000
)

// Status is the decoded answer to the status/set parameters command.
type Status struct {
	Cancelled              bool   `yaml:"cancelled"`
	SpeedChanged           bool   `yaml:"speed_changed"`
	I2CState               int    `yaml:"i2c_state"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested_size"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent_size"`
	I2CDataBufferCounter   int    `yaml:"i2c_data_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"i2c_speed_divider"`
	I2CTimeout             int    `yaml:"i2c_timeout"`
	CurrentAddress         string `yaml:"current_address"`
	NACK                   bool   `yaml:"nack"`
	ReadPending            int    `yaml:"read_pending"`
}

// Idle reports whether the I2C engine has finished the last command.
func (s *Status) Idle() bool {
	return s.I2CState == stateIdle
}

func decodeStatus(buffer []byte) *Status {
	/*
		2: cancel transfer answer
		3: set speed answer
		8: internal I2C state machine value
		9..10: requested I2C transfer length
		11..12: already transferred number of bytes
		13: internal I2C data buffer counter
		14: current I2C speed divider
		15: current I2C timeout
		16..17: I2C address being used
		20: ACK status, bit 6 set when the address was not acknowledged
		25: read pending
	*/
	return &Status{
		Cancelled:              buffer[2] == cancelAccepted,
		SpeedChanged:           buffer[3] == speedAccepted,
		I2CState:               int(buffer[8]),
		LastWriteRequestedSize: binary.LittleEndian.Uint16(buffer[9:11]),
		LastWriteSentSize:      binary.LittleEndian.Uint16(buffer[11:13]),
		I2CDataBufferCounter:   int(buffer[13]),
		I2CSpeedDivider:        int(buffer[14]),
		I2CTimeout:             int(buffer[15]),
		CurrentAddress:         hex.EncodeToString(buffer[16:18]),
		NACK:                   buffer[20]&ackStatusNACK != 0,
		ReadPending:            int(buffer[25]),
	}
}

// encodeTransfer fills req with an I2C write or read command. For reads data is nil.
func encodeTransfer(req []byte, cmd byte, address byte, length int, data []byte) {
	clear(req)
	req[0] = cmd
	binary.LittleEndian.PutUint16(req[1:3], uint16(length))
	req[3] = address << 1
	if cmd == cmdRead || cmd == cmdReadRepeatStart {
		req[3] |= 0x01
	}
	copy(req[4:], data)
}

// speedDivider returns the divider for the requested bus clock.
func speedDivider(hz int) byte {
	return byte(clockHz/hz - 3)
}
