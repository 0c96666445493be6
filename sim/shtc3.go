package sim

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/mklimuk/sharedbus"
)

const SHTC3Address = 0x70

// SHTC3 models the command interface of a Sensirion SHTC3. Reads before a conversion
// has finished are not acknowledged, as on the real part.
type SHTC3 struct {
	mx          sync.Mutex
	id          uint16
	temperature float32
	humidity    float32
	asleep      bool
	pending     []byte
	readyAt     time.Time
	commands    []uint16
}

func NewSHTC3() *SHTC3 {
	return &SHTC3{id: 0x0807, temperature: 21.5, humidity: 40}
}

// SetConditions sets the values returned by the following measurements.
func (s *SHTC3) SetConditions(temperature, humidity float32) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.temperature = temperature
	s.humidity = humidity
}

// SetID overrides the ID register content.
func (s *SHTC3) SetID(id uint16) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.id = id
}

func (s *SHTC3) Asleep() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.asleep
}

// Commands returns every command received so far.
func (s *SHTC3) Commands() []uint16 {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]uint16(nil), s.commands...)
}

func (s *SHTC3) Write(data []byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if len(data) != 2 {
		return fmt.Errorf("%w: command must be 2 bytes, got %d", sharedbus.ErrNoAcknowledge, len(data))
	}
	cmd := binary.BigEndian.Uint16(data)
	if s.asleep && cmd != 0x3517 {
		return fmt.Errorf("%w: sensor asleep", sharedbus.ErrNoAcknowledge)
	}
	s.commands = append(s.commands, cmd)
	switch cmd {
	case 0x3517:
		s.asleep = false
	case 0xB098:
		s.asleep = true
		s.pending = nil
	case 0x805D:
		s.pending = nil
	case 0xEFC8:
		s.pending = word(s.id)
		s.readyAt = time.Time{}
	case 0x7866:
		s.startConversion(12100 * time.Microsecond)
	case 0x609C:
		s.startConversion(800 * time.Microsecond)
	default:
		return fmt.Errorf("%w: unknown command %#04x", sharedbus.ErrNoAcknowledge, cmd)
	}
	return nil
}

func (s *SHTC3) startConversion(d time.Duration) {
	t := math.Round(float64(s.temperature+45) * 65536 / 175)
	h := math.Round(float64(s.humidity) * 65536 / 100)
	s.pending = append(word(clampRaw(t)), word(clampRaw(h))...)
	s.readyAt = time.Now().Add(d)
}

func (s *SHTC3) Read(buf []byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.asleep || s.pending == nil {
		return fmt.Errorf("%w: no data", sharedbus.ErrNoAcknowledge)
	}
	if time.Now().Before(s.readyAt) {
		return fmt.Errorf("%w: conversion in progress", sharedbus.ErrNoAcknowledge)
	}
	copy(buf, s.pending)
	s.pending = nil
	return nil
}

func clampRaw(v float64) uint16 {
	switch {
	case v < 0:
		return 0
	case v > math.MaxUint16:
		return math.MaxUint16
	}
	return uint16(v)
}

func word(v uint16) []byte {
	b := []byte{byte(v >> 8), byte(v), 0}
	b[2] = crc8(b[:2])
	return b
}

// Sensirion CRC-8, polynomial 0x31, init 0xFF
func crc8(data []byte) byte {
	crc := byte(0xFF)
	for _, b := range data {
		crc ^= b
		for range 8 {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
