package cart

import (
	"bytes"
	"encoding/gob"
	"time"
)

// nowUnix is swapped out by tests to control RTC advancement.
var nowUnix = func() int64 { return time.Now().Unix() }

// MBC3 banks up to 2MB of ROM and 32KB of RAM and carries an RTC. Register
// select values 0x08-0x0C map the A000-BFFF window onto the latched clock
// registers instead of RAM.
type MBC3 struct {
	rom []byte
	ram []byte

	ramEnabled bool
	romBank    byte // 7 bits, 0 remapped to 1
	regSelect  byte // 0-3 RAM bank, 0x08-0x0C RTC register

	// Live clock, advanced from wall time on access.
	rtcSec, rtcMin, rtcHour byte
	rtcDay                  uint16 // 9 bits
	rtcHalt, rtcCarry       bool
	lastRTCWallSec          int64

	// Latched copy, frozen on a 0->1 write to 0x6000-0x7FFF.
	latSec, latMin, latHour byte
	latDay                  uint16
	latHalt, latCarry       bool
	latchArm                bool
}

func NewMBC3(rom []byte, ramSize int) *MBC3 {
	// latchArm starts true so the first 0x01 write latches, matching carts
	// that power on with the latch register at 0.
	m := &MBC3{rom: rom, romBank: 1, latchArm: true, lastRTCWallSec: nowUnix()}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	return m
}

func (m *MBC3) Read(addr uint16) byte {
	m.tickRTC()
	switch {
	case addr < 0x4000:
		return m.romByte(int(addr))
	case addr < 0x8000:
		bank := int(m.romBank & 0x7F)
		if bank == 0 {
			bank = 1
		}
		return m.romByte(bank*0x4000 + int(addr-0x4000))
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		if m.regSelect >= 0x08 {
			return m.readRTC(m.regSelect)
		}
		if off, ok := m.ramOffset(addr); ok {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC3) Write(addr uint16, value byte) {
	m.tickRTC()
	switch {
	case addr < 0x2000:
		m.ramEnabled = value&0x0F == 0x0A
	case addr < 0x4000:
		m.romBank = value & 0x7F
		if m.romBank == 0 {
			m.romBank = 1
		}
	case addr < 0x6000:
		if value <= 0x03 || (value >= 0x08 && value <= 0x0C) {
			m.regSelect = value
		}
	case addr < 0x8000:
		// Latch on a 0->1 edge.
		if m.latchArm && value == 0x01 {
			m.latch()
		}
		m.latchArm = value == 0x00
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		if m.regSelect >= 0x08 {
			m.writeRTC(m.regSelect, value)
			return
		}
		if off, ok := m.ramOffset(addr); ok {
			m.ram[off] = value
		}
	}
}

func (m *MBC3) romByte(off int) byte {
	if off >= 0 && off < len(m.rom) {
		return m.rom[off]
	}
	return 0xFF
}

func (m *MBC3) ramOffset(addr uint16) (int, bool) {
	if len(m.ram) == 0 {
		return 0, false
	}
	off := int(m.regSelect&0x03)*0x2000 + int(addr-0xA000)
	return off, off < len(m.ram)
}

// tickRTC folds elapsed wall time into the clock registers.
func (m *MBC3) tickRTC() {
	now := nowUnix()
	elapsed := now - m.lastRTCWallSec
	m.lastRTCWallSec = now
	if elapsed <= 0 || m.rtcHalt {
		return
	}
	for ; elapsed > 0; elapsed-- {
		m.rtcSec++
		if m.rtcSec < 60 {
			continue
		}
		m.rtcSec = 0
		m.rtcMin++
		if m.rtcMin < 60 {
			continue
		}
		m.rtcMin = 0
		m.rtcHour++
		if m.rtcHour < 24 {
			continue
		}
		m.rtcHour = 0
		m.rtcDay++
		if m.rtcDay > 0x1FF {
			m.rtcDay = 0
			m.rtcCarry = true
		}
	}
}

func (m *MBC3) latch() {
	m.latSec, m.latMin, m.latHour = m.rtcSec, m.rtcMin, m.rtcHour
	m.latDay, m.latHalt, m.latCarry = m.rtcDay, m.rtcHalt, m.rtcCarry
}

func (m *MBC3) readRTC(reg byte) byte {
	switch reg {
	case 0x08:
		return m.latSec
	case 0x09:
		return m.latMin
	case 0x0A:
		return m.latHour
	case 0x0B:
		return byte(m.latDay)
	case 0x0C:
		v := byte(m.latDay>>8) & 0x01
		if m.latHalt {
			v |= 0x40
		}
		if m.latCarry {
			v |= 0x80
		}
		return v
	}
	return 0xFF
}

func (m *MBC3) writeRTC(reg, value byte) {
	switch reg {
	case 0x08:
		m.rtcSec = value % 60
	case 0x09:
		m.rtcMin = value % 60
	case 0x0A:
		m.rtcHour = value % 24
	case 0x0B:
		m.rtcDay = m.rtcDay&0x100 | uint16(value)
	case 0x0C:
		m.rtcDay = m.rtcDay&0xFF | uint16(value&0x01)<<8
		m.rtcHalt = value&0x40 != 0
		m.rtcCarry = value&0x80 != 0
	}
}

// mbc3Persist covers both battery saves and save states. RTC values are
// persisted so the clock survives a restart.
type mbc3Persist struct {
	RAM        []byte
	RomBank    byte
	RegSelect  byte
	RAMEnabled bool

	RTCSec, RTCMin, RTCHour byte
	RTCDay                  uint16
	RTCHalt, RTCCarry       bool
	WallSec                 int64
}

func (m *MBC3) snapshot() mbc3Persist {
	return mbc3Persist{
		RAM:        append([]byte(nil), m.ram...),
		RomBank:    m.romBank,
		RegSelect:  m.regSelect,
		RAMEnabled: m.ramEnabled,
		RTCSec:     m.rtcSec,
		RTCMin:     m.rtcMin,
		RTCHour:    m.rtcHour,
		RTCDay:     m.rtcDay,
		RTCHalt:    m.rtcHalt,
		RTCCarry:   m.rtcCarry,
		WallSec:    m.lastRTCWallSec,
	}
}

func (m *MBC3) restore(s mbc3Persist) {
	copy(m.ram, s.RAM)
	m.romBank, m.regSelect, m.ramEnabled = s.RomBank, s.RegSelect, s.RAMEnabled
	m.rtcSec, m.rtcMin, m.rtcHour = s.RTCSec, s.RTCMin, s.RTCHour
	m.rtcDay, m.rtcHalt, m.rtcCarry = s.RTCDay, s.RTCHalt, s.RTCCarry
	m.lastRTCWallSec = s.WallSec
}

func (m *MBC3) SaveRAM() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(m.snapshot())
	return buf.Bytes()
}

func (m *MBC3) LoadRAM(data []byte) {
	var s mbc3Persist
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		// Plain RAM dumps from other emulators load as raw bytes.
		copy(m.ram, data)
		return
	}
	m.restore(s)
}

func (m *MBC3) SaveState() []byte { return m.SaveRAM() }

func (m *MBC3) LoadState(data []byte) { m.LoadRAM(data) }
