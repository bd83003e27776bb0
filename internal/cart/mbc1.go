package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC1 banks up to 2MB of ROM and 32KB of RAM. The two "upper" bits either
// extend the ROM bank number (mode 0) or select the RAM bank (mode 1).
type MBC1 struct {
	rom []byte
	ram []byte

	bankLow5   byte // lower 5 bits of the ROM bank, 0 remapped to 1
	bankHigh2  byte // RAM bank in mode 1, ROM bank bits 5-6 in mode 0
	mode       byte // 0: ROM banking, 1: RAM banking
	ramEnabled bool
}

func NewMBC1(rom []byte, ramSize int) *MBC1 {
	m := &MBC1{rom: rom, bankLow5: 1}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	return m
}

func (m *MBC1) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		off := int(addr)
		if m.mode == 1 {
			// Mode 1 applies the high bits to the fixed region as well.
			bank := int(m.bankHigh2&0x03) << 5
			off += bank * 0x4000
		}
		return m.romByte(off)
	case addr < 0x8000:
		bank := int(m.bankLow5 | (m.bankHigh2&0x03)<<5)
		return m.romByte(bank*0x4000 + int(addr-0x4000))
	case addr >= 0xA000 && addr <= 0xBFFF:
		if off, ok := m.ramOffset(addr); ok {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC1) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = value&0x0F == 0x0A
	case addr < 0x4000:
		m.bankLow5 = value & 0x1F
		if m.bankLow5 == 0 {
			m.bankLow5 = 1
		}
	case addr < 0x6000:
		m.bankHigh2 = value & 0x03
	case addr < 0x8000:
		m.mode = value & 0x01
	case addr >= 0xA000 && addr <= 0xBFFF:
		if off, ok := m.ramOffset(addr); ok {
			m.ram[off] = value
		}
	}
}

func (m *MBC1) romByte(off int) byte {
	if off >= 0 && off < len(m.rom) {
		return m.rom[off]
	}
	return 0xFF
}

func (m *MBC1) ramOffset(addr uint16) (int, bool) {
	if !m.ramEnabled || len(m.ram) == 0 {
		return 0, false
	}
	bank := 0
	if m.mode == 1 {
		bank = int(m.bankHigh2 & 0x03)
	}
	off := bank*0x2000 + int(addr-0xA000)
	return off, off < len(m.ram)
}

func (m *MBC1) SaveRAM() []byte {
	if len(m.ram) == 0 {
		return nil
	}
	return append([]byte(nil), m.ram...)
}

func (m *MBC1) LoadRAM(data []byte) {
	copy(m.ram, data)
}

type mbc1State struct {
	RAM        []byte
	BankLow5   byte
	BankHigh2  byte
	Mode       byte
	RAMEnabled bool
}

func (m *MBC1) SaveState() []byte {
	var buf bytes.Buffer
	s := mbc1State{
		RAM:        append([]byte(nil), m.ram...),
		BankLow5:   m.bankLow5,
		BankHigh2:  m.bankHigh2,
		Mode:       m.mode,
		RAMEnabled: m.ramEnabled,
	}
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

func (m *MBC1) LoadState(data []byte) {
	var s mbc1State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	copy(m.ram, s.RAM)
	m.bankLow5, m.bankHigh2, m.mode, m.ramEnabled = s.BankLow5, s.BankHigh2, s.Mode, s.RAMEnabled
}
