package cart

import "testing"

func TestMBC1_ROMBanking(t *testing.T) {
	// 128KB ROM with a distinct marker byte at the start of each bank.
	rom := make([]byte, 128*1024)
	for bank := 0; bank < 8; bank++ {
		rom[bank*0x4000] = byte(bank)
	}
	m := NewMBC1(rom, 0)

	if got := m.Read(0x0000); got != 0x00 {
		t.Fatalf("bank0 read got %02X want 00", got)
	}
	// Switchable region defaults to bank 1.
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("default bank read got %02X want 01", got)
	}

	m.Write(0x2000, 0x03)
	if got := m.Read(0x4000); got != 0x03 {
		t.Fatalf("bank3 read got %02X want 03", got)
	}

	// Writing 0 selects bank 1.
	m.Write(0x2000, 0x00)
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("bank0->1 remap failed: got %02X", got)
	}
}

func TestMBC1_RAMBanking_Mode1(t *testing.T) {
	m := NewMBC1(make([]byte, 128*1024), 32*1024)

	// RAM disabled: reads float, writes dropped.
	m.Write(0xA000, 0x11)
	if got := m.Read(0xA000); got != 0xFF {
		t.Fatalf("disabled RAM read got %02X want FF", got)
	}

	m.Write(0x0000, 0x0A) // enable RAM
	m.Write(0x6000, 0x01) // mode 1: high bits select RAM bank
	m.Write(0x4000, 0x02) // RAM bank 2

	m.Write(0xA000, 0x77)
	if got := m.Read(0xA000); got != 0x77 {
		t.Fatalf("RAM bank2 RW failed: got %02X", got)
	}

	// Bank 0 must be untouched.
	m.Write(0x4000, 0x00)
	if got := m.Read(0xA000); got != 0x00 {
		t.Fatalf("RAM bank0 read got %02X want 00", got)
	}
}

func TestMBC1_SaveStateRoundTrip(t *testing.T) {
	m := NewMBC1(make([]byte, 64*1024), 8*1024)
	m.Write(0x0000, 0x0A)
	m.Write(0xA000, 0x42)
	m.Write(0x2000, 0x02)

	state := m.SaveState()

	n := NewMBC1(make([]byte, 64*1024), 8*1024)
	n.LoadState(state)
	n.Write(0x0000, 0x0A)
	if got := n.Read(0xA000); got != 0x42 {
		t.Fatalf("restored RAM got %02X want 42", got)
	}
	if n.bankLow5 != 0x02 {
		t.Fatalf("restored ROM bank got %d want 2", n.bankLow5)
	}
}
