package ppu

import "testing"

// run spends exactly n dots, reissuing the remainder after every mode
// boundary.
func run(p *PPU, n int) {
	for n > 0 {
		n -= p.Run(n)
	}
}

func statMode(p *PPU) byte { return p.Read(0xFF41) & 0x03 }

func TestModeSequenceOneLine(t *testing.T) {
	p := New(nil)
	p.Write(0xFF40, 0x80) // LCD on
	if m := statMode(p); m != 2 {
		t.Fatalf("expected mode 2 after LCD on, got %d", m)
	}
	run(p, 80)
	if m := statMode(p); m != 3 {
		t.Fatalf("expected mode 3 at dot 80, got %d", m)
	}
	run(p, 172)
	if m := statMode(p); m != 0 {
		t.Fatalf("expected mode 0 at dot 252, got %d", m)
	}
	run(p, 456-252)
	if ly := p.Read(0xFF44); ly != 1 {
		t.Fatalf("expected LY=1, got %d", ly)
	}
	if m := statMode(p); m != 2 {
		t.Fatalf("expected mode 2 at new line, got %d", m)
	}
}

func TestRunStopsAtModeBoundary(t *testing.T) {
	p := New(nil)
	p.Write(0xFF40, 0x80)
	// 100 dots offered, but OAM scan only has 80 left.
	if got := p.Run(100); got != 80 {
		t.Fatalf("Run consumed %d dots, want 80", got)
	}
	if m := statMode(p); m != 3 {
		t.Fatalf("expected mode 3 after OAM scan, got %d", m)
	}
	// Nothing due mid-mode: a partial budget is consumed in full.
	if got := p.Run(10); got != 10 {
		t.Fatalf("Run consumed %d dots, want 10", got)
	}
}

func TestVBlankInterruptsAndFrameReady(t *testing.T) {
	var got []int
	p := New(func(bit int) { got = append(got, bit) })
	p.Write(0xFF41, 1<<4) // STAT on VBlank
	p.Write(0xFF40, 0x80)

	run(p, 144*456)
	if ly := p.Read(0xFF44); ly != 144 {
		t.Fatalf("expected LY=144, got %d", ly)
	}
	vb, st := 0, 0
	for _, b := range got {
		switch b {
		case 0:
			vb++
		case 1:
			st++
		}
	}
	if vb != 1 {
		t.Fatalf("expected exactly one VBlank IRQ, got %d", vb)
	}
	if st == 0 {
		t.Fatalf("expected STAT IRQ on VBlank entry when enabled")
	}
	if !p.FrameReady() {
		t.Fatalf("expected FrameReady after line 143 completes")
	}
	// The flag clears on read.
	if p.FrameReady() {
		t.Fatalf("FrameReady did not clear")
	}
}

func TestLYWrapsAfterLine153(t *testing.T) {
	p := New(nil)
	p.Write(0xFF40, 0x80)
	run(p, FrameDots-1)
	if ly := p.Read(0xFF44); ly != 153 {
		t.Fatalf("expected LY=153 on last dot, got %d", ly)
	}
	run(p, 1)
	if ly := p.Read(0xFF44); ly != 0 {
		t.Fatalf("expected LY=0 after frame, got %d", ly)
	}
	if m := statMode(p); m != 2 {
		t.Fatalf("expected mode 2 on new frame, got %d", m)
	}
}

func TestHBlankAndLYCInterrupts(t *testing.T) {
	var got []int
	p := New(func(bit int) { got = append(got, bit) })
	p.Write(0xFF41, 1<<3|1<<6) // STAT on HBlank and LYC
	p.Write(0xFF45, 2)
	p.Write(0xFF40, 0x80)

	run(p, 80+172)
	if len(got) == 0 || got[0] != 1 {
		t.Fatalf("expected STAT IRQ on HBlank entry, got %v", got)
	}

	got = got[:0]
	run(p, 456-252+456) // finish line 0, run line 1; LY becomes 2
	if ly := p.Read(0xFF44); ly != 2 {
		t.Fatalf("expected LY=2, got %d", ly)
	}
	hasLYC := false
	for _, b := range got {
		if b == 1 {
			hasLYC = true
		}
	}
	if !hasLYC {
		t.Fatalf("expected STAT IRQ on LYC coincidence at LY=2")
	}
	if p.Read(0xFF41)&(1<<2) == 0 {
		t.Fatalf("coincidence flag not set at LY==LYC")
	}
}

func TestLCDOffConsumesBudgetIdly(t *testing.T) {
	p := New(nil)
	if got := p.Run(1000); got != 1000 {
		t.Fatalf("LCD off consumed %d dots, want 1000", got)
	}
	if ly := p.Read(0xFF44); ly != 0 {
		t.Fatalf("LY advanced with LCD off: %d", ly)
	}
	if p.FrameReady() {
		t.Fatalf("frame produced with LCD off")
	}
}

func TestAccessBlockedByMode(t *testing.T) {
	p := New(nil)
	p.Write(0x8000, 0xAB) // LCD off: everything accessible
	p.Write(0xFE00, 0xCD)
	p.Write(0xFF40, 0x80)

	// Mode 2: OAM blocked, VRAM open.
	if got := p.Read(0xFE00); got != 0xFF {
		t.Fatalf("OAM readable during OAM scan: %02X", got)
	}
	if got := p.Read(0x8000); got != 0xAB {
		t.Fatalf("VRAM blocked during OAM scan: %02X", got)
	}

	// Mode 3: both blocked; writes dropped.
	run(p, 80)
	if got := p.Read(0x8000); got != 0xFF {
		t.Fatalf("VRAM readable during pixel draw: %02X", got)
	}
	p.Write(0x8000, 0x11)

	// Mode 0: both open again, and the mode-3 write must not have landed.
	run(p, 172)
	if got := p.Read(0x8000); got != 0xAB {
		t.Fatalf("VRAM after hblank got %02X want AB", got)
	}
	if got := p.Read(0xFE00); got != 0xCD {
		t.Fatalf("OAM after hblank got %02X want CD", got)
	}
}

func TestDoubleBufferSwap(t *testing.T) {
	p := New(nil)
	p.Write(0xFF47, 0xE4) // standard palette
	p.Write(0xFF40, 0x80|0x01)

	before := p.Frame()
	run(p, 144*456)
	if !p.FrameReady() {
		t.Fatalf("no frame after 144 lines")
	}
	after := p.Frame()
	if &before[0] == &after[0] {
		t.Fatalf("framebuffer did not swap")
	}
	if len(after) != ScreenW*ScreenH*4 {
		t.Fatalf("frame size %d", len(after))
	}
	// Empty tile data with BGP 0xE4 maps color 0 to white.
	if after[0] != 0xFF || after[3] != 0xFF {
		t.Fatalf("unexpected first pixel %v", after[0:4])
	}
}
