package bus

import (
	"bytes"
	"encoding/gob"
	"io"

	"github.com/lboehm/dmgemu/internal/cart"
	"github.com/lboehm/dmgemu/internal/ppu"
)

// Interrupt bits in IF/IE, in priority order.
const (
	IntVBlank = 0
	IntSTAT   = 1
	IntTimer  = 2
	IntSerial = 3
	IntJoypad = 4
)

// Joypad button masks for SetJoypadState. Action buttons occupy the low
// nibble, the d-pad the high nibble.
const (
	JoypA      = 0x01
	JoypB      = 0x02
	JoypSelect = 0x04
	JoypStart  = 0x08
	JoypRight  = 0x10
	JoypLeft   = 0x20
	JoypUp     = 0x40
	JoypDown   = 0x80
)

// Bus routes the 16-bit address space across the cartridge, the PPU's
// VRAM/OAM and registers, WRAM and its echo, HRAM, and the IO registers it
// owns itself: joypad, serial, timer, OAM DMA, IF and IE. Tick advances the
// bus-internal peripherals; the PPU is advanced separately by the scheduler.
type Bus struct {
	cart cart.Cartridge
	ppu  *ppu.PPU

	wram [0x2000]byte // 0xC000-0xDFFF, mirrored at 0xE000-0xFDFF
	hram [0x7F]byte   // 0xFF80-0xFFFE

	ifReg byte // FF0F, lower 5 bits
	ie    byte // FFFF

	joypSelect byte // FF00 bits 4-5 as written
	buttons    byte // pressed-button mask (Joyp* constants)

	sb      byte // FF01
	sc      byte // FF02
	serialW io.Writer

	// Timer. divInternal is the full 16-bit divider; TIMA increments on
	// falling edges of the TAC-selected divider bit. A TIMA overflow
	// leaves 0 in TIMA for four cycles before the TMA reload lands.
	divInternal   uint16
	tima          byte // FF05
	tma           byte // FF06
	tac           byte // FF07, lower 3 bits
	reloadPending bool
	reloadDelay   int

	// OAM DMA: one byte per cycle for 160 cycles; OAM is unreadable and
	// write-protected from the CPU side while active.
	dmaActive bool
	dmaSrc    uint16
	dmaPos    int
	dmaReg    byte // last value written to FF46
}

// New builds a bus around the given cartridge. The PPU is created here so
// its interrupt line is wired up; callers reach it through PPU.
func New(crt cart.Cartridge) *Bus {
	b := &Bus{cart: crt}
	b.ppu = ppu.New(func(bit int) { b.RequestInterrupt(bit) })
	return b
}

// PPU returns the video unit owned by this bus.
func (b *Bus) PPU() *ppu.PPU { return b.ppu }

// RequestInterrupt sets the given bit in IF.
func (b *Bus) RequestInterrupt(bit int) {
	b.ifReg |= 1 << bit
}

// SetSerialWriter directs serial output (writes to FF01/FF02) to w. Test
// ROMs report their results this way.
func (b *Bus) SetSerialWriter(w io.Writer) { b.serialW = w }

// SetJoypadState replaces the pressed-button mask. A newly pressed button
// raises the joypad interrupt.
func (b *Bus) SetJoypadState(mask byte) {
	if mask&^b.buttons != 0 {
		b.RequestInterrupt(IntJoypad)
	}
	b.buttons = mask
}

func (b *Bus) Read(addr uint16) byte {
	switch {
	case addr < 0x8000:
		return b.cart.Read(addr)
	case addr < 0xA000:
		return b.ppu.Read(addr)
	case addr < 0xC000:
		return b.cart.Read(addr)
	case addr < 0xE000:
		return b.wram[addr-0xC000]
	case addr < 0xFE00:
		return b.wram[addr-0xE000]
	case addr < 0xFEA0:
		if b.dmaActive {
			return 0xFF
		}
		return b.ppu.Read(addr)
	case addr < 0xFF00:
		// Unusable region.
		return 0xFF
	case addr == 0xFFFF:
		return b.ie
	case addr >= 0xFF80:
		return b.hram[addr-0xFF80]
	default:
		return b.readIO(addr)
	}
}

func (b *Bus) Write(addr uint16, value byte) {
	switch {
	case addr < 0x8000:
		b.cart.Write(addr, value)
	case addr < 0xA000:
		b.ppu.Write(addr, value)
	case addr < 0xC000:
		b.cart.Write(addr, value)
	case addr < 0xE000:
		b.wram[addr-0xC000] = value
	case addr < 0xFE00:
		b.wram[addr-0xE000] = value
	case addr < 0xFEA0:
		if b.dmaActive {
			return
		}
		b.ppu.Write(addr, value)
	case addr < 0xFF00:
		// Unusable region: writes dropped.
	case addr == 0xFFFF:
		b.ie = value
	case addr >= 0xFF80:
		b.hram[addr-0xFF80] = value
	default:
		b.writeIO(addr, value)
	}
}

// Read16 reads a little-endian word.
func (b *Bus) Read16(addr uint16) uint16 {
	lo := b.Read(addr)
	hi := b.Read(addr + 1)
	return uint16(hi)<<8 | uint16(lo)
}

// Write16 writes a little-endian word.
func (b *Bus) Write16(addr uint16, value uint16) {
	b.Write(addr, byte(value))
	b.Write(addr+1, byte(value>>8))
}

func (b *Bus) readIO(addr uint16) byte {
	switch addr {
	case 0xFF00:
		out := byte(0xC0) | b.joypSelect | 0x0F
		if b.joypSelect&0x10 == 0 { // d-pad selected
			out &^= (b.buttons >> 4) & 0x0F
		}
		if b.joypSelect&0x20 == 0 { // buttons selected
			out &^= b.buttons & 0x0F
		}
		return out
	case 0xFF01:
		return b.sb
	case 0xFF02:
		return b.sc | 0x7E
	case 0xFF04:
		return byte(b.divInternal >> 8)
	case 0xFF05:
		return b.tima
	case 0xFF06:
		return b.tma
	case 0xFF07:
		return 0xF8 | b.tac
	case 0xFF0F:
		return 0xE0 | (b.ifReg & 0x1F)
	case 0xFF46:
		return b.dmaReg
	default:
		if addr >= 0xFF40 && addr <= 0xFF4B {
			return b.ppu.Read(addr)
		}
		return 0xFF
	}
}

func (b *Bus) writeIO(addr uint16, value byte) {
	switch addr {
	case 0xFF00:
		b.joypSelect = value & 0x30
	case 0xFF01:
		b.sb = value
	case 0xFF02:
		if value&0x80 != 0 {
			// Transfers complete immediately: the byte goes out, the
			// busy bit clears and the serial interrupt fires.
			if b.serialW != nil {
				b.serialW.Write([]byte{b.sb})
			}
			b.sc = value &^ 0x80
			b.RequestInterrupt(IntSerial)
		} else {
			b.sc = value
		}
	case 0xFF04:
		// Resetting DIV can produce a falling edge on the selected bit.
		prev := b.timerInput()
		b.divInternal = 0
		if prev && !b.timerInput() {
			b.timaIncrement()
		}
	case 0xFF05:
		// A TIMA write during the reload delay cancels the reload.
		b.tima = value
		b.reloadPending = false
	case 0xFF06:
		b.tma = value
	case 0xFF07:
		prev := b.timerInput()
		b.tac = value & 0x07
		if prev && !b.timerInput() {
			b.timaIncrement()
		}
	case 0xFF0F:
		b.ifReg = value & 0x1F
	case 0xFF46:
		b.dmaReg = value
		b.dmaSrc = uint16(value) << 8
		b.dmaPos = 0
		b.dmaActive = true
	default:
		if addr >= 0xFF40 && addr <= 0xFF4B {
			b.ppu.Write(addr, value)
		}
	}
}

// Tick advances the timer and OAM DMA by the given number of cycles.
func (b *Bus) Tick(cycles int) {
	for i := 0; i < cycles; i++ {
		b.tickTimer()
		b.tickDMA()
	}
}

// timerInput is the TAC-selected divider bit ANDed with the enable.
func (b *Bus) timerInput() bool {
	if b.tac&0x04 == 0 {
		return false
	}
	var bit uint
	switch b.tac & 0x03 {
	case 0:
		bit = 9
	case 1:
		bit = 3
	case 2:
		bit = 5
	case 3:
		bit = 7
	}
	return b.divInternal&(1<<bit) != 0
}

// timaIncrement bumps TIMA on a falling edge. Edges during the pending
// reload window are swallowed.
func (b *Bus) timaIncrement() {
	if b.reloadPending {
		return
	}
	if b.tima == 0xFF {
		b.tima = 0
		b.reloadPending = true
		b.reloadDelay = 4
		return
	}
	b.tima++
}

func (b *Bus) tickTimer() {
	if b.reloadPending {
		b.reloadDelay--
		if b.reloadDelay == 0 {
			b.reloadPending = false
			b.tima = b.tma
			b.RequestInterrupt(IntTimer)
		}
	}
	prev := b.timerInput()
	b.divInternal++
	if prev && !b.timerInput() {
		b.timaIncrement()
	}
}

func (b *Bus) tickDMA() {
	if !b.dmaActive {
		return
	}
	b.ppu.LoadOAM(b.dmaPos, b.dmaRead(b.dmaSrc+uint16(b.dmaPos)))
	b.dmaPos++
	if b.dmaPos == 0xA0 {
		b.dmaActive = false
	}
}

// dmaRead fetches a DMA source byte, bypassing the PPU's CPU-side VRAM
// blocking.
func (b *Bus) dmaRead(addr uint16) byte {
	switch {
	case addr < 0x8000:
		return b.cart.Read(addr)
	case addr < 0xA000:
		return b.ppu.RawVRAM(addr)
	case addr < 0xC000:
		return b.cart.Read(addr)
	case addr < 0xE000:
		return b.wram[addr-0xC000]
	case addr < 0xFE00:
		return b.wram[addr-0xE000]
	default:
		return 0xFF
	}
}

type busState struct {
	WRAM [0x2000]byte
	HRAM [0x7F]byte

	IF, IE         byte
	JoypSelect     byte
	SB, SC         byte
	DivInternal    uint16
	TIMA, TMA, TAC byte
	ReloadPending  bool
	ReloadDelay    int
	DMAActive      bool
	DMASrc         uint16
	DMAPos         int
	DMAReg         byte
}

// SaveState serializes the bus-owned memory and IO state. The PPU and
// cartridge serialize themselves.
func (b *Bus) SaveState() []byte {
	var buf bytes.Buffer
	s := busState{
		WRAM: b.wram, HRAM: b.hram,
		IF: b.ifReg, IE: b.ie,
		JoypSelect:  b.joypSelect,
		SB:          b.sb,
		SC:          b.sc,
		DivInternal: b.divInternal,
		TIMA:        b.tima, TMA: b.tma, TAC: b.tac,
		ReloadPending: b.reloadPending, ReloadDelay: b.reloadDelay,
		DMAActive: b.dmaActive, DMASrc: b.dmaSrc, DMAPos: b.dmaPos, DMAReg: b.dmaReg,
	}
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

func (b *Bus) LoadState(data []byte) {
	var s busState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	b.wram, b.hram = s.WRAM, s.HRAM
	b.ifReg, b.ie = s.IF, s.IE
	b.joypSelect = s.JoypSelect
	b.sb, b.sc = s.SB, s.SC
	b.divInternal = s.DivInternal
	b.tima, b.tma, b.tac = s.TIMA, s.TMA, s.TAC
	b.reloadPending, b.reloadDelay = s.ReloadPending, s.ReloadDelay
	b.dmaActive, b.dmaSrc, b.dmaPos, b.dmaReg = s.DMAActive, s.DMASrc, s.DMAPos, s.DMAReg
}
