package cpu

import (
	"log"

	"github.com/lboehm/dmgemu/internal/bus"
)

// Mode is the execution state of the CPU.
type Mode int

const (
	// ModeRunning executes instructions normally.
	ModeRunning Mode = iota
	// ModeHalted idles until an interrupt is pending (HALT).
	ModeHalted
	// ModeStopped idles until Wake is called (STOP).
	ModeStopped
	// ModeLocked is entered on an undefined opcode and is permanent.
	ModeLocked
)

func (m Mode) String() string {
	switch m {
	case ModeRunning:
		return "running"
	case ModeHalted:
		return "halted"
	case ModeStopped:
		return "stopped"
	case ModeLocked:
		return "locked"
	}
	return "unknown"
}

// Flag bits in F.
const (
	flagZ byte = 1 << 7
	flagN byte = 1 << 6
	flagH byte = 1 << 5
	flagC byte = 1 << 4
)

// Interrupt vectors start at 0x0040, 8 bytes apart, in IF/IE bit order.
const (
	vectorBase   = 0x0040
	dispatchCost = 5 // machine cycles for an interrupt dispatch
)

// CPU is an SM83 core. All instruction costs are in machine cycles
// (1 M-cycle = 4 clock cycles); Step forwards the elapsed clock cycles to
// the bus peripherals.
type CPU struct {
	A, F byte
	B, C byte
	D, E byte
	H, L byte

	SP uint16
	PC uint16

	IME bool

	mode      Mode
	eiPending bool

	bus *bus.Bus
}

func New(b *bus.Bus) *CPU {
	c := &CPU{bus: b}
	c.Reset()
	return c
}

// Reset restores the post-boot DMG register file and starts execution at
// the cartridge entry point.
func (c *CPU) Reset() {
	c.A, c.F = 0x01, 0xB0
	c.B, c.C = 0x00, 0x13
	c.D, c.E = 0x00, 0xD8
	c.H, c.L = 0x01, 0x4D
	c.SP = 0xFFFE
	c.PC = 0x0100
	c.IME = false
	c.mode = ModeRunning
	c.eiPending = false
}

// Mode returns the current execution state.
func (c *CPU) Mode() Mode { return c.mode }

// Wake leaves the stopped state. External input (a button press) calls
// this.
func (c *CPU) Wake() {
	if c.mode == ModeStopped {
		c.mode = ModeRunning
	}
}

// pending returns the set of interrupts that are both requested and
// enabled.
func (c *CPU) pending() byte {
	return c.bus.Read(0xFFFF) & c.bus.Read(0xFF0F) & 0x1F
}

// Step executes one instruction or interrupt dispatch and returns its cost
// in machine cycles. Halted and stopped states idle at one cycle per call;
// a locked core returns 0 and does nothing.
func (c *CPU) Step() int {
	cycles := c.step()
	if cycles > 0 {
		c.bus.Tick(cycles * 4)
	}
	return cycles
}

func (c *CPU) step() int {
	switch c.mode {
	case ModeLocked:
		return 0
	case ModeStopped:
		return 1
	case ModeHalted:
		if c.pending() == 0 {
			return 1
		}
		// A pending interrupt always leaves HALT and is dispatched, IME
		// notwithstanding.
		c.mode = ModeRunning
		return c.dispatchInterrupt()
	}

	if c.IME && c.pending() != 0 {
		return c.dispatchInterrupt()
	}

	// EI takes effect after the instruction that follows it.
	enableIME := c.eiPending
	op := c.fetch8()
	cycles := c.execute(op)
	if enableIME && c.eiPending {
		c.eiPending = false
		c.IME = true
	}
	return cycles
}

// dispatchInterrupt services the highest-priority pending interrupt:
// acknowledge the IF bit, clear IME, push PC and jump to the vector.
func (c *CPU) dispatchInterrupt() int {
	pending := c.pending()
	bit := 0
	for ; bit < 5; bit++ {
		if pending&(1<<bit) != 0 {
			break
		}
	}
	ifReg := c.bus.Read(0xFF0F)
	c.bus.Write(0xFF0F, ifReg&^(1<<bit))
	c.IME = false
	c.push16(c.PC)
	c.PC = vectorBase + uint16(bit)*8
	return dispatchCost
}

// lock parks the core permanently; op was fetched from addr.
func (c *CPU) lock(op byte, addr uint16) int {
	log.Printf("cpu: undefined opcode %#02x at %#04x, core locked", op, addr)
	c.mode = ModeLocked
	return 0
}

func (c *CPU) fetch8() byte {
	v := c.bus.Read(c.PC)
	c.PC++
	return v
}

func (c *CPU) fetch16() uint16 {
	lo := c.fetch8()
	hi := c.fetch8()
	return uint16(hi)<<8 | uint16(lo)
}

// 16-bit register pairs.
func (c *CPU) getBC() uint16 { return uint16(c.B)<<8 | uint16(c.C) }
func (c *CPU) getDE() uint16 { return uint16(c.D)<<8 | uint16(c.E) }
func (c *CPU) getHL() uint16 { return uint16(c.H)<<8 | uint16(c.L) }
func (c *CPU) getAF() uint16 { return uint16(c.A)<<8 | uint16(c.F&0xF0) }

func (c *CPU) setBC(v uint16) { c.B, c.C = byte(v>>8), byte(v) }
func (c *CPU) setDE(v uint16) { c.D, c.E = byte(v>>8), byte(v) }
func (c *CPU) setHL(v uint16) { c.H, c.L = byte(v>>8), byte(v) }
func (c *CPU) setAF(v uint16) { c.A, c.F = byte(v>>8), byte(v)&0xF0 }

func (c *CPU) push16(v uint16) {
	c.SP -= 2
	c.bus.Write16(c.SP, v)
}

func (c *CPU) pop16() uint16 {
	v := c.bus.Read16(c.SP)
	c.SP += 2
	return v
}

// reg8 reads the 8-bit register selected by the standard operand encoding;
// index 6 is memory at HL.
func (c *CPU) reg8(i byte) byte {
	switch i & 7 {
	case 0:
		return c.B
	case 1:
		return c.C
	case 2:
		return c.D
	case 3:
		return c.E
	case 4:
		return c.H
	case 5:
		return c.L
	case 6:
		return c.bus.Read(c.getHL())
	default:
		return c.A
	}
}

func (c *CPU) setReg8(i, v byte) {
	switch i & 7 {
	case 0:
		c.B = v
	case 1:
		c.C = v
	case 2:
		c.D = v
	case 3:
		c.E = v
	case 4:
		c.H = v
	case 5:
		c.L = v
	case 6:
		c.bus.Write(c.getHL(), v)
	default:
		c.A = v
	}
}

func (c *CPU) setFlags(z, n, h, cy bool) {
	var f byte
	if z {
		f |= flagZ
	}
	if n {
		f |= flagN
	}
	if h {
		f |= flagH
	}
	if cy {
		f |= flagC
	}
	c.F = f
}

// cond evaluates the standard condition encoding NZ, Z, NC, C.
func (c *CPU) cond(i byte) bool {
	switch i & 3 {
	case 0:
		return c.F&flagZ == 0
	case 1:
		return c.F&flagZ != 0
	case 2:
		return c.F&flagC == 0
	default:
		return c.F&flagC != 0
	}
}

// --- 8-bit ALU ---

func (c *CPU) add8(v byte, useCarry bool) {
	var ci byte
	if useCarry && c.F&flagC != 0 {
		ci = 1
	}
	r := uint16(c.A) + uint16(v) + uint16(ci)
	h := c.A&0xF+v&0xF+ci > 0xF
	c.A = byte(r)
	c.setFlags(c.A == 0, false, h, r > 0xFF)
}

// sub8 implements SUB/SBC/CP; CP discards the result.
func (c *CPU) sub8(v byte, useCarry, store bool) {
	var ci byte
	if useCarry && c.F&flagC != 0 {
		ci = 1
	}
	r := int(c.A) - int(v) - int(ci)
	h := int(c.A&0xF)-int(v&0xF)-int(ci) < 0
	res := byte(r)
	c.setFlags(res == 0, true, h, r < 0)
	if store {
		c.A = res
	}
}

func (c *CPU) and8(v byte) {
	c.A &= v
	c.setFlags(c.A == 0, false, true, false)
}

func (c *CPU) xor8(v byte) {
	c.A ^= v
	c.setFlags(c.A == 0, false, false, false)
}

func (c *CPU) or8(v byte) {
	c.A |= v
	c.setFlags(c.A == 0, false, false, false)
}

// alu dispatches the standard ALU operation encoding (bits 3-5 of the
// opcode): ADD, ADC, SUB, SBC, AND, XOR, OR, CP.
func (c *CPU) alu(sel, v byte) {
	switch sel & 7 {
	case 0:
		c.add8(v, false)
	case 1:
		c.add8(v, true)
	case 2:
		c.sub8(v, false, true)
	case 3:
		c.sub8(v, true, true)
	case 4:
		c.and8(v)
	case 5:
		c.xor8(v)
	case 6:
		c.or8(v)
	case 7:
		c.sub8(v, false, false)
	}
}

// inc8/dec8 leave the carry flag alone.
func (c *CPU) inc8(v byte) byte {
	r := v + 1
	f := c.F & flagC
	if r == 0 {
		f |= flagZ
	}
	if v&0xF == 0xF {
		f |= flagH
	}
	c.F = f
	return r
}

func (c *CPU) dec8(v byte) byte {
	r := v - 1
	f := c.F&flagC | flagN
	if r == 0 {
		f |= flagZ
	}
	if v&0xF == 0 {
		f |= flagH
	}
	c.F = f
	return r
}

// --- 16-bit ALU ---

func (c *CPU) addHL(v uint16) {
	hl := c.getHL()
	r := uint32(hl) + uint32(v)
	f := c.F & flagZ
	if hl&0x0FFF+v&0x0FFF > 0x0FFF {
		f |= flagH
	}
	if r > 0xFFFF {
		f |= flagC
	}
	c.F = f
	c.setHL(uint16(r))
}

// addSP computes SP+e for ADD SP,e and LD HL,SP+e; flags come from the
// unsigned low-byte addition regardless of the sign of e.
func (c *CPU) addSP(d int8) uint16 {
	r := uint16(int32(c.SP) + int32(d))
	ud := uint16(uint8(d))
	h := c.SP&0xF+ud&0xF > 0xF
	cy := c.SP&0xFF+ud&0xFF > 0xFF
	c.setFlags(false, false, h, cy)
	return r
}

// --- rotates on A (Z always cleared) ---

func (c *CPU) rlca() {
	cy := c.A >> 7
	c.A = c.A<<1 | cy
	c.setFlags(false, false, false, cy != 0)
}

func (c *CPU) rrca() {
	cy := c.A & 1
	c.A = c.A>>1 | cy<<7
	c.setFlags(false, false, false, cy != 0)
}

func (c *CPU) rla() {
	var ci byte
	if c.F&flagC != 0 {
		ci = 1
	}
	cy := c.A >> 7
	c.A = c.A<<1 | ci
	c.setFlags(false, false, false, cy != 0)
}

func (c *CPU) rra() {
	var ci byte
	if c.F&flagC != 0 {
		ci = 1
	}
	cy := c.A & 1
	c.A = c.A>>1 | ci<<7
	c.setFlags(false, false, false, cy != 0)
}

func (c *CPU) daa() {
	a := c.A
	n := c.F&flagN != 0
	carry := c.F&flagC != 0
	if !n {
		if carry || a > 0x99 {
			a += 0x60
			carry = true
		}
		if c.F&flagH != 0 || a&0x0F > 0x09 {
			a += 0x06
		}
	} else {
		if carry {
			a -= 0x60
		}
		if c.F&flagH != 0 {
			a -= 0x06
		}
	}
	c.A = a
	c.setFlags(a == 0, n, false, carry)
}

// execute runs one opcode and returns its machine-cycle cost.
func (c *CPU) execute(op byte) int {
	// LD r,r' block (0x40-0x7F, 0x76 is HALT).
	if op >= 0x40 && op <= 0x7F && op != 0x76 {
		d := (op >> 3) & 7
		s := op & 7
		c.setReg8(d, c.reg8(s))
		if d == 6 || s == 6 {
			return 2
		}
		return 1
	}
	// ALU A,r block (0x80-0xBF).
	if op >= 0x80 && op <= 0xBF {
		c.alu((op>>3)&7, c.reg8(op&7))
		if op&7 == 6 {
			return 2
		}
		return 1
	}

	switch op {
	case 0x00: // NOP
		return 1
	case 0x10: // STOP
		c.fetch8() // the padding byte
		c.mode = ModeStopped
		return 1
	case 0x76: // HALT
		c.mode = ModeHalted
		return 1

	// 16-bit immediate loads.
	case 0x01:
		c.setBC(c.fetch16())
		return 3
	case 0x11:
		c.setDE(c.fetch16())
		return 3
	case 0x21:
		c.setHL(c.fetch16())
		return 3
	case 0x31:
		c.SP = c.fetch16()
		return 3

	// A <-> memory through register pairs.
	case 0x02:
		c.bus.Write(c.getBC(), c.A)
		return 2
	case 0x12:
		c.bus.Write(c.getDE(), c.A)
		return 2
	case 0x22:
		hl := c.getHL()
		c.bus.Write(hl, c.A)
		c.setHL(hl + 1)
		return 2
	case 0x32:
		hl := c.getHL()
		c.bus.Write(hl, c.A)
		c.setHL(hl - 1)
		return 2
	case 0x0A:
		c.A = c.bus.Read(c.getBC())
		return 2
	case 0x1A:
		c.A = c.bus.Read(c.getDE())
		return 2
	case 0x2A:
		hl := c.getHL()
		c.A = c.bus.Read(hl)
		c.setHL(hl + 1)
		return 2
	case 0x3A:
		hl := c.getHL()
		c.A = c.bus.Read(hl)
		c.setHL(hl - 1)
		return 2

	// 16-bit inc/dec.
	case 0x03:
		c.setBC(c.getBC() + 1)
		return 2
	case 0x13:
		c.setDE(c.getDE() + 1)
		return 2
	case 0x23:
		c.setHL(c.getHL() + 1)
		return 2
	case 0x33:
		c.SP++
		return 2
	case 0x0B:
		c.setBC(c.getBC() - 1)
		return 2
	case 0x1B:
		c.setDE(c.getDE() - 1)
		return 2
	case 0x2B:
		c.setHL(c.getHL() - 1)
		return 2
	case 0x3B:
		c.SP--
		return 2

	// 8-bit inc/dec.
	case 0x04:
		c.B = c.inc8(c.B)
		return 1
	case 0x0C:
		c.C = c.inc8(c.C)
		return 1
	case 0x14:
		c.D = c.inc8(c.D)
		return 1
	case 0x1C:
		c.E = c.inc8(c.E)
		return 1
	case 0x24:
		c.H = c.inc8(c.H)
		return 1
	case 0x2C:
		c.L = c.inc8(c.L)
		return 1
	case 0x34:
		hl := c.getHL()
		c.bus.Write(hl, c.inc8(c.bus.Read(hl)))
		return 3
	case 0x3C:
		c.A = c.inc8(c.A)
		return 1
	case 0x05:
		c.B = c.dec8(c.B)
		return 1
	case 0x0D:
		c.C = c.dec8(c.C)
		return 1
	case 0x15:
		c.D = c.dec8(c.D)
		return 1
	case 0x1D:
		c.E = c.dec8(c.E)
		return 1
	case 0x25:
		c.H = c.dec8(c.H)
		return 1
	case 0x2D:
		c.L = c.dec8(c.L)
		return 1
	case 0x35:
		hl := c.getHL()
		c.bus.Write(hl, c.dec8(c.bus.Read(hl)))
		return 3
	case 0x3D:
		c.A = c.dec8(c.A)
		return 1

	// 8-bit immediate loads.
	case 0x06:
		c.B = c.fetch8()
		return 2
	case 0x0E:
		c.C = c.fetch8()
		return 2
	case 0x16:
		c.D = c.fetch8()
		return 2
	case 0x1E:
		c.E = c.fetch8()
		return 2
	case 0x26:
		c.H = c.fetch8()
		return 2
	case 0x2E:
		c.L = c.fetch8()
		return 2
	case 0x36:
		c.bus.Write(c.getHL(), c.fetch8())
		return 3
	case 0x3E:
		c.A = c.fetch8()
		return 2

	// Rotates on A and flag ops.
	case 0x07:
		c.rlca()
		return 1
	case 0x0F:
		c.rrca()
		return 1
	case 0x17:
		c.rla()
		return 1
	case 0x1F:
		c.rra()
		return 1
	case 0x27:
		c.daa()
		return 1
	case 0x2F: // CPL
		c.A = ^c.A
		c.F |= flagN | flagH
		return 1
	case 0x37: // SCF
		c.F = c.F&flagZ | flagC
		return 1
	case 0x3F: // CCF
		c.F = c.F&flagZ | (c.F & flagC) ^ flagC
		return 1

	case 0x08: // LD (a16),SP
		c.bus.Write16(c.fetch16(), c.SP)
		return 5

	// ADD HL,rr.
	case 0x09:
		c.addHL(c.getBC())
		return 2
	case 0x19:
		c.addHL(c.getDE())
		return 2
	case 0x29:
		c.addHL(c.getHL())
		return 2
	case 0x39:
		c.addHL(c.SP)
		return 2

	// Relative jumps.
	case 0x18:
		d := int8(c.fetch8())
		c.PC = uint16(int32(c.PC) + int32(d))
		return 3
	case 0x20, 0x28, 0x30, 0x38:
		d := int8(c.fetch8())
		if c.cond((op >> 3) & 3) {
			c.PC = uint16(int32(c.PC) + int32(d))
			return 3
		}
		return 2

	// Conditional returns.
	case 0xC0, 0xC8, 0xD0, 0xD8:
		if c.cond((op >> 3) & 3) {
			c.PC = c.pop16()
			return 5
		}
		return 2

	// Stack ops.
	case 0xC1:
		c.setBC(c.pop16())
		return 3
	case 0xD1:
		c.setDE(c.pop16())
		return 3
	case 0xE1:
		c.setHL(c.pop16())
		return 3
	case 0xF1:
		c.setAF(c.pop16())
		return 3
	case 0xC5:
		c.push16(c.getBC())
		return 4
	case 0xD5:
		c.push16(c.getDE())
		return 4
	case 0xE5:
		c.push16(c.getHL())
		return 4
	case 0xF5:
		c.push16(c.getAF())
		return 4

	// Absolute jumps.
	case 0xC3:
		c.PC = c.fetch16()
		return 4
	case 0xC2, 0xCA, 0xD2, 0xDA:
		addr := c.fetch16()
		if c.cond((op >> 3) & 3) {
			c.PC = addr
			return 4
		}
		return 3
	case 0xE9: // JP HL
		c.PC = c.getHL()
		return 1

	// Calls and returns.
	case 0xCD:
		addr := c.fetch16()
		c.push16(c.PC)
		c.PC = addr
		return 6
	case 0xC4, 0xCC, 0xD4, 0xDC:
		addr := c.fetch16()
		if c.cond((op >> 3) & 3) {
			c.push16(c.PC)
			c.PC = addr
			return 6
		}
		return 3
	case 0xC9:
		c.PC = c.pop16()
		return 4
	case 0xD9: // RETI enables interrupts immediately
		c.PC = c.pop16()
		c.IME = true
		return 4

	// Restarts.
	case 0xC7, 0xCF, 0xD7, 0xDF, 0xE7, 0xEF, 0xF7, 0xFF:
		c.push16(c.PC)
		c.PC = uint16(op & 0x38)
		return 4

	// ALU with immediate.
	case 0xC6, 0xCE, 0xD6, 0xDE, 0xE6, 0xEE, 0xF6, 0xFE:
		c.alu((op>>3)&7, c.fetch8())
		return 2

	// High-page loads.
	case 0xE0:
		c.bus.Write(0xFF00+uint16(c.fetch8()), c.A)
		return 3
	case 0xF0:
		c.A = c.bus.Read(0xFF00 + uint16(c.fetch8()))
		return 3
	case 0xE2:
		c.bus.Write(0xFF00+uint16(c.C), c.A)
		return 2
	case 0xF2:
		c.A = c.bus.Read(0xFF00 + uint16(c.C))
		return 2
	case 0xEA:
		c.bus.Write(c.fetch16(), c.A)
		return 4
	case 0xFA:
		c.A = c.bus.Read(c.fetch16())
		return 4

	// SP arithmetic.
	case 0xE8:
		c.SP = c.addSP(int8(c.fetch8()))
		return 4
	case 0xF8:
		c.setHL(c.addSP(int8(c.fetch8())))
		return 3
	case 0xF9:
		c.SP = c.getHL()
		return 2

	// Interrupt master enable.
	case 0xF3:
		c.IME = false
		c.eiPending = false
		return 1
	case 0xFB:
		c.eiPending = true
		return 1

	case 0xCB:
		return c.executeCB(c.fetch8())

	default:
		// 0xD3, 0xDB, 0xDD, 0xE3, 0xE4, 0xEB-0xED, 0xF4, 0xFC, 0xFD.
		return c.lock(op, c.PC-1)
	}
}

// executeCB runs a CB-prefixed opcode: rotates/shifts, BIT, RES, SET.
func (c *CPU) executeCB(cb byte) int {
	reg := cb & 7
	y := (cb >> 3) & 7
	v := c.reg8(reg)

	switch cb >> 6 {
	case 0: // rotate/shift group selected by y
		var r byte
		var cy bool
		switch y {
		case 0: // RLC
			r = v<<1 | v>>7
			cy = v&0x80 != 0
		case 1: // RRC
			r = v>>1 | v<<7
			cy = v&1 != 0
		case 2: // RL
			r = v << 1
			if c.F&flagC != 0 {
				r |= 1
			}
			cy = v&0x80 != 0
		case 3: // RR
			r = v >> 1
			if c.F&flagC != 0 {
				r |= 0x80
			}
			cy = v&1 != 0
		case 4: // SLA
			r = v << 1
			cy = v&0x80 != 0
		case 5: // SRA
			r = v>>1 | v&0x80
			cy = v&1 != 0
		case 6: // SWAP
			r = v<<4 | v>>4
		case 7: // SRL
			r = v >> 1
			cy = v&1 != 0
		}
		c.setReg8(reg, r)
		c.setFlags(r == 0, false, false, cy)
		if reg == 6 {
			return 4
		}
		return 2

	case 1: // BIT y,r: only reads, so (HL) costs one cycle less
		z := v&(1<<y) == 0
		c.F = c.F&flagC | flagH
		if z {
			c.F |= flagZ
		}
		if reg == 6 {
			return 3
		}
		return 2

	case 2: // RES
		c.setReg8(reg, v&^(1<<y))
		if reg == 6 {
			return 4
		}
		return 2

	default: // SET
		c.setReg8(reg, v|1<<y)
		if reg == 6 {
			return 4
		}
		return 2
	}
}
