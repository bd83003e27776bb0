package emu

import (
	"bytes"
	"encoding/gob"
	"io"
	"os"

	"github.com/lboehm/dmgemu/internal/bus"
	"github.com/lboehm/dmgemu/internal/cart"
	"github.com/lboehm/dmgemu/internal/cpu"
	"github.com/lboehm/dmgemu/internal/ppu"
	"github.com/lboehm/dmgemu/internal/sched"
)

// Buttons is a snapshot of the eight joypad buttons.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

// Machine wires a loaded cartridge to the bus, CPU, PPU and scheduler and
// is the session-level facade the UI and CLI talk to.
type Machine struct {
	cfg Config
	fb  []byte // RGBA 160x144*4

	cart  cart.Cartridge
	bus   *bus.Bus
	cpu   *cpu.CPU
	ppu   *ppu.PPU
	sched *sched.Scheduler

	romPath string
}

// New builds a machine around a ROM image. Unsupported mapper types are
// rejected here, before the core loop ever starts.
func New(rom []byte, cfg Config) (*Machine, error) {
	crt, err := cart.New(rom)
	if err != nil {
		return nil, err
	}
	b := bus.New(crt)
	c := cpu.New(b)
	p := b.PPU()
	s := sched.New(c, p)
	s.LimitFPS = cfg.LimitFPS
	m := &Machine{
		cfg:   cfg,
		fb:    make([]byte, ppu.ScreenW*ppu.ScreenH*4),
		cart:  crt,
		bus:   b,
		cpu:   c,
		ppu:   p,
		sched: s,
	}
	m.applyPostBootIO()
	return m, nil
}

// NewFromFile loads a ROM image from disk.
func NewFromFile(path string, cfg Config) (*Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := New(data, cfg)
	if err != nil {
		return nil, err
	}
	m.romPath = path
	return m, nil
}

// ROMPath returns the file the cartridge was loaded from, if any. The UI
// uses it to derive battery and state file names.
func (m *Machine) ROMPath() string { return m.romPath }

// Reset restores post-boot CPU and IO state, keeping cartridge contents.
func (m *Machine) Reset() {
	m.cpu.Reset()
	m.applyPostBootIO()
}

// applyPostBootIO sets IO registers to the documented DMG post-boot
// defaults, so ROMs can start at 0x0100 without a boot ROM image and still
// have the LCD enabled.
func (m *Machine) applyPostBootIO() {
	b := m.bus
	b.Write(0xFF00, 0xCF) // joypad, no group selected
	b.Write(0xFF05, 0x00) // TIMA
	b.Write(0xFF06, 0x00) // TMA
	b.Write(0xFF07, 0x00) // TAC, timer disabled
	b.Write(0xFF40, 0x91) // LCDC: LCD on, BG on, tile data at 8000
	b.Write(0xFF42, 0x00) // SCY
	b.Write(0xFF43, 0x00) // SCX
	b.Write(0xFF45, 0x00) // LYC
	b.Write(0xFF47, 0xFC) // BGP
	b.Write(0xFF48, 0xFF) // OBP0
	b.Write(0xFF49, 0xFF) // OBP1
	b.Write(0xFF4A, 0x00) // WY
	b.Write(0xFF4B, 0x00) // WX
	b.Write(0xFFFF, 0x00) // IE
}

// StepFrame advances emulation by one video frame (the UI paces frames, so
// no sleeping happens here). Returns false once the core can make no
// further progress, which happens when the CPU hits an undefined opcode.
func (m *Machine) StepFrame() bool { return m.sched.RunFrame() }

// Run drives the machine in real time until stop closes or the core locks
// up, handing each completed frame to present.
func (m *Machine) Run(stop <-chan struct{}, present func(frame []byte)) {
	m.sched.Run(stop, present)
}

// CPUMode exposes the CPU run state so front ends can tell a locked core
// from a halted one.
func (m *Machine) CPUMode() cpu.Mode { return m.cpu.Mode() }

// Framebuffer returns the most recently completed frame as RGBA pixels.
// The returned slice is reused across calls and stays valid while the PPU
// renders the next frame into its other buffer.
func (m *Machine) Framebuffer() []byte {
	copy(m.fb, m.ppu.Frame())
	return m.fb
}

// SetButtons replaces the joypad state. Any held button also wakes a
// stopped CPU, the closest approximation of the hardware STOP exit.
func (m *Machine) SetButtons(bt Buttons) {
	var mask byte
	if bt.Right {
		mask |= bus.JoypRight
	}
	if bt.Left {
		mask |= bus.JoypLeft
	}
	if bt.Up {
		mask |= bus.JoypUp
	}
	if bt.Down {
		mask |= bus.JoypDown
	}
	if bt.A {
		mask |= bus.JoypA
	}
	if bt.B {
		mask |= bus.JoypB
	}
	if bt.Select {
		mask |= bus.JoypSelect
	}
	if bt.Start {
		mask |= bus.JoypStart
	}
	m.bus.SetJoypadState(mask)
	if mask != 0 {
		m.cpu.Wake()
	}
}

// SetSerialWriter connects an io.Writer to the serial port (FF01/FF02).
// Test ROMs report their results this way.
func (m *Machine) SetSerialWriter(w io.Writer) { m.bus.SetSerialWriter(w) }

// SaveBattery returns the external cartridge RAM image when the mapper is
// battery backed. The caller owns the file IO.
func (m *Machine) SaveBattery() ([]byte, bool) {
	bb, ok := m.cart.(cart.BatteryBacked)
	if !ok {
		return nil, false
	}
	data := bb.SaveRAM()
	if len(data) == 0 {
		return nil, false
	}
	return data, true
}

// LoadBattery restores external cartridge RAM from a previous SaveBattery.
func (m *Machine) LoadBattery(data []byte) bool {
	bb, ok := m.cart.(cart.BatteryBacked)
	if !ok || len(data) == 0 {
		return false
	}
	bb.LoadRAM(data)
	return true
}

type machineState struct {
	Cart []byte
	Bus  []byte
	PPU  []byte
	CPU  []byte
}

// SaveState serializes the whole session: cartridge banking and RAM, bus
// memory and IO, PPU and CPU.
func (m *Machine) SaveState() []byte {
	var buf bytes.Buffer
	s := machineState{
		Cart: m.cart.SaveState(),
		Bus:  m.bus.SaveState(),
		PPU:  m.ppu.SaveState(),
		CPU:  m.cpu.SaveState(),
	}
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

func (m *Machine) LoadState(data []byte) error {
	var s machineState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	m.cart.LoadState(s.Cart)
	m.bus.LoadState(s.Bus)
	m.ppu.LoadState(s.PPU)
	m.cpu.LoadState(s.CPU)
	return nil
}

func (m *Machine) SaveStateToFile(path string) error {
	return os.WriteFile(path, m.SaveState(), 0644)
}

func (m *Machine) LoadStateFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return m.LoadState(data)
}
