// Package sched interleaves the CPU and PPU engines with a cycle-debt
// scheduler and paces completed frames to the hardware refresh rate.
package sched

import "time"

// Dots per frame, the DMG master clock in Hz, and the resulting frame
// period (~16.742 ms, 59.7 Hz).
const (
	frameDots   = 70224
	clockHz     = 4194304
	framePeriod = time.Duration(frameDots) * time.Second / clockHz
)

// CPU is the instruction engine. Step executes one instruction or
// interrupt dispatch and returns its cost in machine cycles; a locked
// core returns 0.
type CPU interface {
	Step() int
}

// PPU is the video engine. Run consumes up to budget dots and returns how
// many it actually consumed.
type PPU interface {
	Run(budget int) int
	FrameReady() bool
	Frame() []byte
}

// Scheduler tracks how many T-cycles each engine has consumed and always
// runs the one that has fallen behind. Both counters only ever grow; they
// are reset when the session starts, never during it.
type Scheduler struct {
	cpu CPU
	ppu PPU

	cpuDebt uint64
	ppuDebt uint64

	// LimitFPS makes Run sleep out the remainder of each frame period.
	LimitFPS bool
}

func New(cpu CPU, ppu PPU) *Scheduler {
	return &Scheduler{cpu: cpu, ppu: ppu}
}

// Tick runs whichever engine is behind, CPU on a tie, and charges the
// consumed cycles to its debt counter. CPU costs are machine cycles and are
// scaled to T-cycles here; the PPU is granted exactly the debt gap, so it
// can never overtake the CPU. Returns false when no progress is possible,
// which happens once a locked CPU has been caught up by the PPU.
func (s *Scheduler) Tick() bool {
	if s.cpuDebt <= s.ppuDebt {
		m := s.cpu.Step()
		if m == 0 {
			return false
		}
		s.cpuDebt += uint64(m) * 4
		return true
	}
	s.ppuDebt += uint64(s.ppu.Run(int(s.cpuDebt - s.ppuDebt)))
	return true
}

// RunFrame ticks until the PPU completes a frame. With the LCD disabled no
// frame ever completes, so it gives up after one frame's worth of dots to
// keep callers from spinning. Returns false when the core can make no
// further progress.
func (s *Scheduler) RunFrame() bool {
	start := s.ppuDebt
	for {
		if !s.Tick() {
			return false
		}
		if s.ppu.FrameReady() {
			return true
		}
		if s.ppuDebt-start >= frameDots {
			return true
		}
	}
}

// Run drives the core in real time until stop closes or the core locks up.
// Each completed frame is handed to present before pacing; when emulation
// falls behind the 59.7 Hz cadence the next frame starts immediately, work
// is never dropped to catch up.
func (s *Scheduler) Run(stop <-chan struct{}, present func(frame []byte)) {
	next := time.Now()
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !s.RunFrame() {
			return
		}
		if present != nil {
			present(s.ppu.Frame())
		}
		if !s.LimitFPS {
			continue
		}
		next = next.Add(framePeriod)
		wait := time.Until(next)
		if wait <= 0 {
			// Overran the frame period; restart the cadence from now.
			next = time.Now()
			continue
		}
		t := time.NewTimer(wait)
		select {
		case <-stop:
			t.Stop()
			return
		case <-t.C:
		}
	}
}
