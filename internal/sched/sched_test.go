package sched

import "testing"

// fakeCPU returns a scripted sequence of Step costs, repeating the last
// entry forever.
type fakeCPU struct {
	costs []int
	steps int
}

func (f *fakeCPU) Step() int {
	i := f.steps
	if i >= len(f.costs) {
		i = len(f.costs) - 1
	}
	f.steps++
	return f.costs[i]
}

type fakePPU struct {
	budgets []int
	total   int
	readyAt int // mark a frame ready once total dots reach this, 0 = never
	ready   bool
	frame   []byte
}

func (f *fakePPU) Run(budget int) int {
	f.budgets = append(f.budgets, budget)
	f.total += budget
	if f.readyAt > 0 && f.total >= f.readyAt {
		f.ready = true
		f.readyAt = 0
	}
	return budget
}

func (f *fakePPU) FrameReady() bool {
	r := f.ready
	f.ready = false
	return r
}

func (f *fakePPU) Frame() []byte { return f.frame }

func TestTick_TieRunsCPUThenPPUCatchesUp(t *testing.T) {
	cpu := &fakeCPU{costs: []int{2}}
	ppu := &fakePPU{}
	s := New(cpu, ppu)

	// Debt tie at 0/0: the CPU goes first.
	if !s.Tick() {
		t.Fatal("tick should make progress")
	}
	if cpu.steps != 1 || len(ppu.budgets) != 0 {
		t.Fatalf("tie must run the CPU: steps=%d ppuRuns=%d", cpu.steps, len(ppu.budgets))
	}
	if s.cpuDebt != 8 {
		t.Fatalf("cpuDebt got %d want 8 (2 machine cycles)", s.cpuDebt)
	}

	// Now the PPU is behind and gets exactly the gap.
	s.Tick()
	if len(ppu.budgets) != 1 || ppu.budgets[0] != 8 {
		t.Fatalf("PPU budget got %v want [8]", ppu.budgets)
	}
	if s.ppuDebt != s.cpuDebt {
		t.Fatalf("debts should be level after catch-up: cpu=%d ppu=%d", s.cpuDebt, s.ppuDebt)
	}
}

func TestTick_NeverRunsTheAheadEngine(t *testing.T) {
	cpu := &fakeCPU{costs: []int{1, 3, 2, 6, 1, 4}}
	ppu := &fakePPU{}
	s := New(cpu, ppu)

	for i := 0; i < 200; i++ {
		cpuBefore, ppuBefore := s.cpuDebt, s.ppuDebt
		stepsBefore := cpu.steps
		if !s.Tick() {
			t.Fatal("tick should make progress")
		}
		ranCPU := cpu.steps > stepsBefore
		if ranCPU && cpuBefore > ppuBefore {
			t.Fatalf("tick %d ran the CPU while ahead: cpu=%d ppu=%d", i, cpuBefore, ppuBefore)
		}
		if !ranCPU && ppuBefore >= cpuBefore {
			t.Fatalf("tick %d ran the PPU while not behind: cpu=%d ppu=%d", i, cpuBefore, ppuBefore)
		}
	}
}

func TestTick_NoProgressOnLockedCPU(t *testing.T) {
	cpu := &fakeCPU{costs: []int{4, 0}}
	ppu := &fakePPU{}
	s := New(cpu, ppu)

	if !s.Tick() { // CPU runs once, 16 dots of debt
		t.Fatal("first tick should progress")
	}
	if !s.Tick() { // PPU catches up
		t.Fatal("second tick should progress")
	}
	// Debts level, CPU turn, Step returns 0: stuck.
	if s.Tick() {
		t.Fatal("tick must report no progress once the locked CPU is due")
	}
	if s.Tick() {
		t.Fatal("no-progress state must be stable")
	}
}

func TestRunFrame_StopsWhenFrameReady(t *testing.T) {
	cpu := &fakeCPU{costs: []int{2}}
	ppu := &fakePPU{readyAt: 1000}
	s := New(cpu, ppu)

	if !s.RunFrame() {
		t.Fatal("RunFrame should report progress")
	}
	if ppu.total < 1000 {
		t.Fatalf("frame reported before enough dots ran: %d", ppu.total)
	}
	if ppu.total >= frameDots {
		t.Fatalf("RunFrame overshot a ready frame: %d dots", ppu.total)
	}
	// The ready flag was consumed by RunFrame itself.
	if ppu.FrameReady() {
		t.Fatal("frame-ready flag should have been consumed")
	}
}

func TestRunFrame_BoundedWithoutFrames(t *testing.T) {
	// A PPU that never signals a frame (LCD off) must not spin forever.
	cpu := &fakeCPU{costs: []int{2}}
	ppu := &fakePPU{}
	s := New(cpu, ppu)

	if !s.RunFrame() {
		t.Fatal("RunFrame should report progress")
	}
	if ppu.total < frameDots {
		t.Fatalf("gave up early: %d dots want >= %d", ppu.total, frameDots)
	}
	if ppu.total > frameDots+64 {
		t.Fatalf("ran far past one frame: %d dots", ppu.total)
	}
}

func TestRunFrame_FalseOnLockedCPU(t *testing.T) {
	cpu := &fakeCPU{costs: []int{0}}
	ppu := &fakePPU{}
	s := New(cpu, ppu)
	if s.RunFrame() {
		t.Fatal("RunFrame must report no progress for a locked core")
	}
}

func TestRun_PresentsFramesUntilStopped(t *testing.T) {
	cpu := &fakeCPU{costs: []int{2}}
	ppu := &fakePPU{readyAt: 500, frame: []byte{1, 2, 3}}
	s := New(cpu, ppu)

	stop := make(chan struct{})
	frames := 0
	s.Run(stop, func(frame []byte) {
		if len(frame) != 3 {
			t.Errorf("present got %d bytes want 3", len(frame))
		}
		frames++
		ppu.readyAt = ppu.total + 500 // arm the next frame
		if frames == 3 {
			close(stop)
		}
	})
	if frames != 3 {
		t.Fatalf("presented %d frames want 3", frames)
	}
}

func TestRun_ReturnsOnLockedCPU(t *testing.T) {
	cpu := &fakeCPU{costs: []int{0}}
	ppu := &fakePPU{}
	s := New(cpu, ppu)
	s.Run(make(chan struct{}), func([]byte) {
		t.Fatal("no frame should be presented by a locked core")
	})
}
