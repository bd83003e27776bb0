package ppu

import (
	"bytes"
	"encoding/gob"
)

// InterruptRequester is a callback to raise IF bits (0: VBlank, 1: STAT).
type InterruptRequester func(bit int)

// Mode is the PPU mode as encoded in STAT bits 0-1.
type Mode byte

const (
	ModeHBlank    Mode = 0
	ModeVBlank    Mode = 1
	ModeOAMScan   Mode = 2
	ModePixelDraw Mode = 3
)

// Timing in dots (one dot = one 4MiHz cycle). A line is always 456 dots and
// a frame 154 lines.
const (
	oamScanDots   = 80
	pixelDrawDots = 172
	hblankDots    = 204
	lineDots      = 456
	visibleLines  = 144
	totalLines    = 154

	// FrameDots is the length of a complete frame.
	FrameDots = lineDots * totalLines
)

// Screen dimensions in pixels.
const (
	ScreenW = 160
	ScreenH = 144
)

// PPU models VRAM/OAM, the LCD registers, and mode timing. It is advanced by
// the scheduler through Run with a dot budget; all mode transitions, line
// rendering and interrupt requests happen when the current mode's dot
// counter is exhausted, never in the middle of a mode.
type PPU struct {
	vram [0x2000]byte // 0x8000-0x9FFF
	oam  [0xA0]byte   // 0xFE00-0xFE9F

	lcdc byte // FF40
	stat byte // FF41 (bit2 coincidence, bits3-6 enables; mode kept separately)
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	mode      Mode
	remaining int // dots left in the current mode

	// Internal window line counter; advances only on lines where the
	// window was actually drawn.
	winLine byte

	req InterruptRequester

	// Double-buffered RGBA output. renderLine paints into back; the
	// buffers swap when the frame completes at the start of VBlank.
	front, back []byte
	frameReady  bool
}

func New(req InterruptRequester) *PPU {
	p := &PPU{
		req:       req,
		mode:      ModeOAMScan,
		remaining: oamScanDots,
		front:     make([]byte, ScreenW*ScreenH*4),
		back:      make([]byte, ScreenW*ScreenH*4),
	}
	return p
}

// Run advances the PPU by at most budget dots and returns the number of dots
// actually consumed. It never crosses a mode boundary within a call beyond
// the one that ends the current mode, so every transition effect lands on
// the exact dot it is due. With the LCD disabled the budget is consumed
// idly.
func (p *PPU) Run(budget int) int {
	if budget <= 0 {
		return 0
	}
	if p.lcdc&0x80 == 0 {
		return budget
	}
	n := budget
	if n > p.remaining {
		n = p.remaining
	}
	p.remaining -= n
	if p.remaining == 0 {
		p.advance()
	}
	return n
}

// advance performs the transition out of the just-finished mode.
func (p *PPU) advance() {
	switch p.mode {
	case ModeOAMScan:
		p.setMode(ModePixelDraw, pixelDrawDots)
	case ModePixelDraw:
		p.renderLine()
		p.setMode(ModeHBlank, hblankDots)
	case ModeHBlank:
		p.ly++
		p.updateLYC()
		if p.ly == visibleLines {
			p.swapBuffers()
			if p.req != nil {
				p.req(0)
			}
			p.setMode(ModeVBlank, lineDots)
		} else {
			p.setMode(ModeOAMScan, oamScanDots)
		}
	case ModeVBlank:
		p.ly++
		if p.ly == totalLines {
			p.ly = 0
			p.winLine = 0
			p.updateLYC()
			p.setMode(ModeOAMScan, oamScanDots)
		} else {
			p.updateLYC()
			p.remaining = lineDots
		}
	}
}

func (p *PPU) setMode(mode Mode, dots int) {
	p.mode = mode
	p.remaining = dots
	switch mode {
	case ModeHBlank:
		if p.stat&(1<<3) != 0 && p.req != nil {
			p.req(1)
		}
	case ModeVBlank:
		if p.stat&(1<<4) != 0 && p.req != nil {
			p.req(1)
		}
	case ModeOAMScan:
		if p.stat&(1<<5) != 0 && p.req != nil {
			p.req(1)
		}
	}
}

func (p *PPU) updateLYC() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
		if p.stat&(1<<6) != 0 && p.req != nil {
			p.req(1)
		}
	} else {
		p.stat &^= 1 << 2
	}
}

func (p *PPU) swapBuffers() {
	p.front, p.back = p.back, p.front
	p.frameReady = true
}

// FrameReady reports whether a frame completed since the last call and
// clears the flag, so a presenter polling it sees each frame exactly once.
func (p *PPU) FrameReady() bool {
	r := p.frameReady
	p.frameReady = false
	return r
}

// Frame returns the most recently completed frame as RGBA bytes
// (160*144*4). The slice is reused; callers must not hold it across frames.
func (p *PPU) Frame() []byte { return p.front }

// Mode returns the current PPU mode.
func (p *PPU) Mode() Mode {
	if p.lcdc&0x80 == 0 {
		return ModeHBlank
	}
	return p.mode
}

// LY returns the current scanline.
func (p *PPU) LY() byte { return p.ly }

// Read returns bytes for VRAM, OAM and the LCD registers, honoring the
// mode-based access blocks: VRAM floats during pixel draw, OAM during OAM
// scan and pixel draw.
func (p *PPU) Read(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if p.Mode() == ModePixelDraw {
			return 0xFF
		}
		return p.vram[addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if m := p.Mode(); m == ModeOAMScan || m == ModePixelDraw {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
		// Bit 7 reads as 1 on DMG.
		return 0x80 | (p.stat & 0x7C) | byte(p.Mode())
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	default:
		return 0xFF
	}
}

// Write handles writes to VRAM, OAM and the LCD registers; blocked regions
// drop the write.
func (p *PPU) Write(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if p.Mode() == ModePixelDraw {
			return
		}
		p.vram[addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if m := p.Mode(); m == ModeOAMScan || m == ModePixelDraw {
			return
		}
		p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if prev&0x80 != 0 && value&0x80 == 0 {
			// LCD off: LY resets and the mode machine parks.
			p.ly = 0
			p.mode = ModeHBlank
			p.remaining = hblankDots
			p.updateLYC()
		} else if prev&0x80 == 0 && value&0x80 != 0 {
			p.ly = 0
			p.winLine = 0
			p.setMode(ModeOAMScan, oamScanDots)
			p.updateLYC()
		}
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		// Writing LY restarts the frame.
		p.ly = 0
		p.winLine = 0
		p.updateLYC()
		if p.lcdc&0x80 != 0 {
			p.setMode(ModeOAMScan, oamScanDots)
		}
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	}
}

// RawVRAM bypasses the CPU access blocks; renderer and DMA use only.
func (p *PPU) RawVRAM(addr uint16) byte {
	if addr >= 0x8000 && addr <= 0x9FFF {
		return p.vram[addr-0x8000]
	}
	return 0xFF
}

// RawOAM bypasses the CPU access blocks.
func (p *PPU) RawOAM(addr uint16) byte {
	if addr >= 0xFE00 && addr <= 0xFE9F {
		return p.oam[addr-0xFE00]
	}
	return 0xFF
}

// LoadOAM stores one byte into OAM regardless of mode. OAM DMA writes land
// through here.
func (p *PPU) LoadOAM(index int, value byte) {
	if index >= 0 && index < len(p.oam) {
		p.oam[index] = value
	}
}

// rawVRAM adapts the PPU's VRAM for the fetcher without the CPU-facing
// access blocks.
type rawVRAM struct{ p *PPU }

func (v rawVRAM) Read(addr uint16) byte { return v.p.RawVRAM(addr) }

// DMG shades: color index 0..3 to one RGBA gray ramp entry.
var shades = [4][3]byte{
	{0xFF, 0xFF, 0xFF},
	{0xAA, 0xAA, 0xAA},
	{0x55, 0x55, 0x55},
	{0x00, 0x00, 0x00},
}

func paletteShade(pal, ci byte) byte { return (pal >> (2 * (ci & 3))) & 3 }

// renderLine paints scanline ly into the back buffer. Runs once per visible
// line, at the pixel-draw to hblank transition.
func (p *PPU) renderLine() {
	y := int(p.ly)
	if y >= visibleLines {
		return
	}
	row := p.back[y*ScreenW*4 : (y+1)*ScreenW*4]
	mem := rawVRAM{p}

	// BG and window color indices, kept for sprite priority.
	var bgci [160]byte
	if p.lcdc&0x01 != 0 {
		mapBase := uint16(0x9800)
		if p.lcdc&0x08 != 0 {
			mapBase = 0x9C00
		}
		tileData8000 := p.lcdc&0x10 != 0
		bgci = RenderBGScanline(mem, mapBase, tileData8000, p.scx, p.scy, p.ly)

		if p.windowVisible() {
			winMap := uint16(0x9800)
			if p.lcdc&0x40 != 0 {
				winMap = 0x9C00
			}
			startX := int(p.wx) - 7
			win := RenderWindowScanline(mem, winMap, tileData8000, startX, p.winLine)
			for x := 0; x < ScreenW; x++ {
				if x >= startX {
					bgci[x] = win[x]
				}
			}
			p.winLine++
		}
	}

	for x := 0; x < ScreenW; x++ {
		p.putPixel(row, x, paletteShade(p.bgp, bgci[x]))
	}

	if p.lcdc&0x02 != 0 {
		tall := p.lcdc&0x04 != 0
		sprites := p.collectSprites(y, tall)
		ci, pal := ComposeSpriteLineExt(mem, sprites, y, bgci, tall)
		for x := 0; x < ScreenW; x++ {
			if ci[x] == 0 {
				continue
			}
			obp := p.obp0
			if pal[x] == 1 {
				obp = p.obp1
			}
			p.putPixel(row, x, paletteShade(obp, ci[x]))
		}
	}
}

func (p *PPU) putPixel(row []byte, x int, shade byte) {
	c := shades[shade&3]
	row[x*4+0] = c[0]
	row[x*4+1] = c[1]
	row[x*4+2] = c[2]
	row[x*4+3] = 0xFF
}

// windowVisible reports whether the window covers any of the current line.
// The window needs both BG and window enables and WX within 0..166.
func (p *PPU) windowVisible() bool {
	return p.lcdc&0x20 != 0 && p.lcdc&0x01 != 0 && p.ly >= p.wy && p.wx <= 166
}

// collectSprites scans OAM in index order and returns at most 10 sprites
// covering line y, mirroring the hardware per-line limit.
func (p *PPU) collectSprites(y int, tall bool) []Sprite {
	h := 8
	if tall {
		h = 16
	}
	var out []Sprite
	for i := 0; i < 40 && len(out) < 10; i++ {
		sy := int(p.oam[i*4]) - 16
		if y < sy || y >= sy+h {
			continue
		}
		out = append(out, Sprite{
			Y:        sy,
			X:        int(p.oam[i*4+1]) - 8,
			Tile:     p.oam[i*4+2],
			Attr:     p.oam[i*4+3],
			OAMIndex: i,
		})
	}
	return out
}

type ppuState struct {
	VRAM [0x2000]byte
	OAM  [0xA0]byte

	LCDC, STAT, SCY, SCX, LY, LYC byte
	BGP, OBP0, OBP1, WY, WX       byte

	Mode      byte
	Remaining int
	WinLine   byte
}

func (p *PPU) SaveState() []byte {
	var buf bytes.Buffer
	s := ppuState{
		VRAM: p.vram, OAM: p.oam,
		LCDC: p.lcdc, STAT: p.stat, SCY: p.scy, SCX: p.scx, LY: p.ly, LYC: p.lyc,
		BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1, WY: p.wy, WX: p.wx,
		Mode: byte(p.mode), Remaining: p.remaining, WinLine: p.winLine,
	}
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

func (p *PPU) LoadState(data []byte) {
	var s ppuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	p.vram, p.oam = s.VRAM, s.OAM
	p.lcdc, p.stat, p.scy, p.scx, p.ly, p.lyc = s.LCDC, s.STAT, s.SCY, s.SCX, s.LY, s.LYC
	p.bgp, p.obp0, p.obp1, p.wy, p.wx = s.BGP, s.OBP0, s.OBP1, s.WY, s.WX
	p.mode, p.remaining, p.winLine = Mode(s.Mode), s.Remaining, s.WinLine
	p.frameReady = false
}
