package ppu

// RenderBGScanline renders 160 background color indices for line ly using
// the fetcher. mapBase is 0x9800 or 0x9C00; tileData8000 selects unsigned
// 0x8000 or signed 0x8800 tile addressing. The SCX fine offset discards
// pixels from the first tile and the 32-tile map row wraps.
func RenderBGScanline(mem VRAMReader, mapBase uint16, tileData8000 bool, scx, scy, ly byte) [ScreenW]byte {
	var out [ScreenW]byte

	bgY := uint16(ly) + uint16(scy)
	fineY := byte(bgY & 7)
	mapY := (bgY >> 3) & 31

	tileX := uint16(scx>>3) & 31
	fineX := int(scx & 7)

	var q fifo
	f := newBGFetcher(mem, &q)
	f.Configure(tileData8000, mapBase+mapY*32+tileX, fineY)
	f.Fetch()
	for i := 0; i < fineX; i++ {
		q.Pop()
	}

	for x := 0; x < ScreenW; x++ {
		if q.Len() == 0 {
			tileX = (tileX + 1) & 31
			f.Configure(tileData8000, mapBase+mapY*32+tileX, fineY)
			f.Fetch()
		}
		px, _ := q.Pop()
		out[x] = px
	}
	return out
}

// RenderWindowScanline renders the window overlay for one line. startX is
// WX-7 (may be negative); winLine is the internal window line counter, which
// selects both the map row and the fine row within the tile. Pixels left of
// startX stay 0 and must keep their background value.
func RenderWindowScanline(mem VRAMReader, mapBase uint16, tileData8000 bool, startX int, winLine byte) [ScreenW]byte {
	var out [ScreenW]byte

	fineY := winLine & 7
	mapY := uint16(winLine>>3) & 31

	var q fifo
	f := newBGFetcher(mem, &q)

	tileX := uint16(0)
	x := startX
	if x < 0 {
		// Window starts off-screen: discard the overhang.
		f.Configure(tileData8000, mapBase+mapY*32, fineY)
		f.Fetch()
		for ; x < 0; x++ {
			q.Pop()
		}
		tileX = 1
		if q.Len() == 0 {
			f.Configure(tileData8000, mapBase+mapY*32+tileX, fineY)
			f.Fetch()
			tileX++
		}
	}
	for ; x < ScreenW; x++ {
		if q.Len() == 0 {
			f.Configure(tileData8000, mapBase+mapY*32+tileX, fineY)
			f.Fetch()
			tileX++
		}
		px, _ := q.Pop()
		out[x] = px
	}
	return out
}

// Sprite is one OAM entry with screen-space coordinates (the raw OAM offsets
// of +16/+8 already removed).
type Sprite struct {
	X, Y     int
	Tile     byte
	Attr     byte
	OAMIndex int
}

// Sprite attribute bits.
const (
	attrPalette  = 1 << 4
	attrXFlip    = 1 << 5
	attrYFlip    = 1 << 6
	attrPriority = 1 << 7 // behind non-zero BG pixels
)

// ComposeSpriteLine returns the sprite color indices for line y. Color 0 is
// transparent. Between overlapping sprites the smaller X wins, then the
// lower OAM index; a winning sprite with the BG-priority attribute loses to
// any non-zero background pixel.
func ComposeSpriteLine(mem VRAMReader, sprites []Sprite, y int, bgci [ScreenW]byte, tall bool) [ScreenW]byte {
	ci, _ := ComposeSpriteLineExt(mem, sprites, y, bgci, tall)
	return ci
}

// ComposeSpriteLineExt additionally reports which object palette (0 or 1)
// each opaque pixel selected.
func ComposeSpriteLineExt(mem VRAMReader, sprites []Sprite, y int, bgci [ScreenW]byte, tall bool) (ci, pal [ScreenW]byte) {
	h := 8
	if tall {
		h = 16
	}

	// bestX/bestIdx track the winning sprite per pixel; decided pixels with
	// ci 0 are ones where a BG-priority sprite lost to the background.
	var decided [ScreenW]bool
	var bestX, bestIdx [ScreenW]int

	for _, s := range sprites {
		row := y - s.Y
		if row < 0 || row >= h {
			continue
		}
		if s.Attr&attrYFlip != 0 {
			row = h - 1 - row
		}
		tile := s.Tile
		if tall {
			tile &= 0xFE
			if row >= 8 {
				tile++
				row -= 8
			}
		}
		base := 0x8000 + uint16(tile)*16 + uint16(row)*2
		lo := mem.Read(base)
		hi := mem.Read(base + 1)

		for px := 0; px < 8; px++ {
			x := s.X + px
			if x < 0 || x >= ScreenW {
				continue
			}
			bit := 7 - byte(px)
			if s.Attr&attrXFlip != 0 {
				bit = byte(px)
			}
			c := ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
			if c == 0 {
				continue
			}
			if decided[x] {
				if s.X > bestX[x] || (s.X == bestX[x] && s.OAMIndex >= bestIdx[x]) {
					continue
				}
			}
			decided[x] = true
			bestX[x], bestIdx[x] = s.X, s.OAMIndex
			if s.Attr&attrPriority != 0 && bgci[x] != 0 {
				ci[x], pal[x] = 0, 0
				continue
			}
			ci[x] = c
			if s.Attr&attrPalette != 0 {
				pal[x] = 1
			} else {
				pal[x] = 0
			}
		}
	}
	return ci, pal
}
