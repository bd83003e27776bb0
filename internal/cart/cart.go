package cart

import "fmt"

// Cartridge is the bus-facing view of a cartridge: ROM (0x0000-0x7FFF) and
// external RAM (0xA000-0xBFFF). Writes into the ROM range drive the mapper
// control registers.
type Cartridge interface {
	Read(addr uint16) byte
	Write(addr uint16, value byte)
	// SaveState/LoadState serialize banking registers and external RAM for
	// save states.
	SaveState() []byte
	LoadState(data []byte)
}

// BatteryBacked is implemented by cartridges whose external RAM should be
// persisted between runs. SaveRAM returns a copy of the RAM contents.
type BatteryBacked interface {
	SaveRAM() []byte
	LoadRAM(data []byte)
}

// New parses the ROM header and builds the matching mapper. ROMs that
// declare a mapper this package does not implement are rejected rather than
// silently degraded to ROM-only, since a misbanked cartridge fails in ways
// that are much harder to diagnose.
func New(rom []byte) (Cartridge, error) {
	h, err := ParseHeader(rom)
	if err != nil {
		return nil, err
	}
	switch h.CartType {
	case 0x00, 0x08, 0x09:
		return NewROMOnly(rom), nil
	case 0x01, 0x02, 0x03:
		return NewMBC1(rom, h.RAMSizeBytes), nil
	case 0x0F, 0x10, 0x11, 0x12, 0x13:
		return NewMBC3(rom, h.RAMSizeBytes), nil
	case 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E:
		return NewMBC5(rom, h.RAMSizeBytes), nil
	default:
		return nil, fmt.Errorf("cart: unsupported mapper %#02x (%s)", h.CartType, h.CartTypeStr)
	}
}
