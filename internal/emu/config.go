package emu

// Config contains settings that affect emulation behavior.
type Config struct {
	LimitFPS bool // pace the Run loop to ~59.7 Hz (the windowed UI paces itself)
}
