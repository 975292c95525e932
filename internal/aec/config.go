package aec

import "fmt"

// AggressiveMode selects how hard residual echo is suppressed.
type AggressiveMode int

const (
	Mild AggressiveMode = iota
	Medium
	High
	Aggressive
	MostAggressive
)

// String returns the mode name as used on the command line.
func (m AggressiveMode) String() string {
	switch m {
	case Mild:
		return "mild"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Aggressive:
		return "aggressive"
	case MostAggressive:
		return "most-aggressive"
	}
	return fmt.Sprintf("AggressiveMode(%d)", int(m))
}

// ParseMode parses a mode name or its numeric value.
func ParseMode(s string) (AggressiveMode, error) {
	for m := Mild; m <= MostAggressive; m++ {
		if s == m.String() || s == fmt.Sprint(int(m)) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("mode %q: %w", s, ErrInvalidConfig)
}

// CNGMode turns comfort noise on or off.
type CNGMode int

const (
	CNGOff CNGMode = iota
	CNGOn
)

// Config is the runtime configuration of an engine.
type Config struct {
	Mode AggressiveMode
	CNG  CNGMode
}

// DefaultConfig returns the configuration an engine has after Init.
func DefaultConfig() Config {
	return Config{Mode: Aggressive, CNG: CNGOn}
}

// Validate reports whether every field is in range.
func (c Config) Validate() error {
	if c.Mode < Mild || c.Mode > MostAggressive {
		return fmt.Errorf("mode %d out of range: %w", int(c.Mode), ErrInvalidConfig)
	}
	if c.CNG != CNGOff && c.CNG != CNGOn {
		return fmt.Errorf("cng mode %d out of range: %w", int(c.CNG), ErrInvalidConfig)
	}
	return nil
}
