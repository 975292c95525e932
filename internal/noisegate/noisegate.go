// Package noisegate implements a hard noise gate for int16 PCM frames.
//
// Frames with RMS below the configured threshold are replaced by silence.
// The echo canceller uses the gated copy as its clean near-end input: the
// echo estimate is subtracted from it while the filters keep adapting on the
// ungated capture. A short hold period keeps the gate from chopping speech
// during brief pauses.
package noisegate

import "aecm/internal/vad"

const (
	// DefaultThreshold is the normalized RMS level below which audio is gated
	// (~-40 dBFS).
	DefaultThreshold = 0.01

	// DefaultHold is the number of frames to keep the gate open after the
	// signal drops below threshold (200 ms at 10 ms / frame).
	DefaultHold = 20
)

// Gate is a hard noise gate that silences frames below a threshold.
type Gate struct {
	threshold float64
	hold      int // configured hold length in frames
	remaining int // frames left in current hold
	enabled   bool
	open      bool // true when the gate is currently passing audio
}

// New returns a Gate with DefaultThreshold and DefaultHold, enabled by default.
func New() *Gate {
	return &Gate{
		threshold: DefaultThreshold,
		hold:      DefaultHold,
		enabled:   true,
	}
}

// SetEnabled enables or disables the gate. When disabled, Process copies
// frames through unchanged.
func (g *Gate) SetEnabled(enabled bool) {
	g.enabled = enabled
	if !enabled {
		g.remaining = 0
		g.open = false
	}
}

// Enabled reports whether the gate is currently enabled.
func (g *Gate) Enabled() bool {
	return g.enabled
}

// SetThreshold sets the RMS gate threshold. level is in [0, 100] and maps
// to an RMS range of [0.001, 0.10]. Lower values open the gate more easily.
func (g *Gate) SetThreshold(level int) {
	level = min(max(level, 0), 100)
	g.threshold = 0.001 + float64(level)/100.0*0.099
}

// Threshold returns the current RMS threshold (normalized amplitude).
func (g *Gate) Threshold() float64 {
	return g.threshold
}

// IsOpen reports whether the gate is currently passing audio.
func (g *Gate) IsOpen() bool {
	return g.open
}

// Process writes the gated frame to dst, which must be at least as long as
// frame. dst and frame may be the same slice. Returns the frame RMS before
// gating.
func (g *Gate) Process(dst, frame []int16) float64 {
	rms := vad.RMS(frame)

	pass := true
	switch {
	case !g.enabled:
	case rms >= g.threshold:
		g.remaining = g.hold
	case g.remaining > 0:
		g.remaining--
	default:
		pass = false
	}
	g.open = pass && g.enabled

	if pass {
		copy(dst, frame)
	} else {
		clear(dst[:len(frame)])
	}
	return rms
}

// Reset clears the hold counter without changing settings.
func (g *Gate) Reset() {
	g.remaining = 0
	g.open = false
}
