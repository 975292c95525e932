// Package vad implements an energy-based activity detector for mono int16
// PCM frames of 10 ms (80 samples at 8 kHz, 160 samples at 16 kHz).
//
// The detector classifies each frame as active or silent by comparing the
// frame RMS level against a threshold. A "hangover" counter keeps the
// detector active for a fixed number of frames after the last loud frame, so
// short pauses inside far-end speech do not stall delay tracking and the
// noise floor tracker does not learn from word endings.
package vad

import "math"

const (
	// DefaultThreshold is the normalized RMS level below which a frame is
	// treated as silence (~-50 dBFS).
	DefaultThreshold = 0.003

	// DefaultHangover is the number of silent frames that still count as
	// active after a loud frame (~300 ms at 10 ms / frame).
	DefaultHangover = 30
)

// VAD is a single-channel activity detector. Zero value is not usable; use
// New().
type VAD struct {
	threshold float64
	hangover  int // configured hangover length in frames
	remaining int // frames left in current hangover
	enabled   bool
}

// New returns a VAD with DefaultThreshold and DefaultHangover, enabled by
// default.
func New() *VAD {
	return &VAD{
		threshold: DefaultThreshold,
		hangover:  DefaultHangover,
		enabled:   true,
	}
}

// SetEnabled enables or disables the detector. When disabled, Active always
// returns true.
func (v *VAD) SetEnabled(enabled bool) {
	v.enabled = enabled
	if !enabled {
		v.remaining = 0
	}
}

// SetThreshold sets the RMS threshold. level is in [0, 100] and maps to a
// normalized RMS range of [0.0005, 0.05].
func (v *VAD) SetThreshold(level int) {
	level = min(max(level, 0), 100)
	v.threshold = 0.0005 + float64(level)/100.0*0.0495
}

// Threshold returns the current RMS threshold.
func (v *VAD) Threshold() float64 { return v.threshold }

// Active reports whether a frame with the given normalized RMS counts as
// activity. Updates hangover state.
func (v *VAD) Active(rms float64) bool {
	if !v.enabled {
		return true
	}
	if rms > v.threshold {
		v.remaining = v.hangover
		return true
	}
	if v.remaining > 0 {
		v.remaining--
		return true
	}
	return false
}

// Reset clears the hangover counter without changing other settings.
func (v *VAD) Reset() {
	v.remaining = 0
}

// RMS returns the root-mean-square of an int16 frame, normalized so that a
// full-scale square wave has RMS 1.
func RMS(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(frame)))
}
