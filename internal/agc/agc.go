// Package agc implements a simple automatic gain control stage for the echo
// canceller output, on 10 ms int16 PCM frames.
//
// The AGC monitors the RMS of each frame and moves a multiplicative gain
// toward a target level with independent attack and release constants. Gain
// is clamped to [MinGain, MaxGain] so silence is never boosted without bound,
// and frames the activity detector calls silent do not update it, so comfort
// noise is not pulled up to speech level.
package agc

import (
	"aecm/internal/fixed"
	"aecm/internal/vad"
)

const (
	// DefaultTarget is the desired RMS level (normalized, ~-14 dBFS).
	DefaultTarget = 0.20

	// MinGain limits attenuation to 20 dB.
	MinGain = 0.1
	// MaxGain allows up to +20 dB of amplification.
	MaxGain = 10.0

	// AttackCoeff controls how quickly gain is reduced when level exceeds
	// target.
	AttackCoeff = 0.5
	// ReleaseCoeff controls how quickly gain recovers after a loud transient.
	ReleaseCoeff = 0.01
)

// AGC is a single-channel automatic gain control processor. Zero value is not
// usable; use New().
type AGC struct {
	target float64
	gain   float64
	vad    *vad.VAD
}

// New returns an AGC with DefaultTarget and unity gain.
func New() *AGC {
	return &AGC{target: DefaultTarget, gain: 1.0, vad: vad.New()}
}

// SetTarget sets the desired RMS level. level is in the range [0, 100] and is
// mapped linearly to [0.01, 0.50].
func (a *AGC) SetTarget(level int) {
	level = min(max(level, 0), 100)
	a.target = 0.01 + float64(level)/100.0*0.49
}

// Target returns the desired RMS level.
func (a *AGC) Target() float64 { return a.target }

// Process applies gain to frame in place and updates the gain estimate.
// Returns the same slice for chaining.
func (a *AGC) Process(frame []int16) []int16 {
	if len(frame) == 0 {
		return frame
	}

	rms := vad.RMS(frame)

	// Apply current gain before updating, so the listener hears the result.
	for i, s := range frame {
		frame[i] = fixed.FloatToSample(fixed.SampleToFloat(s) * a.gain)
	}

	if !a.vad.Active(rms) || rms <= 0 {
		return frame
	}

	desired := min(max(a.target/rms, MinGain), MaxGain)

	// Asymmetric smoothing: attack (gain down) is fast, release (gain up) slow.
	coeff := ReleaseCoeff
	if desired < a.gain {
		coeff = AttackCoeff
	}
	a.gain += coeff * (desired - a.gain)
	return frame
}

// Gain returns the current linear gain multiplier.
func (a *AGC) Gain() float64 { return a.gain }

// Reset resets the gain to unity without changing the target.
func (a *AGC) Reset() {
	a.gain = 1.0
	a.vad.Reset()
}
