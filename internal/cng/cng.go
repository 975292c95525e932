// Package cng fills the holes suppression leaves in the near-end background
// with synthetic noise of matching level.
//
// The background level of every subband is tracked as a running minimum of
// the smoothed microphone power: it follows drops quickly and only creeps up
// while the near end is quiet. Injected noise has that level scaled by how
// much the subband was attenuated, and a phase drawn from the fixed-point
// linear congruential generator, so output is reproducible from Reset.
package cng

import (
	"math"

	"aecm/internal/fixed"
)

const (
	// Fall is the tracking weight when the power drops below the floor.
	Fall = 0.5

	// Rise is the tracking weight when the power is above the floor and the
	// near end is quiet.
	Rise = 0.01

	// InitialSeed is the generator state after Reset.
	InitialSeed int32 = 3176576
)

// Generator estimates the background noise floor and synthesizes comfort
// noise. It is not safe for concurrent use.
type Generator struct {
	enabled bool
	floor   []float64
	seed    int32
}

// New creates an enabled Generator for bands subbands.
func New(bands int) *Generator {
	return &Generator{
		enabled: true,
		floor:   make([]float64, bands),
		seed:    InitialSeed,
	}
}

// SetEnabled turns noise injection on or off. The floor keeps being tracked
// either way.
func (g *Generator) SetEnabled(enabled bool) { g.enabled = enabled }

// Reset clears the noise floor and restarts the random sequence.
func (g *Generator) Reset() {
	clear(g.floor)
	g.seed = InitialSeed
}

// Floor returns the tracked background power per subband.
func (g *Generator) Floor() []float64 { return g.floor }

// Track updates the floor from the smoothed near-end power. quiet reports
// whether the near end currently carries no speech.
func (g *Generator) Track(nearPow []float64, quiet bool) {
	for k := range g.floor {
		if k >= len(nearPow) {
			return
		}
		p := nearPow[k]
		switch {
		case p < g.floor[k]:
			g.floor[k] += Fall * (p - g.floor[k])
		case quiet:
			g.floor[k] += Rise * (p - g.floor[k])
		}
	}
}

// Fill adds comfort noise to spec in place. gains are the suppression gains
// applied to spec; a subband left at unity gain receives no noise.
func (g *Generator) Fill(spec []complex128, gains []float64) {
	if !g.enabled {
		return
	}
	last := len(spec) - 1
	for k := range spec {
		if k >= len(g.floor) || k >= len(gains) {
			return
		}
		mag := math.Sqrt(g.floor[k]) * (1 - gains[k])
		if mag <= 0 {
			continue
		}
		g.seed = fixed.Rand(g.seed)
		theta := 2 * math.Pi * float64(uint32(g.seed)>>16) / 65536
		if k == 0 || k == last {
			// DC and Nyquist must stay real.
			spec[k] += complex(mag*math.Cos(theta), 0)
			continue
		}
		spec[k] += complex(mag*math.Cos(theta), mag*math.Sin(theta))
	}
}
