// Package suppress attenuates the residual echo the adaptive filters leave
// behind.
//
// For every subband the ratio of modeled echo power to residual power
// decides a Wiener-like gain. How hard the ratio is pushed (overdrive) and
// how deep the gain may go (floor) depend on the aggressiveness level. Gains
// fall quickly when echo appears and recover slowly so echo tails are not
// let through between frames.
package suppress

const (
	// Attack is the smoothing weight used when the gain decreases.
	Attack = 0.6

	// Release is the smoothing weight used when the gain recovers.
	Release = 0.15

	// Levels is the number of aggressiveness levels.
	Levels = 5
)

type level struct {
	overdrive float64
	floor     float64
}

// Ordered from mild to most aggressive.
var levels = [Levels]level{
	{overdrive: 1.0, floor: 0.30},
	{overdrive: 1.5, floor: 0.20},
	{overdrive: 2.0, floor: 0.12},
	{overdrive: 3.0, floor: 0.08},
	{overdrive: 4.0, floor: 0.05},
}

// Floor returns the minimum gain of the given level. Out of range levels are
// clamped.
func Floor(lvl int) float64 { return levels[clampLevel(lvl)].floor }

// Suppressor holds the smoothed per-subband gains.
type Suppressor struct {
	lvl   int
	gains []float64
}

// New creates a Suppressor for bands subbands at the given level.
func New(bands, lvl int) *Suppressor {
	s := &Suppressor{
		lvl:   clampLevel(lvl),
		gains: make([]float64, bands),
	}
	s.Reset()
	return s
}

// SetLevel changes the aggressiveness level. Smoothed gains are kept.
func (s *Suppressor) SetLevel(lvl int) { s.lvl = clampLevel(lvl) }

// Level returns the current aggressiveness level.
func (s *Suppressor) Level() int { return s.lvl }

// Reset returns every gain to unity.
func (s *Suppressor) Reset() {
	for k := range s.gains {
		s.gains[k] = 1
	}
}

// Update computes the new gains from the smoothed echo estimate and residual
// powers. The returned slice is owned by the Suppressor.
func (s *Suppressor) Update(echoPow, resPow []float64) []float64 {
	p := levels[s.lvl]
	for k := range s.gains {
		target := 1.0
		if k < len(echoPow) && k < len(resPow) && echoPow[k] > 0 {
			var ratio float64
			if resPow[k] > 0 {
				ratio = echoPow[k] / resPow[k]
			} else {
				ratio = 1e6
			}
			target = 1 / (1 + p.overdrive*ratio)
		}
		if target < p.floor {
			target = p.floor
		}

		g := s.gains[k]
		if target < g {
			g += Attack * (target - g)
		} else {
			g += Release * (target - g)
		}
		s.gains[k] = g
	}
	return s.gains
}

// Gains returns the current smoothed gains.
func (s *Suppressor) Gains() []float64 { return s.gains }

// Apply scales spec in place by the current gains.
func (s *Suppressor) Apply(spec []complex128) {
	for k := range spec {
		if k >= len(s.gains) {
			return
		}
		spec[k] *= complex(s.gains[k], 0)
	}
}

func clampLevel(lvl int) int { return min(max(lvl, 0), Levels-1) }
