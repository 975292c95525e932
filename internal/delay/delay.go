// Package delay estimates the bulk delay, in whole frames, between far-end
// playback and near-end capture.
//
// Each frame is reduced to the log energies of a few sub-blocks. The
// estimator keeps a window of near-end features and, on every call, searches
// every lag the far-end ring can cover for the one whose far-end feature
// window correlates best with it. Estimates below a confidence threshold, or
// taken while the far end is silent, are discarded and the previous delay is
// kept. Accepted estimates are smoothed exponentially so jitter in the raw
// search does not make the filter bank re-align every frame.
package delay

import (
	"math"

	"aecm/internal/ring"
	"aecm/internal/vad"
)

const (
	// SubBlocks is the number of energy features taken from each frame.
	SubBlocks = 4

	// DefaultWindow is the number of frames correlated per lag (240 ms).
	DefaultWindow = 24

	// DefaultConfidence is the minimum Pearson correlation for a raw
	// estimate to be accepted.
	DefaultConfidence = 0.35

	// DefaultSmoothing is the weight of the previous estimate in the
	// exponential smoother.
	DefaultSmoothing = 0.75

	// energyFloor keeps log() finite on digital silence.
	energyFloor = 1e-9
)

type features [SubBlocks]float64

// Estimator tracks the far/near delay. It is not safe for concurrent use.
type Estimator struct {
	maxLag     int
	window     int
	confidence float64
	smoothing  float64

	// Far-end features keyed by ring sequence number modulo len(farFeat).
	farFeat   []features
	farActive []bool
	farSeen   uint64 // next ring sequence number to featurize
	farVAD    *vad.VAD

	// Near-end features, nearFeat[nearHead] is the newest.
	nearFeat  []features
	nearHead  int
	nearCount int

	smoothed float64
	delay    int
	lastConf float64
	locked   bool // at least one confident estimate since Reset

	a, b []float64 // scratch, window*SubBlocks each
}

// New returns an Estimator searching lags 0..maxLag with a correlation window
// of window frames. The ring it reads must hold at least maxLag+window
// frames for the largest lags to be searchable.
func New(maxLag, window int) *Estimator {
	if maxLag < 0 {
		maxLag = 0
	}
	if window < 2 {
		window = 2
	}
	e := &Estimator{
		maxLag:     maxLag,
		window:     window,
		confidence: DefaultConfidence,
		smoothing:  DefaultSmoothing,
		farFeat:    make([]features, maxLag+window),
		farActive:  make([]bool, maxLag+window),
		farVAD:     vad.New(),
		nearFeat:   make([]features, window),
		a:          make([]float64, window*SubBlocks),
		b:          make([]float64, window*SubBlocks),
	}
	return e
}

// MaxLag returns the largest delay, in frames, the estimator can report.
func (e *Estimator) MaxLag() int { return e.maxLag }

// Delay returns the current smoothed delay in frames.
func (e *Estimator) Delay() int { return e.delay }

// Confidence returns the correlation of the most recent search, or 0 when
// no search could run.
func (e *Estimator) Confidence() float64 { return e.lastConf }

// Locked reports whether a confident estimate has been accepted since the
// last Reset.
func (e *Estimator) Locked() bool { return e.locked }

// SetHint seeds the estimate with an externally known delay (for example
// the sound card buffer size). It has no effect once a confident estimate
// has been accepted.
func (e *Estimator) SetHint(frames int) {
	if e.locked {
		return
	}
	frames = min(max(frames, 0), e.maxLag)
	e.smoothed = float64(frames)
	e.delay = frames
}

// Reset forgets all history and returns the estimate to zero.
func (e *Estimator) Reset() {
	for i := range e.farFeat {
		e.farFeat[i] = features{}
		e.farActive[i] = false
	}
	for i := range e.nearFeat {
		e.nearFeat[i] = features{}
	}
	e.farSeen = 0
	e.farVAD.Reset()
	e.nearHead = 0
	e.nearCount = 0
	e.smoothed = 0
	e.delay = 0
	e.lastConf = 0
	e.locked = false
}

// Update ingests the near-end frame, catches up on far-end frames pushed to
// r since the previous call and returns the smoothed delay estimate.
func (e *Estimator) Update(r *ring.Ring, near []int16) int {
	e.catchUpFar(r)
	e.pushNear(near)

	if e.nearCount < e.window {
		e.lastConf = 0
		return e.delay
	}

	raw, conf, ok := e.search(r.Total())
	e.lastConf = conf
	if !ok || conf < e.confidence {
		return e.delay
	}

	e.locked = true
	e.smoothed = e.smoothing*e.smoothed + (1-e.smoothing)*float64(raw)
	e.delay = min(max(int(math.Round(e.smoothed)), 0), e.maxLag)
	return e.delay
}

func (e *Estimator) catchUpFar(r *ring.Ring) {
	total := r.Total()
	if total < e.farSeen {
		// The ring was reset underneath us.
		e.farSeen = 0
	}
	oldest := total - uint64(r.Len())
	for seq := e.farSeen; seq < total; seq++ {
		slot := int(seq % uint64(len(e.farFeat)))
		if seq < oldest {
			e.farFeat[slot] = features{}
			e.farActive[slot] = false
			continue
		}
		frame, _ := r.PeekAligned(int(total - 1 - seq))
		e.farFeat[slot] = extract(frame)
		e.farActive[slot] = e.farVAD.Active(vad.RMS(frame))
	}
	e.farSeen = total
}

func (e *Estimator) pushNear(near []int16) {
	e.nearHead = (e.nearHead + 1) % e.window
	e.nearFeat[e.nearHead] = extract(near)
	if e.nearCount < e.window {
		e.nearCount++
	}
}

// search returns the best lag and its correlation. ok is false when the
// near-end window is flat or no lag has enough far-end history.
func (e *Estimator) search(total uint64) (lag int, conf float64, ok bool) {
	// a holds the near window, age 0 first.
	for i := 0; i < e.window; i++ {
		idx := ((e.nearHead-i)%e.window + e.window) % e.window
		copy(e.a[i*SubBlocks:(i+1)*SubBlocks], e.nearFeat[idx][:])
	}
	meanA, varA := moments(e.a)
	if varA <= 1e-12 {
		return 0, 0, false
	}

	bestLag, bestConf := -1, -2.0
	bestActive := 0
	for d := 0; d <= e.maxLag; d++ {
		oldestAge := d + e.window - 1
		if uint64(oldestAge) >= total || oldestAge >= len(e.farFeat) {
			break
		}
		active := 0
		for i := 0; i < e.window; i++ {
			seq := total - 1 - uint64(i+d)
			slot := int(seq % uint64(len(e.farFeat)))
			copy(e.b[i*SubBlocks:(i+1)*SubBlocks], e.farFeat[slot][:])
			if e.farActive[slot] {
				active++
			}
		}
		meanB, varB := moments(e.b)
		if varB <= 1e-12 {
			continue
		}
		var cov float64
		for j := range e.a {
			cov += (e.a[j] - meanA) * (e.b[j] - meanB)
		}
		cov /= float64(len(e.a))
		r := cov / math.Sqrt(varA*varB)
		if r > bestConf {
			bestLag, bestConf, bestActive = d, r, active
		}
	}
	if bestLag < 0 {
		return 0, 0, false
	}
	// Require the far end to have been playing for a good part of the window.
	if bestActive*4 < e.window {
		return bestLag, bestConf, false
	}
	return bestLag, bestConf, true
}

// extract computes the log sub-block energies of one frame.
func extract(frame []int16) features {
	var f features
	n := len(frame) / SubBlocks
	if n == 0 {
		for i := range f {
			f[i] = math.Log(energyFloor)
		}
		return f
	}
	for b := 0; b < SubBlocks; b++ {
		var sum float64
		for _, s := range frame[b*n : (b+1)*n] {
			v := float64(s) / 32768.0
			sum += v * v
		}
		f[b] = math.Log(sum/float64(n) + energyFloor)
	}
	return f
}

func moments(x []float64) (mean, variance float64) {
	for _, v := range x {
		mean += v
	}
	mean /= float64(len(x))
	for _, v := range x {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(x))
	return mean, variance
}
