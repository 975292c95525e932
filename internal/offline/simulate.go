package offline

import (
	"fmt"
	"math"

	"aecm/internal/aec"
	"aecm/internal/fixed"
)

// Scenario describes a synthetic echo recording.
type Scenario struct {
	SampleRate int
	Seconds    float64

	// DelayMs is the bulk playback-to-capture delay.
	DelayMs int

	// Room is the impulse response applied after the bulk delay. Empty
	// means DefaultRoom.
	Room []float64

	// NoiseLevel is the amplitude of white background noise at the
	// microphone.
	NoiseLevel float64

	// DoubleTalk adds a near-end talker during the middle third.
	DoubleTalk bool

	Seed uint32
}

// DefaultRoom is a short decaying echo path.
var DefaultRoom = []float64{0, 0.6, 0.3, -0.1, 0.05}

// Simulate renders the far-end and near-end signals of s.
func Simulate(s Scenario) (far, near []int16, err error) {
	if _, err := aec.FrameLengthFor(s.SampleRate); err != nil {
		return nil, nil, err
	}
	if s.Seconds <= 0 {
		return nil, nil, fmt.Errorf("duration must be positive, got %g s", s.Seconds)
	}
	if s.DelayMs < 0 {
		return nil, nil, fmt.Errorf("delay must not be negative, got %d ms", s.DelayMs)
	}
	room := s.Room
	if len(room) == 0 {
		room = DefaultRoom
	}

	samples := int(s.Seconds * float64(s.SampleRate))
	bulk := s.DelayMs * s.SampleRate / 1000

	farF := speechLike(samples, s.SampleRate, 95, s.Seed)
	talker := speechLike(samples, s.SampleRate, 180, s.Seed^0x5bd1e995)
	noise := xorshift{state: s.Seed | 1}

	far = make([]int16, samples)
	near = make([]int16, samples)
	for i := 0; i < samples; i++ {
		far[i] = fixed.FloatToSample(farF[i])

		var v float64
		for k, h := range room {
			if j := i - bulk - k; j >= 0 {
				v += h * farF[j]
			}
		}
		if s.DoubleTalk && i >= samples/3 && i < 2*samples/3 {
			v += 0.5 * talker[i]
		}
		v += s.NoiseLevel * noise.next()
		near[i] = fixed.FloatToSample(v)
	}
	return far, near, nil
}

// speechLike renders a voiced signal with a wandering pitch and syllable-rate
// amplitude modulation, mixed with unvoiced noise.
func speechLike(samples, rate int, pitch float64, seed uint32) []float64 {
	out := make([]float64, samples)
	rng := xorshift{state: seed | 1}
	var phase, prevNoise float64
	for i := range out {
		t := float64(i) / float64(rate)
		hz := pitch + 28*math.Sin(2*math.Pi*0.63*t) + 16*math.Sin(2*math.Pi*0.17*t)
		phase += 2 * math.Pi * hz / float64(rate)
		if phase > 2*math.Pi {
			phase -= 2 * math.Pi
		}
		voiced := math.Sin(phase) + 0.35*math.Sin(2*phase) + 0.2*math.Sin(3*phase)
		voicing := 0.5 + 0.5*math.Sin(2*math.Pi*0.78*t+0.25)
		syllable := 0.25 + 0.75*math.Pow(0.5+0.5*math.Sin(2*math.Pi*3.2*t), 2)

		n := rng.next()
		high := n - 0.86*prevNoise
		prevNoise = n
		mix := voicing*voiced + (1-voicing)*0.38*high
		out[i] = 0.4 * syllable * mix
	}
	return out
}

type xorshift struct{ state uint32 }

// next returns a value in [-1, 1).
func (x *xorshift) next() float64 {
	x.state ^= x.state << 13
	x.state ^= x.state >> 17
	x.state ^= x.state << 5
	return float64(int32(x.state)) / 2147483648.0
}
