// Package aec is an acoustic echo canceller for 10 ms frames of 16-bit PCM at
// 8 or 16 kHz.
//
// Usage:
//
//	e := aec.New()
//	if err := e.Init(16000); err != nil { ... }
//
//	// For every 10 ms of playback, before the matching capture frame:
//	e.BufferFarend(played)
//
//	// For every 10 ms of capture:
//	out, err := e.Process(captured, nil, 40)
//
// The far-end signal is kept in a delay line. Each Process call estimates
// the playback-to-capture delay, aligns the far end, models the echo with a
// bank of subband NLMS filters, subtracts it, suppresses what is left and
// fills the gaps with comfort noise.
//
// An Engine is owned by one goroutine at a time; it does no locking. Use an
// Arena to address engines through opaque handles.
package aec

import (
	"fmt"
	"log/slog"
	"math"

	"aecm/internal/cng"
	"aecm/internal/delay"
	"aecm/internal/filterbank"
	"aecm/internal/fixed"
	"aecm/internal/ring"
	"aecm/internal/suppress"
	"aecm/internal/vad"
)

const (
	// MaxDelayMs is the largest playback-to-capture delay tracked, and the
	// upper bound of the sound card buffer hint.
	MaxDelayMs = 500

	// FrameMs is the frame duration.
	FrameMs = 10

	maxLagFrames = MaxDelayMs / FrameMs

	// erleSmoothing weights history in the energies behind Stats.ERLE.
	erleSmoothing = 0.9

	// maxERLE caps the reported ERLE when the output is silent.
	maxERLE = 100.0
)

// State is the lifecycle state of an Engine.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateProcessing
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateProcessing:
		return "processing"
	case StateDestroyed:
		return "destroyed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Stats describes the most recent Process call and the running totals since
// Init.
type Stats struct {
	Frames             uint64
	Delay              int     // frames
	DelayConfidence    float64 // Pearson correlation of the last search
	DelayLocked        bool
	NearEnergy         float64 // last frame, sum of squared normalized samples
	EchoEnergy         float64 // last frame, modeled echo spectrum energy
	ResidualEnergy     float64 // last frame, residual spectrum energy
	OutputEnergy       float64 // last frame
	ERLE               float64 // dB, smoothed
	DivergenceResets   uint64
	InsufficientFarend uint64
}

// FrameLengthFor returns the frame length in samples for a sample rate.
func FrameLengthFor(rate int) (int, error) {
	switch rate {
	case 8000, 16000:
		return rate * FrameMs / 1000, nil
	}
	return 0, fmt.Errorf("%d Hz: %w", rate, ErrInvalidSampleRate)
}

// Engine is one echo canceller instance.
type Engine struct {
	state    State
	rate     int
	frameLen int
	cfg      Config

	far     *ring.Ring
	delay   *delay.Estimator
	bank    *filterbank.Bank
	sup     *suppress.Suppressor
	noise   *cng.Generator
	nearVAD *vad.VAD

	stats   Stats
	nearAvg float64
	outAvg  float64

	spec []complex128
}

// New allocates an engine sized for the largest supported rate. It must be
// initialized with Init before use.
func New() *Engine {
	e := &Engine{cfg: DefaultConfig()}
	e.alloc(16000 * FrameMs / 1000)
	return e
}

func (e *Engine) alloc(frameLen int) {
	e.frameLen = frameLen
	e.far = ring.New(maxLagFrames+delay.DefaultWindow+2, frameLen)
	e.delay = delay.New(maxLagFrames, delay.DefaultWindow)
	e.bank = filterbank.New(frameLen, filterbank.DefaultTaps)
	e.sup = suppress.New(e.bank.Bands(), int(e.cfg.Mode))
	e.noise = cng.New(e.bank.Bands())
	e.nearVAD = vad.New()
	e.spec = make([]complex128, e.bank.Bands())
}

// Init (re)initializes the engine for a sample rate. All adaptive state and
// the configuration are reset; calling it again is allowed.
func (e *Engine) Init(rate int) error {
	if e.state == StateDestroyed {
		return ErrUseAfterFree
	}
	n, err := FrameLengthFor(rate)
	if err != nil {
		return err
	}
	e.cfg = DefaultConfig()
	if n != e.frameLen {
		e.alloc(n)
	} else {
		e.far.Reset()
		e.delay.Reset()
		e.bank.Reset()
		e.sup.Reset()
		e.noise.Reset()
		e.nearVAD.Reset()
		clear(e.spec)
	}
	e.applyConfig()
	e.rate = rate
	e.stats = Stats{}
	e.nearAvg, e.outAvg = 0, 0
	e.state = StateReady
	slog.Debug("echo canceller initialized", "rate", rate, "frame_len", n, "bands", e.bank.Bands())
	return nil
}

// Close releases the engine. A second Close returns ErrUseAfterFree.
func (e *Engine) Close() error {
	if e.state == StateDestroyed {
		return ErrUseAfterFree
	}
	e.state = StateDestroyed
	e.far, e.delay, e.bank, e.sup, e.noise, e.nearVAD, e.spec = nil, nil, nil, nil, nil, nil, nil
	slog.Debug("echo canceller closed", "frames", e.stats.Frames)
	return nil
}

func (e *Engine) usable() error {
	switch e.state {
	case StateDestroyed:
		return ErrUseAfterFree
	case StateUninitialized:
		return ErrNotInitialized
	}
	return nil
}

// State returns the lifecycle state.
func (e *Engine) State() State { return e.state }

// SampleRate returns the rate passed to the last Init, or 0.
func (e *Engine) SampleRate() int {
	if e.usable() != nil {
		return 0
	}
	return e.rate
}

// FrameLength returns the number of samples every frame must hold, or 0
// before Init.
func (e *Engine) FrameLength() int {
	if e.usable() != nil {
		return 0
	}
	return e.frameLen
}

// Config returns the active configuration.
func (e *Engine) Config() Config { return e.cfg }

// SetConfig validates and applies cfg.
func (e *Engine) SetConfig(cfg Config) error {
	if err := e.usable(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg
	e.applyConfig()
	return nil
}

func (e *Engine) applyConfig() {
	e.sup.SetLevel(int(e.cfg.Mode))
	e.noise.SetEnabled(e.cfg.CNG == CNGOn)
}

// Stats returns a snapshot of the processing statistics.
func (e *Engine) Stats() Stats { return e.stats }

// BufferFarend copies one far-end frame into the delay line. It must be
// called before Process for the near-end frame the far end is heard in.
func (e *Engine) BufferFarend(frame []int16) error {
	if err := e.usable(); err != nil {
		return err
	}
	if len(frame) != e.frameLen {
		return fmt.Errorf("far end has %d samples, want %d: %w", len(frame), e.frameLen, ErrInvalidFrameLength)
	}
	e.far.Push(frame)
	return nil
}

// Process cancels the echo in one near-end frame and returns the output
// frame.
//
// nearClean is an optional noise-suppressed copy of nearNoisy; when given,
// the echo estimate is subtracted from it while the filters keep adapting on
// nearNoisy. msInSndCardBuf is the sound card buffering delay in ms, clamped
// to [0, MaxDelayMs]; it seeds the delay estimate until a confident one is
// found.
//
// When the aligned far-end frame has not been buffered, silence is used in
// its place and the output is returned together with
// ErrInsufficientFarendData.
func (e *Engine) Process(nearNoisy, nearClean []int16, msInSndCardBuf int) ([]int16, error) {
	if err := e.usable(); err != nil {
		return nil, err
	}
	if len(nearNoisy) != e.frameLen {
		return nil, fmt.Errorf("near end has %d samples, want %d: %w", len(nearNoisy), e.frameLen, ErrInvalidFrameLength)
	}
	if nearClean != nil && len(nearClean) != e.frameLen {
		return nil, fmt.Errorf("clean near end has %d samples, want %d: %w", len(nearClean), e.frameLen, ErrInvalidFrameLength)
	}

	ms := min(max(msInSndCardBuf, 0), MaxDelayMs)
	e.delay.SetHint(ms / FrameMs)
	d := e.delay.Update(e.far, nearNoisy)

	farCur, ok := e.far.PeekAligned(d)
	farPrev, _ := e.far.PeekAligned(d + 1)

	resetsBefore := e.bank.Resets()
	e.bank.Adapt(farCur, farPrev, nearNoisy, nearClean)
	if n := e.bank.Resets() - resetsBefore; n > 0 {
		slog.Debug("echo path diverged", "bands_reset", n, "frame", e.stats.Frames)
	}

	gains := e.sup.Update(e.bank.EchoPower(), e.bank.ResidualPower())
	copy(e.spec, e.bank.Residual())
	e.sup.Apply(e.spec)

	quiet := !e.nearVAD.Active(vad.RMS(nearNoisy))
	e.noise.Track(e.bank.NearPower(), quiet)
	e.noise.Fill(e.spec, gains)

	synth := e.bank.Synthesize(e.spec)
	out := make([]int16, e.frameLen)
	for i, v := range synth {
		out[i] = fixed.FloatToSample(v)
	}

	e.updateStats(nearNoisy, out, d)
	if e.state == StateReady {
		e.state = StateProcessing
	}
	if !ok {
		e.stats.InsufficientFarend++
		return out, ErrInsufficientFarendData
	}
	return out, nil
}

func (e *Engine) updateStats(near, out []int16, d int) {
	s := &e.stats
	s.Frames++
	s.Delay = d
	s.DelayConfidence = e.delay.Confidence()
	s.DelayLocked = e.delay.Locked()
	s.NearEnergy = frameEnergy(near)
	s.OutputEnergy = frameEnergy(out)
	s.EchoEnergy = spectrumEnergy(e.bank.Echo())
	s.ResidualEnergy = spectrumEnergy(e.bank.Residual())
	s.DivergenceResets = e.bank.Resets()

	e.nearAvg = erleSmoothing*e.nearAvg + (1-erleSmoothing)*s.NearEnergy
	e.outAvg = erleSmoothing*e.outAvg + (1-erleSmoothing)*s.OutputEnergy
	switch {
	case e.nearAvg == 0:
		s.ERLE = 0
	case e.outAvg == 0:
		s.ERLE = maxERLE
	default:
		s.ERLE = math.Min(maxERLE, 10*math.Log10(e.nearAvg/e.outAvg))
	}
}

func frameEnergy(f []int16) float64 {
	var sum float64
	for _, s := range f {
		v := fixed.SampleToFloat(s)
		sum += v * v
	}
	return sum
}

func spectrumEnergy(s []complex128) float64 {
	var sum float64
	for _, c := range s {
		sum += real(c)*real(c) + imag(c)*imag(c)
	}
	return sum
}
