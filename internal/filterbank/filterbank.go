// Package filterbank models the acoustic echo path with a bank of short
// adaptive filters, one per frequency subband.
//
// Frames are analysed with a square-root Hann window over two consecutive
// frames (50% overlap) and transformed with an FFT; every bin of the
// resulting half spectrum is one subband. Each subband keeps a few complex
// taps that span the most recent aligned far-end spectra, so the bank covers
// an echo tail of taps*frameLen samples beyond the bulk delay handled by the
// delay estimator. Taps are adapted with a normalized LMS rule and stored as
// saturating Q15 fixed-point values clamped to +/-TapLimit.
//
// Synthesis uses the same window and overlap-adds consecutive blocks, which
// reconstructs the input exactly when the spectrum is left untouched. The
// price is one frame of algorithmic latency.
//
// A Bank is not safe for concurrent use.
package filterbank

import (
	"errors"
	"log/slog"
	"math"
	"math/cmplx"

	"aecm/internal/fixed"

	"github.com/mjibson/go-dsp/fft"
)

const (
	// DefaultTaps is the number of far-end spectra each subband filter spans.
	DefaultTaps = 6

	// DefaultStep is the largest NLMS step size (0 < mu < 2).
	DefaultStep = 0.5

	// MinStep is the smallest step size the per-subband controller may use.
	MinStep = 0.05

	// TapLimit bounds the real and imaginary part of every tap.
	TapLimit = 8.0

	// powerSmoothing is the weight of history in the per-subband power
	// trackers.
	powerSmoothing = 0.8

	// divergenceRatio is how far the smoothed echo estimate may exceed the
	// smoothed microphone power before a subband is considered runaway.
	divergenceRatio = 16.0

	// doubleTalkWeight scales residual power in the step-size controller.
	doubleTalkWeight = 0.1
)

// ErrTapCount is returned by SetCoefficients when the coefficient slice does not
// match the bank geometry.
var ErrTapCount = errors.New("filterbank: tap count mismatch")

var tapLimitQ15 = int32(TapLimit * (1 << fixed.Q15))

// Bank holds all subband filters and the analysis/synthesis state for one
// sample rate.
type Bank struct {
	frameLen int
	fftLen   int
	bands    int
	taps     int
	step     float64
	delta    float64 // NLMS regularization

	window []float64

	// coef[k*taps*2 + j*2] is the real part of tap j in subband k, Q15.
	coef []int32

	// farHist[j] is the aligned far-end spectrum j calls ago.
	farHist [][]complex128
	farHead int

	nearPrev  []int16
	cleanPrev []int16
	ola       []float64

	// Per-subband trackers.
	farPow  []float64
	nearPow []float64
	echoPow []float64
	resPow  []float64
	mu      []float64

	// Spectra of the current call.
	near     []complex128
	clean    []complex128
	echo     []complex128
	residual []complex128

	resets uint64

	// Scratch.
	block []float64
	full  []complex128
	out   []float64
}

// New creates a Bank for frameLen-sample frames with the given number of
// taps per subband.
func New(frameLen, taps int) *Bank {
	if taps < 1 {
		taps = 1
	}
	fftLen := 2 * frameLen
	bands := frameLen + 1
	b := &Bank{
		frameLen:  frameLen,
		fftLen:    fftLen,
		bands:     bands,
		taps:      taps,
		step:      DefaultStep,
		delta:     float64(frameLen) * 1e-6,
		window:    make([]float64, fftLen),
		coef:      make([]int32, bands*taps*2),
		farHist:   make([][]complex128, taps),
		nearPrev:  make([]int16, frameLen),
		cleanPrev: make([]int16, frameLen),
		ola:       make([]float64, frameLen),
		farPow:    make([]float64, bands),
		nearPow:   make([]float64, bands),
		echoPow:   make([]float64, bands),
		resPow:    make([]float64, bands),
		mu:        make([]float64, bands),
		near:      make([]complex128, bands),
		clean:     make([]complex128, bands),
		echo:      make([]complex128, bands),
		residual:  make([]complex128, bands),
		block:     make([]float64, fftLen),
		full:      make([]complex128, fftLen),
		out:       make([]float64, frameLen),
	}
	for j := range b.farHist {
		b.farHist[j] = make([]complex128, bands)
	}
	for n := range b.window {
		b.window[n] = math.Sin(math.Pi * float64(n) / float64(fftLen))
	}
	b.Reset()
	return b
}

// Bands returns the number of subbands.
func (b *Bank) Bands() int { return b.bands }

// Taps returns the number of taps per subband.
func (b *Bank) Taps() int { return b.taps }

// Resets returns how many times a subband was zeroed by the divergence
// guard since the last Reset.
func (b *Bank) Resets() uint64 { return b.resets }

// Reset zeroes every tap, tracker and overlap buffer.
func (b *Bank) Reset() {
	clear(b.coef)
	for _, h := range b.farHist {
		clear(h)
	}
	b.farHead = 0
	clear(b.nearPrev)
	clear(b.cleanPrev)
	clear(b.ola)
	clear(b.farPow)
	clear(b.nearPow)
	clear(b.echoPow)
	clear(b.resPow)
	for k := range b.mu {
		b.mu[k] = b.step
	}
	clear(b.near)
	clear(b.clean)
	clear(b.echo)
	clear(b.residual)
	b.resets = 0
}

// Adapt runs one analysis and adaptation step.
//
// farCur is the far-end frame aligned with near, farPrev the one before it.
// clean may be nil; when given, the echo estimate is subtracted from it for
// the residual while adaptation keeps using near.
func (b *Bank) Adapt(farCur, farPrev, near, clean []int16) {
	if clean == nil {
		clean = near
	}

	// Shift the far history and analyse the new aligned block.
	b.farHead = (b.farHead + 1) % b.taps
	b.analyze(farPrev, farCur, b.farHist[b.farHead])

	b.analyze(b.nearPrev, near, b.near)
	b.analyze(b.cleanPrev, clean, b.clean)
	copy(b.nearPrev, near)
	copy(b.cleanPrev, clean)

	for k := 0; k < b.bands; k++ {
		b.adaptBand(k)
	}
}

func (b *Bank) adaptBand(k int) {
	base := k * b.taps * 2

	var est complex128
	var norm float64
	for j := 0; j < b.taps; j++ {
		x := b.farHist[b.histIndex(j)][k]
		w := complex(fixed.ToFloat(b.coef[base+2*j], fixed.Q15), fixed.ToFloat(b.coef[base+2*j+1], fixed.Q15))
		est += w * x
		norm += real(x)*real(x) + imag(x)*imag(x)
	}

	y := b.near[k]
	e := y - est
	b.echo[k] = est
	b.residual[k] = b.clean[k] - est

	x0 := b.farHist[b.farHead][k]
	b.farPow[k] = smooth(b.farPow[k], sqAbs(x0))
	b.nearPow[k] = smooth(b.nearPow[k], sqAbs(y))
	b.echoPow[k] = smooth(b.echoPow[k], sqAbs(est))
	b.resPow[k] = smooth(b.resPow[k], sqAbs(e))

	mu := b.step
	if b.farPow[k] > 0 {
		mu = b.step * b.farPow[k] / (b.farPow[k] + doubleTalkWeight*b.resPow[k])
	}
	b.mu[k] = math.Max(MinStep, math.Min(b.step, mu))

	g := complex(b.mu[k]/(norm+b.delta), 0) * e
	var tapEnergy float64
	for j := 0; j < b.taps; j++ {
		x := b.farHist[b.histIndex(j)][k]
		upd := g * cmplx.Conj(x)
		re := fixed.AddSat32(b.coef[base+2*j], fixed.FromFloat(real(upd), fixed.Q15))
		im := fixed.AddSat32(b.coef[base+2*j+1], fixed.FromFloat(imag(upd), fixed.Q15))
		re = fixed.Limit32(re, -tapLimitQ15, tapLimitQ15)
		im = fixed.Limit32(im, -tapLimitQ15, tapLimitQ15)
		b.coef[base+2*j] = re
		b.coef[base+2*j+1] = im
		fr, fi := fixed.ToFloat(re, fixed.Q15), fixed.ToFloat(im, fixed.Q15)
		tapEnergy += fr*fr + fi*fi
	}

	if b.echoPow[k] > divergenceRatio*b.nearPow[k]+b.delta ||
		tapEnergy > float64(b.taps)*TapLimit*TapLimit {
		b.resetBand(k)
	}
}

func (b *Bank) resetBand(k int) {
	base := k * b.taps * 2
	clear(b.coef[base : base+b.taps*2])
	b.echoPow[k] = 0
	b.resets++
	slog.Debug("subband diverged, taps reset", "band", k, "resets", b.resets)
}

// histIndex maps a tap age to its farHist slot.
func (b *Bank) histIndex(age int) int {
	return ((b.farHead-age)%b.taps + b.taps) % b.taps
}

func (b *Bank) analyze(prev, cur []int16, dst []complex128) {
	n := b.frameLen
	for i := 0; i < n; i++ {
		b.block[i] = fixed.SampleToFloat(sampleAt(prev, i)) * b.window[i]
		b.block[n+i] = fixed.SampleToFloat(sampleAt(cur, i)) * b.window[n+i]
	}
	spec := fft.FFTReal(b.block)
	copy(dst, spec[:b.bands])
}

// Synthesize converts a modified half spectrum back to time domain and
// returns the next frameLen output samples in [-1, 1) scale. The returned
// slice is owned by the Bank and valid until the next call.
func (b *Bank) Synthesize(spec []complex128) []float64 {
	n := b.frameLen
	for k := 0; k < b.bands && k < len(spec); k++ {
		b.full[k] = spec[k]
	}
	b.full[0] = complex(real(b.full[0]), 0)
	b.full[n] = complex(real(b.full[n]), 0)
	for k := 1; k < n; k++ {
		b.full[b.fftLen-k] = cmplx.Conj(b.full[k])
	}
	td := fft.IFFT(b.full)
	for i := 0; i < n; i++ {
		b.out[i] = real(td[i])*b.window[i] + b.ola[i]
		b.ola[i] = real(td[n+i]) * b.window[n+i]
	}
	return b.out
}

// Near returns the microphone spectrum of the current call.
func (b *Bank) Near() []complex128 { return b.near }

// Echo returns the echo estimate spectrum of the current call.
func (b *Bank) Echo() []complex128 { return b.echo }

// Residual returns the clean-near minus echo-estimate spectrum.
func (b *Bank) Residual() []complex128 { return b.residual }

// NearPower returns the smoothed microphone power per subband.
func (b *Bank) NearPower() []float64 { return b.nearPow }

// EchoPower returns the smoothed echo estimate power per subband.
func (b *Bank) EchoPower() []float64 { return b.echoPow }

// ResidualPower returns the smoothed adaptation error power per subband.
func (b *Bank) ResidualPower() []float64 { return b.resPow }

// StepSizes returns the current NLMS step size per subband.
func (b *Bank) StepSizes() []float64 { return b.mu }

// Coefficients returns a copy of all taps in Q15, subband-major with
// interleaved real and imaginary parts.
func (b *Bank) Coefficients() []int32 {
	out := make([]int32, len(b.coef))
	copy(out, b.coef)
	return out
}

// SetCoefficients replaces all taps. Values are clamped to the tap limit.
func (b *Bank) SetCoefficients(coef []int32) error {
	if len(coef) != len(b.coef) {
		return ErrTapCount
	}
	for i, c := range coef {
		b.coef[i] = fixed.Limit32(c, -tapLimitQ15, tapLimitQ15)
	}
	return nil
}

func smooth(prev, cur float64) float64 {
	return powerSmoothing*prev + (1-powerSmoothing)*cur
}

func sqAbs(c complex128) float64 {
	return real(c)*real(c) + imag(c)*imag(c)
}

func sampleAt(f []int16, i int) int16 {
	if i < len(f) {
		return f[i]
	}
	return 0
}
