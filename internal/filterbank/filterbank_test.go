package filterbank

import (
	"errors"
	"math"
	"testing"

	"aecm/internal/fixed"
)

const testFrameLen = 160

type noiseSource struct{ state uint32 }

func (n *noiseSource) frame(amp float64) []int16 {
	out := make([]int16, testFrameLen)
	for i := range out {
		n.state ^= n.state << 13
		n.state ^= n.state >> 17
		n.state ^= n.state << 5
		v := float64(int32(n.state)) / 2147483648.0
		out[i] = int16(v * amp * 32767)
	}
	return out
}

func scaled(f []int16, g float64) []int16 {
	out := make([]int16, len(f))
	for i, s := range f {
		out[i] = int16(float64(s) * g)
	}
	return out
}

func spectrumEnergy(s []complex128) float64 {
	var e float64
	for _, c := range s {
		e += real(c)*real(c) + imag(c)*imag(c)
	}
	return e
}

func TestSynthesisReconstructsInput(t *testing.T) {
	b := New(testFrameLen, DefaultTaps)
	src := &noiseSource{state: 12345}
	silence := make([]int16, testFrameLen)

	var prev []int16
	for i := 0; i < 10; i++ {
		near := src.frame(0.4)
		b.Adapt(silence, silence, near, nil)
		out := b.Synthesize(b.Near())
		if prev != nil {
			for j, v := range out {
				got := fixed.FloatToSample(v)
				if d := int(got) - int(prev[j]); d < -1 || d > 1 {
					t.Fatalf("frame %d sample %d: want %d, got %d", i, j, prev[j], got)
				}
			}
		}
		prev = near
	}
}

func TestSilenceIsExactlyZero(t *testing.T) {
	b := New(testFrameLen, DefaultTaps)
	silence := make([]int16, testFrameLen)
	for i := 0; i < 20; i++ {
		b.Adapt(silence, silence, silence, silence)
		for _, c := range b.Residual() {
			if c != 0 {
				t.Fatalf("residual of silence should be zero, got %v", c)
			}
		}
		for i, v := range b.Synthesize(b.Residual()) {
			if v != 0 {
				t.Fatalf("sample %d of silent output is %g", i, v)
			}
		}
	}
}

func TestConvergesOnScalarEchoPath(t *testing.T) {
	b := New(testFrameLen, DefaultTaps)
	src := &noiseSource{state: 0xdeadbeef}
	farPrev := make([]int16, testFrameLen)

	var first, last float64
	for i := 0; i < 150; i++ {
		far := src.frame(0.3)
		near := scaled(far, 0.5)
		b.Adapt(far, farPrev, near, nil)
		farPrev = far

		ratio := spectrumEnergy(b.Residual()) / spectrumEnergy(b.Near())
		if i == 1 {
			first = ratio
		}
		last = ratio
	}
	if last > 0.01 {
		t.Errorf("residual/near energy after adaptation = %g, want < 0.01 (first %g)", last, first)
	}
	if b.Resets() != 0 {
		t.Errorf("well-behaved echo path should not trip the divergence guard, resets=%d", b.Resets())
	}
}

func TestCleanPathIsSubtracted(t *testing.T) {
	b := New(testFrameLen, DefaultTaps)
	src := &noiseSource{state: 99}
	farPrev := make([]int16, testFrameLen)
	silence := make([]int16, testFrameLen)

	for i := 0; i < 100; i++ {
		far := src.frame(0.3)
		b.Adapt(far, farPrev, scaled(far, 0.5), silence)
		farPrev = far
	}
	// With a silent clean input the residual is exactly the negated echo
	// estimate.
	res, est := b.Residual(), b.Echo()
	for k := range res {
		if res[k] != -est[k] {
			t.Fatalf("band %d: residual %v is not -echo %v", k, res[k], est[k])
		}
	}
	if spectrumEnergy(est) == 0 {
		t.Error("echo estimate should be non-zero after adaptation")
	}
}

func TestDivergenceGuardResetsTaps(t *testing.T) {
	b := New(testFrameLen, DefaultTaps)
	coef := make([]int32, b.Bands()*b.Taps()*2)
	for i := range coef {
		coef[i] = tapLimitQ15
	}
	if err := b.SetCoefficients(coef); err != nil {
		t.Fatalf("SetCoefficients: %v", err)
	}

	src := &noiseSource{state: 4242}
	silence := make([]int16, testFrameLen)
	b.Adapt(src.frame(0.3), silence, silence, nil)

	if b.Resets() < uint64(b.Bands()/2) {
		t.Fatalf("want most bands reset, got %d of %d", b.Resets(), b.Bands())
	}
	for _, c := range b.Coefficients() {
		if c > tapLimitQ15 || c < -tapLimitQ15 {
			t.Fatalf("coefficient %d outside the tap limit", c)
		}
	}
}

func TestStepSizesBounded(t *testing.T) {
	b := New(testFrameLen, DefaultTaps)
	src := &noiseSource{state: 5}
	farPrev := make([]int16, testFrameLen)
	for i := 0; i < 40; i++ {
		far := src.frame(0.3)
		// Loud independent near-end talk drives the controller down.
		b.Adapt(far, farPrev, src.frame(0.9), nil)
		farPrev = far
	}
	for k, mu := range b.StepSizes() {
		if mu < MinStep || mu > DefaultStep || math.IsNaN(mu) {
			t.Fatalf("band %d step %g outside [%g, %g]", k, mu, MinStep, DefaultStep)
		}
	}
}

func TestSetCoefficients(t *testing.T) {
	b := New(testFrameLen, 2)
	if err := b.SetCoefficients(make([]int32, 3)); !errors.Is(err, ErrTapCount) {
		t.Errorf("short slice: want ErrTapCount, got %v", err)
	}

	coef := make([]int32, b.Bands()*b.Taps()*2)
	coef[0] = 1 << 30
	coef[1] = -(1 << 30)
	coef[2] = 1 << 14
	if err := b.SetCoefficients(coef); err != nil {
		t.Fatalf("SetCoefficients: %v", err)
	}
	got := b.Coefficients()
	if got[0] != tapLimitQ15 || got[1] != -tapLimitQ15 {
		t.Errorf("coefficients not clamped: %d %d", got[0], got[1])
	}
	if got[2] != 1<<14 {
		t.Errorf("in-range coefficient changed: %d", got[2])
	}

	got[2] = 0
	if b.Coefficients()[2] != 1<<14 {
		t.Error("Coefficients should return a copy")
	}
}

func TestResetZeroesState(t *testing.T) {
	b := New(testFrameLen, DefaultTaps)
	src := &noiseSource{state: 8}
	farPrev := make([]int16, testFrameLen)
	for i := 0; i < 30; i++ {
		far := src.frame(0.3)
		b.Adapt(far, farPrev, scaled(far, 0.5), nil)
		farPrev = far
	}
	b.Reset()
	for i, c := range b.Coefficients() {
		if c != 0 {
			t.Fatalf("coefficient %d = %d after Reset", i, c)
		}
	}
	for i, v := range b.Synthesize(make([]complex128, b.Bands())) {
		if v != 0 {
			t.Fatalf("overlap tail survived Reset at sample %d: %g", i, v)
		}
	}
}

func BenchmarkAdapt(b *testing.B) {
	bank := New(testFrameLen, DefaultTaps)
	src := &noiseSource{state: 1}
	far, prev := src.frame(0.3), src.frame(0.3)
	near := scaled(far, 0.5)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bank.Adapt(far, prev, near, nil)
		bank.Synthesize(bank.Residual())
	}
}
