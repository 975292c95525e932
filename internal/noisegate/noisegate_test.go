package noisegate

import (
	"math"
	"testing"
)

const testFrameLen = 160

func makeSineFrame(amplitude float64) []int16 {
	frame := make([]int16, testFrameLen)
	for i := range frame {
		t := float64(i) / 16000.0
		frame[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*440*t))
	}
	return frame
}

func isSilent(f []int16) bool {
	for _, s := range f {
		if s != 0 {
			return false
		}
	}
	return true
}

func TestGateSilencesQuietFrames(t *testing.T) {
	g := New()
	dst := make([]int16, testFrameLen)
	g.Process(dst, makeSineFrame(0.0005))
	if !isSilent(dst) {
		t.Fatal("quiet frame should be gated")
	}
}

func TestGatePassesLoudFrames(t *testing.T) {
	g := New()
	in := makeSineFrame(0.5)
	dst := make([]int16, testFrameLen)
	g.Process(dst, in)
	for i := range in {
		if dst[i] != in[i] {
			t.Fatalf("dst[%d] = %d, want %d", i, dst[i], in[i])
		}
	}
}

func TestGateInPlace(t *testing.T) {
	g := New()
	f := makeSineFrame(0.0005)
	g.Process(f, f)
	if !isSilent(f) {
		t.Fatal("in-place gating should silence the frame")
	}
}

func TestGateHoldPreventsChatter(t *testing.T) {
	g := New()
	g.hold = 3
	dst := make([]int16, testFrameLen)

	g.Process(dst, makeSineFrame(0.5))
	if !g.IsOpen() {
		t.Fatal("gate should be open after loud frame")
	}
	for i := 0; i < 3; i++ {
		g.Process(dst, make([]int16, testFrameLen))
		if !g.IsOpen() {
			t.Fatalf("gate closed during hold period at frame %d", i)
		}
	}
	g.Process(dst, makeSineFrame(0.0005))
	if g.IsOpen() || !isSilent(dst) {
		t.Fatal("gate should be closed after hold expired")
	}
}

func TestGateDisabledCopiesThrough(t *testing.T) {
	g := New()
	g.SetEnabled(false)
	in := makeSineFrame(0.0001)
	dst := make([]int16, testFrameLen)
	g.Process(dst, in)
	for i := range in {
		if dst[i] != in[i] {
			t.Fatalf("dst[%d] modified when gate disabled: got %d, want %d", i, dst[i], in[i])
		}
	}
}

func TestGateSetThreshold(t *testing.T) {
	g := New()
	g.SetThreshold(0)
	if math.Abs(g.Threshold()-0.001) > 1e-9 {
		t.Errorf("threshold at level 0: got %f, expected 0.001", g.Threshold())
	}
	g.SetThreshold(200)
	if math.Abs(g.Threshold()-0.10) > 1e-9 {
		t.Errorf("level > 100 should clamp, got %f", g.Threshold())
	}
	g.SetThreshold(-10)
	if math.Abs(g.Threshold()-0.001) > 1e-9 {
		t.Errorf("negative level should clamp, got %f", g.Threshold())
	}
}

func TestGateReturnsRMS(t *testing.T) {
	g := New()
	rms := g.Process(make([]int16, testFrameLen), makeSineFrame(0.5))
	if math.Abs(rms-0.5/math.Sqrt2) > 0.01 {
		t.Errorf("Process returned rms=%f, expected ~%f", rms, 0.5/math.Sqrt2)
	}
}

func TestGateReset(t *testing.T) {
	g := New()
	dst := make([]int16, testFrameLen)
	g.Process(dst, makeSineFrame(0.5))
	g.Reset()
	if g.IsOpen() {
		t.Fatal("gate should be closed after Reset")
	}
	g.Process(dst, make([]int16, testFrameLen))
	if g.IsOpen() {
		t.Fatal("gate should remain closed for silent frame after Reset")
	}
}
