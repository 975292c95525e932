package vad

import (
	"math"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	v := New()
	if v.threshold != DefaultThreshold {
		t.Errorf("threshold: got %f, want %f", v.threshold, DefaultThreshold)
	}
	if v.hangover != DefaultHangover {
		t.Errorf("hangover: got %d, want %d", v.hangover, DefaultHangover)
	}
	if !v.enabled {
		t.Error("expected enabled by default")
	}
}

func TestActiveDisabled(t *testing.T) {
	v := New()
	v.SetEnabled(false)
	if !v.Active(0) {
		t.Error("disabled VAD should always report activity")
	}
}

func TestActiveLoud(t *testing.T) {
	v := New()
	if !v.Active(DefaultThreshold * 2) {
		t.Error("loud frame should be active")
	}
}

func TestHangover(t *testing.T) {
	v := New()
	v.Active(DefaultThreshold * 10)
	for i := 0; i < DefaultHangover; i++ {
		if !v.Active(0) {
			t.Errorf("hangover frame %d should still be active", i)
		}
	}
	if v.Active(0) {
		t.Error("frame after hangover should be silent")
	}
}

func TestSilenceFromStart(t *testing.T) {
	v := New()
	if v.Active(0) {
		t.Error("silence without prior activity should not be active")
	}
}

func TestSetThresholdClamping(t *testing.T) {
	v := New()
	v.SetThreshold(-5)
	if math.Abs(v.Threshold()-0.0005) > 1e-12 {
		t.Errorf("level -5: got %f, want 0.0005", v.Threshold())
	}
	v.SetThreshold(500)
	if math.Abs(v.Threshold()-0.05) > 1e-12 {
		t.Errorf("level 500: got %f, want 0.05", v.Threshold())
	}
}

func TestResetClearsHangover(t *testing.T) {
	v := New()
	v.Active(1)
	v.Reset()
	if v.Active(0) {
		t.Error("Reset should clear the hangover")
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil): got %f", got)
	}
	frame := make([]int16, 160)
	for i := range frame {
		if i%2 == 0 {
			frame[i] = 16384
		} else {
			frame[i] = -16384
		}
	}
	if got := RMS(frame); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS of half-scale square: got %f, want 0.5", got)
	}
}
