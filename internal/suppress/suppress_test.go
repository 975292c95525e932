package suppress

import "testing"

func fill(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestNoEchoKeepsUnityGain(t *testing.T) {
	s := New(8, 3)
	g := s.Update(fill(8, 0), fill(8, 1))
	for k, v := range g {
		if v != 1 {
			t.Errorf("band %d: want unity gain without echo, got %f", k, v)
		}
	}
}

func TestGainNeverBelowFloor(t *testing.T) {
	for lvl := 0; lvl < Levels; lvl++ {
		s := New(4, lvl)
		for i := 0; i < 100; i++ {
			s.Update(fill(4, 1e3), fill(4, 1e-6))
		}
		for k, g := range s.Gains() {
			if g < Floor(lvl) || g > 1 {
				t.Errorf("level %d band %d: gain %f outside [%f, 1]", lvl, k, g, Floor(lvl))
			}
		}
		if d := s.Gains()[0] - Floor(lvl); d > 1e-6 {
			t.Errorf("level %d: gain should settle at the floor, %f above", lvl, d)
		}
	}
}

func TestHigherLevelSuppressesMore(t *testing.T) {
	echo, res := fill(1, 1), fill(1, 1)
	prev := 2.0
	for lvl := 0; lvl < Levels; lvl++ {
		s := New(1, lvl)
		var g float64
		for i := 0; i < 50; i++ {
			g = s.Update(echo, res)[0]
		}
		if g >= prev {
			t.Errorf("level %d gain %f not below level %d gain %f", lvl, g, lvl-1, prev)
		}
		prev = g
	}
}

func TestAttackFasterThanRelease(t *testing.T) {
	s := New(1, 2)
	down := 1 - s.Update(fill(1, 100), fill(1, 1))[0]

	for i := 0; i < 50; i++ {
		s.Update(fill(1, 100), fill(1, 1))
	}
	low := s.Gains()[0]
	up := s.Update(fill(1, 0), fill(1, 1))[0] - low

	if down <= up {
		t.Errorf("attack step %f should exceed release step %f", down, up)
	}
}

func TestApplyScalesSpectrum(t *testing.T) {
	s := New(3, 4)
	for i := 0; i < 100; i++ {
		s.Update(fill(3, 1e3), fill(3, 1e-3))
	}
	spec := []complex128{complex(2, -2), complex(1, 0), 0}
	s.Apply(spec)
	f := Floor(4)
	if d := real(spec[0]) - 2*f; d > 1e-6 || d < -1e-6 {
		t.Errorf("real part: want %f, got %f", 2*f, real(spec[0]))
	}
	if spec[2] != 0 {
		t.Errorf("zero bin changed: %v", spec[2])
	}
}

func TestLevelClamped(t *testing.T) {
	s := New(1, 99)
	if s.Level() != Levels-1 {
		t.Errorf("want level %d, got %d", Levels-1, s.Level())
	}
	s.SetLevel(-1)
	if s.Level() != 0 {
		t.Errorf("want level 0, got %d", s.Level())
	}
}

func TestResetRestoresUnity(t *testing.T) {
	s := New(2, 3)
	s.Update(fill(2, 10), fill(2, 1))
	s.Reset()
	for k, g := range s.Gains() {
		if g != 1 {
			t.Errorf("band %d: gain %f after Reset", k, g)
		}
	}
}
