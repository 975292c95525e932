package offline

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"

	"aecm/internal/aec"
	"aecm/internal/agc"
	"aecm/internal/noisegate"
)

func energy(s []int16) float64 {
	var sum float64
	for _, v := range s {
		f := float64(v) / 32768
		sum += f * f
	}
	return sum
}

func TestRunCancelsEcho(t *testing.T) {
	far, near, err := Simulate(Scenario{SampleRate: 16000, Seconds: 4, DelayMs: 60, NoiseLevel: 0.0005, Seed: 7})
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	res, err := Run(context.Background(), 16000, far, near, Options{Config: aec.DefaultConfig(), MsInSndCardBuf: 60})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Output) != len(near) {
		t.Fatalf("output length %d, want %d", len(res.Output), len(near))
	}
	if res.Frames != 400 {
		t.Errorf("frames: want 400, got %d", res.Frames)
	}

	// Compare the last second of input and output.
	tail := len(near) - 16000
	in, out := energy(near[tail:]), energy(res.Output[tail:])
	if out >= in/2 {
		t.Errorf("last second: output energy %g not below half the input %g", out, in)
	}
	if d := res.Stats.Delay; d < 5 || d > 7 {
		t.Errorf("delay estimate %d frames, want about 6", d)
	}
	if len(res.EchoPath) == 0 {
		t.Error("adapted echo path was not exported")
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	near := make([]int16, 1600)
	_, err := Run(ctx, 8000, nil, near, Options{Config: aec.DefaultConfig()})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestRunStopsMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	near := make([]int16, 80*50)
	seen := 0
	_, err := Run(ctx, 8000, nil, near, Options{
		Config: aec.DefaultConfig(),
		Progress: func(frame, total int) {
			seen = frame
			if frame == 10 {
				cancel()
			}
		},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if seen != 10 {
		t.Errorf("processing continued after cancel: last frame %d", seen)
	}
}

func TestRunPadsShortInputs(t *testing.T) {
	near := make([]int16, 8000*3/10+17)
	far := make([]int16, 100)
	res, err := Run(context.Background(), 8000, far, near, Options{Config: aec.DefaultConfig()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Frames != 31 || len(res.Output) != len(near) {
		t.Errorf("frames=%d output=%d", res.Frames, len(res.Output))
	}
}

func TestRunKeepsLastFrameAligned(t *testing.T) {
	near := make([]int16, 800)
	near[100] = 8000
	near[795] = 10000
	cfg := aec.Config{Mode: aec.Mild, CNG: aec.CNGOff}

	res, err := Run(context.Background(), 8000, nil, near, Options{Config: cfg})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, i := range []int{100, 795} {
		if d := int(res.Output[i]) - int(near[i]); d < -2 || d > 2 {
			t.Errorf("sample %d: output %d, want %d", i, res.Output[i], near[i])
		}
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	if _, err := Run(ctx, 44100, nil, nil, Options{Config: aec.DefaultConfig()}); !errors.Is(err, aec.ErrInvalidSampleRate) {
		t.Errorf("rate: want ErrInvalidSampleRate, got %v", err)
	}
	if _, err := Run(ctx, 8000, nil, nil, Options{Config: aec.Config{Mode: 9}}); !errors.Is(err, aec.ErrInvalidConfig) {
		t.Errorf("config: want ErrInvalidConfig, got %v", err)
	}
	if _, err := Run(ctx, 8000, nil, nil, Options{Config: aec.DefaultConfig(), EchoPath: []byte("junk")}); !errors.Is(err, aec.ErrInvalidEchoPath) {
		t.Errorf("echo path: want ErrInvalidEchoPath, got %v", err)
	}
}

func TestRunImportsEchoPath(t *testing.T) {
	far, near, err := Simulate(Scenario{SampleRate: 8000, Seconds: 1, DelayMs: 20, Seed: 3})
	if err != nil {
		t.Fatal(err)
	}
	first, err := Run(context.Background(), 8000, far, near, Options{Config: aec.DefaultConfig()})
	if err != nil {
		t.Fatal(err)
	}
	second, err := Run(context.Background(), 8000, far, near, Options{Config: aec.DefaultConfig(), EchoPath: first.EchoPath})
	if err != nil {
		t.Fatalf("Run with imported echo path: %v", err)
	}
	if slices.Equal(first.Output, second.Output) {
		t.Error("imported echo path had no effect on the output")
	}
}

func hiss(samples int, amp float64) []int16 {
	x := xorshift{state: 11}
	out := make([]int16, samples)
	for i := range out {
		out[i] = int16(amp * 32767 * x.next())
	}
	return out
}

func tone(samples, rate int, amp float64) []int16 {
	out := make([]int16, samples)
	for i := range out {
		out[i] = int16(amp * 32767 * math.Sin(2*math.Pi*300*float64(i)/float64(rate)))
	}
	return out
}

func TestRunGatedCleanInput(t *testing.T) {
	near := hiss(8000, 0.002)
	cfg := aec.Config{Mode: aec.Aggressive, CNG: aec.CNGOff}

	plain, err := Run(context.Background(), 8000, nil, near, Options{Config: cfg})
	if err != nil {
		t.Fatal(err)
	}
	if energy(plain.Output) == 0 {
		t.Fatal("ungated hiss should pass through")
	}

	gated, err := Run(context.Background(), 8000, nil, near, Options{Config: cfg, Gate: noisegate.New()})
	if err != nil {
		t.Fatal(err)
	}
	if e := energy(gated.Output); e != 0 {
		t.Errorf("gated hiss leaked through with energy %g", e)
	}
}

func TestRunLevelsOutput(t *testing.T) {
	near := tone(16000*4, 16000, 0.05)
	cfg := aec.Config{Mode: aec.Mild, CNG: aec.CNGOff}

	res, err := Run(context.Background(), 16000, nil, near, Options{Config: cfg, AGC: agc.New()})
	if err != nil {
		t.Fatal(err)
	}
	if res.AGCGain <= 2 {
		t.Errorf("AGC gain %f, want well above unity for a quiet talker", res.AGCGain)
	}
	tail := len(near) - 16000
	if in, out := energy(near[tail:]), energy(res.Output[tail:]); out < 4*in {
		t.Errorf("last second: output energy %g not raised from %g", out, in)
	}
}

func TestSimulateIsDeterministic(t *testing.T) {
	s := Scenario{SampleRate: 8000, Seconds: 0.5, DelayMs: 40, NoiseLevel: 0.01, DoubleTalk: true, Seed: 99}
	far1, near1, err := Simulate(s)
	if err != nil {
		t.Fatal(err)
	}
	far2, near2, _ := Simulate(s)
	if !slices.Equal(far1, far2) || !slices.Equal(near1, near2) {
		t.Fatal("same scenario rendered differently")
	}
	if len(far1) != 4000 {
		t.Errorf("samples: want 4000, got %d", len(far1))
	}
}

func TestSimulateDelaysEcho(t *testing.T) {
	far, near, err := Simulate(Scenario{SampleRate: 8000, Seconds: 0.5, DelayMs: 50, Room: []float64{1}, Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	bulk := 400
	for i := 0; i < bulk; i++ {
		if near[i] != 0 {
			t.Fatalf("sample %d before the echo arrives is %d", i, near[i])
		}
	}
	for i := bulk; i < len(near); i++ {
		if near[i] != far[i-bulk] {
			t.Fatalf("sample %d: near %d, far %d", i, near[i], far[i-bulk])
		}
	}
}

func TestSimulateDoubleTalkOnlyInMiddle(t *testing.T) {
	base := Scenario{SampleRate: 8000, Seconds: 0.9, DelayMs: 10, Seed: 5}
	_, quiet, _ := Simulate(base)
	base.DoubleTalk = true
	_, talk, _ := Simulate(base)
	third := len(quiet) / 3
	if !slices.Equal(quiet[:third], talk[:third]) || !slices.Equal(quiet[2*third:], talk[2*third:]) {
		t.Error("double talk leaked outside the middle third")
	}
	if slices.Equal(quiet[third:2*third], talk[third:2*third]) {
		t.Error("double talk missing from the middle third")
	}
}

func TestSimulateValidates(t *testing.T) {
	for _, s := range []Scenario{
		{SampleRate: 22050, Seconds: 1},
		{SampleRate: 8000, Seconds: 0},
		{SampleRate: 8000, Seconds: 1, DelayMs: -5},
	} {
		if _, _, err := Simulate(s); err == nil {
			t.Errorf("expected error for %+v", s)
		}
	}
}
