// Package offline runs an echo canceller over whole recordings.
package offline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"aecm/internal/aec"
	"aecm/internal/agc"
	"aecm/internal/noisegate"
)

// Options configures a Run.
type Options struct {
	Config aec.Config

	// MsInSndCardBuf is passed to every Process call as the delay hint.
	MsInSndCardBuf int

	// EchoPath, when set, is imported before the first frame.
	EchoPath []byte

	// Gate, when set, gates a copy of every near-end frame and hands it to
	// the engine as the clean input. Adaptation still sees the raw capture.
	Gate *noisegate.Gate

	// AGC, when set, levels the engine output.
	AGC *agc.AGC

	// Progress, when set, is called after every processed frame.
	Progress func(frame, total int)
}

// Result is the outcome of a Run.
type Result struct {
	// Output has the same length as the near-end input and is aligned with
	// it; the one-frame synthesis latency is compensated.
	Output   []int16
	Frames   int
	Stats    aec.Stats
	EchoPath []byte  // adapted filter taps after the last frame
	AGCGain  float64 // final AGC gain, zero without Options.AGC
	Duration time.Duration
}

// Run cancels the echo of far in near, both sampled at rate. far is
// zero-padded when shorter than near. ctx is checked between frames.
func Run(ctx context.Context, rate int, far, near []int16, opts Options) (*Result, error) {
	e := aec.New()
	defer e.Close()

	if err := e.Init(rate); err != nil {
		return nil, err
	}
	if err := e.SetConfig(opts.Config); err != nil {
		return nil, err
	}
	if len(opts.EchoPath) > 0 {
		if err := e.SetEchoPath(opts.EchoPath); err != nil {
			return nil, fmt.Errorf("import echo path: %w", err)
		}
	}

	n := e.FrameLength()
	total := (len(near) + n - 1) / n
	// One extra silent frame flushes the overlap-add tail of the last input
	// frame; the leading frame of latency is dropped below.
	out := make([]int16, 0, (total+1)*n)
	res := &Result{}
	start := time.Now()

	farFrame := make([]int16, n)
	nearFrame := make([]int16, n)
	var cleanFrame []int16
	if opts.Gate != nil {
		cleanFrame = make([]int16, n)
	}
	for i := 0; i < total+1; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("stopped after %d of %d frames: %w", i, total, err)
		}
		fill(farFrame, far, i*n)
		fill(nearFrame, near, i*n)

		if err := e.BufferFarend(farFrame); err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		if opts.Gate != nil {
			opts.Gate.Process(cleanFrame, nearFrame)
		}
		frame, err := e.Process(nearFrame, cleanFrame, opts.MsInSndCardBuf)
		if err != nil && !errors.Is(err, aec.ErrInsufficientFarendData) {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		if opts.AGC != nil {
			opts.AGC.Process(frame)
		}
		out = append(out, frame...)
		if i == total {
			break
		}
		res.Frames++
		if opts.Progress != nil {
			opts.Progress(i+1, total)
		}
	}

	res.Output = out[n : n+len(near)]
	res.Stats = e.Stats()
	path, err := e.EchoPath()
	if err != nil {
		return nil, fmt.Errorf("export echo path: %w", err)
	}
	res.EchoPath = path
	res.Duration = time.Since(start)
	if opts.AGC != nil {
		res.AGCGain = opts.AGC.Gain()
	}
	slog.Debug("offline run finished", "frames", res.Frames, "erle_db", res.Stats.ERLE, "delay", res.Stats.Delay, "elapsed", res.Duration)
	return res, nil
}

// fill copies src[off:] into dst and zero-pads what is left.
func fill(dst, src []int16, off int) {
	n := 0
	if off < len(src) {
		n = copy(dst, src[off:])
	}
	clear(dst[n:])
}
