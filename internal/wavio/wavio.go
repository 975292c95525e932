// Package wavio reads and writes mono 16-bit PCM WAV files as int16 frames.
package wavio

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	ErrInvalidWAV = errors.New("not a valid WAV file")
	ErrNotMono    = errors.New("WAV is not mono")
	ErrNot16Bit   = errors.New("PCM is not 16-bit")
)

const pcmFormat = 1

// Clip is a decoded mono recording.
type Clip struct {
	SampleRate int
	Samples    []int16
}

// Read decodes a mono 16-bit PCM WAV file.
func Read(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%s: %w", path, ErrInvalidWAV)
	}
	if d.NumChans != 1 {
		return nil, fmt.Errorf("%s has %d channels: %w", path, d.NumChans, ErrNotMono)
	}
	if d.BitDepth != 16 {
		return nil, fmt.Errorf("%s is %d-bit: %w", path, d.BitDepth, ErrNot16Bit)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	clip := &Clip{
		SampleRate: int(d.SampleRate),
		Samples:    make([]int16, len(buf.Data)),
	}
	for i, v := range buf.Data {
		clip.Samples[i] = int16(v)
	}
	return clip, nil
}

// Write encodes samples as a mono 16-bit PCM WAV file, replacing path.
func Write(path string, rate int, samples []int16) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}

	enc := wav.NewEncoder(f, rate, 16, 1, pcmFormat)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, s := range samples {
		buf.Data[i] = int(s)
	}
	if err := enc.Write(buf); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	return f.Close()
}
