package aec

import "errors"

var (
	// ErrAllocation is returned when an engine cannot be created.
	ErrAllocation = errors.New("aecm: allocation failed")

	// ErrInvalidSampleRate is returned for sample rates other than 8000 and
	// 16000 Hz.
	ErrInvalidSampleRate = errors.New("aecm: invalid sample rate")

	// ErrInvalidFrameLength is returned when a frame does not hold exactly
	// FrameLength samples.
	ErrInvalidFrameLength = errors.New("aecm: invalid frame length")

	// ErrInvalidConfig is returned for out of range configuration values.
	ErrInvalidConfig = errors.New("aecm: invalid config")

	// ErrNotInitialized is returned when an engine is used before Init.
	ErrNotInitialized = errors.New("aecm: not initialized")

	// ErrUseAfterFree is returned when a destroyed engine or a stale handle
	// is used.
	ErrUseAfterFree = errors.New("aecm: use after free")

	// ErrInsufficientFarendData is returned alongside a valid output frame
	// when the aligned far-end frame was not buffered and silence was used
	// in its place.
	ErrInsufficientFarendData = errors.New("aecm: insufficient far-end data")

	// ErrInvalidHandle is returned for handles the arena never issued.
	ErrInvalidHandle = errors.New("aecm: invalid handle")

	// ErrInvalidEchoPath is returned when an echo path snapshot is corrupt or
	// does not match the engine's sample rate.
	ErrInvalidEchoPath = errors.New("aecm: invalid echo path")
)
