package aec

import (
	"fmt"
	"log/slog"
	"sync"
)

// DefaultArenaCapacity is the number of live engines an Arena holds when
// created with a non-positive capacity.
const DefaultArenaCapacity = 64

// Handle is an opaque reference to an engine in an Arena. The zero Handle
// is never valid.
type Handle uint64

func makeHandle(index, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index))
}

func (h Handle) index() uint32      { return uint32(h) }
func (h Handle) generation() uint32 { return uint32(h >> 32) }

func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.index(), h.generation())
}

type slot struct {
	engine *Engine
	gen    uint32
	live   bool
}

// Arena issues generation-checked handles for engines, so a handle kept
// after Destroy is detected instead of reaching a reused slot.
//
// Lookups are safe for concurrent use. The engines themselves are not: each
// handle must be driven by one goroutine at a time.
type Arena struct {
	mu       sync.Mutex
	slots    []slot
	free     []uint32
	capacity int
}

// NewArena creates an Arena holding at most capacity live engines.
func NewArena(capacity int) *Arena {
	if capacity <= 0 {
		capacity = DefaultArenaCapacity
	}
	return &Arena{capacity: capacity}
}

// Create allocates a new uninitialized engine.
func (a *Arena) Create() (Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var idx uint32
	switch {
	case len(a.free) > 0:
		idx = a.free[len(a.free)-1]
		a.free = a.free[:len(a.free)-1]
	case len(a.slots) < a.capacity:
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot{gen: 1})
	default:
		return 0, fmt.Errorf("arena full (%d engines): %w", a.capacity, ErrAllocation)
	}

	s := &a.slots[idx]
	s.engine = New()
	s.live = true
	return makeHandle(idx, s.gen), nil
}

// Get resolves h to its engine.
func (a *Arena) Get(h Handle) (*Engine, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, err := a.lookup(h)
	if err != nil {
		return nil, err
	}
	return s.engine, nil
}

func (a *Arena) lookup(h Handle) (*slot, error) {
	idx, gen := h.index(), h.generation()
	if gen == 0 || int(idx) >= len(a.slots) {
		return nil, fmt.Errorf("handle %s: %w", h, ErrInvalidHandle)
	}
	s := &a.slots[idx]
	switch {
	case gen > s.gen:
		return nil, fmt.Errorf("handle %s: %w", h, ErrInvalidHandle)
	case gen < s.gen || !s.live:
		return nil, fmt.Errorf("handle %s: %w", h, ErrUseAfterFree)
	}
	return s, nil
}

// Destroy closes the engine behind h and retires the handle. Destroying the
// same handle twice returns ErrUseAfterFree. An engine already closed through
// Get is still retired, and the Close error is returned.
func (a *Arena) Destroy(h Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, err := a.lookup(h)
	if err != nil {
		return err
	}
	closeErr := s.engine.Close()
	s.engine = nil
	s.live = false
	s.gen++
	if s.gen == 0 {
		// Wrapped: skip the reserved zero generation.
		s.gen = 1
	}
	a.free = append(a.free, h.index())
	slog.Debug("engine handle destroyed", "handle", h.String())
	return closeErr
}

// Len returns the number of live engines.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots) - len(a.free)
}

// Init initializes the engine behind h.
func (a *Arena) Init(h Handle, rate int) error {
	e, err := a.Get(h)
	if err != nil {
		return err
	}
	return e.Init(rate)
}

// BufferFarend buffers a far-end frame on the engine behind h.
func (a *Arena) BufferFarend(h Handle, frame []int16) error {
	e, err := a.Get(h)
	if err != nil {
		return err
	}
	return e.BufferFarend(frame)
}

// Process runs one near-end frame through the engine behind h.
func (a *Arena) Process(h Handle, nearNoisy, nearClean []int16, msInSndCardBuf int) ([]int16, error) {
	e, err := a.Get(h)
	if err != nil {
		return nil, err
	}
	return e.Process(nearNoisy, nearClean, msInSndCardBuf)
}

// SetConfig applies cfg to the engine behind h.
func (a *Arena) SetConfig(h Handle, cfg Config) error {
	e, err := a.Get(h)
	if err != nil {
		return err
	}
	return e.SetConfig(cfg)
}
