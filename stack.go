package phonic

import (
	"errors"
	"sync"

	"github.com/pipelined/phonic/signal"
)

// CacheState is a state of decoded-frame cache.
type CacheState int

const (
	// NotCaching means caching was never requested. It's a terminal state.
	NotCaching CacheState = iota
	// FillingCache means the next run decodes the source and appends
	// every frame to the stack.
	FillingCache
	// ReplayingFromCache means the stack is sealed and runs replay it
	// without touching the source.
	ReplayingFromCache
)

func (s CacheState) String() string {
	switch s {
	case NotCaching:
		return "not caching"
	case FillingCache:
		return "filling"
	case ReplayingFromCache:
		return "from stack"
	}
	return "unknown"
}

// ErrStackSealed is returned when frames are pushed into sealed stack.
var ErrStackSealed = errors.New("stack is sealed")

// ErrNotFilling is returned when stack is used as filling while it's not.
var ErrNotFilling = errors.New("stack is not filling")

// Stack is a decoded-frame cache owned by a single decoder. Once sealed it's
// read-only and safe for concurrent reads.
type Stack struct {
	mu     sync.RWMutex
	state  CacheState
	info   StreamInfo
	frames []Frame
}

// NewStack returns a stack in FillingCache state.
func NewStack() *Stack {
	return &Stack{state: FillingCache}
}

// State returns current state. Nil stack is NotCaching.
func (s *Stack) State() CacheState {
	if s == nil {
		return NotCaching
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Filling returns true if stack is in FillingCache state.
func (s *Stack) Filling() bool {
	return s.State() == FillingCache
}

// Replaying returns true if stack is sealed.
func (s *Stack) Replaying() bool {
	return s.State() == ReplayingFromCache
}

// Push appends a copy of the frame.
func (s *Stack) Push(f Frame) error {
	if s == nil {
		return ErrNotFilling
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case ReplayingFromCache:
		return ErrStackSealed
	case NotCaching:
		return ErrNotFilling
	}
	s.frames = append(s.frames, f.Copy())
	return nil
}

// Seal moves stack from FillingCache to ReplayingFromCache. It happens
// exactly once.
func (s *Stack) Seal(info StreamInfo) error {
	if s == nil {
		return ErrNotFilling
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case ReplayingFromCache:
		return ErrStackSealed
	case NotCaching:
		return ErrNotFilling
	}
	var total int64
	for i := range s.frames {
		total += int64(s.frames[i].Size())
	}
	info.TotalFrames = total
	info.Duration = signal.DurationOf(info.SampleRate, total)
	s.info = info
	s.state = ReplayingFromCache
	return nil
}

// Discard drops frames of incomplete fill. Sealed stack is not affected.
func (s *Stack) Discard() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == FillingCache {
		s.frames = nil
	}
}

// Len returns number of cached frames.
func (s *Stack) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames)
}

// Info returns stream info recorded when stack was sealed.
func (s *Stack) Info() StreamInfo {
	if s == nil {
		return StreamInfo{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Frame returns a copy of cached frame at position i.
func (s *Stack) Frame(i int) (Frame, bool) {
	if s == nil {
		return Frame{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.frames) {
		return Frame{}, false
	}
	return s.frames[i].Copy(), true
}

// Frames returns copies of all cached frames.
func (s *Stack) Frames() []Frame {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	frames := make([]Frame, len(s.frames))
	for i := range s.frames {
		frames[i] = s.frames[i].Copy()
	}
	return frames
}
