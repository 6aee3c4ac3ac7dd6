package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Rishiwins/attendance-tracker/internal/types"
)

// frameSlot holds the most recent frame of a loop.
//
// Single writer (the loop goroutine), many readers. The slot owns its buffer:
// Set stores a private copy and Snapshot hands out copies, so readers never see
// a buffer the writer (or the source) may still touch.
type frameSlot struct {
	mu        sync.RWMutex
	frame     *types.Frame
	updatedAt time.Time
	seq       uint64
}

// Set replaces the stored frame (always succeeds, latest-only)
func (s *frameSlot) Set(frame types.Frame, at time.Time) {
	c := frame.Clone()

	s.mu.Lock()
	s.frame = &c
	s.updatedAt = at
	s.seq++
	s.mu.Unlock()
}

// Snapshot returns a copy of the latest frame without blocking on the writer
// for longer than a pointer swap.
func (s *frameSlot) Snapshot() (types.Frame, bool) {
	s.mu.RLock()
	f := s.frame
	s.mu.RUnlock()

	if f == nil {
		return types.Frame{}, false
	}
	// Stored frames are never mutated after Set, cloning outside the lock is safe.
	return f.Clone(), true
}

// Available reports whether at least one frame has been stored
func (s *frameSlot) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame != nil
}

// UpdatedAt returns when the slot was last written
func (s *frameSlot) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// frameQueue is a bounded, lossy FIFO of recent frames.
// A full queue drops the incoming frame rather than blocking capture.
type frameQueue struct {
	ch    chan types.Frame
	drops uint64
}

func newFrameQueue(size int) *frameQueue {
	return &frameQueue{ch: make(chan types.Frame, size)}
}

// TryPut enqueues without blocking. Returns false when the frame was dropped.
func (q *frameQueue) TryPut(frame types.Frame) bool {
	select {
	case q.ch <- frame:
		return true
	default:
		atomic.AddUint64(&q.drops, 1)
		return false
	}
}

// TryGet dequeues without blocking
func (q *frameQueue) TryGet() (types.Frame, bool) {
	select {
	case f := <-q.ch:
		return f, true
	default:
		return types.Frame{}, false
	}
}

func (q *frameQueue) Len() int { return len(q.ch) }

func (q *frameQueue) Drops() uint64 { return atomic.LoadUint64(&q.drops) }
