package forkjoin

import (
	"sync/atomic"

	"github.com/gammazero/deque"
)

// defaultSegmentCapacity is the number of frames bump-allocated contiguously
// before a stack falls back to a one-off heap allocation per §7.3.
const defaultSegmentCapacity = 64

// stack is a fixed-size, bump-allocated segment that frames live on. It is
// the Go rendition of the design's async stack: child frames bump-allocate
// at the high end of the segment, a worker holds at most one stack current
// at a time, and ownership transfers wholesale between workers exactly when
// a continuation is stolen (see worker.go's adoptStack/releaseCurrent).
//
// Go gives every goroutine its own growable, GC-managed stack already, so
// this type does not host raw machine stack memory the way the source's
// does; instead it bump-allocates the frame control blocks themselves,
// which is the part of the design actually exercised by the protocol in
// §4.H (capacity, exhaustion fallback, pooling, and hand-off).
type stack struct {
	frames []frame
	fp     int
	active atomic.Int32 // live, undestroyed frames allocated from this segment
	onHeap bool          // true for a one-off fallback allocation; never pooled
}

func newStack(capacity int) *stack {
	return &stack{frames: make([]frame, capacity)}
}

// alloc bump-allocates a frame from the segment, or falls back to a
// standalone heap-allocated segment of capacity one if the segment is full,
// preferring availability over failure: a Go program would rather allocate
// than terminate when a fixed-size pool is momentarily exhausted.
func (s *stack) alloc(parent *frame, kind frameKind) *frame {
	if s.fp >= len(s.frames) {
		overflow := &stack{frames: make([]frame, 1), onHeap: true}
		return overflow.alloc(parent, kind)
	}
	f := &s.frames[s.fp]
	s.fp++
	*f = frame{parent: parent, kind: kind, stk: s}
	f.joins.Store(bias)
	s.active.Add(1)
	return f
}

// release is called when a frame allocated from this segment is destroyed.
// Once every frame ever allocated from a (non-heap) segment has been
// released, the segment's bump pointer may be rewound and the segment
// reused — but only by the pool, once nothing can still reference it.
func (s *stack) release() {
	s.active.Add(-1)
}

func (s *stack) quiescent() bool {
	return s.active.Load() == 0
}

func (s *stack) rewind() {
	s.fp = 0
}

// stackPool is a worker's free list of idle segments, borrowed whenever the
// worker starts running a brand-new frame chain. A segment is pushed back
// as soon as the worker gives it up, and acquire hands it out again only
// once it has become quiescent. It is deliberately not synchronized:
// per §5, a worker's current stack and free pool are touched only by the
// worker that owns them.
type stackPool struct {
	free deque.Deque[*stack]
}

func (p *stackPool) acquire() *stack {
	for scanned, n := 0, p.free.Len(); scanned < n; scanned++ {
		s := p.free.PopBack()
		if s.quiescent() {
			s.rewind()
			return s
		}
		// Still referenced by a frame a thief hasn't finished with yet;
		// push it back to the front and try the next one instead of
		// blocking the pool on it.
		p.free.PushFront(s)
	}
	return newStack(defaultSegmentCapacity)
}

func (p *stackPool) release(s *stack) {
	if s.onHeap {
		return // one-off fallback allocations are never pooled
	}
	p.free.PushBack(s)
}
