package forkjoin

import (
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// bias is the starting value of a frame's joins counter. Encoding the
// number of children that have joined as (bias - joins.Load()) lets the
// parent publish its expected child count with a single fetch_sub that is
// atomic with respect to every child's own decrement; see (*frame).publish.
const bias = ^uint32(0)

// frameKind records how a frame came to exist, since the final-suspend
// protocol branches sharply between them: a called child can never have had
// its continuation exposed to a thief, so it skips the steal/join machinery
// entirely, while a forked child always goes through it.
type frameKind uint8

const (
	kindRoot frameKind = iota
	kindForked
	kindCalled
)

// childError pairs a stashed exception with the fork order of the child
// that produced it, so merging can always walk children left to right
// regardless of the order in which they actually complete.
type childError struct {
	index int
	err   error
}

// frame is the control block for one coroutine: the scheduling metadata
// that lets an arbitrary worker resume a parent once its children
// complete, without any global lock. Every exported API (Task, Fork, Call,
// Join) is a thin, type-safe wrapper around a *frame.
type frame struct {
	parent *frame
	kind   frameKind
	coro   *coro
	stk    *stack

	// steals and joins together implement the protocol in §4.G of the
	// design: steals is the number of times this frame's continuation has
	// been stolen since the last reset (plain, written only by the frame's
	// current owner, i.e. the thief at steal time); joins is the biased
	// atomic counter that forked children decrement as they finish when
	// their parent's continuation was stolen.
	steals uint32
	joins  atomic.Uint32

	// forkCount is a debug-only fork/join balance check; it is
	// incremented on every fork and must be back to zero by the time the
	// frame is destroyed.
	forkCount int32

	// index is the position this frame occupies among its parent's
	// children, assigned at fork/call time; used only to merge stashed
	// exceptions in a deterministic, left-to-right order.
	index int

	// nextForkIndex assigns each child a stable position so exceptions
	// merge in left-to-right order even if children finish out of order.
	nextForkIndex int

	mu        sync.Mutex // guards exception and children below; cold path only
	exception error
	children  []childError
	sem       *semaphore.Weighted // root only: released at final suspend
	destroyed bool
}

func newFrame(parent *frame, kind frameKind) *frame {
	f := &frame{parent: parent, kind: kind}
	f.joins.Store(bias)
	return f
}

func (f *frame) forkIndex() int { return f.index }

// markDestroyed enforces the debug invariants in §7.2: every frame is
// destroyed exactly once, with no outstanding forks and a fully reset join
// counter. These are cheap enough to leave enabled unconditionally rather
// than gate behind a build tag.
func (f *frame) markDestroyed() {
	if f.destroyed {
		panic("forkjoin: frame destroyed twice")
	}
	// steals/joins describe this frame's own children, regardless of how
	// this frame itself was spawned: a called frame that forks its own
	// children must join them before returning just the same as a root or
	// forked one.
	if f.steals != 0 || f.joins.Load() != bias {
		panic("forkjoin: frame destroyed with outstanding forks not joined")
	}
	if f.forkCount != 0 {
		panic("forkjoin: frame destroyed with unbalanced fork/join accounting")
	}
	f.destroyed = true
	if f.stk != nil {
		f.stk.release()
	}
}

func (f *frame) reset() {
	f.steals = 0
	f.forkCount = 0
	f.joins.Store(bias)
}

// observeFastPath reports whether the frame can proceed through a join
// without publishing to the atomic counter: either its continuation was
// never stolen since the last reset (every forked child found this frame
// still on the deque and popped it back), or every child that finished
// after a steal has already decremented joins.
// Either way this join has fully completed, so reset runs unconditionally —
// mirroring the unconditional debug_reset() the source's await_resume()
// performs on every completion of a join, fast path or not.
func (f *frame) observeFastPath() bool {
	if f.steals == 0 {
		f.reset()
		return true
	}
	joined := bias - f.joins.Load()
	if f.steals == joined {
		f.reset()
		return true
	}
	return false
}

// publish announces the expected steal count to racing children. It
// returns true if, by the time this call lands, every expected child had
// already finished — i.e. the parent itself won the join race and may
// proceed without suspending.
func (f *frame) publish() bool {
	sub := bias - f.steals
	if f.joins.Add(-sub) == 0 {
		f.reset()
		return true
	}
	return false
}

// childJoined is called by a forked child's final suspend to decrement the
// parent's join counter. It returns true if this child was the last one
// outstanding, in which case the caller is responsible for resuming parent.
func (f *frame) childJoined() bool {
	return f.joins.Add(^uint32(0)) == 0
}

func (f *frame) stash(err error) {
	if err == nil {
		return
	}
	f.mu.Lock()
	f.exception = err
	f.mu.Unlock()
}

// recordChild is called when a forked or called child reaches final
// suspend with a non-nil exception; it is stored against the child's fork
// index so mergeExceptions can walk children in the order they were
// created, left to right, regardless of completion order.
func (f *frame) recordChild(index int, err error) {
	f.mu.Lock()
	f.children = append(f.children, childError{index: index, err: err})
	f.mu.Unlock()
}

// mergeExceptions implements the §7 merge policy: child exceptions take
// precedence over the frame's own, leftmost child wins ties. It consumes
// (clears) whatever it returns, so a second join with no intervening
// fork/call observes nothing — the idempotence law in §8.
func (f *frame) mergeExceptions() error {
	f.mu.Lock()
	children := f.children
	f.children = nil
	own := f.exception
	f.exception = nil
	f.mu.Unlock()

	if len(children) == 0 {
		return own
	}
	sort.Slice(children, func(i, j int) bool { return children[i].index < children[j].index })
	for _, c := range children {
		if c.err != nil {
			return c.err
		}
	}
	return own
}
