package forkjoin

import (
	"log/slog"
	"math/rand"

	"github.com/dispatchrun/forkjoin/internal/wsdeque"
)

// worker owns one deque, one free-stack pool, and one submission inbox
// (component F). Its current field, the stack that new children
// bump-allocate onto, is worker-local storage (component D): by
// construction only the goroutine running this worker's scheduling loop (or
// the frame it is driving, while the loop waits on it) ever reads or writes
// it, so it needs no synchronization of its own.
type worker struct {
	id      int
	pool    *pool
	deque   *wsdeque.Deque[*frame]
	inbox   inbox
	stacks  stackPool
	rng     *rand.Rand
	current *stack
}

func newWorker(id int, p *pool, dequeCapacity int) *worker {
	return &worker{
		id:    id,
		pool:  p,
		deque: wsdeque.New[*frame](dequeCapacity),
		rng:   rand.New(rand.NewSource(int64(id)*2654435761 + 1)),
	}
}

// currentStack returns the stack that a newly forked or called child of
// whatever frame this worker is currently driving should bump-allocate
// onto. beginRun guarantees it is non-nil before any frame body runs.
func (w *worker) currentStack() *stack {
	if w.current == nil {
		panic("forkjoin: worker has no current stack while running a frame")
	}
	return w.current
}

// beginRun prepares the worker's current stack for f before driving it:
// a frame with its own stack (a previously forked continuation, stolen or
// not) has that stack adopted; a frame with none (a freshly scheduled
// root, which per §4.H allocates on the heap rather than on any stack)
// borrows one from the free pool if the worker does not already have one
// in hand.
func (w *worker) beginRun(f *frame) {
	if f.stk != nil {
		w.adoptStack(f.stk)
	} else if w.current == nil {
		w.current = w.stacks.acquire()
	}
	w.run(f)
}

// adoptStack makes s the worker's current stack, returning whatever it
// previously held to its own free pool first. This is the hand-off half of
// §4.H: "reattach the parent's stack as the worker's current stack if it
// was not already." A nil s (the parent is a root, which lives on the heap
// and has no stack of its own) leaves the current stack in place, so the
// root's later children keep allocating on it.
func (w *worker) adoptStack(s *stack) {
	if s == nil || w.current == s {
		return
	}
	if w.current != nil {
		w.stacks.release(w.current)
	}
	w.current = s
}

// releaseCurrent returns the worker's current stack to its own pool,
// leaving the worker with none. Called when a worker finishes a chain with
// nothing further queued to run on the same stack.
func (w *worker) releaseCurrent() {
	if w.current != nil {
		w.stacks.release(w.current)
		w.current = nil
	}
}

// run drives f, and whatever f symmetrically transfers control to, forward
// until something truly suspends (blocks on a lost join race) or nothing is
// left to drive. f is a loop variable rather than a recursive call so that
// a long chain of forks and final-suspends costs one stack frame on this
// worker's own goroutine, not one per frame in the spawn tree — mirroring
// the source's "return the next coroutine handle from await_suspend"
// symmetric transfer, just expressed as a trampoline instead of a tail call
// the compiler must provide.
func (w *worker) run(f *frame) {
	for f != nil {
		ev := f.coro.step(w)
		switch ev.kind {
		case suspendSpawn:
			f = ev.child // symmetric transfer into the child
		case suspendFinal:
			f = w.finalSuspend(f) // may hand back the parent to keep driving
		case suspendBlocked:
			// f lost a join race; whichever child wins it will step f
			// again (possibly from a different worker). This worker is
			// free to look for other work now.
			return
		}
	}
}

// finalSuspend implements §4.H: destroy the frame, then report which frame
// (if any) this worker should keep driving next — its parent, resumed
// inline or handed back after winning the join race, or nil if the root
// finished or some other worker now owns the parent.
func (w *worker) finalSuspend(f *frame) *frame {
	parent := f.parent
	if parent != nil {
		if exc := f.mergeExceptions(); exc != nil {
			parent.recordChild(f.forkIndex(), exc)
		}
	}
	f.markDestroyed()

	if parent == nil {
		// Root: SyncWait, not any parent, consumes f's stashed exception.
		w.releaseCurrent()
		f.sem.Release(1)
		return nil
	}

	if f.kind == kindCalled {
		// Never pushed to any deque, so nothing could have stolen it;
		// the caller's goroutine is always the one to resume.
		return parent
	}

	if popped, ok := w.deque.Pop(); ok {
		if popped != parent {
			panic("forkjoin: final suspend popped a continuation other than its own parent")
		}
		w.adoptStack(parent.stk)
		return parent
	}

	if parent.childJoined() {
		parent.reset()
		w.adoptStack(parent.stk)
		return parent
	}

	// We are not the last child outstanding. If we had been sharing the
	// parent's stack, give it up: take a fresh one so whichever worker
	// ultimately resumes the parent can install it as current.
	if w.current == parent.stk {
		w.stacks.release(w.current)
		w.current = nil
	}
	return nil
}

// trySteal attempts one steal from a uniformly random worker of the pool;
// drawing w itself counts as a failed attempt. A successful steal makes w the frame's new sole owner, so it is the one
// that must record the steal on the frame's plain (non-atomic) steals
// counter — the write this join protocol's fast path checks for — before
// anyone drives it further.
func (w *worker) trySteal() (*frame, bool) {
	n := len(w.pool.workers)
	if n <= 1 {
		return nil, false
	}
	victim := w.pool.workers[w.rng.Intn(n)]
	if victim == w {
		return nil, false
	}
	f, ok := victim.deque.Steal()
	if !ok {
		return nil, false
	}
	f.steals++
	slog.Debug("stole continuation", "thief", w.id, "victim", victim.id)
	return f, true
}

// findWork drains the inbox, then the local deque, then tries one steal.
func (w *worker) findWork() (*frame, bool) {
	if f := w.inbox.pop(); f != nil {
		return f, true
	}
	if f, ok := w.deque.Pop(); ok {
		return f, true
	}
	return w.trySteal()
}
