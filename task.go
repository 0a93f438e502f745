package forkjoin

import "fmt"

// Task is the handle a running frame's body uses to fork, call, and join
// children. It is created once per frame and threaded through every
// operation in this file; its w field tracks whichever worker is currently
// driving the frame, which can change across a suspension point if the
// frame's continuation was stolen. This is the explicit-context design
// alternative the source's worker-local storage leaves open (§9): rather
// than a thread-local "current context" pointer, the context travels with
// the call.
type Task struct {
	w *worker
	f *frame
}

// AsyncFunc is the body of a root, forked, or called frame.
type AsyncFunc[R any] func(t *Task) R

func toError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("forkjoin: %v", r)
}

// startChild wires fn into f's coroutine. A panic that escapes fn is the
// unhandled-exception policy of §7.1: it is stashed on f as an error and
// f's result slot is left at its zero value. Task.Stash is the explicit
// opt-out that records an error without unwinding the rest of the body.
func startChild[R any](f *frame, slot *R, fn AsyncFunc[R]) {
	f.coro = newCoro(func(c *coro, w *worker) {
		t := &Task{w: w, f: f}
		defer func() {
			if r := recover(); r != nil {
				f.stash(toError(r))
			}
			c.finish(suspendEvent{kind: suspendFinal})
		}()
		*slot = fn(t)
	})
}

// Fork spawns a child frame running fn on the current worker's async stack,
// writing its eventual result into slot. The parent's continuation —
// everything from here to its next suspension point — is pushed onto the
// current worker's deque, exposing it to theft, and control transfers
// directly into the child (§4.G fork_awaitable).
func Fork[R any](t *Task, slot *R, fn AsyncFunc[R]) {
	w := t.w
	parent := t.f

	child := w.currentStack().alloc(parent, kindForked)
	child.index = parent.nextForkIndex
	parent.nextForkIndex++
	parent.forkCount++

	startChild(child, slot, fn)

	// parent.steals is incremented only if this push is actually won by a
	// thief (see worker.trySteal), not here: a push that the owner itself
	// later pops back (the common case) never touches the join protocol
	// at all.
	w.deque.Push(parent)
	t.w = parent.coro.suspend(suspendEvent{kind: suspendSpawn, child: child})
}

// Call runs a child frame inline: unlike Fork, the parent's continuation is
// never exposed to stealers, so no steal race is possible and the parent
// resumes as soon as the child reaches final suspend (§4.G call_awaitable).
func Call[R any](t *Task, slot *R, fn AsyncFunc[R]) {
	w := t.w
	parent := t.f

	child := w.currentStack().alloc(parent, kindCalled)
	child.index = parent.nextForkIndex
	parent.nextForkIndex++

	startChild(child, slot, fn)

	t.w = parent.coro.suspend(suspendEvent{kind: suspendSpawn, child: child})
}

// Join waits for every Fork made by the current frame since its last Join
// to complete (§4.G join_awaitable), then merges and rethrows — by
// panicking — any exceptions they, or the frame itself via Stash, recorded;
// child exceptions take precedence over the frame's own, left-most child
// wins ties (§7.1). Merging consumes what it finds, so a second Join with
// no intervening Fork or Call observes nothing: the idempotence law of §8.
func Join(t *Task) {
	f := t.f
	if !f.observeFastPath() {
		if !f.publish() {
			t.w = f.coro.suspend(suspendEvent{kind: suspendBlocked})
		}
	}
	if err := f.mergeExceptions(); err != nil {
		panic(err)
	}
}

// Stash records err on the calling frame without panicking, opting this
// frame's body out of the default terminate-on-exception policy. A later
// Join — here, or wherever this frame's own merged error lands in an
// ancestor — still surfaces it.
func (t *Task) Stash(err error) {
	t.f.stash(err)
}
