package forkjoin

// This file adapts a channel-handshake coroutine primitive (a Context
// paired with a Coroutine, driven by repeated calls to Next/Yield) to the
// needs of a fork/join scheduler: we only ever need to suspend and resume a
// frame, never to pass a stream of values through it, so a generic R/S
// result/send pair collapses to a single suspendEvent. The one thing that
// does need to cross the channel, in both directions, is which worker is
// currently driving the frame: that is the Go stand-in for a worker-local
// "current context" pointer, since the goroutine backing a frame can be
// resumed by a different worker than the one that last ran it.

// suspendKind is the reason a frame's backing goroutine yielded control
// back to whichever worker is driving it.
type suspendKind uint8

const (
	// suspendSpawn means the frame forked or called a child; the driving
	// worker should immediately run child next (the "symmetric transfer"
	// of the design).
	suspendSpawn suspendKind = iota
	// suspendBlocked means the frame lost a join race and must wait for
	// a child to resume it; the driving worker is free to go find other
	// work.
	suspendBlocked
	// suspendFinal means the frame's body returned; the driving worker
	// must run the final-suspend protocol.
	suspendFinal
)

type suspendEvent struct {
	kind  suspendKind
	child *frame
}

// coro is the dedicated goroutine backing one frame's execution. It stands
// in for the stackless coroutine the source assumes: initial_suspend always
// suspends (the goroutine parks immediately on creation), and every
// subsequent suspension point is a channel round trip rather than a raw
// stack switch, so driving a coro forward is safe from any OS thread.
type coro struct {
	resume chan *worker
	yield  chan suspendEvent
}

func newCoro(body func(c *coro, w *worker)) *coro {
	c := &coro{
		resume: make(chan *worker),
		yield:  make(chan suspendEvent),
	}
	go func() {
		w := <-c.resume // initial suspend: wait for the first step
		body(c, w)
	}()
	return c
}

// step unblocks the coroutine, reporting w as the worker now driving it,
// and waits for its next suspension. It is called only by the worker
// currently driving the frame.
func (c *coro) step(w *worker) suspendEvent {
	c.resume <- w
	return <-c.yield
}

// suspend is called from inside the coroutine's own goroutine: it reports
// ev to whoever is driving it and blocks until stepped again, returning
// whichever worker performed that step. Control resumes in the caller's
// body exactly after this call — on whatever worker happened to call step,
// which per the frame protocol is either the same worker coming back
// around or the child that won the join race.
func (c *coro) suspend(ev suspendEvent) *worker {
	c.yield <- ev
	return <-c.resume
}

// finish reports a final-suspend event and returns without waiting to be
// resumed. A frame that reaches final suspend is destroyed and never
// stepped again, so finish — unlike suspend — lets this goroutine actually
// exit instead of blocking forever on a resume that will never arrive.
func (c *coro) finish(ev suspendEvent) {
	c.yield <- ev
}
