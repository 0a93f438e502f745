// Package forkjoin implements a user-space work-stealing runtime for strict
// fork/join parallelism in the style of Cilk: fork spawns a child and
// exposes the caller's continuation to other workers, call runs a child
// inline with no stealing, and join waits for every outstanding fork made
// by the current frame.
//
// The runtime is built from three cooperating pieces: a per-frame steal/join
// synchronization protocol (frame.go) that lets an arbitrary worker resume a
// parent once its children complete; a Chase-Lev work-stealing deque per
// worker (internal/wsdeque) that holds stealable parent continuations; and a
// pooled async-stack abstraction (stack.go) that frames bump-allocate onto
// and that migrates between workers exactly when a continuation is stolen.
//
// Go has no native stackless coroutines, so frames are instead backed by a
// dedicated goroutine parked on a channel pair (coro.go) whenever they are
// not the one actively running; driving one forward is a cheap channel
// round trip rather than a raw stack switch. See DESIGN.md for the full
// rationale of this substitution.
package forkjoin
