package forkjoin

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// SyncWait is the externally visible entry point of §4.J: it constructs a
// root frame around fn, hands it to s, and blocks the calling goroutine on
// the root's semaphore until the root reaches final suspend. It is
// thread-safe and may be called concurrently from multiple goroutines
// sharing one Scheduler.
//
// Unlike Join, which rethrows by panicking so propagation keeps working
// across nested frame boundaries, SyncWait converts a stashed exception
// back into an ordinary returned error: this is the one place the tree's
// internal panic-based rethrow protocol meets normal Go calling
// conventions.
func SyncWait[R any](s Scheduler, fn AsyncFunc[R]) (result R, err error) {
	root := newFrame(nil, kindRoot)
	root.sem = semaphore.NewWeighted(1)
	if err := root.sem.Acquire(context.Background(), 1); err != nil {
		panic(err) // weight-1 semaphore acquired while free, context.Background: cannot fail
	}

	startChild(root, &result, fn)
	s.schedule(root)

	if err := root.sem.Acquire(context.Background(), 1); err != nil {
		panic(err)
	}

	return result, root.mergeExceptions()
}
