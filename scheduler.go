package forkjoin

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Scheduler is the surface the core needs from a pool of workers: a place
// to hand a freshly constructed root frame to, per §6.
type Scheduler interface {
	schedule(f *frame)
}

// pool holds the state shared by every scheduler flavor: a fixed set of
// workers, each with its own deque, stack pool and inbox, plus round-robin
// bookkeeping for where externally submitted roots land.
type pool struct {
	workers []*worker
	next    atomic.Uint32
	wg      sync.WaitGroup
	closing atomic.Bool
}

func newPool(n, dequeCapacity int) *pool {
	p := &pool{workers: make([]*worker, n)}
	for i := range p.workers {
		p.workers[i] = newWorker(i, p, dequeCapacity)
	}
	return p
}

// submit places f on a worker's inbox round-robin, per §4.I: "schedule
// (frame*) enqueues a root frame onto some worker's submission inbox
// (round-robin or current-thread-affinity)."
func (p *pool) submit(f *frame) *worker {
	n := uint32(len(p.workers))
	w := p.workers[p.next.Add(1)%n]
	w.inbox.push(f)
	return w
}

// BusyPool runs a fixed number of worker goroutines that spin between
// their inbox, their own deque, and stealing, never parking. It favors
// latency over CPU usage and is intended for benchmarking or latency
// sensitive workloads, per §4.I.
type BusyPool struct {
	p *pool
}

// NewBusyPool starts n worker goroutines, each with a deque of the given
// capacity (rounded up to a power of two).
func NewBusyPool(n, dequeCapacity int) *BusyPool {
	bp := &BusyPool{p: newPool(n, dequeCapacity)}
	for _, w := range bp.p.workers {
		bp.p.wg.Add(1)
		go bp.loop(w)
	}
	return bp
}

func (bp *BusyPool) loop(w *worker) {
	defer bp.p.wg.Done()
	for !bp.p.closing.Load() {
		if f, ok := w.findWork(); ok {
			w.beginRun(f)
		}
	}
}

func (bp *BusyPool) schedule(f *frame) { bp.p.submit(f) }

// Close signals every worker to exit once it next checks for work. It does
// not wait for in-flight roots; callers synchronize with SyncWait.
func (bp *BusyPool) Close() {
	bp.p.closing.Store(true)
	bp.p.wg.Wait()
}

// LazyPool behaves like BusyPool, except a worker that fails to find work
// for parkAfter consecutive rounds parks on a condition variable instead of
// continuing to spin. Submitting a root wakes parked workers, and so does
// every worker each time a run it started returns; a push onto a worker's
// deque does not wake anyone. Every wake broadcasts to all parked workers
// rather than signaling a single one, which is the simplest of the fan-out
// policies the design leaves open and is documented as the chosen one (§9,
// open question on wake-up policy).
type LazyPool struct {
	p         *pool
	mu        sync.Mutex
	cond      *sync.Cond
	parked    int
	parkAfter int

	// gen counts wake() calls; park compares the generation the loop saw
	// immediately before its last failed findWork against the current one
	// under the same lock it parks under, so a submit+wake landing anywhere
	// between the start of that attempt and the park call is never missed.
	gen uint64
}

// NewLazyPool starts n worker goroutines that park after parkAfter
// consecutive empty rounds. A parkAfter of 0 uses a small default.
func NewLazyPool(n, dequeCapacity, parkAfter int) *LazyPool {
	if parkAfter <= 0 {
		parkAfter = 256
	}
	lp := &LazyPool{p: newPool(n, dequeCapacity), parkAfter: parkAfter}
	lp.cond = sync.NewCond(&lp.mu)
	for _, w := range lp.p.workers {
		lp.p.wg.Add(1)
		go lp.loop(w)
	}
	return lp
}

func (lp *LazyPool) loop(w *worker) {
	defer lp.p.wg.Done()
	empty := 0
	var gen uint64
	for {
		if lp.p.closing.Load() {
			return
		}
		gen = lp.generation()
		f, ok := w.findWork()
		if ok {
			empty = 0
			w.beginRun(f)
			lp.wake()
			continue
		}
		empty++
		if empty < lp.parkAfter {
			continue
		}
		lp.park(gen)
		empty = 0
	}
}

// generation returns the current wake count, snapshotted right before each
// findWork attempt so park can tell whether anything changed between the
// start of that attempt and the moment it acquires the lock it parks under.
func (lp *LazyPool) generation() uint64 {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return lp.gen
}

// park blocks the calling worker unless a wake (or a shutdown) happened
// since seenGen was captured, in which case it returns immediately instead
// of waiting on a signal that already fired.
func (lp *LazyPool) park(seenGen uint64) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if lp.gen != seenGen || lp.p.closing.Load() {
		return
	}
	lp.parked++
	slog.Debug("worker parking", "parked", lp.parked)
	lp.cond.Wait()
	lp.parked--
}

func (lp *LazyPool) wake() {
	lp.mu.Lock()
	lp.gen++
	if lp.parked > 0 {
		lp.cond.Broadcast()
	}
	lp.mu.Unlock()
}

func (lp *LazyPool) schedule(f *frame) {
	lp.p.submit(f)
	lp.wake()
}

// Close wakes every parked worker and waits for all worker loops to exit.
func (lp *LazyPool) Close() {
	lp.p.closing.Store(true)
	lp.mu.Lock()
	lp.cond.Broadcast()
	lp.mu.Unlock()
	lp.p.wg.Wait()
}

// UnitPool runs everything on the calling goroutine with a single worker
// and no stealing. It is the "unit pool" of §8's seed suite: useful for
// deterministic tests and for exercising call-determinism, since with one
// worker no continuation can ever actually be stolen.
type UnitPool struct {
	mu sync.Mutex // serializes roots from concurrent SyncWait calls on the one worker
	w  *worker
}

// NewUnitPool constructs a single-worker pool that does not spawn any
// goroutine of its own; schedule drives the root to completion inline on
// the calling goroutine.
func NewUnitPool(dequeCapacity int) *UnitPool {
	p := &pool{workers: make([]*worker, 1)}
	p.workers[0] = newWorker(0, p, dequeCapacity)
	return &UnitPool{w: p.workers[0]}
}

func (up *UnitPool) schedule(f *frame) {
	up.mu.Lock()
	defer up.mu.Unlock()
	up.w.beginRun(f)
}
