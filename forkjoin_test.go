package forkjoin

import "testing"

// fib is the canonical fork/join benchmark: the left branch is forked so it
// can be stolen, the right branch is called inline, matching the shape every
// benchmark in the source corpus uses it for.
func fib(t *Task, n int) int {
	if n < 2 {
		return n
	}
	var a, b int
	Fork(t, &a, func(t *Task) int { return fib(t, n-1) })
	Call(t, &b, func(t *Task) int { return fib(t, n-2) })
	Join(t)
	return a + b
}

func TestFibAcrossPools(t *testing.T) {
	const n = 20
	const want = 6765

	t.Run("BusyPool", func(t *testing.T) {
		p := NewBusyPool(4, 256)
		defer p.Close()
		got, err := SyncWait(p, func(t *Task) int { return fib(t, n) })
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("fib(%d) = %d, want %d", n, got, want)
		}
	})

	t.Run("LazyPool", func(t *testing.T) {
		p := NewLazyPool(4, 256, 0)
		defer p.Close()
		got, err := SyncWait(p, func(t *Task) int { return fib(t, n) })
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("fib(%d) = %d, want %d", n, got, want)
		}
	})

	t.Run("UnitPool", func(t *testing.T) {
		p := NewUnitPool(256)
		got, err := SyncWait(p, func(t *Task) int { return fib(t, n) })
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("fib(%d) = %d, want %d", n, got, want)
		}
	})
}

// TestFibStableUnderSteals runs fib(25) a thousand times on a busy pool to
// shake out any race in the join protocol that only shows up once stealing
// actually happens under contention.
func TestFibStableUnderSteals(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	const n = 25
	const want = 75025

	p := NewBusyPool(4, 256)
	defer p.Close()

	for i := 0; i < 1000; i++ {
		got, err := SyncWait(p, func(t *Task) int { return fib(t, n) })
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("iteration %d: fib(%d) = %d, want %d", i, n, got, want)
		}
	}
}

// TestJoinIdempotence checks the law that a second Join with no intervening
// Fork or Call observes nothing: merging consumes what it finds.
func TestJoinIdempotence(t *testing.T) {
	p := NewUnitPool(256)
	_, err := SyncWait(p, func(t *Task) int {
		var a int
		Fork(t, &a, func(t *Task) int { return 1 })
		Join(t)
		Join(t) // must not re-observe or re-panic on anything
		Join(t)
		return a
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestCallIsDeterministicOnUnitPool exercises Call's guarantee that, with a
// single worker and therefore no possibility of theft, a called child always
// runs to completion before its caller resumes.
func TestCallIsDeterministicOnUnitPool(t *testing.T) {
	p := NewUnitPool(256)
	order := make([]int, 0, 2)
	_, err := SyncWait(p, func(t *Task) int {
		var r int
		Call(t, &r, func(t *Task) int {
			order = append(order, 1)
			return 0
		})
		order = append(order, 2)
		return r
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("call did not run inline before its caller resumed: %v", order)
	}
}
