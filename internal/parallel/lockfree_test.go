package parallel

import (
	"sync"
	"testing"
)

func TestLockFreeQueueFIFO(t *testing.T) {
	q := NewLockFreeQueue()
	if !q.IsEmpty() {
		t.Fatal("expected new queue to be empty")
	}
	q.Enqueue(1)
	q.Enqueue(2)
	q.Enqueue(3)
	if q.Len() != 3 {
		t.Fatalf("len = %d, want 3", q.Len())
	}
	for _, want := range []int{1, 2, 3} {
		v, ok := q.Dequeue()
		if !ok || v.(int) != want {
			t.Fatalf("dequeue = %v, %v; want %d, true", v, ok, want)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("expected empty dequeue to report false")
	}
}

func TestLockFreeQueueConcurrent(t *testing.T) {
	q := NewLockFreeQueue()
	const n = 200

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			q.Enqueue(i)
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		v, ok := q.Dequeue()
		if !ok {
			t.Fatalf("dequeue %d failed early, only got %d items", i, len(seen))
		}
		seen[v.(int)] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d distinct values, want %d", len(seen), n)
	}
	if !q.IsEmpty() {
		t.Fatal("expected queue drained after n dequeues")
	}
}
