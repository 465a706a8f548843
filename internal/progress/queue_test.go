package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueue_PushPoll(t *testing.T) {
	q := New[int]()

	if _, ok := q.Poll(); ok {
		t.Error("Poll() on empty queue should report no message")
	}

	q.Push(1)
	q.Push(2)
	q.Push(3)

	if q.Len() != 3 {
		t.Errorf("Len() = %d, want 3", q.Len())
	}

	for want := 1; want <= 3; want++ {
		got, ok := q.Poll()
		if !ok {
			t.Fatalf("Poll() returned no message, want %d", want)
		}
		if got != want {
			t.Errorf("Poll() = %d, want %d", got, want)
		}
	}

	if q.Len() != 0 {
		t.Errorf("Len() after drain = %d, want 0", q.Len())
	}
}

func TestQueue_DrainCap(t *testing.T) {
	q := New[int]()
	for i := 0; i < 10; i++ {
		q.Push(i)
	}

	batch := q.Drain(4)
	if len(batch) != 4 {
		t.Fatalf("Drain(4) returned %d messages, want 4", len(batch))
	}
	for i, v := range batch {
		if v != i {
			t.Errorf("batch[%d] = %d, want %d", i, v, i)
		}
	}

	rest := q.Drain(0)
	if len(rest) != 6 {
		t.Fatalf("Drain(0) returned %d messages, want 6", len(rest))
	}
	if rest[0] != 4 || rest[5] != 9 {
		t.Errorf("Drain(0) order wrong: %v", rest)
	}
}

func TestQueue_GrowsPastInitialCapacity(t *testing.T) {
	q := New[int]()

	// Push well past the initial ring size, with interleaved partial
	// drains so head is offset when growth happens.
	const total = 1000
	next := 0
	for i := 0; i < total; i++ {
		q.Push(i)
		if i%7 == 0 {
			if got, ok := q.Poll(); ok {
				if got != next {
					t.Fatalf("Poll() = %d, want %d", got, next)
				}
				next++
			}
		}
	}

	for {
		got, ok := q.Poll()
		if !ok {
			break
		}
		if got != next {
			t.Fatalf("Poll() = %d, want %d", got, next)
		}
		next++
	}

	if next != total {
		t.Errorf("drained %d messages, want %d", next, total)
	}
}

func TestQueue_CloseSemantics(t *testing.T) {
	q := New[string]()
	q.Push("before")
	q.Close()
	q.Push("after") // dropped

	if !q.Closed() {
		t.Error("Closed() = false after Close()")
	}

	got, ok := q.Poll()
	if !ok || got != "before" {
		t.Errorf("Poll() = %q, %v; want \"before\", true", got, ok)
	}

	_, err := q.Next(context.Background())
	if !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Next() error = %v, want ErrQueueClosed", err)
	}

	// Close is idempotent.
	q.Close()
}

func TestQueue_NextBlocksUntilPush(t *testing.T) {
	q := New[int]()

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push(42)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := q.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if got != 42 {
		t.Errorf("Next() = %d, want 42", got)
	}
}

func TestQueue_NextHonorsContext(t *testing.T) {
	q := New[int]()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Next(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := New[int]()

	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()

	total := 0
	for {
		batch := q.Drain(128)
		if len(batch) == 0 {
			break
		}
		total += len(batch)
	}
	if total != producers*perProducer {
		t.Errorf("drained %d messages, want %d", total, producers*perProducer)
	}

	m := q.Metrics()
	if m.Pushed != uint64(producers*perProducer) {
		t.Errorf("Metrics().Pushed = %d, want %d", m.Pushed, producers*perProducer)
	}
	if m.Drained != m.Pushed {
		t.Errorf("Metrics().Drained = %d, want %d", m.Drained, m.Pushed)
	}
}
