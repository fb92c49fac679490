package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunsSubmittedTasks(t *testing.T) {
	q := New(2, discard())
	defer q.Shutdown(time.Second)

	var wg sync.WaitGroup
	wg.Add(3)
	var mu sync.Mutex
	ran := map[string]bool{}

	for _, name := range []string{"a", "b", "c"} {
		name := name
		q.Submit(Normal, name, func(ctx context.Context) error {
			mu.Lock()
			ran[name] = true
			mu.Unlock()
			wg.Done()
			return nil
		})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 3 {
		t.Errorf("ran = %v, want all 3", ran)
	}
}

func TestPriorityOrdering(t *testing.T) {
	// One worker, and the first task blocks until everything is queued, so
	// the remaining order is decided purely by the heap.
	q := New(1, discard())
	defer q.Shutdown(time.Second)

	release := make(chan struct{})
	var mu sync.Mutex
	var order []string
	done := make(chan struct{})

	q.Submit(High, "gate", func(ctx context.Context) error {
		<-release
		return nil
	})
	// Give the worker a moment to pick up the gate task.
	time.Sleep(50 * time.Millisecond)

	record := func(name string) Fn {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			if len(order) == 4 {
				close(done)
			}
			mu.Unlock()
			return nil
		}
	}
	q.Submit(Low, "low1", record("low1"))
	q.Submit(Normal, "norm1", record("norm1"))
	q.Submit(High, "high1", record("high1"))
	q.Submit(Normal, "norm2", record("norm2"))

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"high1", "norm1", "norm2", "low1"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestPendingNameDedup(t *testing.T) {
	q := New(1, discard())
	defer q.Shutdown(time.Second)

	release := make(chan struct{})
	q.Submit(High, "gate", func(ctx context.Context) error {
		<-release
		return nil
	})
	time.Sleep(50 * time.Millisecond)

	var mu sync.Mutex
	runs := 0
	done := make(chan struct{})
	fn := func(ctx context.Context) error {
		mu.Lock()
		runs++
		mu.Unlock()
		close(done)
		return nil
	}

	if ok := q.Submit(Normal, "sync-600519", fn); !ok {
		t.Error("first Submit should report true")
	}
	if ok := q.Submit(Normal, "sync-600519", fn); ok {
		t.Error("duplicate Submit should report false")
	}
	st := q.Stats()
	if st.Depth != 1 { // gate is running, sync-600519 queued
		t.Errorf("depth = %d, want 1", st.Depth)
	}
	if st.Pending != 2 { // the running gate still holds its name
		t.Errorf("pending = %d, want 2", st.Pending)
	}

	close(release)
	<-done
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Errorf("task ran %d times, want 1", runs)
	}
}

func TestDedupKeepsOriginalEntry(t *testing.T) {
	q := New(1, discard())
	defer q.Shutdown(time.Second)

	release := make(chan struct{})
	q.Submit(High, "gate", func(ctx context.Context) error {
		<-release
		return nil
	})
	time.Sleep(50 * time.Millisecond)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})
	record := func(name string) Fn {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			if len(order) == 2 {
				close(done)
			}
			mu.Unlock()
			return nil
		}
	}

	q.Submit(Normal, "other", record("other"))
	q.Submit(Low, "sync-a", record("sync-a"))
	// The resubmission is dropped; the queued entry keeps its LOW priority.
	if ok := q.Submit(High, "sync-a", record("sync-a")); ok {
		t.Error("resubmission should report false")
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"other", "sync-a"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestDedupWhileRunning(t *testing.T) {
	q := New(1, discard())
	defer q.Shutdown(time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	runs := 0
	fn := func(ctx context.Context) error {
		mu.Lock()
		runs++
		first := runs == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
		}
		return nil
	}

	q.Submit(High, "incr-600519", fn)
	<-started

	// The first instance is mid-execution; its name must still block dedup.
	if ok := q.Submit(High, "incr-600519", fn); ok {
		t.Error("Submit while the task is running should report false")
	}

	close(release)
	drained := make(chan struct{})
	q.Submit(Low, "after", func(ctx context.Context) error {
		close(drained)
		return nil
	})
	<-drained

	mu.Lock()
	n := runs
	mu.Unlock()
	if n != 1 {
		t.Errorf("task ran %d times, want exactly 1", n)
	}

	// Completion clears the name; a fresh submission is accepted again.
	if ok := q.Submit(High, "incr-600519", fn); !ok {
		t.Error("Submit after completion should report true")
	}
}

func TestCountsFailures(t *testing.T) {
	q := New(1, discard())
	defer q.Shutdown(time.Second)

	done := make(chan struct{})
	q.Submit(Normal, "bad", func(ctx context.Context) error {
		defer close(done)
		return errors.New("boom")
	})
	<-done
	time.Sleep(50 * time.Millisecond)

	st := q.Stats()
	if st.Failed != 1 || st.Completed != 0 {
		t.Errorf("stats = %+v, want 1 failure", st)
	}
}

func TestRecoversPanics(t *testing.T) {
	q := New(1, discard())
	defer q.Shutdown(time.Second)

	done := make(chan struct{})
	q.Submit(Normal, "panicky", func(ctx context.Context) error {
		defer close(done)
		panic("oops")
	})
	<-done
	time.Sleep(50 * time.Millisecond)

	st := q.Stats()
	if st.Failed != 1 {
		t.Errorf("stats = %+v, want panic counted as failure", st)
	}

	// The worker survives and runs the next task.
	ok := make(chan struct{})
	q.Submit(Normal, "after", func(ctx context.Context) error {
		close(ok)
		return nil
	})
	select {
	case <-ok:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive panic")
	}
}

func TestShutdownRejectsSubmit(t *testing.T) {
	q := New(1, discard())
	q.Shutdown(time.Second)

	if ok := q.Submit(Normal, "late", func(ctx context.Context) error { return nil }); ok {
		t.Error("Submit after Shutdown should report false")
	}
}
