package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/billingiq-api/internal/infra/observability"
	"github.com/boddenberg/billingiq-api/internal/infra/worker"

	"go.uber.org/zap"
)

func TestQueue_RunsTasks(t *testing.T) {
	m := observability.NewMetrics()
	q := worker.NewQueue(worker.Config{Workers: 2, QueueSize: 10, TaskTimeout: time.Second}, m, zap.NewNop())

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 5; i++ {
		if !q.Submit("count", func(context.Context) error {
			mu.Lock()
			ran++
			mu.Unlock()
			return nil
		}) {
			t.Fatal("submit rejected")
		}
	}
	q.Submit("fail", func(context.Context) error { return errors.New("boom") })
	q.Submit("panic", func(context.Context) error { panic("bad") })

	if err := q.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if ran != 5 {
		t.Errorf("ran %d tasks, want 5", ran)
	}
	if got := m.TaskCount("count", "ok"); got != 5 {
		t.Errorf("ok count = %v", got)
	}
	if got := m.TaskCount("fail", "error"); got != 1 {
		t.Errorf("error count = %v", got)
	}
	if got := m.TaskCount("panic", "error"); got != 1 {
		t.Errorf("panic count = %v", got)
	}
}

func TestQueue_DropsWhenFull(t *testing.T) {
	m := observability.NewMetrics()
	q := worker.NewQueue(worker.Config{Workers: 1, QueueSize: 1, TaskTimeout: time.Second}, m, zap.NewNop())

	release := make(chan struct{})
	started := make(chan struct{})
	q.Submit("block", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	if !q.Submit("queued", func(context.Context) error { return nil }) {
		t.Fatal("expected the buffered slot to accept")
	}
	if q.Submit("overflow", func(context.Context) error { return nil }) {
		t.Fatal("expected overflow to be dropped")
	}
	if got := m.TaskCount("overflow", "dropped"); got != 1 {
		t.Errorf("dropped count = %v", got)
	}

	close(release)
	if err := q.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if q.Submit("late", func(context.Context) error { return nil }) {
		t.Fatal("submit after close accepted")
	}
	if err := q.Close(context.Background()); !errors.Is(err, worker.ErrClosed) {
		t.Errorf("second close = %v", err)
	}
}

func TestQueue_TaskContextHasDeadline(t *testing.T) {
	q := worker.NewQueue(worker.Config{Workers: 1, QueueSize: 1, TaskTimeout: 50 * time.Millisecond}, observability.NewMetrics(), zap.NewNop())

	got := make(chan bool, 1)
	q.Submit("deadline", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		got <- ok
		return nil
	})
	if !<-got {
		t.Error("task context has no deadline")
	}
	_ = q.Close(context.Background())
}

func TestQueue_CloseTimesOut(t *testing.T) {
	q := worker.NewQueue(worker.Config{Workers: 1, QueueSize: 1, TaskTimeout: time.Second}, observability.NewMetrics(), zap.NewNop())
	release := make(chan struct{})
	defer close(release)
	q.Submit("slow", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("close = %v, want deadline exceeded", err)
	}
}
