package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeRefresher struct {
	calls atomic.Int32
	n     int
	err   error
	block chan struct{}
}

func (f *fakeRefresher) RefreshOverdue(ctx context.Context) (int, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return f.n, f.err
}

func TestNewScheduler_RejectsBadSpec(t *testing.T) {
	if _, err := NewScheduler("every now and then", &fakeRefresher{}, time.Second, zap.NewNop()); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestRunNow_ReportsCount(t *testing.T) {
	f := &fakeRefresher{n: 3}
	s, err := NewScheduler("@hourly", f, time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	n, err := s.RunNow(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("RunNow = %d, %v", n, err)
	}
}

func TestRunNow_PropagatesError(t *testing.T) {
	boom := errors.New("store down")
	s, _ := NewScheduler("@hourly", &fakeRefresher{err: boom}, time.Second, zap.NewNop())
	if _, err := s.RunNow(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestRunNow_SkipsOverlappingRun(t *testing.T) {
	f := &fakeRefresher{block: make(chan struct{})}
	s, _ := NewScheduler("@hourly", f, time.Second, zap.NewNop())

	done := make(chan struct{})
	go func() {
		_, _ = s.RunNow(context.Background())
		close(done)
	}()
	for f.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	if _, err := s.RunNow(context.Background()); err != nil {
		t.Fatalf("overlapping RunNow: %v", err)
	}
	close(f.block)
	<-done
	if got := f.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestStartStop(t *testing.T) {
	s, _ := NewScheduler("@every 1h", &fakeRefresher{}, time.Second, zap.NewNop())
	s.Start()
	if s.Next().IsZero() {
		t.Error("expected next run after Start")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
