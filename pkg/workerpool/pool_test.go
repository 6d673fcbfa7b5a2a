package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(DefaultConfig(), nil, nil); err == nil {
		t.Fatalf("New() with nil worker func did not fail")
	}
}

func TestProcessesSubmittedTasks(t *testing.T) {
	t.Parallel()

	var processed int64
	fn := func(ctx context.Context, task *Task) *Result {
		atomic.AddInt64(&processed, 1)
		return &Result{TaskID: task.ID, Success: true}
	}

	pool, err := New(Config{Workers: 2, QueueSize: 10}, fn, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	pool.Start()

	for _, id := range []string{"t-1", "t-2", "t-3"} {
		if err := pool.Submit(&Task{ID: id}); err != nil {
			t.Fatalf("Submit(%s) error = %v", id, err)
		}
	}

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		select {
		case res := <-pool.Results():
			if !res.Success {
				t.Fatalf("task %s failed: %v", res.TaskID, res.Error)
			}
			seen[res.TaskID] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for results, got %d", len(seen))
		}
	}
	if len(seen) != 3 {
		t.Fatalf("distinct results = %d, want 3", len(seen))
	}
	if got := atomic.LoadInt64(&processed); got != 3 {
		t.Fatalf("processed = %d, want 3", got)
	}

	if err := pool.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := pool.Submit(&Task{ID: "late"}); err == nil {
		t.Fatalf("Submit() after Stop did not fail")
	}
}

func TestRetriesFailedTask(t *testing.T) {
	t.Parallel()

	var attempts int64
	fn := func(ctx context.Context, task *Task) *Result {
		if atomic.AddInt64(&attempts, 1) < 3 {
			return &Result{TaskID: task.ID, Error: errors.New("transient")}
		}
		return &Result{TaskID: task.ID, Success: true}
	}

	pool, err := New(Config{
		Workers:    1,
		QueueSize:  1,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	}, fn, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	pool.Start()
	defer pool.Stop()

	if err := pool.Submit(&Task{ID: "flaky"}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	select {
	case res := <-pool.Results():
		if !res.Success {
			t.Fatalf("task failed after retries: %v", res.Error)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for retried task")
	}
	if got := atomic.LoadInt64(&attempts); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestExhaustedRetriesFail(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("permanent")
	fn := func(ctx context.Context, task *Task) *Result {
		return &Result{TaskID: task.ID, Error: wantErr}
	}

	pool, err := New(Config{
		Workers:    1,
		QueueSize:  1,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	}, fn, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	pool.Start()
	defer pool.Stop()

	if err := pool.Submit(&Task{ID: "doomed"}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	select {
	case res := <-pool.Results():
		if res.Success {
			t.Fatalf("task reported success, want failure")
		}
		if !errors.Is(res.Error, wantErr) {
			t.Fatalf("result error = %v, want wrapped %v", res.Error, wantErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for failed task")
	}
}
