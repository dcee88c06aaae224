package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/macjediwizard/coursesync/internal/calsync"
	"github.com/macjediwizard/coursesync/internal/gcal"
)

type fakeStore struct {
	mu       sync.Mutex
	userIDs  []string
	listErr  error
	cutoffs  []time.Time
	cleanErr error
}

func (f *fakeStore) ListConnectedUserIDs() ([]string, error) {
	return f.userIDs, f.listErr
}

func (f *fakeStore) CleanOldSyncLogs(olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, olderThan)
	return 3, f.cleanErr
}

type fakeRunner struct {
	mu       sync.Mutex
	calls    []string
	triggers []string
	err      error
	block    chan struct{} // When set, Run waits on it
	started  chan struct{}
	ctxErrs  []error
}

func (f *fakeRunner) Run(ctx context.Context, userID, trigger string, overrides *calsync.Overrides) (*calsync.Report, error) {
	f.mu.Lock()
	f.calls = append(f.calls, userID)
	f.triggers = append(f.triggers, trigger)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &calsync.Report{}, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestNew(t *testing.T) {
	sched := New(&fakeStore{}, &fakeRunner{}, "*/30 * * * *")

	if sched.syncLocks == nil {
		t.Error("expected syncLocks map to be initialized")
	}
	if sched.ctx == nil || sched.cancel == nil {
		t.Error("expected context to be initialized")
	}
	if sched.started {
		t.Error("expected started to be false initially")
	}
}

func TestSchedulerConstants(t *testing.T) {
	t.Run("log retention is 30 days", func(t *testing.T) {
		if logRetentionDays != 30 {
			t.Errorf("expected logRetentionDays to be 30, got %d", logRetentionDays)
		}
	})

	t.Run("sync timeout is 10 minutes", func(t *testing.T) {
		if syncTimeout != 10*time.Minute {
			t.Errorf("expected syncTimeout to be 10m, got %v", syncTimeout)
		}
	})
}

func TestSchedulerStartStop(t *testing.T) {
	t.Run("invalid schedule", func(t *testing.T) {
		sched := New(&fakeStore{}, &fakeRunner{}, "every half hour")
		if err := sched.Start(); err == nil {
			t.Error("expected error for invalid schedule")
		}
		sched.Stop()
	})

	t.Run("start is idempotent and stop is safe", func(t *testing.T) {
		sched := New(&fakeStore{}, &fakeRunner{}, "*/30 * * * *")
		if err := sched.Start(); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if err := sched.Start(); err != nil {
			t.Fatalf("second Start() error = %v", err)
		}
		if len(sched.cron.Entries()) != 2 {
			t.Errorf("expected 2 cron entries, got %d", len(sched.cron.Entries()))
		}
		sched.Stop()
		sched.Stop()
	})

	t.Run("stop before start", func(t *testing.T) {
		New(&fakeStore{}, &fakeRunner{}, "*/30 * * * *").Stop()
	})
}

func TestRestartAfterStop(t *testing.T) {
	runner := &fakeRunner{}
	sched := New(&fakeStore{}, runner, "*/30 * * * *")

	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	sched.Stop()
	if err := sched.Start(); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	defer sched.Stop()

	if !sched.executeSync("u1") {
		t.Fatal("expected runner to be invoked")
	}
	if runner.ctxErrs[0] != nil {
		t.Errorf("expected live context after restart, got %v", runner.ctxErrs[0])
	}
}

func TestGetSyncLock(t *testing.T) {
	sched := New(&fakeStore{}, &fakeRunner{}, "*/30 * * * *")

	lock := sched.getSyncLock("user-1")
	if lock == nil {
		t.Fatal("expected non-nil lock")
	}
	if sched.getSyncLock("user-1") != lock {
		t.Error("expected same lock for same user")
	}
	if sched.getSyncLock("user-2") == lock {
		t.Error("expected different locks for different users")
	}
}

func TestRunAll(t *testing.T) {
	store := &fakeStore{userIDs: []string{"u1", "u2", "u3"}}
	runner := &fakeRunner{}
	sched := New(store, runner, "*/30 * * * *")

	sched.runAll()
	sched.wg.Wait()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	calls := append([]string(nil), runner.calls...)
	sort.Strings(calls)
	if len(calls) != 3 || calls[0] != "u1" || calls[2] != "u3" {
		t.Errorf("unexpected calls %v", calls)
	}
	for _, trigger := range runner.triggers {
		if trigger != "scheduled" {
			t.Errorf("unexpected trigger %q", trigger)
		}
	}
}

func TestRunAllListError(t *testing.T) {
	runner := &fakeRunner{}
	sched := New(&fakeStore{listErr: errors.New("db closed")}, runner, "*/30 * * * *")

	sched.runAll()
	sched.wg.Wait()
	if runner.callCount() != 0 {
		t.Error("runner should not be called when listing users fails")
	}
}

func TestExecuteSyncSkipsOverlappingRun(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	sched := New(&fakeStore{}, runner, "*/30 * * * *")

	done := make(chan bool)
	go func() { done <- sched.executeSync("u1") }()
	<-runner.started

	if sched.executeSync("u1") {
		t.Error("second run for the same user should be skipped")
	}

	close(runner.block)
	if !<-done {
		t.Error("first run should have invoked the runner")
	}
	if runner.callCount() != 1 {
		t.Errorf("expected 1 call, got %d", runner.callCount())
	}
}

func TestExecuteSyncHandlesErrors(t *testing.T) {
	errs := []error{
		&calsync.CooldownError{RetryAfter: time.Second},
		calsync.ErrNotConnected,
		gcal.ErrAuth,
		errors.New("boom"),
	}

	for _, err := range errs {
		t.Run(err.Error(), func(t *testing.T) {
			sched := New(&fakeStore{}, &fakeRunner{err: err}, "*/30 * * * *")
			if !sched.executeSync("u1") {
				t.Error("runner should have been invoked")
			}
			// The lock must be released afterwards
			if !sched.getSyncLock("u1").TryLock() {
				t.Error("lock was not released")
			}
		})
	}
}

func TestStopCancelsRuns(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	sched := New(&fakeStore{userIDs: []string{"u1"}}, runner, "*/30 * * * *")
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}

	sched.runAll()
	<-runner.started

	stopped := make(chan struct{})
	go func() {
		sched.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not cancel the in-flight run")
	}
}

func TestCleanupOldLogs(t *testing.T) {
	store := &fakeStore{}
	sched := New(store, &fakeRunner{}, "*/30 * * * *")

	sched.cleanupOldLogs()

	if len(store.cutoffs) != 1 {
		t.Fatalf("expected 1 cleanup call, got %d", len(store.cutoffs))
	}
	age := time.Since(store.cutoffs[0])
	if age < 29*24*time.Hour || age > 31*24*time.Hour {
		t.Errorf("unexpected cutoff age %v", age)
	}

	store.cleanErr = errors.New("locked")
	sched.cleanupOldLogs()
}
