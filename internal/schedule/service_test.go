package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type fakeReconciler struct {
	calls   atomic.Int32
	removed int
	err     error
}

func (f *fakeReconciler) Reconcile(context.Context) (int, error) {
	f.calls.Add(1)
	return f.removed, f.err
}

type fakePruner struct {
	cutoff time.Time
	calls  int
}

func (f *fakePruner) PruneClosedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	return 3, nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunRetentionUsesCutoff(t *testing.T) {
	t.Parallel()

	pruner := &fakePruner{}
	svc := NewService(newTestLogger(), Config{RetentionPeriod: 48 * time.Hour}, nil, pruner)
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	if err := svc.RunRetention(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := now.Add(-48 * time.Hour); !pruner.cutoff.Equal(want) {
		t.Fatalf("expected cutoff %v, got %v", want, pruner.cutoff)
	}
}

func TestRunRetentionDisabled(t *testing.T) {
	t.Parallel()

	pruner := &fakePruner{}
	svc := NewService(newTestLogger(), Config{}, nil, pruner)
	if err := svc.RunRetention(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pruner.calls != 0 {
		t.Fatalf("expected no prune, got %d calls", pruner.calls)
	}
}

func TestRunReconcileWrapsError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	svc := NewService(newTestLogger(), Config{}, &fakeReconciler{err: boom}, nil)
	if err := svc.RunReconcile(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestStartRunsJobs(t *testing.T) {
	t.Parallel()

	rec := &fakeReconciler{removed: 1}
	svc := NewService(newTestLogger(), Config{Reconcile: "@every 1s", Retention: "@daily"}, rec, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	jobs := svc.Jobs()
	if _, ok := jobs[JobReconcile]; !ok {
		t.Fatalf("expected reconcile job, got %v", jobs)
	}
	if _, ok := jobs[JobRetention]; ok {
		t.Fatal("expected retention job disabled without pruner")
	}

	deadline := time.Now().Add(3 * time.Second)
	for rec.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("reconcile job never ran")
		}
		time.Sleep(20 * time.Millisecond)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := svc.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(svc.Jobs()) != 0 {
		t.Fatal("expected no jobs after stop")
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	t.Parallel()

	svc := NewService(newTestLogger(), Config{Reconcile: "every now and then"}, &fakeReconciler{}, nil)
	if err := svc.Start(context.Background()); err == nil {
		t.Fatal("expected invalid spec error")
	}
}
