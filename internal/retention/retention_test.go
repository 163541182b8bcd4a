package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	errs    []error
	deleted int64
}

func (f *fakePruner) PruneInsightSignals(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, before)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return 0, err
		}
	}
	return f.deleted, nil
}

func (f *fakePruner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

var fixedNow = time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

func TestRunOnceUsesCutoff(t *testing.T) {
	p := &fakePruner{deleted: 4}
	w := NewWorker(p, 30*24*time.Hour)
	w.Now = func() time.Time { return fixedNow }

	n, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 deleted, got %d", n)
	}
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !p.cutoffs[0].Equal(want) {
		t.Fatalf("cutoff = %v, want %v", p.cutoffs[0], want)
	}
}

func TestRunOnceRetriesLockedDatabase(t *testing.T) {
	p := &fakePruner{errs: []error{errors.New("database is locked"), nil}, deleted: 1}
	w := NewWorker(p, time.Hour)

	n, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if n != 1 || p.calls() != 2 {
		t.Fatalf("expected one retry then success, got n=%d calls=%d", n, p.calls())
	}
}

func TestRunOnceDoesNotRetryOtherErrors(t *testing.T) {
	p := &fakePruner{errs: []error{errors.New("no such table")}}
	w := NewWorker(p, time.Hour)

	if _, err := w.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if p.calls() != 1 {
		t.Fatalf("expected a single attempt, got %d", p.calls())
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	p := &fakePruner{}
	w := NewWorker(p, time.Hour)
	w.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := w.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for p.calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	if p.calls() == 0 {
		t.Fatal("expected at least one sweep")
	}
}
