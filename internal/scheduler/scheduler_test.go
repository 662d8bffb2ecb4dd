package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/schoolcms/internal/lifecycle"
)

var start = time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	at    []time.Time
	err   error
	panic bool
	block chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, job string, now time.Time) (*lifecycle.Report, error) {
	f.mu.Lock()
	f.calls = append(f.calls, job)
	f.at = append(f.at, now)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if f.panic {
		panic("boom")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &lifecycle.Report{Job: job, RanAt: now}, nil
}

func (f *fakeRunner) count(job string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == job {
			n++
		}
	}
	return n
}

func newTestScheduler(t *testing.T, runner Runner, cfg Config) *Scheduler {
	t.Helper()
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return start }
	}
	s, err := New(runner, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}
	return s
}

func TestNew_JobTable(t *testing.T) {
	s := newTestScheduler(t, &fakeRunner{}, Config{})

	snap := s.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(snap))
	}

	want := map[string]time.Time{
		lifecycle.JobAnnouncementLifecycle: start.Add(time.Minute),
		lifecycle.JobEventLifecycle:        start.Add(time.Minute),
		lifecycle.JobExpirationScan:        time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC),
	}
	for _, st := range snap {
		next, ok := want[st.Name]
		if !ok {
			t.Errorf("unexpected job %q", st.Name)
			continue
		}
		if !st.Next.Equal(next) {
			t.Errorf("%s: expected next run %s, got %s", st.Name, next, st.Next)
		}
		if st.LastRun != nil {
			t.Errorf("%s: should not have run yet", st.Name)
		}
	}
}

func TestNew_InvalidCron(t *testing.T) {
	_, err := New(&fakeRunner{}, Config{ExpirationScanCron: "every day"}, zap.NewNop())
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestTick_RunsDueJobsOnce(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestScheduler(t, runner, Config{})
	ctx := context.Background()

	s.Tick(ctx, start.Add(30*time.Second))
	if len(runner.calls) != 0 {
		t.Fatalf("nothing is due yet, got %v", runner.calls)
	}

	s.Tick(ctx, start.Add(time.Minute))
	s.Tick(ctx, start.Add(time.Minute+time.Second))

	if got := runner.count(lifecycle.JobAnnouncementLifecycle); got != 1 {
		t.Errorf("expected 1 announcement run, got %d", got)
	}
	if got := runner.count(lifecycle.JobEventLifecycle); got != 1 {
		t.Errorf("expected 1 event run, got %d", got)
	}
	if got := runner.count(lifecycle.JobExpirationScan); got != 0 {
		t.Errorf("expiration scan is daily, got %d runs", got)
	}
}

func TestTick_EveryMinuteForAnHour(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestScheduler(t, runner, Config{})
	ctx := context.Background()

	for now := start; now.Before(start.Add(time.Hour)); now = now.Add(time.Second) {
		s.Tick(ctx, now)
	}

	// 08:01 .. 08:59
	if got := runner.count(lifecycle.JobAnnouncementLifecycle); got != 59 {
		t.Errorf("expected 59 runs, got %d", got)
	}
}

func TestTick_MissedSlotsAreNotReplayed(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestScheduler(t, runner, Config{})

	s.Tick(context.Background(), start.Add(10*time.Minute))

	if got := runner.count(lifecycle.JobEventLifecycle); got != 1 {
		t.Errorf("expected a single catch-up run, got %d", got)
	}
	for _, st := range s.Snapshot() {
		if st.Name == lifecycle.JobEventLifecycle && !st.Next.Equal(start.Add(11*time.Minute)) {
			t.Errorf("expected next run at %s, got %s", start.Add(11*time.Minute), st.Next)
		}
	}
}

func TestTick_ExpirationScanFollowsTimezone(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	runner := &fakeRunner{}
	s := newTestScheduler(t, runner, Config{Location: ist})
	ctx := context.Background()

	// Midnight IST on 2 Sep is 18:30 UTC on 1 Sep.
	midnight := time.Date(2026, 9, 1, 18, 30, 0, 0, time.UTC)

	s.Tick(ctx, midnight.Add(-time.Second))
	if got := runner.count(lifecycle.JobExpirationScan); got != 0 {
		t.Fatalf("scan should not run before local midnight, got %d", got)
	}

	s.Tick(ctx, midnight)
	if got := runner.count(lifecycle.JobExpirationScan); got != 1 {
		t.Fatalf("expected scan at local midnight, got %d", got)
	}

	for _, st := range s.Snapshot() {
		if st.Name != lifecycle.JobExpirationScan {
			continue
		}
		if want := midnight.Add(24 * time.Hour); !st.Next.Equal(want) {
			t.Errorf("expected next scan at %s, got %s", want, st.Next)
		}
	}
}

func TestTick_FailureIsRecorded(t *testing.T) {
	runner := &fakeRunner{err: errors.New("connection refused")}
	s := newTestScheduler(t, runner, Config{})

	s.Tick(context.Background(), start.Add(time.Minute))

	for _, st := range s.Snapshot() {
		if st.Name != lifecycle.JobAnnouncementLifecycle {
			continue
		}
		if st.LastError != "connection refused" {
			t.Errorf("expected last error to be recorded, got %q", st.LastError)
		}
		if st.LastRun == nil || !st.LastRun.Equal(start.Add(time.Minute)) {
			t.Errorf("expected last run to be recorded, got %v", st.LastRun)
		}
	}

	// A failing job keeps its place in the table.
	runner.err = nil
	s.Tick(context.Background(), start.Add(2*time.Minute))
	if got := runner.count(lifecycle.JobAnnouncementLifecycle); got != 2 {
		t.Errorf("expected job to run again on the next slot, got %d runs", got)
	}
}

func TestRunNow_RecoversPanic(t *testing.T) {
	s := newTestScheduler(t, &fakeRunner{panic: true}, Config{})

	_, err := s.RunNow(context.Background(), lifecycle.JobExpirationScan)
	if err == nil {
		t.Fatal("expected panic to surface as an error")
	}

	for _, st := range s.Snapshot() {
		if st.Name == lifecycle.JobExpirationScan && st.Running {
			t.Error("job should not be left marked as running")
		}
	}
}

func TestRunNow_UnknownJob(t *testing.T) {
	s := newTestScheduler(t, &fakeRunner{}, Config{})

	_, err := s.RunNow(context.Background(), "rebuild-index")
	if !errors.Is(err, ErrUnknownJob) {
		t.Errorf("expected ErrUnknownJob, got %v", err)
	}
}

func TestRunNow_DoesNotMoveSchedule(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestScheduler(t, runner, Config{})

	report, err := s.RunNow(context.Background(), lifecycle.JobExpirationScan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Job != lifecycle.JobExpirationScan {
		t.Errorf("unexpected report: %+v", report)
	}

	for _, st := range s.Snapshot() {
		if st.Name == lifecycle.JobExpirationScan && !st.Next.Equal(time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("manual run should not shift the schedule, next is %s", st.Next)
		}
	}
}

func TestRunNow_RejectsOverlap(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s := newTestScheduler(t, runner, Config{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := s.RunNow(ctx, lifecycle.JobEventLifecycle)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for runner.count(lifecycle.JobEventLifecycle) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := s.RunNow(ctx, lifecycle.JobEventLifecycle); !errors.Is(err, ErrJobRunning) {
		t.Errorf("expected ErrJobRunning, got %v", err)
	}

	close(runner.block)
	if err := <-done; err != nil {
		t.Errorf("first run failed: %v", err)
	}
}

func TestStart_StopsOnCancel(t *testing.T) {
	s := newTestScheduler(t, &fakeRunner{}, Config{TickInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
