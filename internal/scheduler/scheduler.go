// Package scheduler owns the job table: which lifecycle job runs when, and what
// happened on its last run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lalithlochan/schoolcms/internal/lifecycle"
	"github.com/lalithlochan/schoolcms/internal/metrics"
)

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrJobRunning = errors.New("job already running")
)

// Runner executes a named job as of a given instant. *lifecycle.Service implements it.
type Runner interface {
	Run(ctx context.Context, job string, now time.Time) (*lifecycle.Report, error)
}

type Config struct {
	LifecycleInterval  time.Duration
	ExpirationScanCron string
	Location           *time.Location
	TickInterval       time.Duration
	Clock              func() time.Time
}

// Entry is one row of the job table.
type Entry struct {
	Name     string
	Spec     string
	Schedule cron.Schedule

	next       time.Time
	lastRun    time.Time
	lastErr    error
	lastReport *lifecycle.Report
	running    bool
}

// Status is a read-only snapshot of an Entry.
type Status struct {
	Name       string            `json:"name"`
	Schedule   string            `json:"schedule"`
	Next       time.Time         `json:"next_run"`
	LastRun    *time.Time        `json:"last_run,omitempty"`
	LastError  string            `json:"last_error,omitempty"`
	LastReport *lifecycle.Report `json:"last_report,omitempty"`
	Running    bool              `json:"running"`
}

type Scheduler struct {
	runner  Runner
	config  Config
	logger  *zap.Logger
	mu      sync.Mutex
	entries []*Entry
}

// New builds the job table. Both lifecycle jobs run on a fixed interval; the
// expiration scan follows a standard 5-field cron expression in cfg.Location.
func New(runner Runner, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if cfg.LifecycleInterval == 0 {
		cfg.LifecycleInterval = time.Minute
	}
	if cfg.ExpirationScanCron == "" {
		cfg.ExpirationScanCron = "0 0 * * *"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	scan, err := cron.ParseStandard(cfg.ExpirationScanCron)
	if err != nil {
		return nil, fmt.Errorf("parse expiration scan schedule %q: %w", cfg.ExpirationScanCron, err)
	}

	every := fmt.Sprintf("@every %s", cfg.LifecycleInterval)
	s := &Scheduler{
		runner: runner,
		config: cfg,
		logger: logger,
		entries: []*Entry{
			{Name: lifecycle.JobAnnouncementLifecycle, Spec: every, Schedule: cron.Every(cfg.LifecycleInterval)},
			{Name: lifecycle.JobEventLifecycle, Spec: every, Schedule: cron.Every(cfg.LifecycleInterval)},
			{Name: lifecycle.JobExpirationScan, Spec: cfg.ExpirationScanCron, Schedule: scan},
		},
	}

	now := s.now()
	for _, e := range s.entries {
		e.next = e.Schedule.Next(now)
	}
	return s, nil
}

func (s *Scheduler) now() time.Time {
	return s.config.Clock().In(s.config.Location)
}

// Start drives the table until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Int("jobs", len(s.entries)))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.Tick(ctx, s.now())
		}
	}
}

// Tick runs every entry that is due at now, one after another, and moves each
// to its next slot. Slots missed while a job was running are not replayed.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	now = now.In(s.config.Location)

	for _, e := range s.due(now) {
		if ctx.Err() != nil {
			return
		}
		_, err := s.execute(ctx, e, now)
		if err != nil && !errors.Is(err, ErrJobRunning) {
			s.logger.Error("scheduled job failed", zap.String("job", e.Name), zap.Error(err))
		}
	}
}

func (s *Scheduler) due(now time.Time) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Entry
	for _, e := range s.entries {
		if now.Before(e.next) {
			continue
		}
		e.next = e.Schedule.Next(now)
		due = append(due, e)
	}
	return due
}

// RunNow runs a job immediately, outside its schedule. The job's next slot is
// left alone.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*lifecycle.Report, error) {
	e := s.lookup(name)
	if e == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	return s.execute(ctx, e, s.now())
}

func (s *Scheduler) lookup(name string) *Entry {
	for _, e := range s.entries {
		if e.Name == name {
			return e
		}
	}
	return nil
}

func (s *Scheduler) execute(ctx context.Context, e *Entry, now time.Time) (report *lifecycle.Report, err error) {
	s.mu.Lock()
	if e.running {
		s.mu.Unlock()
		s.logger.Warn("job still running, skipping", zap.String("job", e.Name))
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, e.Name)
	}
	e.running = true
	s.mu.Unlock()

	start := time.Now()
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("job panic recovered", zap.String("job", e.Name), zap.Any("panic", recovered))
			err = fmt.Errorf("job %s panicked: %v", e.Name, recovered)
		}
		metrics.RecordJobRun(e.Name, time.Since(start), err)

		s.mu.Lock()
		e.running = false
		e.lastRun = now
		e.lastErr = err
		e.lastReport = report
		s.mu.Unlock()
	}()

	report, err = s.runner.Run(ctx, e.Name, now)
	return report, err
}

// Snapshot returns the state of every entry in table order.
func (s *Scheduler) Snapshot() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.entries))
	for _, e := range s.entries {
		st := Status{
			Name:       e.Name,
			Schedule:   e.Spec,
			Next:       e.next,
			LastReport: e.lastReport,
			Running:    e.running,
		}
		if !e.lastRun.IsZero() {
			lastRun := e.lastRun
			st.LastRun = &lastRun
		}
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		out = append(out, st)
	}
	return out
}
