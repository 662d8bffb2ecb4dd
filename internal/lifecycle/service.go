// Package lifecycle moves scheduled site content through its states and raises
// admin notifications about it.
//
// Transitions (publish, archive, deactivate) consume the field that selected the
// row in the same UPDATE, so re-running a pass never repeats a transition.
// Look-ahead alerts change nothing in the content tables and are gated by a Ledger
// instead: at most one alert per (type, entity) per dedup window.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/schoolcms/internal/db"
	"github.com/lalithlochan/schoolcms/internal/metrics"
	"github.com/lalithlochan/schoolcms/internal/observ"
)

// Job names, shared by the scheduler, the CLI, the admin API and remote triggers.
const (
	JobAnnouncementLifecycle = "announcement-lifecycle"
	JobEventLifecycle        = "event-lifecycle"
	JobExpirationScan        = "expiration-scan"
)

// ErrUnknownJob is returned by Run for a name that is not one of the job constants.
var ErrUnknownJob = errors.New("unknown job")

// Store is everything the jobs read and write. *db.Repository implements it.
type Store interface {
	AnnouncementsDueForPublish(ctx context.Context, now time.Time) ([]*db.Announcement, error)
	AnnouncementsDueForUnpublish(ctx context.Context, now time.Time) ([]*db.Announcement, error)
	AnnouncementsExpiringBetween(ctx context.Context, from, to time.Time) ([]*db.Announcement, error)
	PublishAnnouncement(ctx context.Context, id int64, now time.Time) (bool, error)
	ArchiveAnnouncement(ctx context.Context, id int64, now time.Time) (bool, error)

	ExpiredActiveEvents(ctx context.Context, now time.Time) ([]*db.Event, error)
	EventsStartingBetween(ctx context.Context, from, to time.Time) ([]*db.Event, error)
	EventsEndingBetween(ctx context.Context, from, to time.Time) ([]*db.Event, error)
	DeactivateEvent(ctx context.Context, id int64, now time.Time) (bool, error)

	CreateNotification(ctx context.Context, typ, title, message string, data json.RawMessage) (*db.Notification, error)
}

// Ledger decides whether an alert may fire again. ShouldFire records the firing
// when it returns true; Release undoes that when the notification was not written.
type Ledger interface {
	ShouldFire(ctx context.Context, key db.FireKey, at time.Time, window time.Duration) (bool, error)
	Release(ctx context.Context, key db.FireKey) error
}

// Relay forwards a created notification to channels outside the dashboard.
type Relay interface {
	Relay(ctx context.Context, notif *db.Notification) error
}

type Config struct {
	DedupWindow     time.Duration
	LookaheadWindow time.Duration
}

// Report summarizes one job run. Only the counters the job touches are set.
type Report struct {
	Job        string    `json:"job"`
	RanAt      time.Time `json:"ran_at"`
	Published  int       `json:"published,omitempty"`
	Archived   int       `json:"archived,omitempty"`
	Expired    int       `json:"expired,omitempty"`
	Notified   int       `json:"notified"`
	Suppressed int       `json:"suppressed,omitempty"`
	Skipped    int       `json:"skipped,omitempty"`
}

type Service struct {
	store  Store
	ledger Ledger
	relay  Relay // nil when no external channel is configured
	config Config
	logger *zap.Logger
}

func New(store Store, ledger Ledger, relay Relay, cfg Config, logger *zap.Logger) *Service {
	if cfg.DedupWindow == 0 {
		cfg.DedupWindow = 12 * time.Hour
	}
	if cfg.LookaheadWindow == 0 {
		cfg.LookaheadWindow = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		store:  store,
		ledger: ledger,
		relay:  relay,
		config: cfg,
		logger: logger,
	}
}

// Jobs lists the job names in the order an operator would usually run them.
func Jobs() []string {
	return []string{JobAnnouncementLifecycle, JobEventLifecycle, JobExpirationScan}
}

// Run executes the named job as of now.
func (s *Service) Run(ctx context.Context, job string, now time.Time) (*Report, error) {
	switch job {
	case JobAnnouncementLifecycle:
		return s.RunAnnouncementLifecycle(ctx, now)
	case JobEventLifecycle:
		return s.RunEventLifecycle(ctx, now)
	case JobExpirationScan:
		return s.RunExpirationScan(ctx, now)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}
}

// notify writes a notification for a one-time transition. No ledger check: the
// transition itself already consumed the row.
func (s *Service) notify(ctx context.Context, key db.FireKey, title, message string) error {
	notif, err := s.store.CreateNotification(ctx, key.Type, title, message, key.Payload())
	if err != nil {
		return fmt.Errorf("create %s notification: %w", key.Type, err)
	}

	metrics.RecordNotificationCreated(key.Type)
	s.forward(ctx, notif)
	return nil
}

// alert writes a dedup-gated notification. Returns false when the ledger suppressed it.
func (s *Service) alert(ctx context.Context, key db.FireKey, at time.Time, title, message string) (bool, error) {
	fire, err := s.ledger.ShouldFire(ctx, key, at, s.config.DedupWindow)
	if err != nil {
		return false, fmt.Errorf("check ledger for %s: %w", key, err)
	}
	if !fire {
		metrics.RecordAlertSuppressed(key.Type)
		return false, nil
	}

	notif, err := s.store.CreateNotification(ctx, key.Type, title, message, key.Payload())
	if err != nil {
		if relErr := s.ledger.Release(ctx, key); relErr != nil {
			s.logger.Warn("failed to release ledger entry",
				zap.String("key", key.String()),
				zap.Error(relErr),
			)
		}
		return false, fmt.Errorf("create %s notification: %w", key.Type, err)
	}

	metrics.RecordNotificationCreated(key.Type)
	s.forward(ctx, notif)
	return true, nil
}

// forward hands the notification to the relay. Relay problems never fail a job.
func (s *Service) forward(ctx context.Context, notif *db.Notification) {
	if s.relay == nil {
		return
	}
	if err := s.relay.Relay(ctx, notif); err != nil {
		s.logger.Warn("notification relay failed",
			zap.String("notification_id", notif.ID.String()),
			zap.String("type", notif.Type),
			zap.Error(err),
		)
	}
}

func (s *Service) jobLogger(job string) *zap.Logger {
	return observ.ForJob(s.logger, job)
}
