package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/schoolcms/internal/db"
)

// RunExpirationScan raises early warnings for announcements and events that
// will expire within the lookahead window [now, now+lookahead].
func (s *Service) RunExpirationScan(ctx context.Context, now time.Time) (*Report, error) {
	report := &Report{Job: JobExpirationScan, RanAt: now}
	until := now.Add(s.config.LookaheadWindow)

	announcements, err := s.store.AnnouncementsExpiringBetween(ctx, now, until)
	if err != nil {
		return report, fmt.Errorf("announcement scan: %w", err)
	}

	for _, a := range announcements {
		key := db.FireKey{Type: db.TypeAnnouncementExpiringSoon, Entity: db.EntityAnnouncement, EntityID: a.ID}
		fired, err := s.alert(ctx, key, now,
			"Announcement expiring soon",
			fmt.Sprintf("%q will be unpublished at %s.", a.Title, a.ScheduledUnpublishAt.Format(time.RFC1123)),
		)
		if err != nil {
			return report, fmt.Errorf("announcement scan: %w", err)
		}
		countAlert(report, fired)
	}

	events, err := s.store.EventsEndingBetween(ctx, now, until)
	if err != nil {
		return report, fmt.Errorf("event scan: %w", err)
	}

	for _, e := range events {
		key := db.FireKey{Type: db.TypeEventEndingSoon, Entity: db.EntityEvent, EntityID: e.ID}
		fired, err := s.alert(ctx, key, now,
			"Event ending soon",
			fmt.Sprintf("%q ends %s.", e.Title, e.EndDate.Format(time.RFC1123)),
		)
		if err != nil {
			return report, fmt.Errorf("event scan: %w", err)
		}
		countAlert(report, fired)
	}

	s.jobLogger(JobExpirationScan).Info("expiration scan finished",
		zap.Int("announcements", len(announcements)),
		zap.Int("events", len(events)),
		zap.Int("notified", report.Notified),
		zap.Int("suppressed", report.Suppressed),
	)
	return report, nil
}

func countAlert(report *Report, fired bool) {
	if fired {
		report.Notified++
		return
	}
	report.Suppressed++
}
