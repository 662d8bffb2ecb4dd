package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/schoolcms/internal/db"
	"github.com/lalithlochan/schoolcms/internal/metrics"
)

// RunAnnouncementLifecycle publishes announcements whose publish time has come
// and archives those whose unpublish time has passed.
func (s *Service) RunAnnouncementLifecycle(ctx context.Context, now time.Time) (*Report, error) {
	report := &Report{Job: JobAnnouncementLifecycle, RanAt: now}
	logger := s.jobLogger(JobAnnouncementLifecycle)

	if err := s.publishDue(ctx, now, report, logger); err != nil {
		return report, err
	}
	if err := s.unpublishDue(ctx, now, report, logger); err != nil {
		return report, err
	}

	logger.Info("announcement lifecycle finished",
		zap.Int("published", report.Published),
		zap.Int("archived", report.Archived),
		zap.Int("notified", report.Notified),
	)
	return report, nil
}

func (s *Service) publishDue(ctx context.Context, now time.Time, report *Report, logger *zap.Logger) error {
	due, err := s.store.AnnouncementsDueForPublish(ctx, now)
	if err != nil {
		return fmt.Errorf("publish pass: %w", err)
	}

	for _, a := range due {
		ok, err := s.store.PublishAnnouncement(ctx, a.ID, now)
		if err != nil {
			return fmt.Errorf("publish pass: %w", err)
		}
		if !ok {
			// Edited or published by someone else since the select.
			report.Skipped++
			continue
		}
		report.Published++
		metrics.RecordTransition(JobAnnouncementLifecycle, "published")

		key := db.FireKey{Type: db.TypeAnnouncementPublished, Entity: db.EntityAnnouncement, EntityID: a.ID}
		if err := s.notify(ctx, key,
			"Announcement published",
			fmt.Sprintf("%q is now live on the site.", a.Title),
		); err != nil {
			return fmt.Errorf("publish pass: %w", err)
		}
		report.Notified++

		logger.Info("announcement published",
			zap.Int64("announcement_id", a.ID),
			zap.String("title", a.Title),
		)
	}

	return nil
}

func (s *Service) unpublishDue(ctx context.Context, now time.Time, report *Report, logger *zap.Logger) error {
	due, err := s.store.AnnouncementsDueForUnpublish(ctx, now)
	if err != nil {
		return fmt.Errorf("unpublish pass: %w", err)
	}

	for _, a := range due {
		ok, err := s.store.ArchiveAnnouncement(ctx, a.ID, now)
		if err != nil {
			return fmt.Errorf("unpublish pass: %w", err)
		}
		if !ok {
			report.Skipped++
			continue
		}
		report.Archived++
		metrics.RecordTransition(JobAnnouncementLifecycle, "archived")

		key := db.FireKey{Type: db.TypeAnnouncementExpired, Entity: db.EntityAnnouncement, EntityID: a.ID}
		if err := s.notify(ctx, key,
			"Announcement expired",
			fmt.Sprintf("%q reached its unpublish time and was archived.", a.Title),
		); err != nil {
			return fmt.Errorf("unpublish pass: %w", err)
		}
		report.Notified++

		logger.Info("announcement archived",
			zap.Int64("announcement_id", a.ID),
			zap.String("title", a.Title),
		)
	}

	return nil
}
