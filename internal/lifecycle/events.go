package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/schoolcms/internal/db"
	"github.com/lalithlochan/schoolcms/internal/metrics"
)

// RunEventLifecycle deactivates events that have ended and warns about events
// starting within the lookahead window.
func (s *Service) RunEventLifecycle(ctx context.Context, now time.Time) (*Report, error) {
	report := &Report{Job: JobEventLifecycle, RanAt: now}
	logger := s.jobLogger(JobEventLifecycle)

	if err := s.expireEnded(ctx, now, report, logger); err != nil {
		return report, err
	}
	if err := s.warnUpcoming(ctx, now, report); err != nil {
		return report, err
	}

	logger.Info("event lifecycle finished",
		zap.Int("expired", report.Expired),
		zap.Int("notified", report.Notified),
		zap.Int("suppressed", report.Suppressed),
	)
	return report, nil
}

func (s *Service) expireEnded(ctx context.Context, now time.Time, report *Report, logger *zap.Logger) error {
	ended, err := s.store.ExpiredActiveEvents(ctx, now)
	if err != nil {
		return fmt.Errorf("expiry pass: %w", err)
	}

	for _, e := range ended {
		ok, err := s.store.DeactivateEvent(ctx, e.ID, now)
		if err != nil {
			return fmt.Errorf("expiry pass: %w", err)
		}
		if !ok {
			report.Skipped++
			continue
		}
		report.Expired++
		metrics.RecordTransition(JobEventLifecycle, "deactivated")

		key := db.FireKey{Type: db.TypeEventExpired, Entity: db.EntityEvent, EntityID: e.ID}
		if err := s.notify(ctx, key,
			"Event ended",
			fmt.Sprintf("%q ended on %s and is no longer listed.", e.Title, e.EndDate.Format(time.DateOnly)),
		); err != nil {
			return fmt.Errorf("expiry pass: %w", err)
		}
		report.Notified++

		logger.Info("event deactivated", zap.Int64("event_id", e.ID), zap.String("title", e.Title))
	}

	return nil
}

func (s *Service) warnUpcoming(ctx context.Context, now time.Time, report *Report) error {
	upcoming, err := s.store.EventsStartingBetween(ctx, now, now.Add(s.config.LookaheadWindow))
	if err != nil {
		return fmt.Errorf("upcoming pass: %w", err)
	}

	for _, e := range upcoming {
		key := db.FireKey{Type: db.TypeEventStartingSoon, Entity: db.EntityEvent, EntityID: e.ID}
		fired, err := s.alert(ctx, key, now,
			"Event starting soon",
			fmt.Sprintf("%q starts %s.", e.Title, e.StartDate.Format(time.RFC1123)),
		)
		if err != nil {
			return fmt.Errorf("upcoming pass: %w", err)
		}
		countAlert(report, fired)
	}

	return nil
}
