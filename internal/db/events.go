package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const eventColumns = `id, title, is_active, start_date, end_date`

// ExpiredActiveEvents selects active events that ended before now.
func (r *Repository) ExpiredActiveEvents(ctx context.Context, now time.Time) ([]*Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE is_active AND end_date < $1
		ORDER BY end_date ASC, id ASC
	`
	return r.queryEvents(ctx, "expired", query, now)
}

// EventsStartingBetween selects active events with from < start_date <= to.
func (r *Repository) EventsStartingBetween(ctx context.Context, from, to time.Time) ([]*Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE is_active AND start_date > $1 AND start_date <= $2
		ORDER BY start_date ASC, id ASC
	`
	return r.queryEvents(ctx, "upcoming", query, from, to)
}

// EventsEndingBetween selects active events with an end date in [from, to].
func (r *Repository) EventsEndingBetween(ctx context.Context, from, to time.Time) ([]*Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE is_active AND end_date BETWEEN $1 AND $2
		ORDER BY end_date ASC, id ASC
	`
	return r.queryEvents(ctx, "ending", query, from, to)
}

// DeactivateEvent marks an ended event inactive. Returns false if it was already inactive.
func (r *Repository) DeactivateEvent(ctx context.Context, id int64, now time.Time) (bool, error) {
	query := `
		UPDATE events
		SET is_active = FALSE, updated_at = $2
		WHERE id = $1 AND is_active AND end_date < $2
	`

	result, err := r.db.Pool().Exec(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("deactivate event %d: %w", id, err)
	}

	return result.RowsAffected() > 0, nil
}

func (r *Repository) queryEvents(ctx context.Context, pass, query string, args ...any) ([]*Event, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s events: %w", pass, err)
	}
	defer rows.Close()

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Event, error) {
		var e Event
		err := row.Scan(&e.ID, &e.Title, &e.IsActive, &e.StartDate, &e.EndDate)
		return &e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s events: %w", pass, err)
	}

	return events, nil
}
