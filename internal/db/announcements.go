package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const announcementColumns = `id, title, status, scheduled_publish_at, scheduled_unpublish_at, published_at`

// AnnouncementsDueForPublish selects draft or scheduled announcements whose publish time has passed.
func (r *Repository) AnnouncementsDueForPublish(ctx context.Context, now time.Time) ([]*Announcement, error) {
	query := `
		SELECT ` + announcementColumns + `
		FROM announcements
		WHERE status IN ('draft', 'scheduled')
		  AND scheduled_publish_at IS NOT NULL
		  AND scheduled_publish_at <= $1
		ORDER BY scheduled_publish_at ASC, id ASC
	`
	return r.queryAnnouncements(ctx, "publish", query, now)
}

// AnnouncementsDueForUnpublish selects published announcements whose unpublish time has passed.
func (r *Repository) AnnouncementsDueForUnpublish(ctx context.Context, now time.Time) ([]*Announcement, error) {
	query := `
		SELECT ` + announcementColumns + `
		FROM announcements
		WHERE status = 'published'
		  AND scheduled_unpublish_at IS NOT NULL
		  AND scheduled_unpublish_at <= $1
		ORDER BY scheduled_unpublish_at ASC, id ASC
	`
	return r.queryAnnouncements(ctx, "unpublish", query, now)
}

// AnnouncementsExpiringBetween selects published announcements with an unpublish time in [from, to].
func (r *Repository) AnnouncementsExpiringBetween(ctx context.Context, from, to time.Time) ([]*Announcement, error) {
	query := `
		SELECT ` + announcementColumns + `
		FROM announcements
		WHERE status = 'published'
		  AND scheduled_unpublish_at BETWEEN $1 AND $2
		ORDER BY scheduled_unpublish_at ASC, id ASC
	`
	return r.queryAnnouncements(ctx, "expiring", query, from, to)
}

// PublishAnnouncement flips a due announcement to published and consumes its publish time
// in one statement. It returns false when the row no longer matches (already consumed or edited).
func (r *Repository) PublishAnnouncement(ctx context.Context, id int64, now time.Time) (bool, error) {
	query := `
		UPDATE announcements
		SET status = 'published', published_at = $2, scheduled_publish_at = NULL, updated_at = $2
		WHERE id = $1
		  AND status IN ('draft', 'scheduled')
		  AND scheduled_publish_at IS NOT NULL
		  AND scheduled_publish_at <= $2
	`

	result, err := r.db.Pool().Exec(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("publish announcement %d: %w", id, err)
	}

	return result.RowsAffected() > 0, nil
}

// ArchiveAnnouncement flips a due announcement to archived and consumes its unpublish time.
func (r *Repository) ArchiveAnnouncement(ctx context.Context, id int64, now time.Time) (bool, error) {
	query := `
		UPDATE announcements
		SET status = 'archived', scheduled_unpublish_at = NULL, updated_at = $2
		WHERE id = $1
		  AND status = 'published'
		  AND scheduled_unpublish_at IS NOT NULL
		  AND scheduled_unpublish_at <= $2
	`

	result, err := r.db.Pool().Exec(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("archive announcement %d: %w", id, err)
	}

	return result.RowsAffected() > 0, nil
}

func (r *Repository) queryAnnouncements(ctx context.Context, pass, query string, args ...any) ([]*Announcement, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s announcements: %w", pass, err)
	}
	defer rows.Close()

	announcements, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Announcement, error) {
		var a Announcement
		err := row.Scan(
			&a.ID,
			&a.Title,
			&a.Status,
			&a.ScheduledPublishAt,
			&a.ScheduledUnpublishAt,
			&a.PublishedAt,
		)
		return &a, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s announcements: %w", pass, err)
	}

	return announcements, nil
}
