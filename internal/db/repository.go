package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("not found")

// Repository handles database operations for the lifecycle jobs and the admin API
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateNotification inserts a new notification unconditionally.
// Deduplication is the caller's job; the table has no uniqueness constraint.
func (r *Repository) CreateNotification(ctx context.Context, typ, title, message string, data json.RawMessage) (*Notification, error) {
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}

	notif := &Notification{
		ID:      uuid.New(),
		Type:    typ,
		Title:   title,
		Message: message,
		Data:    data,
	}

	query := `
		INSERT INTO notifications (id, type, title, message, data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		notif.ID,
		notif.Type,
		notif.Title,
		notif.Message,
		notif.Data,
	).Scan(&notif.CreatedAt)
	if err != nil {
		r.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("type", typ),
		)
		return nil, fmt.Errorf("insert notification: %w", err)
	}

	r.logger.Debug("notification created",
		zap.String("notification_id", notif.ID.String()),
		zap.String("type", notif.Type),
		zap.ByteString("data", notif.Data),
	)

	return notif, nil
}

// GetNotification retrieves a notification by ID
func (r *Repository) GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error) {
	query := `
		SELECT id, type, title, message, data, created_at
		FROM notifications
		WHERE id = $1
	`

	var notif Notification
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&notif.ID,
		&notif.Type,
		&notif.Title,
		&notif.Message,
		&notif.Data,
		&notif.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: notification %s", ErrNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}

	return &notif, nil
}

// ListNotifications returns the newest notifications first, optionally filtered by type.
func (r *Repository) ListNotifications(ctx context.Context, typ string, limit, offset int) ([]*Notification, error) {
	query := `
		SELECT id, type, title, message, data, created_at
		FROM notifications
		WHERE ($1 = '' OR type = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, typ, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		var notif Notification
		err := rows.Scan(
			&notif.ID,
			&notif.Type,
			&notif.Title,
			&notif.Message,
			&notif.Data,
			&notif.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, &notif)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return notifications, nil
}

// NotifiedSince reports whether a notification matching key was created after since.
func (r *Repository) NotifiedSince(ctx context.Context, key FireKey, since time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE type = $1 AND data->>$2 = $3 AND created_at > $4
		)
	`

	var exists bool
	err := r.db.Pool().QueryRow(ctx, query,
		key.Type,
		key.DataField(),
		strconv.FormatInt(key.EntityID, 10),
		since,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query notification history: %w", err)
	}

	return exists, nil
}
