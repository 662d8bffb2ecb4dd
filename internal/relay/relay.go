// Package relay forwards admin notifications beyond the dashboard. SNS and
// webhooks receive every notification; the admin mailbox gets early-warning
// alerts only.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"go.uber.org/zap"

	"github.com/lalithlochan/schoolcms/internal/db"
	"github.com/lalithlochan/schoolcms/internal/metrics"
)

// Sender delivers a notification on one channel.
type Sender interface {
	Name() string
	Accepts(notifType string) bool
	Send(ctx context.Context, notif *db.Notification) error
}

// Message is the JSON document published for a notification.
type Message struct {
	NotificationID string          `json:"notification_id"`
	Type           string          `json:"type"`
	Title          string          `json:"title"`
	Message        string          `json:"message"`
	Data           json.RawMessage `json:"data,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func NewMessage(notif *db.Notification) Message {
	return Message{
		NotificationID: notif.ID.String(),
		Type:           notif.Type,
		Title:          notif.Title,
		Message:        notif.Message,
		Data:           notif.Data,
		CreatedAt:      notif.CreatedAt,
	}
}

// IsAlert reports whether a notification type is an early warning.
func IsAlert(notifType string) bool {
	switch notifType {
	case db.TypeAnnouncementExpiringSoon, db.TypeEventStartingSoon, db.TypeEventEndingSoon:
		return true
	default:
		return false
	}
}

// Fanout hands a notification to every sender that accepts its type.
type Fanout struct {
	senders []Sender
	logger  *zap.Logger
}

func NewFanout(logger *zap.Logger, senders ...Sender) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{senders: senders, logger: logger}
}

// Relay tries every accepting sender even if an earlier one failed. The
// returned error joins all channel failures.
func (f *Fanout) Relay(ctx context.Context, notif *db.Notification) error {
	var errs []error
	for _, s := range f.senders {
		if !s.Accepts(notif.Type) {
			continue
		}

		err := s.Send(ctx, notif)
		metrics.RecordRelay(s.Name(), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}

		f.logger.Debug("notification relayed",
			zap.String("channel", s.Name()),
			zap.String("notification_id", notif.ID.String()),
			zap.String("type", notif.Type),
		)
	}
	return errors.Join(errs...)
}

// AWSConfig selects the region and, for LocalStack, a custom endpoint.
type AWSConfig struct {
	Region   string
	Endpoint string
}

func loadAWS(ctx context.Context, cfg AWSConfig) (aws.Config, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return awsCfg, nil
}
