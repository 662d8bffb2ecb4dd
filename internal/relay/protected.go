package relay

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/lalithlochan/schoolcms/internal/circuitbreaker"
	"github.com/lalithlochan/schoolcms/internal/db"
)

// ProtectedSender wraps a Sender with a circuit breaker so a failing channel
// fails fast.
type ProtectedSender struct {
	sender  Sender
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewProtectedSender(sender Sender, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProtectedSender{sender: sender, breaker: breaker, logger: logger}
}

// Protect wraps sender with a breaker using the default thresholds.
func Protect(sender Sender, logger *zap.Logger) *ProtectedSender {
	return NewProtectedSender(sender, circuitbreaker.New(circuitbreaker.DefaultConfig(sender.Name()), logger), logger)
}

func (p *ProtectedSender) Name() string { return p.sender.Name() }

func (p *ProtectedSender) Accepts(notifType string) bool { return p.sender.Accepts(notifType) }

func (p *ProtectedSender) Send(ctx context.Context, notif *db.Notification) error {
	err := p.breaker.Execute(func() error {
		return p.sender.Send(ctx, notif)
	})
	if err != nil && p.breaker.State() == circuitbreaker.StateOpen {
		p.logger.Warn("relay channel unavailable",
			zap.String("channel", p.sender.Name()),
			zap.String("notification_id", notif.ID.String()),
			zap.Error(err),
		)
	}
	return err
}

func (p *ProtectedSender) Breaker() *circuitbreaker.CircuitBreaker {
	return p.breaker
}

// LogSender writes notifications to the log. Used in development when no AWS
// channel is configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Accepts(string) bool { return true }

func (s *LogSender) Send(ctx context.Context, notif *db.Notification) error {
	s.logger.Info("notification (development relay)",
		zap.String("id", notif.ID.String()),
		zap.String("type", notif.Type),
		zap.String("title", notif.Title),
		zap.Any("data", json.RawMessage(notif.Data)),
	)
	return nil
}
