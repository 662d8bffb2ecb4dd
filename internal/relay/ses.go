package relay

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/schoolcms/internal/db"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SESConfig struct {
	AWSConfig
	FromEmail string
	ToEmail   string
}

// SESSender mails early-warning alerts to the site admin. Other types are
// dashboard-only.
type SESSender struct {
	client sesAPI
	from   string
	to     string
	logger *zap.Logger
}

func NewSESSender(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESSender, error) {
	awsCfg, err := loadAWS(ctx, cfg.AWSConfig)
	if err != nil {
		return nil, err
	}
	return newSESSender(ses.NewFromConfig(awsCfg), cfg.FromEmail, cfg.ToEmail, logger), nil
}

func newSESSender(client sesAPI, from, to string, logger *zap.Logger) *SESSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SESSender{client: client, from: from, to: to, logger: logger}
}

func (s *SESSender) Name() string { return "ses" }

func (s *SESSender) Accepts(notifType string) bool { return IsAlert(notifType) }

func (s *SESSender) Send(ctx context.Context, notif *db.Notification) error {
	if s.to == "" {
		return fmt.Errorf("ses sender has no recipient configured")
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{s.to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String("[School CMS] " + notif.Title),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(emailBody(notif)),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("alert mailed via SES",
		zap.String("id", notif.ID.String()),
		zap.String("type", notif.Type),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

func emailBody(notif *db.Notification) string {
	return fmt.Sprintf("%s\n\nType: %s\nRaised: %s\n", notif.Message, notif.Type, notif.CreatedAt.UTC().Format("2006-01-02 15:04 MST"))
}
