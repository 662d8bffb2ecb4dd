package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/schoolcms/internal/db"
)

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSender publishes every notification to a topic. Subscribers filter on the
// "type" message attribute.
type SNSSender struct {
	client   snsAPI
	topicARN string
	logger   *zap.Logger
}

func NewSNSSender(ctx context.Context, cfg AWSConfig, topicARN string, logger *zap.Logger) (*SNSSender, error) {
	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newSNSSender(sns.NewFromConfig(awsCfg), topicARN, logger), nil
}

func newSNSSender(client snsAPI, topicARN string, logger *zap.Logger) *SNSSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SNSSender{client: client, topicARN: topicARN, logger: logger}
}

func (s *SNSSender) Name() string { return "sns" }

func (s *SNSSender) Accepts(string) bool { return true }

func (s *SNSSender) Send(ctx context.Context, notif *db.Notification) error {
	body, err := json.Marshal(NewMessage(notif))
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(notif.Title),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(notif.Type),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("notification published to SNS",
		zap.String("id", notif.ID.String()),
		zap.String("type", notif.Type),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}
