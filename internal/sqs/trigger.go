// Package sqs carries remote job triggers. An external orchestrator (or the
// `lifecycle trigger` command) enqueues {"job": "<name>"} and whichever
// instance receives the message runs that job once.
package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/schoolcms/internal/lifecycle"
	"github.com/lalithlochan/schoolcms/internal/metrics"
	"github.com/lalithlochan/schoolcms/internal/scheduler"
)

var ErrInvalidTrigger = errors.New("invalid trigger")

type Config struct {
	Region   string
	QueueURL string
	Endpoint string        // LocalStack
	MaxAge   time.Duration // triggers older than this are dropped unrun
}

// Message is the trigger payload.
type Message struct {
	Job         string    `json:"job"`
	RequestedAt time.Time `json:"requested_at,omitempty"`
	RequestedBy string    `json:"requested_by,omitempty"`
}

// Parse decodes and validates a trigger body.
func Parse(body string) (*Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
	}
	if !slices.Contains(lifecycle.Jobs(), msg.Job) {
		return nil, fmt.Errorf("%w: unknown job %q", ErrInvalidTrigger, msg.Job)
	}
	return &msg, nil
}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

func newClient(ctx context.Context, cfg Config) (*sqs.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Producer enqueues triggers.
type Producer struct {
	client   sqsAPI
	queueURL string
	logger   *zap.Logger
}

func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Producer{client: client, queueURL: cfg.QueueURL, logger: logger}, nil
}

// Enqueue asks one consumer on the queue to run job. Returns the message ID.
func (p *Producer) Enqueue(ctx context.Context, job, requestedBy string) (string, error) {
	if !slices.Contains(lifecycle.Jobs(), job) {
		return "", fmt.Errorf("%w: unknown job %q", ErrInvalidTrigger, job)
	}

	body, err := json.Marshal(Message{Job: job, RequestedAt: time.Now().UTC(), RequestedBy: requestedBy})
	if err != nil {
		return "", fmt.Errorf("failed to marshal trigger: %w", err)
	}

	result, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	p.logger.Info("job trigger enqueued",
		zap.String("job", job),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return aws.ToString(result.MessageId), nil
}

// Runner runs a job out of schedule. *scheduler.Scheduler implements it.
type Runner interface {
	RunNow(ctx context.Context, job string) (*lifecycle.Report, error)
}

// Consumer long-polls the trigger queue and runs what it receives.
type Consumer struct {
	client   sqsAPI
	queueURL string
	runner   Runner
	maxAge   time.Duration
	clock    func() time.Time
	logger   *zap.Logger
}

func NewConsumer(ctx context.Context, cfg Config, runner Runner, logger *zap.Logger) (*Consumer, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newConsumer(client, cfg, runner, logger), nil
}

func newConsumer(client sqsAPI, cfg Config, runner Runner, logger *zap.Logger) *Consumer {
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 15 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("sqs trigger consumer initialized", zap.String("queue_url", cfg.QueueURL))

	return &Consumer{
		client:   client,
		queueURL: cfg.QueueURL,
		runner:   runner,
		maxAge:   cfg.MaxAge,
		clock:    time.Now,
		logger:   logger,
	}
}

// Start polls until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			c.logger.Info("sqs trigger consumer stopping")
			return
		}

		if err := c.Poll(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("trigger poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
		}
	}
}

// Poll receives one batch and handles every message in it.
func (c *Consumer) Poll(ctx context.Context) error {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   120,
	})
	if err != nil {
		return fmt.Errorf("sqs receive failed: %w", err)
	}

	for _, m := range result.Messages {
		c.handle(ctx, m)
	}
	return nil
}

// handle deletes the message unless the job failed; a failed job is retried
// when the message becomes visible again.
func (c *Consumer) handle(ctx context.Context, m types.Message) {
	logger := c.logger.With(zap.String("message_id", aws.ToString(m.MessageId)))

	msg, err := Parse(aws.ToString(m.Body))
	if err != nil {
		logger.Warn("dropping invalid trigger", zap.Error(err))
		c.delete(ctx, m, logger)
		return
	}

	if !msg.RequestedAt.IsZero() && c.clock().Sub(msg.RequestedAt) > c.maxAge {
		logger.Warn("dropping stale trigger",
			zap.String("job", msg.Job),
			zap.Time("requested_at", msg.RequestedAt),
		)
		c.delete(ctx, m, logger)
		return
	}

	metrics.RecordTrigger("sqs", msg.Job)
	report, err := c.runner.RunNow(ctx, msg.Job)
	if err != nil && !errors.Is(err, scheduler.ErrJobRunning) {
		logger.Error("triggered job failed", zap.String("job", msg.Job), zap.Error(err))
		return
	}

	if report != nil {
		logger.Info("triggered job finished",
			zap.String("job", msg.Job),
			zap.String("requested_by", msg.RequestedBy),
			zap.Int("notified", report.Notified),
		)
	}
	c.delete(ctx, m, logger)
}

func (c *Consumer) delete(ctx context.Context, m types.Message, logger *zap.Logger) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: m.ReceiptHandle,
	})
	if err != nil {
		logger.Error("sqs delete failed", zap.Error(err))
	}
}
