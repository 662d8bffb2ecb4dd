package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/schoolcms/internal/config"
	"github.com/lalithlochan/schoolcms/internal/db"
	"github.com/lalithlochan/schoolcms/internal/lifecycle"
	"github.com/lalithlochan/schoolcms/internal/metrics"
	"github.com/lalithlochan/schoolcms/internal/redis"
	"github.com/lalithlochan/schoolcms/internal/relay"
	"github.com/lalithlochan/schoolcms/internal/scheduler"
)

type app struct {
	database  *db.DB
	repo      *db.Repository
	redis     *redis.Client // nil when Redis is down
	limiter   *redis.RateLimiter
	scheduler *scheduler.Scheduler
	logger    *zap.Logger
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &app{
		database: database,
		repo:     db.NewRepository(database, logger),
		logger:   logger,
	}

	var ledger lifecycle.Ledger
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		// Without Redis the notification history is the ledger. That is only
		// safe with a single scheduler instance.
		logger.Warn("redis unavailable, falling back to notification history for dedup",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
		ledger = db.NewHistoryLedger(a.repo)
	} else {
		a.redis = redisClient
		ledger = redis.NewFiringLedger(redisClient, logger)
		a.limiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  10,
			Window: time.Minute,
		})
	}

	svc := lifecycle.New(a.repo, ledger, buildRelay(ctx, cfg, logger), lifecycle.Config{
		DedupWindow:     cfg.DedupWindow,
		LookaheadWindow: cfg.LookaheadWindow,
	}, logger)

	a.scheduler, err = scheduler.New(svc, scheduler.Config{
		LifecycleInterval:  cfg.LifecycleInterval,
		ExpirationScanCron: cfg.ExpirationScanCron,
		Location:           cfg.Location(),
		TickInterval:       cfg.TickInterval,
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build scheduler: %w", err)
	}

	return a, nil
}

// buildRelay returns nil when no channel is configured outside development.
func buildRelay(ctx context.Context, cfg *config.Config, logger *zap.Logger) lifecycle.Relay {
	awsCfg := relay.AWSConfig{Region: cfg.AWSRegion, Endpoint: cfg.AWSEndpoint}
	var senders []relay.Sender

	if cfg.SNSTopicARN != "" {
		sender, err := relay.NewSNSSender(ctx, awsCfg, cfg.SNSTopicARN, logger)
		if err != nil {
			logger.Warn("SNS relay unavailable", zap.Error(err))
		} else {
			senders = append(senders, relay.Protect(sender, logger))
		}
	}

	if cfg.AlertEmail != "" {
		sender, err := relay.NewSESSender(ctx, relay.SESConfig{
			AWSConfig: awsCfg,
			FromEmail: cfg.SESFromEmail,
			ToEmail:   cfg.AlertEmail,
		}, logger)
		if err != nil {
			logger.Warn("SES alert relay unavailable", zap.Error(err))
		} else {
			senders = append(senders, relay.Protect(sender, logger))
		}
	}

	if cfg.WebhookURL != "" {
		sender, err := relay.NewWebhookSender(relay.WebhookConfig{
			URL:     cfg.WebhookURL,
			Secret:  cfg.WebhookSecret,
			Timeout: cfg.WebhookTimeout,
		}, logger)
		if err != nil {
			logger.Warn("webhook relay unavailable", zap.Error(err))
		} else {
			senders = append(senders, relay.Protect(sender, logger))
		}
	}

	if len(senders) == 0 && cfg.Env == "development" {
		senders = append(senders, relay.NewLogSender(logger))
	}

	logger.Info("notification relay configured",
		zap.Bool("sns_enabled", cfg.SNSTopicARN != ""),
		zap.Bool("ses_enabled", cfg.AlertEmail != ""),
		zap.Bool("webhook_enabled", cfg.WebhookURL != ""),
		zap.Int("channels", len(senders)),
	)

	if len(senders) == 0 {
		return nil
	}
	return relay.NewFanout(logger, senders...)
}

func (a *app) reportPoolStats(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetDBConnections(int(a.database.Pool().Stat().AcquiredConns()))
			if a.redis != nil {
				metrics.SetRedisConnections(a.redis.ActiveConns())
			}
		}
	}
}

// Health checks Postgres, then Redis when the ledger lives there.
func (a *app) Health(ctx context.Context) error {
	if err := a.database.Health(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.database.Close()
}
