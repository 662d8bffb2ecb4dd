package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/schoolcms/internal/api"
	"github.com/lalithlochan/schoolcms/internal/config"
	"github.com/lalithlochan/schoolcms/internal/metrics"
	"github.com/lalithlochan/schoolcms/internal/observ"
	"github.com/lalithlochan/schoolcms/internal/sqs"
)

const usage = `usage: lifecycle [command]

commands:
  serve          run the scheduler, trigger consumer and admin API (default)
  run <job>      run one job now and print its report
  trigger <job>  ask a running instance to run a job via the trigger queue

jobs: announcement-lifecycle, event-lifecycle, expiration-scan`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	command := "serve"
	if len(args) > 0 {
		command = args[0]
	}

	var job string
	switch command {
	case "serve":
	case "run", "trigger":
		if len(args) != 2 {
			return fmt.Errorf("%s needs a job name\n\n%s", command, usage)
		}
		job = args[1]
	case "help", "-h", "--help":
		fmt.Println(usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n\n%s", command, usage)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "trigger":
		return triggerJob(ctx, cfg, logger, job)
	case "run":
		return runJob(ctx, cfg, logger, job)
	default:
		return serve(ctx, cfg, logger)
	}
}

func triggerJob(ctx context.Context, cfg *config.Config, logger *zap.Logger, job string) error {
	if cfg.TriggerQueueURL == "" {
		return errors.New("TRIGGER_QUEUE_URL is not set")
	}

	producer, err := sqs.NewProducer(ctx, sqs.Config{
		Region:   cfg.AWSRegion,
		QueueURL: cfg.TriggerQueueURL,
		Endpoint: cfg.AWSEndpoint,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create trigger producer: %w", err)
	}

	requestedBy, _ := os.Hostname()
	id, err := producer.Enqueue(ctx, job, "cli@"+requestedBy)
	if err != nil {
		return err
	}

	metrics.RecordTrigger("cli", job)
	fmt.Printf("trigger for %s enqueued (message %s)\n", job, id)
	return nil
}

func runJob(ctx context.Context, cfg *config.Config, logger *zap.Logger, job string) error {
	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	metrics.RecordTrigger("cli", job)
	report, err := app.scheduler.RunNow(ctx, job)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting schoolcms lifecycle service",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.Duration("lifecycle_interval", cfg.LifecycleInterval),
		zap.String("expiration_scan", cfg.ExpirationScanCron),
		zap.String("timezone", cfg.Timezone),
	)

	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	var consumer *sqs.Consumer
	if cfg.TriggerQueueURL != "" {
		consumer, err = sqs.NewConsumer(ctx, sqs.Config{
			Region:   cfg.AWSRegion,
			QueueURL: cfg.TriggerQueueURL,
			Endpoint: cfg.AWSEndpoint,
		}, app.scheduler, logger)
		if err != nil {
			logger.Warn("trigger queue unavailable, remote triggers disabled", zap.Error(err))
			consumer = nil
		}
	}

	handler := api.NewHandler(logger, app.repo, app.scheduler, app)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, app.limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // manual job runs are synchronous
		IdleTimeout:  60 * time.Second,
	}

	// Any member failing cancels gctx and brings the rest down.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.scheduler.Start(gctx)
		return nil
	})
	g.Go(func() error {
		app.reportPoolStats(gctx, 15*time.Second)
		return nil
	})
	if consumer != nil {
		g.Go(func() error {
			consumer.Start(gctx)
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("admin API listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}
