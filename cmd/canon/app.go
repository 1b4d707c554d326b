package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/canonhq/canon/internal/assistant"
	"github.com/canonhq/canon/internal/config"
	"github.com/canonhq/canon/internal/events"
	"github.com/canonhq/canon/internal/gateway"
	"github.com/canonhq/canon/internal/indexer"
	"github.com/canonhq/canon/internal/lock"
	"github.com/canonhq/canon/internal/observability"
	"github.com/canonhq/canon/internal/run"
	"github.com/canonhq/canon/internal/store"
)

// shutdownTimeout bounds graceful shutdown of in-flight requests.
const shutdownTimeout = 10 * time.Second

// app holds the shared wiring both commands need.
type app struct {
	cfg     *config.Config
	logger  *observability.Logger
	metrics *observability.Metrics

	dynamo      *dynamodb.Client
	eventbridge *eventbridge.Client
	sqs         *sqs.Client
	s3          *s3.Client

	shutdownTracer func(context.Context) error
}

// newApp builds logging, metrics, tracing, and the AWS clients.
func newApp(ctx context.Context, cfg *config.Config, debug bool) (*app, error) {
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	_, shutdownTracer, err := observability.NewTracer(ctx, observability.TraceConfig{
		ServiceName:    "canon",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := cfg.AWS.Endpoint
	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		dynamo: dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		}),
		eventbridge: eventbridge.NewFromConfig(awsCfg, func(o *eventbridge.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		}),
		sqs: sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		}),
		s3: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		}),
		shutdownTracer: shutdownTracer,
	}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.shutdownTracer(ctx); err != nil {
		a.logger.Warn(ctx, "tracer shutdown", "error", err)
	}
}

// buildExecutor assembles the closed tool registry.
func (a *app) buildExecutor() (*run.Executor, error) {
	var tools []run.Tool
	if a.cfg.Podcast.BaseURL != "" {
		api, err := run.NewPodcastAPI(a.cfg.Podcast.BaseURL, nil)
		if err != nil {
			return nil, err
		}
		tools = append(tools, run.NewPodcastFeedsTool(api), run.NewPodcastEpisodesTool(api))
	}
	return run.NewExecutor(a.logger, a.metrics, run.ExecutorConfig{}, tools...)
}

// buildIndexClient creates the reasoning-service client advertising the
// executor's tool manifest.
func (a *app) buildIndexClient(executor *run.Executor) *assistant.Client {
	return assistant.NewClient(assistant.ClientConfig{
		APIKey:       a.cfg.Reasoning.APIKey,
		BaseURL:      a.cfg.Reasoning.BaseURL,
		Model:        a.cfg.Reasoning.Model,
		Name:         a.cfg.Reasoning.Name,
		Instructions: a.cfg.Reasoning.Instructions,
		Tools:        executor.Manifest(),
	})
}

// runServe starts the HTTP gateway and blocks until SIGINT/SIGTERM.
func runServe(ctx context.Context, cfg *config.Config, debug bool) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required for serve")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, debug)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	executor, err := a.buildExecutor()
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}
	client := a.buildIndexClient(executor)
	streamer := assistant.NewStreamer(assistant.StreamerConfig{
		APIKey:  cfg.Reasoning.APIKey,
		BaseURL: cfg.Reasoning.BaseURL,
	})

	sessions, err := store.NewDynamoSessionStore(a.dynamo, cfg.Tables.Sessions)
	if err != nil {
		return err
	}
	records, err := store.NewDynamoAssistantStore(a.dynamo, cfg.Tables.Assistants)
	if err != nil {
		return err
	}

	server := gateway.NewServer(
		gateway.Config{Addr: cfg.Server.Addr, PublicBaseURL: cfg.Server.PublicBaseURL},
		gateway.NewVerifier(cfg.Auth.JWTSecret),
		client, streamer, executor, sessions, records,
		a.logger, a.metrics,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info(ctx, "shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	return <-errCh
}

// runWorker starts the ingestion consumer and blocks until SIGINT/SIGTERM.
func runWorker(ctx context.Context, cfg *config.Config, debug bool) error {
	if cfg.Events.QueueURL == "" {
		return errors.New("events.queue_url is required for worker")
	}
	if cfg.Events.Bus == "" {
		return errors.New("events.bus is required for worker")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, debug)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	executor, err := a.buildExecutor()
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}
	client := a.buildIndexClient(executor)

	locks, err := lock.NewDynamoLocker(a.dynamo, cfg.Tables.Locks, cfg.Lock.TTL)
	if err != nil {
		return err
	}
	records, err := store.NewDynamoAssistantStore(a.dynamo, cfg.Tables.Assistants)
	if err != nil {
		return err
	}
	bus, err := events.NewBusPublisher(a.eventbridge, cfg.Events.Bus, cfg.Events.Source)
	if err != nil {
		return err
	}
	fetcher := indexer.NewDocumentFetcher(nil, a.s3)

	orchestrator := indexer.NewOrchestrator(locks, client, records, bus, fetcher, a.logger, a.metrics)
	consumer, err := indexer.NewConsumer(a.sqs, orchestrator, indexer.ConsumerConfig{
		QueueURL: cfg.Events.QueueURL,
	}, a.logger)
	if err != nil {
		return err
	}

	return consumer.Run(ctx)
}
