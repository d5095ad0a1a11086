package app

import (
	"context"
	"net/http"

	"github.com/ilindan-dev/notifyforge/internal/config"
	"github.com/ilindan-dev/notifyforge/internal/delayed"
	deliveryHTTP "github.com/ilindan-dev/notifyforge/internal/delivery/http"
	"github.com/ilindan-dev/notifyforge/internal/domain/model"
	repo "github.com/ilindan-dev/notifyforge/internal/domain/repository"
	"github.com/ilindan-dev/notifyforge/internal/idempotency"
	"github.com/ilindan-dev/notifyforge/internal/intake"
	"github.com/ilindan-dev/notifyforge/internal/logger"
	"github.com/ilindan-dev/notifyforge/internal/outbox"
	"github.com/ilindan-dev/notifyforge/internal/plugins"
	"github.com/ilindan-dev/notifyforge/internal/plugins/email"
	"github.com/ilindan-dev/notifyforge/internal/plugins/logonly"
	"github.com/ilindan-dev/notifyforge/internal/plugins/telegram"
	"github.com/ilindan-dev/notifyforge/internal/plugins/whatsapp"
	"github.com/ilindan-dev/notifyforge/internal/processor"
	"github.com/ilindan-dev/notifyforge/internal/ratelimit"
	"github.com/ilindan-dev/notifyforge/internal/recovery"
	"github.com/ilindan-dev/notifyforge/internal/statusconsumer"
	"github.com/ilindan-dev/notifyforge/internal/storage/kafka"
	"github.com/ilindan-dev/notifyforge/internal/storage/postgres"
	"github.com/ilindan-dev/notifyforge/internal/storage/redis"
	"github.com/ilindan-dev/notifyforge/internal/webhook"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// deliveryChannels are the client-facing channels the processor process
// spins up a Processor for, one consumer group per channel (spec.md
// §4.6). "logonly" is a fallback provider binding, not a channel clients
// address, so it has no topic or Processor of its own.
var deliveryChannels = []string{"email", "telegram", "whatsapp"}

// CommonModule provides dependencies that are shared across every
// application (API, worker, processor, status consumer, recovery cron).
var CommonModule = fx.Options(
	fx.Provide(
		// Core components
		config.NewConfig,
		logger.NewLogger,

		// Storage Layer - concrete implementations
		postgres.NewPool,
		redis.NewClient,
		postgres.NewNotificationRepository,
		fx.Annotate(postgres.NewOutboxRepository, fx.As(new(repo.OutboxRepository))),
		fx.Annotate(postgres.NewAlertRepository, fx.As(new(repo.AlertRepository))),
		redis.NewNotificationCache,
		redis.NewQueue,

		// Coordination layer
		idempotency.NewRegistry,
		ratelimit.NewLimiter,

		// Intake service
		intake.NewService,
	),

	fx.Decorate(func(
		pgRepo *postgres.NotificationRepository,
		cache *redis.NotificationCache,
		logger *zerolog.Logger,
	) repo.NotificationRepository {
		return redis.NewCachedNotificationRepository(pgRepo, cache, logger)
	}),
)

// APIModule defines the Fx module for the HTTP API application.
var APIModule = fx.Options(
	CommonModule, // Include all shared components
	fx.Provide(
		// API-specific components
		deliveryHTTP.NewHandlers,
		deliveryHTTP.NewServer,
	),

	fx.Invoke(func(server *deliveryHTTP.Server, lc fx.Lifecycle) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go func() {
					if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						panic(err)
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return server.Shutdown(ctx)
			},
		})
	}),
)

// WorkerModule defines the Fx module for the background worker
// application: the transactional outbox poller (C4) and the delayed
// event poller (C5), the two pollers that move notifications onto
// channel topics. Per-channel delivery and reconciliation live in
// ProcessorModule, StatusModule, and RecoveryModule respectively, so
// each can be scaled and deployed independently.
var WorkerModule = fx.Options(
	CommonModule,
	fx.Provide(
		func(cfg *config.Config, logger *zerolog.Logger) *kafka.Producer {
			return kafka.NewProducer(cfg, logger)
		},
		outbox.NewPoller,
		delayed.NewPoller,
	),
	fx.Invoke(func(outboxPoller *outbox.Poller, delayedPoller *delayed.Poller, lc fx.Lifecycle) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go outboxPoller.Start(context.Background())
				go delayedPoller.Start(context.Background())
				return nil
			},
			OnStop: func(ctx context.Context) error {
				_ = outboxPoller.Stop(ctx)
				return delayedPoller.Stop(ctx)
			},
		})
	}),
)

// newPluginRegistry builds the channel -> Provider bindings, grounded on
// the teacher's mode-driven `notifiers.NewDispatcher` now expressed as
// `plugins.NewRegistryFromConfig`.
func newPluginRegistry(cfg *config.Config, logger *zerolog.Logger) (*plugins.Registry, error) {
	telegramProvider, err := telegram.New(cfg.Notifiers.Telegram, logger)
	if err != nil {
		return nil, err
	}

	providers := map[string]plugins.Provider{
		"email":    email.New(cfg.Notifiers.Email, logger),
		"telegram": telegramProvider,
		"whatsapp": whatsapp.New(cfg.Notifiers.WhatsApp, logger),
	}

	registry := plugins.NewRegistryFromConfig(cfg, logger, providers, logonly.New(logger))
	return registry, nil
}

// newProcessors assembles one Processor per delivery channel, each with
// its own consumer group and bound provider, per spec.md §4.6's "one
// consumer group per channel".
func newProcessors(
	cfg *config.Config,
	registry *plugins.Registry,
	delayedQueue *redis.Queue,
	producer *kafka.Producer,
	idemRegistry *idempotency.Registry,
	rateLimiter *ratelimit.Limiter,
	notifRepo repo.NotificationRepository,
	logger *zerolog.Logger,
) []*processor.Processor {
	processors := make([]*processor.Processor, 0, len(deliveryChannels))
	for _, channel := range deliveryChannels {
		provider, ok := registry.For(channel)
		if !ok {
			continue
		}
		consumer := kafka.NewConsumer(cfg, model.ChannelTopic(channel), "channel-"+channel, logger)
		processors = append(processors, processor.NewProcessor(
			cfg, channel, consumer, producer, delayedQueue, idemRegistry, rateLimiter, notifRepo, provider, logger,
		))
	}
	return processors
}

// ProcessorModule defines the Fx module for the channel-processor
// application (C8): a Processor per configured delivery channel,
// consuming from that channel's topic and driving its bound provider.
var ProcessorModule = fx.Options(
	CommonModule,
	fx.Provide(
		func(cfg *config.Config, logger *zerolog.Logger) *kafka.Producer {
			return kafka.NewProducer(cfg, logger)
		},
		newPluginRegistry,
		newProcessors,
	),
	fx.Invoke(func(processors []*processor.Processor, lc fx.Lifecycle) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				for _, p := range processors {
					go p.Start(context.Background())
				}
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return nil
			},
		})
	}),
)

// StatusModule defines the Fx module for the status-consumer application
// (C9): a single consumer group over the status topic driving the
// Notification store update and dispatch to the notification's webhook_url.
var StatusModule = fx.Options(
	CommonModule,
	fx.Provide(
		func(cfg *config.Config, logger *zerolog.Logger) *kafka.Consumer {
			return kafka.NewConsumer(cfg, "notification_status", "status-consumer", logger)
		},
		webhook.NewDispatcher,
		statusconsumer.NewConsumer,
	),
	fx.Invoke(func(consumer *statusconsumer.Consumer, lc fx.Lifecycle) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go consumer.Start(context.Background())
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return nil
			},
		})
	}),
)

// RecoveryModule defines the Fx module for the recovery-cron application
// (C10): the non-overlapping reconciliation ticker over stuck-processing
// and orphaned-pending notifications.
var RecoveryModule = fx.Options(
	CommonModule,
	fx.Provide(
		func(cfg *config.Config, logger *zerolog.Logger) *kafka.Producer {
			return kafka.NewProducer(cfg, logger)
		},
		recovery.NewCron,
	),
	fx.Invoke(func(cron *recovery.Cron, lc fx.Lifecycle) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go cron.Start(context.Background())
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return cron.Stop(ctx)
			},
		})
	}),
)
