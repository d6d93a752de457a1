// Package bootstrap builds the repositories and services shared by the HTTP
// server and the reconciler command.
package bootstrap

import (
	"context"
	"fmt"

	"billingsync/internal/config"
	"billingsync/internal/database"
	"billingsync/internal/pgmq"
	"billingsync/internal/pubsub"
	"billingsync/internal/repository"
	"billingsync/internal/service"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// App holds the wired application graph.
type App struct {
	Config *config.Config
	Pool   *pgxpool.Pool
	Queue  *pgmq.Client

	TenantRepo     repository.TenantRepository
	UserRepo       repository.UserRepository
	SubRepo        repository.SubscriptionRepository
	WebhookLogRepo repository.WebhookLogRepository

	Trial     service.TrialService
	Reconcile service.ReconciliationService
	Health    service.HealthService
	Webhooks  service.WebhookService

	closers []func() error
	logger  zerolog.Logger
}

// New connects to Postgres, resolves the Stripe keys and wires every service.
// The caller must Close the returned App.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	app := &App{Config: cfg, logger: logger}

	pool, err := database.NewPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app.Pool = pool
	app.closers = append(app.closers, func() error { pool.Close(); return nil })

	var secrets service.SecretSource
	if service.NeedsSecretManager(cfg) {
		sm, err := service.NewSecretManagerService(ctx, cfg)
		if err != nil {
			app.Close()
			return nil, err
		}
		secrets = sm
		app.closers = append(app.closers, sm.Close)
	}
	keys, err := service.ResolveStripeKeys(ctx, cfg, secrets)
	if err != nil {
		app.Close()
		return nil, err
	}

	publisher, err := app.billingPublisher(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Queue = pgmq.New(pool)
	app.TenantRepo = repository.NewTenantRepo(pool)
	app.UserRepo = repository.NewUserRepo(pool)
	app.SubRepo = repository.NewSubscriptionRepo(pool)
	app.WebhookLogRepo = repository.NewWebhookLogRepository(pool)

	stripeSvc := service.NewStripeService(service.NewStripeClient(cfg, keys.SecretKey), logger)

	app.Trial = service.NewTrialService(app.TenantRepo, app.SubRepo, logger)
	app.Reconcile = service.NewReconciliationService(app.TenantRepo, app.UserRepo, app.SubRepo, stripeSvc, publisher, logger)
	app.Health = service.NewHealthService(app.WebhookLogRepo, logger)
	app.Webhooks = service.NewWebhookService(
		keys.WebhookSecret,
		app.Reconcile,
		app.WebhookLogRepo,
		pgmq.NewReconcileQueue(app.Queue, cfg.ReconcileQueueName),
		logger,
	)
	if keys.WebhookSecret == "" {
		logger.Warn().Msg("Stripe webhook secret not configured; webhook deliveries will be rejected")
	}
	return app, nil
}

// billingPublisher returns a Pub/Sub backed publisher, or a no-op one when no
// billing topic is configured.
func (a *App) billingPublisher(ctx context.Context) (*pubsub.BillingEventPublisher, error) {
	if a.Config.PubSubBillingTopic == "" {
		a.logger.Info().Msg("PUBSUB_BILLING_TOPIC not set; billing events will not be published")
		return pubsub.NewBillingEventPublisher(nil, ""), nil
	}
	pub, err := pubsub.NewPublisher(ctx, a.Config)
	if err != nil {
		return nil, fmt.Errorf("create Pub/Sub publisher: %w", err)
	}
	a.closers = append(a.closers, pub.Close)
	return pubsub.NewBillingEventPublisher(pub, a.Config.PubSubBillingTopic), nil
}

// Close releases clients in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close resource")
		}
	}
	a.closers = nil
}
