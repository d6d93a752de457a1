package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port               string `envconfig:"PORT" default:"8080"`
	Environment        string `envconfig:"ENV" default:"development"`
	DBConnectionString string `envconfig:"DB_CONNECTION_STRING" required:"true"`
	JWTSecret          string `envconfig:"SUPABASE_JWT_SECRET" required:"true"`
	RequestTimeoutSec  int    `envconfig:"REQUEST_TIMEOUT_SEC" default:"30"`
	DBMaxConns         int32  `envconfig:"DB_MAX_CONNS" default:"25"`

	// Operator endpoints (/reconcile, /health). Either a static key or a
	// Google-signed ID token from the scheduler service account is accepted.
	OperatorAPIKey              string `envconfig:"OPERATOR_API_KEY"`
	OperatorTokenAudience       string `envconfig:"OPERATOR_TOKEN_AUDIENCE"`
	OperatorServiceAccountEmail string `envconfig:"OPERATOR_SERVICE_ACCOUNT_EMAIL"`

	// Stripe settings
	StripeSecretKey         string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret     string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeSecretName        string `envconfig:"STRIPE_SECRET_NAME"`
	StripeWebhookSecretName string `envconfig:"STRIPE_WEBHOOK_SECRET_NAME"`
	StripeMaxNetworkRetries int64  `envconfig:"STRIPE_MAX_NETWORK_RETRIES" default:"2"`
	ProviderTimeoutSec      int    `envconfig:"PROVIDER_TIMEOUT_SEC" default:"10"`

	// GCP settings
	GCPProjectID       string `envconfig:"GCP_PROJECT_ID"`
	GCPProjectIDLocal  string `envconfig:"GCP_PROJECT_ID_LOCAL"`
	PubSubBillingTopic string `envconfig:"PUBSUB_BILLING_TOPIC"`
	PubSubEmulatorHost string `envconfig:"PUBSUB_EMULATOR_HOST"`

	// Reconcile worker settings
	ReconcileQueueName         string `envconfig:"RECONCILE_QUEUE_NAME" default:"reconcile_queue"`
	ReconcileDeadLetterQueue   string `envconfig:"RECONCILE_DEAD_LETTER_QUEUE_NAME" default:"reconcile_queue_dlq"`
	ReconcilePollTimeoutSec    int    `envconfig:"RECONCILE_POLL_TIMEOUT_SEC" default:"30"`
	ReconcilePollMaxMsg        int    `envconfig:"RECONCILE_POLL_MAX_MSG" default:"1"`
	ReconcileVisibilityTimeout int    `envconfig:"RECONCILE_VISIBILITY_TIMEOUT_SEC" default:"120"`
	ReconcileMaxRetries        int    `envconfig:"RECONCILE_MAX_RETRIES" default:"5"`
	ReconcileBackoffInitialSec int    `envconfig:"RECONCILE_BACKOFF_INITIAL_SEC" default:"1"`
	ReconcileBackoffMaxSec     int    `envconfig:"RECONCILE_BACKOFF_MAX_SEC" default:"60"`
	ReconcileRequestTimeoutSec int    `envconfig:"RECONCILE_REQUEST_TIMEOUT_SEC" default:"60"`

	// Periodic jobs
	SweepIntervalSec  int `envconfig:"SWEEP_INTERVAL_SEC" default:"3600"`
	HealthIntervalSec int `envconfig:"HEALTH_INTERVAL_SEC" default:"300"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetGCPProjectID returns the project used for Pub/Sub and Secret Manager.
// Local development uses a separate project so production secrets stay isolated.
func (c *Config) GetGCPProjectID() string {
	if c.Environment == "development" && c.GCPProjectIDLocal != "" {
		return c.GCPProjectIDLocal
	}
	return c.GCPProjectID
}

// IsLocalDev reports whether the process runs against local emulators.
func (c *Config) IsLocalDev() bool {
	return c.Environment == "development"
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSec) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}
