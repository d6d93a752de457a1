package service

import (
	"context"
	"fmt"

	"billingsync/internal/config"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// SecretSource reads secret payloads by name.
type SecretSource interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretManagerService reads Stripe credentials from Google Secret Manager.
type SecretManagerService struct {
	client    *secretmanager.Client
	projectID string
}

func NewSecretManagerService(ctx context.Context, cfg *config.Config) (*SecretManagerService, error) {
	projectID := cfg.GetGCPProjectID()
	if projectID == "" {
		return nil, fmt.Errorf("GCP Project ID is not set for the current environment")
	}

	var opts []option.ClientOption
	// Secret Manager requires a real GCP project even for local development.
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	return &SecretManagerService{client: client, projectID: projectID}, nil
}

func (s *SecretManagerService) GetSecret(ctx context.Context, name string) (string, error) {
	resourceName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.projectID, name)
	result, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resourceName})
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", name, err)
	}
	return string(result.Payload.Data), nil
}

func (s *SecretManagerService) Close() error {
	return s.client.Close()
}

// StripeKeys holds the resolved Stripe credentials.
type StripeKeys struct {
	SecretKey     string
	WebhookSecret string
}

// ResolveStripeKeys prefers keys set directly in the environment and falls
// back to the named secrets. src may be nil when no secret names are set.
func ResolveStripeKeys(ctx context.Context, cfg *config.Config, src SecretSource) (StripeKeys, error) {
	keys := StripeKeys{SecretKey: cfg.StripeSecretKey, WebhookSecret: cfg.StripeWebhookSecret}

	lookup := func(current, name, what string) (string, error) {
		if current != "" || name == "" {
			return current, nil
		}
		if src == nil {
			return "", fmt.Errorf("%s secret %q configured but no secret source available", what, name)
		}
		v, err := src.GetSecret(ctx, name)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", what, err)
		}
		return v, nil
	}

	var err error
	if keys.SecretKey, err = lookup(keys.SecretKey, cfg.StripeSecretName, "stripe secret key"); err != nil {
		return StripeKeys{}, err
	}
	if keys.WebhookSecret, err = lookup(keys.WebhookSecret, cfg.StripeWebhookSecretName, "stripe webhook secret"); err != nil {
		return StripeKeys{}, err
	}
	if keys.SecretKey == "" {
		return StripeKeys{}, fmt.Errorf("stripe secret key is not configured")
	}
	return keys, nil
}

// NeedsSecretManager reports whether any Stripe key must be read from Secret Manager.
func NeedsSecretManager(cfg *config.Config) bool {
	return (cfg.StripeSecretKey == "" && cfg.StripeSecretName != "") ||
		(cfg.StripeWebhookSecret == "" && cfg.StripeWebhookSecretName != "")
}
