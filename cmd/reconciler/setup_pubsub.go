package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"billingsync/internal/config"

	"cloud.google.com/go/pubsub"
	"github.com/spf13/cobra"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var setupPubSubCmd = &cobra.Command{
	Use:   "setup-pubsub",
	Short: "Create the billing event topic, its dead-letter topic and subscriptions",
	Long: `Ensures the billing event topic and a pull subscription with a dead-letter
policy exist. Against the local emulator, --reset first deletes every topic
and subscription.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.PubSubBillingTopic == "" {
			return errors.New("PUBSUB_BILLING_TOPIC is not set")
		}
		projectID := cfg.GetGCPProjectID()
		if projectID == "" {
			return errors.New("GCP project id is not set for the current environment")
		}

		var opts []option.ClientOption
		if cfg.PubSubEmulatorHost != "" {
			opts = append(opts, option.WithEndpoint(cfg.PubSubEmulatorHost), option.WithoutAuthentication())
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		client, err := pubsub.NewClient(ctx, projectID, opts...)
		if err != nil {
			return fmt.Errorf("create Pub/Sub client: %w", err)
		}
		defer func() {
			if err := client.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close pubsub client")
			}
		}()

		if reset, _ := cmd.Flags().GetBool("reset"); reset {
			if cfg.PubSubEmulatorHost == "" {
				return errors.New("--reset is only allowed against the Pub/Sub emulator")
			}
			if err := resetEmulator(ctx, client); err != nil {
				return err
			}
		}
		return ensureBillingResources(ctx, client, cfg.PubSubBillingTopic)
	},
}

func init() {
	setupPubSubCmd.Flags().Bool("reset", false, "Delete all topics and subscriptions first (emulator only)")
}

// resetEmulator deletes every subscription and topic in the project.
func resetEmulator(ctx context.Context, client *pubsub.Client) error {
	subs := client.Subscriptions(ctx)
	for {
		sub, err := subs.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("list subscriptions: %w", err)
		}
		log.Info().Str("subscription", sub.ID()).Msg("Deleting subscription")
		if err := sub.Delete(ctx); err != nil {
			log.Warn().Err(err).Str("subscription", sub.ID()).Msg("Failed to delete subscription")
		}
	}

	topics := client.Topics(ctx)
	for {
		topic, err := topics.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("list topics: %w", err)
		}
		log.Info().Str("topic", topic.ID()).Msg("Deleting topic")
		if err := topic.Delete(ctx); err != nil {
			log.Warn().Err(err).Str("topic", topic.ID()).Msg("Failed to delete topic")
		}
	}
	return nil
}

func ensureBillingResources(ctx context.Context, client *pubsub.Client, topicID string) error {
	const retention = 7 * 24 * time.Hour

	dlqTopic, err := ensureTopic(ctx, client, topicID+"-dlq", retention)
	if err != nil {
		return err
	}
	mainTopic, err := ensureTopic(ctx, client, topicID, retention)
	if err != nil {
		return err
	}

	retry := &pubsub.RetryPolicy{MinimumBackoff: 10 * time.Second, MaximumBackoff: 600 * time.Second}
	if err := ensureSubscription(ctx, client, topicID+"-sub", pubsub.SubscriptionConfig{
		Topic:            mainTopic,
		AckDeadline:      60 * time.Second,
		ExpirationPolicy: time.Duration(0),
		RetryPolicy:      retry,
		DeadLetterPolicy: &pubsub.DeadLetterPolicy{
			DeadLetterTopic:     dlqTopic.String(),
			MaxDeliveryAttempts: 5,
		},
	}); err != nil {
		return err
	}
	if err := ensureSubscription(ctx, client, topicID+"-dlq-sub", pubsub.SubscriptionConfig{
		Topic:            dlqTopic,
		AckDeadline:      60 * time.Second,
		ExpirationPolicy: time.Duration(0),
		RetryPolicy:      retry,
	}); err != nil {
		return err
	}
	log.Info().Str("topic", topicID).Msg("Pub/Sub billing resources are ready")
	return nil
}

func ensureTopic(ctx context.Context, client *pubsub.Client, topicID string, retention time.Duration) (*pubsub.Topic, error) {
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %s: %w", topicID, err)
	}
	if !exists {
		log.Info().Str("topic", topicID).Dur("retention", retention).Msg("Creating topic")
		return client.CreateTopicWithConfig(ctx, topicID, &pubsub.TopicConfig{RetentionDuration: retention})
	}

	tcfg, err := topic.Config(ctx)
	if err != nil {
		return nil, fmt.Errorf("read topic %s config: %w", topicID, err)
	}
	found := topicRetention(tcfg)
	if found != retention {
		log.Warn().
			Str("topic", topicID).
			Dur("expected", retention).
			Dur("found", found).
			Msg("Topic retention differs; update it manually")
	}
	return topic, nil
}

// topicRetention reads the configured message retention; zero when unset.
func topicRetention(cfg pubsub.TopicConfig) time.Duration {
	d, _ := cfg.RetentionDuration.(time.Duration)
	return d
}

// ensureSubscription creates the subscription or brings its ack deadline and
// retry policy up to date.
func ensureSubscription(ctx context.Context, client *pubsub.Client, subID string, want pubsub.SubscriptionConfig) error {
	sub := client.Subscription(subID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check subscription %s: %w", subID, err)
	}
	if !exists {
		log.Info().Str("subscription", subID).Msg("Creating subscription")
		if _, err := client.CreateSubscription(ctx, subID, want); err != nil {
			return fmt.Errorf("create subscription %s: %w", subID, err)
		}
		return nil
	}

	have, err := sub.Config(ctx)
	if err != nil {
		return fmt.Errorf("read subscription %s config: %w", subID, err)
	}
	if have.AckDeadline == want.AckDeadline && sameRetryPolicy(have.RetryPolicy, want.RetryPolicy) {
		log.Info().Str("subscription", subID).Msg("Subscription is up to date")
		return nil
	}
	log.Info().Str("subscription", subID).Msg("Updating subscription")
	if _, err := sub.Update(ctx, pubsub.SubscriptionConfigToUpdate{
		AckDeadline: want.AckDeadline,
		RetryPolicy: want.RetryPolicy,
	}); err != nil {
		return fmt.Errorf("update subscription %s: %w", subID, err)
	}
	return nil
}

func sameRetryPolicy(a, b *pubsub.RetryPolicy) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.MinimumBackoff == b.MinimumBackoff && a.MaximumBackoff == b.MaximumBackoff
}
