package bridgeservice

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-messaging-bridge/bridgeservice/config"
)

const maxDeliveryAttempts = 5

// NewRelayConsumer ensures the relay subscription exists, with a dead-letter
// policy when a DLQ topic is configured, and returns a consumer for it.
func NewRelayConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := resourceName(cfg.ProjectID, "subscriptions", cfg.SubscriptionID)

	if cfg.TopicID != "" {
		subConfig := &pubsubpb.Subscription{
			Name:               sub,
			Topic:              resourceName(cfg.ProjectID, "topics", cfg.TopicID),
			AckDeadlineSeconds: 10,
		}
		if cfg.SubscriptionDLQTopicID != "" {
			subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
				DeadLetterTopic:     resourceName(cfg.ProjectID, "topics", cfg.SubscriptionDLQTopicID),
				MaxDeliveryAttempts: maxDeliveryAttempts,
			}
		}

		logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
		_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
		if err != nil {
			if status.Code(err) != codes.AlreadyExists {
				logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
				return nil, fmt.Errorf("could not create subscription %s: %w", sub, err)
			}
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(sub), psClient, logger,
	)
}

func resourceName(project, kind, id string) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, kind, id)
}
