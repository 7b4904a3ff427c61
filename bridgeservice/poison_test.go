//go:build integration

package bridgeservice_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/tinywideclouds/go-messaging-bridge/bridgeservice"
	"github.com/tinywideclouds/go-messaging-bridge/bridgeservice/config"
	"github.com/tinywideclouds/go-messaging-bridge/internal/adapter/stub"
	"github.com/tinywideclouds/go-messaging-bridge/internal/host"
	"github.com/tinywideclouds/go-messaging-bridge/internal/relay"
)

func TestBridgeService_PoisonPill(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	t.Cleanup(cancel)

	logger := newTestLogger()
	projectID := "test-project-dlq"

	// 1. Setup Pub/Sub Emulator
	pubsubConn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	psClient, err := pubsub.NewClient(ctx, projectID, pubsubConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = psClient.Close() })

	// 2. Arrange: main topic, DLQ topic and a DLQ listener subscription
	runID := uuid.NewString()
	mainTopicID := "vendor-main-" + runID
	dlqTopicID := "vendor-dlq-" + runID
	mainSubID := mainTopicID + "-sub"
	dlqSubID := dlqTopicID + "-sub"

	createTopic(t, ctx, psClient, projectID, mainTopicID)
	dlqTopicName := createTopic(t, ctx, psClient, projectID, dlqTopicID)
	_, err = psClient.SubscriptionAdminClient.CreateSubscription(ctx, &pubsubpb.Subscription{
		Name:  fmt.Sprintf("projects/%s/subscriptions/%s", projectID, dlqSubID),
		Topic: dlqTopicName,
	})
	require.NoError(t, err)

	// The main subscription is created by the relay consumer with a
	// dead-letter policy. Pre-create it with fast retries first.
	_, err = psClient.SubscriptionAdminClient.CreateSubscription(ctx, &pubsubpb.Subscription{
		Name:  fmt.Sprintf("projects/%s/subscriptions/%s", projectID, mainSubID),
		Topic: fmt.Sprintf("projects/%s/topics/%s", projectID, mainTopicID),
		DeadLetterPolicy: &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     dlqTopicName,
			MaxDeliveryAttempts: 5,
		},
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 1},
		},
	})
	require.NoError(t, err)

	cfg, err := config.UpdateConfigWithEnvOverrides(&config.Config{
		ProjectID:              projectID,
		ListenAddr:             ":0",
		VendorMode:             config.VendorHosted,
		TopicID:                mainTopicID,
		SubscriptionID:         mainSubID,
		SubscriptionDLQTopicID: dlqTopicID,
		NumPipelineWorkers:     2,
	}, logger)
	require.NoError(t, err)

	consumer, err := bridgeservice.NewRelayConsumer(ctx, cfg, psClient, logger)
	require.NoError(t, err)

	// 3. Service whose forwarders must never be reached
	fcmDispatcher := &mockDispatcher{}
	vendor := stub.New(logger)
	svc, err := bridgeservice.New(cfg, vendor, host.NewProvider(), bridgeservice.Relay{
		Consumer:   consumer,
		Forwarders: relay.Forwarders{FCM: fcmDispatcher},
	}, nil, logger)
	require.NoError(t, err)

	serviceCtx, serviceCancel := context.WithCancel(ctx)
	defer serviceCancel()
	go func() {
		if err := svc.Start(serviceCtx); err != nil && !errors.Is(err, context.Canceled) {
			t.Logf("service.Start() returned an error: %v", err)
		}
	}()
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	// 4. Act: publish malformed JSON
	poisonPayload := []byte(`{"this is not valid json"`)
	_, err = psClient.Publisher(mainTopicID).Publish(ctx, &pubsub.Message{Data: poisonPayload}).Get(ctx)
	require.NoError(t, err)

	// 5. Assert: the message lands on the DLQ
	dlqSub := psClient.Subscriber(dlqSubID)
	var wg sync.WaitGroup
	wg.Add(1)
	var receivedMsg *pubsub.Message

	go func() {
		defer wg.Done()
		cctx, cancel := context.WithTimeout(ctx, 20*time.Second)
		defer cancel()
		err := dlqSub.Receive(cctx, func(ctx context.Context, msg *pubsub.Message) {
			msg.Ack()
			receivedMsg = msg
			cancel()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("DLQ Receive returned an unexpected error: %v", err)
		}
	}()

	wg.Wait()
	require.NotNil(t, receivedMsg, "Did not receive message on the DLQ subscription")
	assert.Equal(t, poisonPayload, receivedMsg.Data)

	// 6. Negative Assertion: nothing was forwarded
	assert.Equal(t, 0, fcmDispatcher.GetCallCount(), "Forwarders should not be called for a poison pill message")
}
