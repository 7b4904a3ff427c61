// Package fcm forwards relayed conversation messages to Android devices via
// Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-messaging-bridge/pkg/dispatch"
)

// MessagingClient is the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Dispatcher struct {
	client MessagingClient
	logger *slog.Logger
}

func NewDispatcher(client MessagingClient, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		logger: logger.With("component", "FCMDispatcher"),
	}
}

// Dispatch sends msg to every token in one multicast. Messages for the same
// conversation collapse on the device so only the latest is shown.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, msg dispatch.Message) (string, []string, error) {
	if len(tokens) == 0 {
		return "skipped: no tokens", nil, nil
	}

	mm := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   withConversation(msg),
		Notification: &messaging.Notification{
			Title: msg.Content.Title,
			Body:  msg.Content.Body,
		},
		Android: &messaging.AndroidConfig{
			CollapseKey: msg.ConversationID,
			Priority:    "high",
			Notification: &messaging.AndroidNotification{
				Tag:               msg.ConversationID,
				Sound:             msg.Content.Sound,
				NotificationCount: &msg.Badge,
			},
		},
	}

	br, err := d.client.SendEachForMulticast(ctx, mm)
	if err != nil {
		// A batch-level InvalidArgument is our payload, not the network.
		// Retrying would loop forever, so the message is dropped.
		if messaging.IsInvalidArgument(err) {
			d.logger.Error("FCM rejected batch as InvalidArgument (dropping)", "err", err)
			return "skipped: invalid_argument", nil, nil
		}
		return "", nil, fmt.Errorf("fcm transport failed: %w", err)
	}

	var invalidTokens []string
	retryableErrors := 0

	if br.FailureCount > 0 {
		for idx, resp := range br.Responses {
			if resp.Success {
				continue
			}
			if messaging.IsInvalidArgument(resp.Error) || messaging.IsRegistrationTokenNotRegistered(resp.Error) {
				invalidTokens = append(invalidTokens, tokens[idx])
				continue
			}
			retryableErrors++
		}
	}

	if retryableErrors > 0 {
		return "", invalidTokens, fmt.Errorf("batch had %d retryable errors", retryableErrors)
	}

	receipt := fmt.Sprintf("success:%d invalid:%d", br.SuccessCount, len(invalidTokens))
	return receipt, invalidTokens, nil
}

// withConversation copies the data payload and adds the routing keys the
// app needs to open the right conversation on tap.
func withConversation(msg dispatch.Message) map[string]string {
	data := make(map[string]string, len(msg.Data)+2)
	for k, v := range msg.Data {
		data[k] = v
	}
	if msg.ConversationID != "" {
		data["conversationId"] = msg.ConversationID
	}
	data["unread"] = strconv.Itoa(msg.Badge)
	return data
}
