// Package web forwards relayed conversation messages to browsers via VAPID
// Web Push.
package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-messaging-bridge/bridgeservice/config"
	"github.com/tinywideclouds/go-messaging-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

type Dispatcher struct {
	subscriber string
	privateKey string
	publicKey  string
	logger     *slog.Logger
	httpClient *http.Client
}

func NewDispatcher(cfg config.VapidConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		logger:     logger.With("component", "WebPushDispatcher"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type webPayload struct {
	Notification webNotification  `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type webNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	// Tag makes the browser replace the previous notification for the
	// same conversation.
	Tag   string `json:"tag,omitempty"`
	Badge int    `json:"badge"`
}

// Dispatch returns the subscriptions the push service reported as gone so
// the caller can delete them.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	subs []notification.WebPushSubscription,
	msg dispatch.Message,
) (string, []notification.WebPushSubscription, error) {
	if len(subs) == 0 {
		return "skipped: no subscriptions", nil, nil
	}

	data := make(map[string]string, len(msg.Data)+1)
	for k, v := range msg.Data {
		data[k] = v
	}
	if msg.ConversationID != "" {
		data["conversationId"] = msg.ConversationID
	}

	payloadBytes, err := json.Marshal(webPayload{
		Notification: webNotification{
			Title: msg.Content.Title,
			Body:  msg.Content.Body,
			Tag:   msg.ConversationID,
			Badge: msg.Badge,
		},
		Data: data,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	var invalidSubs []notification.WebPushSubscription
	successCount := 0
	failureCount := 0

	for _, sub := range subs {
		s := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: base64.RawURLEncoding.EncodeToString(sub.Keys.P256dh),
				Auth:   base64.RawURLEncoding.EncodeToString(sub.Keys.Auth),
			},
		}

		resp, err := webpush.SendNotificationWithContext(ctx, payloadBytes, s, &webpush.Options{
			Subscriber:      d.subscriber,
			VAPIDPublicKey:  d.publicKey,
			VAPIDPrivateKey: d.privateKey,
			TTL:             60,
			Topic:           topic(msg.ConversationID),
			HTTPClient:      d.httpClient,
		})
		if err != nil {
			// Transport or crypto error: keep the subscription.
			d.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
			failureCount++
			continue
		}
		_ = resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated, http.StatusOK:
			successCount++
		case http.StatusGone, http.StatusNotFound:
			invalidSubs = append(invalidSubs, sub)
			failureCount++
		default:
			d.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
			failureCount++
		}
	}

	receipt := fmt.Sprintf("success:%d invalid:%d total_fail:%d", successCount, len(invalidSubs), failureCount)
	return receipt, invalidSubs, nil
}

// topic derives a Web Push Topic header, which must be at most 32 URL-safe
// base64 characters.
func topic(conversationID string) string {
	if conversationID == "" {
		return ""
	}
	t := base64.RawURLEncoding.EncodeToString([]byte(conversationID))
	if len(t) > 32 {
		t = t[:32]
	}
	return t
}
