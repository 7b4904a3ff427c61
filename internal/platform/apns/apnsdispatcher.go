// Package apns forwards relayed conversation messages to iOS devices via the
// Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-messaging-bridge/pkg/dispatch"
)

// APNSClient is the subset of apns2.Client we use.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type Dispatcher struct {
	client APNSClient
	topic  string // app bundle ID
	logger *slog.Logger
}

// Config holds the token-auth credentials.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw content of the .p8 file.
	P8KeyContent string
	Sandbox      bool
}

// NewDispatcher parses the P8 key immediately so bad credentials fail at
// startup.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return &Dispatcher{
		client: client,
		topic:  cfg.BundleID,
		logger: logger.With("component", "APNSDispatcher"),
	}, nil
}

// Dispatch sends msg to each token. The APNs HTTP/2 API has no multicast, so
// tokens are pushed one at a time. Transport errors are logged and counted;
// only dead tokens are reported back.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, msg dispatch.Message) (string, []string, error) {
	if len(tokens) == 0 {
		return "skipped: no tokens", nil, nil
	}

	p := payload.NewPayload().
		AlertTitle(msg.Content.Title).
		AlertBody(msg.Content.Body).
		Badge(msg.Badge).
		ThreadID(msg.ConversationID)
	if msg.Content.Sound != "" {
		p.Sound(msg.Content.Sound)
	}
	if msg.ConversationID != "" {
		p.Custom("conversationId", msg.ConversationID)
	}
	for k, v := range msg.Data {
		p.Custom(k, v)
	}

	var invalidTokens []string
	successCount := 0
	failureCount := 0

	for _, deviceToken := range tokens {
		if err := ctx.Err(); err != nil {
			return "", invalidTokens, err
		}

		n := &apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       d.topic,
			CollapseID:  msg.ConversationID,
			Payload:     p,
		}

		res, err := d.client.PushWithContext(ctx, n)
		if err != nil {
			d.logger.Error("APNs transport failed", "token", deviceToken, "err", err)
			failureCount++
			continue
		}

		if res.Sent() {
			successCount++
			continue
		}
		failureCount++
		switch res.Reason {
		case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
			invalidTokens = append(invalidTokens, deviceToken)
		default:
			// TopicDisallowed, PayloadTooLarge etc. mean our configuration
			// is wrong, not the token.
			d.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		}
	}

	receipt := fmt.Sprintf("success:%d invalid:%d total_fail:%d", successCount, len(invalidTokens), failureCount)
	return receipt, invalidTokens, nil
}
