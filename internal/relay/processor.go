package relay

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-messaging-bridge/pkg/bridge"
	"github.com/tinywideclouds/go-messaging-bridge/pkg/dispatch"
)

// Receiver is where relayed notifications end up inside the bridge. The
// hosted vendor adapter implements it.
type Receiver interface {
	PushReceived(n bridge.Notification)
}

// Forwarders groups the push platforms. A nil field disables that platform.
type Forwarders struct {
	FCM  dispatch.Dispatcher
	APNS dispatch.Dispatcher
	Web  dispatch.WebDispatcher
}

// NewProcessor returns the per-notification handler: count it, fan it out to
// devices, then deliver it to the bridge.
func NewProcessor(
	forwarders Forwarders,
	tokenStore dispatch.TokenStore,
	unreadStore dispatch.UnreadStore,
	receiver Receiver,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[VendorNotification] {

	return func(ctx context.Context, original messagepipeline.Message, n *VendorNotification) error {
		key := n.InstallationKey()
		procLogger := logger.With(
			"installation", key,
			"conversation_id", n.ConversationID,
			"pubsub_msg_id", original.ID,
		)

		// 1. Count
		badge := 0
		if count, err := unreadStore.Increment(ctx, key); err != nil {
			procLogger.Warn("Failed to increment unread counter", "err", err)
		} else {
			badge = int(count)
		}
		if n.Subject != "" {
			subjectKey := dispatch.SubjectKey(key, n.Subject)
			if count, err := unreadStore.Increment(ctx, subjectKey); err != nil {
				procLogger.Warn("Failed to increment subject unread counter", "err", err)
			} else {
				badge = int(count)
			}
		}

		// 2. Fan-out
		devices, err := tokenStore.Fetch(ctx, key)
		if err != nil {
			procLogger.Error("Failed to fetch device tokens", "err", err)
			return err
		}
		msg := n.Message(badge)

		if err := forwardTokens(ctx, "fcm", forwarders.FCM, devices.FCMTokens, msg, key, tokenStore, procLogger); err != nil {
			return err
		}
		if err := forwardTokens(ctx, "apns", forwarders.APNS, devices.APNSTokens, msg, key, tokenStore, procLogger); err != nil {
			return err
		}

		if len(devices.WebSubscriptions) > 0 && forwarders.Web != nil {
			receipt, invalidSubs, err := forwarders.Web.Dispatch(ctx, devices.WebSubscriptions, msg)

			if len(invalidSubs) > 0 {
				procLogger.Info("Cleaning up invalid Web subscriptions", "count", len(invalidSubs))
				for _, sub := range invalidSubs {
					if err := tokenStore.UnregisterWeb(ctx, key, sub.Endpoint); err != nil {
						procLogger.Warn("Failed to delete Web subscription", "endpoint", sub.Endpoint, "err", err)
					}
				}
			}

			if err != nil {
				procLogger.Error("Web Dispatch failed", "err", err)
				return err
			}
			procLogger.Info("Web Dispatched", "receipt", receipt)
		}

		if devices.Empty() {
			procLogger.Debug("No devices registered for installation")
		}

		// 3. Deliver in-app
		receiver.PushReceived(n.Notification())
		return nil
	}
}

// forwardTokens pushes to one token-based platform and unregisters the
// tokens it reports dead. Dispatch errors are retryable.
func forwardTokens(
	ctx context.Context,
	name string,
	d dispatch.Dispatcher,
	tokens []string,
	msg dispatch.Message,
	key string,
	tokenStore dispatch.TokenStore,
	logger *slog.Logger,
) error {
	if len(tokens) == 0 {
		return nil
	}
	if d == nil {
		logger.Debug("Platform disabled; skipping tokens", "platform", name, "count", len(tokens))
		return nil
	}

	receipt, invalidTokens, err := d.Dispatch(ctx, tokens, msg)

	if len(invalidTokens) > 0 {
		logger.Info("Cleaning up invalid tokens", "platform", name, "count", len(invalidTokens))
		for _, t := range invalidTokens {
			if err := tokenStore.UnregisterToken(ctx, key, t); err != nil {
				logger.Warn("Failed to delete token", "platform", name, "token", t, "err", err)
			}
		}
	}

	if err != nil {
		logger.Error("Dispatch failed", "platform", name, "err", err)
		return err
	}
	logger.Info("Dispatched", "platform", name, "receipt", receipt)
	return nil
}
