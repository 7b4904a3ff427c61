// Package dispatch holds the storage and push-forwarding contracts shared by
// the hosted vendor adapter and the inbound notification relay.
package dispatch

import (
	"context"
	"fmt"

	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// Message is one relayed conversation notification as the push platforms
// see it.
type Message struct {
	Content        notification.NotificationContent
	ConversationID string
	// Badge is the unread count after this message arrived.
	Badge int
	Data  map[string]string
}

// Dispatcher sends a message to a batch of platform tokens (FCM, APNs).
// It returns a receipt for logging and the tokens the platform reported as
// permanently invalid.
type Dispatcher interface {
	Dispatch(ctx context.Context, tokens []string, msg Message) (string, []string, error)
}

// WebDispatcher is the VAPID variant of Dispatcher.
type WebDispatcher interface {
	Dispatch(ctx context.Context, subs []notification.WebPushSubscription, msg Message) (string, []notification.WebPushSubscription, error)
}

// Platform tags a stored device token with the service that accepts it.
type Platform string

const (
	PlatformFCM  Platform = "fcm"
	PlatformAPNS Platform = "apns"
	PlatformWeb  Platform = "web"
)

// InstallationKey identifies one bridge installation: "{accountId}/{appId}".
func InstallationKey(accountID, appID string) string {
	return fmt.Sprintf("%s/%s", accountID, appID)
}

// SubjectKey scopes an installation key to one authenticated user, as
// identified by a JWT subject.
func SubjectKey(installationKey, subject string) string {
	return installationKey + "/" + subject
}

// DeviceTokens is every push target registered for an installation key,
// bucketed by platform.
type DeviceTokens struct {
	Key              string                             `json:"key"`
	FCMTokens        []string                           `json:"fcm_tokens"`
	APNSTokens       []string                           `json:"apns_tokens"`
	WebSubscriptions []notification.WebPushSubscription `json:"web_subscriptions"`
}

// Empty reports whether there is nothing to deliver to.
func (d *DeviceTokens) Empty() bool {
	return len(d.FCMTokens) == 0 && len(d.APNSTokens) == 0 && len(d.WebSubscriptions) == 0
}

// TokenStore persists device push targets per installation key.
type TokenStore interface {
	RegisterToken(ctx context.Context, key string, platform Platform, token string) error
	RegisterWeb(ctx context.Context, key string, sub notification.WebPushSubscription) error
	UnregisterToken(ctx context.Context, key string, token string) error
	UnregisterWeb(ctx context.Context, key string, endpoint string) error
	// UnregisterAll removes every device for key.
	UnregisterAll(ctx context.Context, key string) error
	Fetch(ctx context.Context, key string) (*DeviceTokens, error)
}

// UnreadStore keeps per-key unread message counters. A key that was never
// incremented counts as zero.
type UnreadStore interface {
	Increment(ctx context.Context, key string) (int64, error)
	Count(ctx context.Context, key string) (int64, error)
	Clear(ctx context.Context, key string) error
}
