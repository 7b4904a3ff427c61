// Package relay consumes vendor conversation notifications from Pub/Sub,
// forwards them to the installation's registered devices and hands them to
// the bridge as push_received events.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-messaging-bridge/pkg/bridge"
	"github.com/tinywideclouds/go-messaging-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// VendorNotification is the Pub/Sub payload published by the messaging
// backend when a conversation has a new message for an installation.
type VendorNotification struct {
	AccountID      string `json:"accountId"`
	AppID          string `json:"appId"`
	ConversationID string `json:"conversationId"`
	// Subject is the authenticated consumer (JWT sub), if any.
	Subject string            `json:"subject,omitempty"`
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Sound   string            `json:"sound,omitempty"`
	Data    map[string]string `json:"data,omitempty"`
}

func (n *VendorNotification) Validate() error {
	if n.AccountID == "" || n.AppID == "" {
		return errors.New("accountId and appId are required")
	}
	if n.ConversationID == "" {
		return errors.New("conversationId is required")
	}
	return nil
}

func (n *VendorNotification) InstallationKey() string {
	return dispatch.InstallationKey(n.AccountID, n.AppID)
}

// Notification is the bridge-facing view.
func (n *VendorNotification) Notification() bridge.Notification {
	return bridge.Notification{
		Identity:       bridge.Identity{AccountID: n.AccountID, AppID: n.AppID},
		ConversationID: n.ConversationID,
		Title:          n.Title,
		Body:           n.Body,
		Data:           n.Data,
	}
}

// Message is the push-platform view, badged with the new unread count.
func (n *VendorNotification) Message(badge int) dispatch.Message {
	return dispatch.Message{
		Content: notification.NotificationContent{
			Title: n.Title,
			Body:  n.Body,
			Sound: n.Sound,
		},
		ConversationID: n.ConversationID,
		Badge:          badge,
		Data:           n.Data,
	}
}

// VendorNotificationTransformer decodes and validates a raw Pub/Sub payload.
// Poison messages are skipped with an error; the StreamingService nacks them
// until the subscription's dead-letter policy takes over.
func VendorNotificationTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*VendorNotification, bool, error) {
	var n VendorNotification
	if err := json.Unmarshal(msg.Payload, &n); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal vendor notification from message %s: %w", msg.ID, err)
	}
	if err := n.Validate(); err != nil {
		return nil, true, fmt.Errorf("invalid vendor notification in message %s: %w", msg.ID, err)
	}
	return &n, false, nil
}
