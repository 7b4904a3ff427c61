// Package firestore persists bridge installations, profiles, device tokens and
// unread counters in Google Cloud Firestore.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/tinywideclouds/go-messaging-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// TokenStore implements dispatch.TokenStore using Google Cloud Firestore.
type TokenStore struct {
	client *firestore.Client
}

func NewTokenStore(client *firestore.Client) *TokenStore {
	return &TokenStore{client: client}
}

// deviceRecord can hold EITHER a plain token OR a web subscription.
type deviceRecord struct {
	Platform        string                            `firestore:"platform"`
	Token           string                            `firestore:"token,omitempty"`
	WebSubscription *notification.WebPushSubscription `firestore:"web_subscription,omitempty"`
	UpdatedAt       time.Time                         `firestore:"updated_at"`
}

func (s *TokenStore) RegisterToken(ctx context.Context, key string, platform dispatch.Platform, token string) error {
	ref, err := s.deviceRef(key, token)
	if err != nil {
		return err
	}
	record := deviceRecord{
		Platform:  string(platform),
		Token:     token,
		UpdatedAt: time.Now(),
	}
	_, err = ref.Set(ctx, record)
	return err
}

func (s *TokenStore) RegisterWeb(ctx context.Context, key string, sub notification.WebPushSubscription) error {
	// The endpoint URL is the unique identifier for a browser subscription.
	ref, err := s.deviceRef(key, sub.Endpoint)
	if err != nil {
		return err
	}
	record := deviceRecord{
		Platform:        string(dispatch.PlatformWeb),
		WebSubscription: &sub,
		UpdatedAt:       time.Now(),
	}
	_, err = ref.Set(ctx, record)
	return err
}

func (s *TokenStore) UnregisterToken(ctx context.Context, key string, token string) error {
	ref, err := s.deviceRef(key, token)
	if err != nil {
		return err
	}
	_, err = ref.Delete(ctx)
	return err
}

func (s *TokenStore) UnregisterWeb(ctx context.Context, key string, endpoint string) error {
	return s.UnregisterToken(ctx, key, endpoint)
}

func (s *TokenStore) UnregisterAll(ctx context.Context, key string) error {
	col, err := s.devicesCollection(key)
	if err != nil {
		return err
	}
	iter := col.DocumentRefs(ctx)
	for {
		ref, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("firestore iteration failed: %w", err)
		}
		if _, err := ref.Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete device %s: %w", ref.ID, err)
		}
	}
}

// Fetch sorts every stored device for key into platform buckets.
func (s *TokenStore) Fetch(ctx context.Context, key string) (*dispatch.DeviceTokens, error) {
	col, err := s.devicesCollection(key)
	if err != nil {
		return nil, err
	}
	iter := col.Documents(ctx)
	defer iter.Stop()

	tokens := &dispatch.DeviceTokens{
		Key:              key,
		FCMTokens:        make([]string, 0),
		APNSTokens:       make([]string, 0),
		WebSubscriptions: make([]notification.WebPushSubscription, 0),
	}

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			// Corrupt rows are skipped rather than failing the fan-out.
			continue
		}

		switch {
		case record.Platform == string(dispatch.PlatformWeb) && record.WebSubscription != nil:
			tokens.WebSubscriptions = append(tokens.WebSubscriptions, *record.WebSubscription)
		case record.Platform == string(dispatch.PlatformAPNS) && record.Token != "":
			tokens.APNSTokens = append(tokens.APNSTokens, record.Token)
		case record.Token != "":
			tokens.FCMTokens = append(tokens.FCMTokens, record.Token)
		}
	}

	return tokens, nil
}

// deviceRef: accounts/{accountId}/apps/{appId}/devices/{tokenHash}
func (s *TokenStore) deviceRef(key, token string) (*firestore.DocumentRef, error) {
	col, err := s.devicesCollection(key)
	if err != nil {
		return nil, err
	}
	return col.Doc(hashToken(token)), nil
}

func (s *TokenStore) devicesCollection(key string) (*firestore.CollectionRef, error) {
	app, err := appRef(s.client, key)
	if err != nil {
		return nil, err
	}
	return app.Collection("devices"), nil
}

// appRef resolves an installation key to accounts/{accountId}/apps/{appId}.
func appRef(client *firestore.Client, key string) (*firestore.DocumentRef, error) {
	accountID, appID, ok := strings.Cut(key, "/")
	if !ok || accountID == "" || appID == "" {
		return nil, fmt.Errorf("invalid installation key %q", key)
	}
	return client.Collection("accounts").Doc(accountID).Collection("apps").Doc(appID), nil
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
