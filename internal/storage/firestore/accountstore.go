package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-messaging-bridge/pkg/bridge"
	"github.com/tinywideclouds/go-messaging-bridge/pkg/dispatch"
)

// AccountStore records installations and user profiles under
// accounts/{accountId}.
type AccountStore struct {
	client *firestore.Client
}

func NewAccountStore(client *firestore.Client) *AccountStore {
	return &AccountStore{client: client}
}

type installationRecord struct {
	InstallationID    string    `firestore:"installation_id"`
	MonitoringEnabled bool      `firestore:"monitoring_enabled"`
	Platform          string    `firestore:"platform"`
	LastSeen          time.Time `firestore:"last_seen"`
}

// SaveInstallation upserts accounts/{accountId}/apps/{appId}/installations/{id}.
// Without an installation id the app document itself is touched.
func (s *AccountStore) SaveInstallation(ctx context.Context, params bridge.InitParams, platform string) error {
	app, err := appRef(s.client, dispatch.InstallationKey(params.AccountID, params.AppID))
	if err != nil {
		return err
	}
	if params.InstallationID == "" {
		_, err = app.Set(ctx, map[string]interface{}{"last_seen": time.Now()}, firestore.MergeAll)
		return err
	}
	record := installationRecord{
		InstallationID:    params.InstallationID,
		MonitoringEnabled: params.MonitoringEnabled,
		Platform:          platform,
		LastSeen:          time.Now(),
	}
	_, err = app.Collection("installations").Doc(params.InstallationID).Set(ctx, record)
	return err
}

// MergeProfile writes the non-empty profile fields into
// accounts/{accountId}/profiles/{appId}, leaving other fields untouched.
func (s *AccountStore) MergeProfile(ctx context.Context, p bridge.Profile) error {
	if !p.Complete() {
		return fmt.Errorf("profile identity is incomplete")
	}

	fields := map[string]interface{}{"updated_at": time.Now()}
	if p.FirstName != "" {
		fields["first_name"] = p.FirstName
	}
	if p.LastName != "" {
		fields["last_name"] = p.LastName
	}
	if p.PhoneNumber != "" {
		fields["phone_number"] = p.PhoneNumber
	}

	ref := s.client.Collection("accounts").Doc(p.AccountID).Collection("profiles").Doc(p.AppID)
	_, err := ref.Set(ctx, fields, firestore.MergeAll)
	return err
}

// Profile reads back a stored profile; the zero Profile if none exists.
func (s *AccountStore) Profile(ctx context.Context, id bridge.Identity) (bridge.Profile, error) {
	doc, err := s.client.Collection("accounts").Doc(id.AccountID).Collection("profiles").Doc(id.AppID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return bridge.Profile{Identity: id}, nil
		}
		return bridge.Profile{}, err
	}
	var record struct {
		FirstName   string `firestore:"first_name"`
		LastName    string `firestore:"last_name"`
		PhoneNumber string `firestore:"phone_number"`
	}
	if err := doc.DataTo(&record); err != nil {
		return bridge.Profile{}, err
	}
	return bridge.Profile{
		Identity:    id,
		FirstName:   record.FirstName,
		LastName:    record.LastName,
		PhoneNumber: record.PhoneNumber,
	}, nil
}
