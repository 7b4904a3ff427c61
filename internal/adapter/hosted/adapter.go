// Package hosted implements bridge.Vendor on top of the service's own
// backend: Firestore for installations and profiles, a TokenStore for push
// targets and an UnreadStore for per-installation unread counters.
package hosted

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tinywideclouds/go-messaging-bridge/pkg/bridge"
	"github.com/tinywideclouds/go-messaging-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// AccountStore records installations and profiles.
type AccountStore interface {
	SaveInstallation(ctx context.Context, params bridge.InitParams, platform string) error
	MergeProfile(ctx context.Context, p bridge.Profile) error
}

// defaultStoreTimeout bounds background store calls when the caller set no
// deadline.
const defaultStoreTimeout = 10 * time.Second

type Adapter struct {
	platform string
	accounts AccountStore
	tokens   dispatch.TokenStore
	unread   dispatch.UnreadStore
	logger   *slog.Logger

	wg sync.WaitGroup

	mu       sync.Mutex
	listener bridge.NotificationListener
	identity bridge.Identity
	// A profile set before initialize is held until the identity is known.
	pendingProfile *bridge.Profile
}

func New(
	platform string,
	accounts AccountStore,
	tokens dispatch.TokenStore,
	unread dispatch.UnreadStore,
	logger *slog.Logger,
) *Adapter {
	return &Adapter{
		platform: platform,
		accounts: accounts,
		tokens:   tokens,
		unread:   unread,
		logger:   logger.With("component", "HostedVendor"),
	}
}

func (a *Adapter) Capabilities() bridge.Capabilities {
	return bridge.Capabilities{AuthTypeSelection: true}
}

func (a *Adapter) SetNotificationListener(l bridge.NotificationListener) {
	a.mu.Lock()
	a.listener = l
	a.mu.Unlock()
}

func (a *Adapter) Initialize(ctx context.Context, params bridge.InitParams) error {
	if err := a.accounts.SaveInstallation(ctx, params, a.platform); err != nil {
		return fmt.Errorf("failed to record installation: %w", err)
	}

	a.mu.Lock()
	a.identity = params.Identity
	pending := a.pendingProfile
	a.pendingProfile = nil
	a.mu.Unlock()

	if pending != nil {
		pending.Identity = params.Identity
		if err := a.accounts.MergeProfile(ctx, *pending); err != nil {
			// The installation exists; the profile can be set again later.
			a.logger.Warn("Failed to apply deferred profile", "account_id", params.AccountID, "err", err)
		}
	}

	a.logger.Info("Installation recorded", "account_id", params.AccountID, "app_id", params.AppID,
		"installation_id", params.InstallationID)
	a.notify(func(l bridge.NotificationListener) { l.ConnectionChanged(bridge.StateConnected) })
	return nil
}

// ShowConversation presents the conversation and marks it read. Only the
// presentation happens on the caller's goroutine; the counter is cleared in
// the background.
func (a *Adapter) ShowConversation(ctx context.Context, surface bridge.Surface, req bridge.ConversationRequest) error {
	if err := surface.Present(bridge.ConversationView{AccountID: req.AccountID, ViewOnly: req.ViewOnly}); err != nil {
		return err
	}

	id := a.currentIdentity()
	key, err := unreadKey(id, req.Auth)
	if err != nil {
		key = dispatch.InstallationKey(id.AccountID, id.AppID)
	}
	a.clearUnread(ctx, key)

	a.notify(func(l bridge.NotificationListener) { l.ConversationChanged(bridge.StateOpened) })
	return nil
}

func (a *Adapter) HideConversation(_ context.Context, surface bridge.Surface) error {
	if surface != nil {
		if err := surface.Dismiss(); err != nil {
			return err
		}
	}
	a.notify(func(l bridge.NotificationListener) { l.ConversationChanged(bridge.StateClosed) })
	return nil
}

func (a *Adapter) SetUserProfile(ctx context.Context, p bridge.Profile) error {
	if !p.Complete() {
		a.mu.Lock()
		a.pendingProfile = &p
		a.mu.Unlock()
		a.logger.Debug("Profile deferred until initialize")
		return nil
	}
	return a.accounts.MergeProfile(ctx, p)
}

func (a *Adapter) RegisterPush(ctx context.Context, reg bridge.PushRegistration) error {
	key := dispatch.InstallationKey(reg.AccountID, reg.AppID)

	var err error
	if isWebSubscription(reg.Token) {
		var sub notification.WebPushSubscription
		if sub, err = parseWebSubscription(reg.Token); err != nil {
			a.notify(func(l bridge.NotificationListener) { l.PushRegistrationFailed(reg.Identity, err) })
			return bridge.NewFailure(bridge.CodePushRegisterFailed, err.Error())
		}
		err = a.tokens.RegisterWeb(ctx, key, sub)
	} else {
		err = a.tokens.RegisterToken(ctx, key, a.pushPlatform(), reg.Token)
	}
	if err != nil {
		a.notify(func(l bridge.NotificationListener) { l.PushRegistrationFailed(reg.Identity, err) })
		return fmt.Errorf("failed to store push token: %w", err)
	}

	a.notify(func(l bridge.NotificationListener) { l.PushRegistrationFinished(reg.Identity) })
	return nil
}

func (a *Adapter) UnregisterPush(ctx context.Context, id bridge.Identity) error {
	return a.tokens.UnregisterAll(ctx, dispatch.InstallationKey(id.AccountID, id.AppID))
}

func (a *Adapter) GetUnreadCount(ctx context.Context, q bridge.UnreadQuery) (int, error) {
	key, err := unreadKey(q.Identity, q.Auth)
	if err != nil {
		return 0, err
	}
	n, err := a.unread.Count(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to read unread count: %w", err)
	}
	return int(n), nil
}

// PushReceived hands an inbound notification from the relay to the bridge.
func (a *Adapter) PushReceived(n bridge.Notification) {
	a.notify(func(l bridge.NotificationListener) { l.PushReceived(n) })
}

func (a *Adapter) pushPlatform() dispatch.Platform {
	if a.platform == "ios" {
		return dispatch.PlatformAPNS
	}
	return dispatch.PlatformFCM
}

// clearUnread resets the counter without blocking the caller. The clear
// inherits ctx's deadline but not its cancellation, since the caller returns
// as soon as the conversation is shown.
func (a *Adapter) clearUnread(ctx context.Context, key string) {
	base := context.WithoutCancel(ctx)
	var clearCtx context.Context
	var cancel context.CancelFunc
	if deadline, ok := ctx.Deadline(); ok {
		clearCtx, cancel = context.WithDeadline(base, deadline)
	} else {
		clearCtx, cancel = context.WithTimeout(base, defaultStoreTimeout)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer cancel()
		if err := a.unread.Clear(clearCtx, key); err != nil {
			a.logger.Warn("Failed to clear unread counter", "key", key, "err", err)
		}
	}()
}

// Wait blocks until background counter updates have finished.
func (a *Adapter) Wait() {
	a.wg.Wait()
}

func (a *Adapter) currentIdentity() bridge.Identity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity
}

func (a *Adapter) notify(fn func(bridge.NotificationListener)) {
	a.mu.Lock()
	l := a.listener
	a.mu.Unlock()
	if l != nil {
		fn(l)
	}
}

func isWebSubscription(token string) bool {
	return strings.HasPrefix(strings.TrimSpace(token), "{")
}

// browserSubscription is PushSubscription.toJSON() as browsers produce it,
// with base64url keys nested under "keys".
type browserSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     *struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// parseWebSubscription accepts the browser shape and the flat
// {endpoint,p256dh,auth} wire shape. A subscription without both keys cannot
// be encrypted to and is rejected.
func parseWebSubscription(token string) (notification.WebPushSubscription, error) {
	var sub notification.WebPushSubscription

	var browser browserSubscription
	if err := json.Unmarshal([]byte(token), &browser); err != nil {
		return sub, fmt.Errorf("malformed web push subscription: %w", err)
	}
	if browser.Keys != nil {
		sub.Endpoint = browser.Endpoint
		var err error
		if sub.Keys.P256dh, err = decodeKey(browser.Keys.P256dh); err != nil {
			return sub, fmt.Errorf("malformed p256dh key: %w", err)
		}
		if sub.Keys.Auth, err = decodeKey(browser.Keys.Auth); err != nil {
			return sub, fmt.Errorf("malformed auth key: %w", err)
		}
	} else if err := json.Unmarshal([]byte(token), &sub); err != nil {
		return sub, fmt.Errorf("malformed web push subscription: %w", err)
	}

	switch {
	case sub.Endpoint == "":
		return sub, errors.New("web push subscription has no endpoint")
	case len(sub.Keys.P256dh) == 0 || len(sub.Keys.Auth) == 0:
		return sub, errors.New("web push subscription is missing its p256dh or auth key")
	}
	return sub, nil
}

// decodeKey takes base64url (what browsers emit) or standard base64, padded
// or not.
func decodeKey(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if strings.ContainsAny(s, "+/") {
		return base64.RawStdEncoding.DecodeString(s)
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// unreadKey scopes a counter to the installation, and further to the JWT
// subject for the authenticated variant. The token is only read for its
// subject; verification belongs to the messaging backend.
func unreadKey(id bridge.Identity, auth *bridge.AuthDescriptor) (string, error) {
	key := dispatch.InstallationKey(id.AccountID, id.AppID)
	if auth == nil || auth.Credential.Kind != bridge.CredentialJWT {
		return key, nil
	}
	sub, err := jwtSubject(auth.Credential.Value)
	if err != nil {
		return "", bridge.NewFailure(bridge.CodeUnreadCountFailed, "malformed jwt")
	}
	if sub == "" {
		return key, nil
	}
	return dispatch.SubjectKey(key, sub), nil
}

func jwtSubject(raw string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return "", err
	}
	return claims.GetSubject()
}
