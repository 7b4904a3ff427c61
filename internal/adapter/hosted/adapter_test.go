package hosted_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-messaging-bridge/internal/adapter/hosted"
	"github.com/tinywideclouds/go-messaging-bridge/internal/host"
	"github.com/tinywideclouds/go-messaging-bridge/pkg/bridge"
	"github.com/tinywideclouds/go-messaging-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---

type MockAccountStore struct {
	mock.Mock
}

func (m *MockAccountStore) SaveInstallation(ctx context.Context, params bridge.InitParams, platform string) error {
	return m.Called(ctx, params, platform).Error(0)
}
func (m *MockAccountStore) MergeProfile(ctx context.Context, p bridge.Profile) error {
	return m.Called(ctx, p).Error(0)
}

type MockTokenStore struct {
	mock.Mock
}

func (m *MockTokenStore) RegisterToken(ctx context.Context, key string, p dispatch.Platform, token string) error {
	return m.Called(ctx, key, p, token).Error(0)
}
func (m *MockTokenStore) RegisterWeb(ctx context.Context, key string, sub notification.WebPushSubscription) error {
	return m.Called(ctx, key, sub).Error(0)
}
func (m *MockTokenStore) UnregisterToken(ctx context.Context, key string, token string) error {
	return m.Called(ctx, key, token).Error(0)
}
func (m *MockTokenStore) UnregisterWeb(ctx context.Context, key string, endpoint string) error {
	return m.Called(ctx, key, endpoint).Error(0)
}
func (m *MockTokenStore) UnregisterAll(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}
func (m *MockTokenStore) Fetch(ctx context.Context, key string) (*dispatch.DeviceTokens, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispatch.DeviceTokens), args.Error(1)
}

type MockUnreadStore struct {
	mock.Mock
}

func (m *MockUnreadStore) Increment(ctx context.Context, key string) (int64, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockUnreadStore) Count(ctx context.Context, key string) (int64, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockUnreadStore) Clear(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type MockListener struct {
	mock.Mock
}

func (m *MockListener) PushReceived(n bridge.Notification) { m.Called(n) }
func (m *MockListener) PushRegistrationFinished(id bridge.Identity) { m.Called(id) }
func (m *MockListener) PushRegistrationFailed(id bridge.Identity, err error) { m.Called(id, err) }
func (m *MockListener) ConnectionChanged(state string) { m.Called(state) }
func (m *MockListener) ConversationChanged(state string) { m.Called(state) }

// --- Setup ---

type fixture struct {
	adapter  *hosted.Adapter
	accounts *MockAccountStore
	tokens   *MockTokenStore
	unread   *MockUnreadStore
	listener *MockListener
}

func setup(t *testing.T, platform string) fixture {
	t.Helper()
	f := fixture{
		accounts: new(MockAccountStore),
		tokens:   new(MockTokenStore),
		unread:   new(MockUnreadStore),
		listener: new(MockListener),
	}
	f.adapter = hosted.New(platform, f.accounts, f.tokens, f.unread, newTestLogger())
	f.adapter.SetNotificationListener(f.listener)
	return f
}

var testID = bridge.Identity{AccountID: "acct1", AppID: "app1"}

func signedJWT(t *testing.T, subject string) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": subject}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

// --- Tests ---

func TestAdapter_Initialize(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - Records installation and applies deferred profile", func(t *testing.T) {
		f := setup(t, "android")
		params := bridge.InitParams{Identity: testID, InstallationID: "inst-1", MonitoringEnabled: true}

		require.NoError(t, f.adapter.SetUserProfile(ctx, bridge.Profile{FirstName: "Ada"}))
		f.accounts.AssertNotCalled(t, "MergeProfile", mock.Anything, mock.Anything)

		f.accounts.On("SaveInstallation", ctx, params, "android").Return(nil).Once()
		f.accounts.On("MergeProfile", ctx, bridge.Profile{Identity: testID, FirstName: "Ada"}).Return(nil).Once()
		f.listener.On("ConnectionChanged", bridge.StateConnected).Once()

		require.NoError(t, f.adapter.Initialize(ctx, params))

		f.accounts.AssertExpectations(t)
		f.listener.AssertExpectations(t)
	})

	t.Run("Failure - Store error", func(t *testing.T) {
		f := setup(t, "android")
		f.accounts.On("SaveInstallation", ctx, mock.Anything, "android").Return(errors.New("unavailable")).Once()

		err := f.adapter.Initialize(ctx, bridge.InitParams{Identity: testID})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "unavailable")
		f.listener.AssertNotCalled(t, "ConnectionChanged", mock.Anything)
	})
}

func TestAdapter_Conversation(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "android")
	f.accounts.On("SaveInstallation", ctx, mock.Anything, mock.Anything).Return(nil)
	f.listener.On("ConnectionChanged", mock.Anything)
	require.NoError(t, f.adapter.Initialize(ctx, bridge.InitParams{Identity: testID}))

	activity := host.NewProvider().AttachActivity("main")

	t.Run("Success - Show presents and clears unread", func(t *testing.T) {
		f.unread.On("Clear", mock.Anything, "acct1/app1").Return(nil).Once()
		f.listener.On("ConversationChanged", bridge.StateOpened).Once()

		err := f.adapter.ShowConversation(ctx, activity, bridge.ConversationRequest{AccountID: "acct1", ViewOnly: true})

		require.NoError(t, err)
		view, shown := activity.Presented()
		assert.True(t, shown)
		assert.True(t, view.ViewOnly)
		f.adapter.Wait()
		f.unread.AssertExpectations(t)
	})

	t.Run("Success - Authenticated show clears the subject counter", func(t *testing.T) {
		f.unread.On("Clear", mock.Anything, "acct1/app1/user-7").Return(errors.New("redis down")).Once()
		f.listener.On("ConversationChanged", bridge.StateOpened).Once()

		auth := &bridge.AuthDescriptor{Credential: bridge.JwtToken(signedJWT(t, "user-7"))}
		err := f.adapter.ShowConversation(ctx, activity, bridge.ConversationRequest{AccountID: "acct1", Auth: auth})

		require.NoError(t, err, "counter errors do not fail the show")
		f.adapter.Wait()
		f.unread.AssertExpectations(t)
	})

	t.Run("Success - Hide dismisses", func(t *testing.T) {
		f.listener.On("ConversationChanged", bridge.StateClosed).Twice()

		require.NoError(t, f.adapter.HideConversation(ctx, activity))
		require.NoError(t, f.adapter.HideConversation(ctx, nil))
		_, shown := activity.Presented()
		assert.False(t, shown)
	})
}

// blockingUnreadStore holds Clear until its context ends.
type blockingUnreadStore struct {
	MockUnreadStore
	deadline chan bool
}

func (b *blockingUnreadStore) Clear(ctx context.Context, key string) error {
	_, ok := ctx.Deadline()
	b.deadline <- ok
	<-ctx.Done()
	return ctx.Err()
}

func TestAdapter_ShowDoesNotWaitForStore(t *testing.T) {
	accounts := new(MockAccountStore)
	accounts.On("SaveInstallation", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	unread := &blockingUnreadStore{deadline: make(chan bool, 1)}
	adapter := hosted.New("android", accounts, new(MockTokenStore), unread, newTestLogger())
	require.NoError(t, adapter.Initialize(context.Background(), bridge.InitParams{Identity: testID}))

	activity := host.NewProvider().AttachActivity("main")
	deadline := time.Now().Add(500 * time.Millisecond)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	require.NoError(t, adapter.ShowConversation(ctx, activity, bridge.ConversationRequest{AccountID: "acct1"}))
	assert.True(t, time.Now().Before(deadline), "show returned before the store call finished")
	assert.True(t, <-unread.deadline, "the clear inherits the caller's deadline")

	// Cancelling the caller's context does not abort the clear; its deadline does.
	cancel()
	adapter.Wait()
	assert.False(t, time.Now().Before(deadline))
}

func TestAdapter_PushRegistration(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - iOS token goes to APNs bucket", func(t *testing.T) {
		f := setup(t, "ios")
		f.tokens.On("RegisterToken", ctx, "acct1/app1", dispatch.PlatformAPNS, "apns-token").Return(nil).Once()
		f.listener.On("PushRegistrationFinished", testID).Once()

		require.NoError(t, f.adapter.RegisterPush(ctx, bridge.PushRegistration{Identity: testID, Token: "apns-token"}))

		f.tokens.AssertExpectations(t)
		f.listener.AssertExpectations(t)
	})

	t.Run("Success - Browser subscription goes to web bucket", func(t *testing.T) {
		f := setup(t, "android")
		token := `{"endpoint":"https://push.example/abc","expirationTime":null,"keys":{"p256dh":"3q2-7w","auth":"yv66vg"}}`
		f.tokens.On("RegisterWeb", ctx, "acct1/app1", mock.MatchedBy(func(sub notification.WebPushSubscription) bool {
			return sub.Endpoint == "https://push.example/abc" &&
				assert.ObjectsAreEqual([]byte{0xDE, 0xAD, 0xBE, 0xEF}, sub.Keys.P256dh) &&
				assert.ObjectsAreEqual([]byte{0xCA, 0xFE, 0xBA, 0xBE}, sub.Keys.Auth)
		})).Return(nil).Once()
		f.listener.On("PushRegistrationFinished", testID).Once()

		require.NoError(t, f.adapter.RegisterPush(ctx, bridge.PushRegistration{Identity: testID, Token: token}))

		f.tokens.AssertExpectations(t)
	})

	t.Run("Success - Padded standard base64 keys", func(t *testing.T) {
		f := setup(t, "android")
		token := `{"endpoint":"https://push.example/abc","keys":{"p256dh":"3q2+7w==","auth":"yv66vg=="}}`
		f.tokens.On("RegisterWeb", ctx, "acct1/app1", mock.MatchedBy(func(sub notification.WebPushSubscription) bool {
			return assert.ObjectsAreEqual([]byte{0xDE, 0xAD, 0xBE, 0xEF}, sub.Keys.P256dh)
		})).Return(nil).Once()
		f.listener.On("PushRegistrationFinished", testID).Once()

		require.NoError(t, f.adapter.RegisterPush(ctx, bridge.PushRegistration{Identity: testID, Token: token}))

		f.tokens.AssertExpectations(t)
	})

	t.Run("Success - Flat wire subscription", func(t *testing.T) {
		f := setup(t, "android")
		token := `{"endpoint":"https://push.example/flat","p256dh":"3q2+7w==","auth":"yv66vg=="}`
		f.tokens.On("RegisterWeb", ctx, "acct1/app1", mock.MatchedBy(func(sub notification.WebPushSubscription) bool {
			return sub.Endpoint == "https://push.example/flat" &&
				assert.ObjectsAreEqual([]byte{0xCA, 0xFE, 0xBA, 0xBE}, sub.Keys.Auth)
		})).Return(nil).Once()
		f.listener.On("PushRegistrationFinished", testID).Once()

		require.NoError(t, f.adapter.RegisterPush(ctx, bridge.PushRegistration{Identity: testID, Token: token}))

		f.tokens.AssertExpectations(t)
	})

	t.Run("Failure - Subscription without keys is rejected", func(t *testing.T) {
		testCases := map[string]string{
			"no keys":      `{"endpoint":"https://push.example/abc"}`,
			"empty keys":   `{"endpoint":"https://push.example/abc","keys":{"p256dh":"","auth":""}}`,
			"no endpoint":  `{"keys":{"p256dh":"3q2-7w","auth":"yv66vg"}}`,
			"bad encoding": `{"endpoint":"https://push.example/abc","keys":{"p256dh":"!!","auth":"yv66vg"}}`,
			"not json":     `{"endpoint":`,
		}
		for name, token := range testCases {
			t.Run(name, func(t *testing.T) {
				f := setup(t, "android")
				f.listener.On("PushRegistrationFailed", testID, mock.Anything).Once()

				err := f.adapter.RegisterPush(ctx, bridge.PushRegistration{Identity: testID, Token: token})

				var failure *bridge.Failure
				require.ErrorAs(t, err, &failure)
				assert.Equal(t, bridge.CodePushRegisterFailed, failure.Code)
				f.tokens.AssertNotCalled(t, "RegisterWeb", mock.Anything, mock.Anything, mock.Anything)
				f.tokens.AssertNotCalled(t, "RegisterToken", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
				f.listener.AssertExpectations(t)
			})
		}
	})

	t.Run("Failure - Store error notifies registration failure", func(t *testing.T) {
		f := setup(t, "android")
		f.tokens.On("RegisterToken", ctx, "acct1/app1", dispatch.PlatformFCM, "fcm-token").Return(errors.New("quota")).Once()
		f.listener.On("PushRegistrationFailed", testID, mock.Anything).Once()

		err := f.adapter.RegisterPush(ctx, bridge.PushRegistration{Identity: testID, Token: "fcm-token"})

		require.Error(t, err)
		f.listener.AssertExpectations(t)
	})

	t.Run("Success - Unregister removes every device", func(t *testing.T) {
		f := setup(t, "android")
		f.tokens.On("UnregisterAll", ctx, "acct1/app1").Return(nil).Once()

		require.NoError(t, f.adapter.UnregisterPush(ctx, testID))
		f.tokens.AssertExpectations(t)
	})
}

func TestAdapter_GetUnreadCount(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - Unauthenticated uses the installation counter", func(t *testing.T) {
		f := setup(t, "android")
		f.unread.On("Count", ctx, "acct1/app1").Return(int64(5), nil).Once()

		n, err := f.adapter.GetUnreadCount(ctx, bridge.UnreadQuery{Identity: testID})

		require.NoError(t, err)
		assert.Equal(t, 5, n)
	})

	t.Run("Success - JWT scopes the counter by subject", func(t *testing.T) {
		f := setup(t, "android")
		f.unread.On("Count", ctx, dispatch.SubjectKey("acct1/app1", "user-7")).Return(int64(1), nil).Once()

		auth := &bridge.AuthDescriptor{Credential: bridge.JwtToken(signedJWT(t, "user-7"))}
		n, err := f.adapter.GetUnreadCount(ctx, bridge.UnreadQuery{Identity: testID, Auth: auth})

		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("Success - Auth code uses the installation counter", func(t *testing.T) {
		f := setup(t, "android")
		f.unread.On("Count", ctx, "acct1/app1").Return(int64(0), nil).Once()

		auth := &bridge.AuthDescriptor{Credential: bridge.AuthorizationCode("code")}
		n, err := f.adapter.GetUnreadCount(ctx, bridge.UnreadQuery{Identity: testID, Auth: auth})

		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("Failure - Malformed JWT", func(t *testing.T) {
		f := setup(t, "android")
		auth := &bridge.AuthDescriptor{Credential: bridge.JwtToken("not-a-jwt")}

		_, err := f.adapter.GetUnreadCount(ctx, bridge.UnreadQuery{Identity: testID, Auth: auth})

		var failure *bridge.Failure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, "malformed jwt", failure.Message)
		f.unread.AssertNotCalled(t, "Count", mock.Anything, mock.Anything)
	})
}

func TestAdapter_PushReceived(t *testing.T) {
	f := setup(t, "android")
	n := bridge.Notification{Identity: testID, ConversationID: "c1"}
	f.listener.On("PushReceived", n).Once()

	f.adapter.PushReceived(n)

	f.listener.AssertExpectations(t)
}
