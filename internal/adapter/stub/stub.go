// Package stub provides a Vendor that never talks to a messaging backend.
// It lets the application drive the whole command/event contract end to
// end, and emits the synthetic connection and conversation events the host
// would see from a real SDK.
package stub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-messaging-bridge/pkg/bridge"
)

// Vendor is safe for concurrent use.
type Vendor struct {
	logger *slog.Logger
	caps   bridge.Capabilities

	mu       sync.Mutex
	listener bridge.NotificationListener
	failures map[string]error
	calls    map[string]int
	unread   int
	tokens   map[bridge.Identity]string
}

func New(logger *slog.Logger) *Vendor {
	return &Vendor{
		logger:   logger.With("component", "StubVendor"),
		caps:     bridge.Capabilities{AuthTypeSelection: true},
		failures: make(map[string]error),
		calls:    make(map[string]int),
		tokens:   make(map[bridge.Identity]string),
	}
}

// Operation names used by FailOn and Calls.
const (
	OpInitialize       = "initialize"
	OpShowConversation = "showConversation"
	OpHideConversation = "hideConversation"
	OpSetUserProfile   = "setUserProfile"
	OpRegisterPush     = "registerPush"
	OpUnregisterPush   = "unregisterPush"
	OpGetUnreadCount   = "getUnreadCount"
)

// FailOn makes op return err until cleared with a nil err.
func (v *Vendor) FailOn(op string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err == nil {
		delete(v.failures, op)
		return
	}
	v.failures[op] = err
}

// Calls reports how many times op was invoked.
func (v *Vendor) Calls(op string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[op]
}

// SetUnread fixes the count returned by GetUnreadCount.
func (v *Vendor) SetUnread(n int) {
	v.mu.Lock()
	v.unread = n
	v.mu.Unlock()
}

// WithCapabilities overrides the reported capabilities.
func (v *Vendor) WithCapabilities(c bridge.Capabilities) *Vendor {
	v.caps = c
	return v
}

func (v *Vendor) SetNotificationListener(l bridge.NotificationListener) {
	v.mu.Lock()
	v.listener = l
	v.mu.Unlock()
}

func (v *Vendor) Capabilities() bridge.Capabilities { return v.caps }

func (v *Vendor) Initialize(_ context.Context, params bridge.InitParams) error {
	if err := v.record(OpInitialize); err != nil {
		return err
	}
	v.logger.Debug("Stub initialize", "account_id", params.AccountID, "app_id", params.AppID)
	v.notify(func(l bridge.NotificationListener) { l.ConnectionChanged(bridge.StateConnected) })
	return nil
}

func (v *Vendor) ShowConversation(_ context.Context, surface bridge.Surface, req bridge.ConversationRequest) error {
	if err := v.record(OpShowConversation); err != nil {
		return err
	}
	if err := surface.Present(bridge.ConversationView{AccountID: req.AccountID, ViewOnly: req.ViewOnly}); err != nil {
		return err
	}
	v.notify(func(l bridge.NotificationListener) { l.ConversationChanged(bridge.StateOpened) })
	return nil
}

func (v *Vendor) HideConversation(_ context.Context, surface bridge.Surface) error {
	if err := v.record(OpHideConversation); err != nil {
		return err
	}
	if surface != nil {
		if err := surface.Dismiss(); err != nil {
			return err
		}
	}
	v.notify(func(l bridge.NotificationListener) { l.ConversationChanged(bridge.StateClosed) })
	return nil
}

func (v *Vendor) SetUserProfile(_ context.Context, _ bridge.Profile) error {
	return v.record(OpSetUserProfile)
}

func (v *Vendor) RegisterPush(_ context.Context, reg bridge.PushRegistration) error {
	if err := v.record(OpRegisterPush); err != nil {
		v.notify(func(l bridge.NotificationListener) { l.PushRegistrationFailed(reg.Identity, err) })
		return err
	}
	v.mu.Lock()
	v.tokens[reg.Identity] = reg.Token
	v.mu.Unlock()
	v.notify(func(l bridge.NotificationListener) { l.PushRegistrationFinished(reg.Identity) })
	return nil
}

func (v *Vendor) UnregisterPush(_ context.Context, id bridge.Identity) error {
	if err := v.record(OpUnregisterPush); err != nil {
		return err
	}
	v.mu.Lock()
	delete(v.tokens, id)
	v.mu.Unlock()
	return nil
}

func (v *Vendor) GetUnreadCount(_ context.Context, _ bridge.UnreadQuery) (int, error) {
	if err := v.record(OpGetUnreadCount); err != nil {
		return 0, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.unread, nil
}

// Token returns the push token registered for id.
func (v *Vendor) Token(id bridge.Identity) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	t, ok := v.tokens[id]
	return t, ok
}

// Deliver simulates an inbound vendor push.
func (v *Vendor) Deliver(n bridge.Notification) {
	v.notify(func(l bridge.NotificationListener) { l.PushReceived(n) })
}

func (v *Vendor) record(op string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls[op]++
	return v.failures[op]
}

func (v *Vendor) notify(fn func(bridge.NotificationListener)) {
	v.mu.Lock()
	l := v.listener
	v.mu.Unlock()
	if l != nil {
		fn(l)
	}
}
