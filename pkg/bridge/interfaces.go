package bridge

import "context"

// Identity is the minimal session knowledge needed for later vendor calls.
type Identity struct {
	AccountID string
	AppID     string
}

// Complete reports whether both identifiers are set.
func (i Identity) Complete() bool {
	return i.AccountID != "" && i.AppID != ""
}

// InitParams is passed to Vendor.Initialize.
type InitParams struct {
	Identity
	MonitoringEnabled bool
	InstallationID    string
}

// ConversationRequest is passed to Vendor.ShowConversation.
type ConversationRequest struct {
	AccountID string
	Auth      *AuthDescriptor
	ViewOnly  bool
}

// Profile holds the optional consumer profile fields. Only non-empty
// fields are applied. Identity may be empty.
type Profile struct {
	Identity
	FirstName   string
	LastName    string
	PhoneNumber string
}

// PushRegistration is passed to Vendor.RegisterPush.
type PushRegistration struct {
	Identity
	Token string
	Auth  *AuthDescriptor
}

// UnreadQuery is passed to Vendor.GetUnreadCount. A nil Auth selects the
// unauthenticated variant.
type UnreadQuery struct {
	Identity
	Auth *AuthDescriptor
}

// Capabilities are resolved once, when the adapter is constructed.
type Capabilities struct {
	// AuthTypeSelection reports whether the vendor accepts an explicit
	// authentication flow type. Without it the default type is used.
	AuthTypeSelection bool
}

// Vendor is the messaging SDK seam. Real and stub implementations satisfy
// the same contract. Every method resolves exactly once: it either returns
// or returns an error. Methods may block; the dispatcher never calls the
// blocking ones from the owner goroutine.
type Vendor interface {
	Capabilities() Capabilities
	Initialize(ctx context.Context, params InitParams) error
	// ShowConversation and HideConversation run on the owner goroutine and
	// must not block on I/O. ctx carries the vendor timeout for any
	// background work they start.
	ShowConversation(ctx context.Context, surface Surface, req ConversationRequest) error
	// HideConversation receives a nil surface on platforms that can
	// dismiss without one.
	HideConversation(ctx context.Context, surface Surface) error
	SetUserProfile(ctx context.Context, profile Profile) error
	RegisterPush(ctx context.Context, reg PushRegistration) error
	UnregisterPush(ctx context.Context, id Identity) error
	GetUnreadCount(ctx context.Context, q UnreadQuery) (int, error)
}

// Notification is an inbound vendor push for a given identity.
type Notification struct {
	Identity
	ConversationID string
	Title          string
	Body           string
	Data           map[string]string
}

// NotificationListener receives vendor-originated callbacks. Implementations
// must tolerate calls from any goroutine.
type NotificationListener interface {
	PushReceived(n Notification)
	PushRegistrationFinished(id Identity)
	PushRegistrationFailed(id Identity, err error)
	ConnectionChanged(state string)
	ConversationChanged(state string)
}

// Notifier is implemented by adapters that emit vendor callbacks.
type Notifier interface {
	SetNotificationListener(l NotificationListener)
}

// ConversationView describes what a surface is asked to present.
type ConversationView struct {
	AccountID string
	ViewOnly  bool
}

// Surface is a usable foreground presentation context.
type Surface interface {
	ID() string
	Present(view ConversationView) error
	Dismiss() error
}

// SurfaceProvider answers "is there a usable foreground surface".
type SurfaceProvider interface {
	// ApplicationAttached reports whether an application context exists.
	ApplicationAttached() bool
	// Foreground returns the current surface, if any.
	Foreground() (Surface, bool)
}

// Sink is the application-side consumer of the event stream.
type Sink interface {
	Send(e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event) error

func (f SinkFunc) Send(e Event) error { return f(e) }
