// Package host tracks the host application's lifecycle: whether an
// application context is attached and which activity, if any, is in the
// foreground.
package host

import (
	"errors"
	"sync"

	"github.com/tinywideclouds/go-messaging-bridge/pkg/bridge"
)

var ErrDetached = errors.New("activity is detached")

// Provider implements bridge.SurfaceProvider.
type Provider struct {
	mu          sync.RWMutex
	appAttached bool
	foreground  *Activity
}

func NewProvider() *Provider {
	return &Provider{}
}

func (p *Provider) AttachApplication() {
	p.mu.Lock()
	p.appAttached = true
	p.mu.Unlock()
}

// DetachApplication drops the application context and any activity.
func (p *Provider) DetachApplication() {
	p.mu.Lock()
	p.appAttached = false
	if p.foreground != nil {
		p.foreground.detach()
		p.foreground = nil
	}
	p.mu.Unlock()
}

// AttachActivity makes a new foreground activity current, replacing any
// previous one (configuration change or reattach).
func (p *Provider) AttachActivity(id string) *Activity {
	a := &Activity{id: id}
	p.mu.Lock()
	if p.foreground != nil {
		p.foreground.detach()
	}
	p.foreground = a
	p.mu.Unlock()
	return a
}

func (p *Provider) DetachActivity() {
	p.mu.Lock()
	if p.foreground != nil {
		p.foreground.detach()
		p.foreground = nil
	}
	p.mu.Unlock()
}

func (p *Provider) ApplicationAttached() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.appAttached
}

func (p *Provider) Foreground() (bridge.Surface, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.foreground == nil {
		return nil, false
	}
	return p.foreground, true
}

// Activity is a foreground surface. Rendering is the host's job; the
// activity only records what it was asked to show.
type Activity struct {
	id string

	mu       sync.Mutex
	view     *bridge.ConversationView
	detached bool
}

func (a *Activity) ID() string { return a.id }

func (a *Activity) Present(view bridge.ConversationView) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.detached {
		return ErrDetached
	}
	a.view = &view
	return nil
}

func (a *Activity) Dismiss() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.detached {
		return ErrDetached
	}
	a.view = nil
	return nil
}

// Presented returns the conversation currently shown, if any.
func (a *Activity) Presented() (bridge.ConversationView, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.view == nil {
		return bridge.ConversationView{}, false
	}
	return *a.view, true
}

func (a *Activity) detach() {
	a.mu.Lock()
	a.detached = true
	a.view = nil
	a.mu.Unlock()
}
