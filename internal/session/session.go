// Package session holds the bridge's knowledge of initialization status and
// identity. A Session is owned by the dispatcher's owner goroutine and is
// never shared across goroutines.
package session

import "github.com/tinywideclouds/go-messaging-bridge/pkg/bridge"

// Session starts empty at attach.
type Session struct {
	bridge.Identity
	Initialized  bool
	DebugLogging bool

	// generation advances on every logout or reset. Continuations captured
	// under an older generation must not mutate the session.
	generation uint64
}

func New() *Session {
	return &Session{}
}

// Generation identifies the current session epoch.
func (s *Session) Generation() uint64 {
	return s.generation
}

// Current reports whether gen still names this epoch.
func (s *Session) Current(gen uint64) bool {
	return s.generation == gen
}

// HasIdentity reports whether both account and app ids are known.
func (s *Session) HasIdentity() bool {
	return s.Identity.Complete()
}

// Ready reports whether commands that need the SDK may proceed.
func (s *Session) Ready() bool {
	return s.Initialized && s.HasIdentity()
}

// MarkInitialized records a successful vendor initialize.
func (s *Session) MarkInitialized(id bridge.Identity) {
	s.Identity = id
	s.Initialized = true
}

// Logout clears the initialized flag and keeps the identity.
func (s *Session) Logout() {
	s.Initialized = false
	s.generation++
}

// Reset returns the session to its initial empty state.
func (s *Session) Reset() {
	gen := s.generation + 1
	*s = Session{generation: gen}
}

// Snapshot is a copy safe to hand to other goroutines.
type Snapshot struct {
	bridge.Identity
	Initialized  bool
	DebugLogging bool
}

func (s *Session) Snapshot() Snapshot {
	return Snapshot{Identity: s.Identity, Initialized: s.Initialized, DebugLogging: s.DebugLogging}
}
