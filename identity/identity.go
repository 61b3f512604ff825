// Package identity provides the authenticated identity transfers are scoped
// to.
package identity

import "sync"

//go:generate mockgen -destination=mock/provider.go -package=mock_identity . Provider

// Provider returns the identity currently signed in.
type Provider interface {
	// CurrentIdentity returns the active identity, ok is false when nobody
	// is signed in.
	CurrentIdentity() (id string, ok bool)
}

// Session is an in-process Provider switched by SignIn and SignOut.
type Session struct {
	mu sync.RWMutex
	id string
}

// NewSession returns a Session signed in as id, or signed out when id is
// empty.
func NewSession(id string) *Session {
	return &Session{id: id}
}

func (s *Session) CurrentIdentity() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id, s.id != ""
}

// SignIn makes id the active identity.
func (s *Session) SignIn(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
}

// SignOut clears the active identity.
func (s *Session) SignOut() {
	s.SignIn("")
}

// Static is a Provider that always returns the same identity.
type Static string

func (s Static) CurrentIdentity() (string, bool) {
	return string(s), s != ""
}
