package identity

import (
	"context"
	"sync"
)

// State is where a Session is in the sign-in flow.
type State int

const (
	Anonymous State = iota
	Authenticating
	Authenticated
)

func (s State) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	}
	return "anonymous"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Authenticator is the part of Service a Session drives.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (*SignInResult, error)
}

// Session tracks one client's sign-in state. Failures return it to Anonymous
// and leave a user-facing message; they have no state of their own.
type Session struct {
	mu       sync.Mutex
	state    State
	identity *Identity
	message  string
}

func NewSession() *Session { return &Session{} }

// Restored returns a session that is already signed in.
func Restored(id Identity) *Session {
	return &Session{state: Authenticated, identity: &id}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Identity() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return Identity{}, false
	}
	return *s.identity, true
}

// Message is the outcome text of the last transition.
func (s *Session) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

// SignIn moves Anonymous to Authenticating and then to Authenticated or back
// to Anonymous. Only one sign-in may be in flight.
func (s *Session) SignIn(ctx context.Context, a Authenticator, email, password string) (*SignInResult, error) {
	s.mu.Lock()
	if s.state == Authenticating {
		s.mu.Unlock()
		return nil, ErrSignInInProgress
	}
	s.state = Authenticating
	s.identity = nil
	s.message = ""
	s.mu.Unlock()

	res, err := a.SignIn(ctx, email, password)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = Anonymous
		s.message = Message(err)
		return nil, err
	}
	s.state = Authenticated
	s.identity = &res.Identity
	s.message = WelcomeMessage(res.Identity)
	return res, nil
}

// SignOut returns the session to Anonymous.
func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Anonymous
	s.identity = nil
	s.message = MessageSignedOut
}
