package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mediclear/mediclear/internal/platform/auth"
	"github.com/mediclear/mediclear/internal/platform/websocket"
)

// ChangeKind names a session transition.
type ChangeKind string

const (
	SignedIn       ChangeKind = "SIGNED_IN"
	SignedOut      ChangeKind = "SIGNED_OUT"
	SignedUp       ChangeKind = "SIGNED_UP"
	EmailConfirmed ChangeKind = "EMAIL_CONFIRMED"
)

// SessionChange is delivered to Watch subscribers.
type SessionChange struct {
	Kind     ChangeKind `json:"kind"`
	UserID   uuid.UUID  `json:"user_id"`
	Identity *Identity  `json:"identity,omitempty"`
	At       time.Time  `json:"at"`
}

// SignInResult carries the session token handed to the client.
type SignInResult struct {
	Identity Identity     `json:"identity"`
	Token    string       `json:"token"`
	Claims   *auth.Claims `json:"-"`
}

// SignUpResult reports a new registration. ConfirmationToken is set when
// the account must confirm its email before signing in.
type SignUpResult struct {
	Identity          Identity `json:"identity"`
	ConfirmationToken string   `json:"-"`
}

const watchBuffer = 16

type Service struct {
	accounts AccountRepository
	profiles ProfileRepository
	tokens   *auth.TokenIssuer
	revoked  *auth.TokenRevocationStore
	logger   zerolog.Logger
	events   websocket.EventPublisher
	now      func() time.Time

	requireConfirmation bool

	mu       sync.Mutex
	watchers map[chan SessionChange]struct{}
}

func NewService(accounts AccountRepository, profiles ProfileRepository, tokens *auth.TokenIssuer, revoked *auth.TokenRevocationStore, logger zerolog.Logger) *Service {
	return &Service{
		accounts: accounts,
		profiles: profiles,
		tokens:   tokens,
		revoked:  revoked,
		logger:   logger.With().Str("component", "identity").Logger(),
		now:      time.Now,
		watchers: make(map[chan SessionChange]struct{}),
	}
}

// SetRequireEmailConfirmation makes SignIn refuse accounts whose email has
// not been confirmed.
func (s *Service) SetRequireEmailConfirmation(on bool) { s.requireConfirmation = on }

func (s *Service) SetEventPublisher(p websocket.EventPublisher) { s.events = p }

// Watch streams session changes until ctx is done. Slow readers miss
// changes rather than blocking sign-ins.
func (s *Service) Watch(ctx context.Context) <-chan SessionChange {
	ch := make(chan SessionChange, watchBuffer)
	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch
}

func (s *Service) notify(ctx context.Context, change SessionChange) {
	change.At = s.now()
	s.mu.Lock()
	for ch := range s.watchers {
		select {
		case ch <- change:
		default:
			s.logger.Warn().Str("kind", string(change.Kind)).Msg("session watcher is full, dropping change")
		}
	}
	s.mu.Unlock()

	if s.events == nil {
		return
	}
	data, _ := json.Marshal(change)
	err := s.events.Publish(ctx, websocket.Event{
		Type:   "session." + strings.ToLower(string(change.Kind)),
		Topic:  websocket.TopicSession,
		Data:   data,
		UserID: change.UserID.String(),
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish session event")
	}
}

// SignIn checks the credentials and opens a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	email = normalizeEmail(email)
	acct, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		s.logger.Info().Str("email", email).Msg("sign-in for unknown email")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("error loading account")
		return nil, fmt.Errorf("load account: %w", err)
	}
	ok, err := auth.VerifyPassword(acct.PasswordHash, password)
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", acct.ID.String()).Msg("error verifying password")
		return nil, err
	}
	if !ok {
		s.logger.Info().Str("account_id", acct.ID.String()).Msg("sign-in with wrong password")
		return nil, ErrInvalidCredentials
	}
	if s.requireConfirmation && acct.EmailConfirmedAt == nil {
		return nil, ErrEmailNotConfirmed
	}

	prof, err := s.profiles.GetByUserID(ctx, acct.ID)
	if errors.Is(err, ErrProfileNotFound) {
		s.logger.Error().Str("account_id", acct.ID.String()).Msg("account has no profile")
		return nil, ErrProfileNotFound
	}
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", acct.ID.String()).Msg("error loading profile")
		return nil, fmt.Errorf("load profile: %w", err)
	}

	id := NewIdentity(acct, prof)
	token, claims, err := s.tokens.IssueSession(id.UserID.String(), id.Email, id.Role)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", id.UserID.String()).Str("role", id.Role).Msg("signed in")
	s.notify(ctx, SessionChange{Kind: SignedIn, UserID: id.UserID, Identity: &id})
	return &SignInResult{Identity: id, Token: token, Claims: claims}, nil
}

// SignUp creates the account and then its profile. A profile that cannot be
// stored takes the account down with it.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResult, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	acct := &Account{
		Email:        req.Email,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         req.Role,
	}
	if !s.requireConfirmation {
		now := s.now()
		acct.EmailConfirmedAt = &now
	}
	if err := s.accounts.Create(ctx, acct); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		s.logger.Error().Err(err).Msg("error creating account")
		return nil, fmt.Errorf("create account: %w", err)
	}

	prof := &Profile{
		UserID:      acct.ID,
		FullName:    strings.TrimSpace(req.FirstName + " " + req.LastName),
		PhoneNumber: req.PhoneNumber,
		Email:       req.Email,
		Role:        req.Role,
		IsActive:    true,
	}
	if err := s.profiles.Create(ctx, prof); err != nil {
		s.logger.Error().Err(err).Str("account_id", acct.ID.String()).Msg("error creating profile")
		if derr := s.accounts.Delete(ctx, acct.ID); derr != nil {
			s.logger.Error().Err(derr).Str("account_id", acct.ID.String()).Msg("error removing account without profile")
		}
		return nil, fmt.Errorf("create profile: %w", err)
	}

	res := &SignUpResult{Identity: NewIdentity(acct, prof)}
	if s.requireConfirmation {
		res.ConfirmationToken, err = s.tokens.IssueConfirmation(acct.ID.String(), acct.Email)
		if err != nil {
			return nil, err
		}
	}
	s.logger.Info().Str("user_id", acct.ID.String()).Str("role", req.Role).Msg("registered")
	s.notify(ctx, SessionChange{Kind: SignedUp, UserID: acct.ID, Identity: &res.Identity})
	return res, nil
}

// ConfirmEmail marks the email named by a confirmation token as confirmed.
func (s *Service) ConfirmEmail(ctx context.Context, token string) error {
	claims, err := s.tokens.ParseConfirmation(token)
	if err != nil {
		return auth.ErrInvalidToken
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return auth.ErrInvalidToken
	}
	if err := s.accounts.ConfirmEmail(ctx, id, s.now()); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return auth.ErrInvalidToken
		}
		s.logger.Error().Err(err).Str("account_id", id.String()).Msg("error confirming email")
		return err
	}
	s.notify(ctx, SessionChange{Kind: EmailConfirmed, UserID: id})
	return nil
}

// SignOut revokes the session token until it would have expired.
func (s *Service) SignOut(ctx context.Context, claims *auth.Claims) error {
	if claims == nil {
		return auth.ErrInvalidToken
	}
	expires := s.now().Add(s.tokens.TTL())
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	s.revoked.Revoke(claims.ID, expires)

	id, _ := uuid.Parse(claims.Subject)
	s.logger.Info().Str("user_id", claims.Subject).Msg("signed out")
	s.notify(ctx, SessionChange{Kind: SignedOut, UserID: id})
	return nil
}

// Lookup builds the identity for a user. A missing profile falls back to the
// account metadata.
func (s *Service) Lookup(ctx context.Context, userID uuid.UUID) (Identity, error) {
	acct, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			s.logger.Error().Err(err).Str("user_id", userID.String()).Msg("error loading account")
		}
		return Identity{}, err
	}
	prof, err := s.profiles.GetByUserID(ctx, userID)
	switch {
	case errors.Is(err, ErrProfileNotFound):
		s.logger.Warn().Str("user_id", userID.String()).Msg("profile missing, using account metadata")
		prof = nil
	case err != nil:
		s.logger.Error().Err(err).Str("user_id", userID.String()).Msg("error loading profile")
		return Identity{}, fmt.Errorf("load profile: %w", err)
	}
	return NewIdentity(acct, prof), nil
}

// Restore resumes the session behind a token.
func (s *Service) Restore(ctx context.Context, token string) (Identity, *auth.Claims, error) {
	claims, err := s.tokens.ParseSession(token)
	if err != nil {
		return Identity{}, nil, auth.ErrInvalidToken
	}
	if s.revoked != nil && s.revoked.IsRevoked(claims.ID) {
		return Identity{}, nil, auth.ErrInvalidToken
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, nil, auth.ErrInvalidToken
	}
	id, err := s.Lookup(ctx, userID)
	if errors.Is(err, ErrAccountNotFound) {
		return Identity{}, nil, auth.ErrInvalidToken
	}
	if err != nil {
		return Identity{}, nil, err
	}
	return id, claims, nil
}

// ListDoctors returns the attending physician picker options.
func (s *Service) ListDoctors(ctx context.Context) ([]DoctorOption, error) {
	doctors, err := s.profiles.ListByRole(ctx, auth.RoleDoctor)
	if err != nil {
		s.logger.Error().Err(err).Msg("error fetching doctors")
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	if len(doctors) == 0 {
		s.logger.Warn().Msg("no doctors registered")
	}
	return DoctorOptions(doctors), nil
}
