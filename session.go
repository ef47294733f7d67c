package userpool

import (
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// SessionState is the lifecycle state of a browser session.
type SessionState string

const (
	// StateInitializing is entered exactly once, when the session is created.
	// It is exit-only: no transition leads back to it.
	StateInitializing  SessionState = "initializing"
	StateAnonymous     SessionState = "anonymous"
	StateAuthenticated SessionState = "authenticated"
)

// Session is the lifecycle state machine for one browser session. All
// mutations go through the named transition methods; there are no arbitrary
// setters. The authenticated flag can never drift from the user profile: both
// change together under the same lock.
type Session struct {
	mu          sync.RWMutex
	state       SessionState
	user        *UserProfile
	lastError   string
	resolvedAt  *time.Time
	logger      Logger
	now         func() time.Time
	transitions map[SessionState]map[SessionState]struct{}
}

// SessionOption customizes session construction.
type SessionOption func(*Session)

// WithSessionLogger overrides the logger.
func WithSessionLogger(logger Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSessionClock injects a custom clock (useful for tests).
func WithSessionClock(clock func() time.Time) SessionOption {
	return func(s *Session) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewSession returns a session in StateInitializing.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		state:  StateInitializing,
		logger: defLogger{},
		now:    time.Now,
		transitions: map[SessionState]map[SessionState]struct{}{
			StateInitializing: {
				StateAnonymous:     {},
				StateAuthenticated: {},
			},
			StateAnonymous: {
				StateAuthenticated: {},
			},
			StateAuthenticated: {
				StateAnonymous: {},
			},
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsLoading reports whether the session is still initializing. While loading,
// the route guard must not make an admit-or-redirect decision.
func (s *Session) IsLoading() bool {
	return s.State() == StateInitializing
}

// IsAuthenticated reports whether the session holds a valid user.
func (s *Session) IsAuthenticated() bool {
	return s.State() == StateAuthenticated
}

// User returns the current profile, nil when anonymous or initializing.
func (s *Session) User() *UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// ResolvedAt returns when the session left StateInitializing, nil while it is
// still loading.
func (s *Session) ResolvedAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolvedAt
}

// LastError returns the most recent gateway failure message, empty when none.
func (s *Session) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// Resolve exits StateInitializing based on the validator's verdict: a profile
// resolves to authenticated, nil resolves to anonymous. Resolving twice is an
// invalid transition; initializing is never re-entered.
func (s *Session) Resolve(profile *UserProfile) error {
	target := StateAnonymous
	if profile != nil {
		target = StateAuthenticated
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInitializing {
		return invalidTransition(s.state, target)
	}

	now := s.now()
	s.resolvedAt = &now
	return s.apply(target, profile)
}

// SignedIn transitions anonymous to authenticated after a successful sign-in
// or code exchange.
func (s *Session) SignedIn(profile *UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.apply(StateAuthenticated, profile); err != nil {
		return err
	}
	s.lastError = ""
	return nil
}

// SignedOut transitions to anonymous. Signing out an already anonymous
// session is a no-op; sign-out always succeeds once the session is resolved.
func (s *Session) SignedOut() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateAnonymous {
		return nil
	}
	return s.apply(StateAnonymous, nil)
}

// Expired transitions authenticated to anonymous after a validator check
// found the token expired. Not a user-visible error.
func (s *Session) Expired() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateAnonymous {
		return nil
	}

	s.logger.Debug("session expired, dropping to anonymous")
	return s.apply(StateAnonymous, nil)
}

// RecordFailure stores a gateway failure message for the next render. The
// state does not change: failed attempts leave the session where it was.
func (s *Session) RecordFailure(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = message
}

// apply performs the transition after checking it against the table. Callers
// hold the write lock.
func (s *Session) apply(target SessionState, profile *UserProfile) error {
	if s.state == target {
		s.user = profile
		return nil
	}

	allowed, ok := s.transitions[s.state]
	if !ok {
		return invalidTransition(s.state, target)
	}
	if _, ok := allowed[target]; !ok {
		return invalidTransition(s.state, target)
	}

	s.state = target
	if target == StateAuthenticated {
		s.user = profile
	} else {
		s.user = nil
	}
	return nil
}

func invalidTransition(from, to SessionState) error {
	return goerrors.New("invalid session state transition", goerrors.CategoryConflict).
		WithTextCode(TextCodeInvalidTransition).
		WithCode(goerrors.CodeConflict).
		WithMetadata(map[string]any{
			"from": string(from),
			"to":   string(to),
		})
}
