package userpool

import (
	"sync"
)

// Storage keys mirror the browser session storage entries the tokens map to.
const (
	keyIdentityToken = "idToken"
	keyAccessToken   = "accessToken"
	keyRefreshToken  = "refreshToken"
)

var _ TokenStore = (*MemoryTokenStore)(nil)

// MemoryTokenStore keeps the token set in process memory for the lifetime of
// a browser session. It is never backed by durable storage; dropping the
// session drops the tokens.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryTokenStore returns an empty store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{
		values: map[string]string{},
	}
}

// Save writes the full token set or nothing: an incomplete set is rejected
// with ErrIncompleteTokenSet and the previous contents stay untouched.
func (s *MemoryTokenStore) Save(tokens TokenSet) error {
	if !tokens.Complete() {
		return ErrIncompleteTokenSet
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[keyIdentityToken] = tokens.IdentityToken
	s.values[keyAccessToken] = tokens.AccessToken
	s.values[keyRefreshToken] = tokens.RefreshToken
	return nil
}

// Load returns the stored token set, or nil when any of the three tokens is
// missing.
func (s *MemoryTokenStore) Load() *TokenSet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := TokenSet{
		IdentityToken: s.values[keyIdentityToken],
		AccessToken:   s.values[keyAccessToken],
		RefreshToken:  s.values[keyRefreshToken],
	}

	if !tokens.Complete() {
		return nil
	}
	return &tokens
}

// Clear removes all tokens.
func (s *MemoryTokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = map[string]string{}
}
