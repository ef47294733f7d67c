package userpool

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// BrowserSession pairs one browser session's lifecycle state machine with its
// token store. Both live only in process memory and are dropped together.
type BrowserSession struct {
	ID       string
	Session  *Session
	Tokens   *MemoryTokenStore
	lastSeen time.Time
}

// BrowserSessions is the registry of live browser sessions, keyed by the
// session cookie value.
type BrowserSessions struct {
	mu      sync.RWMutex
	entries map[string]*BrowserSession
	now     func() time.Time
	opts    []SessionOption
}

// BrowserSessionsOption customizes the registry.
type BrowserSessionsOption func(*BrowserSessions)

// WithRegistryClock injects a custom clock (useful for tests).
func WithRegistryClock(clock func() time.Time) BrowserSessionsOption {
	return func(r *BrowserSessions) {
		if clock != nil {
			r.now = clock
		}
	}
}

// WithSessionOptions forwards options to every Session the registry creates.
func WithSessionOptions(opts ...SessionOption) BrowserSessionsOption {
	return func(r *BrowserSessions) {
		r.opts = append(r.opts, opts...)
	}
}

// NewBrowserSessions returns an empty registry.
func NewBrowserSessions(opts ...BrowserSessionsOption) *BrowserSessions {
	r := &BrowserSessions{
		entries: map[string]*BrowserSession{},
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Create registers a fresh browser session. The new Session starts in
// StateInitializing, entered exactly once for the session's lifetime.
func (r *BrowserSessions) Create() *BrowserSession {
	entry := &BrowserSession{
		ID:       uuid.NewString(),
		Session:  NewSession(r.opts...),
		Tokens:   NewMemoryTokenStore(),
		lastSeen: r.now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.ID] = entry
	return entry
}

// Lookup returns the session for id and refreshes its idle timer.
func (r *BrowserSessions) Lookup(id string) (*BrowserSession, bool) {
	if id == "" {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	entry.lastSeen = r.now()
	return entry, true
}

// Drop removes a browser session, discarding its tokens.
func (r *BrowserSessions) Drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Sweep removes sessions idle longer than maxIdle and returns how many were
// dropped. The browser clears its side when the tab closes; this reclaims
// the server side.
func (r *BrowserSessions) Sweep(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)

	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for id, entry := range r.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(r.entries, id)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of live sessions.
func (r *BrowserSessions) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
