package userpool

import (
	"context"
	"fmt"
	"strings"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds the user pool and hosted UI options
type Config struct {
	Region          string
	UserPoolID      string
	ClientID        string
	ClientSecret    string
	HostedDomain    string
	RedirectSignIn  string
	RedirectSignOut string
	Scopes          []string

	// Endpoint overrides the user pool API endpoint, used in tests
	Endpoint string
	// TokenEndpoint overrides the hosted /oauth2/token endpoint, used in tests
	TokenEndpoint string
}

// DefaultScopes returns the scopes requested from the hosted login page.
func DefaultScopes() []string {
	return []string{"email", "openid", "profile"}
}

func (c Config) scopes() []string {
	if len(c.Scopes) > 0 {
		return c.Scopes
	}
	return DefaultScopes()
}

// UserProfile is a read-only projection of identity token claims. It is never
// persisted; it is reconstructed from the current identity token.
type UserProfile struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	IsAuthenticated bool   `json:"is_authenticated"`
}

// TokenSet holds the three bearer tokens issued by the user pool. The set is
// treated as a unit: a partial set means "no session".
type TokenSet struct {
	IdentityToken string
	AccessToken   string
	RefreshToken  string
}

// Complete reports whether all three tokens are present.
func (t TokenSet) Complete() bool {
	return t.IdentityToken != "" && t.AccessToken != "" && t.RefreshToken != ""
}

// TokenStore is a browser-session scoped store for the token set. Save is
// all-or-nothing; Load returns nil unless every token is present.
type TokenStore interface {
	Save(tokens TokenSet) error
	Load() *TokenSet
	Clear()
}

// TokenRefresher exchanges a refresh token for a fresh token set.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)
}

// Gateway is the facade over the identity provider. Every operation resolves
// or fails exactly once; none retries on its own. SignIn and
// ExchangeAuthorizationCode either store the full token set or nothing.
type Gateway interface {
	TokenRefresher

	Register(ctx context.Context, username, password, email string) (string, error)
	ConfirmRegistration(ctx context.Context, username, code string) error
	ResendConfirmationCode(ctx context.Context, username string) error
	SignIn(ctx context.Context, store TokenStore, username, password string) (*UserProfile, error)
	ForgotPassword(ctx context.Context, username string) error
	ConfirmForgotPassword(ctx context.Context, username, code, newPassword string) error

	HostedSignInURL() string
	HostedSignOutURL() string
	ExchangeAuthorizationCode(ctx context.Context, store TokenStore, code string) (*UserProfile, error)

	SignOut(store TokenStore)
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] USERPOOL "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] USERPOOL "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] USERPOOL "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] USERPOOL "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s
}
