package userpool_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/parkside-apps/userpool"
)

// MockRefresher mocks the refresh-token grant.
type MockRefresher struct {
	mock.Mock
}

func (m *MockRefresher) Refresh(ctx context.Context, refreshToken string) (*userpool.TokenSet, error) {
	args := m.Called(ctx, refreshToken)
	var tokens *userpool.TokenSet
	if v := args.Get(0); v != nil {
		tokens = v.(*userpool.TokenSet)
	}
	return tokens, args.Error(1)
}

// MockGateway mocks the full identity provider facade for controller tests.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Refresh(ctx context.Context, refreshToken string) (*userpool.TokenSet, error) {
	args := m.Called(ctx, refreshToken)
	var tokens *userpool.TokenSet
	if v := args.Get(0); v != nil {
		tokens = v.(*userpool.TokenSet)
	}
	return tokens, args.Error(1)
}

func (m *MockGateway) Register(ctx context.Context, username, password, email string) (string, error) {
	args := m.Called(ctx, username, password, email)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) ConfirmRegistration(ctx context.Context, username, code string) error {
	return m.Called(ctx, username, code).Error(0)
}

func (m *MockGateway) ResendConfirmationCode(ctx context.Context, username string) error {
	return m.Called(ctx, username).Error(0)
}

func (m *MockGateway) SignIn(ctx context.Context, store userpool.TokenStore, username, password string) (*userpool.UserProfile, error) {
	args := m.Called(ctx, store, username, password)
	var profile *userpool.UserProfile
	if v := args.Get(0); v != nil {
		profile = v.(*userpool.UserProfile)
	}
	return profile, args.Error(1)
}

func (m *MockGateway) ForgotPassword(ctx context.Context, username string) error {
	return m.Called(ctx, username).Error(0)
}

func (m *MockGateway) ConfirmForgotPassword(ctx context.Context, username, code, newPassword string) error {
	return m.Called(ctx, username, code, newPassword).Error(0)
}

func (m *MockGateway) HostedSignInURL() string {
	return m.Called().String(0)
}

func (m *MockGateway) HostedSignOutURL() string {
	return m.Called().String(0)
}

func (m *MockGateway) ExchangeAuthorizationCode(ctx context.Context, store userpool.TokenStore, code string) (*userpool.UserProfile, error) {
	args := m.Called(ctx, store, code)
	var profile *userpool.UserProfile
	if v := args.Get(0); v != nil {
		profile = v.(*userpool.UserProfile)
	}
	return profile, args.Error(1)
}

func (m *MockGateway) SignOut(store userpool.TokenStore) {
	m.Called(store)
}

// stubViews satisfies fiber.Views and records what was rendered so handler
// tests can assert on view names and bindings without real templates.
type stubViews struct {
	mu      sync.Mutex
	renders []renderCall
}

type renderCall struct {
	Name string
	Bind map[string]any
}

func (s *stubViews) Load() error { return nil }

func (s *stubViews) Render(w io.Writer, name string, bind any, layouts ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := renderCall{Name: name}
	switch m := bind.(type) {
	case fiber.Map:
		call.Bind = m
	case map[string]any:
		call.Bind = m
	}
	s.renders = append(s.renders, call)

	_, err := fmt.Fprintf(w, "view:%s", name)
	return err
}

func (s *stubViews) last(t *testing.T) renderCall {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.renders, "expected at least one render")
	return s.renders[len(s.renders)-1]
}

// mintIdentityToken signs a token with throwaway key material. The validator
// never verifies signatures, so the key does not matter, only the claims.
func mintIdentityToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return signed
}

func mintUserToken(t *testing.T, username string, expiresAt time.Time) string {
	t.Helper()
	return mintIdentityToken(t, jwt.MapClaims{
		"cognito:username": username,
		"email":            username + "@example.com",
		"exp":              expiresAt.Unix(),
	})
}

func completeTokenSet(t *testing.T, username string, expiresAt time.Time) userpool.TokenSet {
	t.Helper()
	return userpool.TokenSet{
		IdentityToken: mintUserToken(t, username, expiresAt),
		AccessToken:   "access-token",
		RefreshToken:  "refresh-token",
	}
}
