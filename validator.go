package userpool

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Validator inspects the stored identity token to decide whether the current
// browser session is still authenticated. It only checks structural
// decodability and expiry; signature verification is delegated to the
// provider.
type Validator struct {
	refresher TokenRefresher
	logger    Logger
	now       func() time.Time
}

// ValidatorOption customizes a Validator.
type ValidatorOption func(*Validator)

// WithRefresher enables the silent-refresh path: when the identity token has
// expired but a refresh token is present, one refresh attempt is made before
// the session is treated as anonymous.
func WithRefresher(refresher TokenRefresher) ValidatorOption {
	return func(v *Validator) {
		v.refresher = refresher
	}
}

// WithValidatorLogger overrides the logger.
func WithValidatorLogger(logger Logger) ValidatorOption {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithValidatorClock injects a custom clock (useful for tests).
func WithValidatorClock(clock func() time.Time) ValidatorOption {
	return func(v *Validator) {
		if clock != nil {
			v.now = clock
		}
	}
}

// NewValidator returns a Validator with the given options applied.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{
		logger: defLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// CheckSession loads the token set from store and returns the user profile it
// asserts, or nil when there is no valid session. Malformed tokens are
// treated exactly like expired ones: nil, never an error.
func (v *Validator) CheckSession(ctx context.Context, store TokenStore) *UserProfile {
	tokens := store.Load()
	if tokens == nil {
		return nil
	}

	claims, err := decodeIdentityClaims(tokens.IdentityToken)
	if err != nil {
		v.logger.Debug("identity token decode failed", "error", err)
		return nil
	}

	if v.expired(claims) {
		return v.refresh(ctx, store, tokens.RefreshToken)
	}

	return profileFromClaims(claims)
}

// refresh attempts a single refresh-token grant. Any failure falls back to
// anonymous: the store is cleared so the session flag cannot drift from the
// token state.
func (v *Validator) refresh(ctx context.Context, store TokenStore, refreshToken string) *UserProfile {
	if v.refresher == nil || refreshToken == "" {
		store.Clear()
		return nil
	}

	tokens, err := v.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		v.logger.Info("token refresh failed, session is anonymous", "error", err)
		store.Clear()
		return nil
	}

	if err := store.Save(*tokens); err != nil {
		v.logger.Error("refreshed token set rejected by store", "error", err)
		store.Clear()
		return nil
	}

	claims, err := decodeIdentityClaims(tokens.IdentityToken)
	if err != nil || v.expired(claims) {
		store.Clear()
		return nil
	}

	return profileFromClaims(claims)
}

func (v *Validator) expired(claims jwt.MapClaims) bool {
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return exp.Time.Before(v.now())
}

// ProfileFromIdentityToken decodes an identity token and builds the profile
// it asserts. It does not check expiry; callers that need the expiry rule go
// through CheckSession.
func ProfileFromIdentityToken(identityToken string) (*UserProfile, error) {
	claims, err := decodeIdentityClaims(identityToken)
	if err != nil {
		return nil, err
	}
	return profileFromClaims(claims), nil
}

// decodeIdentityClaims parses the token's claims segment without verifying
// the signature.
func decodeIdentityClaims(identityToken string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(identityToken, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func profileFromClaims(claims jwt.MapClaims) *UserProfile {
	username, _ := claims["cognito:username"].(string)
	if username == "" {
		username, _ = claims["username"].(string)
	}
	email, _ := claims["email"].(string)

	return &UserProfile{
		Username:        username,
		Email:           email,
		IsAuthenticated: true,
	}
}
