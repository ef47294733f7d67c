package userpool

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// SecretHasher computes the integrity tag the provider requires on every
// request made with a confidential client: HMAC-SHA-256 over
// username + clientID, keyed with the client secret, base64 encoded.
type SecretHasher struct {
	clientID     string
	clientSecret string
	logger       Logger
}

// NewSecretHasher returns a hasher for the given client credentials.
func NewSecretHasher(clientID, clientSecret string) *SecretHasher {
	return &SecretHasher{
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       defLogger{},
	}
}

// WithLogger overrides the operator log used for configuration errors.
func (h *SecretHasher) WithLogger(logger Logger) *SecretHasher {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// Compute returns the integrity tag for username. When no client secret is
// configured it returns an empty tag; the provider call that carries it is
// then left to fail with the provider's own authorization error.
func (h *SecretHasher) Compute(username string) string {
	if h.clientSecret == "" {
		h.logger.Error("secret hash requested but no client secret is configured")
		return ""
	}

	mac := hmac.New(sha256.New, []byte(h.clientSecret))
	mac.Write([]byte(username + h.clientID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
