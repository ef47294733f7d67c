package userpool

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeMissingClientSecret = "userpool_missing_client_secret"
	TextCodeMissingAuthCode     = "userpool_missing_authorization_code"
	TextCodeTokenExchangeFail   = "userpool_token_exchange_failed"
	TextCodeRefreshFail         = "userpool_refresh_failed"
	TextCodeIncompleteTokenSet  = "userpool_incomplete_token_set"
	TextCodeProviderRejection   = "userpool_provider_rejection"
	TextCodeTransportFailure    = "userpool_transport_failure"
	TextCodeInvalidTransition   = "userpool_invalid_session_transition"
)

// ErrMissingClientSecret is a configuration error: secret-hash operations were
// requested but no client secret is configured.
var ErrMissingClientSecret = goerrors.New("client secret is missing in configuration", goerrors.CategoryInternal).
	WithTextCode(TextCodeMissingClientSecret).
	WithCode(goerrors.CodeInternal)

// ErrMissingAuthorizationCode is returned by the callback path when the
// redirect arrived without a code parameter. No provider call is attempted.
var ErrMissingAuthorizationCode = goerrors.New("no authorization code found", goerrors.CategoryBadInput).
	WithTextCode(TextCodeMissingAuthCode).
	WithCode(goerrors.CodeBadRequest)

// ErrTokenExchangeFailed is returned when the hosted token endpoint rejects
// the authorization code exchange.
var ErrTokenExchangeFailed = goerrors.New("token exchange failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExchangeFail).
	WithCode(goerrors.CodeUnauthorized)

// ErrRefreshFailed is returned when a refresh-token grant is rejected.
var ErrRefreshFailed = goerrors.New("token refresh failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeRefreshFail).
	WithCode(goerrors.CodeUnauthorized)

// ErrIncompleteTokenSet is returned by TokenStore.Save when one or more of the
// three tokens is missing. Nothing is written.
var ErrIncompleteTokenSet = goerrors.New("token set is incomplete", goerrors.CategoryValidation).
	WithTextCode(TextCodeIncompleteTokenSet).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidSessionTransition is returned when a session transition is not
// allowed from the current state.
var ErrInvalidSessionTransition = goerrors.New("invalid session state transition", goerrors.CategoryConflict).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeConflict)
