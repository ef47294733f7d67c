// Package userpool manages the sign-up and sign-in lifecycle of browser
// sessions against a Cognito-style user pool. The pool owns all durable user
// state; this package holds only per-browser-session state and talks to the
// pool over its native RPCs and its hosted OAuth2 endpoints.
//
// Browser sessions:
//   - BrowserSessions is the registry of live sessions, keyed by the session
//     cookie. Each entry pairs a Session (the lifecycle state machine) with a
//     MemoryTokenStore holding the raw token set. Both die together when the
//     session is dropped or swept.
//   - Session moves through initializing, anonymous, and authenticated via
//     named transitions only. Initializing is entered exactly once; the user
//     profile and the authenticated flag always change together.
//
// Tokens and validation:
//   - MemoryTokenStore persists the identity, access, and refresh tokens as a
//     unit. Save is all-or-nothing; a partial set means no session.
//   - Validator decodes the stored identity token without verifying its
//     signature (the provider signed it, the provider verifies it) and checks
//     expiry. With a TokenRefresher configured, an expired token gets one
//     silent refresh attempt before the session falls back to anonymous.
//
// Provider access:
//   - CognitoGateway wraps the pool's RPCs (sign-up, confirmation, direct
//     sign-in, password reset) and the hosted UI (login/logout URLs, the
//     authorization-code exchange, the refresh grant). Provider rejections
//     surface verbatim so forms can show them as-is.
//
// The HTTP surface lives in Controller (page flows) and middleware/guard
// (route protection). cmd/server wires everything into a runnable app.
package userpool
