// Package guard provides the route guard middleware: it admits requests with
// an authenticated session, resolves sessions that are still initializing,
// and redirects anonymous requests to the login entry point.
package guard

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/parkside-apps/userpool"
)

const (
	// DefaultContextKey is the locals key under which the user profile is
	// stored for downstream handlers and templates.
	DefaultContextKey = userpool.DefaultContextKey

	// DefaultRejectedRouteCookie remembers the route an anonymous request was
	// turned away from, so login can send the user back.
	DefaultRejectedRouteCookie = userpool.DefaultRejectedRouteCookie

	defaultLoginPath = "/login"
)

// Config configures the guard.
type Config struct {
	// Resolve locates the browser session for the request. Required.
	Resolve func(c *fiber.Ctx) *userpool.BrowserSession

	// Validator re-checks the stored identity token on every guarded
	// request, so expiry is detected on the next navigation. Required.
	Validator *userpool.Validator

	// ContextKey overrides the locals key for the user profile.
	ContextKey string

	// LoginPath overrides the redirect target for anonymous requests.
	LoginPath string

	// RejectedRouteCookie overrides the cookie remembering the denied route.
	RejectedRouteCookie string

	// ErrorHandler handles anonymous requests instead of the default
	// remember-and-redirect behavior.
	ErrorHandler fiber.Handler
}

// New returns the guard middleware for cfg.
func New(cfg Config) fiber.Handler {
	if cfg.Resolve == nil {
		panic("guard: Config.Resolve is required")
	}
	if cfg.Validator == nil {
		panic("guard: Config.Validator is required")
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = defaultLoginPath
	}
	if cfg.RejectedRouteCookie == "" {
		cfg.RejectedRouteCookie = DefaultRejectedRouteCookie
	}

	return func(c *fiber.Ctx) error {
		bs := cfg.Resolve(c)
		if bs == nil {
			return reject(c, cfg)
		}

		// A guarded request never renders while the session is unresolved:
		// the first navigation resolves it here, synchronously.
		profile := cfg.Validator.CheckSession(c.UserContext(), bs.Tokens)

		if bs.Session.IsLoading() {
			if err := bs.Session.Resolve(profile); err != nil {
				return reject(c, cfg)
			}
		} else if profile == nil && bs.Session.IsAuthenticated() {
			// Token expired since the session was last seen.
			_ = bs.Session.Expired()
		} else if profile != nil && !bs.Session.IsAuthenticated() {
			// Tokens are valid but the session lagged behind, e.g. sign-in
			// finished in another tab sharing the cookie.
			_ = bs.Session.SignedIn(profile)
		}

		if profile == nil || !bs.Session.IsAuthenticated() {
			return reject(c, cfg)
		}

		c.Locals(cfg.ContextKey, profile)
		return c.Next()
	}
}

// reject remembers the denied route and redirects to login. A rendered
// fragment of protected content is never produced for anonymous requests.
func reject(c *fiber.Ctx, cfg Config) error {
	if cfg.ErrorHandler != nil {
		return cfg.ErrorHandler(c)
	}

	c.Cookie(&fiber.Cookie{
		Name:     cfg.RejectedRouteCookie,
		Value:    c.OriginalURL(),
		Expires:  time.Now().Add(5 * time.Minute),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})

	status := http.StatusSeeOther
	if c.Method() == fiber.MethodGet {
		status = http.StatusFound
	}
	return c.Redirect(cfg.LoginPath, status)
}
