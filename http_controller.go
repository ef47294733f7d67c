package userpool

import (
	"errors"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
)

const (
	// DefaultSessionCookie identifies the browser session. It carries no
	// expiry, so the browser drops it when the session ends and the server
	// side token store is orphaned for the sweeper to reclaim.
	DefaultSessionCookie = "sid"

	// DefaultRejectedRouteCookie remembers the route an anonymous request was
	// turned away from, so login can send the user back there.
	DefaultRejectedRouteCookie = "rejected_route"

	// DefaultContextKey is the locals key the guard stores the profile under.
	DefaultContextKey = "user"
)

// Password reset stages rendered by the password_reset view.
const (
	ResetInit     = "reset_init"
	ResetCodeSent = "reset_code_sent"
	ResetDone     = "reset_done"
)

type ControllerRoutes struct {
	Landing       string
	Login         string
	HostedLogin   string
	Logout        string
	Register      string
	Confirm       string
	ConfirmResend string
	Callback      string
	Dashboard     string
	PasswordReset string
}

type ControllerViews struct {
	Landing       string
	Login         string
	Register      string
	Confirm       string
	Callback      string
	Dashboard     string
	PasswordReset string
}

// Controller serves the HTML pages of the sign-up and sign-in flows. Every
// handler locates the browser session first, so a page is never rendered
// against an unresolved session.
type Controller struct {
	Debug               bool
	Logger              Logger
	Gateway             Gateway
	Sessions            *BrowserSessions
	Validator           *Validator
	Routes              *ControllerRoutes
	Views               *ControllerViews
	SessionCookie       string
	RejectedRouteCookie string
	ContextKey          string
	ErrorHandler        func(c *fiber.Ctx, err error) error
}

type ControllerOption func(*Controller) *Controller

func WithControllerLogger(logger Logger) ControllerOption {
	return func(c *Controller) *Controller {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerGateway(gateway Gateway) ControllerOption {
	return func(c *Controller) *Controller {
		c.Gateway = gateway
		return c
	}
}

func WithControllerSessions(sessions *BrowserSessions) ControllerOption {
	return func(c *Controller) *Controller {
		c.Sessions = sessions
		return c
	}
}

func WithControllerValidator(validator *Validator) ControllerOption {
	return func(c *Controller) *Controller {
		c.Validator = validator
		return c
	}
}

func WithControllerDebug(debug bool) ControllerOption {
	return func(c *Controller) *Controller {
		c.Debug = debug
		return c
	}
}

func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{
		Logger:              defLogger{},
		ErrorHandler:        defaultErrHandler,
		SessionCookie:       DefaultSessionCookie,
		RejectedRouteCookie: DefaultRejectedRouteCookie,
		ContextKey:          DefaultContextKey,
		Routes: &ControllerRoutes{
			Landing:       "/",
			Login:         "/login",
			HostedLogin:   "/login/hosted",
			Logout:        "/logout",
			Register:      "/register",
			Confirm:       "/confirm",
			ConfirmResend: "/confirm/resend",
			Callback:      "/callback",
			Dashboard:     "/dashboard",
			PasswordReset: "/password-reset",
		},
		Views: &ControllerViews{
			Landing:       "index",
			Login:         "login",
			Register:      "register",
			Confirm:       "confirm",
			Callback:      "callback",
			Dashboard:     "dashboard",
			PasswordReset: "password_reset",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Gateway == nil {
		panic("Missing Gateway in userpool controller...")
	}

	if c.Sessions == nil {
		panic("Missing BrowserSessions in userpool controller...")
	}

	if c.Validator == nil {
		panic("Missing Validator in userpool controller...")
	}

	return c
}

// RegisterRoutes mounts the controller. Routes behind protect require an
// authenticated session.
func RegisterRoutes(app *fiber.App, controller *Controller, protect fiber.Handler) {
	app.Get(controller.Routes.Landing, controller.LandingShow).Name("landing.get")

	app.Get(controller.Routes.Login, controller.LoginShow).Name("sign-in.get")
	app.Post(controller.Routes.Login, controller.LoginPost).Name("sign-in.post")
	app.Get(controller.Routes.HostedLogin, controller.HostedLogin).Name("sign-in.hosted")

	app.Get(controller.Routes.Logout, controller.LogOut).Name("sign-out.get")

	app.Get(controller.Routes.Register, controller.RegistrationShow).Name("register.get")
	app.Post(controller.Routes.Register, controller.RegistrationCreate).Name("register.post")

	app.Get(controller.Routes.Confirm, controller.ConfirmShow).Name("confirm.get")
	app.Post(controller.Routes.Confirm, controller.ConfirmPost).Name("confirm.post")
	app.Post(controller.Routes.ConfirmResend, controller.ConfirmResend).Name("confirm.resend")

	app.Get(controller.Routes.Callback, controller.Callback).Name("callback.get")

	app.Get(controller.Routes.PasswordReset, controller.PasswordResetShow).Name("pwd-reset.get")
	app.Post(controller.Routes.PasswordReset, controller.PasswordResetPost).Name("pwd-reset.post")

	if protect != nil {
		app.Get(controller.Routes.Dashboard, protect, controller.DashboardShow).Name("dashboard.get")
	} else {
		app.Get(controller.Routes.Dashboard, controller.DashboardShow).Name("dashboard.get")
	}
}

// BrowserSession returns the request's browser session, creating one and
// setting the session cookie when none exists. A session still initializing is
// resolved here, before any handler renders against it.
func (a *Controller) BrowserSession(c *fiber.Ctx) *BrowserSession {
	if id := c.Cookies(a.SessionCookie); id != "" {
		if bs, ok := a.Sessions.Lookup(id); ok {
			return a.resolveIfLoading(c, bs)
		}
	}

	bs := a.Sessions.Create()
	c.Cookie(&fiber.Cookie{
		Name:        a.SessionCookie,
		Value:       bs.ID,
		HTTPOnly:    true,
		Secure:      true,
		SameSite:    "Lax",
		SessionOnly: true,
	})

	return a.resolveIfLoading(c, bs)
}

func (a *Controller) resolveIfLoading(c *fiber.Ctx, bs *BrowserSession) *BrowserSession {
	if !bs.Session.IsLoading() {
		return bs
	}

	profile := a.Validator.CheckSession(c.UserContext(), bs.Tokens)
	if err := bs.Session.Resolve(profile); err != nil {
		a.Logger.Error("failed to resolve session: ", "error", err)
	}

	return bs
}

func (a *Controller) LandingShow(c *fiber.Ctx) error {
	bs := a.BrowserSession(c)
	return c.Render(a.Views.Landing, fiber.Map{
		"user":   bs.Session.User(),
		"routes": a.Routes,
	})
}

func (a *Controller) LoginShow(c *fiber.Ctx) error {
	bs := a.BrowserSession(c)
	if bs.Session.IsAuthenticated() {
		return c.Redirect(a.Routes.Dashboard, fiber.StatusSeeOther)
	}

	return c.Render(a.Views.Login, fiber.Map{
		"errors": nil,
		"record": nil,
		"routes": a.Routes,
	})
}

// LoginRequest payload
type LoginRequest struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Username,
			validation.Required,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

func (a *Controller) LoginPost(c *fiber.Ctx) error {
	bs := a.BrowserSession(c)
	payload := new(LoginRequest)

	if err := c.BodyParser(payload); err != nil {
		a.Logger.Error("login parse payload: ", "error", err)
		return c.Status(fiber.StatusBadRequest).Render(a.Views.Login, fiber.Map{
			"errors": map[string]string{"form": "Failed to parse form"},
			"record": payload,
			"routes": a.Routes,
		})
	}

	if err := payload.Validate(); err != nil {
		return c.Render(a.Views.Login, fiber.Map{
			"record":     payload,
			"validation": FormatValidationErrorToMap(err),
			"routes":     a.Routes,
		})
	}

	profile, err := a.Gateway.SignIn(c.UserContext(), bs.Tokens, payload.Username, payload.Password)
	if err != nil {
		message := userMessage(err)
		bs.Session.RecordFailure(message)
		a.Logger.Info("login rejected: ", "username", payload.Username, "error", err)
		return c.Status(fiber.StatusUnauthorized).Render(a.Views.Login, fiber.Map{
			"errors": map[string]string{"authentication": message},
			"record": payload,
			"routes": a.Routes,
		})
	}

	if err := bs.Session.SignedIn(profile); err != nil {
		return a.ErrorHandler(c, err)
	}

	return c.Redirect(a.redirectTarget(c), fiber.StatusSeeOther)
}

// HostedLogin hands the browser off to the provider's hosted login page. The
// flow resumes on the callback route.
func (a *Controller) HostedLogin(c *fiber.Ctx) error {
	target := a.Gateway.HostedSignInURL()
	if target == "" {
		return c.Render(a.Views.Login, fiber.Map{
			"errors": map[string]string{"hosted": "Hosted login is not configured"},
			"record": nil,
			"routes": a.Routes,
		})
	}
	return c.Redirect(target, fiber.StatusFound)
}

func (a *Controller) LogOut(c *fiber.Ctx) error {
	bs := a.BrowserSession(c)

	a.Gateway.SignOut(bs.Tokens)
	if err := bs.Session.SignedOut(); err != nil {
		a.Logger.Error("sign out transition: ", "error", err)
	}

	a.Sessions.Drop(bs.ID)
	cookieDel(c, a.SessionCookie)

	if target := a.Gateway.HostedSignOutURL(); target != "" {
		return c.Redirect(target, fiber.StatusFound)
	}
	return c.Redirect(a.Routes.Landing, fiber.StatusSeeOther)
}

func (a *Controller) RegistrationShow(c *fiber.Ctx) error {
	a.BrowserSession(c)
	return c.Render(a.Views.Register, fiber.Map{
		"errors": map[string]string{},
		"record": RegistrationCreatePayload{},
		"routes": a.Routes,
	})
}

// RegistrationCreatePayload is the form payload
type RegistrationCreatePayload struct {
	Username        string `form:"username" json:"username"`
	Email           string `form:"email" json:"email"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r RegistrationCreatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(1, 128)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 99)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.Length(8, 99),
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *Controller) RegistrationCreate(c *fiber.Ctx) error {
	a.BrowserSession(c)
	payload := new(RegistrationCreatePayload)

	if err := c.BodyParser(payload); err != nil {
		a.Logger.Error("register user parse payload: ", "error", err)
		return c.Status(fiber.StatusBadRequest).Render(a.Views.Register, fiber.Map{
			"errors": map[string]string{"form": "Failed to parse form"},
			"record": payload,
			"routes": a.Routes,
		})
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("register user validate payload: ", "error", err)
		return c.Render(a.Views.Register, fiber.Map{
			"record":     payload,
			"validation": FormatValidationErrorToMap(err),
			"routes":     a.Routes,
		})
	}

	userSub, err := a.Gateway.Register(c.UserContext(), payload.Username, payload.Password, payload.Email)
	if err != nil {
		a.Logger.Error("register user: ", "error", err)
		return c.Render(a.Views.Register, fiber.Map{
			"errors": map[string]string{"registration": userMessage(err)},
			"record": payload,
			"routes": a.Routes,
		})
	}

	a.Logger.Info("user registered: ", "username", payload.Username, "sub", userSub)

	return c.Redirect(a.Routes.Confirm+"?username="+url.QueryEscape(payload.Username), fiber.StatusSeeOther)
}

func (a *Controller) ConfirmShow(c *fiber.Ctx) error {
	a.BrowserSession(c)
	return c.Render(a.Views.Confirm, fiber.Map{
		"errors": map[string]string{},
		"record": ConfirmPayload{Username: c.Query("username")},
		"routes": a.Routes,
	})
}

// ConfirmPayload carries the emailed confirmation code
type ConfirmPayload struct {
	Username string `form:"username" json:"username"`
	Code     string `form:"code" json:"code"`
}

// Validate will validate the payload
func (r ConfirmPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Code, validation.Required, validation.Length(6, 6), is.Digit),
	)
}

func (a *Controller) ConfirmPost(c *fiber.Ctx) error {
	a.BrowserSession(c)
	payload := new(ConfirmPayload)

	if err := c.BodyParser(payload); err != nil {
		a.Logger.Error("confirm parse payload: ", "error", err)
		return c.Status(fiber.StatusBadRequest).Render(a.Views.Confirm, fiber.Map{
			"errors": map[string]string{"form": "Failed to parse form"},
			"record": payload,
			"routes": a.Routes,
		})
	}

	if err := payload.Validate(); err != nil {
		return c.Render(a.Views.Confirm, fiber.Map{
			"record":     payload,
			"validation": FormatValidationErrorToMap(err),
			"routes":     a.Routes,
		})
	}

	if err := a.Gateway.ConfirmRegistration(c.UserContext(), payload.Username, payload.Code); err != nil {
		a.Logger.Error("confirm registration: ", "error", err)
		return c.Render(a.Views.Confirm, fiber.Map{
			"errors": map[string]string{"confirmation": userMessage(err)},
			"record": payload,
			"routes": a.Routes,
		})
	}

	return c.Redirect(a.Routes.Login, fiber.StatusSeeOther)
}

// ConfirmResend asks the provider for a fresh code. Failures render inline and
// the page stays usable; resending never aborts the confirmation flow.
func (a *Controller) ConfirmResend(c *fiber.Ctx) error {
	a.BrowserSession(c)
	username := c.FormValue("username")

	if username == "" {
		return c.Render(a.Views.Confirm, fiber.Map{
			"errors": map[string]string{"resend": "Username is required"},
			"record": ConfirmPayload{},
			"routes": a.Routes,
		})
	}

	if err := a.Gateway.ResendConfirmationCode(c.UserContext(), username); err != nil {
		a.Logger.Error("resend confirmation code: ", "error", err)
		return c.Render(a.Views.Confirm, fiber.Map{
			"errors": map[string]string{"resend": userMessage(err)},
			"record": ConfirmPayload{Username: username},
			"routes": a.Routes,
		})
	}

	return c.Render(a.Views.Confirm, fiber.Map{
		"notice": "A new confirmation code is on its way",
		"record": ConfirmPayload{Username: username},
		"routes": a.Routes,
	})
}

// Callback resumes the hosted login flow. A missing code renders the error
// page without touching the gateway.
func (a *Controller) Callback(c *fiber.Ctx) error {
	bs := a.BrowserSession(c)

	code := c.Query("code")
	if code == "" {
		a.Logger.Error("callback arrived without authorization code")
		return c.Status(fiber.StatusBadRequest).Render(a.Views.Callback, fiber.Map{
			"error":  userMessage(ErrMissingAuthorizationCode),
			"routes": a.Routes,
		})
	}

	profile, err := a.Gateway.ExchangeAuthorizationCode(c.UserContext(), bs.Tokens, code)
	if err != nil {
		message := userMessage(err)
		bs.Session.RecordFailure(message)
		a.Logger.Error("authorization code exchange: ", "error", err)
		return c.Status(fiber.StatusUnauthorized).Render(a.Views.Callback, fiber.Map{
			"error":  message,
			"routes": a.Routes,
		})
	}

	if err := bs.Session.SignedIn(profile); err != nil {
		return a.ErrorHandler(c, err)
	}

	return c.Redirect(a.redirectTarget(c), fiber.StatusSeeOther)
}

func (a *Controller) DashboardShow(c *fiber.Ctx) error {
	profile, _ := c.Locals(a.ContextKey).(*UserProfile)
	return c.Render(a.Views.Dashboard, fiber.Map{
		"user":   profile,
		"routes": a.Routes,
	})
}

func (a *Controller) PasswordResetShow(c *fiber.Ctx) error {
	a.BrowserSession(c)
	return c.Render(a.Views.PasswordReset, fiber.Map{
		"errors": nil,
		"reset":  map[string]string{"stage": ResetInit},
		"routes": a.Routes,
	})
}

// PasswordResetRequestPayload holds values for password reset
type PasswordResetRequestPayload struct {
	Stage           string `form:"stage" json:"stage"`
	Username        string `form:"username" json:"username"`
	Code            string `form:"code" json:"code"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r PasswordResetRequestPayload) Validate() error {
	rules := []*validation.FieldRules{
		validation.Field(
			&r.Stage,
			validation.Required,
			validation.In(ResetInit, ResetCodeSent),
		),
		validation.Field(&r.Username, validation.Required),
	}

	if r.Stage == ResetCodeSent {
		rules = append(rules,
			validation.Field(&r.Code, validation.Required, validation.Length(6, 6), is.Digit),
			validation.Field(&r.Password, validation.Required, validation.Length(8, 99)),
			validation.Field(
				&r.ConfirmPassword,
				validation.Required,
				validation.Length(8, 99),
				validation.By(ValidateStringEquals(r.Password)),
			),
		)
	}

	return validation.ValidateStruct(&r, rules...)
}

// PasswordResetPost drives both stages of the reset flow: requesting the
// emailed code, then submitting the code with the new password.
func (a *Controller) PasswordResetPost(c *fiber.Ctx) error {
	a.BrowserSession(c)
	payload := new(PasswordResetRequestPayload)

	if err := c.BodyParser(payload); err != nil {
		a.Logger.Error("password reset parse payload: ", "error", err)
		return c.Status(fiber.StatusBadRequest).Render(a.Views.PasswordReset, fiber.Map{
			"errors": map[string]string{"form": "Failed to parse form"},
			"reset":  map[string]string{"stage": ResetInit},
			"routes": a.Routes,
		})
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("password reset validate payload: ", "error", err)
		return c.Render(a.Views.PasswordReset, fiber.Map{
			"record":     payload,
			"validation": FormatValidationErrorToMap(err),
			"reset":      map[string]string{"stage": payload.Stage, "username": payload.Username},
			"routes":     a.Routes,
		})
	}

	if payload.Stage == ResetInit {
		if err := a.Gateway.ForgotPassword(c.UserContext(), payload.Username); err != nil {
			a.Logger.Error("forgot password: ", "error", err)
			return c.Render(a.Views.PasswordReset, fiber.Map{
				"errors": map[string]string{"reset": userMessage(err)},
				"reset":  map[string]string{"stage": ResetInit, "username": payload.Username},
				"routes": a.Routes,
			})
		}

		return c.Render(a.Views.PasswordReset, fiber.Map{
			"reset":  map[string]string{"stage": ResetCodeSent, "username": payload.Username},
			"routes": a.Routes,
		})
	}

	if err := a.Gateway.ConfirmForgotPassword(c.UserContext(), payload.Username, payload.Code, payload.Password); err != nil {
		a.Logger.Error("confirm forgot password: ", "error", err)
		return c.Render(a.Views.PasswordReset, fiber.Map{
			"errors": map[string]string{"reset": userMessage(err)},
			"reset":  map[string]string{"stage": ResetCodeSent, "username": payload.Username},
			"routes": a.Routes,
		})
	}

	return c.Render(a.Views.PasswordReset, fiber.Map{
		"reset":  map[string]string{"stage": ResetDone},
		"routes": a.Routes,
	})
}

// redirectTarget returns the route remembered by the guard, falling back to
// the dashboard, and clears the cookie so it is honored once.
func (a *Controller) redirectTarget(c *fiber.Ctx) string {
	target := c.Cookies(a.RejectedRouteCookie)
	if target == "" {
		return a.Routes.Dashboard
	}
	cookieDel(c, a.RejectedRouteCookie)
	return target
}

func cookieDel(c *fiber.Ctx, name string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour),
		HTTPOnly: true,
	})
}

// userMessage extracts the provider's message so forms can show it verbatim.
func userMessage(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.Message
	}
	return err.Error()
}

// FormatValidationErrorToMap flattens an ozzo validation error into a
// field-to-message map for templates.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			out[field] = ferr.Error()
		}
		return out
	}

	out["form"] = err.Error()
	return out
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

func defaultErrHandler(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusInternalServerError).Render("errors/500", fiber.Map{
		"message": err.Error(),
	})
}
