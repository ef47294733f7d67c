package main

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/django/v3"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"

	"github.com/parkside-apps/userpool"
	"github.com/parkside-apps/userpool/middleware/guard"
)

//go:embed views
var viewsFS embed.FS

type config struct {
	Addr  string `env:"USERPOOL_ADDR" envDefault:":8572"`
	Debug bool   `env:"USERPOOL_DEBUG" envDefault:"false"`

	Region          string   `env:"USERPOOL_REGION"           envDefault:"us-east-1"`
	UserPoolID      string   `env:"USERPOOL_POOL_ID"`
	ClientID        string   `env:"USERPOOL_CLIENT_ID"`
	ClientSecret    string   `env:"USERPOOL_CLIENT_SECRET"`
	HostedDomain    string   `env:"USERPOOL_HOSTED_DOMAIN"`
	RedirectSignIn  string   `env:"USERPOOL_REDIRECT_SIGNIN"  envDefault:"http://localhost:8572/callback"`
	RedirectSignOut string   `env:"USERPOOL_REDIRECT_SIGNOUT" envDefault:"http://localhost:8572/"`
	Scopes          []string `env:"USERPOOL_SCOPES"           envSeparator:","`

	SessionMaxIdle time.Duration `env:"USERPOOL_SESSION_MAX_IDLE" envDefault:"12h"`
	SweepEvery     time.Duration `env:"USERPOOL_SWEEP_EVERY"      envDefault:"10m"`

	// Endpoint overrides are for local pool emulators.
	Endpoint      string `env:"USERPOOL_ENDPOINT"`
	TokenEndpoint string `env:"USERPOOL_TOKEN_ENDPOINT"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	level := glog.Info
	if cfg.Debug {
		level = glog.Debug
	}

	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(level),
		glog.WithName("userpool"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)

	poolCfg := userpool.Config{
		Region:          cfg.Region,
		UserPoolID:      cfg.UserPoolID,
		ClientID:        cfg.ClientID,
		ClientSecret:    cfg.ClientSecret,
		HostedDomain:    cfg.HostedDomain,
		RedirectSignIn:  cfg.RedirectSignIn,
		RedirectSignOut: cfg.RedirectSignOut,
		Scopes:          cfg.Scopes,
		Endpoint:        cfg.Endpoint,
		TokenEndpoint:   cfg.TokenEndpoint,
	}

	gateway := userpool.NewCognitoGateway(poolCfg,
		userpool.WithGatewayLogger(lgr.GetLogger("gateway")),
	)

	validator := userpool.NewValidator(
		userpool.WithRefresher(gateway),
		userpool.WithValidatorLogger(lgr.GetLogger("validator")),
	)

	sessions := userpool.NewBrowserSessions(
		userpool.WithSessionOptions(
			userpool.WithSessionLogger(lgr.GetLogger("session")),
		),
	)

	controller := userpool.NewController(
		userpool.WithControllerGateway(gateway),
		userpool.WithControllerSessions(sessions),
		userpool.WithControllerValidator(validator),
		userpool.WithControllerLogger(lgr.GetLogger("http")),
		userpool.WithControllerDebug(cfg.Debug),
	)

	protect := guard.New(guard.Config{
		Resolve:   controller.BrowserSession,
		Validator: validator,
		LoginPath: controller.Routes.Login,
	})

	templates, err := fs.Sub(viewsFS, "views")
	if err != nil {
		panic(err)
	}
	engine := django.NewFileSystem(http.FS(templates), ".html")

	app := fiber.New(fiber.Config{
		Views:             engine,
		EnablePrintRoutes: cfg.Debug,
	})

	userpool.RegisterRoutes(app, controller, protect)

	done := make(chan struct{})
	go sweepSessions(sessions, cfg, lgr.GetLogger("sweep"), done)

	go func() {
		if err := app.Listen(cfg.Addr); err != nil {
			lgr.GetLogger("server").Error("server stopped", "error", err)
		}
	}()

	waitExitSignal()
	close(done)

	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		lgr.GetLogger("server").Error("shutdown", "error", err)
	}
}

// sweepSessions reclaims server-side state for browser sessions whose cookie
// is long gone. The browser never tells us it closed; idle time is the signal.
func sweepSessions(sessions *userpool.BrowserSessions, cfg config, logger glog.Logger, done <-chan struct{}) {
	ticker := time.NewTicker(cfg.SweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if dropped := sessions.Sweep(cfg.SessionMaxIdle); dropped > 0 {
				logger.Info("swept idle browser sessions", "dropped", dropped, "live", sessions.Len())
			}
		}
	}
}

func waitExitSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
