package echoapi

import (
	"context"
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/fads122/kodigrow-remake/core"
	"github.com/fads122/kodigrow-remake/core/quiz"
	"github.com/fads122/kodigrow-remake/core/user"
)

type (
	Options struct {
		Conf           *core.Config
		Logger         core.Logger
		DisableReqLogs bool

		UserSvc    user.Service
		QuizSvc    quiz.Service
		Broker     core.Broker
		Validate   *validator.Validate
		Translator ut.Translator
	}

	Server interface {
		http.Handler
		Start()
		Stop(context.Context) error
		Errors() <-chan error
	}

	server struct {
		opts   *Options
		app    *echo.Echo
		errors chan error
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	s := &server{
		opts:   opts,
		app:    echo.New(),
		errors: make(chan error, 1),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	conf := s.opts.Conf

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.opts.Translator, s.ShutdownSignal())
	s.app.Debug = conf.Debug

	s.app.GET("/", home(conf))

	v1 := s.app.Group("/v1")
	jwtCfg := newAppJWTConfig(conf)
	jwt := middleware.JWTWithConfig(jwtCfg)

	registerUserAPI(v1, jwt, s.opts)
	registerQuizAPI(v1, jwt, s.opts)
}

func (s *server) Start() {
	s.errors <- s.app.Start(s.opts.Conf.Server.Address())
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

// Errors reports the fatal server error; a shutdown signal also lands here.
func (s *server) Errors() <-chan error {
	return s.errors
}

// ShutdownSignal returns a func that signals the app to gracefully shut down.
func (s *server) ShutdownSignal() func() {
	return func() {
		s.errors <- core.NewShutdownError("shutdown signaled")
	}
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(conf *core.Config) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		return ctx.String(http.StatusOK, "Welcome to "+conf.AppName+" API!")
	}
}
