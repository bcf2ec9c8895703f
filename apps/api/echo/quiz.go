package echoapi

import (
	"net/http"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/fads122/kodigrow-remake/core"
	"github.com/fads122/kodigrow-remake/core/quiz"
	"github.com/fads122/kodigrow-remake/core/user"
)

type quizApi struct {
	conf       *core.Config
	logger     core.Logger
	svc        quiz.Service
	usrSvc     user.Service
	broker     core.Broker
	validate   *validator.Validate
	translator ut.Translator
}

func registerQuizAPI(g *echo.Group, jwt echo.MiddlewareFunc, opts *Options) {
	api := quizApi{
		conf:       opts.Conf,
		logger:     opts.Logger,
		svc:        opts.QuizSvc,
		usrSvc:     opts.UserSvc,
		broker:     opts.Broker,
		validate:   opts.Validate,
		translator: opts.Translator,
	}

	qg := g.Group("/quiz", jwt)

	qg.POST("/questions", api.createQuestion, professorMiddleware())
	qg.GET("/questions", api.queryQuestions, professorMiddleware())

	qg.POST("/enter", api.enter, studentMiddleware())
	qg.GET("/lobby/:id", api.lobby, studentMiddleware())

	sg := qg.Group("/sessions/:id")
	sg.GET("", api.retrieveSession)
	sg.GET("/roster", api.roster)
	sg.POST("/start", api.startSession, professorMiddleware())
	sg.POST("/end", api.endSession, professorMiddleware())
}

// Handlers

func (api *quizApi) createQuestion(ctx echo.Context) error {
	var data quiz.NewQuestion
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuestion")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	q, err := api.svc.CreateQuestion(ctx.Request().Context(), ctxUsr, data)
	if err != nil {
		return errors.Wrap(err, "creating question")
	}
	return ctx.JSON(http.StatusCreated, q)
}

// queryQuestions lists the calling professor's questions; `?code=` narrows
// the list down to one quiz run.
func (api *quizApi) queryQuestions(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var questions []quiz.Question
	if code := ctx.QueryParam("code"); code != "" {
		questions, err = api.svc.QueryQuestionsByCode(ctx.Request().Context(), code)
	} else {
		questions, err = api.svc.QueryQuestionsByProfessor(ctx.Request().Context(), claims.Subject)
	}
	if err != nil {
		return errors.Wrap(err, "querying questions")
	}
	if questions == nil {
		questions = []quiz.Question{}
	}
	return ctx.JSON(http.StatusOK, questions)
}

// enter resolves the session behind a quiz code and seats the student in it.
func (api *quizApi) enter(ctx echo.Context) error {
	var data quiz.EnterQuiz
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EnterQuiz")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	sess, err := api.svc.Resolve(ctx.Request().Context(), data.QuizCode)
	if err != nil {
		return err
	}
	p, err := api.svc.Join(ctx.Request().Context(), sess.ID, ctxUsr)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, EnterResponse{Session: sess, Participant: p})
}

func (api *quizApi) retrieveSession(ctx echo.Context) error {
	sess, err := api.svc.GetSession(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *quizApi) roster(ctx echo.Context) error {
	roster, err := api.svc.Roster(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	if roster == nil {
		roster = []quiz.Participant{}
	}
	return ctx.JSON(http.StatusOK, roster)
}

func (api *quizApi) startSession(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	sess, err := api.svc.Start(ctx.Request().Context(), ctx.Param("id"), ctxUsr)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *quizApi) endSession(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	sess, err := api.svc.End(ctx.Request().Context(), ctx.Param("id"), ctxUsr)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess)
}

// Websocket lobby

var lobbyUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	lobbyWriteWait  = 10 * time.Second
	lobbyPongWait   = 60 * time.Second
	lobbyPingPeriod = (lobbyPongWait * 9) / 10
	lobbySendBuffer = 8
)

type (
	lobbyFrame struct {
		Type      string             `json:"type"` // roster | session_active | error
		SessionID string             `json:"session_id,omitempty"`
		Roster    []quiz.Participant `json:"roster,omitempty"`
		Error     string             `json:"error,omitempty"`
	}

	EnterResponse struct {
		Session     quiz.Session     `json:"session"`
		Participant quiz.Participant `json:"participant"`
	}
)

// lobby upgrades to a websocket and streams the session's waiting room: the
// full roster on every membership change, then a final session_active frame
// when the professor launches the exam.
func (api *quizApi) lobby(ctx echo.Context) error {
	sessionID := ctx.Param("id")

	conn, err := lobbyUpgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return errors.Wrap(err, "upgrading lobby connection")
	}

	send := make(chan lobbyFrame, lobbySendBuffer)
	enqueue := func(f lobbyFrame) {
		select {
		case send <- f:
		default:
			// the write pump is stuck; the read pump will reap the conn
			api.logger.Warn("lobby: dropping frame for slow client", map[string]interface{}{
				"session_id": sessionID, "type": f.Type,
			})
		}
	}

	watcher, err := quiz.WatchLobby(ctx.Request().Context(), api.svc, api.broker, sessionID, quiz.LobbyCallbacks{
		OnRoster: func(roster []quiz.Participant) {
			enqueue(lobbyFrame{Type: "roster", SessionID: sessionID, Roster: roster})
		},
		OnActive: func(sessionID string) {
			enqueue(lobbyFrame{Type: "session_active", SessionID: sessionID})
		},
		OnError: func(err error) {
			enqueue(lobbyFrame{Type: "error", SessionID: sessionID, Error: err.Error()})
		},
	})
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, errors.Cause(err).Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(lobbyWriteWait))
		_ = conn.Close()
		return nil
	}

	go api.lobbyWritePump(conn, watcher, send)
	go api.lobbyReadPump(conn, watcher)
	return nil
}

// lobbyWritePump owns all writes on conn. It exits when the watcher hands off
// or fails, closing the connection behind it.
func (api *quizApi) lobbyWritePump(conn *websocket.Conn, watcher *quiz.LobbyWatcher, send <-chan lobbyFrame) {
	ping := time.NewTicker(lobbyPingPeriod)
	defer func() {
		ping.Stop()
		watcher.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case frame := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(lobbyWriteWait))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
			// the lobby's job ends at handoff or failure
			if frame.Type == "session_active" || frame.Type == "error" {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, frame.Type)
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(lobbyWriteWait))
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(lobbyWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// lobbyReadPump discards client messages and reaps the watcher when the
// client goes away.
func (api *quizApi) lobbyReadPump(conn *websocket.Conn, watcher *quiz.LobbyWatcher) {
	defer watcher.Stop()

	_ = conn.SetReadDeadline(time.Now().Add(lobbyPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(lobbyPongWait))
	})
	conn.SetReadLimit(512)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
