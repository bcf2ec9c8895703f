package quiz_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fads122/kodigrow-remake/core"
	"github.com/fads122/kodigrow-remake/core/quiz"
	"github.com/fads122/kodigrow-remake/core/user"
	emailsvc "github.com/fads122/kodigrow-remake/services/email"
	logsvc "github.com/fads122/kodigrow-remake/services/logger"
	"github.com/fads122/kodigrow-remake/services/realtime"
	inmemdb "github.com/fads122/kodigrow-remake/storage/database/inmem"
	testutil "github.com/fads122/kodigrow-remake/tests"
)

type lobbyEnv struct {
	testEnv
	hub *realtime.Hub
}

// setupLobby wires the inmem repos to a live hub, so repo writes notify
// watchers the way committed DB rows do.
func setupLobby(t *testing.T) *lobbyEnv {
	t.Helper()

	conf := newTestConfig()
	hub := realtime.NewHub(logsvc.NewConsoleLogger())
	t.Cleanup(hub.Close)

	db := inmemdb.NewWithBroker(hub)
	quizRepo := inmemdb.NewQuizRepository(db)
	usrRepo := inmemdb.NewUserRepository(db)
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	usrSvc := user.NewServiceMock(usrRepo, mailSvc, conf)

	return &lobbyEnv{
		testEnv: testEnv{
			conf:     conf,
			db:       db,
			quizRepo: quizRepo,
			usrRepo:  usrRepo,
			svc:      quiz.NewServiceMock(quizRepo, usrSvc, mailSvc, conf),
		},
		hub: hub,
	}
}

// lobbyRecorder collects watcher callbacks for assertions.
type lobbyRecorder struct {
	mu      sync.Mutex
	rosters [][]quiz.Participant
	actives []string
	errs    []error
}

func (r *lobbyRecorder) callbacks() quiz.LobbyCallbacks {
	return quiz.LobbyCallbacks{
		OnRoster: func(roster []quiz.Participant) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.rosters = append(r.rosters, roster)
		},
		OnActive: func(sessionID string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.actives = append(r.actives, sessionID)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func (r *lobbyRecorder) activeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actives)
}

func (r *lobbyRecorder) rosterCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rosters)
}

func (r *lobbyRecorder) lastRoster() []quiz.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rosters) == 0 {
		return nil
	}
	return r.rosters[len(r.rosters)-1]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func Test_WatchLobby_initialRoster(t *testing.T) {
	env := setupLobby(t)
	prof := env.professor(t)
	sess := testutil.CreateSession(t, env.quizRepo, "ABC123", prof, testCourseID, "Midterm", quiz.StatusWaiting)
	testutil.CreateParticipant(t, env.quizRepo, sess, env.student(t, "hero"))

	rec := new(lobbyRecorder)
	w, err := quiz.WatchLobby(context.Background(), env.svc, env.hub, sess.ID, rec.callbacks())
	require.NoError(t, err)
	defer w.Stop()

	assert.Equal(t, quiz.LobbyWaiting, w.State())
	require.Equal(t, 1, rec.rosterCount())
	assert.Len(t, rec.lastRoster(), 1)
}

func Test_WatchLobby_unknownSession(t *testing.T) {
	env := setupLobby(t)

	rec := new(lobbyRecorder)
	_, err := quiz.WatchLobby(context.Background(), env.svc, env.hub, "nope", rec.callbacks())
	require.Error(t, err)
}

func Test_WatchLobby_rosterRefetch(t *testing.T) {
	env := setupLobby(t)
	prof := env.professor(t)
	sess := testutil.CreateSession(t, env.quizRepo, "ABC123", prof, testCourseID, "Midterm", quiz.StatusWaiting)

	rec := new(lobbyRecorder)
	w, err := quiz.WatchLobby(context.Background(), env.svc, env.hub, sess.ID, rec.callbacks())
	require.NoError(t, err)
	defer w.Stop()

	testutil.CreateParticipant(t, env.quizRepo, sess, env.student(t, "hero"))
	waitFor(t, func() bool { return rec.rosterCount() >= 2 && len(rec.lastRoster()) == 1 })

	testutil.CreateParticipant(t, env.quizRepo, sess, env.student(t, "king"))
	waitFor(t, func() bool { return len(rec.lastRoster()) == 2 })
}

func Test_WatchLobby_ignoresOtherSessions(t *testing.T) {
	env := setupLobby(t)
	prof := env.professor(t)
	sess := testutil.CreateSession(t, env.quizRepo, "ABC123", prof, testCourseID, "Midterm", quiz.StatusWaiting)
	other := testutil.CreateSession(t, env.quizRepo, "XYZ789", prof, testCourseID, "Final", quiz.StatusWaiting)

	rec := new(lobbyRecorder)
	w, err := quiz.WatchLobby(context.Background(), env.svc, env.hub, sess.ID, rec.callbacks())
	require.NoError(t, err)
	defer w.Stop()

	testutil.CreateParticipant(t, env.quizRepo, other, env.student(t, "hero"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.rosterCount()) // only the initial roster
}

func Test_WatchLobby_oneShotHandoff(t *testing.T) {
	env := setupLobby(t)
	prof := env.professor(t)
	sess := testutil.CreateSession(t, env.quizRepo, "ABC123", prof, testCourseID, "Midterm", quiz.StatusWaiting)

	// several students watch the same lobby
	recs := make([]*lobbyRecorder, 3)
	for i := range recs {
		recs[i] = new(lobbyRecorder)
		w, err := quiz.WatchLobby(context.Background(), env.svc, env.hub, sess.ID, recs[i].callbacks())
		require.NoError(t, err)
		defer w.Stop()
	}

	_, err := env.svc.Start(context.Background(), sess.ID, prof)
	require.NoError(t, err)

	// duplicate notifications must not re-fire the handoff
	env.hub.Publish(core.Event{
		Table: quiz.TableSessions,
		Type:  core.ChangeUpdate,
		Row:   map[string]interface{}{"id": sess.ID, "quiz_code": sess.QuizCode, "status": quiz.StatusActive},
	})

	for _, rec := range recs {
		rec := rec
		waitFor(t, func() bool { return rec.activeCount() >= 1 })
	}
	time.Sleep(50 * time.Millisecond)
	for _, rec := range recs {
		assert.Equal(t, 1, rec.activeCount(), "OnActive must fire exactly once")
	}
}

func Test_WatchLobby_alreadyActive(t *testing.T) {
	env := setupLobby(t)
	prof := env.professor(t)
	sess := testutil.CreateSession(t, env.quizRepo, "ABC123", prof, testCourseID, "Midterm", quiz.StatusActive)

	rec := new(lobbyRecorder)
	w, err := quiz.WatchLobby(context.Background(), env.svc, env.hub, sess.ID, rec.callbacks())
	require.NoError(t, err)
	defer w.Stop()

	waitFor(t, func() bool { return rec.activeCount() == 1 })
	assert.Equal(t, quiz.LobbyTransitioning, w.State())
}

func Test_WatchLobby_stop(t *testing.T) {
	env := setupLobby(t)
	prof := env.professor(t)
	sess := testutil.CreateSession(t, env.quizRepo, "ABC123", prof, testCourseID, "Midterm", quiz.StatusWaiting)

	rec := new(lobbyRecorder)
	w, err := quiz.WatchLobby(context.Background(), env.svc, env.hub, sess.ID, rec.callbacks())
	require.NoError(t, err)

	w.Stop()
	w.Stop() // stopping twice is a no-op

	// no callbacks after Stop
	testutil.CreateParticipant(t, env.quizRepo, sess, env.student(t, "hero"))
	_, err = env.svc.Start(context.Background(), sess.ID, prof)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.rosterCount())
	assert.Zero(t, rec.activeCount())
}
