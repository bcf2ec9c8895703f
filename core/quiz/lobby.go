package quiz

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/fads122/kodigrow-remake/core"
)

// LobbyState is the lobby watcher's lifecycle state.
type LobbyState int

const (
	LobbyLoading LobbyState = iota
	LobbyWaiting
	LobbyTransitioning
	LobbyError
)

func (s LobbyState) String() string {
	switch s {
	case LobbyLoading:
		return "loading"
	case LobbyWaiting:
		return "waiting"
	case LobbyTransitioning:
		return "transitioning"
	case LobbyError:
		return "error"
	}
	return "unknown"
}

// LobbyCallbacks are invoked from the watcher's event loop; they must not block.
type LobbyCallbacks struct {
	// OnRoster receives the full authoritative roster, re-fetched on every
	// participant change. No deltas are applied: the transport's ordering
	// guarantees across channels are too weak to make them safe.
	OnRoster func(roster []Participant)

	// OnActive fires exactly once, when the session status is first observed
	// as active. Ownership of the student passes to the exam flow.
	OnActive func(sessionID string)

	// OnError reports a fatal watcher error (the session row vanished).
	OnError func(err error)
}

// LobbyWatcher seats a student in a session's waiting lobby: it keeps the
// roster fresh from participant change events and hands off to the exam when
// the owning professor activates the session.
//
// Stop must be called on teardown; it releases both realtime subscriptions.
type LobbyWatcher struct {
	sessionID string
	svc       Service
	cb        LobbyCallbacks

	partSub *core.Subscription
	sessSub *core.Subscription

	mu           sync.Mutex
	state        LobbyState
	transitioned bool
	stopped      bool
	done         chan struct{}
}

// WatchLobby loads the session and roster, delivers the initial roster and
// starts watching for changes. It fails fast when the session cannot be read
// (ErrNotFound) or a subscription cannot be established (ErrSubscription).
func WatchLobby(ctx context.Context, svc Service, broker core.Broker, sessionID string, cb LobbyCallbacks) (*LobbyWatcher, error) {
	w := &LobbyWatcher{
		sessionID: sessionID,
		svc:       svc,
		cb:        cb,
		state:     LobbyLoading,
		done:      make(chan struct{}),
	}

	sess, err := svc.GetSession(ctx, sessionID)
	if err != nil {
		w.state = LobbyError
		return nil, errors.Wrap(err, "fetching lobby session")
	}
	roster, err := svc.Roster(ctx, sessionID)
	if err != nil {
		w.state = LobbyError
		return nil, errors.Wrap(err, "fetching lobby roster")
	}

	if w.partSub, err = broker.Subscribe(TableParticipants, "session_id", sessionID); err != nil {
		w.state = LobbyError
		return nil, errors.WithMessage(ErrSubscription, err.Error())
	}
	if w.sessSub, err = broker.Subscribe(TableSessions, "id", sessionID); err != nil {
		w.partSub.Close()
		w.state = LobbyError
		return nil, errors.WithMessage(ErrSubscription, err.Error())
	}

	w.state = LobbyWaiting
	if cb.OnRoster != nil {
		cb.OnRoster(roster)
	}

	go w.loop()

	// the professor may have started the session between fetch and subscribe
	if sess.Status == StatusActive {
		w.transition()
	}
	return w, nil
}

// State reports the watcher's current lifecycle state.
func (w *LobbyWatcher) State() LobbyState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Stop tears the watcher down, releasing both subscriptions.
// No callback is invoked after Stop returns; stopping twice is a no-op.
func (w *LobbyWatcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.done)
	w.mu.Unlock()

	w.partSub.Close()
	w.sessSub.Close()
}

func (w *LobbyWatcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case _, ok := <-w.partSub.C:
			if !ok {
				return
			}
			w.refreshRoster()
		case _, ok := <-w.sessSub.C:
			if !ok {
				return
			}
			w.refreshSession()
		}
	}
}

// refreshRoster re-pulls the full participant list. Transient fetch errors
// are skipped; the next change event re-pulls again.
func (w *LobbyWatcher) refreshRoster() {
	roster, err := w.svc.Roster(context.Background(), w.sessionID)
	if err != nil {
		return
	}

	w.mu.Lock()
	blocked := w.stopped || w.transitioned
	w.mu.Unlock()
	if blocked || w.cb.OnRoster == nil {
		return
	}
	w.cb.OnRoster(roster)
}

// refreshSession re-reads the session row and transitions when it has become
// active. A vanished session is fatal to the lobby.
func (w *LobbyWatcher) refreshSession() {
	sess, err := w.svc.GetSession(context.Background(), w.sessionID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			w.fail(err)
		}
		return
	}
	if sess.Status == StatusActive {
		w.transition()
	}
}

// transition fires the one-shot handoff to the exam. Repeated "active"
// notifications after the first are ignored.
func (w *LobbyWatcher) transition() {
	w.mu.Lock()
	if w.transitioned || w.stopped {
		w.mu.Unlock()
		return
	}
	w.transitioned = true
	w.state = LobbyTransitioning
	w.mu.Unlock()

	if w.cb.OnActive != nil {
		w.cb.OnActive(w.sessionID)
	}
	w.Stop()
}

func (w *LobbyWatcher) fail(err error) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.state = LobbyError
	w.mu.Unlock()

	if w.cb.OnError != nil {
		w.cb.OnError(err)
	}
	w.Stop()
}
