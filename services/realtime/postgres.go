package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/fads122/kodigrow-remake/core"
	"github.com/fads122/kodigrow-remake/storage/database"
)

// NotifyChannel is the pg_notify channel the row change triggers publish on.
const NotifyChannel = "kodigrow_changes"

const (
	listenerMinReconnect = 2 * time.Second
	listenerMaxReconnect = time.Minute
	listenerPingInterval = 90 * time.Second
)

// notifyPayload mirrors the JSON built by the notify_row_change trigger.
type notifyPayload struct {
	Table string                 `json:"table"`
	Type  string                 `json:"type"`
	Row   map[string]interface{} `json:"row"`
}

// PGListener bridges Postgres NOTIFY events into a Hub. It owns a pq.Listener
// which reconnects on its own; during an outage notifications are lost, which
// consumers tolerate by re-fetching state when the next one arrives.
type PGListener struct {
	hub      *Hub
	logger   core.Logger
	listener *pq.Listener

	done chan struct{}
	wg   sync.WaitGroup
}

func NewPGListener(conf *core.Config, hub *Hub, logger core.Logger) *PGListener {
	pgl := &PGListener{
		hub:    hub,
		logger: logger,
		done:   make(chan struct{}),
	}
	pgl.listener = pq.NewListener(database.URL(conf), listenerMinReconnect, listenerMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				logger.Error("realtime: postgres listener event", err, map[string]interface{}{"event": int(ev)})
			}
		},
	)
	return pgl
}

// Start begins listening and dispatching. It returns once the LISTEN is
// registered; dispatching continues in the background until Stop.
func (pgl *PGListener) Start() error {
	if err := pgl.listener.Listen(NotifyChannel); err != nil {
		return errors.Wrapf(err, "listening on %q", NotifyChannel)
	}
	pgl.wg.Add(1)
	go pgl.loop()
	return nil
}

// Stop closes the listener and waits for the dispatch loop to exit.
func (pgl *PGListener) Stop(ctx context.Context) error {
	close(pgl.done)
	err := pgl.listener.Close()

	stopped := make(chan struct{})
	go func() {
		pgl.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (pgl *PGListener) loop() {
	defer pgl.wg.Done()

	ping := time.NewTicker(listenerPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-pgl.done:
			return
		case n, ok := <-pgl.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// reconnect marker; state may have changed while disconnected
				continue
			}
			pgl.dispatch(n.Extra)
		case <-ping.C:
			if err := pgl.listener.Ping(); err != nil {
				pgl.logger.Error("realtime: postgres listener ping failed", err)
			}
		}
	}
}

func (pgl *PGListener) dispatch(payload string) {
	var p notifyPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		pgl.logger.Error("realtime: decoding notify payload", err)
		return
	}
	pgl.hub.Publish(core.Event{
		Table: p.Table,
		Type:  core.ChangeType(p.Type),
		Row:   p.Row,
	})
}
