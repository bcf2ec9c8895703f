package realtime

import (
	"sync"

	"github.com/fads122/kodigrow-remake/core"
)

// subscriber buffer size. A slow consumer drops events rather than blocking
// the publisher; consumers re-fetch state on every event so a drop only
// delays, never loses, a state change that later events also signal.
const subscriberBuffer = 16

type subscriber struct {
	table     string
	filterCol string
	filterVal string
	c         chan core.Event
}

func (s *subscriber) matches(ev core.Event) bool {
	if ev.Table != s.table {
		return false
	}
	if s.filterCol == "" {
		return true
	}
	return ev.Column(s.filterCol) == s.filterVal
}

// Hub is an in-process core.Broker fanning row change events out to
// subscribers. It is safe for concurrent use.
type Hub struct {
	logger core.Logger

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

var _ core.Broker = (*Hub)(nil)

func NewHub(logger core.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
	}
}

func (h *Hub) Subscribe(table, filterCol, filterVal string) (*core.Subscription, error) {
	sub := &subscriber{
		table:     table,
		filterCol: filterCol,
		filterVal: filterVal,
		c:         make(chan core.Event, subscriberBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, core.NewShutdownError("realtime hub closed")
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	return core.NewSubscription(sub.c, func() { h.remove(sub) }), nil
}

func (h *Hub) Publish(ev core.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		if !sub.matches(ev) {
			continue
		}
		select {
		case sub.c <- ev:
		default:
			h.logger.Warn("realtime: dropping event for slow subscriber", map[string]interface{}{
				"table": ev.Table, "type": string(ev.Type),
			})
		}
	}
}

// Close drops all subscribers; further Subscribe calls fail.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.c)
		delete(h.subs, sub)
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.c)
	}
}
