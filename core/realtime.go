package core

import "sync"

// Row change notifications.
//
// A Broker delivers one Event per committed row change on a watched table.
// Events carry the new row values; deletes carry the old ones. Ordering is
// per-table commit order but consumers must not rely on it across tables:
// the policy is to re-fetch authoritative state on every notification.

type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

type Event struct {
	Table string
	Type  ChangeType
	Row   map[string]interface{}
}

// Column returns the row value for col as a string, or "" when absent.
func (e Event) Column(col string) string {
	if v, ok := e.Row[col]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Subscription is a live event feed; it must be released with Close.
type Subscription struct {
	C <-chan Event

	once   sync.Once
	cancel func()
}

func NewSubscription(c <-chan Event, cancel func()) *Subscription {
	return &Subscription{C: c, cancel: cancel}
}

// Close releases the subscription. No event is delivered on C after Close
// returns; closing twice is a no-op.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

type Broker interface {
	// Subscribe watches table for rows whose filterCol value equals filterVal.
	// An empty filterCol watches the whole table.
	Subscribe(table, filterCol, filterVal string) (*Subscription, error)

	// Publish fans an event out to all matching subscribers without blocking.
	Publish(ev Event)
}
