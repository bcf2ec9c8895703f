// Package inmemdb provides in-memory repositories for tests and local hacking.
// Mutations publish the same row change events the SQL triggers would.
package inmemdb

import (
	"sync"

	"github.com/fads122/kodigrow-remake/core"
	"github.com/fads122/kodigrow-remake/core/quiz"
	"github.com/fads122/kodigrow-remake/core/user"
)

type DB struct {
	mu           sync.RWMutex
	users        map[string]*user.User
	questions    map[string]*quiz.Question
	sessions     map[string]*quiz.Session
	participants map[string]*quiz.Participant
	broker       core.Broker // optional
}

func New() *DB {
	return NewWithBroker(nil)
}

// NewWithBroker mirrors committed row changes into broker, standing in for
// the Postgres notify triggers.
func NewWithBroker(broker core.Broker) *DB {
	return &DB{
		users:        make(map[string]*user.User),
		questions:    make(map[string]*quiz.Question),
		sessions:     make(map[string]*quiz.Session),
		participants: make(map[string]*quiz.Participant),
		broker:       broker,
	}
}

// Reset drops all rows; for use between tests.
func (db *DB) Reset() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.users = make(map[string]*user.User)
	db.questions = make(map[string]*quiz.Question)
	db.sessions = make(map[string]*quiz.Session)
	db.participants = make(map[string]*quiz.Participant)
}

func (db *DB) publish(table string, typ core.ChangeType, row map[string]interface{}) {
	if db.broker != nil {
		db.broker.Publish(core.Event{Table: table, Type: typ, Row: row})
	}
}
