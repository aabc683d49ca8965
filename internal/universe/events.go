package universe

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventSpawn EventKind = "spawn"
	EventMove  EventKind = "move"
	EventSolve EventKind = "solve"
	EventEvict EventKind = "evict"
)

// Event is one durable fact about the universe, emitted after the
// mutation it describes has committed.
type Event struct {
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	Kind    EventKind `json:"kind"`
	Agent   string    `json:"agent"`
	Name    string    `json:"name,omitempty"`
	X       int       `json:"x"`
	Y       int       `json:"y"`
	CityKey string    `json:"city_key,omitempty"`
	Reward  int64     `json:"reward,omitempty"`
	Exp     int64     `json:"exp,omitempty"`
}

// EventSink receives events outside the universe lock; implementations
// may do I/O but must not call back into mutating operations.
type EventSink func(Event)

func (u *Universe) emit(ev Event) {
	if u.cfg.Sink == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.At = u.cfg.Now()
	u.cfg.Sink(ev)
}
