// Package aggregate implements the write-side of the CQRS split: the User
// and Tenant aggregates, their commands, their events, and the pure fold
// (Apply) that replays a stream of events back into aggregate state.
package aggregate

import "time"

// Event is the in-memory shape an aggregate emits and replays. The event
// store persists Type and Payload verbatim; Aggregate and everything else
// in this package only ever sees this envelope, never a database row.
type Event struct {
	Type    string
	Payload []byte
}

// Aggregate is implemented by every write-side aggregate in this system.
// Apply must be a pure fold: given the same starting state and the same
// event, it always produces the same resulting state, and it must not fail
// on an event it previously accepted into the store.
type Aggregate interface {
	AggregateID() string
	Version() uint64
	Apply(event Event) error
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
