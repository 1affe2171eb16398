// Package eventstore persists aggregate.Event streams to Postgres and
// enforces optimistic concurrency on append, following the repository
// pattern the rest of this codebase uses (raw SQL through *gorm.DB, no
// ORM-managed structs).
package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/smallbiznis/platformd/internal/aggregate"
	"github.com/smallbiznis/platformd/pkg/db"
	"gorm.io/gorm"
)

// ErrConcurrencyConflict is returned by Append when expectedVersion no
// longer matches the stream's current version — another writer appended
// first.
var ErrConcurrencyConflict = errors.New("eventstore: concurrency conflict")

// StoredEvent is a single row of the events table, as read back by Load.
type StoredEvent struct {
	ID         int64
	StreamType string
	StreamID   string
	Version    uint64
	EventType  string
	Payload    []byte
	Metadata   []byte
	OccurredAt time.Time
}

func (s StoredEvent) toAggregateEvent() aggregate.Event {
	return aggregate.Event{Type: s.EventType, Payload: s.Payload}
}

// Store is the append-only event log backing every write-side aggregate.
type Store struct {
	db *gorm.DB
}

func New(conn *gorm.DB) *Store {
	return &Store{db: conn}
}

// Append writes events to a stream starting at expectedVersion+1. It fails
// with ErrConcurrencyConflict if the stream has moved on since the caller
// loaded it, relying on the events table's UNIQUE(stream_type, stream_id,
// version) constraint rather than a SELECT-then-INSERT race. It returns the
// assigned row id of each appended event, in the same order as events, so
// callers can stamp outgoing bus messages with an id the projection worker
// can dedup on.
func (s *Store) Append(ctx context.Context, streamType, streamID string, expectedVersion uint64, events []aggregate.Event) ([]int64, error) {
	if len(events) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(events))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		version := expectedVersion
		for _, evt := range events {
			version++
			metadata, err := json.Marshal(map[string]string{})
			if err != nil {
				return err
			}
			var id int64
			err = tx.Raw(
				`INSERT INTO events (stream_type, stream_id, version, event_type, payload, metadata, occurred_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
				streamType, streamID, version, evt.Type, []byte(evt.Payload), metadata, time.Now().UTC(),
			).Scan(&id).Error
			if err != nil {
				if db.IsDuplicateKeyErr(err) {
					return ErrConcurrencyConflict
				}
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Load replays every event ever appended to a stream, in version order.
func (s *Store) Load(ctx context.Context, streamType, streamID string) ([]aggregate.Event, error) {
	var rows []StoredEvent
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, stream_type, stream_id, version, event_type, payload, metadata, occurred_at
		 FROM events WHERE stream_type = ? AND stream_id = ? ORDER BY version ASC`,
		streamType, streamID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	events := make([]aggregate.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toAggregateEvent())
	}
	return events, nil
}

// CurrentVersion returns the highest version appended to a stream, or 0 if
// the stream does not exist yet.
func (s *Store) CurrentVersion(ctx context.Context, streamType, streamID string) (uint64, error) {
	var version uint64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE stream_type = ? AND stream_id = ?`,
		streamType, streamID,
	).Scan(&version).Error
	if err != nil {
		return 0, err
	}
	return version, nil
}

// LoadAggregate replays a stream into agg by calling Apply for every
// stored event in order. It does nothing (agg stays at version 0) if the
// stream has never been appended to.
func LoadAggregate(ctx context.Context, s *Store, streamType, streamID string, agg aggregate.Aggregate) error {
	events, err := s.Load(ctx, streamType, streamID)
	if err != nil {
		return err
	}
	for _, evt := range events {
		if err := agg.Apply(evt); err != nil {
			return err
		}
	}
	return nil
}
