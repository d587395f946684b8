// Package events implements the synchronous in-process domain-event bus:
// Publish assigns a monotonic per-aggregate version, persists the event, then
// fans it out to every registered handler concurrently. A handler's error is
// logged and never fails the publishing operation (SPEC_FULL §4.K).
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dataset-commons/dataset-engine/internal/logging"
)

// Type is a closed registry of event names, grounded on original_source's
// src/core/events/registry.py typed registry.
type Type string

const (
	JobStarted         Type = "JobStarted"
	JobCompleted       Type = "JobCompleted"
	JobFailed          Type = "JobFailed"
	CommitCreated      Type = "CommitCreated"
	RefUpdated         Type = "RefUpdated"
	RefCreated         Type = "RefCreated"
	PermissionGranted  Type = "PermissionGranted"
	PermissionRevoked  Type = "PermissionRevoked"
)

// Event is one domain_events row.
type Event struct {
	EventID       string          `json:"event_id"`
	EventType     Type            `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	UserID        *string         `json:"user_id,omitempty"`
	CorrelationID *string         `json:"correlation_id,omitempty"`
	Version       int64           `json:"version"`
}

// Handler reacts to a published event. Handlers must not mutate evt.
type Handler interface {
	Name() string
	Handle(ctx context.Context, evt Event) error
}

// Middleware augments an event before it is persisted and dispatched (for
// example, assigning a correlation ID).
type Middleware func(ctx context.Context, evt *Event)

// Store persists events and resolves the next version for an aggregate.
type Store interface {
	NextVersion(ctx context.Context, aggregateID string) (int64, error)
	Append(ctx context.Context, evt Event) error
}

// Bus is the synchronous in-process fan-out publisher.
type Bus struct {
	store      Store
	mu         sync.RWMutex
	handlers   []Handler
	middleware []Middleware
}

// NewBus constructs a Bus backed by store.
func NewBus(store Store) *Bus {
	return &Bus{store: store}
}

// Use registers a middleware, applied in registration order before Append.
func (b *Bus) Use(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, mw)
}

// Register adds a handler. Handlers run concurrently on every Publish call,
// in no particular relative order.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish assigns the event's version, persists it, then invokes every
// handler concurrently. A handler error is logged and does not propagate;
// a Store append error does propagate, since the event log itself is the
// durability boundary callers rely on.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	middleware := append([]Middleware(nil), b.middleware...)
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.RUnlock()

	for _, mw := range middleware {
		mw(ctx, &evt)
	}

	version, err := b.store.NextVersion(ctx, evt.AggregateID)
	if err != nil {
		return err
	}
	evt.Version = version

	if err := b.store.Append(ctx, evt); err != nil {
		return err
	}

	logger := logging.L("events")

	var wg sync.WaitGroup
	wg.Add(len(handlers))
	for _, h := range handlers {
		h := h
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Str("handler", h.Name()).Interface("panic", r).Msg("event handler panicked")
				}
			}()
			if err := h.Handle(ctx, evt); err != nil {
				logger.Error().Err(err).Str("handler", h.Name()).Str("event_type", string(evt.EventType)).Msg("event handler failed")
			}
		}()
	}
	wg.Wait()

	return nil
}

// WithCorrelationID is a ready-made middleware that stamps a correlation ID
// onto events that don't already carry one in Metadata.
func WithCorrelationID(gen func() string) Middleware {
	return func(_ context.Context, evt *Event) {
		var meta map[string]any
		if len(evt.Metadata) > 0 {
			_ = json.Unmarshal(evt.Metadata, &meta)
		}
		if meta == nil {
			meta = map[string]any{}
		}
		if _, ok := meta["correlation_id"]; !ok {
			id := gen()
			meta["correlation_id"] = id
			evt.CorrelationID = &id
			if b, err := json.Marshal(meta); err == nil {
				evt.Metadata = b
			}
		}
	}
}

// PostgresStore is the Store implementation backed by the domain_events table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps db for event persistence.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) NextVersion(ctx context.Context, aggregateID string) (int64, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM domain_events WHERE aggregate_id = $1`, aggregateID,
	).Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 1, nil
	}
	return version.Int64 + 1, nil
}

func (s *PostgresStore) Append(ctx context.Context, evt Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO domain_events
			(event_id, event_type, aggregate_id, aggregate_type, payload, metadata, occurred_at, user_id, correlation_id, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, evt.EventID, string(evt.EventType), evt.AggregateID, evt.AggregateType,
		nullableJSON(evt.Payload), nullableJSON(evt.Metadata), evt.OccurredAt, evt.UserID, evt.CorrelationID, evt.Version)
	return err
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
