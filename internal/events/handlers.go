package events

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"
)

// AuditHandler persists every event it sees into audit_logs, the durable
// side-channel a human or support tool can replay independently of the
// primary domain_events log. Modeled on the teacher's append-only
// interactions.jsonl audit trail, generalized from a local JSONL file to a
// Postgres table since this engine has no per-workspace filesystem to anchor
// a JSONL sidecar to.
type AuditHandler struct {
	db *sql.DB
}

func NewAuditHandler(db *sql.DB) *AuditHandler { return &AuditHandler{db: db} }

func (h *AuditHandler) Name() string { return "audit" }

func (h *AuditHandler) Handle(ctx context.Context, evt Event) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, event_type, aggregate_id, aggregate_type, payload, occurred_at, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, evt.EventID, string(evt.EventType), evt.AggregateID, evt.AggregateType, nullableJSON(evt.Payload), evt.OccurredAt, evt.UserID)
	return err
}

// CacheInvalidator is a pattern-based key/prefix cache. The engine ships an
// in-process implementation (sufficient for a single worker process); a
// distributed cache would satisfy the same interface.
type CacheInvalidator interface {
	InvalidatePrefix(prefix string)
}

// MemoryCache is a minimal in-process cache with prefix invalidation,
// enough to back read-through caches (e.g. the datasets_summary view) that
// the event bus keeps coherent.
type MemoryCache struct {
	mu   sync.Mutex
	data map[string]any
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string]any)}
}

func (c *MemoryCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

func (c *MemoryCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *MemoryCache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			delete(c.data, k)
		}
	}
}

// CacheInvalidationHandler invalidates cache entries whose key prefix maps
// to the event's aggregate type (e.g. "dataset:<id>" on any dataset event).
type CacheInvalidationHandler struct {
	cache CacheInvalidator
}

func NewCacheInvalidationHandler(cache CacheInvalidator) *CacheInvalidationHandler {
	return &CacheInvalidationHandler{cache: cache}
}

func (h *CacheInvalidationHandler) Name() string { return "cache_invalidation" }

func (h *CacheInvalidationHandler) Handle(_ context.Context, evt Event) error {
	h.cache.InvalidatePrefix(evt.AggregateType + ":" + evt.AggregateID)
	return nil
}

// Recipient resolves who should be notified for an event type.
type Recipient struct {
	UserID   string
	Template string
}

// RecipientResolver maps an event to its notification recipients.
type RecipientResolver func(evt Event) []Recipient

// Notifier dispatches a rendered notification.
type Notifier interface {
	Notify(ctx context.Context, recipient Recipient, evt Event) error
}

// NotificationHandler dispatches notifications per event type, using a
// template + recipient-resolution rule registered per event type
// (SPEC_FULL §4.K).
type NotificationHandler struct {
	notifier Notifier
	rules    map[Type]RecipientResolver
}

func NewNotificationHandler(notifier Notifier) *NotificationHandler {
	return &NotificationHandler{notifier: notifier, rules: make(map[Type]RecipientResolver)}
}

func (h *NotificationHandler) RegisterRule(t Type, resolver RecipientResolver) {
	h.rules[t] = resolver
}

func (h *NotificationHandler) Name() string { return "notification" }

func (h *NotificationHandler) Handle(ctx context.Context, evt Event) error {
	resolver, ok := h.rules[evt.EventType]
	if !ok {
		return nil
	}
	for _, r := range resolver(evt) {
		if err := h.notifier.Notify(ctx, r, evt); err != nil {
			return err
		}
	}
	return nil
}

// ElapsedSince is a small helper used by executors to compute
// execution_time_ms without repeating time.Since(...).Milliseconds() boilerplate.
func ElapsedSince(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
