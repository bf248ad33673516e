// Package store holds the in-memory entity tables shared by routing and
// delivery: events, notification requests, and dead-letter entries.
package store

import (
	"fmt"
	"maps"
	"sort"
	"sync/atomic"

	"notifyroute/internal/types"
)

var errMissing = types.ErrNotFound

// StorageType is reported by health endpoints.
const StorageType = "in-memory"

// Stats is a point-in-time snapshot of the derived counters.
type Stats struct {
	Events      int `json:"totalEvents"`
	Requests    int `json:"totalRequests"`
	Sent        int `json:"successfulDeliveries"`
	Failed      int `json:"failedDeliveries"`
	DeadLetters int `json:"deadLetterCount"`
}

type storedEvent struct {
	seq   uint64
	event types.Event
}

type storedRequest struct {
	seq uint64
	req types.NotificationRequest
}

type storedDeadLetter struct {
	seq   uint64
	entry types.DeadLetterEntry
}

// MemoryStore is a concurrency-safe entity store. Every value is copied on
// the way in and on the way out, so callers never share memory with the
// tables and never observe a partially built entity.
type MemoryStore struct {
	events      *shardedMap[storedEvent]
	requests    *shardedMap[storedRequest]
	deadLetters *shardedMap[storedDeadLetter]
	attempts    *shardedMap[[]types.RetryAttempt]

	// seq orders entries by insertion for listing.
	seq atomic.Uint64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:      newShardedMap[storedEvent](),
		requests:    newShardedMap[storedRequest](),
		deadLetters: newShardedMap[storedDeadLetter](),
		attempts:    newShardedMap[[]types.RetryAttempt](),
	}
}

func copyEvent(e types.Event) types.Event {
	e.Payload = maps.Clone(e.Payload)
	return e
}

// SaveEvent stores ev, replacing any event with the same ID.
func (s *MemoryStore) SaveEvent(ev types.Event) error {
	if ev.ID == "" {
		return fmt.Errorf("SaveEvent: event has no id")
	}
	s.events.set(ev.ID, storedEvent{seq: s.seq.Add(1), event: copyEvent(ev)})
	return nil
}

// GetEvent returns the event with the given ID.
func (s *MemoryStore) GetEvent(id string) (types.Event, bool) {
	se, ok := s.events.get(id)
	if !ok {
		return types.Event{}, false
	}
	return copyEvent(se.event), true
}

// ListEvents returns all events in insertion order.
func (s *MemoryStore) ListEvents() []types.Event {
	var rows []storedEvent
	s.events.each(func(se storedEvent) { rows = append(rows, se) })
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	out := make([]types.Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, copyEvent(r.event))
	}
	return out
}

// SaveRequest inserts a new request. The owning event must already exist and
// the request ID must be unused.
func (s *MemoryStore) SaveRequest(req types.NotificationRequest) error {
	if req.ID == "" {
		return fmt.Errorf("SaveRequest: request has no id")
	}
	if _, ok := s.events.get(req.EventID); !ok {
		return fmt.Errorf("SaveRequest: event %s: %w", req.EventID, types.ErrNotFound)
	}
	if !s.requests.setIfAbsent(req.ID, storedRequest{seq: s.seq.Add(1), req: req.Clone()}) {
		return fmt.Errorf("SaveRequest: duplicate request id %s", req.ID)
	}
	return nil
}

// UpdateRequest overwrites a stored request. Concurrent updates to the same
// ID resolve last-write-wins.
func (s *MemoryStore) UpdateRequest(req types.NotificationRequest) error {
	err := s.requests.update(req.ID, func(cur storedRequest) (storedRequest, error) {
		cur.req = req.Clone()
		return cur, nil
	})
	if err != nil {
		return fmt.Errorf("UpdateRequest %s: %w", req.ID, err)
	}
	return nil
}

// MutateRequest applies fn to the stored request atomically with respect to
// other writers of the same ID and returns the result. If fn returns an
// error nothing is written.
func (s *MemoryStore) MutateRequest(id string, fn func(*types.NotificationRequest) error) (types.NotificationRequest, error) {
	var out types.NotificationRequest
	err := s.requests.update(id, func(cur storedRequest) (storedRequest, error) {
		next := cur.req.Clone()
		if err := fn(&next); err != nil {
			return cur, err
		}
		cur.req = next
		out = next.Clone()
		return cur, nil
	})
	if err != nil {
		return types.NotificationRequest{}, fmt.Errorf("MutateRequest %s: %w", id, err)
	}
	return out, nil
}

// GetRequest returns the request with the given ID.
func (s *MemoryStore) GetRequest(id string) (types.NotificationRequest, bool) {
	sr, ok := s.requests.get(id)
	if !ok {
		return types.NotificationRequest{}, false
	}
	return sr.req.Clone(), true
}

func (s *MemoryStore) selectRequests(pred func(types.NotificationRequest) bool) []types.NotificationRequest {
	var rows []storedRequest
	s.requests.each(func(sr storedRequest) {
		if pred(sr.req) {
			rows = append(rows, sr)
		}
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	out := make([]types.NotificationRequest, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.req.Clone())
	}
	return out
}

// RequestsForEvent returns the event's requests in the order they were saved.
func (s *MemoryStore) RequestsForEvent(eventID string) []types.NotificationRequest {
	return s.selectRequests(func(r types.NotificationRequest) bool { return r.EventID == eventID })
}

// RequestsByStatus returns every request currently in status st.
func (s *MemoryStore) RequestsByStatus(st types.NotificationStatus) []types.NotificationRequest {
	return s.selectRequests(func(r types.NotificationRequest) bool { return r.Status == st })
}

// FailedRequests returns every request in FAILED or DEAD_LETTER status.
func (s *MemoryStore) FailedRequests() []types.NotificationRequest {
	return s.selectRequests(func(r types.NotificationRequest) bool { return r.Status.IsFailure() })
}

// SaveDeadLetter appends an entry to the dead-letter table. Entries are keyed
// by request ID; a second entry for the same request is rejected.
func (s *MemoryStore) SaveDeadLetter(entry types.DeadLetterEntry) error {
	id := entry.Request.ID
	if id == "" {
		return fmt.Errorf("SaveDeadLetter: request has no id")
	}
	entry.Request = entry.Request.Clone()
	if !s.deadLetters.setIfAbsent(id, storedDeadLetter{seq: s.seq.Add(1), entry: entry}) {
		return fmt.Errorf("SaveDeadLetter: request %s already dead-lettered", id)
	}
	return nil
}

// ListDeadLetter returns dead-letter entries in insertion order.
func (s *MemoryStore) ListDeadLetter() []types.DeadLetterEntry {
	var rows []storedDeadLetter
	s.deadLetters.each(func(sd storedDeadLetter) { rows = append(rows, sd) })
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	out := make([]types.DeadLetterEntry, 0, len(rows))
	for _, r := range rows {
		e := r.entry
		e.Request = e.Request.Clone()
		out = append(out, e)
	}
	return out
}

// RecordAttempt appends an attempt to the request's history.
func (s *MemoryStore) RecordAttempt(requestID string, a types.RetryAttempt) error {
	if _, ok := s.requests.get(requestID); !ok {
		return fmt.Errorf("RecordAttempt %s: %w", requestID, types.ErrNotFound)
	}
	s.attempts.setIfAbsent(requestID, nil)
	return s.attempts.update(requestID, func(cur []types.RetryAttempt) ([]types.RetryAttempt, error) {
		next := make([]types.RetryAttempt, len(cur), len(cur)+1)
		copy(next, cur)
		return append(next, a), nil
	})
}

// Attempts returns the request's attempt history, oldest first.
func (s *MemoryStore) Attempts(requestID string) []types.RetryAttempt {
	cur, _ := s.attempts.get(requestID)
	out := make([]types.RetryAttempt, len(cur))
	copy(out, cur)
	return out
}

// EventCount is the number of stored events.
func (s *MemoryStore) EventCount() int { return s.events.count(nil) }

// RequestCount is the number of stored requests in any status.
func (s *MemoryStore) RequestCount() int { return s.requests.count(nil) }

// SentCount counts SENT requests.
func (s *MemoryStore) SentCount() int {
	return s.requests.count(func(sr storedRequest) bool { return sr.req.Status == types.StatusSent })
}

// FailedCount counts FAILED requests only. Dead-lettered requests are
// counted by DeadLetterCount.
func (s *MemoryStore) FailedCount() int {
	return s.requests.count(func(sr storedRequest) bool { return sr.req.Status == types.StatusFailed })
}

// DeadLetterCount is the size of the dead-letter table.
func (s *MemoryStore) DeadLetterCount() int { return s.deadLetters.count(nil) }

// Stats returns all derived counters together.
func (s *MemoryStore) Stats() Stats {
	return Stats{
		Events:      s.EventCount(),
		Requests:    s.RequestCount(),
		Sent:        s.SentCount(),
		Failed:      s.FailedCount(),
		DeadLetters: s.DeadLetterCount(),
	}
}

// Reset empties every table.
func (s *MemoryStore) Reset() {
	s.attempts.clear()
	s.deadLetters.clear()
	s.requests.clear()
	s.events.clear()
}
