// Package history keeps the append-only event log of every tracked job.
//
// Recording is event sourcing, not upsert: calling RecordEvent twice with the
// same arguments stores two events. Events for a job are kept in the order
// they were recorded and are never mutated or removed. Timestamps are stored
// as given; they are not required to be monotonic.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/HatiCode/jobadvisor/pkg/storage"
)

// Event types emitted by the job lifecycle.
const (
	EventSubmitted                  = "submitted"
	EventSubmittedEstimator         = "submitted_estimator"
	EventSubmittedEstimatorFallback = "submitted_estimator_fallback"
	EventQueued                     = "queued"
	EventRunning                    = "running"
	EventStatusChange               = "status_change"
	EventBackendAssigned            = "backend_assigned"
	EventCompleted                  = "completed"
)

// ErrInvalidInput is returned when an event is missing its job id or type.
var ErrInvalidInput = errors.New("invalid input")

// Event is a single entry of a job timeline.
type Event struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Time parses the event timestamp. Both RFC 3339 and zone-less ISO-8601
// timestamps are accepted.
func (e Event) Time() (time.Time, bool) {
	return ParseTimestamp(e.Timestamp)
}

// ParseTimestamp parses an ISO-8601 timestamp with or without a zone offset.
// Zone-less values are interpreted as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// PersistObserver is notified when a snapshot could not be written.
type PersistObserver func(store string, err error)

// Store owns the job timelines. The load-mutate-persist cycle is serialized
// by a mutex so concurrent appends are never lost; readers get copies.
type Store struct {
	mu        sync.Mutex
	timelines map[string][]Event
	backend   storage.Store
	logger    *slog.Logger
	now       func() time.Time
	onPersist PersistObserver
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for events recorded without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithPersistObserver registers a callback for persist failures.
func WithPersistObserver(fn PersistObserver) Option {
	return func(s *Store) { s.onPersist = fn }
}

// New loads the timelines from backend. An unreadable backend is logged and
// the store starts empty; it never fails construction.
func New(ctx context.Context, backend storage.Store, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		timelines: make(map[string][]Event),
		backend:   backend,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	snap, err := backend.Load(ctx)
	if err != nil {
		logger.Warn("job history unavailable, starting empty", "error", err)
		return s
	}

	timelines, err := storage.Decode[[]Event](snap)
	if err != nil {
		logger.Warn("job history corrupt, starting empty", "error", err)
		return s
	}
	s.timelines = timelines

	logger.Info("loaded job history", "jobs", len(timelines))
	return s
}

// RecordEvent appends an event to the job's timeline and persists the store.
// A nil ts records the current time. Persist failures are logged, not returned:
// the in-memory timeline stays authoritative.
func (s *Store) RecordEvent(ctx context.Context, jobID, eventType string, ts *time.Time, data map[string]any) (Event, error) {
	if jobID == "" {
		return Event{}, fmt.Errorf("%w: job id cannot be empty", ErrInvalidInput)
	}
	if eventType == "" {
		return Event{}, fmt.Errorf("%w: event type cannot be empty", ErrInvalidInput)
	}

	when := s.now()
	if ts != nil {
		when = *ts
	}
	if data == nil {
		data = map[string]any{}
	}

	ev := Event{
		Type:      eventType,
		Timestamp: when.Format(time.RFC3339Nano),
		Data:      copyData(data),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.timelines[jobID] = append(s.timelines[jobID], ev)
	s.persist(ctx)

	return ev, nil
}

// Timeline returns a copy of the job's events in recording order.
// Unknown jobs yield an empty slice.
func (s *Store) Timeline(jobID string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyEvents(s.timelines[jobID])
}

// LastEvent returns the most recently recorded event of the given type.
func (s *Store) LastEvent(jobID, eventType string) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.timelines[jobID]
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == eventType {
			ev := events[i]
			ev.Data = copyData(ev.Data)
			return ev, true
		}
	}
	return Event{}, false
}

// Jobs returns a deep copy of every timeline, keyed by job id.
func (s *Store) Jobs() map[string][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]Event, len(s.timelines))
	for id, events := range s.timelines {
		out[id] = copyEvents(events)
	}
	return out
}

// Len returns the number of jobs with at least one event.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timelines)
}

// persist must be called with s.mu held.
func (s *Store) persist(ctx context.Context) {
	snap, err := storage.Encode(s.timelines)
	if err == nil {
		err = s.backend.Save(ctx, snap)
	}
	if err != nil {
		s.logger.Error("failed to persist job history", "error", err)
		if s.onPersist != nil {
			s.onPersist(storage.JobHistory, err)
		}
	}
}

func copyEvents(events []Event) []Event {
	out := make([]Event, len(events))
	for i, ev := range events {
		ev.Data = copyData(ev.Data)
		out[i] = ev
	}
	return out
}

// copyData is shallow per value; event payloads are flat key/value maps.
func copyData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
