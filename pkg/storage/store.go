// Package storage provides the snapshot persistence port used by the advisor's
// stateful components (job history, queue samples, notifications).
//
// A component owns its in-memory state and hands the storage layer a full
// Snapshot after every mutation. Backends only need to reproduce an equivalent
// Snapshot on Load; how they lay the data out is their own business:
//   - MemoryStore: process-local, used in tests and for ephemeral runs
//   - FileStore: one JSON document per store, replaced atomically
//   - BadgerStore: embedded key-value store, one key per snapshot entry
//   - RedisStore: one Redis hash per store, shared between restarts
package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Well-known store names.
const (
	JobHistory    = "job_history"
	QueueHistory  = "queue_history"
	Notifications = "notifications"
)

// Snapshot is the full persisted state of one store, keyed by entity
// (job id, target name, user id). Values are JSON documents.
type Snapshot map[string]json.RawMessage

// Store is the persistence port. Load on a store that has never been saved
// returns an empty Snapshot and no error; an error means the backing data is
// unreadable and callers are expected to start empty.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snapshot Snapshot) error
}

// Clone returns a copy of the snapshot that shares no memory with s.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Encode marshals every entry of m into a Snapshot.
func Encode[T any](m map[string]T) (Snapshot, error) {
	snap := make(Snapshot, len(m))
	for k, v := range m {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal %q: %w", k, err)
		}
		snap[k] = data
	}
	return snap, nil
}

// Decode unmarshals every entry of s. A single corrupt entry fails the whole
// decode so that callers never run on a partially restored store.
func Decode[T any](s Snapshot) (map[string]T, error) {
	out := make(map[string]T, len(s))
	for k, raw := range s {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("unmarshal %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
