package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore persists a snapshot inside an embedded Badger database.
// Each snapshot entry is stored under "<name>/<key>", so several stores can
// share one database. Save only rewrites entries whose value changed.
type BadgerStore struct {
	db     *badger.DB
	prefix []byte
}

// OpenBadger opens (or creates) a Badger database under dataDir/badger.
func OpenBadger(dataDir string) (*badger.DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(dataDir, "badger"))
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

// NewBadgerStore returns a store over db for the given store name.
// The caller owns db and must close it.
func NewBadgerStore(db *badger.DB, name string) *BadgerStore {
	return &BadgerStore{db: db, prefix: []byte(name + "/")}
}

// Load collects every entry under the store prefix.
func (b *BadgerStore) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := Snapshot{}
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(b.prefix); it.ValidForPrefix(b.prefix); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(b.prefix):])
			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read %q: %w", key, err)
			}
			snap[key] = val
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Save reconciles the stored entries with snapshot in a single transaction.
func (b *BadgerStore) Save(ctx context.Context, snapshot Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		existing := make(map[string][]byte)

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		for it.Seek(b.prefix); it.ValidForPrefix(b.prefix); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				it.Close()
				return err
			}
			existing[string(item.KeyCopy(nil))] = val
		}
		it.Close()

		for key := range existing {
			if _, ok := snapshot[key[len(b.prefix):]]; !ok {
				if err := txn.Delete([]byte(key)); err != nil {
					return err
				}
			}
		}

		for k, v := range snapshot {
			fullKey := string(b.prefix) + k
			if old, ok := existing[fullKey]; ok && bytes.Equal(old, v) {
				continue
			}
			if err := txn.Set([]byte(fullKey), append([]byte(nil), v...)); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrTxnTooBig) {
		return fmt.Errorf("snapshot too large for a single transaction: %w", err)
	}
	return err
}
