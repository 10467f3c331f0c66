package storage

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"
)

// Options selects and configures a storage backend.
type Options struct {
	// Kind is one of "memory", "file", "badger" or "redis".
	Kind string

	// Dir is the data directory for the file and badger backends.
	Dir string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Backend hands out named stores that share one underlying connection
// or database handle.
type Backend interface {
	Store(name string) (Store, error)
	Close() error
}

// Open creates the backend described by opts.
func Open(opts Options) (Backend, error) {
	switch opts.Kind {
	case "memory":
		return &memoryBackend{stores: make(map[string]*MemoryStore)}, nil
	case "file", "":
		if opts.Dir == "" {
			return nil, fmt.Errorf("file storage requires a data dir")
		}
		return &fileBackend{dir: opts.Dir}, nil
	case "badger":
		if opts.Dir == "" {
			return nil, fmt.Errorf("badger storage requires a data dir")
		}
		db, err := OpenBadger(opts.Dir)
		if err != nil {
			return nil, err
		}
		return &badgerBackend{db: db}, nil
	case "redis":
		client, err := NewRedisClient(opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
		if err != nil {
			return nil, err
		}
		return &redisBackend{client: client}, nil
	default:
		return nil, fmt.Errorf("unknown storage kind: %s (must be memory, file, badger, or redis)", opts.Kind)
	}
}

type memoryBackend struct {
	mu     sync.Mutex
	stores map[string]*MemoryStore
}

func (m *memoryBackend) Store(name string) (Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[name]; ok {
		return s, nil
	}
	s := NewMemoryStore()
	m.stores[name] = s
	return s, nil
}

func (m *memoryBackend) Close() error { return nil }

type fileBackend struct {
	dir string
}

func (f *fileBackend) Store(name string) (Store, error) {
	return NewFileStore(f.dir, name)
}

func (f *fileBackend) Close() error { return nil }

type badgerBackend struct {
	db *badger.DB
}

func (b *badgerBackend) Store(name string) (Store, error) {
	return NewBadgerStore(b.db, name), nil
}

func (b *badgerBackend) Close() error {
	return b.db.Close()
}

type redisBackend struct {
	client *redis.Client
}

func (r *redisBackend) Store(name string) (Store, error) {
	return NewRedisStore(r.client, name), nil
}

func (r *redisBackend) Close() error {
	err := r.client.Close()
	if err != nil && err.Error() == "redis: client is closed" {
		return nil
	}
	return err
}
