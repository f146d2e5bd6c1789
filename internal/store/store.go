// Package store wraps BadgerDB as the boundary's single embedded KV
// store. Every persisted entity in the data model — runtime key
// record, registry index, proposals, manifest snapshots, audit events,
// pairing codes, the admin user, sessions, login-lockout state, and
// vault secrets — lives behind this one package, under the key layout
// in the external interfaces section.
//
// Badger gives per-key linearizability but no cross-key atomicity
// across separate Update calls; callers that need the registry's
// "snapshot then index then proposal-delete" write order run each step
// as its own transaction and rely on that ordering, not on multi-key
// atomicity, exactly as the concurrency model describes.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned by Get/ReadDeleteOnce when the key is absent.
var ErrNotFound = errors.New("store: key not found")

// Config configures the embedded store.
type Config struct {
	// Path is the on-disk directory. Ignored when InMemory is true.
	Path string

	// InMemory runs Badger with no disk persistence, for tests.
	InMemory bool

	// SyncWrites forces fsync on every commit. Default true in production.
	SyncWrites bool

	// Logger receives Badger's internal log lines. Nil disables them.
	Logger *slog.Logger
}

func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

func InMemoryConfig() Config {
	return Config{InMemory: true, SyncWrites: false}
}

type badgerLogger struct{ logger *slog.Logger }

func (l *badgerLogger) Errorf(format string, args ...any)   { l.logger.Error(fmt.Sprintf(format, args...)) }
func (l *badgerLogger) Warningf(format string, args ...any) { l.logger.Warn(fmt.Sprintf(format, args...)) }
func (l *badgerLogger) Infof(format string, args ...any)    { l.logger.Info(fmt.Sprintf(format, args...)) }
func (l *badgerLogger) Debugf(format string, args ...any)   { l.logger.Debug(fmt.Sprintf(format, args...)) }

// Store is the boundary's handle to its embedded KV store.
type Store struct {
	db *badger.DB
}

// Open opens (creating if necessary) the embedded store per cfg.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("store: path is required for persistent store")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("store: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the store's resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value stored at key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			value = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put writes value at key, replacing any existing entry.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// PutTTL writes value at key with a Badger-native expiry; reads after
// ttl elapses behave as if the key were deleted. Used by the pairing
// store so expiry needs no background sweeper.
func (s *Store) PutTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// ReadDeleteOnce atomically reads and deletes key within a single
// read-write transaction: the first caller to commit sees the value
// and removes it, any racing caller that reads afterward observes
// absence. This is what makes pairing-code consumption genuinely
// exactly-once rather than best-effort.
func (s *Store) ReadDeleteOnce(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(v []byte) error {
			value = append([]byte(nil), v...)
			return nil
		}); err != nil {
			return err
		}
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// KeyValue is one entry returned by ListPrefix.
type KeyValue struct {
	Key   string
	Value []byte
}

// ListPrefix returns every entry whose key has the given prefix, key
// order ascending (lexicographic, which is also chronological for the
// audit log's time-ordered keys).
func (s *Store) ListPrefix(ctx context.Context, prefix string) ([]KeyValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []KeyValue
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			var v []byte
			if err := item.Value(func(val []byte) error {
				v = append([]byte(nil), val...)
				return nil
			}); err != nil {
				return err
			}
			out = append(out, KeyValue{Key: string(item.Key()), Value: v})
		}
		return nil
	})
	return out, err
}

// ListFromKey iterates keys with the given prefix starting at or after
// seekKey (inclusive), used by the audit log to push a `since` filter
// down into the iterator instead of loading every event into memory.
func (s *Store) ListFromKey(ctx context.Context, prefix, seekKey string) ([]KeyValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []KeyValue
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		start := seekKey
		if start == "" || bytes.Compare([]byte(start), []byte(prefix)) < 0 {
			start = prefix
		}
		p := []byte(prefix)
		for it.Seek([]byte(start)); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			var v []byte
			if err := item.Value(func(val []byte) error {
				v = append([]byte(nil), val...)
				return nil
			}); err != nil {
				return err
			}
			out = append(out, KeyValue{Key: string(item.Key()), Value: v})
		}
		return nil
	})
	return out, err
}
