package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/vmihailenco/msgpack/v5"
)

var leveldbPrefix = []byte("cc:")

// envelope wraps a stored value with its expiry (unix nanoseconds, 0 = never).
type envelope struct {
	ExpiresAt int64  `msgpack:"e"`
	Value     []byte `msgpack:"v"`
}

// LevelDBStore is a basic Store persisted in a LevelDB database on disk.
// Expired items are dropped when read.
type LevelDBStore struct {
	db  *leveldb.DB
	now func() time.Time
}

// OpenLevelDBStore opens (or creates) the database at path.
func OpenLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return NewLevelDBStore(db), nil
}

// NewLevelDBStore creates a store on an open database.
func NewLevelDBStore(db *leveldb.DB) *LevelDBStore {
	if db == nil {
		panic("leveldb database cannot be nil")
	}
	return &LevelDBStore{db: db, now: time.Now}
}

// SetClock replaces the time source (for testing).
func (s *LevelDBStore) SetClock(now func() time.Time) {
	s.now = now
}

// Close closes the database.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

// Layer implements Store.
func (s *LevelDBStore) Layer() string {
	return "leveldb"
}

// Get implements Store.
func (s *LevelDBStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.db.Get(dbKey(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("leveldb get: %w", err)
	}

	var env envelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if env.ExpiresAt != 0 && s.now().UnixNano() >= env.ExpiresAt {
		_ = s.db.Delete(dbKey(key), nil)
		return nil, ErrCacheMiss
	}
	return env.Value, nil
}

// Has implements Store.
func (s *LevelDBStore) Has(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Set implements Store.
func (s *LevelDBStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	env := envelope{Value: value}
	if ttl > 0 {
		env.ExpiresAt = s.now().Add(ttl).UnixNano()
	}

	raw, err := msgpack.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := s.db.Put(dbKey(key), raw, nil); err != nil {
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *LevelDBStore) Delete(ctx context.Context, keys ...string) error {
	batch := new(leveldb.Batch)
	for _, key := range keys {
		batch.Delete(dbKey(key))
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldb delete: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *LevelDBStore) Clear(ctx context.Context) error {
	iter := s.db.NewIterator(util.BytesPrefix(leveldbPrefix), nil)
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("leveldb iterate: %w", err)
	}

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldb clear: %w", err)
	}
	return nil
}

func dbKey(key string) []byte {
	return append(append([]byte(nil), leveldbPrefix...), key...)
}
