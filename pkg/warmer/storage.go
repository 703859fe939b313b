package warmer

import (
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/Sternrassler/contentful-cache/pkg/delivery"
)

// bucketQueries holds one record per resolved query.
const bucketQueries = "queries"

// StoredQuery is a recorded query.
type StoredQuery struct {
	CacheID string `msgpack:"cache_id"`
	Query   string `msgpack:"query"`
}

// key identifies the record. Queries stored under a cache id replace each
// other; anonymous queries are keyed by their canonical query string.
func (q StoredQuery) key() []byte {
	if q.CacheID != "" {
		return []byte("id:" + q.CacheID)
	}
	return []byte("q:" + q.Query)
}

// BoltQueryStorage persists resolved queries in a bbolt database so they
// can be replayed by the warmer.
type BoltQueryStorage struct {
	db *bolt.DB
}

// OpenBoltQueryStorage opens or creates the database at path.
func OpenBoltQueryStorage(path string) (*BoltQueryStorage, error) {
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open query storage: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketQueries))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init query storage: %w", err)
	}

	return &BoltQueryStorage{db: db}, nil
}

// Close closes the database.
func (s *BoltQueryStorage) Close() error {
	return s.db.Close()
}

// SaveQuery records q under cacheID.
func (s *BoltQueryStorage) SaveQuery(ctx context.Context, cacheID string, q *delivery.Query) error {
	record := StoredQuery{CacheID: cacheID, Query: q.QueryString()}
	data, err := msgpack.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode query: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketQueries)).Put(record.key(), data)
	})
}

// Queries returns every recorded query in key order.
func (s *BoltQueryStorage) Queries(ctx context.Context) ([]StoredQuery, error) {
	var out []StoredQuery
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketQueries)).ForEach(func(k, v []byte) error {
			var q StoredQuery
			if err := msgpack.Unmarshal(v, &q); err != nil {
				return fmt.Errorf("decode query %s: %w", k, err)
			}
			out = append(out, q)
			return nil
		})
	})
	return out, err
}

// Len returns the number of recorded queries.
func (s *BoltQueryStorage) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(bucketQueries)).Stats().KeyN
		return nil
	})
	return n, err
}
