package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pixperk/rolodex/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var recordsBucket = []byte("records")

// single-file embedded store
// bolt runs one read-write transaction at a time, so the read-compare-write
// inside each Update closure is atomic with respect to every other writer
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create records bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Insert(ctx context.Context, rec *types.Record) (*types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stored := rec.Clone()
	stored.Lock = nil

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		if b.Get([]byte(stored.ID)) != nil {
			return types.ErrAlreadyExists
		}
		return putRecord(b, stored)
	})
	if err != nil {
		return nil, err
	}
	return stored.Clone(), nil
}

func (s *BoltStore) Get(ctx context.Context, id string) (*types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *types.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = getRecord(tx.Bucket(recordsBucket), id)
		return err
	})
	return rec, err
}

func (s *BoltStore) List(ctx context.Context, q types.ListQuery) (*types.Page, error) {
	all, err := s.scan(ctx, func(*types.Record) bool { return true })
	if err != nil {
		return nil, err
	}
	return types.Paginate(all, q), nil
}

func (s *BoltStore) SwapLock(ctx context.Context, id, expected string, next *types.Lock) (*Result, error) {
	return s.update(ctx, id, expected, func(rec *types.Record) {
		rec.Lock = next.Clone()
	})
}

func (s *BoltStore) ReplaceFields(ctx context.Context, id, expected string, fields types.Fields, at time.Time) (*Result, error) {
	return s.update(ctx, id, expected, func(rec *types.Record) {
		rec.Fields = fields.Normalize()
		rec.Lock = nil
		rec.UpdatedAt = at
	})
}

func (s *BoltStore) Delete(ctx context.Context, id, expected string) (*types.Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var previous *types.Lock
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		rec, err := getRecord(b, id)
		if err != nil {
			return err
		}
		if rec.LockOwner() != expected {
			return types.ErrPreconditionFailed
		}
		previous = rec.Lock
		return b.Delete([]byte(id))
	})
	if err != nil {
		return nil, err
	}
	return previous, nil
}

func (s *BoltStore) Locked(ctx context.Context, owner string) ([]*types.Record, error) {
	locked, err := s.scan(ctx, func(rec *types.Record) bool {
		return rec.IsLocked() && (owner == "" || rec.LockOwner() == owner)
	})
	if err != nil {
		return nil, err
	}
	types.SortNewestFirst(locked)
	return locked, nil
}

func (s *BoltStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	_, err := s.scan(ctx, func(rec *types.Record) bool {
		stats.Records++
		if rec.IsLocked() {
			stats.Locks++
		}
		return false
	})
	return stats, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// read-compare-write of one record inside a single bolt transaction
func (s *BoltStore) update(ctx context.Context, id, expected string, mutate func(*types.Record)) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result Result
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		rec, err := getRecord(b, id)
		if err != nil {
			return err
		}
		if rec.LockOwner() != expected {
			return types.ErrPreconditionFailed
		}

		result.Previous = rec.Lock.Clone()
		mutate(rec)
		result.Record = rec.Clone()
		return putRecord(b, rec)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *BoltStore) scan(ctx context.Context, keep func(*types.Record) bool) ([]*types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*types.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).ForEach(func(k, v []byte) error {
			var rec types.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode record %s: %w", k, err)
			}
			if keep(&rec) {
				out = append(out, &rec)
			}
			return nil
		})
	})
	return out, err
}

func getRecord(b *bolt.Bucket, id string) (*types.Record, error) {
	v := b.Get([]byte(id))
	if v == nil {
		return nil, types.ErrNotFound
	}
	var rec types.Record
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	return &rec, nil
}

func putRecord(b *bolt.Bucket, rec *types.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	return b.Put([]byte(rec.ID), data)
}
