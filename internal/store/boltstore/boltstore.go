// Package boltstore is a bbolt-backed manifest with the same contract as the
// SQLite store.
//
// Layout: one top-level bucket per network, holding
//
//	records/  8-byte big-endian sequence -> JSON record
//	active/   unit name -> sequence key of the active record
//	history/  unit name/ -> sequence key -> record id, one per record of the unit
//
// Every write runs in a single db.Update transaction; bbolt allows one
// writer at a time, which serializes the compare-and-swap per key.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"go.etcd.io/bbolt"

	"github.com/roach88/deploydag/internal/ir"
	"github.com/roach88/deploydag/internal/store"
)

var (
	recordsBucket = []byte("records")
	activeBucket  = []byte("active")
	historyBucket = []byte("history")
)

const pageSize = 64

var _ store.Manifest = (*Store)(nil)

// Store is the bbolt manifest.
type Store struct {
	db *bbolt.DB
}

// Open creates or opens a bbolt manifest file.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database file.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func decode(data []byte) (ir.Record, error) {
	var rec ir.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return ir.Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

func encode(rec ir.Record) ([]byte, error) {
	if rec.Args == nil {
		rec.Args = ir.IRArray{}
	}
	if rec.Libraries == nil {
		rec.Libraries = []ir.LibraryLink{}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

// activeRecord reads the active record of unit from a network bucket.
func activeRecord(nb *bbolt.Bucket, unit string) (ir.Record, []byte, bool, error) {
	if nb == nil {
		return ir.Record{}, nil, false, nil
	}
	key := nb.Bucket(activeBucket).Get([]byte(unit))
	if key == nil {
		return ir.Record{}, nil, false, nil
	}
	data := nb.Bucket(recordsBucket).Get(key)
	if data == nil {
		return ir.Record{}, nil, false, fmt.Errorf("active index for %q points at missing record %x", unit, key)
	}
	rec, err := decode(data)
	if err != nil {
		return ir.Record{}, nil, false, err
	}
	return rec, slices.Clone(key), true, nil
}

// Put implements store.Manifest.
func (s *Store) Put(ctx context.Context, rec ir.Record, mode ir.PutMode) (ir.Record, bool, error) {
	if rec.ID == "" {
		return ir.Record{}, false, fmt.Errorf("put: record %s/%s has no id", rec.Network, rec.Unit)
	}
	if err := ctx.Err(); err != nil {
		return ir.Record{}, false, err
	}

	var (
		result  ir.Record
		written bool
	)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		nb, err := networkBucket(tx, rec.Network)
		if err != nil {
			return err
		}

		existing, existingKey, found, err := activeRecord(nb, rec.Unit)
		if err != nil {
			return err
		}
		if found {
			if existing.ID == rec.ID {
				result, written = existing, true
				return nil
			}
			if mode == ir.PutIfAbsent {
				result = existing
				return nil
			}
			existing.Active = false
			data, err := encode(existing)
			if err != nil {
				return err
			}
			if err := nb.Bucket(recordsBucket).Put(existingKey, data); err != nil {
				return err
			}
			rec.Supersedes = existing.ID
		}

		records := nb.Bucket(recordsBucket)
		seq, err := records.NextSequence()
		if err != nil {
			return err
		}
		rec.Seq = int64(seq)
		rec.Active = true

		data, err := encode(rec)
		if err != nil {
			return err
		}
		key := seqKey(seq)
		if err := records.Put(key, data); err != nil {
			return err
		}
		if err := nb.Bucket(activeBucket).Put([]byte(rec.Unit), key); err != nil {
			return err
		}
		hb, err := nb.Bucket(historyBucket).CreateBucketIfNotExists([]byte(rec.Unit))
		if err != nil {
			return err
		}
		if err := hb.Put(key, []byte(rec.ID)); err != nil {
			return err
		}
		result, written = rec, true
		return nil
	})
	if err != nil {
		return ir.Record{}, false, fmt.Errorf("put: %w", err)
	}
	return result, written, nil
}

func networkBucket(tx *bbolt.Tx, network string) (*bbolt.Bucket, error) {
	if network == "" {
		return nil, errors.New("network is empty")
	}
	nb, err := tx.CreateBucketIfNotExists([]byte(network))
	if err != nil {
		return nil, err
	}
	if _, err := nb.CreateBucketIfNotExists(recordsBucket); err != nil {
		return nil, err
	}
	if _, err := nb.CreateBucketIfNotExists(activeBucket); err != nil {
		return nil, err
	}
	if _, err := nb.CreateBucketIfNotExists(historyBucket); err != nil {
		return nil, err
	}
	return nb, nil
}

// Get implements store.Manifest.
func (s *Store) Get(ctx context.Context, network, unit string) (ir.Record, error) {
	var (
		rec   ir.Record
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		rec, _, found, err = activeRecord(tx.Bucket([]byte(network)), unit)
		return err
	})
	if err != nil {
		return ir.Record{}, fmt.Errorf("get %s/%s: %w", network, unit, err)
	}
	if !found {
		return ir.Record{}, &ir.NotFoundError{Network: network, Unit: unit}
	}
	return rec, nil
}

// All implements store.Manifest. Each page is read in its own View
// transaction, so no transaction is open while the caller holds a record.
func (s *Store) All(ctx context.Context, network string) iter.Seq2[ir.Record, error] {
	return func(yield func(ir.Record, error) bool) {
		var after []byte
		for {
			if err := ctx.Err(); err != nil {
				yield(ir.Record{}, err)
				return
			}
			page, last, err := s.page(network, after)
			if err != nil {
				yield(ir.Record{}, err)
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}
			if last == nil {
				return
			}
			after = last
		}
	}
}

// page returns up to pageSize active records after the given key, and the
// key to continue from (nil when the bucket is exhausted).
func (s *Store) page(network string, after []byte) ([]ir.Record, []byte, error) {
	var (
		page []ir.Record
		last []byte
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		nb := tx.Bucket([]byte(network))
		if nb == nil {
			return nil
		}
		c := nb.Bucket(recordsBucket).Cursor()

		var k, v []byte
		if after == nil {
			k, v = c.First()
		} else {
			k, v = c.Seek(after)
			if k != nil && string(k) == string(after) {
				k, v = c.Next()
			}
		}

		scanned := 0
		for ; k != nil; k, v = c.Next() {
			rec, err := decode(v)
			if err != nil {
				return err
			}
			if rec.Active {
				page = append(page, rec)
			}
			scanned++
			if scanned == pageSize {
				last = slices.Clone(k)
				return nil
			}
		}
		return nil
	})
	return page, last, err
}

// History implements store.Manifest.
func (s *Store) History(ctx context.Context, network, unit string) ([]ir.Record, error) {
	var history []ir.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		nb := tx.Bucket([]byte(network))
		if nb == nil {
			return nil
		}
		hb := nb.Bucket(historyBucket).Bucket([]byte(unit))
		if hb == nil {
			return nil
		}
		records := nb.Bucket(recordsBucket)
		return hb.ForEach(func(k, _ []byte) error {
			data := records.Get(k)
			if data == nil {
				return fmt.Errorf("history index for %q points at missing record %x", unit, k)
			}
			rec, err := decode(data)
			if err != nil {
				return err
			}
			history = append(history, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("history %s/%s: %w", network, unit, err)
	}
	if len(history) == 0 {
		return nil, &ir.NotFoundError{Network: network, Unit: unit}
	}
	return history, nil
}

// Networks implements store.Manifest.
func (s *Store) Networks(ctx context.Context) ([]string, error) {
	networks := []string{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			networks = append(networks, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("networks: %w", err)
	}
	return networks, nil
}
