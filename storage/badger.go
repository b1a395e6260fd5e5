package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerOptions selects where the badger database lives.
type BadgerOptions struct {
	// DataDir is the on-disk location. Ignored when InMemory is set.
	DataDir  string
	InMemory bool
}

// BadgerStore keeps reservations as badger entries whose TTL matches the
// reservation window, so expiry is handled by badger itself.
type BadgerStore struct {
	db   *badger.DB
	stop chan struct{}
}

var _ ReservationStore = (*BadgerStore)(nil)

// NewBadgerStore opens a badger database for reservations.
func NewBadgerStore(o BadgerOptions) (*BadgerStore, error) {
	opts := badger.DefaultOptions(o.DataDir).
		WithLogger(nil).
		WithLoggingLevel(badger.ERROR)
	if o.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	s := &BadgerStore{db: db, stop: make(chan struct{})}
	if !o.InMemory {
		go s.runGC()
	}
	return s, nil
}

// runGC runs the value log garbage collector periodically
func (s *BadgerStore) runGC() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.db.RunValueLogGC(0.7)
		}
	}
}

func (s *BadgerStore) Reserve(ctx context.Context, key, worker string, ttl time.Duration) error {
	r := Reservation{Worker: worker}
	if ttl > 0 {
		r.ExpiresAt = time.Now().Add(ttl)
	}
	value, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

func (s *BadgerStore) Lookup(ctx context.Context, key string) (Reservation, bool, error) {
	var r Reservation
	var found bool

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
	})
	if err != nil {
		return Reservation{}, false, err
	}
	// badger TTLs have second granularity
	if found && r.Expired(time.Now()) {
		return Reservation{}, false, nil
	}
	return r, found, nil
}

func (s *BadgerStore) Release(ctx context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
}

func (s *BadgerStore) List(ctx context.Context, prefix string) (map[string]Reservation, error) {
	out := make(map[string]Reservation)
	now := time.Now()

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var r Reservation
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return err
			}
			if !r.Expired(now) {
				out[string(item.KeyCopy(nil))] = r
			}
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) Close() error {
	select {
	case <-s.stop:
		return nil
	default:
		close(s.stop)
	}
	return s.db.Close()
}
