package storage

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps reservations in a map and expires them with a janitor.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]Reservation
	stop   chan struct{}
	once   sync.Once
	closed bool
}

var _ ReservationStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{data: make(map[string]Reservation), stop: make(chan struct{})}
	go m.janitor(time.Second)
	return m
}

func (m *MemoryStore) Close() error {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.stop)
	})
	return nil
}

func (m *MemoryStore) janitor(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			now := time.Now()
			m.mu.Lock()
			for k, r := range m.data {
				if r.Expired(now) {
					delete(m.data, k)
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *MemoryStore) Reserve(ctx context.Context, key, worker string, ttl time.Duration) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	m.data[key] = Reservation{Worker: worker, ExpiresAt: exp}
	return nil
}

func (m *MemoryStore) Lookup(ctx context.Context, key string) (Reservation, bool, error) {
	_ = ctx
	m.mu.RLock()
	r, ok := m.data[key]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return Reservation{}, false, ErrClosed
	}
	if !ok || r.Expired(time.Now()) {
		return Reservation{}, false, nil
	}
	return r, true, nil
}

func (m *MemoryStore) Release(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string) (map[string]Reservation, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	now := time.Now()
	out := make(map[string]Reservation)
	for k, r := range m.data {
		if strings.HasPrefix(k, prefix) && !r.Expired(now) {
			out[k] = r
		}
	}
	return out, nil
}
