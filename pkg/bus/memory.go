package bus

import (
	"context"
	"sync"

	"github.com/hashicorp/go-hclog"
)

const memoryQueueSize = 1024

// MemoryBus delivers messages between subscribers of the same process.
// Every subscription gets its own ordered queue; a full queue drops.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[*memorySub]struct{}
	closed bool
	log    hclog.Logger
}

var _ Bus = (*MemoryBus)(nil)

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus(logger hclog.Logger) *MemoryBus {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &MemoryBus{subs: make(map[*memorySub]struct{}), log: logger.Named("bus")}
}

type delivery struct {
	topic string
	msg   Message
}

type memorySub struct {
	bus      *MemoryBus
	patterns []string
	handler  Handler
	queue    chan delivery
	done     chan struct{}
	once     sync.Once
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for s := range b.subs {
		if !s.matches(topic) {
			continue
		}
		select {
		case s.queue <- delivery{topic: topic, msg: msg}:
		case <-s.done:
		default:
			b.log.Warn("subscriber queue full, dropping message", "topic", topic, "type", msg.Type)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, patterns []string, h Handler) (Subscription, error) {
	s := &memorySub{
		bus:      b,
		patterns: append([]string(nil), patterns...),
		handler:  h,
		queue:    make(chan delivery, memoryQueueSize),
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.run()
	return s, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*memorySub]struct{})
	b.mu.Unlock()

	for s := range subs {
		s.stop()
	}
	return nil
}

func (s *memorySub) matches(topic string) bool {
	for _, p := range s.patterns {
		if Match(p, topic) {
			return true
		}
	}
	return false
}

func (s *memorySub) run() {
	for {
		select {
		case <-s.done:
			return
		case d := <-s.queue:
			s.handler(d.topic, d.msg)
		}
	}
}

func (s *memorySub) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	s.stop()
	return nil
}
