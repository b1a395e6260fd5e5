package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern, topic string
		want           bool
	}{
		{"clusterManager.slave.#", "clusterManager.slave", true},
		{"clusterManager.slave.#", "clusterManager.slave.n1", true},
		{"clusterManager.slave.#", "clusterManager.master", false},
		{"clusterManager.*.n1", "clusterManager.slave.n1", true},
		{"clusterManager.*.n1", "clusterManager.slave.n2", false},
		{"clusterManager.*.n1", "clusterManager.n1", false},
		{"clusterManager.#", "clusterManager.candidate", true},
		{"#", "anything.at.all", true},
		{"a.b", "a.b.c", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Match(c.pattern, c.topic), "%s vs %s", c.pattern, c.topic)
	}
}

func TestGlobPatterns(t *testing.T) {
	got := GlobPatterns([]string{"clusterManager.slave.#", "clusterManager.*.n1", "#"})
	assert.Equal(t, []string{"clusterManager.slave", "clusterManager.slave.*", "clusterManager.*.n1", "*"}, got)
}

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) handle(topic string, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, topic+":"+msg.Type)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestMemoryBusDeliversInOrder(t *testing.T) {
	b := NewMemoryBus(nil)
	defer b.Close()

	var rec recorder
	_, err := b.Subscribe(context.Background(), []string{"clusterManager.slave.#"}, rec.handle)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "clusterManager.slave", Message{Type: "a"}))
	require.NoError(t, b.Publish(ctx, "clusterManager.master", Message{Type: "skip"}))
	require.NoError(t, b.Publish(ctx, "clusterManager.slave.n1", Message{Type: "b"}))

	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"clusterManager.slave:a", "clusterManager.slave.n1:b"}, rec.snapshot())
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	b := NewMemoryBus(nil)
	defer b.Close()

	var rec recorder
	sub, err := b.Subscribe(context.Background(), []string{"t"}, rec.handle)
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())

	require.NoError(t, b.Publish(context.Background(), "t", Message{Type: "x"}))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestMemoryBusClosed(t *testing.T) {
	b := NewMemoryBus(nil)
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(context.Background(), "t", Message{}), ErrClosed)
	_, err := b.Subscribe(context.Background(), []string{"t"}, func(string, Message) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMessageRoundTrip(t *testing.T) {
	msg, err := NewMessage("declareMaster", map[string]any{"id": "n1", "life_time": 3})
	require.NoError(t, err)

	var out struct {
		ID       string `json:"id"`
		LifeTime uint64 `json:"life_time"`
	}
	require.NoError(t, msg.Decode(&out))
	assert.Equal(t, "n1", out.ID)
	assert.Equal(t, uint64(3), out.LifeTime)

	assert.Error(t, Message{Type: "empty"}.Decode(&out))
}
