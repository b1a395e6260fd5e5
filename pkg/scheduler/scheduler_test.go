package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clustermgr/storage"
)

func newTestScheduler(t *testing.T, strategy string) *StrategyScheduler {
	t.Helper()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	s, err := New(Config{Purpose: "video", Strategy: strategy, ReserveTime: time.Minute, Store: store})
	require.NoError(t, err)
	return s
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	_, err := New(Config{Purpose: "video", Strategy: "best-guess"})
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestScheduleWithoutWorkers(t *testing.T) {
	s := newTestScheduler(t, LeastUsed)
	_, err := s.Schedule(context.Background(), "t1", Preference{}, 0)
	assert.ErrorIs(t, err, ErrNoWorker)
}

func TestScheduleLeastUsed(t *testing.T) {
	s := newTestScheduler(t, LeastUsed)
	s.Add("w1", WorkerInfo{IP: "10.0.0.1"})
	s.Add("w2", WorkerInfo{IP: "10.0.0.2"})
	s.UpdateLoad("w1", 0.6)
	s.UpdateLoad("w2", 0.1)

	p, err := s.Schedule(context.Background(), "t1", Preference{}, 0)
	require.NoError(t, err)
	assert.Equal(t, "w2", p.Worker)
	assert.Equal(t, "10.0.0.2", p.Info.IP)

	got, err := s.GetScheduled("t1")
	require.NoError(t, err)
	assert.Equal(t, "w2", got)
}

func TestScheduleKeepsExistingReservation(t *testing.T) {
	s := newTestScheduler(t, RoundRobin)
	s.Add("w1", WorkerInfo{})
	s.Add("w2", WorkerInfo{})

	first, err := s.Schedule(context.Background(), "t1", Preference{}, 0)
	require.NoError(t, err)
	second, err := s.Schedule(context.Background(), "t1", Preference{}, 0)
	require.NoError(t, err)
	assert.Equal(t, first.Worker, second.Worker)

	other, err := s.Schedule(context.Background(), "t2", Preference{}, 0)
	require.NoError(t, err)
	assert.NotEqual(t, first.Worker, other.Worker)
}

func TestScheduleSkipsBusyAndOverloaded(t *testing.T) {
	s := newTestScheduler(t, LeastUsed)
	s.Add("busy", WorkerInfo{})
	s.Add("full", WorkerInfo{MaxLoad: 0.8})
	s.Add("ok", WorkerInfo{MaxLoad: 0.8})
	s.UpdateState("busy", StateBusy)
	s.UpdateLoad("full", 0.9)
	s.UpdateLoad("ok", 0.5)

	p, err := s.Schedule(context.Background(), "t1", Preference{}, 0)
	require.NoError(t, err)
	assert.Equal(t, "ok", p.Worker)
}

func TestSchedulePreference(t *testing.T) {
	s := newTestScheduler(t, LeastUsed)
	s.Add("east", WorkerInfo{Capacity: Capacity{Regions: []string{"us-east"}}})
	s.Add("west", WorkerInfo{Capacity: Capacity{Regions: []string{"us-west"}}})
	s.UpdateLoad("west", 0.5)

	p, err := s.Schedule(context.Background(), "t1", Preference{Region: "us-west"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "west", p.Worker)

	// no match falls back to every eligible worker
	p, err = s.Schedule(context.Background(), "t2", Preference{Region: "eu"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "east", p.Worker)
}

func TestRemoveDropsReservations(t *testing.T) {
	s := newTestScheduler(t, LeastUsed)
	s.Add("w1", WorkerInfo{})
	_, err := s.Schedule(context.Background(), "t1", Preference{}, 0)
	require.NoError(t, err)

	s.Remove("w1")
	_, err = s.GetScheduled("t1")
	assert.ErrorIs(t, err, ErrNotScheduled)
	_, ok := s.GetInfo("w1")
	assert.False(t, ok)
}

func TestTasksAndUnschedule(t *testing.T) {
	s := newTestScheduler(t, LeastUsed)
	s.Add("w1", WorkerInfo{})
	s.PickUpTasks("w1", []string{"b", "a"})
	s.LayDownTask("w1", "b")
	assert.Equal(t, []string{"a"}, s.GetTasks("w1"))
	assert.Empty(t, s.GetTasks("nobody"))

	s.SetScheduled("t9", "w1", time.Minute)
	s.Unschedule("w2", "t9")
	got, err := s.GetScheduled("t9")
	require.NoError(t, err)
	assert.Equal(t, "w1", got)

	s.Unschedule("w1", "t9")
	_, err = s.GetScheduled("t9")
	assert.ErrorIs(t, err, ErrNotScheduled)
}

func TestSnapshotRestore(t *testing.T) {
	src := newTestScheduler(t, LeastUsed)
	src.Add("w1", WorkerInfo{Hostname: "box-1", Port: 8080})
	src.UpdateLoad("w1", 0.25)
	src.PickUpTasks("w1", []string{"t1"})
	src.SetScheduled("t1", "w1", time.Minute)

	snap, err := src.Snapshot()
	require.NoError(t, err)

	dst := newTestScheduler(t, LeastUsed)
	dst.SetScheduled("stale", "w9", time.Minute)
	require.NoError(t, dst.Restore(snap))

	st, ok := dst.GetInfo("w1")
	require.True(t, ok)
	assert.Equal(t, "box-1", st.Info.Hostname)
	assert.Equal(t, 0.25, st.Load)
	assert.Equal(t, []string{"t1"}, st.Tasks)

	got, err := dst.GetScheduled("t1")
	require.NoError(t, err)
	assert.Equal(t, "w1", got)
	_, err = dst.GetScheduled("stale")
	assert.ErrorIs(t, err, ErrNotScheduled)
}

func TestStrategies(t *testing.T) {
	cands := []Candidate{{ID: "a", Load: 0.5}, {ID: "b", Load: 0.1}, {ID: "c", Load: 0.9}}

	most, err := NewStrategy(MostUsed)
	require.NoError(t, err)
	assert.Equal(t, "c", most.Pick(cands))

	rr, err := NewStrategy(RoundRobin)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "a"}, []string{rr.Pick(cands), rr.Pick(cands), rr.Pick(cands), rr.Pick(cands)})

	last, err := NewStrategy(LastUsed)
	require.NoError(t, err)
	first := last.Pick(cands)
	assert.Equal(t, first, last.Pick(cands))

	random, err := NewStrategy(RandomlyPick)
	require.NoError(t, err)
	assert.Contains(t, []string{"a", "b", "c"}, random.Pick(cands))

	assert.Len(t, Strategies(), 5)
}

func TestPurposesShareStoreWithoutOverlap(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()
	outer, err := New(Config{Purpose: "a", Strategy: LeastUsed, ReserveTime: time.Minute, Store: store})
	require.NoError(t, err)
	nested, err := New(Config{Purpose: "a/b", Strategy: LeastUsed, ReserveTime: time.Minute, Store: store})
	require.NoError(t, err)

	nested.SetScheduled("t1", "w1", time.Minute)

	snap, err := outer.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap.Reservations)

	require.NoError(t, outer.Restore(Snapshot{}))
	got, err := nested.GetScheduled("t1")
	require.NoError(t, err)
	assert.Equal(t, "w1", got)

	outer.Remove("w1")
	got, err = nested.GetScheduled("t1")
	require.NoError(t, err)
	assert.Equal(t, "w1", got)
}
