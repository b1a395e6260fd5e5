package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clustermgr/pkg/scheduler"
)

// reservedWorkers strips expiry times, which drift between replicas.
func reservedWorkers(snap Snapshot) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for purpose, ss := range snap.Schedulers {
		out[purpose] = make(map[string]string)
		for task, r := range ss.Reservations {
			out[purpose][task] = r.Worker
		}
	}
	return out
}

func schedulerWorkers(snap Snapshot) map[string]map[string]scheduler.WorkerStatus {
	out := make(map[string]map[string]scheduler.WorkerStatus)
	for purpose, ss := range snap.Schedulers {
		out[purpose] = ss.Workers
	}
	return out
}

func TestSlaveConvergesOnSnapshotAndEvents(t *testing.T) {
	events := &eventLog{}
	master := newManager(t)
	master.SetReplicator(events.record)
	serve(t, master, nil)

	ctx := context.Background()
	master.Join("video", "w1", scheduler.WorkerInfo{IP: "10.0.0.1"})
	master.Join("video", "w2", scheduler.WorkerInfo{IP: "10.0.0.2"})
	_, err := master.Schedule(ctx, "video", "t1", scheduler.Preference{}, time.Minute)
	require.NoError(t, err)

	snap, err := master.Snapshot()
	require.NoError(t, err)
	seen := len(events.all())

	notifier := &recordingNotifier{}
	slave := newManager(t, WithNotifier(notifier))
	require.NoError(t, slave.Restore(snap))
	assert.False(t, slave.Freshman())

	master.Join("audio", "a1", scheduler.WorkerInfo{Capacity: scheduler.Capacity{Regions: []string{"eu"}}})
	master.ReportLoad("w1", 0.7)
	master.ReportState("w2", scheduler.StateBusy)
	master.PickUpTasks("w1", []string{"t1", "t9"})
	master.LayDownTask("w1", "t9")
	_, err = master.Schedule(ctx, "audio", "t2", scheduler.Preference{Region: "eu"}, 30*time.Second)
	require.NoError(t, err)
	master.Unschedule("w1", "t1")
	master.Quit("w2")

	for _, e := range events.all()[seen:] {
		data, err := EncodeEvent(e)
		require.NoError(t, err)
		decoded, err := DecodeEvent(data)
		require.NoError(t, err)
		require.NoError(t, slave.Apply(decoded))
	}

	want, err := master.Snapshot()
	require.NoError(t, err)
	got, err := slave.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, want.Workers, got.Workers)
	assert.Equal(t, schedulerWorkers(want), schedulerWorkers(got))
	assert.Equal(t, reservedWorkers(want), reservedWorkers(got))
	assert.Equal(t, master.Purposes(), slave.Purposes())

	assert.Empty(t, notifier.added)
	assert.Empty(t, notifier.removed)
}

func TestApplyDroppedWhileFreshman(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.Apply(WorkerJoin{Purpose: "video", Worker: "w1"}))
	assert.Empty(t, m.GetWorkers(AllPurposes))

	require.NoError(t, m.Restore(Snapshot{}))
	require.NoError(t, m.Apply(WorkerJoin{Purpose: "video", Worker: "w1"}))
	assert.Equal(t, []string{"w1"}, m.GetWorkers(AllPurposes))
}

func TestApplyIgnoredOnMaster(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.Restore(Snapshot{}))
	m.SetReplicator(func(Event) {})

	require.NoError(t, m.Apply(WorkerJoin{Purpose: "video", Worker: "w1"}))
	assert.Empty(t, m.GetWorkers(AllPurposes))
}

func TestRestoreReplacesRegistry(t *testing.T) {
	m := newManager(t)
	m.Join("video", "old", scheduler.WorkerInfo{})

	require.NoError(t, m.Restore(Snapshot{
		Workers: map[string]Worker{"w1": {Purpose: "audio", MissedHeartbeats: 1}},
	}))
	assert.Equal(t, []string{"w1"}, m.GetWorkers(AllPurposes))
	assert.Equal(t, []string{"audio"}, m.Purposes())
	assert.Equal(t, KeepAliveOK, m.KeepAlive("w1"))
}

func TestServeAfterRestoreSkipsGraceDelay(t *testing.T) {
	cfg := testConfig()
	cfg.InitialTime = time.Hour
	m := New(cfg)
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.Restore(Snapshot{}))
	m.Serve(context.Background(), nil)
	assert.Equal(t, StateInService, m.State())
}

func TestDecodeEvent(t *testing.T) {
	e, err := DecodeEvent([]byte(`{"type":"scheduled","payload":{"purpose":"video","task":"t1","worker":"w1","reserve_time":5000}}`))
	require.NoError(t, err)
	s, ok := e.(Scheduled)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, s.ReserveDuration())

	_, err = DecodeEvent([]byte(`{"type":"worker_teleport","payload":{}}`))
	assert.Error(t, err)

	_, err = DecodeEvent([]byte(`{"type":"worker_load","payload":{"worker":1}}`))
	assert.Error(t, err)
}
