package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clustermgr/pkg/bus"
	"clustermgr/pkg/manager"
	"clustermgr/pkg/scheduler"
)

type fakeRegistrar struct {
	mu           sync.Mutex
	rpcErr       error
	registered   int
	unregistered int
}

func (r *fakeRegistrar) RegisterRPC(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rpcErr != nil {
		return r.rpcErr
	}
	r.registered++
	return nil
}

func (r *fakeRegistrar) RegisterMonitor(ctx context.Context) (manager.Monitor, error) {
	return nil, nil
}

func (r *fakeRegistrar) Unregister() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregistered++
}

type testNode struct {
	*Node
	mgr    *manager.Manager
	reg    *fakeRegistrar
	cancel context.CancelFunc
	done   chan error
}

func startNode(t *testing.T, b bus.Bus, id string) *testNode {
	t.Helper()
	return startNodeWith(t, b, id, &fakeRegistrar{})
}

func startNodeWith(t *testing.T, b bus.Bus, id string, reg *fakeRegistrar) *testNode {
	t.Helper()
	mgr := manager.New(manager.Config{
		ClusterName:      "test",
		InitialTime:      10 * time.Millisecond,
		CheckAlivePeriod: time.Hour,
	})
	n := New(Config{NodeID: id}, b, mgr, reg)

	ctx, cancel := context.WithCancel(context.Background())
	tn := &testNode{Node: n, mgr: mgr, reg: reg, cancel: cancel, done: make(chan error, 1)}
	go func() { tn.done <- n.Run(ctx) }()

	t.Cleanup(func() {
		tn.stop(t)
		_ = mgr.Close()
	})
	return tn
}

func (tn *testNode) stop(t *testing.T) {
	tn.cancel()
	select {
	case <-tn.done:
	case <-time.After(2 * time.Second):
		t.Errorf("node %s did not stop", tn.ID())
	}
	// keep the result available for later stop calls
	tn.done <- nil
}

func waitRole(t *testing.T, n *testNode, role Role) {
	t.Helper()
	require.Eventually(t, func() bool { return n.Role() == role }, 3*time.Second, 10*time.Millisecond,
		"node %s never became %s", n.ID(), role)
}

func publish(t *testing.T, b bus.Bus, topic, typ string, data any) {
	t.Helper()
	msg, err := bus.NewMessage(typ, data)
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), topic, msg))
}

func TestSingleNodeBecomesMaster(t *testing.T) {
	b := bus.NewMemoryBus(nil)
	defer b.Close()

	n := startNode(t, b, "node-1")
	waitRole(t, n, RoleMaster)
	require.Eventually(t, func() bool { return n.mgr.State() == manager.StateInService }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, n.reg.registered)
}

func TestGreatestIDBecomesMaster(t *testing.T) {
	b := bus.NewMemoryBus(nil)
	defer b.Close()

	a := startNode(t, b, "node-a")
	c := startNode(t, b, "node-c")
	bb := startNode(t, b, "node-b")

	waitRole(t, c, RoleMaster)
	waitRole(t, a, RoleSlave)
	waitRole(t, bb, RoleSlave)

	// roles stay put while the master keeps beating
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, RoleMaster, c.Role())
	assert.Equal(t, RoleSlave, a.Role())
	assert.Equal(t, RoleSlave, bb.Role())
}

func TestLateNodeJoinsAsSlaveAndReplicates(t *testing.T) {
	b := bus.NewMemoryBus(nil)
	defer b.Close()

	master := startNode(t, b, "node-1")
	waitRole(t, master, RoleMaster)
	master.mgr.Join("video", "w1", scheduler.WorkerInfo{IP: "10.0.0.1"})

	slave := startNode(t, b, "node-9")
	waitRole(t, slave, RoleSlave)
	require.Eventually(t, func() bool { return !slave.mgr.Freshman() }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"w1"}, slave.mgr.GetWorkers("video"))

	master.mgr.Join("video", "w2", scheduler.WorkerInfo{})
	master.mgr.Quit("w1")
	require.Eventually(t, func() bool {
		got := slave.mgr.GetWorkers("video")
		return len(got) == 1 && got[0] == "w2"
	}, 2*time.Second, 10*time.Millisecond)
}

// hookedBus runs a hook right before the first runtimeData is published.
type hookedBus struct {
	bus.Bus
	mu   sync.Mutex
	hook func()
}

func (h *hookedBus) setHook(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hook = fn
}

func (h *hookedBus) Publish(ctx context.Context, topic string, msg bus.Message) error {
	if msg.Type == MsgRuntimeData {
		h.mu.Lock()
		hook := h.hook
		h.hook = nil
		h.mu.Unlock()
		if hook != nil {
			hook()
		}
	}
	return h.Bus.Publish(ctx, topic, msg)
}

func TestSnapshotHandOffOrderedWithConcurrentJoin(t *testing.T) {
	b := bus.NewMemoryBus(nil)
	defer b.Close()
	hb := &hookedBus{Bus: b}

	master := startNode(t, hb, "node-1")
	waitRole(t, master, RoleMaster)
	master.mgr.Join("video", "w1", scheduler.WorkerInfo{})

	// a worker joins while the snapshot is on its way out
	joined := make(chan struct{})
	hb.setHook(func() {
		go func() {
			master.mgr.Join("video", "w2", scheduler.WorkerInfo{})
			close(joined)
		}()
		select {
		case <-joined:
		case <-time.After(50 * time.Millisecond):
		}
	})

	slave := startNode(t, b, "node-9")
	waitRole(t, slave, RoleSlave)
	select {
	case <-joined:
	case <-time.After(2 * time.Second):
		t.Fatal("concurrent join never finished")
	}

	want := []string{"w1", "w2"}
	assert.Equal(t, want, master.mgr.GetWorkers("video"))
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, slave.mgr.GetWorkers("video"))
	}, 2*time.Second, 10*time.Millisecond, "slave has %v", slave.mgr.GetWorkers("video"))

	// nothing arrives later to repair a replica that missed w2
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, want, slave.mgr.GetWorkers("video"))
}

func TestSlaveTakesOverWhenMasterIsLost(t *testing.T) {
	b := bus.NewMemoryBus(nil)
	defer b.Close()

	master := startNode(t, b, "node-9")
	waitRole(t, master, RoleMaster)
	master.mgr.Join("video", "w1", scheduler.WorkerInfo{})

	slave := startNode(t, b, "node-1")
	waitRole(t, slave, RoleSlave)
	require.Eventually(t, func() bool { return !slave.mgr.Freshman() }, 2*time.Second, 10*time.Millisecond)

	master.stop(t)
	assert.Equal(t, 1, master.reg.unregistered)

	waitRole(t, slave, RoleMaster)
	// a replica that already holds state goes in service without the grace delay
	assert.Equal(t, manager.StateInService, slave.mgr.State())
	assert.Equal(t, []string{"w1"}, slave.mgr.GetWorkers("video"))
}

func TestCandidateYieldsToDeclaredMaster(t *testing.T) {
	b := bus.NewMemoryBus(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		var life uint64
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				life++
				msg, _ := bus.NewMessage(MsgDeclareMaster, DeclareMaster{ID: "node-0", LifeTime: life})
				_ = b.Publish(ctx, TopicCandidate, msg)
				_ = b.Publish(ctx, TopicSlave, msg)
			}
		}
	}()

	// the greatest ID would win an election, but a declared master ends it
	n := startNode(t, b, "node-z")
	waitRole(t, n, RoleSlave)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, RoleSlave, n.Role())
	assert.Zero(t, n.reg.registered)
}

func TestMasterConcedesToSeniorMaster(t *testing.T) {
	b := bus.NewMemoryBus(nil)
	defer b.Close()

	n := startNode(t, b, "node-1")
	waitRole(t, n, RoleMaster)

	publish(t, b, TopicMaster, MsgDeclareMaster, DeclareMaster{ID: "node-2", LifeTime: 0})
	publish(t, b, TopicMaster, MsgDeclareMaster, DeclareMaster{ID: "node-1", LifeTime: 1 << 40})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, RoleMaster, n.Role())

	publish(t, b, TopicMaster, MsgDeclareMaster, DeclareMaster{ID: "node-2", LifeTime: 1 << 40})
	select {
	case err := <-n.done:
		assert.ErrorIs(t, err, ErrSplitBrainConcede)
		n.done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("master did not concede")
	}
}

func TestRegistrationFailureIsFatal(t *testing.T) {
	b := bus.NewMemoryBus(nil)
	defer b.Close()

	n := startNodeWith(t, b, "node-1", &fakeRegistrar{rpcErr: errors.New("address in use")})
	select {
	case err := <-n.done:
		assert.ErrorIs(t, err, ErrTransportRegistration)
		n.done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("registration failure did not stop the node")
	}
}

func TestMasterAnswersRuntimeDataRequests(t *testing.T) {
	b := bus.NewMemoryBus(nil)
	defer b.Close()

	n := startNode(t, b, "node-1")
	waitRole(t, n, RoleMaster)
	n.mgr.Join("video", "w1", scheduler.WorkerInfo{})

	got := make(chan manager.Snapshot, 1)
	sub, err := b.Subscribe(context.Background(), []string{slaveTopic("probe")}, func(topic string, msg bus.Message) {
		if msg.Type != MsgRuntimeData {
			return
		}
		var snap manager.Snapshot
		if msg.Decode(&snap) == nil {
			got <- snap
		}
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	publish(t, b, TopicMaster, MsgRequestRuntimeData, "probe")
	select {
	case snap := <-got:
		assert.Contains(t, snap.Workers, "w1")
	case <-time.After(2 * time.Second):
		t.Fatal("no runtime data")
	}
}

func TestDefaultTiming(t *testing.T) {
	var tm Timing
	tm.applyDefaults()
	assert.Equal(t, DefaultTiming(), tm)
	assert.Equal(t, 160*time.Millisecond, tm.DecideAfter)
}
