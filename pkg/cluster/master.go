package cluster

import (
	"fmt"

	"clustermgr/pkg/bus"
	"clustermgr/pkg/manager"
	"clustermgr/pkg/metrics"
)

func (n *Node) runAsMaster(s *roleScope) error {
	n.lifeTime = 0
	// mutations accepted through the endpoints below must already replicate
	n.coord.SetReplicator(n.replicate)
	s.onClose(func() { n.coord.SetReplicator(nil) })

	if err := n.reg.RegisterRPC(s.ctx); err != nil {
		return fmt.Errorf("%w: rpc: %v", ErrTransportRegistration, err)
	}
	s.onClose(n.reg.Unregister)
	monitor, err := n.reg.RegisterMonitor(s.ctx)
	if err != nil {
		return fmt.Errorf("%w: monitoring: %v", ErrTransportRegistration, err)
	}

	n.coord.Serve(n.ctx, monitor)
	n.every(s, n.cfg.Timing.HeartbeatInterval, n.heartbeat)

	if err := n.subscribe(s, []string{TopicMaster + ".#", directTopic(n.cfg.NodeID)}, n.onMasterMessage); err != nil {
		return err
	}
	n.log.Info("in service as master")
	return nil
}

func (n *Node) heartbeat() {
	n.lifeTime++
	metrics.HeartbeatLifeTime.WithLabelValues(n.cfg.NodeID).Set(float64(n.lifeTime))
	hb := DeclareMaster{ID: n.cfg.NodeID, LifeTime: n.lifeTime}
	for _, topic := range []string{TopicSlave, TopicCandidate, TopicMaster} {
		n.publish(topic, MsgDeclareMaster, hb)
	}
}

func (n *Node) onMasterMessage(topic string, msg bus.Message) {
	switch msg.Type {
	case MsgRequestRuntimeData:
		from, err := decodeString(msg)
		if err != nil {
			n.log.Warn("bad runtime data request", "error", err)
			return
		}
		if from == n.cfg.NodeID {
			n.log.Error("runtime data requested by myself")
			return
		}
		n.log.Info("runtime data requested", "from", from)
		// published under the manager lock, ahead of any later updateData
		err = n.coord.SnapshotTo(func(snap manager.Snapshot) {
			n.publish(slaveTopic(from), MsgRuntimeData, snap)
		})
		if err != nil {
			n.log.Error("snapshot failed", "error", err)
		}

	case MsgDeclareMaster:
		var hb DeclareMaster
		if err := msg.Decode(&hb); err != nil {
			n.log.Warn("bad heartbeat", "error", err)
			return
		}
		if hb.ID == n.cfg.NodeID {
			return
		}
		n.log.Error("double master", "other", hb.ID, "other_life_time", hb.LifeTime, "life_time", n.lifeTime)
		if hb.LifeTime > n.lifeTime {
			n.fatal = fmt.Errorf("%w: %s has life time %d, mine is %d", ErrSplitBrainConcede, hb.ID, hb.LifeTime, n.lifeTime)
		}
	}
}

// replicate runs on the caller of the manager mutation, under the manager lock.
func (n *Node) replicate(e manager.Event) {
	data, err := manager.EncodeEvent(e)
	if err != nil {
		n.log.Error("encode event failed", "type", e.Type(), "error", err)
		return
	}
	if err := n.bus.Publish(n.ctx, TopicSlave, bus.Message{Type: MsgUpdateData, Data: data}); err != nil {
		n.log.Warn("publish update failed", "type", e.Type(), "error", err)
	}
}

