package cluster

import (
	"clustermgr/pkg/bus"
	"clustermgr/pkg/manager"
)

func (n *Node) runAsSlave(s *roleScope) error {
	n.losses = 0

	if err := n.subscribe(s, []string{TopicSlave + ".#", directTopic(n.cfg.NodeID)}, n.onSlaveMessage); err != nil {
		return err
	}
	n.publish(TopicMaster, MsgRequestRuntimeData, n.cfg.NodeID)
	n.every(s, n.cfg.Timing.SuperviseInterval, n.superviseMaster)
	return nil
}

func (n *Node) superviseMaster() {
	n.losses++
	if n.losses > n.cfg.Timing.MaxMissedHeartbeats {
		n.log.Info("lost heartbeat from master", "missed", n.losses)
		n.become(RoleCandidate)
	}
}

func (n *Node) onSlaveMessage(topic string, msg bus.Message) {
	switch msg.Type {
	case MsgRuntimeData:
		var snap manager.Snapshot
		if err := msg.Decode(&snap); err != nil {
			n.log.Warn("bad runtime data", "error", err)
			return
		}
		if err := n.coord.Restore(snap); err != nil {
			n.log.Error("restore runtime data failed", "error", err)
		}
	case MsgUpdateData:
		e, err := manager.DecodeEvent(msg.Data)
		if err != nil {
			n.log.Warn("bad update", "error", err)
			return
		}
		if err := n.coord.Apply(e); err != nil {
			n.log.Error("apply update failed", "type", e.Type(), "error", err)
		}
	case MsgDeclareMaster:
		n.losses = 0
	default:
		n.log.Debug("slave, not concerned message", "type", msg.Type)
	}
}
