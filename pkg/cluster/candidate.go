package cluster

import "clustermgr/pkg/bus"

func (n *Node) runAsCandidate(s *roleScope) error {
	n.winner = true
	n.deciding = false

	if err := n.subscribe(s, []string{TopicCandidate + ".#"}, n.onCandidateMessage); err != nil {
		return err
	}
	n.every(s, n.cfg.Timing.RecommendInterval, func() {
		n.log.Trace("send self recommendation")
		n.publish(TopicCandidate, MsgSelfRecommend, n.cfg.NodeID)
	})
	return nil
}

func (n *Node) onCandidateMessage(topic string, msg bus.Message) {
	// the first message of any kind, our own included, starts the countdown
	if !n.deciding {
		n.deciding = true
		n.after(n.scope, n.cfg.Timing.DecideAfter, n.electMaster)
	}

	switch msg.Type {
	case MsgSelfRecommend:
		peer, err := decodeString(msg)
		if err != nil {
			n.log.Warn("bad self recommendation", "error", err)
			return
		}
		if peer > n.cfg.NodeID {
			n.winner = false
		}
	case MsgDeclareMaster:
		n.log.Info("someone else became master")
		n.become(RoleSlave)
	}
}

func (n *Node) electMaster() {
	if n.winner {
		n.log.Info("no greater candidate, taking over as master")
		n.become(RoleMaster)
		return
	}
	n.become(RoleSlave)
}
