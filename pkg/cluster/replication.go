package cluster

import (
	"encoding/json"
	"fmt"

	"clustermgr/pkg/bus"
)

// Message types exchanged between cluster manager replicas.
const (
	MsgSelfRecommend      = "selfRecommend"
	MsgDeclareMaster      = "declareMaster"
	MsgRequestRuntimeData = "requestRuntimeData"
	MsgRuntimeData        = "runtimeData"
	MsgUpdateData         = "updateData"
)

const topicRoot = "clusterManager"

// Topics the roles publish to.
const (
	TopicCandidate = topicRoot + ".candidate"
	TopicMaster    = topicRoot + ".master"
	TopicSlave     = topicRoot + ".slave"
)

// DeclareMaster is the master heartbeat. LifeTime counts heartbeats sent
// and decides which of two masters survives.
type DeclareMaster struct {
	ID       string `json:"id"`
	LifeTime uint64 `json:"life_time"`
}

// directTopic matches messages addressed to node id under any role.
func directTopic(id string) string {
	return topicRoot + ".*." + id
}

func slaveTopic(id string) string {
	return TopicSlave + "." + id
}

// decodeString reads a message whose data is a bare JSON string.
func decodeString(msg bus.Message) (string, error) {
	var s string
	if err := json.Unmarshal(msg.Data, &s); err != nil {
		return "", fmt.Errorf("decode %s: %w", msg.Type, err)
	}
	return s, nil
}
