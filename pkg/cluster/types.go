package cluster

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// Role indicates the node's election role.
type Role string

const (
	RoleCandidate Role = "candidate"
	RoleMaster    Role = "master"
	RoleSlave     Role = "slave"
)

// Roles lists every role, for gauges.
var Roles = []string{string(RoleCandidate), string(RoleMaster), string(RoleSlave)}

// Timing holds the election intervals. Zero fields take the defaults.
type Timing struct {
	// RecommendInterval is how often a candidate announces itself (default: 30ms).
	RecommendInterval time.Duration
	// DecideAfter is how long a candidate listens after the first message
	// before it settles its role (default: 160ms).
	DecideAfter time.Duration
	// HeartbeatInterval is the master's declareMaster period (default: 20ms).
	HeartbeatInterval time.Duration
	// SuperviseInterval is the slave's loss counting period (default: 30ms).
	SuperviseInterval time.Duration
	// MaxMissedHeartbeats is how many supervise ticks without a heartbeat a
	// slave tolerates (default: 2).
	MaxMissedHeartbeats int
}

// DefaultTiming returns the election intervals used when none are configured.
func DefaultTiming() Timing {
	return Timing{
		RecommendInterval:   30 * time.Millisecond,
		DecideAfter:         160 * time.Millisecond,
		HeartbeatInterval:   20 * time.Millisecond,
		SuperviseInterval:   30 * time.Millisecond,
		MaxMissedHeartbeats: 2,
	}
}

func (t *Timing) applyDefaults() {
	d := DefaultTiming()
	if t.RecommendInterval <= 0 {
		t.RecommendInterval = d.RecommendInterval
	}
	if t.DecideAfter <= 0 {
		t.DecideAfter = d.DecideAfter
	}
	if t.HeartbeatInterval <= 0 {
		t.HeartbeatInterval = d.HeartbeatInterval
	}
	if t.SuperviseInterval <= 0 {
		t.SuperviseInterval = d.SuperviseInterval
	}
	if t.MaxMissedHeartbeats <= 0 {
		t.MaxMissedHeartbeats = d.MaxMissedHeartbeats
	}
}

// Config controls an election node.
type Config struct {
	// NodeID is this process's ID. IDs are compared as strings; the greatest wins.
	NodeID string
	Timing Timing
	Logger hclog.Logger
	// OnRoleChange is called from the node loop after every transition.
	OnRoleChange func(Role)
}
