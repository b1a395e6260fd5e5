package manager

import (
	"time"

	"clustermgr/pkg/scheduler"
)

// ServiceState is the one-way lifecycle of a serving manager.
type ServiceState string

const (
	StateInitializing ServiceState = "initializing"
	StateInService    ServiceState = "in-service"
)

// KeepAliveResult is the answer to a worker heartbeat.
type KeepAliveResult string

const (
	KeepAliveOK KeepAliveResult = "ok"
	// KeepAliveUnrecognized asks the worker to join again.
	KeepAliveUnrecognized KeepAliveResult = "whoareyou"
)

// GeneralStrategy is the strategy key used for purposes without their own entry.
const GeneralStrategy = "general"

// AllPurposes selects every worker in GetWorkers.
const AllPurposes = "all"

// Worker is a registry entry.
type Worker struct {
	Purpose          string `json:"purpose"`
	MissedHeartbeats uint   `json:"alive_count"`
}

// Snapshot is the full registry state handed to a bootstrapping replica.
type Snapshot struct {
	Workers    map[string]Worker             `json:"workers"`
	Schedulers map[string]scheduler.Snapshot `json:"schedulers"`
}

// Notice is sent to the monitoring target when a worker leaves.
type Notice struct {
	Purpose string `json:"purpose"`
	ID      string `json:"id"`
	Type    string `json:"type"`
}

// Monitor is the surrounding system's monitoring target.
type Monitor interface {
	Notify(reason string, notice Notice)
}

// Config holds the manager settings.
type Config struct {
	ClusterName string
	ClusterID   string

	// InitialTime is the grace delay before a freshly elected manager goes
	// in service (default: 6s).
	InitialTime time.Duration

	// CheckAlivePeriod is the failure detector tick (default: 1s).
	CheckAlivePeriod time.Duration

	// CheckAliveCount is how many missed ticks a worker survives (default: 3).
	CheckAliveCount uint

	// Strategies maps a purpose to a strategy name; GeneralStrategy is the fallback.
	Strategies map[string]string

	// ScheduleReserveTime is the default reservation window (default: 60s).
	ScheduleReserveTime time.Duration
}

func (c *Config) applyDefaults() {
	if c.InitialTime == 0 {
		c.InitialTime = 6 * time.Second
	}
	if c.CheckAlivePeriod == 0 {
		c.CheckAlivePeriod = time.Second
	}
	if c.CheckAliveCount == 0 {
		c.CheckAliveCount = 3
	}
	if c.ScheduleReserveTime == 0 {
		c.ScheduleReserveTime = 60 * time.Second
	}
	if c.Strategies == nil {
		c.Strategies = map[string]string{}
	}
	if c.Strategies[GeneralStrategy] == "" {
		c.Strategies[GeneralStrategy] = scheduler.LeastUsed
	}
}
