// Package metrics exposes the cluster manager's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Role is 1 for the role the node currently holds and 0 for the others.
var Role = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "clustermgr_role",
		Help: "Current election role (1 for current role, 0 otherwise)",
	},
	[]string{"node", "role"},
)

// RoleTransitionsTotal counts election role changes.
var RoleTransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "clustermgr_role_transitions_total",
		Help: "Total election role transitions",
	},
	[]string{"node", "role"},
)

// HeartbeatLifeTime is the master's current life_time counter.
var HeartbeatLifeTime = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "clustermgr_heartbeat_life_time",
		Help: "Heartbeats sent by this node while master",
	},
	[]string{"node"},
)

// Workers tracks the registered workers per purpose.
var Workers = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "clustermgr_workers",
		Help: "Registered workers",
	},
	[]string{"purpose"},
)

// WorkerEvictionsTotal counts workers removed by the failure detector.
var WorkerEvictionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "clustermgr_worker_evictions_total",
		Help: "Workers removed after missing heartbeats",
	},
	[]string{"purpose"},
)

// ScheduleTotal counts schedule requests by outcome.
var ScheduleTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "clustermgr_schedule_total",
		Help: "Schedule requests by result",
	},
	[]string{"purpose", "result"},
)

// ReplicationEventsTotal counts replicated events sent by a master or
// applied by a slave.
var ReplicationEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "clustermgr_replication_events_total",
		Help: "Replicated events by direction and type",
	},
	[]string{"direction", "type"},
)

// SetRole flips the role gauge of node to role.
func SetRole(node, role string, all []string) {
	for _, r := range all {
		v := 0.0
		if r == role {
			v = 1
		}
		Role.WithLabelValues(node, r).Set(v)
	}
}
