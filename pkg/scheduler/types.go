// Package scheduler places tasks on the workers of a single purpose.
//
// A Scheduler tracks the state, load and task assignments of every worker it
// knows about, chooses a worker for a task according to a strategy, and keeps
// the task reservation alive for the reservation window. Its whole state can
// be exported with Snapshot and rebuilt elsewhere with Restore.
package scheduler

import (
	"context"
	"errors"
	"time"

	"clustermgr/storage"
)

var (
	// ErrNoWorker indicates no registered worker can take the task.
	ErrNoWorker = errors.New("no worker available")

	// ErrNotScheduled indicates the task has no live reservation.
	ErrNotScheduled = errors.New("task not scheduled")

	// ErrUnknownStrategy indicates the strategy name is not registered.
	ErrUnknownStrategy = errors.New("unknown scheduling strategy")
)

// State is a worker availability state as reported by the worker itself.
type State int

const (
	StateInitializing State = 0
	StateBusy         State = 1
	StateAvailable    State = 2
)

// Capacity lists what a worker can serve. Empty lists match everything.
type Capacity struct {
	ISPs    []string `json:"isps,omitempty"`
	Regions []string `json:"regions,omitempty"`
}

// WorkerInfo is the descriptor a worker sends when it joins.
type WorkerInfo struct {
	IP       string   `json:"ip,omitempty"`
	Hostname string   `json:"hostname,omitempty"`
	Port     int      `json:"port,omitempty"`
	MaxLoad  float64  `json:"max_load,omitempty"`
	Capacity Capacity `json:"capacity"`
}

// Preference narrows placement to workers serving an ISP or region.
type Preference struct {
	ISP    string `json:"isp,omitempty"`
	Region string `json:"region,omitempty"`
}

// Placement is the outcome of a successful Schedule call.
type Placement struct {
	Worker string     `json:"id"`
	Info   WorkerInfo `json:"info"`
}

// WorkerStatus is what a scheduler knows about one worker.
type WorkerStatus struct {
	Info  WorkerInfo `json:"info"`
	State State      `json:"state"`
	Load  float64    `json:"load"`
	Tasks []string   `json:"tasks"`
}

// Snapshot is the serialized state of one scheduler.
type Snapshot struct {
	Workers      map[string]WorkerStatus        `json:"workers"`
	Reservations map[string]storage.Reservation `json:"reservations"`
}

// Scheduler is the per-purpose placement contract the cluster manager drives.
// Schedule resolves exactly once: either a placement or an error.
type Scheduler interface {
	Add(worker string, info WorkerInfo)
	Remove(worker string)
	UpdateState(worker string, state State)
	UpdateLoad(worker string, load float64)
	PickUpTasks(worker string, tasks []string)
	LayDownTask(worker, task string)

	Schedule(ctx context.Context, task string, pref Preference, reserveTime time.Duration) (Placement, error)
	SetScheduled(task, worker string, reserveTime time.Duration)
	Unschedule(worker, task string)

	GetInfo(worker string) (WorkerStatus, bool)
	GetTasks(worker string) []string
	GetScheduled(task string) (string, error)

	Snapshot() (Snapshot, error)
	Restore(Snapshot) error
}
