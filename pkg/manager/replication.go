package manager

import (
	"fmt"

	"clustermgr/pkg/metrics"
	"clustermgr/pkg/scheduler"
)

// SetReplicator installs the callback that receives every mutation made on
// this manager. Only the master installs one; pass nil to remove it.
func (m *Manager) SetReplicator(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replicate = fn
}

// Snapshot captures the registry and every scheduler.
func (m *Manager) Snapshot() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// SnapshotTo captures a snapshot and hands it to fn before any other mutation
// can run. Mutations made afterwards reach the replicator after fn returns, so
// a publisher sees the snapshot and the following events in mutation order.
func (m *Manager) SnapshotTo(fn func(Snapshot)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, err := m.snapshotLocked()
	if err != nil {
		return err
	}
	fn(snap)
	return nil
}

func (m *Manager) snapshotLocked() (Snapshot, error) {
	snap := Snapshot{
		Workers:    make(map[string]Worker, len(m.workers)),
		Schedulers: make(map[string]scheduler.Snapshot, len(m.schedulers)),
	}
	for id, w := range m.workers {
		snap.Workers[id] = *w
	}
	for purpose, s := range m.schedulers {
		ss, err := s.Snapshot()
		if err != nil {
			return Snapshot{}, fmt.Errorf("snapshot scheduler %s: %w", purpose, err)
		}
		snap.Schedulers[purpose] = ss
	}
	return snap, nil
}

// Restore replaces the whole registry with snap. Afterwards the manager is no
// longer a freshman and accepts replicated events.
func (m *Manager) Restore(snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	schedulers := make(map[string]scheduler.Scheduler, len(snap.Schedulers))
	for purpose, ss := range snap.Schedulers {
		s, err := m.createScheduler(purpose)
		if err != nil {
			return fmt.Errorf("create scheduler %s: %w", purpose, err)
		}
		if err := s.Restore(ss); err != nil {
			return fmt.Errorf("restore scheduler %s: %w", purpose, err)
		}
		schedulers[purpose] = s
	}

	workers := make(map[string]*Worker, len(snap.Workers))
	purposes := make(map[string]map[string]struct{})
	for id, w := range snap.Workers {
		w := w
		workers[id] = &w
		members, ok := purposes[w.Purpose]
		if !ok {
			members = make(map[string]struct{})
			purposes[w.Purpose] = members
		}
		members[id] = struct{}{}
		if _, ok := schedulers[w.Purpose]; !ok {
			s, err := m.createScheduler(w.Purpose)
			if err != nil {
				return fmt.Errorf("create scheduler %s: %w", w.Purpose, err)
			}
			schedulers[w.Purpose] = s
		}
	}

	for purpose := range m.purposes {
		if _, ok := purposes[purpose]; !ok {
			metrics.Workers.WithLabelValues(purpose).Set(0)
		}
	}
	for purpose, members := range purposes {
		metrics.Workers.WithLabelValues(purpose).Set(float64(len(members)))
	}

	m.schedulers = schedulers
	m.workers = workers
	m.purposes = purposes
	m.freshman = false
	m.log.Info("registry restored", "workers", len(workers), "purposes", len(purposes))
	return nil
}

// Apply replays an event recorded by the master. Events arriving before the
// first Restore are dropped, as are events applied to the master itself.
func (m *Manager) Apply(e Event) error {
	if e == nil {
		return fmt.Errorf("apply: nil event")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.freshman {
		m.log.Debug("dropping event before snapshot", "type", e.Type())
		return nil
	}
	if m.replicate != nil {
		m.log.Warn("ignoring replicated event on master", "type", e.Type())
		return nil
	}
	metrics.ReplicationEventsTotal.WithLabelValues("in", string(e.Type())).Inc()
	e.dispatch(m)
	return nil
}

func (m *Manager) onWorkerJoin(e WorkerJoin) { m.joinLocked(e.Purpose, e.Worker, e.Info) }

func (m *Manager) onWorkerQuit(e WorkerQuit) { m.quitLocked(e.Worker) }

func (m *Manager) onWorkerState(e WorkerState) { m.reportStateLocked(e.Worker, e.State) }

func (m *Manager) onWorkerLoad(e WorkerLoad) { m.reportLoadLocked(e.Worker, e.Load) }

func (m *Manager) onWorkerPickup(e WorkerPickup) { m.pickUpTasksLocked(e.Worker, e.Tasks) }

func (m *Manager) onWorkerLaydown(e WorkerLaydown) { m.layDownTaskLocked(e.Worker, e.Task) }

// onScheduled records the master's placement instead of choosing a new one.
func (m *Manager) onScheduled(e Scheduled) {
	s, ok := m.schedulers[e.Purpose]
	if !ok {
		m.log.Warn("scheduled event for unknown purpose", "purpose", e.Purpose, "task", e.Task)
		return
	}
	s.SetScheduled(e.Task, e.Worker, e.ReserveDuration())
}

func (m *Manager) onUnscheduled(e Unscheduled) { m.unscheduleLocked(e.Worker, e.Task) }
