// Package manager holds the cluster manager's registry of workers and
// purposes, the failure detector that evicts silent workers, the scheduling
// facade over the per-purpose schedulers, and the replication feed that keeps
// standby replicas in step with the master.
//
// Every mutation runs to completion under a single lock, so a manager behaves
// as one logical thread of control no matter how many RPC goroutines call it.
package manager

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"clustermgr/pkg/metrics"
	"clustermgr/pkg/notify"
	"clustermgr/pkg/scheduler"
	"clustermgr/storage"
)

// SchedulerFactory builds the scheduler for a purpose.
type SchedulerFactory func(purpose, strategy string) (scheduler.Scheduler, error)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l hclog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithNotifier sets the external registry notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithStore sets the reservation store shared by the built-in schedulers.
// The caller keeps ownership of the store.
func WithStore(s storage.ReservationStore) Option {
	return func(m *Manager) { m.store = s }
}

// WithSchedulerFactory replaces the built-in scheduler.
func WithSchedulerFactory(f SchedulerFactory) Option {
	return func(m *Manager) { m.newScheduler = f }
}

// WithAttrAdapter installs a GetWorkerAttr adapter for purpose.
func WithAttrAdapter(purpose string, a AttrAdapter) Option {
	return func(m *Manager) { m.adapters[purpose] = a }
}

// Manager is the cluster manager's coordination state.
type Manager struct {
	mu  sync.Mutex
	cfg Config
	log hclog.Logger

	state    ServiceState
	freshman bool
	serving  bool

	workers    map[string]*Worker
	schedulers map[string]scheduler.Scheduler
	// purposes holds the member set of every purpose that ever had a worker
	purposes map[string]map[string]struct{}

	newScheduler SchedulerFactory
	store        storage.ReservationStore
	ownStore     bool
	notifier     notify.Notifier
	monitor      Monitor
	replicate    func(Event)
	adapters     map[string]AttrAdapter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ eventHandler = (*Manager)(nil)

// New creates a manager in the initializing, freshman state.
func New(cfg Config, opts ...Option) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		cfg:        cfg,
		log:        hclog.NewNullLogger(),
		state:      StateInitializing,
		freshman:   true,
		workers:    make(map[string]*Worker),
		schedulers: make(map[string]scheduler.Scheduler),
		purposes:   make(map[string]map[string]struct{}),
		notifier:   notify.Nop{},
		adapters:   map[string]AttrAdapter{LegacyPortalPurpose: LegacyPortalAttr},
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.Named("manager")
	if m.store == nil {
		m.store = storage.NewMemoryStore()
		m.ownStore = true
	}
	if m.newScheduler == nil {
		m.newScheduler = m.defaultScheduler
	}
	return m
}

func (m *Manager) defaultScheduler(purpose, strategy string) (scheduler.Scheduler, error) {
	return scheduler.New(scheduler.Config{
		Purpose:     purpose,
		Strategy:    strategy,
		ReserveTime: m.cfg.ScheduleReserveTime,
		Store:       m.store,
		Logger:      m.log,
	})
}

func (m *Manager) createScheduler(purpose string) (scheduler.Scheduler, error) {
	strategy, ok := m.cfg.Strategies[purpose]
	if !ok {
		strategy = m.cfg.Strategies[GeneralStrategy]
	}
	return m.newScheduler(purpose, strategy)
}

// Serve puts the manager to work as master: it goes in service (after the
// initial grace delay when it has never held state) and starts the failure
// detector. Later calls are no-ops.
func (m *Manager) Serve(ctx context.Context, monitor Monitor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.serving {
		return
	}
	m.serving = true
	m.monitor = monitor

	ctx, m.cancel = context.WithCancel(ctx)
	if m.freshman {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			t := time.NewTimer(m.cfg.InitialTime)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
				m.mu.Lock()
				m.state = StateInService
				m.mu.Unlock()
				m.log.Info("in service")
			}
		}()
	} else {
		m.state = StateInService
		m.log.Info("in service")
	}
	m.freshman = false

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runFailureDetector(ctx)
	}()
}

func (m *Manager) runFailureDetector(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckAlivePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAlive()
		}
	}
}

// checkAlive is one failure detector tick.
func (m *Manager) checkAlive() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, w := range m.workers {
		w.MissedHeartbeats++
		if w.MissedHeartbeats > m.cfg.CheckAliveCount {
			m.log.Info("worker is not alive any longer, deleting it", "worker", id, "purpose", w.Purpose)
			metrics.WorkerEvictionsTotal.WithLabelValues(w.Purpose).Inc()
			m.quitLocked(id)
		}
	}
}

// Close stops the background loops and releases an owned store.
func (m *Manager) Close() error {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	if m.ownStore {
		return m.store.Close()
	}
	return nil
}

// State returns the service state.
func (m *Manager) State() ServiceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Freshman reports whether the manager has never held registry state.
func (m *Manager) Freshman() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freshman
}

// Join registers worker under purpose and returns the service state.
func (m *Manager) Join(purpose, worker string, info scheduler.WorkerInfo) ServiceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joinLocked(purpose, worker, info)
	return m.state
}

func (m *Manager) joinLocked(purpose, id string, info scheduler.WorkerInfo) {
	m.log.Debug("worker join", "purpose", purpose, "worker", id)

	s, ok := m.schedulers[purpose]
	if !ok {
		var err error
		s, err = m.createScheduler(purpose)
		if err != nil {
			m.log.Error("cannot create scheduler", "purpose", purpose, "error", err)
			return
		}
		m.schedulers[purpose] = s
	}

	// a worker belongs to one purpose at a time
	if prev, ok := m.workers[id]; ok && prev.Purpose != purpose {
		m.quitLocked(id)
	}

	s.Add(id, info)
	m.workers[id] = &Worker{Purpose: purpose}

	members, ok := m.purposes[purpose]
	if !ok {
		members = make(map[string]struct{})
		m.purposes[purpose] = members
	}
	if len(members) == 0 && m.serving {
		m.log.Info("capacity added", "purpose", purpose)
		m.notifier.CapacityAdded(purpose)
	}
	members[id] = struct{}{}
	metrics.Workers.WithLabelValues(purpose).Set(float64(len(members)))

	m.emit(WorkerJoin{Purpose: purpose, Worker: id, Info: info})
}

// Quit removes worker from the registry. Unknown workers are ignored.
func (m *Manager) Quit(worker string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quitLocked(worker)
}

func (m *Manager) quitLocked(id string) {
	w, ok := m.workers[id]
	if !ok {
		return
	}
	m.log.Debug("worker quit", "worker", id, "purpose", w.Purpose)

	if s, ok := m.schedulers[w.Purpose]; ok {
		s.Remove(id)
	}
	if m.monitor != nil {
		m.monitor.Notify("quit", Notice{Purpose: w.Purpose, ID: id, Type: "worker"})
	}
	delete(m.workers, id)
	m.emit(WorkerQuit{Worker: id})

	members, ok := m.purposes[w.Purpose]
	if !ok {
		return
	}
	delete(members, id)
	metrics.Workers.WithLabelValues(w.Purpose).Set(float64(len(members)))
	if len(members) == 0 && m.serving {
		m.log.Info("capacity removed", "purpose", w.Purpose)
		m.notifier.CapacityRemoved(w.Purpose)
	}
}

// KeepAlive records a heartbeat from worker.
func (m *Manager) KeepAlive(worker string) KeepAliveResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[worker]
	if !ok {
		return KeepAliveUnrecognized
	}
	w.MissedHeartbeats = 0
	return KeepAliveOK
}

// schedulerOfLocked returns the scheduler of a registered worker.
func (m *Manager) schedulerOfLocked(worker string) (scheduler.Scheduler, bool) {
	w, ok := m.workers[worker]
	if !ok {
		return nil, false
	}
	s, ok := m.schedulers[w.Purpose]
	return s, ok
}

func (m *Manager) ReportState(worker string, state scheduler.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reportStateLocked(worker, state)
}

func (m *Manager) reportStateLocked(worker string, state scheduler.State) {
	if s, ok := m.schedulerOfLocked(worker); ok {
		s.UpdateState(worker, state)
	}
	m.emit(WorkerState{Worker: worker, State: state})
}

func (m *Manager) ReportLoad(worker string, load float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reportLoadLocked(worker, load)
}

func (m *Manager) reportLoadLocked(worker string, load float64) {
	if s, ok := m.schedulerOfLocked(worker); ok {
		s.UpdateLoad(worker, load)
	}
	m.emit(WorkerLoad{Worker: worker, Load: load})
}

func (m *Manager) PickUpTasks(worker string, tasks []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pickUpTasksLocked(worker, tasks)
}

func (m *Manager) pickUpTasksLocked(worker string, tasks []string) {
	if s, ok := m.schedulerOfLocked(worker); ok {
		s.PickUpTasks(worker, tasks)
	}
	m.emit(WorkerPickup{Worker: worker, Tasks: tasks})
}

func (m *Manager) LayDownTask(worker, task string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.layDownTaskLocked(worker, task)
}

func (m *Manager) layDownTaskLocked(worker, task string) {
	if s, ok := m.schedulerOfLocked(worker); ok {
		s.LayDownTask(worker, task)
	}
	m.emit(WorkerLaydown{Worker: worker, Task: task})
}

// GetWorkers lists the worker IDs of purpose, or of every purpose for AllPurposes.
func (m *Manager) GetWorkers(purpose string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.workers))
	for id, w := range m.workers {
		if purpose == AllPurposes || w.Purpose == purpose {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Purposes lists every purpose that has ever had a worker.
func (m *Manager) Purposes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.purposes))
	for p := range m.purposes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ClusterID returns the configured cluster ID.
func (m *Manager) ClusterID() string { return m.cfg.ClusterID }

// RegisterInfo forwards the cluster's REST endpoint to the external registry.
func (m *Manager) RegisterInfo(info notify.ServiceInfo) {
	m.notifier.RegisterCluster(info)
}

// LeaveConference tells the external registry a conference has ended.
func (m *Manager) LeaveConference(conferenceID string) {
	m.notifier.LeaveConference(conferenceID)
}

// Stop unregisters the cluster from the external registry.
func (m *Manager) Stop() {
	m.notifier.UnregisterCluster()
}

// emit hands e to the replicator, which is only installed on the master.
func (m *Manager) emit(e Event) {
	if m.replicate == nil {
		return
	}
	metrics.ReplicationEventsTotal.WithLabelValues("out", string(e.Type())).Inc()
	m.replicate(e)
}
