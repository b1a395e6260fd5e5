package scheduler

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"clustermgr/storage"
)

// Config describes one per-purpose scheduler.
type Config struct {
	Purpose  string
	Strategy string
	// ReserveTime is used when Schedule is called without a reservation window.
	ReserveTime time.Duration
	// Store holds reservations; it is shared between purposes and keyed by purpose.
	Store  storage.ReservationStore
	Logger hclog.Logger
}

type workerEntry struct {
	info  WorkerInfo
	state State
	load  float64
	tasks map[string]struct{}
}

// StrategyScheduler is the built-in Scheduler: it filters eligible workers and
// lets a Strategy pick among them.
type StrategyScheduler struct {
	mu       sync.RWMutex
	cfg      Config
	strategy Strategy
	workers  map[string]*workerEntry
	log      hclog.Logger
}

var _ Scheduler = (*StrategyScheduler)(nil)

// New creates a scheduler for cfg.Purpose using cfg.Strategy.
func New(cfg Config) (*StrategyScheduler, error) {
	strategy, err := NewStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	if cfg.Store == nil {
		cfg.Store = storage.NewMemoryStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	return &StrategyScheduler{
		cfg:      cfg,
		strategy: strategy,
		workers:  make(map[string]*workerEntry),
		log:      cfg.Logger.Named("scheduler").With("purpose", cfg.Purpose),
	}, nil
}

func (s *StrategyScheduler) key(task string) string {
	return s.prefix() + task
}

// prefix namespaces the purpose's reservations in the shared store. The
// purpose is escaped so no purpose's prefix is a prefix of another's.
func (s *StrategyScheduler) prefix() string {
	return url.PathEscape(s.cfg.Purpose) + "/"
}

func (s *StrategyScheduler) Add(worker string, info WorkerInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[worker] = &workerEntry{
		info:  info,
		state: StateAvailable,
		tasks: make(map[string]struct{}),
	}
}

// Remove forgets the worker and drops every reservation pointing at it.
func (s *StrategyScheduler) Remove(worker string) {
	s.mu.Lock()
	delete(s.workers, worker)
	s.mu.Unlock()

	ctx := context.Background()
	reserved, err := s.cfg.Store.List(ctx, s.prefix())
	if err != nil {
		s.log.Warn("list reservations failed", "worker", worker, "error", err)
		return
	}
	for key, r := range reserved {
		if r.Worker == worker {
			if err := s.cfg.Store.Release(ctx, key); err != nil {
				s.log.Warn("release reservation failed", "key", key, "error", err)
			}
		}
	}
}

func (s *StrategyScheduler) UpdateState(worker string, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[worker]; ok {
		w.state = state
	}
}

func (s *StrategyScheduler) UpdateLoad(worker string, load float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[worker]; ok {
		w.load = load
	}
}

func (s *StrategyScheduler) PickUpTasks(worker string, tasks []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[worker]; ok {
		for _, t := range tasks {
			w.tasks[t] = struct{}{}
		}
	}
}

func (s *StrategyScheduler) LayDownTask(worker, task string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[worker]; ok {
		delete(w.tasks, task)
	}
}

// Schedule returns the worker already reserved for task when it is still
// registered, otherwise picks a new one and reserves it for reserveTime.
func (s *StrategyScheduler) Schedule(ctx context.Context, task string, pref Preference, reserveTime time.Duration) (Placement, error) {
	if reserveTime <= 0 {
		reserveTime = s.cfg.ReserveTime
	}

	r, ok, err := s.cfg.Store.Lookup(ctx, s.key(task))
	if err != nil {
		return Placement{}, fmt.Errorf("lookup reservation: %w", err)
	}

	s.mu.RLock()
	if ok {
		if w, live := s.workers[r.Worker]; live && w.state != StateInitializing {
			info := w.info
			s.mu.RUnlock()
			if err := s.cfg.Store.Reserve(ctx, s.key(task), r.Worker, reserveTime); err != nil {
				return Placement{}, fmt.Errorf("refresh reservation: %w", err)
			}
			return Placement{Worker: r.Worker, Info: info}, nil
		}
	}
	candidates := s.candidatesLocked(pref)
	if len(candidates) == 0 {
		s.mu.RUnlock()
		return Placement{}, ErrNoWorker
	}
	chosen := s.strategy.Pick(candidates)
	info := s.workers[chosen].info
	s.mu.RUnlock()

	if err := s.cfg.Store.Reserve(ctx, s.key(task), chosen, reserveTime); err != nil {
		return Placement{}, fmt.Errorf("reserve: %w", err)
	}
	s.log.Debug("scheduled", "task", task, "worker", chosen)
	return Placement{Worker: chosen, Info: info}, nil
}

// candidatesLocked returns available workers under their max load. Workers
// matching the preference win; when none match the preference is dropped.
func (s *StrategyScheduler) candidatesLocked(pref Preference) []Candidate {
	var all, preferred []Candidate
	for id, w := range s.workers {
		if w.state != StateAvailable {
			continue
		}
		if w.info.MaxLoad > 0 && w.load >= w.info.MaxLoad {
			continue
		}
		c := Candidate{ID: id, Load: w.load}
		all = append(all, c)
		if matches(w.info.Capacity.ISPs, pref.ISP) && matches(w.info.Capacity.Regions, pref.Region) {
			preferred = append(preferred, c)
		}
	}
	out := preferred
	if len(out) == 0 {
		out = all
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func matches(offered []string, wanted string) bool {
	if wanted == "" || len(offered) == 0 {
		return true
	}
	for _, o := range offered {
		if strings.EqualFold(o, wanted) {
			return true
		}
	}
	return false
}

func (s *StrategyScheduler) SetScheduled(task, worker string, reserveTime time.Duration) {
	if reserveTime <= 0 {
		reserveTime = s.cfg.ReserveTime
	}
	if err := s.cfg.Store.Reserve(context.Background(), s.key(task), worker, reserveTime); err != nil {
		s.log.Warn("set scheduled failed", "task", task, "worker", worker, "error", err)
	}
}

func (s *StrategyScheduler) Unschedule(worker, task string) {
	ctx := context.Background()
	r, ok, err := s.cfg.Store.Lookup(ctx, s.key(task))
	if err != nil || !ok || r.Worker != worker {
		return
	}
	if err := s.cfg.Store.Release(ctx, s.key(task)); err != nil {
		s.log.Warn("unschedule failed", "task", task, "worker", worker, "error", err)
	}
}

func (s *StrategyScheduler) GetInfo(worker string) (WorkerStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[worker]
	if !ok {
		return WorkerStatus{}, false
	}
	return w.status(), true
}

func (s *StrategyScheduler) GetTasks(worker string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if w, ok := s.workers[worker]; ok {
		return sortedTasks(w.tasks)
	}
	return []string{}
}

func (s *StrategyScheduler) GetScheduled(task string) (string, error) {
	r, ok, err := s.cfg.Store.Lookup(context.Background(), s.key(task))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotScheduled
	}
	return r.Worker, nil
}

func (s *StrategyScheduler) Snapshot() (Snapshot, error) {
	s.mu.RLock()
	workers := make(map[string]WorkerStatus, len(s.workers))
	for id, w := range s.workers {
		workers[id] = w.status()
	}
	s.mu.RUnlock()

	prefix := s.prefix()
	reserved, err := s.cfg.Store.List(context.Background(), prefix)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list reservations: %w", err)
	}
	reservations := make(map[string]storage.Reservation, len(reserved))
	for key, r := range reserved {
		reservations[strings.TrimPrefix(key, prefix)] = r
	}
	return Snapshot{Workers: workers, Reservations: reservations}, nil
}

// Restore replaces the worker table and the purpose's reservations, keeping
// each unexpired task for its remaining window.
func (s *StrategyScheduler) Restore(snap Snapshot) error {
	workers := make(map[string]*workerEntry, len(snap.Workers))
	for id, st := range snap.Workers {
		tasks := make(map[string]struct{}, len(st.Tasks))
		for _, t := range st.Tasks {
			tasks[t] = struct{}{}
		}
		workers[id] = &workerEntry{info: st.Info, state: st.State, load: st.Load, tasks: tasks}
	}
	s.mu.Lock()
	s.workers = workers
	s.mu.Unlock()

	ctx := context.Background()
	prefix := s.prefix()
	stale, err := s.cfg.Store.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list reservations: %w", err)
	}
	for key := range stale {
		if err := s.cfg.Store.Release(ctx, key); err != nil {
			return fmt.Errorf("release reservation %s: %w", key, err)
		}
	}

	now := time.Now()
	for task, r := range snap.Reservations {
		var ttl time.Duration
		if !r.ExpiresAt.IsZero() {
			ttl = r.ExpiresAt.Sub(now)
			if ttl <= 0 {
				continue
			}
		}
		if err := s.cfg.Store.Reserve(ctx, s.key(task), r.Worker, ttl); err != nil {
			return fmt.Errorf("restore reservation %s: %w", task, err)
		}
	}
	return nil
}

func (w *workerEntry) status() WorkerStatus {
	return WorkerStatus{Info: w.info, State: w.state, Load: w.load, Tasks: sortedTasks(w.tasks)}
}

func sortedTasks(tasks map[string]struct{}) []string {
	out := make([]string, 0, len(tasks))
	for t := range tasks {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
