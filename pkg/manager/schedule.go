package manager

import (
	"context"
	"fmt"
	"time"

	"clustermgr/pkg/metrics"
	"clustermgr/pkg/scheduler"
)

// Schedule places task on a worker of purpose. It fails with ErrNotReady
// until the manager is in service.
func (m *Manager) Schedule(ctx context.Context, purpose, task string, pref scheduler.Preference, reserveTime time.Duration) (scheduler.Placement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateInService {
		metrics.ScheduleTotal.WithLabelValues(purpose, "not_ready").Inc()
		return scheduler.Placement{}, ErrNotReady
	}
	s, ok := m.schedulers[purpose]
	if !ok {
		metrics.ScheduleTotal.WithLabelValues(purpose, "unknown_purpose").Inc()
		return scheduler.Placement{}, fmt.Errorf("%w: %s", ErrUnknownPurpose, purpose)
	}

	p, err := s.Schedule(ctx, task, pref, reserveTime)
	if err != nil {
		m.log.Warn("schedule failed", "purpose", purpose, "task", task, "error", err)
		metrics.ScheduleTotal.WithLabelValues(purpose, "failed").Inc()
		return scheduler.Placement{}, &SchedulingError{Purpose: purpose, Reason: err}
	}
	metrics.ScheduleTotal.WithLabelValues(purpose, "ok").Inc()

	m.emit(Scheduled{
		Purpose:     purpose,
		Task:        task,
		Worker:      p.Worker,
		ReserveTime: reserveTime.Milliseconds(),
	})
	return p, nil
}

// Unschedule drops the reservation of task on worker.
func (m *Manager) Unschedule(worker, task string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unscheduleLocked(worker, task)
}

func (m *Manager) unscheduleLocked(worker, task string) {
	if s, ok := m.schedulerOfLocked(worker); ok {
		s.Unschedule(worker, task)
	}
	m.emit(Unscheduled{Worker: worker, Task: task})
}

// GetWorkerAttr returns what the scheduler knows about worker, passed through
// the attribute adapter of its purpose when one is installed.
func (m *Manager) GetWorkerAttr(worker string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[worker]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, worker)
	}
	status := scheduler.WorkerStatus{Tasks: []string{}}
	if s, ok := m.schedulers[w.Purpose]; ok {
		if st, ok := s.GetInfo(worker); ok {
			status = st
		}
	}
	if adapt, ok := m.adapters[w.Purpose]; ok {
		return adapt(worker, *w, status), nil
	}
	return status, nil
}

// GetTasks lists the tasks worker has picked up.
func (m *Manager) GetTasks(worker string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.schedulerOfLocked(worker); ok {
		return s.GetTasks(worker)
	}
	return []string{}
}

// GetScheduled returns the worker reserved for task within purpose.
func (m *Manager) GetScheduled(purpose, task string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedulers[purpose]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPurpose, purpose)
	}
	return s.GetScheduled(task)
}
