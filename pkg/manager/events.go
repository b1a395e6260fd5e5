package manager

import (
	"encoding/json"
	"fmt"
	"time"

	"clustermgr/pkg/scheduler"
)

// EventType tags a replicated event on the wire.
type EventType string

const (
	EventWorkerJoin    EventType = "worker_join"
	EventWorkerQuit    EventType = "worker_quit"
	EventWorkerState   EventType = "worker_state"
	EventWorkerLoad    EventType = "worker_load"
	EventWorkerPickup  EventType = "worker_pickup"
	EventWorkerLaydown EventType = "worker_laydown"
	EventScheduled     EventType = "scheduled"
	EventUnscheduled   EventType = "unscheduled"
)

// Event is one registry mutation recorded by the master. The set of event
// kinds is closed: every kind implements dispatch against eventHandler, so a
// new kind does not compile until the manager can apply it.
type Event interface {
	Type() EventType
	dispatch(h eventHandler)
}

type eventHandler interface {
	onWorkerJoin(WorkerJoin)
	onWorkerQuit(WorkerQuit)
	onWorkerState(WorkerState)
	onWorkerLoad(WorkerLoad)
	onWorkerPickup(WorkerPickup)
	onWorkerLaydown(WorkerLaydown)
	onScheduled(Scheduled)
	onUnscheduled(Unscheduled)
}

type WorkerJoin struct {
	Purpose string               `json:"purpose"`
	Worker  string               `json:"worker"`
	Info    scheduler.WorkerInfo `json:"info"`
}

type WorkerQuit struct {
	Worker string `json:"worker"`
}

type WorkerState struct {
	Worker string          `json:"worker"`
	State  scheduler.State `json:"state"`
}

type WorkerLoad struct {
	Worker string  `json:"worker"`
	Load   float64 `json:"load"`
}

type WorkerPickup struct {
	Worker string   `json:"worker"`
	Tasks  []string `json:"tasks"`
}

type WorkerLaydown struct {
	Worker string `json:"worker"`
	Task   string `json:"task"`
}

// Scheduled records a placement. ReserveTime is in milliseconds.
type Scheduled struct {
	Purpose     string `json:"purpose"`
	Task        string `json:"task"`
	Worker      string `json:"worker"`
	ReserveTime int64  `json:"reserve_time"`
}

type Unscheduled struct {
	Worker string `json:"worker"`
	Task   string `json:"task"`
}

func (WorkerJoin) Type() EventType    { return EventWorkerJoin }
func (WorkerQuit) Type() EventType    { return EventWorkerQuit }
func (WorkerState) Type() EventType   { return EventWorkerState }
func (WorkerLoad) Type() EventType    { return EventWorkerLoad }
func (WorkerPickup) Type() EventType  { return EventWorkerPickup }
func (WorkerLaydown) Type() EventType { return EventWorkerLaydown }
func (Scheduled) Type() EventType     { return EventScheduled }
func (Unscheduled) Type() EventType   { return EventUnscheduled }

func (e WorkerJoin) dispatch(h eventHandler)    { h.onWorkerJoin(e) }
func (e WorkerQuit) dispatch(h eventHandler)    { h.onWorkerQuit(e) }
func (e WorkerState) dispatch(h eventHandler)   { h.onWorkerState(e) }
func (e WorkerLoad) dispatch(h eventHandler)    { h.onWorkerLoad(e) }
func (e WorkerPickup) dispatch(h eventHandler)  { h.onWorkerPickup(e) }
func (e WorkerLaydown) dispatch(h eventHandler) { h.onWorkerLaydown(e) }
func (e Scheduled) dispatch(h eventHandler)     { h.onScheduled(e) }
func (e Unscheduled) dispatch(h eventHandler)   { h.onUnscheduled(e) }

// ReserveDuration returns the reservation window as a duration.
func (e Scheduled) ReserveDuration() time.Duration {
	return time.Duration(e.ReserveTime) * time.Millisecond
}

type eventEnvelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeEvent renders e as {type, payload}.
func EncodeEvent(e Event) (json.RawMessage, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventEnvelope{Type: e.Type(), Payload: payload})
}

// DecodeEvent parses the {type, payload} form produced by EncodeEvent.
func DecodeEvent(data []byte) (Event, error) {
	var env eventEnvelope
	err := json.Unmarshal(data, &env)
	if err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	var e Event
	switch env.Type {
	case EventWorkerJoin:
		e = decodeAs[WorkerJoin](env.Payload, &err)
	case EventWorkerQuit:
		e = decodeAs[WorkerQuit](env.Payload, &err)
	case EventWorkerState:
		e = decodeAs[WorkerState](env.Payload, &err)
	case EventWorkerLoad:
		e = decodeAs[WorkerLoad](env.Payload, &err)
	case EventWorkerPickup:
		e = decodeAs[WorkerPickup](env.Payload, &err)
	case EventWorkerLaydown:
		e = decodeAs[WorkerLaydown](env.Payload, &err)
	case EventScheduled:
		e = decodeAs[Scheduled](env.Payload, &err)
	case EventUnscheduled:
		e = decodeAs[Unscheduled](env.Payload, &err)
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return e, nil
}

func decodeAs[T Event](payload []byte, errp *error) Event {
	var v T
	*errp = json.Unmarshal(payload, &v)
	return v
}
