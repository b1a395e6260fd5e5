// Package cluster elects one master among the cluster manager replicas.
//
// Every replica starts as a candidate. Candidates announce themselves on the
// bus and, once they have heard from the others for a while, the one with the
// greatest ID becomes master and the rest become slaves. The master serves
// the coordination state, heartbeats, and streams every mutation to the
// slaves. A slave that stops hearing heartbeats becomes a candidate again.
//
// A Node runs one loop goroutine that owns the current role. Timers, tickers
// and bus subscriptions created by a role live in that role's scope and are
// torn down before the next role starts; anything they post back to the loop
// is tagged with the epoch of its role and dropped once that role is gone.
package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"clustermgr/pkg/bus"
	"clustermgr/pkg/manager"
	"clustermgr/pkg/metrics"
)

// Coordinator is the registry the master serves and the slaves mirror.
type Coordinator interface {
	Serve(ctx context.Context, monitor manager.Monitor)
	SnapshotTo(func(manager.Snapshot)) error
	Restore(manager.Snapshot) error
	Apply(manager.Event) error
	SetReplicator(func(manager.Event))
}

var _ Coordinator = (*manager.Manager)(nil)

// Registrar exposes the master's endpoints to the rest of the system.
type Registrar interface {
	// RegisterRPC starts answering coordination RPCs.
	RegisterRPC(ctx context.Context) error
	// RegisterMonitor returns the target that receives worker notices.
	RegisterMonitor(ctx context.Context) (manager.Monitor, error)
	// Unregister withdraws whatever the register calls set up.
	Unregister()
}

// Node is one cluster manager replica taking part in the election.
type Node struct {
	cfg   Config
	bus   bus.Bus
	coord Coordinator
	reg   Registrar
	log   hclog.Logger

	mu   sync.RWMutex
	role Role

	events chan event

	// owned by the loop goroutine
	ctx   context.Context
	epoch uint64
	scope *roleScope
	fatal error

	winner   bool
	deciding bool
	lifeTime uint64
	losses   int
}

type event struct {
	epoch uint64
	fn    func()
}

// New creates a node. It does nothing until Run.
func New(cfg Config, b bus.Bus, coord Coordinator, reg Registrar) *Node {
	cfg.Timing.applyDefaults()
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	return &Node{
		cfg:    cfg,
		bus:    b,
		coord:  coord,
		reg:    reg,
		log:    cfg.Logger.Named("election").With("node", cfg.NodeID),
		events: make(chan event, 64),
	}
}

// ID returns the node ID.
func (n *Node) ID() string { return n.cfg.NodeID }

// Role returns the current role. It is empty outside Run.
func (n *Node) Role() Role {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.role
}

// IsMaster reports whether the node currently holds the master role.
func (n *Node) IsMaster() bool { return n.Role() == RoleMaster }

// Run takes part in the election until ctx is done or a fatal error occurs.
// It returns nil on cancellation and ErrSplitBrainConcede or
// ErrTransportRegistration (wrapped) on fatal errors.
func (n *Node) Run(ctx context.Context) error {
	n.ctx = ctx
	defer func() {
		n.closeScope()
		n.setRole("")
	}()

	n.become(RoleCandidate)
	for n.fatal == nil {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-n.events:
			if ev.epoch != n.epoch {
				continue
			}
			ev.fn()
		}
	}
	n.log.Error("election stopped", "role", n.Role(), "error", n.fatal)
	return n.fatal
}

// become closes the current role and starts role under a new epoch.
func (n *Node) become(role Role) {
	n.closeScope()
	n.epoch++
	n.scope = newRoleScope(n.ctx, n.epoch)
	n.log.Info("run as " + string(role))

	var err error
	switch role {
	case RoleCandidate:
		err = n.runAsCandidate(n.scope)
	case RoleMaster:
		err = n.runAsMaster(n.scope)
	case RoleSlave:
		err = n.runAsSlave(n.scope)
	}
	if err != nil {
		n.fatal = err
		return
	}

	// the role is only visible once it is fully active
	n.setRole(role)
	metrics.RoleTransitionsTotal.WithLabelValues(n.cfg.NodeID, string(role)).Inc()
}

func (n *Node) setRole(role Role) {
	n.mu.Lock()
	n.role = role
	n.mu.Unlock()
	metrics.SetRole(n.cfg.NodeID, string(role), Roles)
	if n.cfg.OnRoleChange != nil {
		n.cfg.OnRoleChange(role)
	}
}

func (n *Node) closeScope() {
	if n.scope == nil {
		return
	}
	n.scope.close(n.log)
	n.scope = nil
}

// post hands fn to the loop tagged with the scope's epoch.
func (n *Node) post(s *roleScope, fn func()) {
	select {
	case n.events <- event{epoch: s.epoch, fn: fn}:
	case <-s.ctx.Done():
	}
}

func (n *Node) after(s *roleScope, d time.Duration, fn func()) {
	s.spawn(func(ctx context.Context) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
			n.post(s, fn)
		}
	})
}

func (n *Node) every(s *roleScope, d time.Duration, fn func()) {
	s.spawn(func(ctx context.Context) {
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n.post(s, fn)
			}
		}
	})
}

func (n *Node) subscribe(s *roleScope, patterns []string, h bus.Handler) error {
	sub, err := n.bus.Subscribe(s.ctx, patterns, func(topic string, msg bus.Message) {
		n.post(s, func() { h(topic, msg) })
	})
	if err != nil {
		return fmt.Errorf("subscribe %v: %w", patterns, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

func (n *Node) publish(topic, typ string, data any) {
	msg, err := bus.NewMessage(typ, data)
	if err != nil {
		n.log.Error("encode message failed", "type", typ, "error", err)
		return
	}
	if err := n.bus.Publish(n.ctx, topic, msg); err != nil {
		n.log.Warn("publish failed", "topic", topic, "type", typ, "error", err)
	}
}

// roleScope owns everything one role activation started.
type roleScope struct {
	epoch   uint64
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	subs    []bus.Subscription
	cleanup []func()
}

func newRoleScope(parent context.Context, epoch uint64) *roleScope {
	ctx, cancel := context.WithCancel(parent)
	return &roleScope{epoch: epoch, ctx: ctx, cancel: cancel}
}

func (s *roleScope) spawn(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

func (s *roleScope) onClose(fn func()) {
	s.cleanup = append(s.cleanup, fn)
}

func (s *roleScope) close(log hclog.Logger) {
	s.cancel()
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Warn("unsubscribe failed", "error", err)
		}
	}
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
	s.wg.Wait()
}
