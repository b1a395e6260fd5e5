package server

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"clustermgr/pkg/bus"
	"clustermgr/pkg/cluster"
	"clustermgr/pkg/manager"
)

const msgMonitoring = "monitoring"

// MonitoringTopic is where the master of clusterName reports worker notices.
func MonitoringTopic(clusterName string) string { return "monitoring." + clusterName }

type monitoringEvent struct {
	Reason  string         `json:"reason"`
	Message manager.Notice `json:"message"`
}

// BusMonitor publishes worker notices to the monitoring topic.
type BusMonitor struct {
	bus   bus.Bus
	topic string
	log   hclog.Logger
}

var _ manager.Monitor = (*BusMonitor)(nil)

func NewBusMonitor(b bus.Bus, clusterName string, logger hclog.Logger) *BusMonitor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &BusMonitor{bus: b, topic: MonitoringTopic(clusterName), log: logger.Named("monitor")}
}

func (m *BusMonitor) Notify(reason string, notice manager.Notice) {
	msg, err := bus.NewMessage(msgMonitoring, monitoringEvent{Reason: reason, Message: notice})
	if err != nil {
		m.log.Error("encode notice failed", "error", err)
		return
	}
	if err := m.bus.Publish(context.Background(), m.topic, msg); err != nil {
		m.log.Warn("publish notice failed", "reason", reason, "worker", notice.ID, "error", err)
	}
}

// Registrar brings up the bus endpoints of an elected master.
type Registrar struct {
	bus         bus.Bus
	clusterName string
	rpc         *BusRPCServer
	gate        roleGate
	log         hclog.Logger
}

// roleGate is implemented by servers that refuse calls unless master.
type roleGate interface {
	SetRole(cluster.Role)
}

var _ cluster.Registrar = (*Registrar)(nil)

func NewRegistrar(b bus.Bus, srv ClusterManagerServer, clusterName string, logger hclog.Logger) *Registrar {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	gate, _ := srv.(roleGate)
	return &Registrar{
		bus:         b,
		clusterName: clusterName,
		rpc:         NewBusRPCServer(b, srv, clusterName, logger),
		gate:        gate,
		log:         logger,
	}
}

// RegisterRPC opens the service gate and starts the bus binding, so the first
// call that reaches the new master is answered.
func (r *Registrar) RegisterRPC(ctx context.Context) error {
	r.setGate(cluster.RoleMaster)
	if err := r.rpc.Start(ctx); err != nil {
		r.setGate(cluster.RoleCandidate)
		return err
	}
	return nil
}

func (r *Registrar) RegisterMonitor(ctx context.Context) (manager.Monitor, error) {
	return NewBusMonitor(r.bus, r.clusterName, r.log), nil
}

func (r *Registrar) Unregister() {
	r.rpc.Stop()
	r.setGate(cluster.RoleCandidate)
}

func (r *Registrar) setGate(role cluster.Role) {
	if r.gate != nil {
		r.gate.SetRole(role)
	}
}
