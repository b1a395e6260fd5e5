package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/go-hclog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"clustermgr/api"
	"clustermgr/config"
	"clustermgr/pkg/cluster"
)

// Server represents the gRPC server
type Server struct {
	config  config.ServerConfig
	grpc    *grpc.Server
	health  *health.Server
	service *ClusterManagerService
	log     hclog.Logger
}

// NewServer creates a new server instance
func NewServer(cfg config.ServerConfig, svc *ClusterManagerService, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	maxMsg := cfg.MaxMessageSize
	if maxMsg <= 0 {
		maxMsg = 4 * 1024 * 1024 // 4MB
	}

	// Configure gRPC server options
	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     15 * time.Second,
			MaxConnectionAge:      30 * time.Second,
			MaxConnectionAgeGrace: 5 * time.Second,
			Time:                  5 * time.Second,
			Timeout:               1 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.MaxRecvMsgSize(maxMsg),
		grpc.MaxSendMsgSize(maxMsg),
	}

	s := &Server{
		config:  cfg,
		grpc:    grpc.NewServer(opts...),
		health:  health.NewServer(),
		service: svc,
		log:     logger.Named("server"),
	}

	s.grpc.RegisterService(serviceDesc, svc)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.setServing(false)
	return s
}

// OnRoleChange updates the RPC gate and the health status. Pass it to the
// election node as its role observer.
func (s *Server) OnRoleChange(role cluster.Role) {
	s.service.SetRole(role)
	s.setServing(role == cluster.RoleMaster)
}

func (s *Server) setServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(api.ServiceName, st)
}

// Start listens on the configured address and serves until ctx is done
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.log.Info("starting grpc server", "address", address)

	go func() {
		if err := s.Serve(listener); err != nil {
			s.log.Error("grpc server error", "error", err)
		}
	}()

	<-ctx.Done()
	return s.Stop()
}

// Serve accepts connections on lis until Stop
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop stops the server gracefully
func (s *Server) Stop() error {
	s.log.Info("stopping grpc server")
	s.health.Shutdown()

	// Graceful stop with timeout
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("grpc server stopped gracefully")
	case <-time.After(30 * time.Second):
		s.log.Warn("force stopping grpc server")
		s.grpc.Stop()
	}

	return nil
}
