package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"clustermgr/api"
	"clustermgr/pkg/cluster"
	"clustermgr/pkg/manager"
	"clustermgr/pkg/scheduler"
)

// ClusterManagerServer is the set of operations both RPC bindings expose.
type ClusterManagerServer interface {
	Join(context.Context, *api.JoinRequest) (*api.JoinResponse, error)
	Quit(context.Context, *api.WorkerRequest) (*api.Empty, error)
	KeepAlive(context.Context, *api.WorkerRequest) (*api.MessageResponse, error)
	ReportState(context.Context, *api.ReportStateRequest) (*api.Empty, error)
	ReportLoad(context.Context, *api.ReportLoadRequest) (*api.Empty, error)
	PickUpTasks(context.Context, *api.PickUpTasksRequest) (*api.Empty, error)
	LayDownTask(context.Context, *api.TaskRequest) (*api.Empty, error)
	Schedule(context.Context, *api.ScheduleRequest) (*scheduler.Placement, error)
	Unschedule(context.Context, *api.TaskRequest) (*api.Empty, error)
	GetWorkerAttr(context.Context, *api.WorkerRequest) (json.RawMessage, error)
	GetWorkers(context.Context, *api.PurposeRequest) (*api.ListResponse, error)
	GetTasks(context.Context, *api.WorkerRequest) (*api.ListResponse, error)
	GetScheduled(context.Context, *api.ScheduledRequest) (*api.MessageResponse, error)
	GetClusterID(context.Context, *api.Empty) (*api.MessageResponse, error)
	RegisterInfo(context.Context, *api.RegisterInfoRequest) (*api.MessageResponse, error)
	LeaveConference(context.Context, *api.LeaveConferenceRequest) (*api.MessageResponse, error)
	GetPurposes(context.Context, *api.Empty) (*api.ListResponse, error)
}

// ClusterManagerService answers coordination RPCs while this node is master.
type ClusterManagerService struct {
	manager *manager.Manager
	log     hclog.Logger
	master  atomic.Bool
}

var _ ClusterManagerServer = (*ClusterManagerService)(nil)

// NewClusterManagerService creates a service over mgr. It refuses every call
// until SetRole reports the master role.
func NewClusterManagerService(mgr *manager.Manager, logger hclog.Logger) *ClusterManagerService {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &ClusterManagerService{manager: mgr, log: logger.Named("rpc")}
}

// SetRole records the node's election role.
func (s *ClusterManagerService) SetRole(role cluster.Role) {
	s.master.Store(role == cluster.RoleMaster)
}

func (s *ClusterManagerService) notMasterStatus() error {
	return status.Error(codes.FailedPrecondition, "not master")
}

func (s *ClusterManagerService) check() error {
	if !s.master.Load() {
		return s.notMasterStatus()
	}
	return nil
}

// statusError maps manager errors onto gRPC codes.
func statusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, manager.ErrNotReady):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, manager.ErrUnknownPurpose), errors.Is(err, manager.ErrUnknownWorker),
		errors.Is(err, scheduler.ErrNotScheduled):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, manager.ErrSchedulingFailed):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// Join registers a worker
func (s *ClusterManagerService) Join(ctx context.Context, req *api.JoinRequest) (*api.JoinResponse, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if req.ID == "" || req.Purpose == "" {
		return nil, status.Error(codes.InvalidArgument, "purpose and id are required")
	}
	return &api.JoinResponse{State: s.manager.Join(req.Purpose, req.ID, req.Info)}, nil
}

// Quit removes a worker
func (s *ClusterManagerService) Quit(ctx context.Context, req *api.WorkerRequest) (*api.Empty, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.manager.Quit(req.ID)
	return &api.Empty{}, nil
}

// KeepAlive records a worker heartbeat
func (s *ClusterManagerService) KeepAlive(ctx context.Context, req *api.WorkerRequest) (*api.MessageResponse, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return &api.MessageResponse{Message: string(s.manager.KeepAlive(req.ID))}, nil
}

func (s *ClusterManagerService) ReportState(ctx context.Context, req *api.ReportStateRequest) (*api.Empty, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.manager.ReportState(req.ID, req.State)
	return &api.Empty{}, nil
}

func (s *ClusterManagerService) ReportLoad(ctx context.Context, req *api.ReportLoadRequest) (*api.Empty, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.manager.ReportLoad(req.ID, req.Load)
	return &api.Empty{}, nil
}

func (s *ClusterManagerService) PickUpTasks(ctx context.Context, req *api.PickUpTasksRequest) (*api.Empty, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.manager.PickUpTasks(req.ID, req.Tasks)
	return &api.Empty{}, nil
}

func (s *ClusterManagerService) LayDownTask(ctx context.Context, req *api.TaskRequest) (*api.Empty, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.manager.LayDownTask(req.ID, req.Task)
	return &api.Empty{}, nil
}

// Schedule places a task on a worker of the requested purpose
func (s *ClusterManagerService) Schedule(ctx context.Context, req *api.ScheduleRequest) (*scheduler.Placement, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	reserve := time.Duration(req.ReserveTime) * time.Millisecond
	p, err := s.manager.Schedule(ctx, req.Purpose, req.Task, req.Preference, reserve)
	if err != nil {
		s.log.Debug("schedule rejected", "purpose", req.Purpose, "task", req.Task, "error", err)
		return nil, statusError(err)
	}
	return &p, nil
}

func (s *ClusterManagerService) Unschedule(ctx context.Context, req *api.TaskRequest) (*api.Empty, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.manager.Unschedule(req.ID, req.Task)
	return &api.Empty{}, nil
}

// GetWorkerAttr returns the worker's attributes as the purpose's clients expect them
func (s *ClusterManagerService) GetWorkerAttr(ctx context.Context, req *api.WorkerRequest) (json.RawMessage, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	attr, err := s.manager.GetWorkerAttr(req.ID)
	if err != nil {
		return nil, statusError(err)
	}
	data, err := json.Marshal(attr)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode attributes: %v", err))
	}
	return data, nil
}

func (s *ClusterManagerService) GetWorkers(ctx context.Context, req *api.PurposeRequest) (*api.ListResponse, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return &api.ListResponse{List: s.manager.GetWorkers(req.Purpose)}, nil
}

func (s *ClusterManagerService) GetTasks(ctx context.Context, req *api.WorkerRequest) (*api.ListResponse, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return &api.ListResponse{List: s.manager.GetTasks(req.ID)}, nil
}

func (s *ClusterManagerService) GetScheduled(ctx context.Context, req *api.ScheduledRequest) (*api.MessageResponse, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	worker, err := s.manager.GetScheduled(req.Purpose, req.Task)
	if err != nil {
		return nil, statusError(err)
	}
	return &api.MessageResponse{Message: worker}, nil
}

func (s *ClusterManagerService) GetClusterID(ctx context.Context, req *api.Empty) (*api.MessageResponse, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return &api.MessageResponse{Message: s.manager.ClusterID()}, nil
}

// RegisterInfo forwards the cluster's REST endpoint to the external registry
func (s *ClusterManagerService) RegisterInfo(ctx context.Context, req *api.RegisterInfoRequest) (*api.MessageResponse, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.manager.RegisterInfo(*req)
	return &api.MessageResponse{Message: "ok"}, nil
}

func (s *ClusterManagerService) LeaveConference(ctx context.Context, req *api.LeaveConferenceRequest) (*api.MessageResponse, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.manager.LeaveConference(req.ConferenceID)
	return &api.MessageResponse{Message: "ok"}, nil
}

// GetPurposes lists every purpose that has had workers
func (s *ClusterManagerService) GetPurposes(ctx context.Context, req *api.Empty) (*api.ListResponse, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return &api.ListResponse{List: s.manager.Purposes()}, nil
}
