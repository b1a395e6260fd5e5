package client

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"clustermgr/api"
	"clustermgr/pkg/manager"
	"clustermgr/pkg/notify"
	"clustermgr/pkg/scheduler"
)

// Client is a typed SDK for the ClusterManager service.
type Client struct {
	conn *grpc.ClientConn
}

// Options control Client behavior.
type Options struct {
	// DialTimeout is the timeout for establishing the initial connection.
	DialTimeout time.Duration
	// Insecure skips TLS (default true for local dev).
	Insecure bool
}

// New dials the cluster manager at address (host:port) and returns a Client.
func New(ctx context.Context, address string, opts *Options) (*Client, error) {
	if opts == nil {
		opts = &Options{Insecure: true, DialTimeout: 5 * time.Second}
	}
	var dialOpts []grpc.DialOption
	if opts.Insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.DialTimeout)
		defer cancel()
		dialOpts = append(dialOpts, grpc.WithBlock())
	}
	conn, err := grpc.DialContext(ctx, address, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// NewFromConn wraps an existing connection.
func NewFromConn(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// invoke calls method with the JSON codec; the connection may serve other
// protobuf services, such as health, alongside.
func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	return c.conn.Invoke(ctx, api.FullMethod(method), req, resp, grpc.CallContentSubtype(api.CodecName))
}

// Join registers a worker and returns the cluster manager's service state.
func (c *Client) Join(ctx context.Context, purpose, id string, info scheduler.WorkerInfo) (manager.ServiceState, error) {
	var resp api.JoinResponse
	err := c.invoke(ctx, api.MethodJoin, &api.JoinRequest{Purpose: purpose, ID: id, Info: info}, &resp)
	return resp.State, err
}

func (c *Client) Quit(ctx context.Context, id string) error {
	return c.invoke(ctx, api.MethodQuit, &api.WorkerRequest{ID: id}, &api.Empty{})
}

// KeepAlive sends a heartbeat. manager.KeepAliveUnrecognized asks the worker to join again.
func (c *Client) KeepAlive(ctx context.Context, id string) (manager.KeepAliveResult, error) {
	var resp api.MessageResponse
	err := c.invoke(ctx, api.MethodKeepAlive, &api.WorkerRequest{ID: id}, &resp)
	return manager.KeepAliveResult(resp.Message), err
}

func (c *Client) ReportState(ctx context.Context, id string, state scheduler.State) error {
	return c.invoke(ctx, api.MethodReportState, &api.ReportStateRequest{ID: id, State: state}, &api.Empty{})
}

func (c *Client) ReportLoad(ctx context.Context, id string, load float64) error {
	return c.invoke(ctx, api.MethodReportLoad, &api.ReportLoadRequest{ID: id, Load: load}, &api.Empty{})
}

func (c *Client) PickUpTasks(ctx context.Context, id string, tasks []string) error {
	return c.invoke(ctx, api.MethodPickUpTasks, &api.PickUpTasksRequest{ID: id, Tasks: tasks}, &api.Empty{})
}

func (c *Client) LayDownTask(ctx context.Context, id, task string) error {
	return c.invoke(ctx, api.MethodLayDownTask, &api.TaskRequest{ID: id, Task: task}, &api.Empty{})
}

// Schedule asks for a worker of purpose to run task.
func (c *Client) Schedule(ctx context.Context, purpose, task string, pref scheduler.Preference, reserve time.Duration) (scheduler.Placement, error) {
	var resp scheduler.Placement
	err := c.invoke(ctx, api.MethodSchedule, &api.ScheduleRequest{
		Purpose:     purpose,
		Task:        task,
		Preference:  pref,
		ReserveTime: reserve.Milliseconds(),
	}, &resp)
	return resp, err
}

func (c *Client) Unschedule(ctx context.Context, id, task string) error {
	return c.invoke(ctx, api.MethodUnschedule, &api.TaskRequest{ID: id, Task: task}, &api.Empty{})
}

// GetWorkerAttr returns the raw attribute document of a worker.
func (c *Client) GetWorkerAttr(ctx context.Context, id string) (json.RawMessage, error) {
	var resp json.RawMessage
	err := c.invoke(ctx, api.MethodGetWorkerAttr, &api.WorkerRequest{ID: id}, &resp)
	return resp, err
}

// GetWorkers lists the workers of purpose; manager.AllPurposes lists all.
func (c *Client) GetWorkers(ctx context.Context, purpose string) ([]string, error) {
	var resp api.ListResponse
	err := c.invoke(ctx, api.MethodGetWorkers, &api.PurposeRequest{Purpose: purpose}, &resp)
	return resp.List, err
}

func (c *Client) GetTasks(ctx context.Context, id string) ([]string, error) {
	var resp api.ListResponse
	err := c.invoke(ctx, api.MethodGetTasks, &api.WorkerRequest{ID: id}, &resp)
	return resp.List, err
}

func (c *Client) GetScheduled(ctx context.Context, purpose, task string) (string, error) {
	var resp api.MessageResponse
	err := c.invoke(ctx, api.MethodGetScheduled, &api.ScheduledRequest{Purpose: purpose, Task: task}, &resp)
	return resp.Message, err
}

func (c *Client) GetClusterID(ctx context.Context) (string, error) {
	var resp api.MessageResponse
	err := c.invoke(ctx, api.MethodGetClusterID, &api.Empty{}, &resp)
	return resp.Message, err
}

func (c *Client) RegisterInfo(ctx context.Context, info notify.ServiceInfo) error {
	return c.invoke(ctx, api.MethodRegisterInfo, &info, &api.MessageResponse{})
}

func (c *Client) LeaveConference(ctx context.Context, conferenceID string) error {
	return c.invoke(ctx, api.MethodLeaveConference, &api.LeaveConferenceRequest{ConferenceID: conferenceID}, &api.MessageResponse{})
}

func (c *Client) GetPurposes(ctx context.Context) ([]string, error) {
	var resp api.ListResponse
	err := c.invoke(ctx, api.MethodGetPurposes, &api.Empty{}, &resp)
	return resp.List, err
}
