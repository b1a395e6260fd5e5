package server

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"clustermgr/api"
)

// method binds one ClusterManagerServer operation to both RPC bindings.
type method struct {
	name string
	grpc grpc.MethodDesc
	// invoke decodes JSON arguments and calls the operation
	invoke func(ctx context.Context, srv ClusterManagerServer, args json.RawMessage) (any, error)
}

func unary[Req, Resp any](name string, call func(ClusterManagerServer, context.Context, *Req) (Resp, error)) method {
	return method{
		name: name,
		grpc: grpc.MethodDesc{
			MethodName: name,
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := new(Req)
				if err := dec(req); err != nil {
					return nil, err
				}
				s := srv.(ClusterManagerServer)
				if interceptor == nil {
					return call(s, ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: api.FullMethod(name)}
				handler := func(ctx context.Context, r any) (any, error) {
					return call(s, ctx, r.(*Req))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		invoke: func(ctx context.Context, srv ClusterManagerServer, args json.RawMessage) (any, error) {
			req := new(Req)
			if len(args) > 0 {
				if err := json.Unmarshal(args, req); err != nil {
					return nil, status.Errorf(codes.InvalidArgument, "decode %s arguments: %v", name, err)
				}
			}
			return call(srv, ctx, req)
		},
	}
}

var methods = []method{
	unary(api.MethodJoin, ClusterManagerServer.Join),
	unary(api.MethodQuit, ClusterManagerServer.Quit),
	unary(api.MethodKeepAlive, ClusterManagerServer.KeepAlive),
	unary(api.MethodReportState, ClusterManagerServer.ReportState),
	unary(api.MethodReportLoad, ClusterManagerServer.ReportLoad),
	unary(api.MethodPickUpTasks, ClusterManagerServer.PickUpTasks),
	unary(api.MethodLayDownTask, ClusterManagerServer.LayDownTask),
	unary(api.MethodSchedule, ClusterManagerServer.Schedule),
	unary(api.MethodUnschedule, ClusterManagerServer.Unschedule),
	unary(api.MethodGetWorkerAttr, ClusterManagerServer.GetWorkerAttr),
	unary(api.MethodGetWorkers, ClusterManagerServer.GetWorkers),
	unary(api.MethodGetTasks, ClusterManagerServer.GetTasks),
	unary(api.MethodGetScheduled, ClusterManagerServer.GetScheduled),
	unary(api.MethodGetClusterID, ClusterManagerServer.GetClusterID),
	unary(api.MethodRegisterInfo, ClusterManagerServer.RegisterInfo),
	unary(api.MethodLeaveConference, ClusterManagerServer.LeaveConference),
	unary(api.MethodGetPurposes, ClusterManagerServer.GetPurposes),
}

// serviceDesc describes the ClusterManager gRPC service for grpc.Server.RegisterService.
var serviceDesc = func() *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: api.ServiceName,
		HandlerType: (*ClusterManagerServer)(nil),
		Streams:     []grpc.StreamDesc{},
	}
	for _, m := range methods {
		desc.Methods = append(desc.Methods, m.grpc)
	}
	return desc
}()

// busMethods indexes the operations by their bus name.
var busMethods = func() map[string]method {
	out := make(map[string]method, len(methods))
	for _, m := range methods {
		out[api.BusMethod(m.name)] = m
	}
	return out
}()
