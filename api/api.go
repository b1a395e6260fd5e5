// Package api defines the wire contract of the ClusterManager service: the
// method names and the JSON request and response messages shared by the gRPC
// binding, the bus RPC binding and the client SDK.
package api

import (
	"strings"

	"clustermgr/pkg/manager"
	"clustermgr/pkg/notify"
	"clustermgr/pkg/scheduler"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "clustermgr.ClusterManager"

// Method names as they appear in the gRPC path.
const (
	MethodJoin            = "Join"
	MethodQuit            = "Quit"
	MethodKeepAlive       = "KeepAlive"
	MethodReportState     = "ReportState"
	MethodReportLoad      = "ReportLoad"
	MethodPickUpTasks     = "PickUpTasks"
	MethodLayDownTask     = "LayDownTask"
	MethodSchedule        = "Schedule"
	MethodUnschedule      = "Unschedule"
	MethodGetWorkerAttr   = "GetWorkerAttr"
	MethodGetWorkers      = "GetWorkers"
	MethodGetTasks        = "GetTasks"
	MethodGetScheduled    = "GetScheduled"
	MethodGetClusterID    = "GetClusterID"
	MethodRegisterInfo    = "RegisterInfo"
	MethodLeaveConference = "LeaveConference"
	MethodGetPurposes     = "GetPurposes"
)

// FullMethod returns the gRPC path of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// BusMethod returns the name method goes by on the bus, e.g. "keepAlive".
func BusMethod(method string) string {
	if method == "" {
		return method
	}
	return strings.ToLower(method[:1]) + method[1:]
}

type Empty struct{}

type JoinRequest struct {
	Purpose string               `json:"purpose"`
	ID      string               `json:"id"`
	Info    scheduler.WorkerInfo `json:"info"`
}

type JoinResponse struct {
	State manager.ServiceState `json:"state"`
}

// WorkerRequest addresses a single worker.
type WorkerRequest struct {
	ID string `json:"id"`
}

// MessageResponse carries a single string answer.
type MessageResponse struct {
	Message string `json:"message"`
}

type ReportStateRequest struct {
	ID    string          `json:"id"`
	State scheduler.State `json:"state"`
}

type ReportLoadRequest struct {
	ID   string  `json:"id"`
	Load float64 `json:"load"`
}

type PickUpTasksRequest struct {
	ID    string   `json:"id"`
	Tasks []string `json:"tasks"`
}

// TaskRequest addresses one task of a worker.
type TaskRequest struct {
	ID   string `json:"id"`
	Task string `json:"task"`
}

type ScheduleRequest struct {
	Purpose    string               `json:"purpose"`
	Task       string               `json:"task"`
	Preference scheduler.Preference `json:"preference"`
	// ReserveTime is in milliseconds; zero uses the configured window.
	ReserveTime int64 `json:"reserveTime"`
}

type PurposeRequest struct {
	Purpose string `json:"purpose"`
}

type ListResponse struct {
	List []string `json:"list"`
}

type ScheduledRequest struct {
	Purpose string `json:"purpose"`
	Task    string `json:"task"`
}

type RegisterInfoRequest = notify.ServiceInfo

type LeaveConferenceRequest struct {
	ConferenceID string `json:"conferenceId"`
}
