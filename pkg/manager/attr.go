package manager

import "clustermgr/pkg/scheduler"

// AttrAdapter reshapes the GetWorkerAttr answer for the clients of one purpose.
type AttrAdapter func(id string, w Worker, status scheduler.WorkerStatus) any

// LegacyPortalPurpose is the purpose whose clients expect the flat portal
// attribute record.
const LegacyPortalPurpose = "portal"

// PortalAttr is the flat worker record portal clients read.
type PortalAttr struct {
	ID        string          `json:"id"`
	Purpose   string          `json:"purpose"`
	IP        string          `json:"ip"`
	RPCID     string          `json:"rpcID"`
	State     scheduler.State `json:"state"`
	Load      float64         `json:"load"`
	Hostname  string          `json:"hostname"`
	Port      int             `json:"port"`
	KeepAlive uint            `json:"keepAlive"`
}

// LegacyPortalAttr is the AttrAdapter installed for LegacyPortalPurpose.
func LegacyPortalAttr(id string, w Worker, status scheduler.WorkerStatus) any {
	return PortalAttr{
		ID:        id,
		Purpose:   w.Purpose,
		IP:        status.Info.IP,
		RPCID:     id,
		State:     status.State,
		Load:      status.Load,
		Hostname:  status.Info.Hostname,
		Port:      status.Info.Port,
		KeepAlive: w.MissedHeartbeats,
	}
}
