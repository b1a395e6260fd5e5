package cluster

import "errors"

var (
	// ErrSplitBrainConcede is returned by Run when another master with a
	// longer life time is found. The process must stop.
	ErrSplitBrainConcede = errors.New("another master is more senior, conceding")

	// ErrTransportRegistration is returned by Run when the master cannot
	// register its RPC or monitoring endpoint.
	ErrTransportRegistration = errors.New("transport registration failed")
)
