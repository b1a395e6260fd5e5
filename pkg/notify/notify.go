// Package notify tells an external cluster registry about capacity changes.
//
// Every notification is a fire-and-forget JSON POST: it runs on its own
// goroutine, failures are logged and never reach the caller.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// ServiceInfo describes the cluster's public REST endpoint.
type ServiceInfo struct {
	RestURL    string `json:"resturl"`
	ServiceKey string `json:"servicekey"`
	ServiceID  string `json:"serviceid"`
}

// Notifier receives the outbound side notifications of the cluster manager.
type Notifier interface {
	CapacityAdded(purpose string)
	CapacityRemoved(purpose string)
	RegisterCluster(info ServiceInfo)
	LeaveConference(conferenceID string)
	UnregisterCluster()
}

// Nop discards every notification.
type Nop struct{}

func (Nop) CapacityAdded(string)        {}
func (Nop) CapacityRemoved(string)      {}
func (Nop) RegisterCluster(ServiceInfo) {}
func (Nop) LeaveConference(string)      {}
func (Nop) UnregisterCluster()          {}

// Config configures an HTTPNotifier.
type Config struct {
	// URL is the registry base URL; resources are posted to URL/<resource>.
	URL       string
	ClusterID string
	Region    string
	// Timeout bounds a single POST (default: 5s).
	Timeout time.Duration
	Logger  hclog.Logger
}

// HTTPNotifier posts notifications to the external registry.
type HTTPNotifier struct {
	cfg     Config
	client  *http.Client
	enabled bool
	log     hclog.Logger
	wg      sync.WaitGroup
}

var _ Notifier = (*HTTPNotifier)(nil)

// New creates a notifier. An empty or malformed URL yields a notifier that
// only logs.
func New(cfg Config) *HTTPNotifier {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	return &HTTPNotifier{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		enabled: ValidURL(cfg.URL),
		log:     cfg.Logger.Named("notify"),
	}
}

// ValidURL reports whether raw is an absolute http(s) URL.
func ValidURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Enabled reports whether notifications are actually sent.
func (n *HTTPNotifier) Enabled() bool { return n.enabled }

type capacityInfo struct {
	Action   string `json:"action"`
	Capacity string `json:"capacity"`
}

type clusterBody struct {
	ClusterID    string `json:"clusterID"`
	Region       string `json:"region"`
	Info         any    `json:"info,omitempty"`
	ConferenceID string `json:"conferenceId,omitempty"`
}

func (n *HTTPNotifier) CapacityAdded(purpose string) {
	n.send("updateCapacity", clusterBody{ClusterID: n.cfg.ClusterID, Region: n.cfg.Region,
		Info: capacityInfo{Action: "add", Capacity: purpose}})
}

func (n *HTTPNotifier) CapacityRemoved(purpose string) {
	n.send("updateCapacity", clusterBody{ClusterID: n.cfg.ClusterID, Region: n.cfg.Region,
		Info: capacityInfo{Action: "remove", Capacity: purpose}})
}

func (n *HTTPNotifier) RegisterCluster(info ServiceInfo) {
	n.send("registerCluster", clusterBody{ClusterID: n.cfg.ClusterID, Region: n.cfg.Region, Info: info})
}

func (n *HTTPNotifier) LeaveConference(conferenceID string) {
	n.send("leaveConference", clusterBody{ClusterID: n.cfg.ClusterID, Region: n.cfg.Region,
		ConferenceID: conferenceID})
}

func (n *HTTPNotifier) UnregisterCluster() {
	n.send("unregisterCluster", clusterBody{ClusterID: n.cfg.ClusterID, Region: n.cfg.Region})
}

// Wait blocks until every in-flight notification has finished.
func (n *HTTPNotifier) Wait() { n.wg.Wait() }

func (n *HTTPNotifier) send(resource string, body clusterBody) {
	if !n.enabled {
		return
	}
	n.log.Info("sending notification", "resource", resource, "cluster", body.ClusterID)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.post(resource, body); err != nil {
			n.log.Warn("notification failed", "resource", resource, "error", err)
		}
	}()
}

func (n *HTTPNotifier) post(resource string, body clusterBody) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	target := strings.TrimSuffix(n.cfg.URL, "/") + "/" + resource

	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
