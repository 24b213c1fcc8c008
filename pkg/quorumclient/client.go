// Package quorumclient is a thin JSON-over-HTTP client for the Control
// API, used by cmd/quorumctl.
package quorumclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to one coordinatord instance's Control API.
type Client struct {
	addr string
	http *http.Client
}

// New builds a client against the Control API listening at addr, e.g.
// "http://127.0.0.1:9100".
func New(addr string) *Client {
	return &Client{addr: addr, http: &http.Client{Timeout: 15 * time.Second}}
}

func (c *Client) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("quorumclient: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, c.addr+path, reader)
	if err != nil {
		return fmt.Errorf("quorumclient: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("quorumclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("quorumclient: %s %s: %s: %s", method, path, resp.Status, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Status is the decoded /status response.
type Status struct {
	Primary         string   `json:"primary"`
	Followers       []string `json:"followers"`
	ReplicationMode string   `json:"replication_mode"`
	FailoverState   string   `json:"failover_state"`
}

func (c *Client) Status() (Status, error) {
	var s Status
	err := c.do(http.MethodGet, "/status", nil, &s)
	return s, err
}

// TopologyInstance is one instance entry in a /admin/topology response.
type TopologyInstance struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// Topology is the decoded /admin/topology response.
type Topology struct {
	Primary   *TopologyInstance  `json:"primary"`
	Followers []TopologyInstance `json:"followers"`
}

func (c *Client) Topology() (Topology, error) {
	var t Topology
	err := c.do(http.MethodGet, "/admin/topology", nil, &t)
	return t, err
}

// TableTimestamps is one instance's decoded /table-timestamps entry.
type TableTimestamps struct {
	InstanceID           string           `json:"instance_id"`
	LastAppliedTimestamp int64            `json:"last_applied_timestamp"`
	Lag                  int64            `json:"lag"`
	TableTimestamps      map[string]int64 `json:"table_timestamps"`
}

func (c *Client) TableTimestamps() ([]TableTimestamps, error) {
	var out struct {
		Instances []TableTimestamps `json:"instances"`
	}
	err := c.do(http.MethodGet, "/table-timestamps", nil, &out)
	return out.Instances, err
}

// LevelStats is one consistency level's aggregate counters, mirroring
// pkg/metrics.LevelStats.
type LevelStats struct {
	Requests         int64
	Failures         int64
	Timeouts         int64
	AverageLatencyMS float64
}

func (c *Client) ConsistencyMetrics() (map[string]LevelStats, error) {
	var m map[string]LevelStats
	err := c.do(http.MethodGet, "/consistency-metrics", nil, &m)
	return m, err
}

// QueryResult is the decoded /query response.
type QueryResult struct {
	Success      bool             `json:"success"`
	Timestamp    int64            `json:"timestamp,omitempty"`
	RowsAffected int64            `json:"rows_affected,omitempty"`
	Rows         []map[string]any `json:"rows,omitempty"`
	ExecutedOn   string           `json:"executed_on"`
	LatencyMS    int64            `json:"latency_ms"`
}

func (c *Client) Query(statement, consistency string) (QueryResult, error) {
	var q QueryResult
	err := c.do(http.MethodPost, "/query", map[string]string{
		"statement":   statement,
		"consistency": consistency,
	}, &q)
	return q, err
}

func (c *Client) StopMaster() error {
	return c.do(http.MethodPost, "/admin/stop-master", nil, nil)
}

func (c *Client) StopMasterOnly() error {
	return c.do(http.MethodPost, "/admin/stop-master-only", nil, nil)
}

func (c *Client) PromoteLeader(newLeader string) error {
	return c.do(http.MethodPost, "/admin/promote-leader", map[string]string{"new_leader": newLeader}, nil)
}

func (c *Client) StartInstance(instanceID string) error {
	return c.do(http.MethodPost, "/admin/start-instance", map[string]string{"instance_id": instanceID}, nil)
}

func (c *Client) RestartOldMaster() error {
	return c.do(http.MethodPost, "/admin/restart-old-master", nil, nil)
}

func (c *Client) ClearData() error {
	return c.do(http.MethodPost, "/admin/clear-data", nil, nil)
}
