package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"log/slog"
)

// Status values for snapshots and sub-checks.
const (
	StatusOK           = "ok"
	StatusError        = "error"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Database exposes the connection metadata a snapshot reports on.
type Database interface {
	Ping(ctx context.Context) error
	ListTables(ctx context.Context) ([]string, error)
	Host() string
	Name() string
}

// ServiceTarget identifies a dependent service probed over HTTP.
type ServiceTarget struct {
	Name string
	URL  string
}

// Snapshot is a point-in-time description of process, database and
// dependent-service health.
type Snapshot struct {
	Status        string                   `json:"status"`
	Error         string                   `json:"error,omitempty"`
	Timestamp     string                   `json:"timestamp"`
	UptimeSeconds float64                  `json:"uptime_seconds"`
	Memory        MemoryStats              `json:"memory"`
	CPU           CPUStats                 `json:"cpu"`
	Database      DatabaseStatus           `json:"database"`
	Services      map[string]ServiceStatus `json:"services"`
}

// MemoryStats reports process memory usage.
type MemoryStats struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	HeapObjects     uint64 `json:"heap_objects"`
	NumGC           uint32 `json:"num_gc"`
}

// CPUStats reports scheduler-level process metrics.
type CPUStats struct {
	NumCPU       int `json:"num_cpu"`
	NumGoroutine int `json:"num_goroutine"`
	GoMaxProcs   int `json:"gomaxprocs"`
}

// DatabaseStatus describes datastore connectivity.
type DatabaseStatus struct {
	Status      string   `json:"status"`
	Host        string   `json:"host,omitempty"`
	Name        string   `json:"name,omitempty"`
	Tables      []string `json:"tables,omitempty"`
	TablesError string   `json:"tables_error,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// ServiceStatus describes one dependent-service probe outcome.
type ServiceStatus struct {
	Status         string          `json:"status"`
	ResponseTimeMs int64           `json:"response_time_ms,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Producer assembles health snapshots. Snapshot assembly never fails:
// every sub-probe error is downgraded to an error field inside the snapshot.
type Producer struct {
	db           Database
	client       *http.Client
	targets      []ServiceTarget
	probeTimeout time.Duration
	started      time.Time
	logger       *slog.Logger
}

// NewProducer constructs a Producer. db may be nil when the service runs
// degraded without a datastore.
func NewProducer(db Database, targets []ServiceTarget, probeTimeout time.Duration, logger *slog.Logger) *Producer {
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		db:           db,
		client:       &http.Client{Timeout: probeTimeout},
		targets:      targets,
		probeTimeout: probeTimeout,
		started:      time.Now().UTC(),
		logger:       logger,
	}
}

// Produce assembles a snapshot. The top-level status is "error" only when
// reading local process metrics panics; degraded sub-checks leave it "ok".
func (p *Producer) Produce(ctx context.Context) Snapshot {
	snap := Snapshot{
		Status:    StatusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				snap.Status = StatusError
				snap.Error = fmt.Sprintf("process metrics unavailable: %v", r)
				p.logger.Error("health snapshot local metrics failed", "panic", r)
			}
		}()
		snap.UptimeSeconds = time.Since(p.started).Seconds()
		snap.Memory, snap.CPU = localMetrics()
	}()

	snap.Database = p.databaseStatus(ctx)
	snap.Services = p.probeServices(ctx)
	return snap
}

func localMetrics() (MemoryStats, CPUStats) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	mem := MemoryStats{
		AllocBytes:      m.Alloc,
		TotalAllocBytes: m.TotalAlloc,
		SysBytes:        m.Sys,
		HeapObjects:     m.HeapObjects,
		NumGC:           m.NumGC,
	}
	cpu := CPUStats{
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
		GoMaxProcs:   runtime.GOMAXPROCS(0),
	}
	return mem, cpu
}

func (p *Producer) databaseStatus(ctx context.Context) DatabaseStatus {
	if p.db == nil {
		return DatabaseStatus{Status: StatusDisconnected, Error: "no database configured"}
	}
	pingCtx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()
	if err := p.db.Ping(pingCtx); err != nil {
		return DatabaseStatus{
			Status: StatusDisconnected,
			Host:   p.db.Host(),
			Name:   p.db.Name(),
			Error:  err.Error(),
		}
	}
	status := DatabaseStatus{
		Status: StatusConnected,
		Host:   p.db.Host(),
		Name:   p.db.Name(),
	}
	listCtx, cancelList := context.WithTimeout(ctx, p.probeTimeout)
	defer cancelList()
	tables, err := p.db.ListTables(listCtx)
	if err != nil {
		status.TablesError = err.Error()
		return status
	}
	status.Tables = tables
	return status
}

// probeServices checks every dependent service concurrently; one slow or
// unreachable target never delays or fails the others.
func (p *Producer) probeServices(ctx context.Context) map[string]ServiceStatus {
	results := make(map[string]ServiceStatus, len(p.targets))
	if len(p.targets) == 0 {
		return results
	}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, target := range p.targets {
		wg.Add(1)
		go func(target ServiceTarget) {
			defer wg.Done()
			result := p.probe(ctx, target)
			mu.Lock()
			results[target.Name] = result
			mu.Unlock()
		}(target)
	}
	wg.Wait()
	return results
}

func (p *Producer) probe(ctx context.Context, target ServiceTarget) ServiceStatus {
	probeCtx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()

	url := strings.TrimRight(target.URL, "/") + "/health"
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return ServiceStatus{Status: StatusError, Error: "invalid probe url"}
	}
	start := time.Now()
	resp, err := p.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return ServiceStatus{Status: StatusError, Error: shortReason(err), ResponseTimeMs: elapsed.Milliseconds()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return ServiceStatus{
			Status:         StatusError,
			Error:          fmt.Sprintf("unexpected status %d", resp.StatusCode),
			ResponseTimeMs: elapsed.Milliseconds(),
		}
	}
	status := ServiceStatus{Status: StatusOK, ResponseTimeMs: elapsed.Milliseconds()}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	if err == nil && json.Valid(body) {
		status.Details = json.RawMessage(body)
	}
	return status
}

// shortReason trims Go's verbose transport errors to their last segment.
func shortReason(err error) string {
	msg := err.Error()
	if idx := strings.LastIndex(msg, ": "); idx >= 0 && idx+2 < len(msg) {
		return msg[idx+2:]
	}
	return msg
}
