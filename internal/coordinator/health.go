package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/ruru/internal/cluster"
)

// NodeHealth tracks the health status of a single node in the cluster.
// Thread-safe: protected by HealthMonitor's mutex when accessed.
type NodeHealth struct {
	LastCheck        time.Time // Timestamp of the last health check attempt
	LastHealthy      time.Time // Timestamp of the last successful health check
	NodeID           string    // Unique identifier of the node
	Status           string    // Current status: "healthy", "unhealthy", "unknown"
	ConsecutiveFails int       // Number of consecutive failed health checks
}

// HealthMonitor performs periodic health checks on all registered nodes.
// The stats dispatcher consults it before fanning out so that shards on a
// node already known dead are reported as failures immediately instead of
// waiting out a transport timeout.
type HealthMonitor struct {
	nodes       map[string]*NodeHealth  // Current health status per node
	httpClient  *http.Client            // HTTP client for health checks
	checkFunc   func(addr string) error // Function to perform health check
	onUnhealthy func(nodeID string)     // Callback when node becomes unhealthy
	logger      *zap.Logger
	ctx         context.Context    // Context for cancellation
	cancel      context.CancelFunc // Cancel function for shutdown
	interval    time.Duration      // How often to check node health
	timeout     time.Duration      // HTTP timeout for health checks
	mu          sync.RWMutex       // Protects nodes map
	wg          sync.WaitGroup     // Wait group for graceful shutdown
	maxFailures int                // Failures before marking unhealthy
}

// NewHealthMonitor creates a health monitor that probes each node's
// /health endpoint every interval. Nodes are marked unhealthy after 3
// consecutive failures.
func NewHealthMonitor(interval time.Duration, logger *zap.Logger) *HealthMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		nodes:       make(map[string]*NodeHealth),
		httpClient: &http.Client{
			Timeout: 2 * time.Second,
		},
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetOnUnhealthy sets the callback invoked when a node becomes unhealthy,
// typically to drop the node's shard assignments from the routing table.
func (h *HealthMonitor) SetOnUnhealthy(callback func(nodeID string)) {
	h.onUnhealthy = callback
}

// SetCheckFunction overrides the health check implementation. Used by
// tests to avoid real network calls.
func (h *HealthMonitor) SetCheckFunction(f func(addr string) error) {
	h.checkFunc = f
}

// Start begins periodic checking of all nodes returned by nodeProvider.
// Blocks until the context is canceled or Stop is called.
func (h *HealthMonitor) Start(ctx context.Context, nodeProvider func() []cluster.NodeInfo) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}
	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info("health monitor started", zap.Duration("interval", h.interval))

	// Initial check immediately, then on every tick.
	h.checkAllNodes(nodeProvider())

	for {
		select {
		case <-ticker.C:
			h.checkAllNodes(nodeProvider())
		case <-ctx.Done():
			h.logger.Info("health monitor stopping")
			return
		case <-h.ctx.Done():
			h.logger.Info("health monitor stopping")
			return
		}
	}
}

// Stop gracefully shuts down the health monitor and waits for the
// monitoring goroutine to finish.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

// IsHealthy reports whether a node is currently considered able to serve
// requests. Unknown nodes are treated as healthy: a node that just
// registered has not failed any check yet.
func (h *HealthMonitor) IsHealthy(nodeID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, ok := h.nodes[nodeID]
	if !ok {
		return true
	}
	return health.Status != "unhealthy"
}

// Snapshot returns a copy of the current health state for every tracked
// node, for the coordinator's monitoring endpoints.
func (h *HealthMonitor) Snapshot() []NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]NodeHealth, 0, len(h.nodes))
	for _, health := range h.nodes {
		out = append(out, *health)
	}
	return out
}

// checkAllNodes probes every node in parallel and updates health state.
func (h *HealthMonitor) checkAllNodes(nodes []cluster.NodeInfo) {
	var wg sync.WaitGroup
	for _, node := range nodes {
		wg.Add(1)
		go func(node cluster.NodeInfo) {
			defer wg.Done()
			h.checkNode(node)
		}(node)
	}
	wg.Wait()
}

// checkNode performs one health check and applies the result.
func (h *HealthMonitor) checkNode(node cluster.NodeInfo) {
	err := h.checkFunc(node.Addr)
	now := time.Now()

	h.mu.Lock()
	health, ok := h.nodes[node.ID]
	if !ok {
		health = &NodeHealth{NodeID: node.ID, Status: "unknown"}
		h.nodes[node.ID] = health
	}
	health.LastCheck = now

	var becameUnhealthy bool
	if err != nil {
		health.ConsecutiveFails++
		if health.ConsecutiveFails >= h.maxFailures && health.Status != "unhealthy" {
			health.Status = "unhealthy"
			becameUnhealthy = true
		}
	} else {
		health.ConsecutiveFails = 0
		health.Status = "healthy"
		health.LastHealthy = now
	}
	h.mu.Unlock()

	if err != nil {
		h.logger.Warn("node health check failed",
			zap.String("node", node.ID),
			zap.Error(err),
		)
	}
	if becameUnhealthy {
		h.logger.Warn("node marked unhealthy", zap.String("node", node.ID))
		if h.onUnhealthy != nil {
			h.onUnhealthy(node.ID)
		}
	}
}

// defaultHealthCheck probes a node's /health endpoint over HTTP.
func (h *HealthMonitor) defaultHealthCheck(addr string) error {
	url := strings.TrimSuffix(addr, "/") + "/health"
	ctx, cancel := context.WithTimeout(h.ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}
