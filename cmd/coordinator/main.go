// Package main implements the Ruru coordinator service: cluster
// membership, shard routing, the data-plane router, and the user-facing
// cluster statistics endpoint.
//
// Endpoints:
//
//	POST /register       - Node registration
//	GET  /nodes          - List registered nodes
//	GET  /health         - Liveness probe
//	GET  /cluster/health - Per-node health state
//	GET  /_stats         - Cluster statistics (level-gated document)
//	*    /data/{index}/{key} - Routed data operations
//	GET  /shards         - Current shard routing table
//
// Configuration (flags, falling back to environment):
//
//	--listen   / COORDINATOR_LISTEN  (default ":8080")
//	--topology / COORDINATOR_TOPOLOGY (YAML file; default single test index)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/ruru/internal/cluster"
	"github.com/dreamware/ruru/internal/config"
	"github.com/dreamware/ruru/internal/coordinator"
	"github.com/dreamware/ruru/internal/stats"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		listen       string
		topologyPath string
	)
	cmd := &cobra.Command{
		Use:           "coordinator",
		Short:         "Ruru cluster coordinator",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(listen, topologyPath)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", getenv("COORDINATOR_LISTEN", ":8080"), "listen address")
	cmd.Flags().StringVar(&topologyPath, "topology", os.Getenv("COORDINATOR_TOPOLOGY"), "cluster topology YAML file")
	return cmd
}

func run(listen, topologyPath string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	topo, err := config.LoadTopology(topologyPath)
	if err != nil {
		return err
	}

	srv, err := newServer(topo, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.health.Start(ctx, srv.nodeList)
	defer srv.health.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/register", srv.handleRegister)
	mux.HandleFunc("/nodes", srv.handleListNodes)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/cluster/health", srv.handleClusterHealth)
	mux.HandleFunc("/_stats", srv.handleStats)
	mux.HandleFunc("/data/", srv.handleData)
	mux.HandleFunc("/shards", srv.handleShards)

	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("coordinator listening", zap.String("addr", listen))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Info("coordinator stopped")
	return nil
}

type server struct {
	mu         sync.RWMutex
	nodes      []cluster.NodeInfo
	topo       *config.Topology
	routes     *coordinator.RoutingTable
	health     *coordinator.HealthMonitor
	dispatcher *coordinator.Dispatcher
	logger     *zap.Logger
}

func newServer(topo *config.Topology, logger *zap.Logger) (*server, error) {
	routes := coordinator.NewRoutingTable()
	for _, idx := range topo.Indices {
		if err := routes.DeclareIndex(idx.Name, idx.Shards); err != nil {
			return nil, err
		}
	}

	s := &server{
		topo:   topo,
		routes: routes,
		health: coordinator.NewHealthMonitor(5*time.Second, logger),
		logger: logger,
	}
	s.health.SetOnUnhealthy(func(nodeID string) {
		routes.RemoveNode(nodeID)
	})
	s.dispatcher = coordinator.NewDispatcher(routes, s.lookupNode, s.health.IsHealthy, logger)
	return s, nil
}

// nodeList snapshots the registered nodes for the health monitor.
func (s *server) nodeList() []cluster.NodeInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]cluster.NodeInfo(nil), s.nodes...)
}

// lookupNode resolves a node ID to its registration for the dispatcher.
func (s *server) lookupNode(id string) (cluster.NodeInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.nodes {
		if n.ID == id {
			return n, true
		}
	}
	return cluster.NodeInfo{}, false
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Node.ID == "" || req.Node.Addr == "" {
		http.Error(w, "missing id/addr", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.IndexFunc(s.nodes, func(n cluster.NodeInfo) bool { return n.ID == req.Node.ID })
	if idx >= 0 {
		s.nodes[idx] = req.Node
	} else {
		s.nodes = append(s.nodes, req.Node)
		s.assignShardsLocked()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_ = json.NewEncoder(w).Encode(struct {
		Nodes []cluster.NodeInfo `json:"nodes"`
	}{Nodes: s.nodes})
}

func (s *server) handleClusterHealth(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(struct {
		Nodes []coordinator.NodeHealth `json:"nodes"`
	}{Nodes: s.health.Snapshot()})
}

// handleStats serves the cluster statistics endpoint. Level defaults to
// "indices"; an unrecognized level degrades to an empty document rather
// than failing the request.
//
// Query parameters:
//
//	indices    - comma-separated target indices (empty = all)
//	level      - cluster | indices | shards
//	routing    - routing hint forwarded to shard selection
//	preference - preference hint forwarded to shard selection
func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req := stats.NewStatsRequest(splitCSV(r.URL.Query().Get("indices"))...)
	if routing := r.URL.Query().Get("routing"); routing != "" {
		req.Routing(routing)
	}
	if preference := r.URL.Query().Get("preference"); preference != "" {
		req.Preference(preference)
	}

	resp, err := s.dispatcher.Broadcast(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	level := r.URL.Query().Get("level")
	if level == "" {
		level = string(stats.DefaultLevel)
	}
	body, err := resp.RenderJSON(level)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// handleData routes data operations to the node owning the key's primary
// shard. Path form: /data/{index}/{key}.
func (s *server) handleData(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/data/")
	index, key, ok := strings.Cut(rest, "/")
	if !ok || index == "" || key == "" {
		http.Error(w, "path must be /data/{index}/{key}", http.StatusBadRequest)
		return
	}

	nodeID, shardID, err := s.routes.NodeForKey(index, key)
	if err != nil {
		http.Error(w, fmt.Sprintf("no node assigned for key: %v", err), http.StatusServiceUnavailable)
		return
	}
	node, ok := s.lookupNode(nodeID)
	if !ok {
		http.Error(w, fmt.Sprintf("node %s not found", nodeID), http.StatusServiceUnavailable)
		return
	}

	targetURL := fmt.Sprintf("%s/shard/%s/%d/store/%s", node.Addr, index, shardID, key)
	s.forward(targetURL, w, r)
}

// forward relays a data-plane request to a node and copies the reply back.
func (s *server) forward(targetURL string, w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var body io.Reader
	if r.Method == http.MethodPut || r.Method == http.MethodPost {
		body = r.Body
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, targetURL, body)
	if err != nil {
		http.Error(w, "failed to create request", http.StatusInternalServerError)
		return
	}

	resp, err := cluster.HTTPClient.Do(req)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to forward request: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// handleShards returns the current routing table contents.
func (s *server) handleShards(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	type shardEntry struct {
		Index   string `json:"index"`
		ShardID int    `json:"shard"`
		NodeID  string `json:"node"`
		Primary bool   `json:"primary"`
	}
	var out []shardEntry
	for _, target := range s.routes.ResolveTargets(nil) {
		out = append(out, shardEntry{
			Index:   target.Index,
			ShardID: target.ShardID,
			NodeID:  target.NodeID,
			Primary: target.Primary,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Shards []shardEntry `json:"shards"`
	}{Shards: out})
}

// assignShardsLocked distributes every declared index's shard copies
// round-robin across the registered nodes, keeping the replica off its
// primary's node when the cluster is large enough. The routing table
// tracks one replica per shard, so replica counts above one collapse to
// one. Caller holds s.mu.
func (s *server) assignShardsLocked() {
	if len(s.nodes) == 0 {
		return
	}
	n := len(s.nodes)
	for _, idx := range s.topo.Indices {
		for shardID := 0; shardID < idx.Shards; shardID++ {
			primaryNode := s.nodes[shardID%n].ID
			if err := s.routes.AssignShard(idx.Name, shardID, primaryNode, true); err != nil {
				s.logger.Warn("shard assignment failed",
					zap.String("index", idx.Name),
					zap.Int("shard", shardID),
					zap.Error(err),
				)
				continue
			}
			if idx.Replicas > 0 && n > 1 {
				replicaNode := s.nodes[(shardID+1)%n].ID
				_ = s.routes.AssignShard(idx.Name, shardID, replicaNode, false)
			}
		}
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
