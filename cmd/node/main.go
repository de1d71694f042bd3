// Package main implements the Ruru node service: a worker that hosts the
// shards of the cluster's indices, serves routed data operations, and
// executes the per-shard side of cluster statistics broadcasts.
//
// Endpoints:
//
//	GET  /health                          - Health check
//	POST /stats                           - Binary stats plane (broadcast execution)
//	*    /shard/{index}/{id}/store/{key}  - Shard data operations
//	GET  /info                            - Node and shard metadata
//
// Configuration (flags, falling back to environment):
//
//	--id          / NODE_ID           (required)
//	--listen      / NODE_LISTEN       (default ":8081")
//	--addr        / NODE_ADDR         (default "http://127.0.0.1:8081")
//	--coordinator / COORDINATOR_ADDR  (required)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/ruru/internal/cluster"
	"github.com/dreamware/ruru/internal/shard"
	"github.com/dreamware/ruru/internal/stats"
	"github.com/dreamware/ruru/internal/storage"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		nodeID      string
		listen      string
		public      string
		coordinator string
	)
	cmd := &cobra.Command{
		Use:           "node",
		Short:         "Ruru storage node",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if nodeID == "" {
				return errors.New("node id is required (--id or NODE_ID)")
			}
			if coordinator == "" {
				return errors.New("coordinator address is required (--coordinator or COORDINATOR_ADDR)")
			}
			return run(nodeID, listen, public, coordinator)
		},
	}
	cmd.Flags().StringVar(&nodeID, "id", os.Getenv("NODE_ID"), "unique node identifier")
	cmd.Flags().StringVar(&listen, "listen", getenv("NODE_LISTEN", ":8081"), "listen address")
	cmd.Flags().StringVar(&public, "addr", getenv("NODE_ADDR", "http://127.0.0.1:8081"), "public address for the coordinator")
	cmd.Flags().StringVar(&coordinator, "coordinator", os.Getenv("COORDINATOR_ADDR"), "coordinator URL")
	return cmd
}

func run(nodeID, listen, public, coordinator string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	node := NewNode(nodeID, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/stats", node.handleStats)
	mux.HandleFunc("/shard/", node.handleShardOp)
	mux.HandleFunc("/info", node.handleInfo)

	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("node listening", zap.String("id", nodeID), zap.String("addr", listen))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	if err := register(coordinator, nodeID, public, logger); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	logger.Info("node stopped")
	return nil
}

// register announces the node to the coordinator, retrying a few times to
// ride out coordinator startup ordering.
func register(coordinator, nodeID, public string, logger *zap.Logger) error {
	req := cluster.RegisterRequest{Node: cluster.NodeInfo{ID: nodeID, Addr: public}}
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err = cluster.PostJSON(ctx, coordinator+"/register", req, nil)
		cancel()
		if err == nil {
			logger.Info("registered with coordinator", zap.String("coordinator", coordinator))
			return nil
		}
		logger.Warn("registration failed, retrying", zap.Error(err))
		time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
	}
	return fmt.Errorf("registering with coordinator: %w", err)
}

// Node is the runtime state of a storage node: the shards it hosts,
// created lazily when the coordinator first routes a request for them.
//
// Concurrency model:
//   - the shard map is guarded by an RWMutex
//   - individual shards handle their own synchronization
type Node struct {
	// shards maps index name to that index's local shards by ID.
	shards map[string]map[int]*shard.Shard

	ID     string
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewNode creates a node with an empty shard map.
func NewNode(id string, logger *zap.Logger) *Node {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Node{
		ID:     id,
		shards: make(map[string]map[int]*shard.Shard),
		logger: logger,
	}
}

// getOrCreateShard returns the local shard, creating it on first access.
// Lazily created shards are primaries: the coordinator only routes data
// operations at primary copies.
func (n *Node) getOrCreateShard(index string, id int) *shard.Shard {
	n.mu.Lock()
	defer n.mu.Unlock()
	byID := n.shards[index]
	if byID == nil {
		byID = make(map[int]*shard.Shard)
		n.shards[index] = byID
	}
	s := byID[id]
	if s == nil {
		s = shard.NewShard(index, id, true)
		byID[id] = s
		n.logger.Info("shard created",
			zap.String("index", index),
			zap.Int("shard", id),
		)
	}
	return s
}

// localShards snapshots the node's shards, filtered to the target indices
// (empty means all).
func (n *Node) localShards(indices []string) []*shard.Shard {
	want := make(map[string]bool, len(indices))
	for _, index := range indices {
		want[index] = true
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	var out []*shard.Shard
	for index, byID := range n.shards {
		if len(want) > 0 && !want[index] {
			continue
		}
		for _, s := range byID {
			out = append(out, s)
		}
	}
	return out
}

// handleStats executes the node's side of a stats broadcast: decode the
// binary request, collect a record from every local shard of the targeted
// indices, and reply with the binary result set. A malformed request or
// payload is a hard 400; a shard that cannot answer becomes a failure
// record in the reply, not an error.
func (n *Node) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	req, err := stats.DecodeStatsRequest(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("bad stats request: %v", err), http.StatusBadRequest)
		return
	}
	query, err := stats.DecodeQuery(req.Payload())
	if err != nil {
		http.Error(w, fmt.Sprintf("bad stats query: %v", err), http.StatusBadRequest)
		return
	}

	results := &stats.ShardResults{}
	for _, s := range n.localShards(req.Indices) {
		info := s.Info()
		if info.State == shard.ShardStateDeleted {
			results.Failures = append(results.Failures, stats.ShardFailure{
				Index:   s.Index,
				ShardID: s.ID,
				NodeID:  n.ID,
				Reason:  "shard is marked for deletion",
			})
			continue
		}
		results.Shards = append(results.Shards, s.Record(n.ID, query))
	}

	n.logger.Debug("stats collected",
		zap.Int("shards", len(results.Shards)),
		zap.Int("failures", len(results.Failures)),
	)
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(results.Encode())
}

// handleShardOp serves routed data operations.
// Path form: /shard/{index}/{id}/store/{key}.
func (n *Node) handleShardOp(w http.ResponseWriter, r *http.Request) {
	index, id, key, ok := parseShardPath(r.URL.Path)
	if !ok {
		http.Error(w, "path must be /shard/{index}/{id}/store/{key}", http.StatusBadRequest)
		return
	}
	s := n.getOrCreateShard(index, id)

	switch r.Method {
	case http.MethodGet:
		value, err := s.Get(key)
		if err != nil {
			if errors.Is(err, storage.ErrKeyNotFound) {
				http.Error(w, "key not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(value)
	case http.MethodPut:
		value, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		if err := s.Put(key, value); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if err := s.Delete(key); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleInfo reports the node's shard metadata.
func (n *Node) handleInfo(w http.ResponseWriter, r *http.Request) {
	n.mu.RLock()
	var infos []shard.ShardInfo
	for _, byID := range n.shards {
		for _, s := range byID {
			infos = append(infos, s.Info())
		}
	}
	n.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		ID     string            `json:"id"`
		Shards []shard.ShardInfo `json:"shards"`
	}{ID: n.ID, Shards: infos})
}

// parseShardPath splits /shard/{index}/{id}/store/{key}.
func parseShardPath(path string) (index string, id int, key string, ok bool) {
	rest := strings.TrimPrefix(path, "/shard/")
	parts := strings.SplitN(rest, "/", 4)
	if len(parts) != 4 || parts[2] != "store" {
		return "", 0, "", false
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil || parts[0] == "" || parts[3] == "" {
		return "", 0, "", false
	}
	return parts[0], id, parts[3], true
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
