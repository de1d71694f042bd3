package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/ruru/internal/cluster"
	"github.com/dreamware/ruru/internal/stats"
)

// StatsPath is the node endpoint serving the binary stats plane.
const StatsPath = "/stats"

// SendFunc posts an encoded stats request to a node address and returns
// the raw reply bytes. Tests substitute this to avoid real networking.
type SendFunc func(ctx context.Context, addr string, body []byte) ([]byte, error)

// Dispatcher owns the broadcast round trips of a stats operation: it
// resolves targets through the routing table, fans the encoded request
// out to the owning nodes in parallel, retries transient transport
// failures once, and folds whatever comes back into a StatsResponse.
//
// Failures are data. A node that cannot be reached, or whose reply cannot
// be decoded, turns into one ShardFailure per shard copy that node was
// supposed to answer for; the broadcast itself only errors when the
// caller's context is canceled.
type Dispatcher struct {
	routes     *RoutingTable
	lookupNode func(id string) (cluster.NodeInfo, bool)
	isHealthy  func(id string) bool
	send       SendFunc
	logger     *zap.Logger

	// PerNodeTimeout bounds each node round trip, retries included.
	PerNodeTimeout time.Duration
}

// NewDispatcher creates a dispatcher over the given routing table.
// lookupNode resolves a node ID to its registered address. isHealthy may
// be nil, in which case every node is assumed reachable.
func NewDispatcher(routes *RoutingTable, lookupNode func(id string) (cluster.NodeInfo, bool), isHealthy func(id string) bool, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		routes:     routes,
		lookupNode: lookupNode,
		isHealthy:  isHealthy,
		send: func(ctx context.Context, addr string, body []byte) ([]byte, error) {
			return cluster.PostBytes(ctx, addr+StatsPath, body)
		},
		logger:         logger,
		PerNodeTimeout: 4 * time.Second,
	}
}

// SetSendFunction overrides the transport. Used by tests.
func (d *Dispatcher) SetSendFunction(send SendFunc) {
	d.send = send
}

// nodeReply carries one node's outcome back from the fan-out.
type nodeReply struct {
	nodeID  string
	targets []ShardTarget
	results *stats.ShardResults
	err     error
}

// Broadcast executes a stats request against every resolved shard target
// and assembles the response. It blocks until every node answered, failed
// its retry, or the context was canceled; the returned response is a
// completed snapshot, never observed mid-collection.
func (d *Dispatcher) Broadcast(ctx context.Context, req *stats.StatsRequest) (*stats.StatsResponse, error) {
	targets := d.routes.ResolveTargets(req.Indices)

	// The payload must be privately owned before its bytes are read by
	// more than one consumer. After this call the encoded buffer below is
	// stable, so per-node retries resend it without another copy.
	req.PrepareForDispatch()
	encoded := req.Encode()

	byNode := make(map[string][]ShardTarget)
	for _, target := range targets {
		byNode[target.NodeID] = append(byNode[target.NodeID], target)
	}

	var (
		collected []stats.ShardStats
		failures  []stats.ShardFailure
	)

	replies := make(chan nodeReply, len(byNode))
	var wg sync.WaitGroup

	for nodeID, nodeTargets := range byNode {
		if d.isHealthy != nil && !d.isHealthy(nodeID) {
			// Known-dead node: fail its shards immediately rather than
			// waiting out a transport timeout.
			failures = append(failures, failTargets(nodeTargets, nodeID, "node marked unhealthy")...)
			continue
		}
		node, ok := d.lookupNode(nodeID)
		if !ok {
			failures = append(failures, failTargets(nodeTargets, nodeID, "node not registered")...)
			continue
		}

		wg.Add(1)
		go func(node cluster.NodeInfo, nodeTargets []ShardTarget) {
			defer wg.Done()
			results, err := d.sendToNode(ctx, node, encoded)
			replies <- nodeReply{nodeID: node.ID, targets: nodeTargets, results: results, err: err}
		}(node, nodeTargets)
	}

	wg.Wait()
	close(replies)

	for reply := range replies {
		if reply.err != nil {
			d.logger.Warn("stats fan-out to node failed",
				zap.String("node", reply.nodeID),
				zap.Int("shards", len(reply.targets)),
				zap.Error(reply.err),
			)
			failures = append(failures, failTargets(reply.targets, reply.nodeID, reply.err.Error())...)
			continue
		}
		collected = append(collected, reply.results.Shards...)
		failures = append(failures, reply.results.Failures...)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("stats broadcast: %w", err)
	}

	d.logger.Debug("stats broadcast complete",
		zap.Int("targets", len(targets)),
		zap.Int("responded", len(collected)),
		zap.Int("failed", len(failures)),
	)
	return stats.NewStatsResponse(len(targets), collected, failures), nil
}

// sendToNode posts the encoded request to one node, retrying once on
// transport error. The request bytes are already privately owned, so the
// resend reads the same buffer safely.
func (d *Dispatcher) sendToNode(ctx context.Context, node cluster.NodeInfo, encoded []byte) (*stats.ShardResults, error) {
	nodeCtx, cancel := context.WithTimeout(ctx, d.PerNodeTimeout)
	defer cancel()

	body, err := d.send(nodeCtx, node.Addr, encoded)
	if err != nil {
		if nodeCtx.Err() != nil {
			return nil, err
		}
		d.logger.Debug("retrying stats request", zap.String("node", node.ID), zap.Error(err))
		body, err = d.send(nodeCtx, node.Addr, encoded)
	}
	if err != nil {
		return nil, err
	}

	results, err := stats.DecodeShardResults(body)
	if err != nil {
		return nil, fmt.Errorf("decoding reply: %w", err)
	}
	return results, nil
}

// failTargets expands a node-level failure into one failure record per
// shard copy the node owned for this broadcast.
func failTargets(targets []ShardTarget, nodeID, reason string) []stats.ShardFailure {
	out := make([]stats.ShardFailure, 0, len(targets))
	for _, target := range targets {
		out = append(out, stats.ShardFailure{
			Index:   target.Index,
			ShardID: target.ShardID,
			NodeID:  nodeID,
			Reason:  reason,
		})
	}
	return out
}
