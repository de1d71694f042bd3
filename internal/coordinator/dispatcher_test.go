package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dreamware/ruru/internal/cluster"
	"github.com/dreamware/ruru/internal/stats"
)

// TestMain verifies no test leaks fan-out goroutines.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// staticNodes returns a lookup over a fixed node set.
func staticNodes(ids ...string) func(id string) (cluster.NodeInfo, bool) {
	nodes := make(map[string]cluster.NodeInfo, len(ids))
	for _, id := range ids {
		nodes[id] = cluster.NodeInfo{ID: id, Addr: "http://" + id}
	}
	return func(id string) (cluster.NodeInfo, bool) {
		n, ok := nodes[id]
		return n, ok
	}
}

// fakeShardReply builds the binary reply a node would produce for its
// local shards.
func fakeShardReply(nodeID string, targets ...ShardTarget) []byte {
	results := &stats.ShardResults{}
	for _, target := range targets {
		results.Shards = append(results.Shards, stats.ShardStats{
			Index:   target.Index,
			ShardID: target.ShardID,
			NodeID:  nodeID,
			Primary: target.Primary,
			Stats:   &stats.CommonStats{Gets: 1, Keys: 10},
		})
	}
	return results.Encode()
}

// TestBroadcastCollectsAllNodes verifies the happy path: every node
// answers and the response covers every target.
func TestBroadcastCollectsAllNodes(t *testing.T) {
	table := buildTable(t)
	d := NewDispatcher(table, staticNodes("node-1", "node-2", "node-3"), nil, nil)

	var mu sync.Mutex
	calls := map[string]int{}
	d.SetSendFunction(func(ctx context.Context, addr string, body []byte) ([]byte, error) {
		// The same encoded request must reach every node intact.
		req, err := stats.DecodeStatsRequest(body)
		require.NoError(t, err)
		assert.Equal(t, []byte("query"), req.Payload())

		mu.Lock()
		calls[addr]++
		mu.Unlock()

		switch addr {
		case "http://node-1":
			return fakeShardReply("node-1", ShardTarget{Index: "logs", ShardID: 0, Primary: true}), nil
		case "http://node-2":
			return fakeShardReply("node-2",
				ShardTarget{Index: "logs", ShardID: 0, Primary: false},
				ShardTarget{Index: "logs", ShardID: 1, Primary: true},
			), nil
		case "http://node-3":
			return fakeShardReply("node-3", ShardTarget{Index: "metrics", ShardID: 0, Primary: true}), nil
		}
		return nil, errors.New("unexpected node")
	})

	req := stats.NewStatsRequest().SetPayload([]byte("query"), true)
	resp, err := d.Broadcast(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 4, resp.TotalShards)
	assert.Equal(t, 4, resp.SuccessfulShards)
	assert.Equal(t, 0, resp.FailedShards)
	assert.Len(t, resp.Shards, 4)
	assert.Equal(t, uint64(4), resp.Total().Gets)
	assert.Equal(t, uint64(3), resp.Primaries().Gets)

	// One call per node, and the unsafe payload was made private before
	// the fan-out read it.
	mu.Lock()
	assert.Len(t, calls, 3)
	mu.Unlock()
	assert.False(t, req.PayloadUnsafe())
}

// TestBroadcastNodeFailureBecomesShardFailures verifies an unreachable
// node is reported as one failure per shard copy it owned, while the
// other nodes' records still aggregate.
func TestBroadcastNodeFailureBecomesShardFailures(t *testing.T) {
	table := buildTable(t)
	d := NewDispatcher(table, staticNodes("node-1", "node-2", "node-3"), nil, nil)

	d.SetSendFunction(func(ctx context.Context, addr string, body []byte) ([]byte, error) {
		if addr == "http://node-2" {
			return nil, errors.New("connection refused")
		}
		switch addr {
		case "http://node-1":
			return fakeShardReply("node-1", ShardTarget{Index: "logs", ShardID: 0, Primary: true}), nil
		default:
			return fakeShardReply("node-3", ShardTarget{Index: "metrics", ShardID: 0, Primary: true}), nil
		}
	})

	resp, err := d.Broadcast(context.Background(), stats.NewStatsRequest())
	require.NoError(t, err)

	assert.Equal(t, 4, resp.TotalShards)
	assert.Equal(t, 2, resp.SuccessfulShards)
	// node-2 owned the logs-0 replica and the logs-1 primary.
	assert.Equal(t, 2, resp.FailedShards)
	for _, failure := range resp.Failures {
		assert.Equal(t, "node-2", failure.NodeID)
		assert.Contains(t, failure.Reason, "connection refused")
	}
	assert.Equal(t, uint64(2), resp.Total().Gets)
}

// TestBroadcastRetriesOnce verifies one retry per node: a transient first
// failure is absorbed, a second failure is final.
func TestBroadcastRetriesOnce(t *testing.T) {
	table := NewRoutingTable()
	require.NoError(t, table.DeclareIndex("logs", 1))
	require.NoError(t, table.AssignShard("logs", 0, "node-1", true))

	d := NewDispatcher(table, staticNodes("node-1"), nil, nil)

	var mu sync.Mutex
	attempts := 0
	d.SetSendFunction(func(ctx context.Context, addr string, body []byte) ([]byte, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			return nil, errors.New("transient")
		}
		return fakeShardReply("node-1", ShardTarget{Index: "logs", ShardID: 0, Primary: true}), nil
	})

	resp, err := d.Broadcast(context.Background(), stats.NewStatsRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, resp.SuccessfulShards)
	assert.Equal(t, 0, resp.FailedShards)
}

// TestBroadcastSkipsUnhealthyNodes verifies shards on a node the health
// monitor already declared dead fail immediately without a send.
func TestBroadcastSkipsUnhealthyNodes(t *testing.T) {
	table := buildTable(t)
	isHealthy := func(id string) bool { return id != "node-2" }
	d := NewDispatcher(table, staticNodes("node-1", "node-2", "node-3"), isHealthy, nil)

	var mu sync.Mutex
	var sentTo []string
	d.SetSendFunction(func(ctx context.Context, addr string, body []byte) ([]byte, error) {
		mu.Lock()
		sentTo = append(sentTo, addr)
		mu.Unlock()
		return (&stats.ShardResults{}).Encode(), nil
	})

	resp, err := d.Broadcast(context.Background(), stats.NewStatsRequest())
	require.NoError(t, err)

	mu.Lock()
	assert.NotContains(t, sentTo, "http://node-2")
	mu.Unlock()
	assert.Equal(t, 2, resp.FailedShards)
	for _, failure := range resp.Failures {
		assert.Equal(t, "node-2", failure.NodeID)
		assert.Contains(t, failure.Reason, "unhealthy")
	}
}

// TestBroadcastUndecodableReply verifies a garbage reply is a per-shard
// failure, not a broadcast error.
func TestBroadcastUndecodableReply(t *testing.T) {
	table := NewRoutingTable()
	require.NoError(t, table.DeclareIndex("logs", 1))
	require.NoError(t, table.AssignShard("logs", 0, "node-1", true))

	d := NewDispatcher(table, staticNodes("node-1"), nil, nil)
	d.SetSendFunction(func(ctx context.Context, addr string, body []byte) ([]byte, error) {
		return []byte{0xff}, nil
	})

	resp, err := d.Broadcast(context.Background(), stats.NewStatsRequest())
	require.NoError(t, err)
	require.Len(t, resp.Failures, 1)
	assert.Contains(t, resp.Failures[0].Reason, "decoding reply")
	assert.Equal(t, 0, resp.SuccessfulShards)
}

// TestBroadcastNoTargets verifies a broadcast over nothing still yields
// a usable, empty response.
func TestBroadcastNoTargets(t *testing.T) {
	d := NewDispatcher(NewRoutingTable(), staticNodes(), nil, nil)
	d.SetSendFunction(func(ctx context.Context, addr string, body []byte) ([]byte, error) {
		t.Fatal("nothing should be sent")
		return nil, nil
	})

	resp, err := d.Broadcast(context.Background(), stats.NewStatsRequest())
	require.NoError(t, err)
	assert.Equal(t, 0, resp.TotalShards)
	assert.Equal(t, &stats.CommonStats{}, resp.Total())
}

// TestBroadcastCanceledContext verifies caller cancellation is the one
// case that errors the whole operation.
func TestBroadcastCanceledContext(t *testing.T) {
	table := NewRoutingTable()
	require.NoError(t, table.DeclareIndex("logs", 1))
	require.NoError(t, table.AssignShard("logs", 0, "node-1", true))

	d := NewDispatcher(table, staticNodes("node-1"), nil, nil)
	d.PerNodeTimeout = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	d.SetSendFunction(func(ctx context.Context, addr string, body []byte) ([]byte, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := d.Broadcast(ctx, stats.NewStatsRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
