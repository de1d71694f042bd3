// Package coordinator implements the orchestration layer for Ruru's
// distributed store. See doc.go for complete package documentation.
package coordinator

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"golang.org/x/exp/slices"
)

// ShardTarget identifies one concrete shard copy a broadcast request must
// reach: which index and shard, on which node, primary or replica.
//
// Targets are immutable once created. The routing table returns copies to
// prevent external modification.
type ShardTarget struct {
	// Index is the index the shard partitions.
	Index string

	// ShardID is the shard identifier within the index.
	// Valid range: [0, numShards(index)).
	ShardID int

	// NodeID is the node hosting this copy.
	// Must match a registered node's ID in the cluster.
	NodeID string

	// Primary indicates whether this is the primary or a replica copy.
	// Primary copies are the canonical count in "primaries" rollups.
	Primary bool
}

// RoutingTable is the shard-routing resolver: the authoritative mapping
// from index names to the concrete shard copies that must serve a
// broadcast. The stats dispatch layer never computes routing itself; it
// asks the table to resolve target indices into ShardTargets.
//
// Concurrency model:
//   - Read operations use RLock for parallel access
//   - Write operations use Lock for exclusive access
//   - All returned data is copied to prevent races
type RoutingTable struct {
	// targets maps index name to that index's shard copies.
	targets map[string][]ShardTarget

	// shardCounts fixes the shard count per index at creation time;
	// it bounds AssignShard validation and drives key hashing.
	shardCounts map[string]int

	mu sync.RWMutex // Protects concurrent access
}

// NewRoutingTable creates an empty routing table. Indices are declared
// with DeclareIndex before shards can be assigned.
func NewRoutingTable() *RoutingTable {
	return &RoutingTable{
		targets:     make(map[string][]ShardTarget),
		shardCounts: make(map[string]int),
	}
}

// DeclareIndex registers an index with a fixed shard count. The count is
// immutable for the index's lifetime; re-declaring with a different count
// is an error.
func (t *RoutingTable) DeclareIndex(index string, numShards int) error {
	if index == "" {
		return errors.New("index name cannot be empty")
	}
	if numShards <= 0 {
		return fmt.Errorf("index %q must have at least one shard, got %d", index, numShards)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.shardCounts[index]; ok && existing != numShards {
		return fmt.Errorf("index %q already declared with %d shards", index, existing)
	}
	t.shardCounts[index] = numShards
	return nil
}

// AssignShard records that a node hosts a copy of a shard. Assigning the
// same (shard, primary-flag) again moves that copy to the new node.
func (t *RoutingTable) AssignShard(index string, shardID int, nodeID string, primary bool) error {
	if nodeID == "" {
		return errors.New("node ID cannot be empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	numShards, ok := t.shardCounts[index]
	if !ok {
		return fmt.Errorf("index %q is not declared", index)
	}
	if shardID < 0 || shardID >= numShards {
		return fmt.Errorf("invalid shard ID %d for index %q, must be in range [0, %d)", shardID, index, numShards)
	}

	assigned := t.targets[index]
	for i := range assigned {
		if assigned[i].ShardID == shardID && assigned[i].Primary == primary {
			assigned[i].NodeID = nodeID
			return nil
		}
	}
	t.targets[index] = append(assigned, ShardTarget{
		Index:   index,
		ShardID: shardID,
		NodeID:  nodeID,
		Primary: primary,
	})
	return nil
}

// RemoveNode drops every shard copy hosted by a node, typically after the
// health monitor declared the node dead. The affected copies become
// unrouted until reassigned.
func (t *RoutingTable) RemoveNode(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for index, assigned := range t.targets {
		kept := assigned[:0]
		for _, target := range assigned {
			if target.NodeID != nodeID {
				kept = append(kept, target)
			}
		}
		t.targets[index] = kept
	}
}

// ResolveTargets resolves target index names into the concrete shard
// copies a broadcast must reach. Empty indices means all declared
// indices. Unknown index names resolve to nothing; the broadcast layer
// reports them through its shard counts, not as an error here.
//
// The returned slice is a copy in deterministic order (index name, shard
// id, primaries before replicas).
func (t *RoutingTable) ResolveTargets(indices []string) []ShardTarget {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := append([]string(nil), indices...)
	if len(names) == 0 {
		names = make([]string, 0, len(t.targets))
		for index := range t.targets {
			names = append(names, index)
		}
	}
	sort.Strings(names)
	// A name repeated in the request must not double-count its shards.
	names = slices.Compact(names)

	var out []ShardTarget
	for _, index := range names {
		assigned := append([]ShardTarget(nil), t.targets[index]...)
		sort.Slice(assigned, func(i, j int) bool {
			if assigned[i].ShardID != assigned[j].ShardID {
				return assigned[i].ShardID < assigned[j].ShardID
			}
			return assigned[i].Primary && !assigned[j].Primary
		})
		out = append(out, assigned...)
	}
	return out
}

// Indices returns the declared index names in sorted order.
func (t *RoutingTable) Indices() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.shardCounts))
	for index := range t.shardCounts {
		names = append(names, index)
	}
	sort.Strings(names)
	return names
}

// NumShards returns the declared shard count for an index, zero if the
// index is unknown.
func (t *RoutingTable) NumShards(index string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.shardCounts[index]
}

// ShardForKey determines which shard of an index owns a key.
//
// Uses FNV-1a for consistency with the shard implementation:
// deterministic, fast, and uniform across shards.
func (t *RoutingTable) ShardForKey(index, key string) (int, error) {
	t.mu.RLock()
	numShards := t.shardCounts[index]
	t.mu.RUnlock()

	if numShards == 0 {
		return 0, fmt.Errorf("index %q is not declared", index)
	}

	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32()) % numShards, nil
}

// NodeForKey finds the node hosting the primary copy of the shard that
// owns a key, for routing data-plane requests.
func (t *RoutingTable) NodeForKey(index, key string) (string, int, error) {
	shardID, err := t.ShardForKey(index, key)
	if err != nil {
		return "", 0, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, target := range t.targets[index] {
		if target.ShardID == shardID && target.Primary {
			return target.NodeID, shardID, nil
		}
	}
	return "", 0, fmt.Errorf("shard %d of index %q has no primary assigned", shardID, index)
}
