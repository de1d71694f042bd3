package shard

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/dreamware/ruru/internal/stats"
	"github.com/dreamware/ruru/internal/storage"
)

// ShardState represents the current state of a shard
type ShardState string

const (
	// ShardStateActive means the shard is serving requests
	ShardStateActive ShardState = "active"
	// ShardStateMigrating means the shard is being moved
	ShardStateMigrating ShardState = "migrating"
	// ShardStateDeleted means the shard is marked for deletion
	ShardStateDeleted ShardState = "deleted"
)

// Shard represents one partition of an index's data in the distributed
// system. Each shard copy knows which index it belongs to, whether it is
// the primary or a replica, and manages its own storage.
//
// The shard doubles as the per-shard stats collector for the cluster
// statistics operation: CollectStats snapshots its counters into the
// mergeable stats value the aggregation layer folds over.
type Shard struct {
	Index   string        // Name of the index this shard partitions
	ID      int           // Shard identifier within the index
	Primary bool          // Is this the primary or a replica?
	Store   storage.Store // The storage backend for this shard
	State   ShardState    // Current shard state
	Ops     *OpCounters   // Operation counters
	mu      sync.RWMutex  // Protects state changes
}

// OpCounters tracks operation counts, updated with atomics on the data path
type OpCounters struct {
	Gets    uint64 // Number of get operations
	Puts    uint64 // Number of put operations
	Deletes uint64 // Number of delete operations
}

// ShardInfo contains metadata about a shard
type ShardInfo struct {
	Index    string     // Index the shard belongs to
	ID       int        // Shard identifier
	Primary  bool       // Primary or replica
	State    ShardState // Current state
	KeyCount int        // Number of keys
	ByteSize int        // Total size in bytes
}

// NewShard creates a new shard with in-memory storage
func NewShard(index string, id int, primary bool) *Shard {
	return &Shard{
		Index:   index,
		ID:      id,
		Primary: primary,
		Store:   storage.NewMemoryStore(),
		State:   ShardStateActive,
		Ops:     &OpCounters{},
	}
}

// Get retrieves a value from the shard
// Increments get counter for statistics
func (s *Shard) Get(key string) ([]byte, error) {
	atomic.AddUint64(&s.Ops.Gets, 1)
	return s.Store.Get(key)
}

// Put stores a value in the shard
// Increments put counter for statistics
func (s *Shard) Put(key string, value []byte) error {
	atomic.AddUint64(&s.Ops.Puts, 1)
	return s.Store.Put(key, value)
}

// Delete removes a key from the shard
// Increments delete counter for statistics
func (s *Shard) Delete(key string) error {
	atomic.AddUint64(&s.Ops.Deletes, 1)
	return s.Store.Delete(key)
}

// ListKeys returns all keys in the shard
func (s *Shard) ListKeys() []string {
	return s.Store.List()
}

// OwnsKey determines if this shard owns a given key
// Uses consistent hashing to determine ownership
func (s *Shard) OwnsKey(key string, numShards int) bool {
	if numShards <= 0 {
		return false
	}

	// Hash the key to determine its shard
	h := fnv.New32a()
	h.Write([]byte(key))
	targetShard := int(h.Sum32()) % numShards

	// Check if this shard should handle the key
	return targetShard == s.ID
}

// CollectStats snapshots the shard's counters into the mergeable stats
// value for a stats broadcast. The query controls which sections are
// filled in and may narrow storage counters to a key prefix; sections the
// query excludes stay at zero, the merge identity.
func (s *Shard) CollectStats(q *stats.Query) *stats.CommonStats {
	out := &stats.CommonStats{}

	if q.Wants(stats.SectionOps) {
		out.Gets = atomic.LoadUint64(&s.Ops.Gets)
		out.Puts = atomic.LoadUint64(&s.Ops.Puts)
		out.Deletes = atomic.LoadUint64(&s.Ops.Deletes)
	}

	if q.Wants(stats.SectionStorage) {
		storeStats := s.Store.PrefixStats(q.KeyPrefix)
		out.Keys = uint64(storeStats.Keys)
		out.SizeBytes = uint64(storeStats.Bytes)
	}

	return out
}

// Record builds the broadcast result record for this shard copy.
func (s *Shard) Record(nodeID string, q *stats.Query) stats.ShardStats {
	return stats.ShardStats{
		Index:   s.Index,
		ShardID: s.ID,
		NodeID:  nodeID,
		Primary: s.Primary,
		Stats:   s.CollectStats(q),
	}
}

// Info returns metadata about the shard
func (s *Shard) Info() ShardInfo {
	s.mu.RLock()
	state := s.State
	s.mu.RUnlock()

	storeStats := s.Store.Stats()

	return ShardInfo{
		Index:    s.Index,
		ID:       s.ID,
		Primary:  s.Primary,
		State:    state,
		KeyCount: storeStats.Keys,
		ByteSize: storeStats.Bytes,
	}
}

// SetState updates the shard state
func (s *Shard) SetState(state ShardState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = state
}
