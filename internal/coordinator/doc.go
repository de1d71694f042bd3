// Package coordinator provides the cluster orchestration layer for Ruru:
// shard routing, node health tracking, and the broadcast dispatch path of
// the cluster statistics operation.
//
// # Overview
//
// The coordinator is the hub of the cluster. Nodes register with it, it
// decides which node hosts which shard copy, and it executes broadcast
// operations by fanning a request out to every relevant shard and
// assembling whatever comes back.
//
// # Architecture
//
//	              ┌──────────────────────┐
//	              │     Coordinator      │
//	              │                      │
//	              │  RoutingTable        │
//	              │  HealthMonitor       │
//	              │  Dispatcher          │
//	              └──────────┬───────────┘
//	                         │ binary stats plane (POST /stats)
//	      ┌──────────────────┼──────────────────┐
//	┌─────▼─────┐      ┌─────▼─────┐      ┌─────▼─────┐
//	│  Node 1   │      │  Node 2   │      │  Node 3   │
//	│ shards of │      │ shards of │      │ shards of │
//	│ indices   │      │ indices   │      │ indices   │
//	└───────────┘      └───────────┘      └───────────┘
//
// # Core Components
//
// RoutingTable: the shard-routing resolver
//   - Declares indices with fixed shard counts
//   - Maps each (index, shard, primary-flag) copy to a hosting node
//   - Resolves target index names into concrete ShardTargets for a broadcast
//   - Routes data-plane keys to primaries via FNV-1a hashing
//
// HealthMonitor: periodic node liveness probing
//   - Probes each registered node's /health endpoint
//   - Marks nodes unhealthy after repeated consecutive failures
//   - Feeds the dispatcher so dead nodes fail fast as data, not timeouts
//
// Dispatcher: the broadcast dispatch path
//   - Prepares the request payload for safe multi-consumer reads
//   - Encodes once, fans out to owning nodes in parallel, retries once
//   - Collects per-shard records and failures into a StatsResponse
//
// # Failure Handling
//
// Shard-level failures never abort a broadcast. An unreachable node, an
// undecodable reply, or a shard the node itself reported as failed all
// become ShardFailure records in the response; aggregation proceeds over
// the records that did arrive. Only caller cancellation errors the
// operation as a whole.
//
// # Concurrency Model
//
//   - RoutingTable and HealthMonitor are thread-safe (RWMutex, copies out)
//   - No locks are held during network I/O
//   - The dispatcher's fan-out is a bounded scatter/gather: one goroutine
//     per node, response assembled only after every reply or failure landed
//
// # See Also
//
// Related packages:
//   - internal/stats: request/response model, rollups, dual codec
//   - internal/cluster: node identity and HTTP transport helpers
//   - internal/shard: shard runtime and per-shard stats collection
package coordinator
