// Package stats implements the request/response layer of Ruru's cluster-wide
// statistics operation: carrying an opaque query payload safely through the
// broadcast dispatch path, collecting per-shard results with partial-failure
// tolerance, and rolling them up into index-level and cluster-level
// aggregates under two serialization forms.
//
// # Overview
//
// A stats operation is a broadcast: one logical request fanned out to every
// shard of the targeted indices, answered by whatever subset of shards
// responds. This package owns everything between the caller and the wire:
//
//   - StatsRequest: the payload carrier handed to dispatch
//   - ShardStats / ShardFailure: the per-shard records coming back
//   - StatsResponse: the assembled result set with memoized rollups
//   - the dual codec: compact binary stream form and hierarchical document form
//
// # Request Flow
//
//	caller                 dispatch (internal/coordinator)        shard nodes
//	  │                           │                                  │
//	  │ NewStatsRequest(...)      │                                  │
//	  │ SetPayload / SetQuery     │                                  │
//	  │ ────────────────────────> │ PrepareForDispatch               │
//	  │                           │ Encode, fan out per target ────> │
//	  │                           │ <──── ShardResults per node ──── │
//	  │ <── StatsResponse ─────── │                                  │
//	  │ Render(level) / Total()   │                                  │
//
// # Payload Safety
//
// A broadcast request is logically re-sent once per shard target and retried
// on transient failure. If the payload bytes were still backed by a reusable
// buffer (a pooled network receive buffer, say), reads after that buffer is
// recycled would silently corrupt the payload. SetPayload therefore records
// an unsafe flag, and PrepareForDispatch takes a private copy exactly once
// before the bytes cross the dispatch boundary. Copying eagerly on every
// construction would waste work when the payload is already an owned,
// stable buffer.
//
// # Aggregation
//
// StatsResponse computes three rollups lazily and memoizes them for the
// lifetime of the response: Total (merge of every record), Primaries (merge
// of primary records only), and Indices (records partitioned by index name).
// Memoization uses sync.Once, so concurrent readers of one response are
// safe. The record set is an immutable snapshot: the dispatch layer only
// builds a response after every outstanding shard call completed or timed
// out, and a response is never fed new records afterwards.
//
// Shard failures are data, not errors. Aggregation proceeds over whatever
// records are present, including none; a record with a nil stats value
// folds as the merge identity.
//
// # Dual Codec
//
// The binary stream form (internal/wire) is total and order-dependent: every
// record, identity fields included, always encoded, truncation always a
// decode error. It is the node-to-node transfer format.
//
// The document form is the user-facing surface. Rendering is gated by a
// level parameter ("cluster", "indices", "shards"; unrecognized values
// degrade to an empty document), and decoding is tolerant: field order does
// not matter, unknown fields are ignored for forward compatibility, absent
// optional fields default. Recognized fields are driven by one explicit
// field table; adding a field means adding a table entry.
//
// # See Also
//
// Related packages:
//   - internal/wire: binary stream primitives
//   - internal/coordinator: dispatch, routing resolution, collection
//   - internal/shard: the per-shard stats collector
package stats
