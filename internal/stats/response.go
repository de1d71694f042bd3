package stats

import (
	"fmt"
	"sync"

	"github.com/dreamware/ruru/internal/wire"
)

// StatsResponse is the assembled result of a stats broadcast: the raw,
// unordered shard records plus the failures collected alongside them, with
// lazily computed index-level and cluster-level rollups.
//
// Rollups are memoized with a first-writer-wins guard, so a response is
// safe for concurrent readers. The record set is treated as a completed,
// immutable snapshot: a response must not be fed new records once any
// rollup has been read.
type StatsResponse struct {
	// TotalShards counts every shard the request targeted, Successful and
	// Failed how many answered or did not. Failed matches len(Failures).
	TotalShards      int
	SuccessfulShards int
	FailedShards     int

	// Failures lists the shards that did not answer, as data rather than
	// an error for the whole operation.
	Failures []ShardFailure

	// Shards holds one record per responding shard copy, in no particular
	// order.
	Shards []ShardStats

	indicesOnce sync.Once
	indices     map[string]*IndexStats

	totalOnce sync.Once
	total     *CommonStats

	primariesOnce sync.Once
	primaries     *CommonStats
}

// NewStatsResponse assembles a response from collected shard records and
// failures.
func NewStatsResponse(totalShards int, shards []ShardStats, failures []ShardFailure) *StatsResponse {
	return &StatsResponse{
		TotalShards:      totalShards,
		SuccessfulShards: len(shards),
		FailedShards:     len(failures),
		Failures:         failures,
		Shards:           shards,
	}
}

// Total returns the cluster-level rollup over every shard record.
// Computed on first call, memoized afterwards; callers must not modify
// the returned value.
func (r *StatsResponse) Total() *CommonStats {
	r.totalOnce.Do(func() {
		if r.total == nil {
			r.total = foldShards(r.Shards, false)
		}
	})
	return r.total
}

// Primaries returns the cluster-level rollup over primary shard records
// only. Computed on first call, memoized afterwards.
func (r *StatsResponse) Primaries() *CommonStats {
	r.primariesOnce.Do(func() {
		if r.primaries == nil {
			r.primaries = foldShards(r.Shards, true)
		}
	})
	return r.primaries
}

// Indices groups the shard records by index name. The partition is
// computed once: every record lands in exactly one group, keyed by exact
// string equality on its index name.
func (r *StatsResponse) Indices() map[string]*IndexStats {
	r.indicesOnce.Do(func() {
		if r.indices != nil {
			return
		}
		indices := make(map[string]*IndexStats)
		for i := range r.Shards {
			rec := r.Shards[i]
			idx := indices[rec.Index]
			if idx == nil {
				idx = &IndexStats{Index: rec.Index}
				indices[rec.Index] = idx
			}
			idx.Shards = append(idx.Shards, rec)
		}
		r.indices = indices
	})
	return r.indices
}

// Index returns the rollup for a single index, nil if no shard of that
// index responded.
func (r *StatsResponse) Index(name string) *IndexStats {
	return r.Indices()[name]
}

// Shard returns the record for a specific shard copy, nil if absent.
// Primary and replica copies share a shard id, so the primary flag
// completes the identity.
func (r *StatsResponse) Shard(index string, shardID int, primary bool) *ShardStats {
	for i := range r.Shards {
		s := &r.Shards[i]
		if s.Index == index && s.ShardID == shardID && s.Primary == primary {
			return s
		}
	}
	return nil
}

// IndexStats is the per-index slice of a response: the index's own shard
// records with memoized index-level rollups.
type IndexStats struct {
	Index  string
	Shards []ShardStats

	totalOnce sync.Once
	total     *CommonStats

	primariesOnce sync.Once
	primaries     *CommonStats
}

// Total returns the rollup over all of this index's shard records.
func (s *IndexStats) Total() *CommonStats {
	s.totalOnce.Do(func() {
		if s.total == nil {
			s.total = foldShards(s.Shards, false)
		}
	})
	return s.total
}

// Primaries returns the rollup over this index's primary records only.
func (s *IndexStats) Primaries() *CommonStats {
	s.primariesOnce.Do(func() {
		if s.primaries == nil {
			s.primaries = foldShards(s.Shards, true)
		}
	})
	return s.primaries
}

// foldShards merges records into a fresh accumulator. Records with nil
// stats contribute the identity; record order never changes the result.
func foldShards(shards []ShardStats, primariesOnly bool) *CommonStats {
	acc := &CommonStats{}
	for i := range shards {
		if primariesOnly && !shards[i].Primary {
			continue
		}
		acc.Add(shards[i].Stats)
	}
	return acc
}

// WriteTo encodes the full response onto a binary stream. Unlike the
// document form the binary form is always exhaustive: header, failure
// records, then every shard record.
func (r *StatsResponse) WriteTo(w *wire.Writer) {
	w.WriteInt(r.TotalShards)
	w.WriteInt(r.SuccessfulShards)
	w.WriteInt(r.FailedShards)
	w.WriteInt(len(r.Failures))
	for i := range r.Failures {
		r.Failures[i].writeTo(w)
	}
	w.WriteInt(len(r.Shards))
	for i := range r.Shards {
		r.Shards[i].writeTo(w)
	}
}

// ReadFrom decodes a response from a binary stream in the exact order
// WriteTo emits. Truncated input fails without yielding a partial
// response.
func (r *StatsResponse) ReadFrom(rd *wire.Reader) error {
	var err error
	if r.TotalShards, err = rd.ReadInt(); err != nil {
		return fmt.Errorf("stats: decoding total shard count: %w", err)
	}
	if r.SuccessfulShards, err = rd.ReadInt(); err != nil {
		return fmt.Errorf("stats: decoding successful shard count: %w", err)
	}
	if r.FailedShards, err = rd.ReadInt(); err != nil {
		return fmt.Errorf("stats: decoding failed shard count: %w", err)
	}
	nf, err := rd.ReadInt()
	if err != nil {
		return fmt.Errorf("stats: decoding failure count: %w", err)
	}
	r.Failures = nil
	for i := 0; i < nf; i++ {
		var f ShardFailure
		if err := f.readFrom(rd); err != nil {
			return fmt.Errorf("stats: decoding failure %d: %w", i, err)
		}
		r.Failures = append(r.Failures, f)
	}
	ns, err := rd.ReadInt()
	if err != nil {
		return fmt.Errorf("stats: decoding shard count: %w", err)
	}
	r.Shards = nil
	for i := 0; i < ns; i++ {
		var s ShardStats
		if err := s.readFrom(rd); err != nil {
			return fmt.Errorf("stats: decoding shard record %d: %w", i, err)
		}
		r.Shards = append(r.Shards, s)
	}
	return nil
}

// Encode returns the full binary form of the response.
func (r *StatsResponse) Encode() []byte {
	w := wire.NewWriter()
	r.WriteTo(w)
	return w.Bytes()
}

// DecodeStatsResponse decodes a response from its binary form.
func DecodeStatsResponse(data []byte) (*StatsResponse, error) {
	r := &StatsResponse{}
	if err := r.ReadFrom(wire.NewReader(data)); err != nil {
		return nil, err
	}
	return r, nil
}
