package stats

import (
	"fmt"

	"github.com/dreamware/ruru/internal/wire"
)

// ShardStats is the result record produced by one responding shard copy.
// Records are immutable after creation and owned exclusively by the
// response that collected them.
type ShardStats struct {
	// Index is the name of the index this shard belongs to.
	Index string `json:"index"`

	// ShardID is the numeric shard identifier within the index.
	ShardID int `json:"shard"`

	// NodeID is the node that hosted this shard copy.
	NodeID string `json:"node"`

	// Primary reports whether this copy is the primary or a replica.
	Primary bool `json:"primary"`

	// Stats is the shard's collected statistics. A nil value folds as the
	// merge identity; a shard that produced nothing still never aborts an
	// aggregation.
	Stats *CommonStats `json:"stats"`
}

// ShardFailure records a shard that did not answer. Failures are data:
// they ride alongside successful records and are never silently dropped.
type ShardFailure struct {
	Index   string `json:"index"`
	ShardID int    `json:"shard"`
	NodeID  string `json:"node,omitempty"`
	Reason  string `json:"reason"`
}

func (f ShardFailure) String() string {
	return fmt.Sprintf("[%s][%d] on node [%s]: %s", f.Index, f.ShardID, f.NodeID, f.Reason)
}

// writeTo appends the record to a binary stream. The binary form is total:
// identity fields and stats are always present, with a flag marking a
// missing stats value.
func (s *ShardStats) writeTo(w *wire.Writer) {
	w.WriteString(s.Index)
	w.WriteInt(s.ShardID)
	w.WriteString(s.NodeID)
	w.WriteBool(s.Primary)
	w.WriteBool(s.Stats != nil)
	if s.Stats != nil {
		s.Stats.writeTo(w)
	}
}

func (s *ShardStats) readFrom(r *wire.Reader) error {
	var err error
	if s.Index, err = r.ReadString(); err != nil {
		return err
	}
	if s.ShardID, err = r.ReadInt(); err != nil {
		return err
	}
	if s.NodeID, err = r.ReadString(); err != nil {
		return err
	}
	if s.Primary, err = r.ReadBool(); err != nil {
		return err
	}
	present, err := r.ReadBool()
	if err != nil {
		return err
	}
	if present {
		s.Stats = &CommonStats{}
		return s.Stats.readFrom(r)
	}
	s.Stats = nil
	return nil
}

func (f *ShardFailure) writeTo(w *wire.Writer) {
	w.WriteString(f.Index)
	w.WriteInt(f.ShardID)
	w.WriteOptionalString(f.NodeID, f.NodeID != "")
	w.WriteString(f.Reason)
}

func (f *ShardFailure) readFrom(r *wire.Reader) error {
	var err error
	if f.Index, err = r.ReadString(); err != nil {
		return err
	}
	if f.ShardID, err = r.ReadInt(); err != nil {
		return err
	}
	if f.NodeID, _, err = r.ReadOptionalString(); err != nil {
		return err
	}
	f.Reason, err = r.ReadString()
	return err
}

// ShardResults is the raw per-node result set: whatever shard records and
// failures one node produced for a broadcast request. The dispatch layer
// folds many of these into a single StatsResponse.
type ShardResults struct {
	Shards   []ShardStats
	Failures []ShardFailure
}

// Encode returns the binary form: failure count and records, then shard
// count and records.
func (n *ShardResults) Encode() []byte {
	w := wire.NewWriter()
	w.WriteInt(len(n.Failures))
	for i := range n.Failures {
		n.Failures[i].writeTo(w)
	}
	w.WriteInt(len(n.Shards))
	for i := range n.Shards {
		n.Shards[i].writeTo(w)
	}
	return w.Bytes()
}

// DecodeShardResults decodes a per-node result set from its binary form.
func DecodeShardResults(data []byte) (*ShardResults, error) {
	r := wire.NewReader(data)
	out := &ShardResults{}

	nf, err := r.ReadInt()
	if err != nil {
		return nil, fmt.Errorf("stats: decoding failure count: %w", err)
	}
	for i := 0; i < nf; i++ {
		var f ShardFailure
		if err := f.readFrom(r); err != nil {
			return nil, fmt.Errorf("stats: decoding failure %d: %w", i, err)
		}
		out.Failures = append(out.Failures, f)
	}

	ns, err := r.ReadInt()
	if err != nil {
		return nil, fmt.Errorf("stats: decoding shard count: %w", err)
	}
	for i := 0; i < ns; i++ {
		var s ShardStats
		if err := s.readFrom(r); err != nil {
			return nil, fmt.Errorf("stats: decoding shard record %d: %w", i, err)
		}
		out.Shards = append(out.Shards, s)
	}
	return out, nil
}
