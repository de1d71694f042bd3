package stats

import (
	"github.com/dreamware/ruru/internal/wire"
)

// CommonStats is the mergeable statistics value produced by one shard and
// rolled up at index and cluster scope.
//
// Merge contract:
//   - Add is associative and commutative over the counter fields
//   - the zero value is the merge identity
//   - Add never mutates its argument, only the receiver accumulator
//
// Counters mirror what a shard tracks at runtime: operation counts from the
// shard itself and key/byte totals from its storage backend.
type CommonStats struct {
	// Gets, Puts and Deletes count data operations served by the shard.
	Gets    uint64 `json:"gets"`
	Puts    uint64 `json:"puts"`
	Deletes uint64 `json:"deletes"`

	// Keys is the number of keys resident in the shard's store.
	Keys uint64 `json:"keys"`

	// SizeBytes is the total size of all stored values.
	SizeBytes uint64 `json:"size_in_bytes"`
}

// Add merges other into the receiver. The argument is read-only; folding a
// large record set through one accumulator never corrupts the records.
func (s *CommonStats) Add(other *CommonStats) {
	if other == nil {
		// Missing stats merge as the identity element.
		return
	}
	s.Gets += other.Gets
	s.Puts += other.Puts
	s.Deletes += other.Deletes
	s.Keys += other.Keys
	s.SizeBytes += other.SizeBytes
}

// writeTo appends the stats fields to a binary stream in fixed order.
func (s *CommonStats) writeTo(w *wire.Writer) {
	w.WriteUvarint(s.Gets)
	w.WriteUvarint(s.Puts)
	w.WriteUvarint(s.Deletes)
	w.WriteUvarint(s.Keys)
	w.WriteUvarint(s.SizeBytes)
}

// readFrom consumes the stats fields in the same order writeTo emits them.
func (s *CommonStats) readFrom(r *wire.Reader) error {
	var err error
	if s.Gets, err = r.ReadUvarint(); err != nil {
		return err
	}
	if s.Puts, err = r.ReadUvarint(); err != nil {
		return err
	}
	if s.Deletes, err = r.ReadUvarint(); err != nil {
		return err
	}
	if s.Keys, err = r.ReadUvarint(); err != nil {
		return err
	}
	s.SizeBytes, err = r.ReadUvarint()
	return err
}
