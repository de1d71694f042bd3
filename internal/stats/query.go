package stats

import "encoding/json"

// Stat sections a query can ask shards to collect.
const (
	SectionOps     = "ops"
	SectionStorage = "storage"
)

// Query is the structured form of a stats query payload. It narrows what a
// shard collects: which stat sections to fill in and an optional key prefix
// restricting the storage counters to matching keys.
//
// The document form is the only encoding; unknown fields in a received
// query document are ignored and absent fields fall back to defaults
// (all sections, no prefix).
type Query struct {
	// Sections lists the stat groups to collect. Empty means all.
	Sections []string `json:"sections,omitempty"`

	// KeyPrefix restricts key/byte counters to keys with this prefix.
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// Wants reports whether the query asks for a section. An empty section
// list means everything.
func (q *Query) Wants(section string) bool {
	if q == nil || len(q.Sections) == 0 {
		return true
	}
	for _, s := range q.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// DecodeQuery parses a query payload in document form. A nil or empty
// payload yields the default query.
func DecodeQuery(payload []byte) (*Query, error) {
	q := &Query{}
	if len(payload) == 0 {
		return q, nil
	}
	if err := json.Unmarshal(payload, q); err != nil {
		return nil, err
	}
	return q, nil
}
