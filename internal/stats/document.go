package stats

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Level controls how much hierarchical detail a rendered response document
// exposes.
type Level string

const (
	// LevelCluster emits only the top-level primaries/total summary.
	LevelCluster Level = "cluster"
	// LevelIndices additionally emits per-index summaries.
	LevelIndices Level = "indices"
	// LevelShards additionally emits per-shard entries under each index.
	LevelShards Level = "shards"
)

// DefaultLevel is used by REST surfaces when the caller supplies no level.
const DefaultLevel = LevelIndices

// ParseLevel matches a caller-supplied level string case-insensitively
// against the three known literals. Anything else is unrecognized; callers
// degrade to an empty document rather than failing the response.
func ParseLevel(s string) (Level, bool) {
	for _, lv := range []Level{LevelCluster, LevelIndices, LevelShards} {
		if strings.EqualFold(s, string(lv)) {
			return lv, true
		}
	}
	return "", false
}

// Document is the hierarchical form of a response. The binary form is
// always exhaustive; this form is shapeable by level and is the one the
// user-facing surface serves. Field layout is fixed:
//
//	{
//	  "_shards":  { "total": N, "successful": N, "failed": N, "failures": [...] },
//	  "_all":     { "primaries": {...}, "total": {...} },
//	  "indices":  { "<name>": { "primaries": {...}, "total": {...},
//	                "shards": { "<id>": [ {...}, ... ] } } }
//	}
type Document struct {
	Shards  *ShardsHeader        `json:"_shards,omitempty"`
	All     *Rollup              `json:"_all,omitempty"`
	Indices map[string]*IndexDoc `json:"indices,omitempty"`
}

// ShardsHeader reports the broadcast outcome: how many shards were
// targeted, answered, or failed, with the failure records themselves.
type ShardsHeader struct {
	Total      int            `json:"total"`
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	Failures   []ShardFailure `json:"failures,omitempty"`
}

// Rollup pairs the primaries-only and all-shards summaries at one scope.
type Rollup struct {
	Primaries CommonStats `json:"primaries"`
	Total     CommonStats `json:"total"`
}

// IndexDoc is one index's slice of the document. Shards is present only
// at LevelShards, keyed by numeric shard id with one entry per copy.
type IndexDoc struct {
	Primaries CommonStats             `json:"primaries"`
	Total     CommonStats             `json:"total"`
	Shards    map[string][]ShardEntry `json:"shards,omitempty"`
}

// ShardEntry is a single shard copy's raw stats plus enough routing
// identity to reconstruct the record on decode.
type ShardEntry struct {
	Routing RoutingEntry `json:"routing"`
	Stats   *CommonStats `json:"stats"`
}

// RoutingEntry identifies which node hosted the copy and whether it was
// the primary.
type RoutingEntry struct {
	Node    string `json:"node"`
	Primary bool   `json:"primary"`
}

// Render builds the document form of the response at the requested level.
// An unrecognized level yields an empty document: an unknown rendering
// parameter degrades the response rather than aborting it.
func (r *StatsResponse) Render(level string) *Document {
	lv, ok := ParseLevel(level)
	if !ok {
		return &Document{}
	}

	doc := &Document{
		Shards: &ShardsHeader{
			Total:      r.TotalShards,
			Successful: r.SuccessfulShards,
			Failed:     r.FailedShards,
			Failures:   r.Failures,
		},
		All: &Rollup{
			Primaries: *r.Primaries(),
			Total:     *r.Total(),
		},
	}
	if lv == LevelCluster {
		return doc
	}

	doc.Indices = make(map[string]*IndexDoc, len(r.Indices()))
	for name, idx := range r.Indices() {
		indexDoc := &IndexDoc{
			Primaries: *idx.Primaries(),
			Total:     *idx.Total(),
		}
		if lv == LevelShards {
			indexDoc.Shards = make(map[string][]ShardEntry)
			for i := range idx.Shards {
				rec := idx.Shards[i]
				key := strconv.Itoa(rec.ShardID)
				indexDoc.Shards[key] = append(indexDoc.Shards[key], ShardEntry{
					Routing: RoutingEntry{Node: rec.NodeID, Primary: rec.Primary},
					Stats:   rec.Stats,
				})
			}
		}
		doc.Indices[name] = indexDoc
	}
	return doc
}

// RenderJSON renders the document form directly to JSON bytes.
func (r *StatsResponse) RenderJSON(level string) ([]byte, error) {
	return json.Marshal(r.Render(level))
}

// documentFields maps each recognized top-level field name to its decode
// step. Both the apply order and the recognized set are fixed here; a new
// field means a new table entry. Names outside the table are ignored for
// forward compatibility.
var documentFields = []struct {
	name  string
	apply func(*StatsResponse, json.RawMessage) error
}{
	{"_shards", applyShardsHeader},
	{"_all", applyAllRollup},
	{"indices", applyIndices},
}

// UnmarshalDocument populates the response from its document form.
// Decoding tolerates any field order and unknown extra fields; absent
// optional fields leave their targets at defaults. Rollups present in the
// document pre-seed the memo caches, and the flat shard record list is
// rebuilt from the per-index entries when the document carries them.
func (r *StatsResponse) UnmarshalDocument(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("stats: decoding response document: %w", err)
	}
	for _, f := range documentFields {
		raw, ok := fields[f.name]
		if !ok {
			continue
		}
		if err := f.apply(r, raw); err != nil {
			return fmt.Errorf("stats: decoding document field %q: %w", f.name, err)
		}
	}
	return nil
}

func applyShardsHeader(r *StatsResponse, raw json.RawMessage) error {
	var hdr ShardsHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return err
	}
	r.TotalShards = hdr.Total
	r.SuccessfulShards = hdr.Successful
	r.FailedShards = hdr.Failed
	r.Failures = hdr.Failures
	return nil
}

func applyAllRollup(r *StatsResponse, raw json.RawMessage) error {
	var all Rollup
	if err := json.Unmarshal(raw, &all); err != nil {
		return err
	}
	primaries, total := all.Primaries, all.Total
	r.primaries = &primaries
	r.total = &total
	return nil
}

func applyIndices(r *StatsResponse, raw json.RawMessage) error {
	var docs map[string]*IndexDoc
	if err := json.Unmarshal(raw, &docs); err != nil {
		return err
	}

	indices := make(map[string]*IndexStats, len(docs))
	var flat []ShardStats

	// Deterministic reconstruction order: index names, then numeric ids.
	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		doc := docs[name]
		if doc == nil {
			continue
		}
		primaries, total := doc.Primaries, doc.Total
		idx := &IndexStats{
			Index:     name,
			primaries: &primaries,
			total:     &total,
		}

		ids := make([]int, 0, len(doc.Shards))
		for key := range doc.Shards {
			id, err := strconv.Atoi(key)
			if err != nil {
				return fmt.Errorf("shard key %q: %w", key, err)
			}
			ids = append(ids, id)
		}
		sort.Ints(ids)

		for _, id := range ids {
			for _, entry := range doc.Shards[strconv.Itoa(id)] {
				rec := ShardStats{
					Index:   name,
					ShardID: id,
					NodeID:  entry.Routing.Node,
					Primary: entry.Routing.Primary,
					Stats:   entry.Stats,
				}
				idx.Shards = append(idx.Shards, rec)
				flat = append(flat, rec)
			}
		}
		indices[name] = idx
	}

	r.indices = indices
	if flat != nil {
		r.Shards = flat
	}
	return nil
}
