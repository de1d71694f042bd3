package stats

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dreamware/ruru/internal/wire"
)

// StatsRequest is a broadcast request for cluster statistics, fanned out to
// every shard of the targeted indices.
//
// The request carries an opaque, already-encoded query payload. Because the
// dispatch layer re-sends the same logical request once per shard target and
// may retry on transient failure, the payload bytes must be stable for the
// whole fan-out. A payload handed in from a transient buffer (for example a
// pooled network receive buffer) is marked unsafe and is deep-copied exactly
// once by PrepareForDispatch before the bytes cross the dispatch boundary.
//
// A StatsRequest is owned by a single goroutine until handed to dispatch;
// it is not safe for concurrent mutation.
type StatsRequest struct {
	// Indices are the target index names. Empty means all indices.
	Indices []string

	routing    string
	preference string

	payload       []byte
	payloadUnsafe bool
}

// NewStatsRequest creates a request against the provided indices.
// No indices means the request runs against all indices.
func NewStatsRequest(indices ...string) *StatsRequest {
	return &StatsRequest{Indices: indices}
}

// SetPayload replaces the query payload. The bytes are treated as opaque;
// malformed payloads are only discovered downstream at decode time.
//
// unsafe marks the slice as possibly backed by a transient buffer owned by
// someone else. Such a payload must not be read by a second consumer until
// PrepareForDispatch has copied it.
func (r *StatsRequest) SetPayload(payload []byte, unsafe bool) *StatsRequest {
	r.payload = payload
	r.payloadUnsafe = unsafe
	return r
}

// SetQuery serializes a structured query into the payload via the document
// encoder. The resulting bytes are owned by the request, so the payload is
// marked safe.
func (r *StatsRequest) SetQuery(q *Query) *StatsRequest {
	b, err := json.Marshal(q)
	if err != nil {
		// Query has no unmarshalable fields; keep the signature fluent.
		panic(fmt.Sprintf("stats: encoding query: %v", err))
	}
	return r.SetPayload(b, false)
}

// Payload returns the current payload bytes.
func (r *StatsRequest) Payload() []byte {
	return r.payload
}

// PayloadUnsafe reports whether the payload may still be backed by a
// transient buffer.
func (r *StatsRequest) PayloadUnsafe() bool {
	return r.payloadUnsafe
}

// PrepareForDispatch must be called before each dispatch attempt, retries
// included. If the payload is unsafe it takes a private copy and clears the
// flag; afterwards the call is a no-op, so repeated invocations never
// accumulate redundant copies.
func (r *StatsRequest) PrepareForDispatch() {
	if !r.payloadUnsafe {
		return
	}
	r.payload = append([]byte(nil), r.payload...)
	r.payloadUnsafe = false
}

// Routing sets routing values narrowing which shard copies serve the
// request. Multiple values are joined comma-separated.
func (r *StatsRequest) Routing(values ...string) *StatsRequest {
	r.routing = strings.Join(values, ",")
	return r
}

// GetRouting returns the routing hint, empty if unset.
func (r *StatsRequest) GetRouting() string {
	return r.routing
}

// Preference sets a preference hint for shard copy selection.
func (r *StatsRequest) Preference(preference string) *StatsRequest {
	r.preference = preference
	return r
}

// GetPreference returns the preference hint, empty if unset.
func (r *StatsRequest) GetPreference() string {
	return r.preference
}

// WriteTo encodes the request onto a binary stream: indices, optional
// routing, optional preference, then the length-prefixed payload.
func (r *StatsRequest) WriteTo(w *wire.Writer) {
	w.WriteStringSlice(r.Indices)
	w.WriteOptionalString(r.routing, r.routing != "")
	w.WriteOptionalString(r.preference, r.preference != "")
	w.WriteBytes(r.payload)
}

// ReadFrom decodes the request from a binary stream in the exact order
// WriteTo emits. The decoded payload is a fresh private copy, so it is
// always safe.
func (r *StatsRequest) ReadFrom(rd *wire.Reader) error {
	var err error
	if r.Indices, err = rd.ReadStringSlice(); err != nil {
		return fmt.Errorf("stats: decoding request indices: %w", err)
	}
	if r.routing, _, err = rd.ReadOptionalString(); err != nil {
		return fmt.Errorf("stats: decoding request routing: %w", err)
	}
	if r.preference, _, err = rd.ReadOptionalString(); err != nil {
		return fmt.Errorf("stats: decoding request preference: %w", err)
	}
	payload, err := rd.ReadBytes()
	if err != nil {
		return fmt.Errorf("stats: decoding request payload: %w", err)
	}
	r.payload = payload
	r.payloadUnsafe = false
	return nil
}

// Encode returns the full binary form of the request.
func (r *StatsRequest) Encode() []byte {
	w := wire.NewWriter()
	r.WriteTo(w)
	return w.Bytes()
}

// DecodeStatsRequest decodes a request from its binary form.
// Truncated input fails; no partial request is returned.
func DecodeStatsRequest(data []byte) (*StatsRequest, error) {
	r := &StatsRequest{}
	if err := r.ReadFrom(wire.NewReader(data)); err != nil {
		return nil, err
	}
	return r, nil
}

// String renders a short debug form: target indices plus the payload as a
// document, "_na_" when the payload is not valid document text.
func (r *StatsRequest) String() string {
	source := "_na_"
	if len(r.payload) > 0 && json.Valid(r.payload) {
		source = string(r.payload)
	}
	return fmt.Sprintf("[%s], source[%s]", strings.Join(r.Indices, ", "), source)
}
