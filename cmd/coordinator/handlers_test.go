package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/ruru/internal/config"
	"github.com/dreamware/ruru/internal/coordinator"
	"github.com/dreamware/ruru/internal/stats"
)

// testServer builds a coordinator server over the given topology.
func testServer(t *testing.T, topo *config.Topology) *server {
	t.Helper()
	s, err := newServer(topo, zap.NewNop())
	require.NoError(t, err)
	return s
}

// fakeNode starts an HTTP server that answers the binary stats plane with
// records for the given shard IDs. The caller registers its address.
func fakeNode(t *testing.T, nodeID string, shardIDs ...int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != coordinator.StatsPath {
			http.NotFound(w, r)
			return
		}
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		req, err := stats.DecodeStatsRequest(body)
		require.NoError(t, err)
		_, err = stats.DecodeQuery(req.Payload())
		require.NoError(t, err)

		results := &stats.ShardResults{}
		for _, id := range shardIDs {
			results.Shards = append(results.Shards, stats.ShardStats{
				Index:   "logs",
				ShardID: id,
				NodeID:  nodeID,
				Primary: true,
				Stats:   &stats.CommonStats{Gets: 2, Keys: 5, SizeBytes: 50},
			})
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(results.Encode())
	}))
	t.Cleanup(srv.Close)
	return srv
}

// registerNode registers a node through the public endpoint.
func registerNode(t *testing.T, s *server, id, addr string) {
	t.Helper()
	body := `{"node":{"id":"` + id + `","addr":"` + addr + `"}}`
	rec := httptest.NewRecorder()
	s.handleRegister(rec, httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body)))
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
}

// TestHandleRegister covers registration, upsert on re-registration, and
// the validation failures.
func TestHandleRegister(t *testing.T) {
	s := testServer(t, config.DefaultTopology())

	registerNode(t, s, "node-1", "http://n1")
	registerNode(t, s, "node-1", "http://n1-new")
	require.Len(t, s.nodes, 1)
	assert.Equal(t, "http://n1-new", s.nodes[0].Addr)

	rec := httptest.NewRecorder()
	s.handleRegister(rec, httptest.NewRequest(http.MethodPost, "/register", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.handleRegister(rec, httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(`{"node":{"id":"","addr":"x"}}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestRegisterAssignsShards verifies the first registration seeds the
// routing table with every declared shard.
func TestRegisterAssignsShards(t *testing.T) {
	s := testServer(t, &config.Topology{Indices: []config.IndexSpec{
		{Name: "logs", Shards: 3},
	}})
	registerNode(t, s, "node-1", "http://n1")

	targets := s.routes.ResolveTargets(nil)
	require.Len(t, targets, 3)
	for _, target := range targets {
		assert.Equal(t, "node-1", target.NodeID)
		assert.True(t, target.Primary)
	}
}

// TestHandleListNodesAndShards covers the two read-only listing endpoints.
func TestHandleListNodesAndShards(t *testing.T) {
	s := testServer(t, config.DefaultTopology())
	registerNode(t, s, "node-1", "http://n1")

	rec := httptest.NewRecorder()
	s.handleListNodes(rec, httptest.NewRequest(http.MethodGet, "/nodes", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"node-1"`)

	rec = httptest.NewRecorder()
	s.handleShards(rec, httptest.NewRequest(http.MethodGet, "/shards", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Shards []struct {
			Index   string `json:"index"`
			ShardID int    `json:"shard"`
			NodeID  string `json:"node"`
		} `json:"shards"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Shards, 4)
	assert.Equal(t, "default", payload.Shards[0].Index)
}

// TestHandleStatsEndToEnd runs a full broadcast against a live fake node
// over real HTTP and checks the rendered document.
func TestHandleStatsEndToEnd(t *testing.T) {
	s := testServer(t, &config.Topology{Indices: []config.IndexSpec{
		{Name: "logs", Shards: 2},
	}})
	node := fakeNode(t, "node-1", 0, 1)
	registerNode(t, s, "node-1", node.URL)

	rec := httptest.NewRecorder()
	s.handleStats(rec, httptest.NewRequest(http.MethodGet, "/_stats?level=shards", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var doc struct {
		ShardsHeader struct {
			Total      int `json:"total"`
			Successful int `json:"successful"`
			Failed     int `json:"failed"`
		} `json:"_shards"`
		All struct {
			Total stats.CommonStats `json:"total"`
		} `json:"_all"`
		Indices map[string]struct {
			Shards map[string][]json.RawMessage `json:"shards"`
		} `json:"indices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))

	assert.Equal(t, 2, doc.ShardsHeader.Total)
	assert.Equal(t, 2, doc.ShardsHeader.Successful)
	assert.Equal(t, 0, doc.ShardsHeader.Failed)
	assert.Equal(t, uint64(4), doc.All.Total.Gets)
	assert.Equal(t, uint64(10), doc.All.Total.Keys)
	require.Contains(t, doc.Indices, "logs")
	assert.Len(t, doc.Indices["logs"].Shards, 2)
}

// TestHandleStatsDefaultLevel verifies the indices level applies when no
// level parameter is given: per-index rollups without shard arrays.
func TestHandleStatsDefaultLevel(t *testing.T) {
	s := testServer(t, &config.Topology{Indices: []config.IndexSpec{
		{Name: "logs", Shards: 1},
	}})
	node := fakeNode(t, "node-1", 0)
	registerNode(t, s, "node-1", node.URL)

	rec := httptest.NewRecorder()
	s.handleStats(rec, httptest.NewRequest(http.MethodGet, "/_stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Contains(t, doc, "indices")

	var indices map[string]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(doc["indices"], &indices))
	require.Contains(t, indices, "logs")
	assert.NotContains(t, indices["logs"], "shards")
}

// TestHandleStatsUnknownLevel verifies an unrecognized level yields an
// empty document, not an error status.
func TestHandleStatsUnknownLevel(t *testing.T) {
	s := testServer(t, &config.Topology{Indices: []config.IndexSpec{
		{Name: "logs", Shards: 1},
	}})
	node := fakeNode(t, "node-1", 0)
	registerNode(t, s, "node-1", node.URL)

	rec := httptest.NewRecorder()
	s.handleStats(rec, httptest.NewRequest(http.MethodGet, "/_stats?level=bogus", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "{}", rec.Body.String())
}

// TestHandleStatsUnreachableNode verifies a dead node shows up as shard
// failures in the document rather than failing the request.
func TestHandleStatsUnreachableNode(t *testing.T) {
	s := testServer(t, &config.Topology{Indices: []config.IndexSpec{
		{Name: "logs", Shards: 1},
	}})
	node := fakeNode(t, "node-1", 0)
	addr := node.URL
	node.Close()
	registerNode(t, s, "node-1", addr)

	rec := httptest.NewRecorder()
	s.handleStats(rec, httptest.NewRequest(http.MethodGet, "/_stats?level=cluster", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var doc struct {
		ShardsHeader struct {
			Total    int `json:"total"`
			Failed   int `json:"failed"`
			Failures []struct {
				Reason string `json:"reason"`
			} `json:"failures"`
		} `json:"_shards"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, 1, doc.ShardsHeader.Total)
	assert.Equal(t, 1, doc.ShardsHeader.Failed)
	require.Len(t, doc.ShardsHeader.Failures, 1)
	assert.NotEmpty(t, doc.ShardsHeader.Failures[0].Reason)
}

// TestHandleDataForwards verifies a data operation is relayed to the
// node hosting the key's primary shard, body and status included.
func TestHandleDataForwards(t *testing.T) {
	var mu sync.Mutex
	var gotPath string
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, "value", string(body))
		mu.Lock()
		gotPath = r.URL.Path
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer node.Close()

	s := testServer(t, &config.Topology{Indices: []config.IndexSpec{
		{Name: "logs", Shards: 1},
	}})
	registerNode(t, s, "node-1", node.URL)

	rec := httptest.NewRecorder()
	s.handleData(rec, httptest.NewRequest(http.MethodPut, "/data/logs/user:1", strings.NewReader("value")))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	mu.Lock()
	assert.Equal(t, "/shard/logs/0/store/user:1", gotPath)
	mu.Unlock()
}

// TestHandleDataErrors covers malformed paths and unroutable keys.
func TestHandleDataErrors(t *testing.T) {
	s := testServer(t, config.DefaultTopology())

	rec := httptest.NewRecorder()
	s.handleData(rec, httptest.NewRequest(http.MethodGet, "/data/onlyindex", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// No nodes registered: the key's shard has no primary.
	rec = httptest.NewRecorder()
	s.handleData(rec, httptest.NewRequest(http.MethodGet, "/data/default/key", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// TestSplitCSV covers the query parameter splitter.
func TestSplitCSV(t *testing.T) {
	assert.Nil(t, splitCSV(""))
	assert.Equal(t, []string{"a"}, splitCSV("a"))
	assert.Equal(t, []string{"a", "b"}, splitCSV("a,b"))
	assert.Equal(t, []string{"a", "b"}, splitCSV(" a , b ,"))
}
