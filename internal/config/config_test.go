package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTopology drops a topology file into a test temp dir.
func writeTopology(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestLoadTopology verifies a valid YAML file parses into the declared
// layout.
func TestLoadTopology(t *testing.T) {
	path := writeTopology(t, `
indices:
  - name: logs
    shards: 4
    replicas: 1
  - name: metrics
    shards: 2
`)

	topo, err := LoadTopology(path)
	require.NoError(t, err)
	require.Len(t, topo.Indices, 2)
	assert.Equal(t, IndexSpec{Name: "logs", Shards: 4, Replicas: 1}, topo.Indices[0])
	assert.Equal(t, IndexSpec{Name: "metrics", Shards: 2, Replicas: 0}, topo.Indices[1])
}

// TestLoadTopologyEmptyPath verifies the default layout applies when no
// file is given.
func TestLoadTopologyEmptyPath(t *testing.T) {
	topo, err := LoadTopology("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTopology(), topo)
	assert.NoError(t, topo.Validate())
}

// TestLoadTopologyErrors covers missing files and unparseable YAML.
func TestLoadTopologyErrors(t *testing.T) {
	_, err := LoadTopology(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadTopology(writeTopology(t, "indices: [not: valid: yaml"))
	assert.Error(t, err)
}

// TestValidate covers the layouts the routing table cannot accept.
func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		topo Topology
		ok   bool
	}{
		{"valid", Topology{Indices: []IndexSpec{{Name: "logs", Shards: 1}}}, true},
		{"no indices", Topology{}, false},
		{"empty name", Topology{Indices: []IndexSpec{{Name: "", Shards: 1}}}, false},
		{"duplicate name", Topology{Indices: []IndexSpec{
			{Name: "logs", Shards: 1},
			{Name: "logs", Shards: 2},
		}}, false},
		{"zero shards", Topology{Indices: []IndexSpec{{Name: "logs", Shards: 0}}}, false},
		{"negative replicas", Topology{Indices: []IndexSpec{{Name: "logs", Shards: 1, Replicas: -1}}}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.topo.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
