// Package config loads cluster topology and service configuration from
// YAML files, with environment-style defaults applied by the binaries.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// IndexSpec declares one index: how many shards partition it and how many
// replica copies each shard carries.
type IndexSpec struct {
	Name     string `yaml:"name"`
	Shards   int    `yaml:"shards"`
	Replicas int    `yaml:"replicas"`
}

// Topology is the cluster layout the coordinator seeds its routing table
// from at startup.
type Topology struct {
	Indices []IndexSpec `yaml:"indices"`
}

// DefaultTopology is used when no topology file is given: a single index
// with four primary shards and no replicas, sized for a development
// cluster.
func DefaultTopology() *Topology {
	return &Topology{
		Indices: []IndexSpec{{Name: "default", Shards: 4, Replicas: 0}},
	}
}

// LoadTopology reads a topology file. An empty path yields the default.
func LoadTopology(path string) (*Topology, error) {
	if path == "" {
		return DefaultTopology(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading topology file: %w", err)
	}
	topo := &Topology{}
	if err := yaml.Unmarshal(data, topo); err != nil {
		return nil, fmt.Errorf("config: parsing topology file: %w", err)
	}
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	return topo, nil
}

// Validate rejects layouts the routing table cannot represent.
func (t *Topology) Validate() error {
	if len(t.Indices) == 0 {
		return fmt.Errorf("config: topology declares no indices")
	}
	seen := make(map[string]bool)
	for _, idx := range t.Indices {
		if idx.Name == "" {
			return fmt.Errorf("config: index with empty name")
		}
		if seen[idx.Name] {
			return fmt.Errorf("config: index %q declared twice", idx.Name)
		}
		seen[idx.Name] = true
		if idx.Shards <= 0 {
			return fmt.Errorf("config: index %q must have at least one shard", idx.Name)
		}
		if idx.Replicas < 0 {
			return fmt.Errorf("config: index %q has negative replica count", idx.Name)
		}
	}
	return nil
}
