// Package config loads the cluster topology seed file cmd/coordinatord and
// cmd/samplerd read at startup, plus small env-var-with-fallback
// helpers used by every daemon's cobra flags.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// InstanceSeed is one instance entry in a topology seed file.
type InstanceSeed struct {
	ID          string `yaml:"id"`
	Addr        string `yaml:"addr"`
	ContainerID string `yaml:"container_id"`
	Role        string `yaml:"role"` // "primary" or "follower"
}

// ClusterSeed is the on-disk shape of a cluster topology seed file, used
// to bootstrap an instance roster without a running allocator/cabinet
// discovery step.
type ClusterSeed struct {
	Instances       []InstanceSeed `yaml:"instances"`
	AllocatorShards []string       `yaml:"allocator_shards"`

	// ReplicationUser/ReplicationPassword are the credentials every
	// follower authenticates replication with and that a newly promoted
	// primary provisions via EnsureReplicationUser. Default to "repl"/""
	// when the seed file omits them.
	ReplicationUser     string `yaml:"replication_user"`
	ReplicationPassword string `yaml:"replication_password"`
}

// ReplicationCredentials returns the seed's replication user/password,
// falling back to the "repl"/"" defaults a fresh install ships with when
// the seed file does not set them.
func (c ClusterSeed) ReplicationCredentials() (user, password string) {
	user = c.ReplicationUser
	if user == "" {
		user = "repl"
	}
	return user, c.ReplicationPassword
}

// LoadClusterSeed reads and parses a YAML topology seed file.
func LoadClusterSeed(path string) (ClusterSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ClusterSeed{}, fmt.Errorf("config: read seed file: %w", err)
	}
	var seed ClusterSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return ClusterSeed{}, fmt.Errorf("config: parse seed file: %w", err)
	}
	return seed, nil
}

// Primary returns the seed's primary entry, or the zero value and false
// if none is marked.
func (c ClusterSeed) Primary() (InstanceSeed, bool) {
	for _, inst := range c.Instances {
		if inst.Role == "primary" {
			return inst, true
		}
	}
	return InstanceSeed{}, false
}

// Followers returns every non-primary entry.
func (c ClusterSeed) Followers() []InstanceSeed {
	var followers []InstanceSeed
	for _, inst := range c.Instances {
		if inst.Role != "primary" {
			followers = append(followers, inst)
		}
	}
	return followers
}

// EnvOrDefault returns the named environment variable's value, or def if
// it is unset, the pattern every daemon's cobra flags use for the
// QUORUM_-prefixed fallbacks.
func EnvOrDefault(name, def string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return def
}
