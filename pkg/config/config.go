// Package config loads admitq's startup configuration document. Recognised
// options follow the spec's configuration table (input_queues,
// loop_interval, sock_dir, transport); redis_addr and backends are
// additions this implementation needs to wire the domain stack.
package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v2"
)

// InputQueue names a configured input queue and its in-flight capacity.
type InputQueue struct {
	Name     string `yaml:"name"`
	Capacity int    `yaml:"capacity"`
}

// Config is the decoded startup configuration document. Unrecognised keys
// in the source YAML are silently ignored by yaml.v2's default unmarshal
// behaviour, matching the spec's "master configuration document is shared
// with unrelated subsystems" tolerance.
type Config struct {
	InputQueues  []InputQueue `yaml:"input_queues"`
	LoopInterval float64      `yaml:"loop_interval"`
	SockDir      string       `yaml:"sock_dir"`
	Transport    string       `yaml:"transport"`
	RedisAddr    string       `yaml:"redis_addr"`
	Backends     []string     `yaml:"-"`
}

// rawConfig exists only so Backends (a map in YAML, a slice of keys in
// Config) can be decoded without exposing the intermediate map shape to
// callers.
type rawConfig struct {
	Config   `yaml:",inline"`
	Backends map[string]struct{} `yaml:"backends"`
}

// Load reads and decodes the YAML configuration document at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML configuration document already in memory.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg := raw.Config
	for kind := range raw.Backends {
		cfg.Backends = append(cfg.Backends, kind)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the invariants the spec requires of the input-queue
// configuration: unique, non-empty names and positive capacities.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.InputQueues))
	for _, q := range c.InputQueues {
		if q.Name == "" {
			return fmt.Errorf("config: input queue with empty name")
		}
		if _, dup := seen[q.Name]; dup {
			return fmt.Errorf("config: duplicate input queue name %q", q.Name)
		}
		seen[q.Name] = struct{}{}
		if q.Capacity <= 0 {
			return fmt.Errorf("config: input queue %q has non-positive capacity %d", q.Name, q.Capacity)
		}
	}
	return nil
}
