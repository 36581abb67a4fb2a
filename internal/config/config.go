// Package config loads process configuration for the mutchanctl CLI and any
// other binary wiring an allocator, Channel Manager, and Provider together.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds everything a binary needs to stand up one node's worth of
// mutable object channels.
type Config struct {
	Node      NodeConfig
	Allocator AllocatorConfig
	RPC       RPCConfig
	Logging   LogConfig
}

// NodeConfig identifies this process within the set of nodes it can forward
// objects to and from.
type NodeConfig struct {
	ID string `envconfig:"NODE_ID" default:"local"`
}

// AllocatorConfig sets the data+metadata capacity, in bytes, that the
// allocator gives each object.
type AllocatorConfig struct {
	DefaultAllocatedSize uint64 `envconfig:"DEFAULT_ALLOCATED_SIZE" default:"1048576"`
}

// RPCConfig controls how the Provider reaches other nodes.
type RPCConfig struct {
	BufconnBufferSize int `envconfig:"BUFCONN_BUFFER_SIZE" default:"1048576"`
}

// LogConfig controls the structured logger built by the logging package.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load reads configuration from the environment, applying the defaults above
// to anything unset. Each section is processed on its own under the MUTCHAN
// prefix, so variables are named MUTCHAN_<tag> (e.g. MUTCHAN_NODE_ID) without
// the section's field name in between.
func Load() (*Config, error) {
	var cfg Config
	for _, section := range []interface{}{&cfg.Node, &cfg.Allocator, &cfg.RPC, &cfg.Logging} {
		if err := envconfig.Process("MUTCHAN", section); err != nil {
			return nil, fmt.Errorf("config: load: %w", err)
		}
	}
	return &cfg, nil
}

// Default returns the configuration Load would produce against an empty
// environment, for callers (such as tests) that want it without touching
// os.Environ.
func Default() *Config {
	return &Config{
		Node:      NodeConfig{ID: "local"},
		Allocator: AllocatorConfig{DefaultAllocatedSize: 1 << 20},
		RPC:       RPCConfig{BufconnBufferSize: 1 << 20},
		Logging:   LogConfig{Level: "info", Development: false},
	}
}
