package cache

import (
	"fmt"

	"github.com/kbukum/meshgate/validation"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

const (
	DefaultMaxEntries         = 10000
	DefaultMaxEntrySize int64 = 1 << 20
	DefaultKeyPrefix          = "meshgate:cache"
)

// Config configures the response cache.
type Config struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Store is "memory" or "redis".
	Store string `yaml:"store" mapstructure:"store" validate:"omitempty,oneof=memory redis"`
	// MaxEntries bounds the memory store.
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries" validate:"gte=0"`
	// MaxEntrySize is the largest body that is stored, in bytes.
	MaxEntrySize int64 `yaml:"max_entry_size" mapstructure:"max_entry_size" validate:"gte=0"`
	// KeyPrefix namespaces keys in the redis store.
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Store == "" {
		c.Store = StoreMemory
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.MaxEntrySize == 0 {
		c.MaxEntrySize = DefaultMaxEntrySize
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validation.Validate(c); err != nil {
		return fmt.Errorf("response_cache: %w", err)
	}
	return nil
}
