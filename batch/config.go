package batch

import "github.com/jacentio/catalog/store"

// Config holds batch execution settings.
type Config struct {
	// MaxConcurrentGroups bounds how many partition groups run at once.
	// Default: 0 (one goroutine per group)
	MaxConcurrentGroups int

	// MaxOpsPerBatch is the largest store batch. Bigger groups are split into
	// sequential chunks, each atomic on its own.
	// Default: 100
	MaxOpsPerBatch int

	// MaxRequests caps the requests accepted in one call.
	// Default: 1000
	MaxRequests int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentGroups: 0,
		MaxOpsPerBatch:      store.MaxTransactItems,
		MaxRequests:         1000,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.MaxConcurrentGroups < 0 {
		c.MaxConcurrentGroups = 0
	}
	if c.MaxOpsPerBatch < 1 {
		c.MaxOpsPerBatch = store.MaxTransactItems
	}
	if c.MaxRequests < 1 {
		c.MaxRequests = 1000
	}
}
