package store

// MaxTransactItems is DynamoDB's limit on operations per transaction.
const MaxTransactItems = 100

// Config holds configuration for the DynamoDB-backed store.
type Config struct {
	// Table is the DynamoDB table holding the items.
	// Default: "catalog_items"
	Table string

	// PartitionKeyAttr is the hash key attribute. The range key is always "id".
	// Default: "category"
	PartitionKeyAttr string

	// MaxOpsPerBatch caps the operations submitted in one transaction.
	// Default: 100
	// Max: 100
	MaxOpsPerBatch int
}

// DefaultConfig returns the defaults used by the catalog service.
func DefaultConfig() Config {
	return Config{
		Table:            "catalog_items",
		PartitionKeyAttr: "category",
		MaxOpsPerBatch:   MaxTransactItems,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Table == "" {
		c.Table = "catalog_items"
	}
	if c.PartitionKeyAttr == "" {
		c.PartitionKeyAttr = "category"
	}
	if c.MaxOpsPerBatch < 1 || c.MaxOpsPerBatch > MaxTransactItems {
		c.MaxOpsPerBatch = MaxTransactItems
	}
}
