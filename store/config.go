package store

// Config holds configuration for the Store.
type Config struct {
	// NodeTable is the name of the node table.
	// Default: "canopy_nodes"
	NodeTable string

	// PathIndex is the GSI keyed by (partition, path) used for prefix scans.
	// Default: "path_index"
	PathIndex string

	// TreeName prefixes every index partition, letting several trees share
	// one table.
	// Default: "canopy"
	TreeName string

	// NumShards is the number of index partitions. A whole tree always
	// lives in one partition, chosen by its root id; root and forest reads
	// query every partition in parallel.
	// Default: 1 (single partition, single query)
	// Max: 256
	NumShards int

	// MaxTransactItems caps the rows a reparent may rewrite in one
	// transaction. DynamoDB allows at most 100.
	// Default: 100
	MaxTransactItems int
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		NodeTable:        "canopy_nodes",
		PathIndex:        "path_index",
		TreeName:         "canopy",
		NumShards:        1,
		MaxTransactItems: 100,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.NodeTable == "" {
		c.NodeTable = "canopy_nodes"
	}
	if c.PathIndex == "" {
		c.PathIndex = "path_index"
	}
	if c.TreeName == "" {
		c.TreeName = "canopy"
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > 256 {
		c.NumShards = 256
	}
	if c.MaxTransactItems < 1 || c.MaxTransactItems > 100 {
		c.MaxTransactItems = 100
	}
}
