package config

import "time"

type (
	// Node contains the identity and replication settings of the node.
	Node struct {
		// ID is the hex-encoded 256-bit node id. A random id is generated
		// and logged when empty.
		ID string `yaml:"id"`
		// Replicas is the number of peers asked to hold each chunk.
		Replicas int `yaml:"replicas"`
	}

	// Chunker bounds the piece sizes of the chunk codec.
	Chunker struct {
		MinSize int `yaml:"minSize"`
		MaxSize int `yaml:"maxSize"`
	}

	// Store configures the chunk store.
	Store struct {
		// MinFreeSpace is the free space, in bytes, required on the data
		// volume at startup.
		MinFreeSpace uint64 `yaml:"minFreeSpace"`
		// GCInterval is how often the value log is garbage collected.
		GCInterval time.Duration `yaml:"gcInterval"`
	}

	// Peer seeds the routing table at startup.
	Peer struct {
		ID      string `yaml:"id"`
		Address string `yaml:"address"`
	}

	// Routing configures the routing table.
	Routing struct {
		BucketSize   int           `yaml:"bucketSize"`
		ProbeTimeout time.Duration `yaml:"probeTimeout"`
		Bootstrap    []Peer        `yaml:"bootstrap"`
	}

	// Fetch configures chunk retrieval.
	Fetch struct {
		// MaxInflight is the maximum number of concurrent peer requests.
		MaxInflight int `yaml:"maxInflight"`
		// CacheSize is the maximum number of fetched chunks to cache in
		// memory.
		CacheSize int `yaml:"cacheSize"`
		// Timeout bounds a single peer request.
		Timeout time.Duration `yaml:"timeout"`
	}

	// API contains the listen address of the API server
	API struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		// MaxUploadSize is the largest request body, in bytes, the data
		// endpoint accepts.
		MaxUploadSize int64 `yaml:"maxUploadSize"`
	}

	// Log contains the log settings
	Log struct {
		Level string `yaml:"level"`
	}

	// Config contains the configuration for shoald
	Config struct {
		Node    Node    `yaml:"node"`
		Chunker Chunker `yaml:"chunker"`
		Store   Store   `yaml:"store"`
		Routing Routing `yaml:"routing"`
		Fetch   Fetch   `yaml:"fetch"`
		API     API     `yaml:"api"`
		Log     Log     `yaml:"log"`
	}
)
