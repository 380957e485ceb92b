package cfg

type Cfg struct {
	// Storage configuration
	DBPath         string
	CheckpointPath string

	// Harvest configuration
	ProfilePath    string
	MaxPages       int
	MaxRetries     int
	Parallel       bool
	Concurrency    int
	BatchSize      int
	FlushThreshold int
	RetryRounds    int
	Resume         bool
	StopOnEmpty    bool
	Sweep          bool

	// Pacing configuration (sequential mode)
	RequestsPerMinute int
	MinDelayMs        int
	MaxDelayMs        int

	// HTTP API configuration
	Serve        bool
	Port         string
	APIAccessKey string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
