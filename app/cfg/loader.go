package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	DBPath         string `long:"db-path" env:"DB_PATH" default:"./data/listings.db" description:"Path to the SQLite database file"`
	CheckpointPath string `long:"checkpoint-path" env:"CHECKPOINT_PATH" default:"./data/checkpoint.json" description:"Path to the harvest checkpoint file"`

	// Harvest configuration
	ProfilePath    string `long:"profile" env:"SEARCH_PROFILE" default:"./profiles/cars.yaml" description:"Path to the YAML search profile"`
	MaxPages       int    `long:"max-pages" env:"MAX_PAGES" default:"1400" description:"Maximum number of pages to harvest per run"`
	MaxRetries     int    `long:"max-retries" env:"MAX_RETRIES" default:"5" description:"Retry budget per page request"`
	Parallel       bool   `long:"parallel" env:"PARALLEL" description:"Fetch pages in parallel instead of sequentially"`
	Concurrency    int    `long:"concurrency" env:"CONCURRENCY" default:"10" description:"Maximum in-flight requests in parallel mode"`
	BatchSize      int    `long:"batch-size" env:"BATCH_SIZE" default:"50" description:"Pages submitted per batch in parallel mode"`
	FlushThreshold int    `long:"flush-threshold" env:"FLUSH_THRESHOLD" default:"500" description:"Accumulated listings that trigger a database flush in parallel mode"`
	RetryRounds    int    `long:"retry-rounds" env:"RETRY_ROUNDS" default:"2" description:"Whole-batch retry rounds for failed pages in parallel mode"`
	NoResume       bool   `long:"no-resume" env:"NO_RESUME" description:"Ignore any existing checkpoint and start fresh"`
	NoStopOnEmpty  bool   `long:"no-stop-on-empty" env:"NO_STOP_ON_EMPTY" description:"Sequential mode: keep iterating past a page with zero listings"`
	NoSweep        bool   `long:"no-sweep" env:"NO_SWEEP" description:"Skip the inactivation sweep at the end of the run"`

	// Pacing configuration (sequential mode)
	RequestsPerMinute int `long:"requests-per-minute" env:"REQUESTS_PER_MINUTE" default:"100" description:"Base request rate between sequential fetches"`
	MinDelayMs        int `long:"min-delay-ms" env:"MIN_DELAY_MS" default:"100" description:"Lower bound on the inter-request delay in milliseconds"`
	MaxDelayMs        int `long:"max-delay-ms" env:"MAX_DELAY_MS" default:"300" description:"Upper bound on the inter-request delay in milliseconds"`

	// HTTP API configuration
	Serve        bool   `long:"serve" env:"SERVE" description:"Run the read-only HTTP API instead of a harvest"`
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36" description:"User agent string for upstream requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, Europe/Lisbon)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:            raw.DBPath,
		CheckpointPath:    raw.CheckpointPath,
		ProfilePath:       raw.ProfilePath,
		MaxPages:          raw.MaxPages,
		MaxRetries:        raw.MaxRetries,
		Parallel:          raw.Parallel,
		Concurrency:       raw.Concurrency,
		BatchSize:         raw.BatchSize,
		FlushThreshold:    raw.FlushThreshold,
		RetryRounds:       raw.RetryRounds,
		Resume:            !raw.NoResume,
		StopOnEmpty:       !raw.NoStopOnEmpty,
		Sweep:             !raw.NoSweep,
		RequestsPerMinute: raw.RequestsPerMinute,
		MinDelayMs:        raw.MinDelayMs,
		MaxDelayMs:        raw.MaxDelayMs,
		Serve:             raw.Serve,
		Port:              raw.Port,
		APIAccessKey:      raw.APIAccessKey,
		UserAgent:         raw.UserAgent,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
