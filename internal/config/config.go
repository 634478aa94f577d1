package config

import (
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Sink kinds selectable via TRAINWATCH_SINK.
const (
	SinkFile = "file"
	SinkHTTP = "http"
	SinkNone = "none"
)

// Device runtime kinds selectable via TRAINWATCH_DEVICE_RUNTIME.
const (
	RuntimeAllocStats = "allocstats"
	RuntimeNVML       = "nvml"
)

// Config holds all agent configuration values.
type Config struct {
	RunID        string // TRAINWATCH_RUN_ID, default: random UUID
	RunName      string // TRAINWATCH_RUN_NAME, optional human-readable label
	Rank         int    // TRAINWATCH_RANK, worker rank used for sink path namespacing
	Namespace    string // TRAINWATCH_NAMESPACE, prefix applied to every metric name
	AgentVersion string

	// Device runtime
	DeviceRuntime       string        // TRAINWATCH_DEVICE_RUNTIME: allocstats | nvml
	DeviceIndex         int           // TRAINWATCH_DEVICE_INDEX, default: 0
	AllocStatsEndpoint  string        // TRAINWATCH_ALLOCSTATS_ENDPOINT, allocator stats base URL
	SampleInterval      time.Duration // TRAINWATCH_SAMPLE_INTERVAL, default: 10s
	ResetPeaksPerWindow bool          // TRAINWATCH_RESET_PEAKS_PER_WINDOW, default: true

	// Sink
	SinkKind       string        // TRAINWATCH_SINK: file | http | none
	DumpDir        string        // TRAINWATCH_DUMP_DIR, root for the file sink
	APIKey         string        // TRAINWATCH_API_KEY, bearer token for the http sink
	BackendURL     string        // TRAINWATCH_BACKEND_URL
	QueueDepth     int           // TRAINWATCH_QUEUE_DEPTH, default: 1000
	BatchSize      int           // TRAINWATCH_BATCH_SIZE, http sink samples per POST
	MaxRetries     int           // TRAINWATCH_MAX_RETRIES
	RequestTimeout time.Duration // TRAINWATCH_REQUEST_TIMEOUT

	// Operational surface
	HealthPort     int  // TRAINWATCH_HEALTH_PORT
	DebugEndpoints bool // TRAINWATCH_DEBUG_ENDPOINTS, enables pprof/debug on health port
	AllowInsecure  bool // TRAINWATCH_ALLOW_INSECURE, allows http:// BackendURL
}

// Enabled reports whether metric emission is active at all.
func (c Config) Enabled() bool {
	return c.SinkKind != SinkNone
}

// Load reads configuration from environment variables and returns a Config
// with defaults applied for any unset values.
func Load() Config {
	cfg := Config{
		RunID:        os.Getenv("TRAINWATCH_RUN_ID"),
		RunName:      os.Getenv("TRAINWATCH_RUN_NAME"),
		Rank:         parseInt("TRAINWATCH_RANK", 0),
		Namespace:    os.Getenv("TRAINWATCH_NAMESPACE"),
		AgentVersion: envOrDefault("TRAINWATCH_AGENT_VERSION", "dev"),

		DeviceRuntime:       envOrDefault("TRAINWATCH_DEVICE_RUNTIME", RuntimeAllocStats),
		DeviceIndex:         parseInt("TRAINWATCH_DEVICE_INDEX", 0),
		AllocStatsEndpoint:  envOrDefault("TRAINWATCH_ALLOCSTATS_ENDPOINT", "http://127.0.0.1:9201"),
		SampleInterval:      parseDuration("TRAINWATCH_SAMPLE_INTERVAL", 10*time.Second),
		ResetPeaksPerWindow: parseBool("TRAINWATCH_RESET_PEAKS_PER_WINDOW", true),

		SinkKind:       envOrDefault("TRAINWATCH_SINK", SinkFile),
		DumpDir:        envOrDefault("TRAINWATCH_DUMP_DIR", "./outputs"),
		APIKey:         os.Getenv("TRAINWATCH_API_KEY"),
		BackendURL:     envOrDefault("TRAINWATCH_BACKEND_URL", "https://api.trainwatch.io"),
		QueueDepth:     parseInt("TRAINWATCH_QUEUE_DEPTH", 1000),
		BatchSize:      parseInt("TRAINWATCH_BATCH_SIZE", 256),
		MaxRetries:     parseInt("TRAINWATCH_MAX_RETRIES", 5),
		RequestTimeout: parseDuration("TRAINWATCH_REQUEST_TIMEOUT", 30*time.Second),

		HealthPort: parseInt("TRAINWATCH_HEALTH_PORT", 8080),
	}

	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}

	cfg.DebugEndpoints = parseBool("TRAINWATCH_DEBUG_ENDPOINTS", false)
	cfg.AllowInsecure = parseBool("TRAINWATCH_ALLOW_INSECURE", false)

	return cfg
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// parseDuration tries time.ParseDuration first, then falls back to treating
// the value as integer seconds.
func parseDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(v)
	if err == nil {
		return d
	}

	// Fallback: treat as integer seconds
	secs, err := strconv.Atoi(v)
	if err == nil {
		return time.Duration(secs) * time.Second
	}

	return defaultVal
}

func parseBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func parseInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
