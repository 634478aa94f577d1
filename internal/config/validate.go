package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks that the Config contains valid values.
// Returns an error describing the first invalid field found.
func (c Config) Validate() error {
	switch c.SinkKind {
	case SinkFile, SinkHTTP, SinkNone:
	default:
		return fmt.Errorf("config: TRAINWATCH_SINK must be one of file|http|none, got %q", c.SinkKind)
	}

	switch c.DeviceRuntime {
	case RuntimeAllocStats, RuntimeNVML:
	default:
		return fmt.Errorf("config: TRAINWATCH_DEVICE_RUNTIME must be one of allocstats|nvml, got %q", c.DeviceRuntime)
	}

	if c.DeviceRuntime == RuntimeAllocStats && c.AllocStatsEndpoint == "" {
		return fmt.Errorf("config: TRAINWATCH_ALLOCSTATS_ENDPOINT is required for the allocstats runtime")
	}

	if c.SinkKind == SinkHTTP {
		if c.APIKey == "" {
			return fmt.Errorf("config: TRAINWATCH_API_KEY is required for the http sink")
		}
		if c.BackendURL == "" {
			return fmt.Errorf("config: TRAINWATCH_BACKEND_URL is required for the http sink")
		}
		if !c.AllowInsecure && !strings.HasPrefix(c.BackendURL, "https://") {
			return fmt.Errorf("config: TRAINWATCH_BACKEND_URL must use https:// (got %q); set TRAINWATCH_ALLOW_INSECURE=true to override", c.BackendURL)
		}
	}

	if c.SinkKind == SinkFile && c.DumpDir == "" {
		return fmt.Errorf("config: TRAINWATCH_DUMP_DIR is required for the file sink")
	}

	if c.Rank < 0 {
		return fmt.Errorf("config: Rank must be >= 0, got %d", c.Rank)
	}

	if c.DeviceIndex < 0 {
		return fmt.Errorf("config: DeviceIndex must be >= 0, got %d", c.DeviceIndex)
	}

	if c.SampleInterval < time.Second {
		return fmt.Errorf("config: SampleInterval must be >= 1s, got %v", c.SampleInterval)
	}

	if c.QueueDepth < 1 {
		return fmt.Errorf("config: QueueDepth must be >= 1, got %d", c.QueueDepth)
	}

	if c.BatchSize < 1 {
		return fmt.Errorf("config: BatchSize must be >= 1, got %d", c.BatchSize)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("config: MaxRetries must be >= 0, got %d", c.MaxRetries)
	}

	if c.HealthPort < 1 || c.HealthPort > 65535 {
		return fmt.Errorf("config: HealthPort must be 1-65535, got %d", c.HealthPort)
	}

	return nil
}
