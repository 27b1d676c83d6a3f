package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct. It is loaded once at startup and
// injected into the components that need it; no package reads ambient
// globals for tunables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Queue     QueueConfig     `yaml:"queue"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Gateways  GatewaysConfig  `yaml:"gateways"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// StorageConfig holds the pebble database location.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// IngestConfig controls the ingestion front door.
type IngestConfig struct {
	MaxMessageLen int `yaml:"max_message_len"`
	RateLimit     struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// QueueConfig holds per-key work queue tunables.
type QueueConfig struct {
	// CapacityPerKey bounds each per-(streamer,client) queue; a full
	// queue fails Push fast so ingestion can surface a 503.
	CapacityPerKey int `yaml:"capacity_per_key"`
	// TTL bounds how long an unconsumed entry stays eligible for
	// processing. Expired entries are dropped silently; the comment
	// remains in the audit log.
	TTL                  Duration  `yaml:"ttl"`
	PopTimeout           Duration  `yaml:"pop_timeout"`
	MaxPooledBufferBytes SizeBytes `yaml:"max_pooled_buffer_bytes"`
}

// PipelineConfig controls the orchestrator's gating and retry policy.
type PipelineConfig struct {
	Workers int `yaml:"workers"`
	// IntentThreshold gates the buy classification. Biased toward
	// precision: a false positive costs a wasted downstream call.
	IntentThreshold float64 `yaml:"intent_threshold"`
	// VisionThreshold is stricter than the intent gate because a wrong
	// product match directly causes a wrong purchase.
	VisionThreshold float64  `yaml:"vision_threshold"`
	MaxAttempts     int      `yaml:"max_attempts"`
	RetryBackoff    Duration `yaml:"retry_backoff"`
	OrderSource     string   `yaml:"order_source"`
	NotifyChannel   string   `yaml:"notify_channel"`
}

// GatewayConfig is a single downstream service endpoint.
type GatewayConfig struct {
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout"`
}

// GatewaysConfig holds the four stage gateway endpoints.
type GatewaysConfig struct {
	Intent       GatewayConfig `yaml:"intent"`
	Vision       GatewayConfig `yaml:"vision"`
	Order        GatewayConfig `yaml:"order"`
	Notification GatewayConfig `yaml:"notification"`
}

// RetentionConfig holds the TTL sweeper schedule and the optional
// operator-driven audit retention period (empty = keep forever).
type RetentionConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Cron        string `yaml:"cron"`
	AuditPeriod string `yaml:"audit_period"`
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly
// strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing
// from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
