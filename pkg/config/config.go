package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// EffectiveConfigResult is the merged view of flags, environment and config
// file that the rest of the process runs on.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // "flags", "config", or "env"
}

// ParseCommandFlags parses command-line flags and returns them as a Flags
// struct.
func ParseCommandFlags() Flags {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: setFlags}
}

// ResolveConfigPath returns the config path to use: an explicitly set flag
// wins over the STREAMCART_CONFIG env var, which wins over the default.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet {
		return flagVal
	}
	if v := os.Getenv("STREAMCART_CONFIG"); v != "" {
		return v
	}
	return flagVal
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadEffective loads the config file (if present), applies environment
// overrides and defaults, and returns the effective result.
func LoadEffective(flags Flags) (EffectiveConfigResult, error) {
	cfg := &Config{}
	source := "env"
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	if c, err := Load(cfgPath); err == nil {
		cfg = c
		source = "config"
	} else if !os.IsNotExist(err) {
		return EffectiveConfigResult{}, err
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	addr := cfg.Addr()
	if flags.Set["addr"] {
		addr = flags.Addr
		source = "flags"
	}
	dbPath := cfg.Storage.DBPath
	if dbPath == "" || flags.Set["db"] {
		dbPath = flags.DB
	}
	return EffectiveConfigResult{Config: cfg, Addr: addr, DBPath: dbPath, Source: source}, nil
}

// applyEnv overlays environment variables onto cfg. Only a deliberately
// small set is honored; everything else belongs in the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("STREAMCART_ADDR"); v != "" {
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("STREAMCART_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("STREAMCART_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("STREAMCART_INTENT_URL"); v != "" {
		cfg.Gateways.Intent.URL = v
	}
	if v := os.Getenv("STREAMCART_VISION_URL"); v != "" {
		cfg.Gateways.Vision.URL = v
	}
	if v := os.Getenv("STREAMCART_ORDER_URL"); v != "" {
		cfg.Gateways.Order.URL = v
	}
	if v := os.Getenv("STREAMCART_NOTIFICATION_URL"); v != "" {
		cfg.Gateways.Notification.URL = v
	}
}

// applyDefaults fills zero values with the documented policy defaults.
func applyDefaults(cfg *Config) {
	if cfg.Ingest.MaxMessageLen == 0 {
		cfg.Ingest.MaxMessageLen = 2000
	}
	if cfg.Queue.CapacityPerKey == 0 {
		cfg.Queue.CapacityPerKey = 1024
	}
	if cfg.Queue.TTL == 0 {
		cfg.Queue.TTL = Duration(7 * 24 * time.Hour)
	}
	if cfg.Queue.PopTimeout == 0 {
		cfg.Queue.PopTimeout = Duration(250 * time.Millisecond)
	}
	if cfg.Queue.MaxPooledBufferBytes == 0 {
		cfg.Queue.MaxPooledBufferBytes = 256 * 1024
	}
	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = 4
	}
	if cfg.Pipeline.IntentThreshold == 0 {
		cfg.Pipeline.IntentThreshold = 0.5
	}
	if cfg.Pipeline.VisionThreshold == 0 {
		cfg.Pipeline.VisionThreshold = 0.7
	}
	if cfg.Pipeline.MaxAttempts == 0 {
		cfg.Pipeline.MaxAttempts = 3
	}
	if cfg.Pipeline.RetryBackoff == 0 {
		cfg.Pipeline.RetryBackoff = Duration(500 * time.Millisecond)
	}
	if cfg.Pipeline.OrderSource == "" {
		cfg.Pipeline.OrderSource = "live_stream"
	}
	if cfg.Pipeline.NotifyChannel == "" {
		cfg.Pipeline.NotifyChannel = "sms"
	}
	if cfg.Gateways.Intent.Timeout == 0 {
		cfg.Gateways.Intent.Timeout = Duration(10 * time.Second)
	}
	if cfg.Gateways.Vision.Timeout == 0 {
		cfg.Gateways.Vision.Timeout = Duration(15 * time.Second)
	}
	if cfg.Gateways.Order.Timeout == 0 {
		cfg.Gateways.Order.Timeout = Duration(10 * time.Second)
	}
	if cfg.Gateways.Notification.Timeout == 0 {
		cfg.Gateways.Notification.Timeout = Duration(10 * time.Second)
	}
	if cfg.Retention.Cron == "" {
		cfg.Retention.Cron = "*/10 * * * *"
	}
	if cfg.Ingest.RateLimit.RPS == 0 {
		cfg.Ingest.RateLimit.RPS = 50
	}
	if cfg.Ingest.RateLimit.Burst == 0 {
		cfg.Ingest.RateLimit.Burst = 100
	}
}
