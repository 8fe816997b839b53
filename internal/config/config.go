package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`
	NATS        NATSConfig        `yaml:"nats"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Snapshots   SnapshotsConfig   `yaml:"snapshots"`
	Trigger     TriggerConfig     `yaml:"trigger"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Stream      StreamConfig      `yaml:"stream"`
	Socket      SocketConfig      `yaml:"socket"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port         int    `yaml:"port"`
	BearerToken  string `yaml:"bearer_token"`
	MaxPayloadMB int    `yaml:"max_payload_mb"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

// ArchiveConfig points at the external frame archive: frames are forwarded
// to IngestURL after ingestion and read back from QueryURL for dashboards.
// An empty IngestURL disables forwarding; an empty QueryURL makes dashboard
// queries return no frames.
type ArchiveConfig struct {
	IngestURL   string `yaml:"ingest_url"`
	QueryURL    string `yaml:"query_url"`
	BearerToken string `yaml:"bearer_token"`
}

// SnapshotsConfig controls optional persistence of inbound frame images to
// MinIO before the image field is stripped from the payload. Empty endpoint
// disables snapshots.
type SnapshotsConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type TriggerConfig struct {
	ThrottleMs   int `yaml:"throttle_ms"`
	ActiveTTLSec int `yaml:"active_ttl_sec"`
}

func (t TriggerConfig) Throttle() time.Duration {
	return time.Duration(t.ThrottleMs) * time.Millisecond
}

func (t TriggerConfig) ActiveTTL() time.Duration {
	return time.Duration(t.ActiveTTLSec) * time.Second
}

type AggregationConfig struct {
	ImpressionGapSec int `yaml:"impression_gap_sec"`
	CacheTTLSec      int `yaml:"cache_ttl_sec"`
	MaxFrames        int `yaml:"max_frames"`
}

// StreamConfig tunes the SSE transport.
type StreamConfig struct {
	RetryMs       int `yaml:"retry_ms"`
	PopTimeoutSec int `yaml:"pop_timeout_sec"`
	KeepaliveSec  int `yaml:"keepalive_sec"`
}

func (s StreamConfig) PopTimeout() time.Duration {
	return time.Duration(s.PopTimeoutSec) * time.Second
}

func (s StreamConfig) Keepalive() time.Duration {
	return time.Duration(s.KeepaliveSec) * time.Second
}

// SocketConfig tunes the WebSocket transport drain loop.
type SocketConfig struct {
	DrainIntervalMs    int `yaml:"drain_interval_ms"`
	MaxMessagesPerTick int `yaml:"max_messages_per_tick"`
}

func (s SocketConfig) DrainInterval() time.Duration {
	return time.Duration(s.DrainIntervalMs) * time.Millisecond
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

// Default returns a config with only defaults and env overrides applied,
// for running without a config file.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxPayloadMB == 0 {
		cfg.Server.MaxPayloadMB = 10
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Trigger.ThrottleMs == 0 {
		cfg.Trigger.ThrottleMs = 300
	}
	if cfg.Trigger.ActiveTTLSec == 0 {
		cfg.Trigger.ActiveTTLSec = 3600
	}
	if cfg.Aggregation.ImpressionGapSec == 0 {
		cfg.Aggregation.ImpressionGapSec = 5
	}
	if cfg.Aggregation.CacheTTLSec == 0 {
		cfg.Aggregation.CacheTTLSec = 300
	}
	if cfg.Aggregation.MaxFrames == 0 {
		cfg.Aggregation.MaxFrames = 10000
	}
	if cfg.Stream.RetryMs == 0 {
		cfg.Stream.RetryMs = 3000
	}
	if cfg.Stream.PopTimeoutSec == 0 {
		cfg.Stream.PopTimeoutSec = 5
	}
	if cfg.Stream.KeepaliveSec == 0 {
		cfg.Stream.KeepaliveSec = 5
	}
	if cfg.Socket.DrainIntervalMs == 0 {
		cfg.Socket.DrainIntervalMs = 500
	}
	if cfg.Socket.MaxMessagesPerTick == 0 {
		cfg.Socket.MaxMessagesPerTick = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ST_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ST_BEARER_TOKEN"); v != "" {
		cfg.Server.BearerToken = v
	}
	if v := os.Getenv("ST_MAX_PAYLOAD_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MaxPayloadMB = n
		}
	}
	if v := os.Getenv("ST_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("ST_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ST_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("ST_ARCHIVE_INGEST_URL"); v != "" {
		cfg.Archive.IngestURL = v
	}
	if v := os.Getenv("ST_ARCHIVE_QUERY_URL"); v != "" {
		cfg.Archive.QueryURL = v
	}
	if v := os.Getenv("ST_ARCHIVE_BEARER_TOKEN"); v != "" {
		cfg.Archive.BearerToken = v
	}
	if v := os.Getenv("ST_SNAPSHOTS_ENDPOINT"); v != "" {
		cfg.Snapshots.Endpoint = v
	}
	if v := os.Getenv("ST_SNAPSHOTS_ACCESS_KEY"); v != "" {
		cfg.Snapshots.AccessKey = v
	}
	if v := os.Getenv("ST_SNAPSHOTS_SECRET_KEY"); v != "" {
		cfg.Snapshots.SecretKey = v
	}
	if v := os.Getenv("ST_SNAPSHOTS_BUCKET"); v != "" {
		cfg.Snapshots.Bucket = v
	}
	if v := os.Getenv("ST_TRIGGER_THROTTLE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Trigger.ThrottleMs = n
		}
	}
	if v := os.Getenv("ST_TRIGGER_ACTIVE_TTL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Trigger.ActiveTTLSec = n
		}
	}
	if v := os.Getenv("ST_IMPRESSION_GAP_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Aggregation.ImpressionGapSec = n
		}
	}
	if v := os.Getenv("ST_AGGREGATION_CACHE_TTL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Aggregation.CacheTTLSec = n
		}
	}
	if v := os.Getenv("ST_AGGREGATION_MAX_FRAMES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Aggregation.MaxFrames = n
		}
	}
}
