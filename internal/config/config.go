package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/alfredjeanlab/cafestream/internal/notify"
)

// Event log backends.
const (
	BackendMemory    = "memory"
	BackendBolt      = "bolt"
	BackendPostgres  = "postgres"
	BackendJetStream = "jetstream"
)

// Config is loaded from defaults, then the TOML file named by
// CAFE_CONFIG_FILE, then CAFE_* environment variables.
type Config struct {
	DatabaseURL string `toml:"database_url"` // CAFE_DATABASE_URL (empty = in-memory store)
	HTTPAddr    string `toml:"http_addr"`    // CAFE_HTTP_ADDR (default ":8080")
	AuthToken   string `toml:"auth_token"`   // CAFE_AUTH_TOKEN (optional service token)

	// Event log
	LogBackend        string `toml:"log_backend"`         // CAFE_LOG_BACKEND (default postgres with a database, else memory)
	LogMaxLen         int    `toml:"log_max_len"`         // CAFE_LOG_MAX_LEN (0 = unbounded)
	BoltPath          string `toml:"bolt_path"`           // CAFE_BOLT_PATH (default "cafestream.db")
	NATSURL           string `toml:"nats_url"`            // CAFE_NATS_URL (required for jetstream)
	JetStreamPrefix   string `toml:"jetstream_prefix"`    // CAFE_JETSTREAM_PREFIX (default "CAFE")
	JetStreamReplicas int    `toml:"jetstream_replicas"`  // CAFE_JETSTREAM_REPLICAS (default 1)

	// Streams
	PollInterval      time.Duration `toml:"poll_interval"`      // CAFE_POLL_INTERVAL (default 2s)
	KeepaliveInterval time.Duration `toml:"keepalive_interval"` // CAFE_KEEPALIVE_INTERVAL (default 30s)
	BlockTimeout      time.Duration `toml:"block_timeout"`      // CAFE_BLOCK_TIMEOUT (0 = plain polling)
	BatchSize         int           `toml:"batch_size"`         // CAFE_BATCH_SIZE (default 100)
	StreamRetry       time.Duration `toml:"stream_retry"`       // CAFE_STREAM_RETRY (default 3s)
	WriteTimeout      time.Duration `toml:"write_timeout"`      // CAFE_WRITE_TIMEOUT (default 10s)

	// Archive
	ArchiveSchedule   string `toml:"archive_schedule"`    // CAFE_ARCHIVE_SCHEDULE (cron; empty = disabled)
	ArchivePrefix     string `toml:"archive_prefix"`      // CAFE_ARCHIVE_PREFIX (default "cafestream")
	ArchiveDir        string `toml:"archive_dir"`         // CAFE_ARCHIVE_DIR (enables directory export)
	ArchiveS3Bucket   string `toml:"archive_s3_bucket"`   // CAFE_ARCHIVE_S3_BUCKET (enables S3 export)
	ArchiveS3Region   string `toml:"archive_s3_region"`   // CAFE_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Endpoint string `toml:"archive_s3_endpoint"` // CAFE_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)

	// Client notifications
	MQTT notify.MQTTSettings `toml:"mqtt"` // CAFE_MQTT_* (broker empty = disabled)
}

func defaults() *Config {
	return &Config{
		HTTPAddr:          ":8080",
		BoltPath:          "cafestream.db",
		JetStreamPrefix:   "CAFE",
		JetStreamReplicas: 1,
		PollInterval:      2 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		BatchSize:         100,
		StreamRetry:       3 * time.Second,
		WriteTimeout:      10 * time.Second,
		ArchivePrefix:     "cafestream",
		ArchiveS3Region:   "us-east-1",
		MQTT:              notify.MQTTSettings{Topic: "cafe/notifications", ClientID: "cafestream"},
	}
}

func Load() (*Config, error) {
	c := defaults()
	if path := os.Getenv("CAFE_CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("CAFE_CONFIG_FILE: %w", err)
		}
	}

	c.DatabaseURL = envOrDefault("CAFE_DATABASE_URL", c.DatabaseURL)
	c.HTTPAddr = envOrDefault("CAFE_HTTP_ADDR", c.HTTPAddr)
	c.AuthToken = envOrDefault("CAFE_AUTH_TOKEN", c.AuthToken)
	c.LogBackend = envOrDefault("CAFE_LOG_BACKEND", c.LogBackend)
	c.BoltPath = envOrDefault("CAFE_BOLT_PATH", c.BoltPath)
	c.NATSURL = envOrDefault("CAFE_NATS_URL", c.NATSURL)
	c.JetStreamPrefix = envOrDefault("CAFE_JETSTREAM_PREFIX", c.JetStreamPrefix)
	c.ArchiveSchedule = envOrDefault("CAFE_ARCHIVE_SCHEDULE", c.ArchiveSchedule)
	c.ArchivePrefix = envOrDefault("CAFE_ARCHIVE_PREFIX", c.ArchivePrefix)
	c.ArchiveDir = envOrDefault("CAFE_ARCHIVE_DIR", c.ArchiveDir)
	c.ArchiveS3Bucket = envOrDefault("CAFE_ARCHIVE_S3_BUCKET", c.ArchiveS3Bucket)
	c.ArchiveS3Region = envOrDefault("CAFE_ARCHIVE_S3_REGION", c.ArchiveS3Region)
	c.ArchiveS3Endpoint = envOrDefault("CAFE_ARCHIVE_S3_ENDPOINT", c.ArchiveS3Endpoint)
	c.MQTT.Broker = envOrDefault("CAFE_MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.Topic = envOrDefault("CAFE_MQTT_TOPIC", c.MQTT.Topic)
	c.MQTT.ClientID = envOrDefault("CAFE_MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Username = envOrDefault("CAFE_MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = envOrDefault("CAFE_MQTT_PASSWORD", c.MQTT.Password)

	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"CAFE_POLL_INTERVAL", &c.PollInterval},
		{"CAFE_KEEPALIVE_INTERVAL", &c.KeepaliveInterval},
		{"CAFE_BLOCK_TIMEOUT", &c.BlockTimeout},
		{"CAFE_STREAM_RETRY", &c.StreamRetry},
		{"CAFE_WRITE_TIMEOUT", &c.WriteTimeout},
	} {
		if err := envDuration(d.key, d.dst); err != nil {
			return nil, err
		}
	}
	for _, n := range []struct {
		key string
		dst *int
	}{
		{"CAFE_LOG_MAX_LEN", &c.LogMaxLen},
		{"CAFE_JETSTREAM_REPLICAS", &c.JetStreamReplicas},
		{"CAFE_BATCH_SIZE", &c.BatchSize},
		{"CAFE_MQTT_QOS", &c.MQTT.QoS},
	} {
		if err := envInt(n.key, n.dst); err != nil {
			return nil, err
		}
	}

	if c.LogBackend == "" {
		c.LogBackend = BackendMemory
		if c.DatabaseURL != "" {
			c.LogBackend = BackendPostgres
		}
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	switch c.LogBackend {
	case BackendMemory:
	case BackendBolt:
		if c.BoltPath == "" {
			return fmt.Errorf("CAFE_BOLT_PATH is required for the bolt backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("CAFE_DATABASE_URL is required for the postgres backend")
		}
	case BackendJetStream:
		if c.NATSURL == "" {
			return fmt.Errorf("CAFE_NATS_URL is required for the jetstream backend")
		}
	default:
		return fmt.Errorf("CAFE_LOG_BACKEND: unknown backend %q", c.LogBackend)
	}
	if c.PollInterval <= 0 || c.KeepaliveInterval <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("poll, keepalive and write timeout intervals must be positive")
	}
	if c.BlockTimeout < 0 {
		return fmt.Errorf("CAFE_BLOCK_TIMEOUT must not be negative")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("CAFE_MQTT_QOS must be 0, 1 or 2")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
