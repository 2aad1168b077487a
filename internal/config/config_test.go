package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// envVars lists every variable Load reads; each test starts with them cleared.
var envVars = []string{
	"CAFE_CONFIG_FILE", "CAFE_DATABASE_URL", "CAFE_HTTP_ADDR", "CAFE_AUTH_TOKEN",
	"CAFE_LOG_BACKEND", "CAFE_LOG_MAX_LEN", "CAFE_BOLT_PATH", "CAFE_NATS_URL",
	"CAFE_JETSTREAM_PREFIX", "CAFE_JETSTREAM_REPLICAS",
	"CAFE_POLL_INTERVAL", "CAFE_KEEPALIVE_INTERVAL", "CAFE_BLOCK_TIMEOUT", "CAFE_BATCH_SIZE", "CAFE_STREAM_RETRY", "CAFE_WRITE_TIMEOUT",
	"CAFE_ARCHIVE_SCHEDULE", "CAFE_ARCHIVE_PREFIX", "CAFE_ARCHIVE_DIR",
	"CAFE_ARCHIVE_S3_BUCKET", "CAFE_ARCHIVE_S3_REGION", "CAFE_ARCHIVE_S3_ENDPOINT",
	"CAFE_MQTT_BROKER", "CAFE_MQTT_TOPIC", "CAFE_MQTT_CLIENT_ID", "CAFE_MQTT_USERNAME", "CAFE_MQTT_PASSWORD", "CAFE_MQTT_QOS",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range envVars {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name         string
		env          map[string]string
		wantErr      bool
		wantBackend  string
		wantHTTPAddr string
		wantNATSURL  string
	}{
		{
			name:         "Defaults",
			env:          map[string]string{},
			wantBackend:  BackendMemory,
			wantHTTPAddr: ":8080",
		},
		{
			name:         "DatabaseImpliesPostgres",
			env:          map[string]string{"CAFE_DATABASE_URL": "postgres://localhost/cafe"},
			wantBackend:  BackendPostgres,
			wantHTTPAddr: ":8080",
		},
		{
			name: "JetStream",
			env: map[string]string{
				"CAFE_DATABASE_URL": "postgres://db:5432/cafe",
				"CAFE_LOG_BACKEND":  "jetstream",
				"CAFE_HTTP_ADDR":    ":3000",
				"CAFE_NATS_URL":     "nats://localhost:4222",
			},
			wantBackend:  BackendJetStream,
			wantHTTPAddr: ":3000",
			wantNATSURL:  "nats://localhost:4222",
		},
		{
			name:    "PostgresWithoutDatabase",
			env:     map[string]string{"CAFE_LOG_BACKEND": "postgres"},
			wantErr: true,
		},
		{
			name:    "JetStreamWithoutNATS",
			env:     map[string]string{"CAFE_LOG_BACKEND": "jetstream"},
			wantErr: true,
		},
		{
			name:    "UnknownBackend",
			env:     map[string]string{"CAFE_LOG_BACKEND": "redis"},
			wantErr: true,
		},
		{
			name:    "InvalidDuration",
			env:     map[string]string{"CAFE_POLL_INTERVAL": "soon"},
			wantErr: true,
		},
		{
			name:    "ZeroPoll",
			env:     map[string]string{"CAFE_POLL_INTERVAL": "0s"},
			wantErr: true,
		},
		{
			name:    "ZeroWriteTimeout",
			env:     map[string]string{"CAFE_WRITE_TIMEOUT": "0s"},
			wantErr: true,
		},
		{
			name:    "InvalidInt",
			env:     map[string]string{"CAFE_BATCH_SIZE": "many"},
			wantErr: true,
		},
		{
			name:    "InvalidQoS",
			env:     map[string]string{"CAFE_MQTT_QOS": "3"},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.DatabaseURL != tc.env["CAFE_DATABASE_URL"] {
				t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, tc.env["CAFE_DATABASE_URL"])
			}
			if cfg.LogBackend != tc.wantBackend {
				t.Errorf("LogBackend = %q, want %q", cfg.LogBackend, tc.wantBackend)
			}
			if cfg.HTTPAddr != tc.wantHTTPAddr {
				t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, tc.wantHTTPAddr)
			}
			if cfg.NATSURL != tc.wantNATSURL {
				t.Errorf("NATSURL = %q, want %q", cfg.NATSURL, tc.wantNATSURL)
			}
		})
	}
}

func TestLoadStreamDefaults(t *testing.T) {
	clearAllEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PollInterval != 2*time.Second || cfg.KeepaliveInterval != 30*time.Second {
		t.Errorf("intervals = %v / %v", cfg.PollInterval, cfg.KeepaliveInterval)
	}
	if cfg.BlockTimeout != 0 || cfg.BatchSize != 100 || cfg.StreamRetry != 3*time.Second {
		t.Errorf("block=%v batch=%d retry=%v", cfg.BlockTimeout, cfg.BatchSize, cfg.StreamRetry)
	}
	if cfg.WriteTimeout != 10*time.Second {
		t.Errorf("WriteTimeout = %v", cfg.WriteTimeout)
	}
	if cfg.ArchiveSchedule != "" || cfg.ArchivePrefix != "cafestream" || cfg.ArchiveS3Region != "us-east-1" {
		t.Errorf("archive defaults = %q %q %q", cfg.ArchiveSchedule, cfg.ArchivePrefix, cfg.ArchiveS3Region)
	}
	if cfg.MQTT.Broker != "" || cfg.MQTT.Topic != "cafe/notifications" {
		t.Errorf("mqtt defaults = %+v", cfg.MQTT)
	}
}

func TestLoadStreamCustom(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("CAFE_POLL_INTERVAL", "500ms")
	t.Setenv("CAFE_KEEPALIVE_INTERVAL", "15s")
	t.Setenv("CAFE_BLOCK_TIMEOUT", "5s")
	t.Setenv("CAFE_BATCH_SIZE", "10")
	t.Setenv("CAFE_LOG_MAX_LEN", "5000")
	t.Setenv("CAFE_MQTT_BROKER", "tcp://mqtt:1883")
	t.Setenv("CAFE_MQTT_QOS", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.KeepaliveInterval != 15*time.Second {
		t.Errorf("KeepaliveInterval = %v", cfg.KeepaliveInterval)
	}
	if cfg.BlockTimeout != 5*time.Second {
		t.Errorf("BlockTimeout = %v", cfg.BlockTimeout)
	}
	if cfg.BatchSize != 10 || cfg.LogMaxLen != 5000 {
		t.Errorf("BatchSize = %d, LogMaxLen = %d", cfg.BatchSize, cfg.LogMaxLen)
	}
	if cfg.MQTT.Broker != "tcp://mqtt:1883" || cfg.MQTT.QoS != 1 {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	clearAllEnv(t)
	path := filepath.Join(t.TempDir(), "cafe.toml")
	content := `
http_addr = ":9000"
log_backend = "bolt"
bolt_path = "/var/lib/cafe/log.db"
poll_interval = "250ms"
archive_schedule = "@hourly"
archive_dir = "/var/backups/cafe"

[mqtt]
broker = "tcp://broker:1883"
topic = "shop/alerts"
qos = 2
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CAFE_CONFIG_FILE", path)
	t.Setenv("CAFE_HTTP_ADDR", ":7000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":7000" {
		t.Errorf("HTTPAddr = %q, env should win over file", cfg.HTTPAddr)
	}
	if cfg.LogBackend != BackendBolt || cfg.BoltPath != "/var/lib/cafe/log.db" {
		t.Errorf("backend = %q %q", cfg.LogBackend, cfg.BoltPath)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.KeepaliveInterval != 30*time.Second {
		t.Errorf("KeepaliveInterval = %v, want default kept", cfg.KeepaliveInterval)
	}
	if cfg.ArchiveSchedule != "@hourly" || cfg.ArchiveDir != "/var/backups/cafe" {
		t.Errorf("archive = %q %q", cfg.ArchiveSchedule, cfg.ArchiveDir)
	}
	if cfg.MQTT.Broker != "tcp://broker:1883" || cfg.MQTT.Topic != "shop/alerts" || cfg.MQTT.QoS != 2 || cfg.MQTT.ClientID != "cafestream" {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
}

func TestLoadFileErrors(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("CAFE_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	if _, err := Load(); err == nil {
		t.Error("expected error for missing config file")
	}

	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("http_addr = [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CAFE_CONFIG_FILE", path)
	if _, err := Load(); err == nil {
		t.Error("expected error for malformed config file")
	}
}

func TestEnvOrDefault(t *testing.T) {
	for _, tc := range []struct {
		name     string
		key      string
		envVal   string
		fallback string
		want     string
	}{
		{"EmptyUsesDefault", "TEST_ENVDEFAULT_EMPTY", "", "default-val", "default-val"},
		{"SetUsesEnv", "TEST_ENVDEFAULT_SET", "custom", "default-val", "custom"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.envVal)
			got := envOrDefault(tc.key, tc.fallback)
			if got != tc.want {
				t.Errorf("envOrDefault(%q, %q) = %q, want %q", tc.key, tc.fallback, got, tc.want)
			}
		})
	}
}
