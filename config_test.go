package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadOrCreateConfigWritesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LOOKOUT_DATA_DIR", filepath.Join(dir, "data"))
	path := filepath.Join(dir, "lookout", "config.json")

	cfg, err := LoadOrCreateConfig(path)
	if err != nil {
		t.Fatalf("LoadOrCreateConfig: %v", err)
	}
	if cfg.AuthToken == "" {
		t.Error("no auth token generated")
	}
	if cfg.SegmentLengthS != 2 || cfg.WindowS != 30 || cfg.Mode != "mobile" {
		t.Errorf("defaults = %+v", cfg)
	}
	if _, err := os.Stat(filepath.Join(dir, "data")); err != nil {
		t.Errorf("data dir not created: %v", err)
	}

	again, err := LoadOrCreateConfig(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.AuthToken != cfg.AuthToken {
		t.Errorf("token changed across loads")
	}
}

func TestLoadConfigBackfillsMissingFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"port": 9000, "data_dir": "`+dir+`", "window_s": 60}`), 0600)

	cfg, err := LoadOrCreateConfig(path)
	if err != nil {
		t.Fatalf("LoadOrCreateConfig: %v", err)
	}
	if cfg.Port != 9000 || cfg.WindowS != 60 {
		t.Errorf("file values lost: %+v", cfg)
	}
	if cfg.SegmentLengthS != DefaultSegmentLengthS || cfg.Camera.FPS != DefaultVideoFPS || cfg.Database.Driver != "sqlite3" {
		t.Errorf("defaults not back-filled: %+v", cfg)
	}

	// A generated token is persisted
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), cfg.AuthToken) {
		t.Errorf("token not saved")
	}
}

func TestLoadYAMLConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlConfig := `port: 8181
data_dir: ` + dir + `
auth_token: secret
mode: stationary
camera:
  backend: v4l2
  device: /dev/video2
trigger:
  nats_url: nats://localhost:4222
`
	os.WriteFile(path, []byte(yamlConfig), 0600)

	cfg, err := LoadOrCreateConfig(path)
	if err != nil {
		t.Fatalf("LoadOrCreateConfig: %v", err)
	}
	if cfg.Port != 8181 || cfg.Mode != "stationary" || cfg.AuthToken != "secret" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Camera.Backend != "v4l2" || cfg.Camera.Device != "/dev/video2" {
		t.Errorf("camera = %+v", cfg.Camera)
	}
	if cfg.Trigger.NATSURL != "nats://localhost:4222" {
		t.Errorf("trigger = %+v", cfg.Trigger)
	}

	cfg.WindowS = 45
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "window_s: 45") {
		t.Errorf("not written as YAML:\n%s", data)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"port": 9000, "data_dir": "`+dir+`", "auth_token": "file"}`), 0600)

	t.Setenv("LOOKOUT_PORT", "9100")
	t.Setenv("LOOKOUT_AUTH_TOKEN", "env")
	t.Setenv("LOOKOUT_NATS_URL", "nats://bus:4222")
	t.Setenv("LOOKOUT_DB_DRIVER", "postgres")
	t.Setenv("LOOKOUT_DB_DSN", "postgres://lookout@db/lookout?sslmode=disable")

	cfg, err := LoadOrCreateConfig(path)
	if err != nil {
		t.Fatalf("LoadOrCreateConfig: %v", err)
	}
	if cfg.Port != 9100 || cfg.AuthToken != "env" || cfg.Trigger.NATSURL != "nats://bus:4222" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.DatabaseDSN() != "postgres://lookout@db/lookout?sslmode=disable" {
		t.Errorf("dsn = %s", cfg.DatabaseDSN())
	}
}

func TestEnvValuesAreNotWrittenBack(t *testing.T) {
	const dsn = "postgres://lookout:hunter2@db/lookout"
	const key = "service-role-secret"
	dir := t.TempDir()
	t.Setenv("LOOKOUT_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("LOOKOUT_DB_DSN", dsn)
	t.Setenv("LOOKOUT_OBJECT_STORE_KEY", key)
	t.Setenv("LOOKOUT_PORT", "9100")

	// Created fresh
	path := filepath.Join(dir, "config.json")
	cfg, err := LoadOrCreateConfig(path)
	if err != nil {
		t.Fatalf("LoadOrCreateConfig: %v", err)
	}
	if cfg.Database.DSN != dsn || cfg.ObjectStore.APIKey != key || cfg.Port != 9100 {
		t.Errorf("env not applied: %+v", cfg)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, secret := range []string{dsn, key, `"port": 9100`, filepath.Join(dir, "data")} {
		if strings.Contains(string(data), secret) {
			t.Errorf("config file contains %q:\n%s", secret, data)
		}
	}
	if !strings.Contains(string(data), cfg.AuthToken) {
		t.Errorf("generated token not saved")
	}

	// Existing file gets a token backfilled
	path = filepath.Join(dir, "existing.yaml")
	os.WriteFile(path, []byte("port: 9000\ndatabase:\n  dsn: file.db\n"), 0600)
	cfg, err = LoadOrCreateConfig(path)
	if err != nil {
		t.Fatalf("LoadOrCreateConfig: %v", err)
	}
	cfg.WindowS = 20
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	data, _ = os.ReadFile(path)
	if strings.Contains(string(data), dsn) || strings.Contains(string(data), key) {
		t.Errorf("config file contains env secrets:\n%s", data)
	}
	if !strings.Contains(string(data), "file.db") || !strings.Contains(string(data), "port: 9000") {
		t.Errorf("file values lost:\n%s", data)
	}
	if !strings.Contains(string(data), "window_s: 20") {
		t.Errorf("update not saved:\n%s", data)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"bad port", func(c *Config) { c.Port = 70000 }, false},
		{"zero segment", func(c *Config) { c.SegmentLengthS = 0 }, false},
		{"window shorter than segment", func(c *Config) { c.WindowS = 1 }, false},
		{"unknown mode", func(c *Config) { c.Mode = "parked" }, false},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, false},
		{"postgres", func(c *Config) { c.Database.Driver = "postgres" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			if err := c.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestDerivedConfigs(t *testing.T) {
	c := DefaultConfig()
	c.DataDir = "/var/lib/lookout"
	c.SegmentLengthS = 3
	c.WindowS = 45
	c.MuteAudio = true
	c.FFmpegPath = "/opt/ffmpeg"

	rc := c.RecorderConfig()
	if rc.SegmentDuration != 3*time.Second || rc.Window != 45*time.Second || !rc.MuteAudio {
		t.Errorf("recorder config = %+v", rc)
	}
	if cc := c.CameraConfig(); cc.FFmpegPath != "/opt/ffmpeg" || cc.Device != DefaultCameraDevice {
		t.Errorf("camera config = %+v", cc)
	}
	if dsn := c.DatabaseDSN(); dsn != filepath.Join("/var/lib/lookout", "events.db") {
		t.Errorf("dsn = %s", dsn)
	}
}
