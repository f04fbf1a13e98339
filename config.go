package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"lookout/camera"
	"lookout/events"
	"lookout/recorder"
)

type DatabaseConfig struct {
	Driver string `json:"driver" yaml:"driver"` // sqlite3 or postgres
	DSN    string `json:"dsn" yaml:"dsn"`       // empty = events.db in the data dir
}

type TriggerConfig struct {
	File        string `json:"file" yaml:"file"`
	NATSURL     string `json:"nats_url" yaml:"nats_url"`
	NATSSubject string `json:"nats_subject" yaml:"nats_subject"`
}

type ObjectStoreConfig struct {
	URL    string `json:"url" yaml:"url"`
	Bucket string `json:"bucket" yaml:"bucket"`
	APIKey string `json:"api_key" yaml:"api_key"`
}

type Config struct {
	Port           int    `json:"port" yaml:"port"`
	DataDir        string `json:"data_dir" yaml:"data_dir"`
	StorageCapGB   int    `json:"storage_cap_gb" yaml:"storage_cap_gb"`
	AuthToken      string `json:"auth_token" yaml:"auth_token"`
	SegmentLengthS int    `json:"segment_length_s" yaml:"segment_length_s"`
	WindowS        int    `json:"window_s" yaml:"window_s"`
	MuteAudio      bool   `json:"mute_audio" yaml:"mute_audio"`
	Mode           string `json:"mode" yaml:"mode"` // mobile or stationary
	AutoStart      bool   `json:"auto_start" yaml:"auto_start"`
	AutoPublish    bool   `json:"auto_publish" yaml:"auto_publish"`
	FFmpegPath     string `json:"ffmpeg_path" yaml:"ffmpeg_path"`

	Camera      camera.Config     `json:"camera" yaml:"camera"`
	Database    DatabaseConfig    `json:"database" yaml:"database"`
	Trigger     TriggerConfig     `json:"trigger" yaml:"trigger"`
	ObjectStore ObjectStoreConfig `json:"object_store" yaml:"object_store"`

	// fileValues holds what the config file says, before env overrides.
	fileValues *Config
}

func DefaultConfig() *Config {
	// Use XDG state directory for recordings
	dataDir := filepath.Join(xdg.StateHome, "lookout")
	if xdg.StateHome == "" {
		homeDir, _ := os.UserHomeDir()
		dataDir = filepath.Join(homeDir, ".local/state/lookout")
	}

	return &Config{
		Port:           DefaultPort,
		DataDir:        dataDir,
		StorageCapGB:   DefaultStorageCapGB,
		SegmentLengthS: DefaultSegmentLengthS,
		WindowS:        DefaultWindowS,
		Mode:           DefaultMode,
		AutoStart:      true,
		Camera: camera.Config{
			Backend:        DefaultCameraBackend,
			Device:         DefaultCameraDevice,
			Width:          DefaultVideoWidth,
			Height:         DefaultVideoHeight,
			FPS:            DefaultVideoFPS,
			MJPEGQuality:   DefaultMJPEGQuality,
			EmbedTimestamp: DefaultEmbedTimestamp,
		},
		Database: DatabaseConfig{Driver: DefaultDatabaseDriver},
		ObjectStore: ObjectStoreConfig{
			Bucket: DefaultBucket,
		},
	}
}

// applyDefaults back-fills fields missing from older config files.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.StorageCapGB == 0 {
		c.StorageCapGB = d.StorageCapGB
	}
	if c.SegmentLengthS == 0 {
		c.SegmentLengthS = d.SegmentLengthS
	}
	if c.WindowS == 0 {
		c.WindowS = d.WindowS
	}
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.Camera.Backend == "" {
		c.Camera.Backend = d.Camera.Backend
	}
	if c.Camera.Width == 0 || c.Camera.Height == 0 {
		c.Camera.Width, c.Camera.Height = d.Camera.Width, d.Camera.Height
	}
	if c.Camera.FPS == 0 {
		c.Camera.FPS = d.Camera.FPS
	}
	if c.Camera.MJPEGQuality == 0 {
		c.Camera.MJPEGQuality = d.Camera.MJPEGQuality
	}
	if c.Database.Driver == "" {
		c.Database.Driver = d.Database.Driver
	}
	if c.ObjectStore.Bucket == "" {
		c.ObjectStore.Bucket = d.ObjectStore.Bucket
	}
}

type envString struct {
	key   string
	field func(*Config) *string
}

var envStrings = []envString{
	{"LOOKOUT_DATA_DIR", func(c *Config) *string { return &c.DataDir }},
	{"LOOKOUT_AUTH_TOKEN", func(c *Config) *string { return &c.AuthToken }},
	{"LOOKOUT_MODE", func(c *Config) *string { return &c.Mode }},
	{"LOOKOUT_FFMPEG_PATH", func(c *Config) *string { return &c.FFmpegPath }},
	{"LOOKOUT_CAMERA_DEVICE", func(c *Config) *string { return &c.Camera.Device }},
	{"LOOKOUT_DB_DRIVER", func(c *Config) *string { return &c.Database.Driver }},
	{"LOOKOUT_DB_DSN", func(c *Config) *string { return &c.Database.DSN }},
	{"LOOKOUT_TRIGGER_FILE", func(c *Config) *string { return &c.Trigger.File }},
	{"LOOKOUT_NATS_URL", func(c *Config) *string { return &c.Trigger.NATSURL }},
	{"LOOKOUT_NATS_SUBJECT", func(c *Config) *string { return &c.Trigger.NATSSubject }},
	{"LOOKOUT_OBJECT_STORE_URL", func(c *Config) *string { return &c.ObjectStore.URL }},
	{"LOOKOUT_OBJECT_STORE_BUCKET", func(c *Config) *string { return &c.ObjectStore.Bucket }},
	{"LOOKOUT_OBJECT_STORE_KEY", func(c *Config) *string { return &c.ObjectStore.APIKey }},
}

func envPort() int {
	if v, err := strconv.Atoi(os.Getenv("LOOKOUT_PORT")); err == nil && v > 0 {
		return v
	}
	return 0
}

// applyEnv lets LOOKOUT_* variables (and a .env file) override the file.
// The pre-override values are kept so SaveConfig never writes env values.
func (c *Config) applyEnv() {
	snapshot := *c
	snapshot.fileValues = nil
	c.fileValues = &snapshot

	if v := envPort(); v > 0 {
		c.Port = v
	}
	for _, e := range envStrings {
		if v := os.Getenv(e.key); v != "" {
			*e.field(c) = v
		}
	}
}

// persisted returns the config as it should be written to disk: fields
// still carrying their env override go back to the file's value.
func (c *Config) persisted() *Config {
	base := c.fileValues
	if base == nil {
		base = DefaultConfig()
	}
	out := *c
	out.fileValues = nil
	if v := envPort(); v > 0 && out.Port == v {
		out.Port = base.Port
	}
	for _, e := range envStrings {
		if v := os.Getenv(e.key); v != "" && *e.field(&out) == v {
			*e.field(&out) = *e.field(base)
		}
	}
	return &out
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.SegmentLengthS <= 0 {
		return fmt.Errorf("segment_length_s must be positive")
	}
	if c.WindowS < c.SegmentLengthS {
		return fmt.Errorf("window_s (%d) must be at least segment_length_s (%d)", c.WindowS, c.SegmentLengthS)
	}
	if !events.Mode(c.Mode).Valid() {
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	switch c.Database.Driver {
	case events.DriverSQLite, events.DriverPostgres:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}

// RecorderConfig is the per-session recorder configuration.
func (c *Config) RecorderConfig() recorder.Config {
	return recorder.Config{
		SegmentDuration: time.Duration(c.SegmentLengthS) * time.Second,
		Window:          time.Duration(c.WindowS) * time.Second,
		MuteAudio:       c.MuteAudio,
	}
}

// CameraConfig returns the device configuration.
func (c *Config) CameraConfig() camera.Config {
	cc := c.Camera
	cc.FFmpegPath = c.FFmpegPath
	return cc
}

// DatabaseDSN resolves the default sqlite file.
func (c *Config) DatabaseDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return filepath.Join(c.DataDir, DefaultDatabaseFile)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func decodeConfig(path string, data []byte, config *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, config)
	}
	return json.Unmarshal(data, config)
}

func encodeConfig(path string, config *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(config)
	}
	return json.MarshalIndent(config, "", "  ")
}

func LoadOrCreateConfig(configPath string) (*Config, error) {
	// If config exists, load it
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		config := &Config{}
		if err := decodeConfig(configPath, data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		config.applyDefaults()
		config.applyEnv()
		if config.AuthToken == "" {
			config.AuthToken = generateToken()
			if err := SaveConfig(config, configPath); err != nil {
				return nil, err
			}
		}
		return config, config.Validate()
	}

	// Create default config
	config := DefaultConfig()
	config.applyEnv()
	if config.AuthToken == "" {
		config.AuthToken = generateToken()
	}

	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := SaveConfig(config, configPath); err != nil {
		return nil, err
	}

	fmt.Printf("Created default config at %s\n", configPath)
	fmt.Printf("Auth token: %s\n", config.AuthToken)

	return config, config.Validate()
}

func SaveConfig(config *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	onDisk := config.persisted()
	data, err := encodeConfig(configPath, onDisk)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	config.fileValues = onDisk
	return nil
}
