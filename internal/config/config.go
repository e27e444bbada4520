package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/tracklight/internal/rgb"
)

// MinPollInterval is the lowest poll interval accepted. The playback API
// rate-limits aggressive clients, so this is a hard floor.
const MinPollInterval = time.Second

// ErrPollIntervalTooLow is returned by Validate when sync.poll_interval is below MinPollInterval.
var ErrPollIntervalTooLow = errors.New("poll interval below minimum")

// Config represents the application configuration
type Config struct {
	Spotify         SpotifyConfig     `yaml:"spotify"`
	Sync            SyncConfig        `yaml:"sync"`
	Extractor       ExtractorConfig   `yaml:"extractor"`
	Artwork         ArtworkConfig     `yaml:"artwork"`
	Discovery       DiscoveryConfig   `yaml:"discovery"`
	Devices         DevicesConfig     `yaml:"devices"`
	Database        DatabaseConfig    `yaml:"database"`
	Log             LogConfig         `yaml:"log"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// SpotifyConfig contains playback source credentials and endpoints
type SpotifyConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"` // Local callback used by -auth
	TokenFile    string   `yaml:"token_file"`
	APIBase      string   `yaml:"api_base"`
	Timeout      Duration `yaml:"timeout"` // Per-request timeout for playback queries
}

// SyncConfig contains sync loop settings
type SyncConfig struct {
	PollInterval  Duration `yaml:"poll_interval"`
	Transition    Duration `yaml:"transition"`     // Color fade duration sent to the lights
	FallbackColor string   `yaml:"fallback_color"` // Used when album art has no usable pixels
	FilterScript  string   `yaml:"filter_script"`  // Optional Lua color filter
}

// ExtractorConfig tunes the album art reduction pipeline
type ExtractorConfig struct {
	Fuzz            float64 `yaml:"fuzz"`
	PaletteSize     int     `yaml:"palette_size"`
	SaturationBoost float64 `yaml:"saturation_boost"`
	MaxSamples      int     `yaml:"max_samples"`
}

// ArtworkConfig contains album art download settings
type ArtworkConfig struct {
	Timeout  Duration `yaml:"timeout"`
	MaxBytes int64    `yaml:"max_bytes"`
}

// DiscoveryConfig contains device discovery settings
type DiscoveryConfig struct {
	MaxRetries      int      `yaml:"max_retries"`
	AttemptTimeout  Duration `yaml:"attempt_timeout"`
	SearchAddress   string   `yaml:"search_address"`
	Brightness      int      `yaml:"brightness"`        // Brightness set on every device after connect
	UseKnownDevices bool     `yaml:"use_known_devices"` // Also connect devices remembered from earlier runs
}

// DevicesConfig contains per-device connection settings
type DevicesConfig struct {
	DialTimeout    Duration `yaml:"dial_timeout"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"json"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Addr returns the listen address of the health server
func (c *HealthcheckConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes configuration bytes over the defaults and validates the result.
// Keys absent from the document keep their default; explicit zeros are kept.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used for every key the file leaves out.
func Default() Config {
	return Config{
		Spotify: SpotifyConfig{
			RedirectURL: "http://localhost:5050/callback",
			TokenFile:   "credentials.json",
			APIBase:     "https://api.spotify.com/v1",
			Timeout:     Duration(10 * time.Second),
		},
		Sync: SyncConfig{
			PollInterval:  Duration(2 * time.Second),
			Transition:    Duration(250 * time.Millisecond),
			FallbackColor: "#808080",
		},
		Extractor: ExtractorConfig{
			Fuzz:            0.15,
			PaletteSize:     5,
			SaturationBoost: 10,
			MaxSamples:      160 * 160,
		},
		Artwork: ArtworkConfig{
			Timeout:  Duration(10 * time.Second),
			MaxBytes: 10 << 20,
		},
		Discovery: DiscoveryConfig{
			MaxRetries:     2,
			AttemptTimeout: Duration(2 * time.Second),
			SearchAddress:  "239.255.255.250:1982",
			Brightness:     100,
		},
		Devices: DevicesConfig{
			DialTimeout:    Duration(3 * time.Second),
			RateLimitRPS:   1.0, // Yeelight allows 60 commands per minute per bulb
			RateLimitBurst: 4,
		},
		Database: DatabaseConfig{
			Path: "./tracklight.sqlite",
		},
		Log: LogConfig{
			Level: "info",
		},
		Healthcheck: HealthcheckConfig{
			Host: "0.0.0.0",
			Port: 9090,
		},
		// General shutdown timeout
		ShutdownTimeout: Duration(5 * time.Second),
	}
}

// Validate checks values that have no sensible automatic correction.
func (cfg *Config) Validate() error {
	if cfg.Sync.PollInterval.Duration() < MinPollInterval {
		return fmt.Errorf("sync.poll_interval %s: %w (minimum %s)",
			cfg.Sync.PollInterval.Duration(), ErrPollIntervalTooLow, MinPollInterval)
	}
	if _, err := rgb.Parse(cfg.Sync.FallbackColor); err != nil {
		return fmt.Errorf("sync.fallback_color: %w", err)
	}
	if cfg.Extractor.Fuzz < 0 || cfg.Extractor.Fuzz > 1 {
		return fmt.Errorf("extractor.fuzz must be within [0, 1], got %v", cfg.Extractor.Fuzz)
	}
	if cfg.Extractor.PaletteSize < 1 {
		return fmt.Errorf("extractor.palette_size must be positive, got %d", cfg.Extractor.PaletteSize)
	}
	if cfg.Extractor.SaturationBoost <= 0 {
		return fmt.Errorf("extractor.saturation_boost must be positive, got %v", cfg.Extractor.SaturationBoost)
	}
	if cfg.Extractor.MaxSamples < 1 {
		return fmt.Errorf("extractor.max_samples must be positive, got %d", cfg.Extractor.MaxSamples)
	}
	if cfg.Discovery.Brightness < 1 || cfg.Discovery.Brightness > 100 {
		return fmt.Errorf("discovery.brightness must be within [1, 100], got %d", cfg.Discovery.Brightness)
	}
	if cfg.Discovery.MaxRetries < 0 {
		return fmt.Errorf("discovery.max_retries must not be negative, got %d", cfg.Discovery.MaxRetries)
	}
	if cfg.Database.Path == "" {
		return errors.New("database.path is required")
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
