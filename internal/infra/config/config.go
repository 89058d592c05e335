// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server     ServerConfig            `yaml:"server"`
	Session    SessionConfig           `yaml:"session"`
	Admin      AdminConfig             `yaml:"admin"`
	Round      RoundConfig             `yaml:"round"`
	Progress   ProgressConfig          `yaml:"progress"`
	Playback   PlaybackConfig          `yaml:"playback"`
	Candidates CandidatesConfig        `yaml:"candidates"`
	Filters    map[string]FilterConfig `yaml:"filters"`
	Tally      TallyConfig             `yaml:"tally"`
	Spotify    SpotifyConfig           `yaml:"spotify"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr           string      `yaml:"addr" default:":8080"`
	AllowedOrigins []string    `yaml:"allowed_origins"`
	Hooks          HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// SessionConfig represents session-related configuration.
type SessionConfig struct {
	Title       string `yaml:"title" default:"djvote"`
	InitialSeed string `yaml:"initial_seed"` // Track ID, URL, URI or search query
	EndTime     string `yaml:"end_time"`
	TickMs      int    `yaml:"tick_ms" default:"1000" validate:"gte=100,lte=5000"`
}

// AdminConfig represents admin-related configuration.
type AdminConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// RoundConfig represents voting round configuration.
type RoundConfig struct {
	WindowSec      int    `yaml:"window_sec" default:"15" validate:"gte=1,lte=120"`
	EndGuardSec    int    `yaml:"end_guard_sec" default:"10" validate:"gte=0,lte=120"`
	CandidateCount int    `yaml:"candidate_count" default:"4" validate:"gte=2,lte=10"`
	Policy         string `yaml:"policy" default:"first_vote" validate:"oneof=first_vote plurality"`
}

// ProgressConfig represents progress tracking configuration.
type ProgressConfig struct {
	ResyncThresholdMs int `yaml:"resync_threshold_ms" default:"2000" validate:"gte=100"`
	EndEpsilonMs      int `yaml:"end_epsilon_ms" default:"1000" validate:"gte=0,lte=5000"`
	RestartGuardMs    int `yaml:"restart_guard_ms" default:"5000" validate:"gte=0"`
}

// PlaybackConfig represents playback device configuration.
type PlaybackConfig struct {
	DeviceName          string `yaml:"device_name"`
	PollIntervalMs      int    `yaml:"poll_interval_ms" default:"1000" validate:"gte=200,lte=10000"`
	ActivationTimeoutMs int    `yaml:"activation_timeout_ms" default:"20000" validate:"gte=1000,lte=60000"`
	ActivationAttempts  int    `yaml:"activation_attempts" default:"6" validate:"gte=1,lte=20"`
	ActivationBackoffMs int    `yaml:"activation_backoff_ms" default:"400" validate:"gte=0,lte=5000"`
	WatchdogStallMs     int    `yaml:"watchdog_stall_ms" default:"5000" validate:"gte=1000"`
	WatchdogMaxResumes  int    `yaml:"watchdog_max_resumes" default:"3" validate:"gte=0,lte=10"`
	InitialVolume       int    `yaml:"initial_volume" validate:"gte=0,lte=100"` // 0 leaves the device volume unchanged
}

// CandidatesConfig represents candidate selection configuration.
// Providers are the similarity sources; Fallback is the broad pool.
type CandidatesConfig struct {
	FetchLimit int              `yaml:"fetch_limit" default:"20" validate:"gte=4,lte=100"`
	Providers  []ProviderConfig `yaml:"providers" validate:"required,min=1,dive"`
	Fallback   []ProviderConfig `yaml:"fallback" validate:"dive"`
}

// ProviderConfig represents a single candidate provider configuration.
type ProviderConfig struct {
	Type        string         `yaml:"type" validate:"required"`
	DisplayName string         `yaml:"display_name" validate:"required"`
	Settings    map[string]any `yaml:"settings"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// TallyConfig represents the vote tally store configuration.
type TallyConfig struct {
	Backend          string         `yaml:"backend" default:"memory" validate:"oneof=memory redis sqlite"`
	Settings         map[string]any `yaml:"settings"`
	RetentionMin     int            `yaml:"retention_min" default:"60" validate:"gte=1"`
	PruneIntervalMin int            `yaml:"prune_interval_min" default:"10" validate:"gte=1"`
	Workers          int            `yaml:"workers" default:"2" validate:"gte=1,lte=16"`
	QueueSize        int            `yaml:"queue_size" default:"64" validate:"gte=1"`
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret" validate:"required"`
	RefreshToken string `yaml:"refresh_token" validate:"required"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"JP"`
	MaxRetries   int    `yaml:"max_retries" default:"3" validate:"gte=1,lte=10"`
	RetryDelayMs int    `yaml:"retry_delay_ms" default:"1000" validate:"gte=0"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse builds a configuration from YAML bytes: env overrides, then defaults, then validation.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REFRESH_TOKEN"); v != "" {
		c.Spotify.RefreshToken = v
	}
	if v := os.Getenv("LASTFM_API_KEY"); v != "" {
		setProviderSetting(c.Candidates.Providers, "lastfm", "api_key", v)
		setProviderSetting(c.Candidates.Fallback, "lastfm", "api_key", v)
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" && c.Tally.Backend == "redis" {
		if c.Tally.Settings == nil {
			c.Tally.Settings = make(map[string]any)
		}
		c.Tally.Settings["addr"] = v
	}
}

func setProviderSetting(providers []ProviderConfig, providerType, key, value string) {
	for i := range providers {
		if providers[i].Type != providerType {
			continue
		}
		if providers[i].Settings == nil {
			providers[i].Settings = make(map[string]any)
		}
		providers[i].Settings[key] = value
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if end, err := c.ParseEndTime(); err != nil {
		return err
	} else if end != nil && end.Before(time.Now()) {
		return errors.Newf("end_time (%s) is in the past", c.Session.EndTime)
	}

	return nil
}

// ParseEndTime parses the session end time.
// Returns nil if the end time is empty.
func (c *Config) ParseEndTime() (*time.Time, error) {
	if c.Session.EndTime == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, c.Session.EndTime)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse end_time")
	}
	return &t, nil
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// FilterSettings returns the settings for a filter.
func (c *Config) FilterSettings(filterName string) map[string]any {
	if f, ok := c.Filters[filterName]; ok {
		return f.Settings
	}
	return nil
}

// Tick returns the session tick interval.
func (s SessionConfig) Tick() time.Duration {
	return time.Duration(s.TickMs) * time.Millisecond
}

// PollInterval returns the device polling interval.
func (p PlaybackConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMs) * time.Millisecond
}

// ActivationTimeout returns the overall device activation bound.
func (p PlaybackConfig) ActivationTimeout() time.Duration {
	return time.Duration(p.ActivationTimeoutMs) * time.Millisecond
}

// ActivationBackoff returns the delay between activation polls.
func (p PlaybackConfig) ActivationBackoff() time.Duration {
	return time.Duration(p.ActivationBackoffMs) * time.Millisecond
}

// WatchdogStall returns how long progress may stall before a resume is issued.
func (p PlaybackConfig) WatchdogStall() time.Duration {
	return time.Duration(p.WatchdogStallMs) * time.Millisecond
}

// Retention returns how long tally rounds are kept.
func (t TallyConfig) Retention() time.Duration {
	return time.Duration(t.RetentionMin) * time.Minute
}

// PruneInterval returns how often old tally rounds are pruned.
func (t TallyConfig) PruneInterval() time.Duration {
	return time.Duration(t.PruneIntervalMin) * time.Minute
}
