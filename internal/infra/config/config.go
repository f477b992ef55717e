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
	Server     ServerConfig               `yaml:"server"`
	Control    ControlConfig              `yaml:"control"`
	Spotify    SpotifyConfig              `yaml:"spotify"`
	AI         AIConfig                   `yaml:"ai"`
	Lastfm     LastfmConfig               `yaml:"lastfm"`
	Playback   PlaybackConfig             `yaml:"playback"`
	Matcher    MatcherConfig              `yaml:"matcher"`
	Personas   PersonasConfig             `yaml:"personas"`
	Validators map[string]ValidatorConfig `yaml:"validators"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr        string      `yaml:"addr" default:":8080"`
	MetricsPath string      `yaml:"metrics_path" default:"/metrics"`
	Hooks       HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// ControlConfig represents control API configuration.
type ControlConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret" validate:"required"`
	RefreshToken string `yaml:"refresh_token" validate:"required"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"JP"`
	DeviceID     string `yaml:"device_id"`
	SearchLimit  int    `yaml:"search_limit" default:"10" validate:"gte=1,lte=50"`
}

// AIConfig represents the AI service configuration.
type AIConfig struct {
	BaseURL           string  `yaml:"base_url" default:"https://api.openai.com/v1" validate:"url"`
	APIKey            string  `yaml:"api_key" validate:"required"`
	Model             string  `yaml:"model" default:"gpt-4o-mini" validate:"required"`
	Temperature       float64 `yaml:"temperature" default:"0.9" validate:"gte=0,lte=2"`
	RequestsPerMinute float64 `yaml:"requests_per_minute" default:"30" validate:"gt=0"`
}

// LastfmConfig represents Last.fm configuration. Last.fm is optional;
// without an API key, similar-track suggestions and tag checks are off.
type LastfmConfig struct {
	APIKey          string `yaml:"api_key"`
	CacheTTLMinutes int    `yaml:"cache_ttl_minutes" default:"60" validate:"gte=0"`
	NoSuggestions   bool   `yaml:"no_suggestions"`
}

// PlaybackConfig represents playback monitor configuration.
type PlaybackConfig struct {
	PollIntervalMs     int     `yaml:"poll_interval_ms" default:"500" validate:"gte=100,lte=10000"`
	PrebufferThreshold float64 `yaml:"prebuffer_threshold" default:"0.95" validate:"gt=0,lte=1"`
	EndThreshold       float64 `yaml:"end_threshold" default:"0.98" validate:"gt=0,lte=1,gtefield=PrebufferThreshold"`
}

// MatcherConfig represents catalog matching configuration.
type MatcherConfig struct {
	FirstPass     int `yaml:"first_pass" default:"5" validate:"gte=1"`
	MaxCandidates int `yaml:"max_candidates" default:"20" validate:"gte=1,lte=50,gtefield=FirstPass"`
}

// PersonasConfig represents the DJ personas.
type PersonasConfig struct {
	Active            string          `yaml:"active"`
	ExclusionTTLHours int             `yaml:"exclusion_ttl_hours" default:"24" validate:"gte=1"`
	List              []PersonaConfig `yaml:"list" validate:"required,min=1,dive"`
}

// PersonaConfig represents a single persona.
type PersonaConfig struct {
	Name        string   `yaml:"name" validate:"required"`
	Style       string   `yaml:"style" validate:"required"`
	BlockedTags []string `yaml:"blocked_tags"`
}

// ValidatorConfig represents a validator's configuration.
type ValidatorConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
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

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
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
	if v := os.Getenv("AI_API_KEY"); v != "" {
		c.AI.APIKey = v
	}
	if v := os.Getenv("LASTFM_API_KEY"); v != "" {
		c.Lastfm.APIKey = v
	}
	if v := os.Getenv("CONTROL_TOKEN"); v != "" {
		c.Control.Token = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if err := c.validatePersonas(); err != nil {
		return err
	}

	return nil
}

// validatePersonas checks persona names are unique and the active one exists.
func (c *Config) validatePersonas() error {
	seen := make(map[string]bool, len(c.Personas.List))
	for _, p := range c.Personas.List {
		if seen[p.Name] {
			return errors.Newf("duplicate persona: %s", p.Name)
		}
		seen[p.Name] = true
	}
	if c.Personas.Active != "" && !seen[c.Personas.Active] {
		return errors.Newf("active persona %s is not configured", c.Personas.Active)
	}
	return nil
}

// PollInterval returns the playback poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Playback.PollIntervalMs) * time.Millisecond
}

// ExclusionTTL returns how long selected tracks stay excluded.
func (c *Config) ExclusionTTL() time.Duration {
	return time.Duration(c.Personas.ExclusionTTLHours) * time.Hour
}

// LastfmCacheTTL returns the Last.fm response cache TTL.
func (c *Config) LastfmCacheTTL() time.Duration {
	return time.Duration(c.Lastfm.CacheTTLMinutes) * time.Minute
}

// IsValidatorEnabled checks if a validator is enabled.
func (c *Config) IsValidatorEnabled(name string) bool {
	if v, ok := c.Validators[name]; ok {
		return v.Enabled
	}
	return false
}
