package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Server:  ServerConfig{Addr: ":8080", MetricsPath: "/metrics"},
		Control: ControlConfig{Token: "test-control-token"},
		Spotify: SpotifyConfig{
			ClientID:     "test-client-id",
			ClientSecret: "test-client-secret",
			RefreshToken: "test-refresh-token",
			Market:       "JP",
			SearchLimit:  10,
		},
		AI: AIConfig{
			BaseURL:           "https://api.openai.com/v1",
			APIKey:            "test-ai-key",
			Model:             "gpt-4o-mini",
			Temperature:       0.9,
			RequestsPerMinute: 30,
		},
		Playback: PlaybackConfig{
			PollIntervalMs:     500,
			PrebufferThreshold: 0.95,
			EndThreshold:       0.98,
		},
		Matcher: MatcherConfig{FirstPass: 5, MaxCandidates: 20},
		Personas: PersonasConfig{
			ExclusionTTLHours: 24,
			List: []PersonaConfig{
				{Name: "Crate Digger", Style: "obscure funk and soul"},
			},
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "missing spotify client id",
			mutate:  func(c *Config) { c.Spotify.ClientID = "" },
			wantErr: true,
			errMsg:  "ClientID",
		},
		{
			name:    "missing control token",
			mutate:  func(c *Config) { c.Control.Token = "" },
			wantErr: true,
			errMsg:  "Token",
		},
		{
			name:    "missing ai key",
			mutate:  func(c *Config) { c.AI.APIKey = "" },
			wantErr: true,
			errMsg:  "APIKey",
		},
		{
			name:    "invalid market length",
			mutate:  func(c *Config) { c.Spotify.Market = "JAPAN" },
			wantErr: true,
			errMsg:  "Market",
		},
		{
			name:    "end threshold before prebuffer threshold",
			mutate:  func(c *Config) { c.Playback.EndThreshold = 0.9 },
			wantErr: true,
			errMsg:  "EndThreshold",
		},
		{
			name:    "poll interval too short",
			mutate:  func(c *Config) { c.Playback.PollIntervalMs = 10 },
			wantErr: true,
			errMsg:  "PollIntervalMs",
		},
		{
			name:    "no personas",
			mutate:  func(c *Config) { c.Personas.List = nil },
			wantErr: true,
			errMsg:  "List",
		},
		{
			name: "persona without style",
			mutate: func(c *Config) {
				c.Personas.List = append(c.Personas.List, PersonaConfig{Name: "Empty"})
			},
			wantErr: true,
			errMsg:  "Style",
		},
		{
			name: "duplicate persona",
			mutate: func(c *Config) {
				c.Personas.List = append(c.Personas.List, PersonaConfig{Name: "Crate Digger", Style: "again"})
			},
			wantErr: true,
			errMsg:  "duplicate persona",
		},
		{
			name:    "unknown active persona",
			mutate:  func(c *Config) { c.Personas.Active = "Nobody" },
			wantErr: true,
			errMsg:  "Nobody",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err, "expected validation to fail")
				assert.Contains(t, err.Error(), tt.errMsg,
					"error message should mention the problematic field")
			} else {
				assert.NoError(t, err, "expected validation to pass")
			}
		})
	}
}

const minimalYAML = `
control:
  token: secret
spotify:
  client_id: id
  client_secret: secret
  refresh_token: refresh
ai:
  api_key: key
personas:
  list:
    - name: Night Owl
      style: late-night downtempo
      blocked_tags: [metal]
validators:
  duration_limit:
    enabled: true
    settings:
      max_minutes: 8
`

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "/metrics", cfg.Server.MetricsPath)
	assert.Equal(t, "JP", cfg.Spotify.Market)
	assert.Equal(t, 10, cfg.Spotify.SearchLimit)
	assert.Equal(t, "https://api.openai.com/v1", cfg.AI.BaseURL)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, 0.95, cfg.Playback.PrebufferThreshold)
	assert.Equal(t, 0.98, cfg.Playback.EndThreshold)
	assert.Equal(t, 5, cfg.Matcher.FirstPass)
	assert.Equal(t, 20, cfg.Matcher.MaxCandidates)
	assert.Equal(t, 24*time.Hour, cfg.ExclusionTTL())
	assert.Equal(t, time.Hour, cfg.LastfmCacheTTL())
	assert.False(t, cfg.Lastfm.NoSuggestions)

	require.Len(t, cfg.Personas.List, 1)
	assert.Equal(t, []string{"metal"}, cfg.Personas.List[0].BlockedTags)

	assert.True(t, cfg.IsValidatorEnabled("duration_limit"))
	assert.False(t, cfg.IsValidatorEnabled("llm"))
	assert.Equal(t, 8, cfg.Validators["duration_limit"].Settings["max_minutes"])
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("CONTROL_TOKEN", "from-env")
	t.Setenv("AI_API_KEY", "ai-from-env")
	t.Setenv("LASTFM_API_KEY", "lastfm-from-env")
	t.Setenv("SPOTIFY_REFRESH_TOKEN", "refresh-from-env")

	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Control.Token)
	assert.Equal(t, "ai-from-env", cfg.AI.APIKey)
	assert.Equal(t, "lastfm-from-env", cfg.Lastfm.APIKey)
	assert.Equal(t, "refresh-from-env", cfg.Spotify.RefreshToken)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("control: [not, a, map]"))
	assert.Error(t, err)

	_, err = Parse([]byte("control:\n  token: x\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Night Owl", cfg.Personas.List[0].Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
