package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dotsetgreg/due/pkg/agent"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Storage  StorageConfig  `json:"storage"`
	Corpus   CorpusConfig   `json:"corpus"`
	Gateway  GatewayConfig  `json:"gateway"`
	Channels ChannelsConfig `json:"channels"`
	Autosave AutosaveConfig `json:"autosave"`
	Log      LogConfig      `json:"log"`
	mu       sync.RWMutex
}

type AgentConfig struct {
	ID                   string   `json:"id" env:"DUE_AGENT_ID"`
	Kind                 string   `json:"kind" env:"DUE_AGENT_KIND"`
	Vectorizer           string   `json:"vectorizer" env:"DUE_AGENT_VECTORIZER"`
	MinConfidence        float64  `json:"min_confidence" env:"DUE_AGENT_MIN_CONFIDENCE"`
	OnLowConfidence      string   `json:"on_low_confidence" env:"DUE_AGENT_ON_LOW_CONFIDENCE"`
	FallbackText         string   `json:"fallback_text" env:"DUE_AGENT_FALLBACK_TEXT"`
	FixedText            string   `json:"fixed_text" env:"DUE_AGENT_FIXED_TEXT"`
	ActionTimeoutSeconds int      `json:"action_timeout_seconds" env:"DUE_AGENT_ACTION_TIMEOUT_SECONDS"`
	Actions              []string `json:"actions" env:"DUE_AGENT_ACTIONS"`
}

type StorageConfig struct {
	Driver        string `json:"driver" env:"DUE_STORAGE_DRIVER"` // sqlite or file
	Path          string `json:"path" env:"DUE_STORAGE_PATH"`
	Dir           string `json:"dir" env:"DUE_STORAGE_DIR"`
	Snapshot      string `json:"snapshot" env:"DUE_STORAGE_SNAPSHOT"`
	Format        string `json:"format" env:"DUE_STORAGE_FORMAT"`
	KeepRevisions int    `json:"keep_revisions" env:"DUE_STORAGE_KEEP_REVISIONS"`
}

type CorpusConfig struct {
	Paths []string `json:"paths" env:"DUE_CORPUS_PATHS"`
	Toy   bool     `json:"toy" env:"DUE_CORPUS_TOY"`
}

type GatewayConfig struct {
	LearnOnClose    bool `json:"learn_on_close" env:"DUE_GATEWAY_LEARN_ON_CLOSE"`
	ArchiveEpisodes bool `json:"archive_episodes" env:"DUE_GATEWAY_ARCHIVE_EPISODES"`
	MaxSessions     int  `json:"max_sessions" env:"DUE_GATEWAY_MAX_SESSIONS"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Enabled   bool                `json:"enabled" env:"DUE_CHANNELS_DISCORD_ENABLED"`
	Token     string              `json:"token" env:"DUE_CHANNELS_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"DUE_CHANNELS_DISCORD_ALLOW_FROM"`
}

type AutosaveConfig struct {
	Enabled  bool   `json:"enabled" env:"DUE_AUTOSAVE_ENABLED"`
	Schedule string `json:"schedule" env:"DUE_AUTOSAVE_SCHEDULE"` // cron expression
}

type LogConfig struct {
	Level string `json:"level" env:"DUE_LOG_LEVEL"`
	File  string `json:"file" env:"DUE_LOG_FILE"`
}

func DefaultConfig() *Config {
	def := agent.DefaultConfig()
	return &Config{
		Agent: AgentConfig{
			ID:                   "due",
			Kind:                 def.Kind,
			Vectorizer:           def.Vectorizer,
			MinConfidence:        def.MinConfidence,
			OnLowConfidence:      string(def.OnLowConfidence),
			FallbackText:         def.FallbackText,
			FixedText:            def.FixedText,
			ActionTimeoutSeconds: int(def.ActionTimeout / time.Second),
			Actions:              []string{"get_time"},
		},
		Storage: StorageConfig{
			Driver:        "sqlite",
			Path:          "~/.due/due.db",
			Dir:           "~/.due/snapshots",
			Snapshot:      "default",
			Format:        "json",
			KeepRevisions: 5,
		},
		Corpus: CorpusConfig{
			Paths: []string{},
			Toy:   true,
		},
		Gateway: GatewayConfig{
			LearnOnClose:    true,
			ArchiveEpisodes: true,
			MaxSessions:     256,
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Enabled:   false,
				Token:     "",
				AllowFrom: FlexibleStringSlice{},
			},
		},
		Autosave: AutosaveConfig{
			Enabled:  true,
			Schedule: "*/15 * * * *",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads path over the defaults and applies DUE_* environment
// overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// AgentConfig converts the agent section to the runtime agent configuration.
func (c *Config) AgentConfig() agent.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a := c.Agent
	return agent.Config{
		Kind:            a.Kind,
		Vectorizer:      a.Vectorizer,
		MinConfidence:   a.MinConfidence,
		OnLowConfidence: agent.LowConfidence(a.OnLowConfidence),
		FallbackText:    a.FallbackText,
		FixedText:       a.FixedText,
		ActionTimeout:   time.Duration(a.ActionTimeoutSeconds) * time.Second,
	}
}

func (c *Config) StoragePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Storage.Path)
}

func (c *Config) StorageDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Storage.Dir)
}

func (c *Config) CorpusPaths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.Corpus.Paths))
	for _, p := range c.Corpus.Paths {
		out = append(out, expandHome(p))
	}
	return out
}

func (c *Config) LogFile() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Log.File)
}

// DefaultPath is where the CLI looks for its config file.
func DefaultPath() string {
	return expandHome("~/.due/config.json")
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
