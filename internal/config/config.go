// Package config handles configuration loading, validation, and persistence
// for the Yume bancho server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultPort       = 5001
)

// Duplicate login policies.
const (
	DuplicateLoginReplace = "replace"
	DuplicateLoginReject  = "reject"
)

// Config is the root configuration structure for Yume.
type Config struct {
	mu   sync.RWMutex
	path string

	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Mirror   MirrorConfig   `json:"mirror"`
	Oracle   OracleConfig   `json:"oracle"`
	Presence PresenceConfig `json:"presence"`
	Scoring  ScoringConfig  `json:"scoring"`
	Redis    RedisConfig    `json:"redis"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig holds the HTTP listener and bancho identity settings.
type ServerConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	ProtocolVersion int32  `json:"protocol_version"`
	BotName         string `json:"bot_name"`
	DefaultChannel  string `json:"default_channel"`
	DefaultTopic    string `json:"default_topic"`
	RestartDelayMs  int32  `json:"restart_delay_ms"`
}

// DatabaseConfig holds the sqlite store location.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// MirrorConfig holds the beatmap metadata mirror settings.
type MirrorConfig struct {
	URL            string `json:"url"`
	TimeoutSeconds int    `json:"timeout_sec"`
}

// OracleConfig holds the performance calculator settings.
type OracleConfig struct {
	URL              string `json:"url"`
	BeatmapDirectory string `json:"beatmap_directory"`
	OsuFileURL       string `json:"osu_file_url"`
	TimeoutSeconds   int    `json:"timeout_sec"`
}

// PresenceConfig holds session lifecycle settings.
type PresenceConfig struct {
	IdleTimeoutSeconds  int    `json:"idle_timeout_sec"`
	ReapIntervalSeconds int    `json:"reap_interval_sec"`
	DuplicateLogin      string `json:"duplicate_login"`
}

// ScoringConfig holds score ingestion settings.
type ScoringConfig struct {
	WorkerQueueSize int `json:"worker_queue_size"`
	AccuracyTopN    int `json:"accuracy_top_n"`
}

// RedisConfig holds the optional global rank index settings.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	LoginPerMinute int      `json:"login_per_minute"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            DefaultPort,
			ProtocolVersion: 19,
			BotName:         "Yume",
			DefaultChannel:  "#osu",
			DefaultTopic:    "Default osu! channel",
			RestartDelayMs:  5000,
		},
		Database: DatabaseConfig{
			Path: "data/yume.db",
		},
		Mirror: MirrorConfig{
			URL:            "https://api.chimu.moe/v1",
			TimeoutSeconds: 10,
		},
		Oracle: OracleConfig{
			URL:              "http://127.0.0.1:5002/calculate",
			BeatmapDirectory: "data/beatmaps",
			OsuFileURL:       "https://osu.ppy.sh/osu",
			TimeoutSeconds:   10,
		},
		Presence: PresenceConfig{
			IdleTimeoutSeconds:  120,
			ReapIntervalSeconds: 30,
			DuplicateLogin:      DuplicateLoginReplace,
		},
		Scoring: ScoringConfig{
			WorkerQueueSize: 256,
			AccuracyTopN:    500,
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "127.0.0.1:6379",
			PoolSize: 10,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			BrokerURL:   "127.0.0.1",
			Port:        1883,
			TopicPrefix: "yume",
		},
		Security: SecurityConfig{
			RateLimitRPS:   100,
			LoginPerMinute: 10,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so config.json always carries newly added fields.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetPresence returns a copy of the presence configuration.
func (c *Config) GetPresence() PresenceConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Presence
}

// GetServer returns a copy of the server configuration.
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// GetSecurity returns a copy of the security configuration.
func (c *Config) GetSecurity() SecurityConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Security
}

// GetLogging returns a copy of the logging configuration.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// IdleTimeout returns the presence idle window.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.GetPresence().IdleTimeoutSeconds) * time.Second
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
