package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateServer(&cfg.Server, result)
	validateUpstreams(cfg, result)
	validatePresence(&cfg.Presence, result)
	validateScoring(&cfg.Scoring, result)

	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
	}

	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		result.AddError("redis.addr", "redis address is required when enabled")
	}

	if cfg.Security.RateLimitRPS < 1 {
		result.AddWarning("security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the server to abuse")
	}

	return result
}

func validateServer(s *ServerConfig, result *ValidationResult) {
	validatePort(s.Port, "server.port", result)

	if strings.TrimSpace(s.BotName) == "" {
		result.AddError("server.bot_name", "bot name is required")
	}
	if !strings.HasPrefix(s.DefaultChannel, "#") {
		result.AddError("server.default_channel", "default channel must start with '#'")
	}
	if s.ProtocolVersion < 1 {
		result.AddError("server.protocol_version", "protocol version must be positive")
	}
}

func validateUpstreams(cfg *Config, result *ValidationResult) {
	if strings.TrimSpace(cfg.Database.Path) == "" {
		result.AddError("database.path", "database path is required")
	}

	if _, err := url.ParseRequestURI(cfg.Mirror.URL); err != nil {
		result.AddError("mirror.url", fmt.Sprintf("invalid mirror URL: %v", err))
	}
	if cfg.Mirror.TimeoutSeconds < 1 {
		result.AddWarning("mirror.timeout_sec", "mirror timeout below 1s, lookups will likely fail")
	}

	if strings.TrimSpace(cfg.Oracle.URL) == "" {
		result.AddWarning("oracle.url", "no performance oracle configured, scores will get 0pp")
	} else if _, err := url.ParseRequestURI(cfg.Oracle.URL); err != nil {
		result.AddError("oracle.url", fmt.Sprintf("invalid oracle URL: %v", err))
	}
}

func validatePresence(p *PresenceConfig, result *ValidationResult) {
	if p.IdleTimeoutSeconds < 10 {
		result.AddWarning("presence.idle_timeout_sec", "idle timeout less than 10 seconds will drop polling clients")
	}
	if p.ReapIntervalSeconds < 1 {
		result.AddError("presence.reap_interval_sec", "reap interval must be at least 1 second")
	}
	switch p.DuplicateLogin {
	case DuplicateLoginReplace, DuplicateLoginReject:
	default:
		result.AddError("presence.duplicate_login",
			fmt.Sprintf("unknown policy %q (expected %q or %q)", p.DuplicateLogin, DuplicateLoginReplace, DuplicateLoginReject))
	}
}

func validateScoring(s *ScoringConfig, result *ValidationResult) {
	if s.WorkerQueueSize < 1 {
		result.AddError("scoring.worker_queue_size", "worker queue size must be at least 1")
	}
	if s.AccuracyTopN < 1 {
		result.AddError("scoring.accuracy_top_n", "accuracy window must be at least 1 score")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
