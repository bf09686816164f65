package config

import (
	"fmt"
	"strings"

	"simgym/codec"
	"simgym/loadbalance"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a
// *ValidationError listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateConnect(cfg, ve)
	validateTransport(cfg, ve)
	validateSession(cfg, ve)
	validateEnv(cfg, ve)
	validateLogger(cfg, ve)
	validateDiscovery(cfg, ve)
	validateSimulator(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	if cfg.Server.Address == "" {
		ve.Add("server.address is required")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		ve.Add("server.port %d out of range", cfg.Server.Port)
	}
}

func validateConnect(cfg *Config, ve *ValidationError) {
	if cfg.Connect.MaxAttempts < 1 {
		ve.Add("connect.max_attempts must be at least 1")
	}
	if cfg.Connect.Timeout <= 0 {
		ve.Add("connect.timeout must be positive")
	}
	if cfg.Connect.Backoff < 0 {
		ve.Add("connect.backoff must not be negative")
	}
}

func validateTransport(cfg *Config, ve *ValidationError) {
	if _, err := codec.ParseCodecType(cfg.Transport.Codec); err != nil {
		ve.Add("transport.codec: %v", err)
	}
	if cfg.Transport.ReplyTimeout < 0 || cfg.Transport.Heartbeat < 0 {
		ve.Add("transport timeouts must not be negative")
	}
}

func validateSession(cfg *Config, ve *ValidationError) {
	if cfg.Session.StopTimeout < 0 {
		ve.Add("session.stop_timeout must not be negative (0 waits forever)")
	}
	if cfg.Session.PollInterval < 0 {
		ve.Add("session.poll_interval must not be negative")
	}
}

func validateEnv(cfg *Config, ve *ValidationError) {
	if cfg.Env.Task == "" {
		ve.Add("env.task is required")
	}
	if cfg.Env.MaxEpisodeSteps < 0 {
		ve.Add("env.max_episode_steps must not be negative")
	}
	if cfg.Env.Episodes < 0 {
		ve.Add("env.episodes must not be negative")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "json", "console":
	default:
		ve.Add("logger.format %q is not one of json, console", cfg.Logger.Format)
	}
}

func validateDiscovery(cfg *Config, ve *ValidationError) {
	d := cfg.Discovery
	if len(d.Endpoints) == 0 {
		return
	}
	if d.Service == "" {
		ve.Add("discovery.service is required when endpoints are set")
	}
	if _, err := loadbalance.New(d.Balancer, 0); err != nil {
		ve.Add("discovery.balancer: %v", err)
	}
	if d.TTL <= 0 {
		ve.Add("discovery.ttl must be positive")
	}
}

func validateSimulator(cfg *Config, ve *ValidationError) {
	s := cfg.Simulator
	if s.Listen == "" {
		ve.Add("simulator.listen is required")
	}
	if s.StopLatency < 0 {
		ve.Add("simulator.stop_latency must not be negative")
	}
	if s.RateLimit < 0 {
		ve.Add("simulator.rate_limit must not be negative")
	}
	if s.RequestTimeout < 0 || s.SceneTimeout < 0 {
		ve.Add("simulator timeouts must not be negative")
	}
	if s.RateLimit > 0 && s.Burst < 1 {
		ve.Add("simulator.burst must be at least 1 when rate_limit is set")
	}
}
