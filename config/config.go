// Package config loads the YAML configuration shared by the simgym
// commands, applies SIMGYM_* environment overrides and validates it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"simgym/codec"
	"simgym/env"
	"simgym/retry"
	"simgym/session"
	"simgym/transport"
)

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Connect   ConnectConfig   `yaml:"connect"`
	Transport TransportConfig `yaml:"transport"`
	Session   SessionConfig   `yaml:"session"`
	Env       EnvConfig       `yaml:"env"`
	Logger    LoggerConfig    `yaml:"logger"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Simulator SimulatorConfig `yaml:"simulator"`
}

// ServerConfig is the simulator a client connects to when discovery is off.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// ConnectConfig bounds connection attempts.
type ConnectConfig struct {
	Timeout     time.Duration `yaml:"timeout"`      // per attempt
	MaxAttempts int           `yaml:"max_attempts"` // 64
	Backoff     time.Duration `yaml:"backoff"`      // 1s between attempts
}

// TransportConfig tunes the client connection.
type TransportConfig struct {
	Codec        string        `yaml:"codec"` // "json" or "binary"
	ReplyTimeout time.Duration `yaml:"reply_timeout"`
	Heartbeat    time.Duration `yaml:"heartbeat"` // 0 disables
}

// SessionConfig tunes the lifecycle manager.
type SessionConfig struct {
	StopTimeout    time.Duration `yaml:"stop_timeout"` // 0 waits forever
	PollInterval   time.Duration `yaml:"poll_interval"`
	AssumeHeadless bool          `yaml:"assume_headless"`
}

// EnvConfig selects and tunes the environment.
type EnvConfig struct {
	Task            string `yaml:"task"`
	Scene           string `yaml:"scene"` // loaded on connect when set
	ClipActions     bool   `yaml:"clip_actions"`
	Seed            uint64 `yaml:"seed"`
	MaxEpisodeSteps int    `yaml:"max_episode_steps"`
	Episodes        int    `yaml:"episodes"` // run by "simgym run"
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// DiscoveryConfig holds service discovery settings. Discovery is used when
// Endpoints is not empty.
type DiscoveryConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Service     string        `yaml:"service"`
	Balancer    string        `yaml:"balancer"` // round_robin, weighted_random, consistent_hash
	TTL         int64         `yaml:"ttl"`      // lease seconds
	Weight      int           `yaml:"weight"`   // advertised by "simgym serve"
}

// SimulatorConfig configures the reference server run by "simgym serve".
type SimulatorConfig struct {
	Listen         string        `yaml:"listen"`
	Advertise      string        `yaml:"advertise"` // registered address, defaults to Listen
	Scene          string        `yaml:"scene"`     // loaded at startup
	SceneDir       string        `yaml:"scene_dir"`
	StopLatency    int           `yaml:"stop_latency"`
	Headless       bool          `yaml:"headless"`
	RealTime       bool          `yaml:"real_time"`
	RateLimit      float64       `yaml:"rate_limit"` // requests per second, 0 = unlimited
	Burst          int           `yaml:"burst"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// SceneTimeout replaces RequestTimeout for scene loads; 0 disables it.
	SceneTimeout   time.Duration `yaml:"scene_timeout"`
}

// Defaults returns a Config with every default applied.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Address: "127.0.0.1",
			Port:    19997,
		},
		Connect: ConnectConfig{
			Timeout:     time.Second,
			MaxAttempts: 64,
			Backoff:     time.Second,
		},
		Transport: TransportConfig{
			Codec:        "json",
			ReplyTimeout: 5 * time.Second,
			Heartbeat:    30 * time.Second,
		},
		Session: SessionConfig{
			StopTimeout:  30 * time.Second,
			PollInterval: 10 * time.Millisecond,
		},
		Env: EnvConfig{
			Task:            "cartpole",
			MaxEpisodeSteps: 500,
			Episodes:        4,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Discovery: DiscoveryConfig{
			DialTimeout: 5 * time.Second,
			Service:     "simgym",
			Balancer:    "round_robin",
			TTL:         10,
			Weight:      1,
		},
		Simulator: SimulatorConfig{
			Listen:         ":19997",
			StopLatency:    2,
			Headless:       true,
			Burst:          1,
			RequestTimeout: 5 * time.Second,
			SceneTimeout:   30 * time.Second,
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps SIMGYM_* environment variables to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SIMGYM_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("SIMGYM_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("SIMGYM_SCENE"); v != "" {
		cfg.Env.Scene = v
	}
	if v := os.Getenv("SIMGYM_TASK"); v != "" {
		cfg.Env.Task = v
	}
	if v := os.Getenv("SIMGYM_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SIMGYM_ETCD_ENDPOINTS"); v != "" {
		cfg.Discovery.Endpoints = splitAndTrim(v, ",")
	}
}

func splitAndTrim(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// TransportOptions converts the transport section. Validate has already
// rejected unknown codecs.
func (c *Config) TransportOptions() transport.Options {
	ct, _ := codec.ParseCodecType(c.Transport.Codec)
	return transport.Options{
		Codec:             ct,
		ReplyTimeout:      c.Transport.ReplyTimeout,
		HeartbeatInterval: c.Transport.Heartbeat,
	}
}

// SessionConfig converts the connect and session sections.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		ConnectTimeout: c.Connect.Timeout,
		Retry: retry.Policy{
			MaxAttempts: c.Connect.MaxAttempts,
			Backoff:     retry.Constant(c.Connect.Backoff),
		},
		StopTimeout:    c.Session.StopTimeout,
		PollInterval:   c.Session.PollInterval,
		AssumeHeadless: c.Session.AssumeHeadless,
	}
}

// EnvConfig converts the env section for a server at address:port.
func (c *Config) EnvConfig(address string, port int) env.Config {
	return env.Config{
		Address:         address,
		Port:            port,
		Scene:           c.Env.Scene,
		ClipActions:     c.Env.ClipActions,
		Seed:            c.Env.Seed,
		MaxEpisodeSteps: c.Env.MaxEpisodeSteps,
	}
}

// String renders the configuration as YAML.
func (c *Config) String() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return err.Error()
	}
	return string(out)
}
