package config

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ---- Client pipeline configuration ----

// Server QoS policies.
const (
	ServerQoSAutomaticRetry = "automatic-retry"
	ServerQoSPropagate      = "propagate-qos-to-caller"
)

// Client QoS policies.
const (
	ClientQoSEnabled          = "enabled"
	ClientQoSDangerousDisable = "dangerous-disable-sympathetic-client-qos"
)

// Timeout retry policies.
const (
	RetryOnTimeoutDisabled = "disabled"
	RetryOnTimeoutDanger   = "danger-retry-on-timeout"
)

type Client struct {
	ChannelName string   `yaml:"channel_name"`
	ClientName  string   `yaml:"client_name"`
	URIs        []string `yaml:"uris"`

	MaxQueueSize int `yaml:"max_queue_size"`
	// 0 means default (4); a negative value disables retries.
	MaxNumRetries     int `yaml:"max_num_retries"`
	BackoffSlotSizeMS int `yaml:"backoff_slot_size_ms"`

	ServerQoS      string `yaml:"server_qos"`
	ClientQoS      string `yaml:"client_qos"`
	RetryOnTimeout string `yaml:"retry_on_timeout"`

	// "pin-until-error" | "round-robin" | "balanced"
	NodeSelectionStrategy string `yaml:"node_selection_strategy"`
}

// ---- Simulator configuration ----

type Sim struct {
	Addr        string `yaml:"addr"`  // observability endpoint (/metrics, /health)
	Hosts       int    `yaml:"hosts"` // demo upstream hosts to start
	Workers     int    `yaml:"workers"`
	Requests    int    `yaml:"requests"` // total synthetic requests; 0 = run until signalled
	QoSPercent  int    `yaml:"qos_percent"`
	ErrPercent  int    `yaml:"err_percent"`
	SlowPercent int    `yaml:"slow_percent"`
}

// ---------------------------

type Config struct {
	Client Client `yaml:"client"`
	Sim    Sim    `yaml:"sim"`
}

// Load reads the config file, with STORMLINE_CONFIG filling in an empty
// path, and fills unset fields with defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("STORMLINE_CONFIG")
	}
	if path == "" {
		path = "configs/stormline.yaml"
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "yaml",
	}); err != nil {
		return nil, err
	}
	cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a runnable configuration for local use with no file.
func Default() *Config {
	cfg := &Config{}
	cfg.withDefaults()
	return cfg
}

func (c *Config) withDefaults() {
	if c.Client.ChannelName == "" {
		c.Client.ChannelName = "stormline-client"
	}
	if c.Client.ClientName == "" {
		c.Client.ClientName = c.Client.ChannelName
	}
	if c.Client.MaxQueueSize <= 0 {
		c.Client.MaxQueueSize = 100_000
	}
	if c.Client.MaxNumRetries == 0 {
		c.Client.MaxNumRetries = 4
	} else if c.Client.MaxNumRetries < 0 {
		c.Client.MaxNumRetries = 0
	}
	if c.Client.BackoffSlotSizeMS <= 0 {
		c.Client.BackoffSlotSizeMS = 250
	}
	if c.Client.ServerQoS == "" {
		c.Client.ServerQoS = ServerQoSAutomaticRetry
	}
	if c.Client.ClientQoS == "" {
		c.Client.ClientQoS = ClientQoSEnabled
	}
	if c.Client.RetryOnTimeout == "" {
		c.Client.RetryOnTimeout = RetryOnTimeoutDisabled
	}
	if c.Client.NodeSelectionStrategy == "" {
		c.Client.NodeSelectionStrategy = "balanced"
	}

	if c.Sim.Addr == "" {
		c.Sim.Addr = ":8080"
	}
	if c.Sim.Hosts <= 0 {
		c.Sim.Hosts = 3
	}
	if c.Sim.Workers <= 0 {
		c.Sim.Workers = 8
	}
}

func (c *Config) validate() error {
	switch c.Client.ServerQoS {
	case ServerQoSAutomaticRetry, ServerQoSPropagate:
	default:
		return fmt.Errorf("unknown server_qos %q", c.Client.ServerQoS)
	}
	switch c.Client.ClientQoS {
	case ClientQoSEnabled, ClientQoSDangerousDisable:
	default:
		return fmt.Errorf("unknown client_qos %q", c.Client.ClientQoS)
	}
	switch c.Client.RetryOnTimeout {
	case RetryOnTimeoutDisabled, RetryOnTimeoutDanger:
	default:
		return fmt.Errorf("unknown retry_on_timeout %q", c.Client.RetryOnTimeout)
	}
	return nil
}

// MustEnv returns the environment value for key, or def when unset.
func MustEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
