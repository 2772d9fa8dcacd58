package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/tri2820/backend/indexer/internal/logging"
	"github.com/tri2820/backend/indexer/internal/model"
)

// Duration accepts "5s" style strings in both YAML and TOML
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// Config holds the worker configuration
type Config struct {
	Worker struct {
		ID string `yaml:"id" toml:"id"` // Worker identifier for logs and the journal (default: random UUID)
	} `yaml:"worker" toml:"worker"`

	Server struct {
		URL string `yaml:"url" toml:"url"` // Dispatcher WebSocket URL (e.g., ws://localhost:8040)
	} `yaml:"server" toml:"server"`

	// Capabilities advertised in the handshake; environment values override these
	WorkerConfig model.WorkerConfig `yaml:"worker_config" toml:"worker_config"`

	// Send the i_am_worker handshake after connecting (default: true)
	Handshake *bool `yaml:"handshake" toml:"handshake"`

	Backoff struct {
		Initial    Duration `yaml:"initial" toml:"initial"`         // First reconnect delay (default: 1s)
		Max        Duration `yaml:"max" toml:"max"`                 // Cap before jitter (default: 60s)
		Jitter     Duration `yaml:"jitter" toml:"jitter"`           // Uniform jitter added after capping (default: 1s)
		RetryDelay Duration `yaml:"retry_delay" toml:"retry_delay"` // Fixed delay after non-transport failures (default: 5s)
	} `yaml:"backoff" toml:"backoff"`

	Transport struct {
		MaxMessageBytes int64    `yaml:"max_message_bytes" toml:"max_message_bytes"` // Inbound frame limit (default: 64 MiB)
		PingPeriod      Duration `yaml:"ping_period" toml:"ping_period"`             // Keepalive ping interval (default: 54s)
	} `yaml:"transport" toml:"transport"`

	Pool struct {
		Size int `yaml:"size" toml:"size"` // Workload goroutines (default: 1)
	} `yaml:"pool" toml:"pool"`

	Workload struct {
		Name       string   `yaml:"name" toml:"name"`               // echo or command (default: echo)
		Command    string   `yaml:"command" toml:"command"`         // Program for the command workload
		Args       []string `yaml:"args" toml:"args"`               // Arguments for the command workload
		ResultType string   `yaml:"result_type" toml:"result_type"` // Result "type" override
	} `yaml:"workload" toml:"workload"`

	Database struct {
		Path string `yaml:"path" toml:"path"` // SQLite task journal path (empty disables the journal)
	} `yaml:"database" toml:"database"`

	Dashboard struct {
		Enabled bool   `yaml:"enabled" toml:"enabled"` // Whether to enable the dashboard (default: false)
		Address string `yaml:"address" toml:"address"` // Dashboard server address (default: :8090)
	} `yaml:"dashboard" toml:"dashboard"`

	Log logging.Config `yaml:"log" toml:"log"`
}

// HandshakeEnabled reports whether the registration frame should be sent
func (c *Config) HandshakeEnabled() bool {
	return c.Handshake == nil || *c.Handshake
}

// Load reads the configuration from a YAML or TOML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes configuration data; ext selects the format (".toml" or YAML)
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Worker.ID == "" {
		c.Worker.ID = uuid.NewString()
	}
	if c.Backoff.Initial.Duration == 0 {
		c.Backoff.Initial.Duration = time.Second
	}
	if c.Backoff.Max.Duration == 0 {
		c.Backoff.Max.Duration = 60 * time.Second
	}
	if c.Backoff.Jitter.Duration == 0 {
		c.Backoff.Jitter.Duration = time.Second
	}
	if c.Backoff.RetryDelay.Duration == 0 {
		c.Backoff.RetryDelay.Duration = 5 * time.Second
	}
	if c.Transport.MaxMessageBytes == 0 {
		c.Transport.MaxMessageBytes = 64 << 20
	}
	if c.Transport.PingPeriod.Duration == 0 {
		c.Transport.PingPeriod.Duration = 54 * time.Second
	}
	if c.Pool.Size == 0 {
		c.Pool.Size = 1
	}
	if c.Workload.Name == "" {
		c.Workload.Name = "echo"
	}
	if c.Dashboard.Enabled && c.Dashboard.Address == "" {
		c.Dashboard.Address = ":8090"
	}
}

func (c *Config) validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server.url must use ws:// or wss://, got %q", c.Server.URL)
	}
	if c.Backoff.Max.Duration < c.Backoff.Initial.Duration {
		return fmt.Errorf("backoff.max must not be below backoff.initial")
	}
	if c.Pool.Size < 0 {
		return fmt.Errorf("pool.size must be positive")
	}
	if c.Workload.Name == "command" && c.Workload.Command == "" {
		return fmt.Errorf("workload.command is required for the command workload")
	}
	return nil
}
