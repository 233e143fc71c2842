// Package config loads accumd and client settings from TOML or YAML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration file.
type Config struct {
	Node          Node          `toml:"node" yaml:"node"`
	Client        Client        `toml:"client" yaml:"client"`
	Logging       Logging       `toml:"logging" yaml:"logging"`
	Observability Observability `toml:"observability" yaml:"observability"`
}

// Default returns the configuration written when no file exists.
func Default() *Config {
	return &Config{
		Node: Node{
			ListenAddress: "127.0.0.1:8545",
			DataDir:       "./accumd-data",
			NetworkName:   "accumreg-dev",
			AuthTokenEnv:  "ACCUMD_AUTH_TOKEN",
			RateLimit:     RateLimit{RequestsPerMinute: 600, Burst: 60},
			Quota:         Quota{EpochSeconds: 60},
			Controllers:   []Controller{},
		},
		Client: Client{
			Endpoint:       "http://127.0.0.1:8545",
			TimeoutSeconds: 10,
			AuthTokenEnv:   "ACCUMD_AUTH_TOKEN",
		},
		Logging: Logging{
			Service: "accumd",
			Level:   "info",
			Format:  "json",
		},
	}
}

// Load loads the configuration from the given path. A missing file is created
// with the default configuration.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if isYAML(path) {
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else {
		meta, err := toml.Decode(string(raw), cfg)
		if err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config: %s: unknown key %s", path, undecoded[0].String())
		}
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.Node.NetworkName) == "" {
		c.Node.NetworkName = "accumreg-dev"
	}
	if c.Node.Controllers == nil {
		c.Node.Controllers = []Controller{}
	}
	if strings.TrimSpace(c.Logging.Service) == "" {
		c.Logging.Service = "accumd"
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

// Secret resolves a value from the named environment variable. An empty name
// resolves to the empty string.
func Secret(envName string) string {
	if strings.TrimSpace(envName) == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(envName))
}
