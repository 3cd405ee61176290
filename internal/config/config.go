package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the complete git-subdir configuration. Everything is
// optional: a missing config file means built-in defaults.
type Config struct {
	Defaults DefaultsConfig `yaml:"defaults"`
	Git      GitConfig      `yaml:"git"`
	Auth     AuthConfig     `yaml:"auth"`
}

// DefaultsConfig configures fallback values for verb arguments
type DefaultsConfig struct {
	// Ref is used when clone/pull/push are invoked without an explicit ref
	Ref string `yaml:"ref"`
}

// GitConfig configures how the git command is invoked
type GitConfig struct {
	// Binary overrides the git executable; empty means "git" from PATH
	Binary string `yaml:"binary"`
}

// AuthConfig configures Git authentication for private remotes
type AuthConfig struct {
	SSHKeyFile     string `yaml:"ssh_key_file"`
	HTTPSTokenFile string `yaml:"https_token_file"`
}

// DefaultPath returns the conventional config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".config", "git-subdir", "config.yaml"), nil
}

// Load reads and parses the configuration file. When the file does not
// exist the built-in defaults are returned, so running without a config
// file is the normal case rather than an error.
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := &Config{}
			cfg.applyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Defaults.Ref = os.ExpandEnv(c.Defaults.Ref)
	c.Git.Binary = os.ExpandEnv(c.Git.Binary)
	c.Auth.SSHKeyFile = os.ExpandEnv(c.Auth.SSHKeyFile)
	c.Auth.HTTPSTokenFile = os.ExpandEnv(c.Auth.HTTPSTokenFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Defaults.Ref == "" {
		c.Defaults.Ref = "master"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Only one auth method may be configured
	if c.Auth.SSHKeyFile != "" && c.Auth.HTTPSTokenFile != "" {
		return fmt.Errorf("auth: only one of ssh_key_file or https_token_file may be set")
	}

	if c.Git.Binary != "" {
		if _, err := os.Stat(c.Git.Binary); err != nil {
			return fmt.Errorf("git.binary %q is not usable: %w", c.Git.Binary, err)
		}
	}

	return nil
}

// AuthMethod returns a description of the configured auth method
func (c *Config) AuthMethod() string {
	if c.Auth.SSHKeyFile != "" {
		return "ssh"
	}
	if c.Auth.HTTPSTokenFile != "" {
		return "https"
	}
	return "none"
}
