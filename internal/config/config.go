package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables honored when locating the connection config. These
// match what the platform's CI exports when it configures plugins.
const (
	EnvConfigPath = "QIITA_CONFIG_FP"
	EnvServerCert = "QIITA_SERVER_CERT"
)

// DefaultFileName is the per-user config file created by `qtp-biom configure`.
const DefaultFileName = ".qtp_biom.json"

// Config holds the connection settings the plugin needs to talk to the
// data-management platform. The same JSON schema is written by
// `qtp-biom configure` and read back on every job invocation, so partial
// files are not supported: every credential field must be present.
type Config struct {
	// ServerURL is the base URL of the platform, e.g. "https://localhost:21174".
	ServerURL string `json:"server_url"`

	// ClientID and ClientSecret are the oauth credentials the platform issued
	// for this plugin.
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`

	// ServerCert is the path to the platform's certificate for deployments
	// that run with a self-signed cert. Empty means the system trust store.
	ServerCert string `json:"server_cert,omitempty"`
}

// DefaultPath returns the config file location: EnvConfigPath when set,
// otherwise DefaultFileName in the user's home directory.
func DefaultPath() (string, error) {
	if fp := os.Getenv(EnvConfigPath); fp != "" {
		return fp, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	return filepath.Join(home, DefaultFileName), nil
}

// Load reads and validates a Config from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size before it is parsed.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", cleanPath, err)
	}

	// The CI exports the cert path separately from the config file; the
	// environment wins when both are present.
	if cert := os.Getenv(EnvServerCert); cert != "" {
		cfg.ServerCert = cert
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that every required connection field is populated.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("config missing server_url")
	}
	if c.ClientID == "" {
		return fmt.Errorf("config missing client_id")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("config missing client_secret")
	}
	return nil
}

// Write serialises the config to path with owner-only permissions, since the
// file carries the plugin's oauth secret.
func (c *Config) Write(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
