// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Engram Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the service configuration from
// YAML with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the root service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Storage  StorageConfig  `yaml:"storage"`
	Embedder EmbedderConfig `yaml:"embedder"`
	AutoSave AutoSaveConfig `yaml:"autosave"`
	Synapse  SynapseConfig  `yaml:"synapse"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("server port must be 1-65535, got %d", c.Port)
	}
	return nil
}

// AuthConfig selects between multi-tenant cloud auth and single-user
// local auth.
type AuthConfig struct {
	CloudMode   bool   `yaml:"cloud_mode"`
	JWTSecret   string `yaml:"jwt_secret"`
	APIKey      string `yaml:"api_key"`
	AdminDBPath string `yaml:"admin_db_path"`
}

func (c *AuthConfig) Validate() error {
	if c.CloudMode && c.AdminDBPath == "" {
		return fmt.Errorf("auth: admin_db_path is required in cloud mode")
	}
	return nil
}

// StorageConfig locates per-tenant databases.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

func (c *StorageConfig) SetDefaults() {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.DataDir = filepath.Join(home, ".engram")
	}
}

func (c *StorageConfig) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("storage: data_dir is required")
	}
	return nil
}

// EmbedderConfig configures the optional embedding provider.
type EmbedderConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "ollama"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:11434"
	}
	if c.Model == "" {
		c.Model = "all-minilm"
	}
	if c.Dimension == 0 {
		c.Dimension = 384
	}
}

func (c *EmbedderConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Provider != "ollama" {
		return fmt.Errorf("embedder: unsupported provider %q (supported: ollama)", c.Provider)
	}
	if c.Dimension < 1 {
		return fmt.Errorf("embedder: dimension must be positive, got %d", c.Dimension)
	}
	return nil
}

// AutoSaveConfig sets the initial checkpointing policy; tenants can
// reconfigure at runtime.
type AutoSaveConfig struct {
	Enabled          bool    `yaml:"enabled"`
	IntervalSeconds  int     `yaml:"interval_seconds"`
	MessageThreshold int     `yaml:"message_threshold"`
	RAMThresholdPct  float64 `yaml:"ram_threshold_pct"`
	SaveOnSessionEnd bool    `yaml:"save_on_session_end"`
}

func (c *AutoSaveConfig) SetDefaults() {
	if c.IntervalSeconds == 0 {
		c.IntervalSeconds = 1800
	}
	if c.MessageThreshold == 0 {
		c.MessageThreshold = 500
	}
	if c.RAMThresholdPct == 0 {
		c.RAMThresholdPct = 85.0
	}
}

func (c *AutoSaveConfig) Validate() error {
	if c.IntervalSeconds < 0 {
		return fmt.Errorf("autosave: interval_seconds must not be negative")
	}
	if c.RAMThresholdPct < 0 || c.RAMThresholdPct > 100 {
		return fmt.Errorf("autosave: ram_threshold_pct must be 0-100, got %v", c.RAMThresholdPct)
	}
	return nil
}

// SynapseConfig configures the pub/sub proxy target.
type SynapseConfig struct {
	Enabled        bool   `yaml:"enabled"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (c *SynapseConfig) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:9000"
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 10
	}
}

func (c *SynapseConfig) Validate() error {
	if c.Enabled && c.TimeoutSeconds < 1 {
		return fmt.Errorf("synapse: timeout_seconds must be positive")
	}
	return nil
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

func (c *LoggingConfig) Validate() error {
	switch c.Format {
	case "simple", "verbose":
		return nil
	default:
		return fmt.Errorf("logging: format must be simple or verbose, got %q", c.Format)
	}
}

// SetDefaults fills every unset field with its default.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Storage.SetDefaults()
	c.Embedder.SetDefaults()
	c.AutoSave.SetDefaults()
	c.Synapse.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks every section. The admin database path is resolved
// here rather than in SetDefaults so it follows the data dir a caller
// sets after constructing the config.
func (c *Config) Validate() error {
	if c.Auth.AdminDBPath == "" && c.Storage.DataDir != "" {
		c.Auth.AdminDBPath = filepath.Join(c.Storage.DataDir, "admin.db")
	}
	for _, v := range []interface{ Validate() error }{
		&c.Server, &c.Auth, &c.Storage, &c.Embedder, &c.AutoSave, &c.Synapse, &c.Logging,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// Load reads a YAML config file, expands ${ENV} references and
// applies defaults. .env files are loaded first so expansion sees
// their variables.
func Load(path string) (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
