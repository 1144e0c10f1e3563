// Package config loads driftwood configuration from YAML with environment
// overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Provider string         `yaml:"provider"` // anthropic, openai
	Model    string         `yaml:"model"`
	Agent    AgentConfig    `yaml:"agent"`
	Compact  CompactConfig  `yaml:"compaction"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Database DatabaseConfig `yaml:"database"`
	Secrets  SecretsConfig  `yaml:"secrets"`
}

// AgentConfig tunes the agent loop.
type AgentConfig struct {
	Persona        string  `yaml:"persona"`
	MaxToolRounds  int     `yaml:"max_tool_rounds"`
	MaxTokens      int     `yaml:"max_tokens"`
	ModelMaxTokens int     `yaml:"model_max_tokens"`
	ContextBudget  float64 `yaml:"context_budget"`
}

// CompactConfig tunes the conversation compactor.
type CompactConfig struct {
	ChunkSize        int    `yaml:"chunk_size"`
	KeepRecent       int    `yaml:"keep_recent"`
	MaxSummaryTokens int    `yaml:"max_summary_tokens"`
	ClipFirst        int    `yaml:"clip_first"`
	ClipLast         int    `yaml:"clip_last"`
	Prompt           string `yaml:"prompt"`
}

// SandboxConfig tunes the code executor and its permission grid.
type SandboxConfig struct {
	WorkingDir          string        `yaml:"working_dir"`
	AllowedHosts        []string      `yaml:"allowed_hosts"`
	AllowedReadPaths    []string      `yaml:"allowed_read_paths"`
	AllowedRun          []string      `yaml:"allowed_run"`
	MaxCodeSize         int           `yaml:"max_code_size"`
	MaxOutputSize       int           `yaml:"max_output_size"`
	MaxToolCallsPerExec int           `yaml:"max_tool_calls_per_exec"`
	CodeTimeout         time.Duration `yaml:"code_timeout"`
}

// DatabaseConfig points at the SQLite files backing sessions and memory.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SecretsConfig holds API keys. Environment variables take precedence; the
// YAML values are a fallback for local development.
type SecretsConfig struct {
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider: "anthropic",
		Model:    "claude-sonnet-4-20250514",
		Agent: AgentConfig{
			MaxToolRounds:  20,
			MaxTokens:      4096,
			ModelMaxTokens: 200000,
			ContextBudget:  0.8,
		},
		Compact: CompactConfig{
			ChunkSize:        20,
			KeepRecent:       5,
			MaxSummaryTokens: 1024,
			ClipFirst:        2,
			ClipLast:         2,
		},
		Sandbox: SandboxConfig{
			WorkingDir:          ".",
			MaxCodeSize:         51200,
			MaxOutputSize:       1 << 20,
			MaxToolCallsPerExec: 25,
			CodeTimeout:         60 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "driftwood.db",
		},
	}
}

// Load reads the config file at path, layered over defaults. A missing file
// is not an error; environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Secrets.AnthropicAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Secrets.OpenAIAPIKey = v
	}
	if v := os.Getenv("DRIFTWOOD_DB"); v != "" {
		c.Database.Path = v
	}
}
