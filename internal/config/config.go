// Package config loads the layered YAML configuration (spec.md §6.1): a
// user-level file at ~/.agentichat/config.yaml, overridden key-by-key by a
// project-level file at ./.agentichat/config.yaml. Either file may be
// absent; Load returns sane defaults when both are.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// BackendConfig describes one entry under the top-level backends map.
type BackendConfig struct {
	Type             string `yaml:"type"`
	URL              string `yaml:"url"`
	Model            string `yaml:"model"`
	APIKey           string `yaml:"api_key"`
	Timeout          int    `yaml:"timeout"`
	MaxTokens        int    `yaml:"max_tokens"`
	ContextMaxTokens int    `yaml:"context_max_tokens"`
	MaxParallelTools int    `yaml:"max_parallel_tools"`
}

// SandboxConfig mirrors internal/sandbox.Sandbox's construction parameters.
type SandboxConfig struct {
	MaxFileSize  int64    `yaml:"max_file_size"`
	BlockedPaths []string `yaml:"blocked_paths"`
}

// ConfirmationsConfig toggles the Confirmation Manager's per-category gating.
type ConfirmationsConfig struct {
	TextOperations bool `yaml:"text_operations"`
	ShellCommands  bool `yaml:"shell_commands"`
}

// CompressionConfig mirrors internal/memory.Manager's fields (spec §4.7).
type CompressionConfig struct {
	AutoEnabled      bool    `yaml:"auto_enabled"`
	AutoThreshold    int     `yaml:"auto_threshold"`
	AutoKeep         int     `yaml:"auto_keep"`
	WarningThreshold float64 `yaml:"warning_threshold"`
	MaxMessages      int     `yaml:"max_messages"`
}

// Config is the fully-resolved, two-layer-merged configuration.
type Config struct {
	DefaultBackend string                   `yaml:"default_backend"`
	Backends       map[string]BackendConfig `yaml:"backends"`
	Sandbox        SandboxConfig            `yaml:"sandbox"`
	Confirmations  ConfirmationsConfig      `yaml:"confirmations"`
	Compression    CompressionConfig        `yaml:"compression"`
	MaxIterations  int                      `yaml:"max_iterations"`
}

// Defaults returns the configuration used when neither layer defines a key.
func Defaults() *Config {
	return &Config{
		Sandbox: SandboxConfig{
			MaxFileSize:  10 << 20,
			BlockedPaths: []string{".git", ".env", "*.pem", "*.key", "id_rsa*"},
		},
		Confirmations: ConfirmationsConfig{TextOperations: true, ShellCommands: true},
		Compression: CompressionConfig{
			WarningThreshold: 0.75,
			MaxMessages:      40,
			AutoKeep:         5,
		},
		MaxIterations: 40,
	}
}

// Backend resolves the active backend entry (the one named by
// DefaultBackend, or the name passed in), returning (zero, false) if it
// isn't present.
func (c *Config) Backend(name string) (BackendConfig, bool) {
	if name == "" {
		name = c.DefaultBackend
	}
	b, ok := c.Backends[name]
	return b, ok
}

// Load reads the user-level config, then the project-level config, merging
// the project layer over the user layer key-by-key (a present zero value in
// the project layer does not erase a user-layer value — only explicitly set
// scalar/map keys override). Missing files are not an error; Load falls
// back to Defaults for whatever neither layer set.
func Load() (*Config, error) {
	cfg := Defaults()

	userPath, err := userConfigPath()
	if err == nil {
		if err := mergeFile(cfg, userPath); err != nil {
			return nil, fmt.Errorf("load user config %s: %w", userPath, err)
		}
	}

	if err := mergeFile(cfg, projectConfigPath()); err != nil {
		return nil, fmt.Errorf("load project config: %w", err)
	}

	return cfg, nil
}

func userConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".agentichat", "config.yaml"), nil
}

func projectConfigPath() string {
	return filepath.Join(".agentichat", "config.yaml")
}

// mergeFile unmarshals path over cfg in place. A missing file is silently
// skipped; every other read/parse error is returned.
func mergeFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var layer Config
	if err := yaml.Unmarshal(raw, &layer); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if layer.DefaultBackend != "" {
		cfg.DefaultBackend = layer.DefaultBackend
	}
	if len(layer.Backends) > 0 {
		if cfg.Backends == nil {
			cfg.Backends = make(map[string]BackendConfig)
		}
		for name, b := range layer.Backends {
			cfg.Backends[name] = b
		}
	}
	if layer.Sandbox.MaxFileSize > 0 {
		cfg.Sandbox.MaxFileSize = layer.Sandbox.MaxFileSize
	}
	if len(layer.Sandbox.BlockedPaths) > 0 {
		cfg.Sandbox.BlockedPaths = layer.Sandbox.BlockedPaths
	}
	cfg.Confirmations = layer.mergedConfirmations(cfg.Confirmations)
	if layer.Compression.AutoThreshold > 0 {
		cfg.Compression.AutoThreshold = layer.Compression.AutoThreshold
	}
	if layer.Compression.AutoKeep > 0 {
		cfg.Compression.AutoKeep = layer.Compression.AutoKeep
	}
	if layer.Compression.WarningThreshold > 0 {
		cfg.Compression.WarningThreshold = layer.Compression.WarningThreshold
	}
	if layer.Compression.MaxMessages > 0 {
		cfg.Compression.MaxMessages = layer.Compression.MaxMessages
	}
	cfg.Compression.AutoEnabled = layer.Compression.AutoEnabled || cfg.Compression.AutoEnabled
	if layer.MaxIterations > 0 {
		cfg.MaxIterations = layer.MaxIterations
	}
	return nil
}

// mergedConfirmations can't tell "false" apart from "unset" in a plain YAML
// bool, so a layer only overrides ConfirmationsConfig when it set at least
// one of the two keys to true; an empty/all-false layer block is treated as
// "not present" rather than "turn off confirmation".
func (layer Config) mergedConfirmations(base ConfirmationsConfig) ConfirmationsConfig {
	if !layer.Confirmations.TextOperations && !layer.Confirmations.ShellCommands {
		return base
	}
	return layer.Confirmations
}
