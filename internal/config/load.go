package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns the
// defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve applies the override chain (defaults -> file -> env -> CLI) and
// returns the validated config together with the config file path used.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, string, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	applyOverride(&cfg.Store.Path, env.StorePath, cli.StorePath)
	applyOverride(&cfg.Remote.BaseURL, env.RemoteURL, cli.RemoteURL)
	applyOverride(&cfg.Remote.Token, env.RemoteToken, "")
	applyOverride(&cfg.Logging.Level, env.LogLevel, cli.LogLevel)

	cfg.Store.Path = expandTilde(cfg.Store.Path)
	cfg.Network.StatusFile = expandTilde(cfg.Network.StatusFile)
	cfg.Remote.TokenCache = expandTilde(cfg.Remote.TokenCache)
	cfg.Logging.File = expandTilde(cfg.Logging.File)

	if err := Validate(cfg); err != nil {
		return nil, cfgPath, fmt.Errorf("config validation: %w", err)
	}

	return cfg, cfgPath, nil
}

// applyOverride sets *dst from env, then from cli; empty values are skipped.
func applyOverride(dst *string, env, cli string) {
	if env != "" {
		*dst = env
	}

	if cli != "" {
		*dst = cli
	}
}
