// Package config loads the boundary's runtime configuration from
// PINCER_*-prefixed environment variables, with an optional YAML
// override file. Every field of Config has a baked-in default and can be
// overridden; the session, lockout, pairing and rate-limit constants of
// the other packages are compiled in and are not configurable here.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/dhannusch/pincer/internal/runtimekey"
)

// Config is the boundary's fully-resolved runtime configuration.
type Config struct {
	// ListenAddr is the HTTP server's bind address. Default ":8080".
	ListenAddr string `yaml:"listenAddr"`

	// StorePath is the on-disk Badger directory. Default "./data/pincer".
	StorePath string `yaml:"storePath"`

	// InMemoryStore runs Badger with no disk persistence. Tests only.
	InMemoryStore bool `yaml:"inMemoryStore"`

	// BootstrapToken gates the one-time admin bootstrap call. Required.
	BootstrapToken string `yaml:"-"`

	// KEK derives the vault's AES-256-GCM key via sha256.Sum256. Required.
	KEK []byte `yaml:"-"`

	// HMACSecretBinding and KeySecretBinding are loaded but not read by
	// any component: a runtime key record without its own bindings falls
	// back to runtimekey's DefaultHMACSecretBinding/DefaultKeySecretBinding,
	// and runtime-key rotation writes those default names.
	HMACSecretBinding string `yaml:"hmacSecretBinding"`
	KeySecretBinding  string `yaml:"keySecretBinding"`

	// SkewSeconds is loaded but not read by any component: the verifier
	// uses the runtime key record's skew, or runtimekey's default.
	SkewSeconds int `yaml:"skewSeconds"`

	// ServiceName, Version, and ConfigVersion are surfaced verbatim by
	// GET /v1/health.
	ServiceName   string `yaml:"serviceName"`
	Version       string `yaml:"version"`
	ConfigVersion string `yaml:"configVersion"`

	// LogLevel is one of "debug", "info", "warn", "error". Default "info".
	LogLevel string `yaml:"logLevel"`

	// LogText switches structured logging to slog's text handler
	// instead of JSON. Production deployments leave this false.
	LogText bool `yaml:"logText"`
}

// Default returns the boundary's baked-in defaults before any
// environment or file overrides are applied.
func Default() Config {
	return Config{
		ListenAddr:        ":8080",
		StorePath:         "./data/pincer",
		HMACSecretBinding: runtimekey.DefaultHMACSecretBinding,
		KeySecretBinding:  runtimekey.DefaultKeySecretBinding,
		SkewSeconds:       runtimekey.DefaultSkewSeconds,
		ServiceName:       "pincer",
		Version:           "dev",
		ConfigVersion:     "1",
		LogLevel:          "info",
	}
}

// Load builds a Config starting from Default(), applying a YAML
// override file named by PINCER_CONFIG_FILE (if set and present), then
// PINCER_*-prefixed environment variables, which take final precedence.
// BootstrapToken and KEK are required; their absence is an error rather
// than a silently-empty secret.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("PINCER_CONFIG_FILE"); path != "" {
		if err := applyYAMLFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if cfg.BootstrapToken == "" {
		return Config{}, fmt.Errorf("config: PINCER_BOOTSTRAP_TOKEN is required")
	}
	if len(cfg.KEK) == 0 {
		return Config{}, fmt.Errorf("config: PINCER_KEK is required")
	}
	if !cfg.InMemoryStore && cfg.StorePath == "" {
		return Config{}, fmt.Errorf("config: PINCER_STORE_PATH must not be empty")
	}
	return cfg, nil
}

func applyYAMLFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PINCER_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("PINCER_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("PINCER_IN_MEMORY_STORE"); v != "" {
		cfg.InMemoryStore = envBool(v, cfg.InMemoryStore)
	}
	if v := os.Getenv("PINCER_BOOTSTRAP_TOKEN"); v != "" {
		cfg.BootstrapToken = v
	}
	if v := os.Getenv("PINCER_KEK"); v != "" {
		cfg.KEK = []byte(v)
	}
	if v := os.Getenv("PINCER_HMAC_SECRET_BINDING"); v != "" {
		cfg.HMACSecretBinding = v
	}
	if v := os.Getenv("PINCER_KEY_SECRET_BINDING"); v != "" {
		cfg.KeySecretBinding = v
	}
	if v := os.Getenv("PINCER_SKEW_SECONDS"); v != "" {
		cfg.SkewSeconds = envInt(v, cfg.SkewSeconds)
	}
	if v := os.Getenv("PINCER_SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}
	if v := os.Getenv("PINCER_VERSION"); v != "" {
		cfg.Version = v
	}
	if v := os.Getenv("PINCER_CONFIG_VERSION"); v != "" {
		cfg.ConfigVersion = v
	}
	if v := os.Getenv("PINCER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PINCER_LOG_TEXT"); v != "" {
		cfg.LogText = envBool(v, cfg.LogText)
	}
}

func envInt(value string, fallback int) int {
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	return fallback
}

func envBool(value string, fallback bool) bool {
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return fallback
}
