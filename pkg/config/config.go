package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/chronicle/pkg/dotdir"
)

const (
	configFile = "config.toml"

	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

type Configer struct {
	ddm        *dotdir.Manager
	targetPath string
}

func NewConfiger(override string) (*Configer, error) {
	cfger := &Configer{}

	cfger.ddm = dotdir.NewManager()
	target, err := cfger.ddm.Target(override)
	if err != nil {
		return nil, err
	}

	// If no .chronicle/ directory was resolved, targetPath stays empty;
	// LoadConfig will return defaults and SaveConfig will error clearly.
	if target == "" {
		return cfger, nil
	}

	path := filepath.Join(target, configFile)
	_, err = os.Stat(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfger.targetPath = path

	return cfger, nil
}

// ValidConfigKeys returns all supported configuration key names in TOML
// section order.
func ValidConfigKeys() []string {
	return slices.Clone(orderedKeys)
}

// IsValidConfigKey returns true if the given key is a supported configuration key.
func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

func (c *Configer) GetTarget() string {
	return c.targetPath
}

// LoadConfig loads config.toml from the target .chronicle/ directory.
// If the file does not exist, returns NewDefaultConfig() so callers always
// receive a fully-populated Config. Fields set in the file override the
// defaults.
func (c *Configer) LoadConfig() (*Config, error) {
	if c.targetPath == "" {
		return NewDefaultConfig(), nil
	}

	data, err := os.ReadFile(c.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return ParseConfigTOML(data)
}

// SaveConfig persists the configuration to config.toml in the target .chronicle/ directory.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	if c.targetPath == "" {
		return errors.New("cannot save empty target path")
	}

	var buf bytes.Buffer
	if err := EncodeTOML(&buf, cfg); err != nil {
		return err
	}

	if err := os.WriteFile(c.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// EncodeTOML writes cfg in the config.toml format.
func EncodeTOML(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}

// SetConfigValue loads the config, sets the given key to the given value, and saves it.
// Returns an error if the key is not a valid config key or the result does
// not validate.
func (c *Configer) SetConfigValue(key string, value string) error {
	info, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}

	if err := info.set(cfg, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	return c.SaveConfig(cfg)
}

// GetConfigValue loads the config and returns the string representation of the given key.
// Returns an error if the key is not a valid config key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}

	return info.get(cfg), nil
}

// Get returns the string form of key on cfg, or "" for unknown keys.
func (cfg *Config) Get(key string) string {
	info, ok := configKeys[key]
	if !ok {
		return ""
	}
	return info.get(cfg)
}

// Validate checks enumerated values and cross-field requirements.
func (cfg *Config) Validate() error {
	var errs []error

	switch cfg.Storage.Driver {
	case "inmemory", "sqlite":
	case "postgres":
		if cfg.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage.driver %q (available: inmemory, sqlite, postgres)", cfg.Storage.Driver))
	}

	if cfg.Worker.Count == 0 {
		errs = append(errs, errors.New("worker.count must be at least 1"))
	}
	if cfg.Worker.BackoffMax.Duration > 0 && cfg.Worker.BackoffMax.Duration < cfg.Worker.BackoffBase.Duration {
		errs = append(errs, errors.New("worker.backoff_max must not be below worker.backoff_base"))
	}

	if cfg.Speech.MinConfidence < 0 || cfg.Speech.MinConfidence > 1 {
		errs = append(errs, errors.New("speech.min_confidence must be between 0 and 1"))
	}

	switch cfg.Events.Provider {
	case "", "nop":
	case "kafka":
		if len(List(cfg.Events.Brokers)) == 0 {
			errs = append(errs, errors.New("events.brokers is required for the kafka provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported events.provider %q (available: nop, kafka)", cfg.Events.Provider))
	}

	return errors.Join(errs...)
}

// PresetConfig returns a Config with sane defaults for the named provider preset.
// Supported presets: "openai", "anthropic", "ollama".
// Returns an error if the preset name is not recognized.
func PresetConfig(name string) (*Config, error) {
	cfg := NewDefaultConfig()

	switch strings.ToLower(name) {
	case "openai":
		cfg.LLM.Provider = "openai"
		cfg.LLM.Model = "gpt-4o-mini"

	case "anthropic":
		cfg.LLM.Provider = "anthropic"
		cfg.LLM.Model = "claude-haiku-4-5-20251001"

	case "ollama":
		cfg.LLM.Provider = "ollama"
		cfg.LLM.Target = "http://localhost:11434"
		cfg.LLM.Model = "llama3.2"
		cfg.LLM.Timeout = Dur(2 * defaultLLMTimeout)

	default:
		return nil, fmt.Errorf("unknown preset: %q (available: openai, anthropic, ollama)", name)
	}

	return cfg, nil
}

// ValidPresetNames returns the list of recognized preset names.
func ValidPresetNames() []string {
	return []string{"openai", "anthropic", "ollama"}
}

// ParseConfigTOML parses raw TOML bytes on top of NewDefaultConfig().
// Returns an error if the version field is present and not equal to CurrentV.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}

	if cfg.Version != 0 && cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}

	return cfg, nil
}
