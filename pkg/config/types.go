package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config represents the persistent chronicle configuration stored as
// config.toml in the .chronicle/ directory. The TOML layout uses sections
// for logical grouping. API keys are never stored here; they come from the
// environment.
type Config struct {
	Version     int               `toml:"version"`
	Storage     StorageConfig     `toml:"storage"`
	Audio       AudioConfig       `toml:"audio"`
	Worker      WorkerConfig      `toml:"worker"`
	API         APIConfig         `toml:"api"`
	STT         STTConfig         `toml:"stt"`
	LLM         LLMConfig         `toml:"llm"`
	Speech      SpeechConfig      `toml:"speech"`
	VectorStore VectorStoreConfig `toml:"vector_store"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	Events      EventsConfig      `toml:"events"`
	Pipeline    PipelineConfig    `toml:"pipeline"`
}

// StorageConfig selects the durable store shared by the API and workers.
type StorageConfig struct {
	// Driver is "inmemory", "sqlite" or "postgres".
	Driver      string `toml:"driver,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// AudioConfig holds where uploaded audio lives and what the watcher picks up.
type AudioConfig struct {
	Dir   string `toml:"dir,omitempty"`
	Inbox string `toml:"inbox,omitempty"`

	// Patterns are comma separated glob patterns matched against file
	// names in the inbox.
	Patterns string `toml:"patterns,omitempty"`
}

// WorkerConfig tunes the local worker pool.
type WorkerConfig struct {
	Count         uint     `toml:"count,omitempty"`
	PollInterval  Duration `toml:"poll_interval,omitempty"`
	LeaseDuration Duration `toml:"lease_duration,omitempty"`
	SweepInterval Duration `toml:"sweep_interval,omitempty"`
	MaxAttempts   uint     `toml:"max_attempts,omitempty"`
	BackoffBase   Duration `toml:"backoff_base,omitempty"`
	BackoffMax    Duration `toml:"backoff_max,omitempty"`
	NodeID        string   `toml:"node_id,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// STTConfig selects the speech-to-text provider.
type STTConfig struct {
	Provider string   `toml:"provider,omitempty"`
	Target   string   `toml:"target,omitempty"`
	Model    string   `toml:"model,omitempty"`
	Timeout  Duration `toml:"timeout,omitempty"`
}

// LLMConfig selects the model used for memory extraction and summaries.
type LLMConfig struct {
	Provider            string   `toml:"provider,omitempty"`
	Target              string   `toml:"target,omitempty"`
	Model               string   `toml:"model,omitempty"`
	Timeout             Duration `toml:"timeout,omitempty"`
	MaxTranscriptTokens uint     `toml:"max_transcript_tokens,omitempty"`
	Summarize           bool     `toml:"summarize"`
}

// SpeechConfig holds the speech detection thresholds.
type SpeechConfig struct {
	MinWords      uint    `toml:"min_words,omitempty"`
	MinConfidence float64 `toml:"min_confidence,omitempty"`
	RequireSpeech bool    `toml:"require_speech"`
}

// VectorStoreConfig holds memory search index settings.
type VectorStoreConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Collection string `toml:"collection,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`

	// CacheSize is the embedding cache budget in bytes. Zero disables it.
	CacheSize uint `toml:"cache_size,omitempty"`
}

// EventsConfig selects where pipeline events are published.
type EventsConfig struct {
	// Provider is "nop" or "kafka".
	Provider string `toml:"provider,omitempty"`

	// Brokers is a comma separated list of host:port.
	Brokers string `toml:"brokers,omitempty"`
	Topic   string `toml:"topic,omitempty"`
}

// PipelineConfig holds pipeline-wide settings.
type PipelineConfig struct {
	DefaultUserID string `toml:"default_user_id,omitempty"`
}

// Duration is a time.Duration stored as a Go duration string ("30s").
type Duration struct {
	time.Duration
}

// Dur wraps d.
func Dur(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// List splits a comma separated value, dropping empty entries.
func List(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func uintKey(key string, field func(c *Config) *uint) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(*field(c)), 10)
		},
		set: func(c *Config, v string) error {
			if v == "" {
				*field(c) = 0
				return nil
			}
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			*field(c) = uint(n)
			return nil
		},
	}
}

func boolKey(key string, field func(c *Config) *bool) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *Config, v string) error {
			if v == "" {
				*field(c) = false
				return nil
			}
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			*field(c) = b
			return nil
		},
	}
}

func floatKey(key string, field func(c *Config) *float64) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatFloat(*field(c), 'g', -1, 64)
		},
		set: func(c *Config, v string) error {
			if v == "" {
				*field(c) = 0
				return nil
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			*field(c) = f
			return nil
		},
	}
}

func durationKey(key string, field func(c *Config) *Duration) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if field(c).Duration == 0 {
				return ""
			}
			return field(c).String()
		},
		set: func(c *Config, v string) error {
			if v == "" {
				field(c).Duration = 0
				return nil
			}
			if err := field(c).UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.driver":       stringKey(func(c *Config) *string { return &c.Storage.Driver }),
	"storage.sqlite_path":  stringKey(func(c *Config) *string { return &c.Storage.SQLitePath }),
	"storage.postgres_dsn": stringKey(func(c *Config) *string { return &c.Storage.PostgresDSN }),

	"audio.dir":      stringKey(func(c *Config) *string { return &c.Audio.Dir }),
	"audio.inbox":    stringKey(func(c *Config) *string { return &c.Audio.Inbox }),
	"audio.patterns": stringKey(func(c *Config) *string { return &c.Audio.Patterns }),

	"worker.count":          uintKey("worker.count", func(c *Config) *uint { return &c.Worker.Count }),
	"worker.poll_interval":  durationKey("worker.poll_interval", func(c *Config) *Duration { return &c.Worker.PollInterval }),
	"worker.lease_duration": durationKey("worker.lease_duration", func(c *Config) *Duration { return &c.Worker.LeaseDuration }),
	"worker.sweep_interval": durationKey("worker.sweep_interval", func(c *Config) *Duration { return &c.Worker.SweepInterval }),
	"worker.max_attempts":   uintKey("worker.max_attempts", func(c *Config) *uint { return &c.Worker.MaxAttempts }),
	"worker.backoff_base":   durationKey("worker.backoff_base", func(c *Config) *Duration { return &c.Worker.BackoffBase }),
	"worker.backoff_max":    durationKey("worker.backoff_max", func(c *Config) *Duration { return &c.Worker.BackoffMax }),
	"worker.node_id":        stringKey(func(c *Config) *string { return &c.Worker.NodeID }),

	"api.listen": stringKey(func(c *Config) *string { return &c.API.Listen }),

	"stt.provider": stringKey(func(c *Config) *string { return &c.STT.Provider }),
	"stt.target":   stringKey(func(c *Config) *string { return &c.STT.Target }),
	"stt.model":    stringKey(func(c *Config) *string { return &c.STT.Model }),
	"stt.timeout":  durationKey("stt.timeout", func(c *Config) *Duration { return &c.STT.Timeout }),

	"llm.provider":              stringKey(func(c *Config) *string { return &c.LLM.Provider }),
	"llm.target":                stringKey(func(c *Config) *string { return &c.LLM.Target }),
	"llm.model":                 stringKey(func(c *Config) *string { return &c.LLM.Model }),
	"llm.timeout":               durationKey("llm.timeout", func(c *Config) *Duration { return &c.LLM.Timeout }),
	"llm.max_transcript_tokens": uintKey("llm.max_transcript_tokens", func(c *Config) *uint { return &c.LLM.MaxTranscriptTokens }),
	"llm.summarize":             boolKey("llm.summarize", func(c *Config) *bool { return &c.LLM.Summarize }),

	"speech.min_words":      uintKey("speech.min_words", func(c *Config) *uint { return &c.Speech.MinWords }),
	"speech.min_confidence": floatKey("speech.min_confidence", func(c *Config) *float64 { return &c.Speech.MinConfidence }),
	"speech.require_speech": boolKey("speech.require_speech", func(c *Config) *bool { return &c.Speech.RequireSpeech }),

	"vector_store.provider":   stringKey(func(c *Config) *string { return &c.VectorStore.Provider }),
	"vector_store.target":     stringKey(func(c *Config) *string { return &c.VectorStore.Target }),
	"vector_store.collection": stringKey(func(c *Config) *string { return &c.VectorStore.Collection }),

	"embedding.provider":   stringKey(func(c *Config) *string { return &c.Embedding.Provider }),
	"embedding.target":     stringKey(func(c *Config) *string { return &c.Embedding.Target }),
	"embedding.model":      stringKey(func(c *Config) *string { return &c.Embedding.Model }),
	"embedding.dimensions": uintKey("embedding.dimensions", func(c *Config) *uint { return &c.Embedding.Dimensions }),
	"embedding.cache_size": uintKey("embedding.cache_size", func(c *Config) *uint { return &c.Embedding.CacheSize }),

	"events.provider": stringKey(func(c *Config) *string { return &c.Events.Provider }),
	"events.brokers":  stringKey(func(c *Config) *string { return &c.Events.Brokers }),
	"events.topic":    stringKey(func(c *Config) *string { return &c.Events.Topic }),

	"pipeline.default_user_id": stringKey(func(c *Config) *string { return &c.Pipeline.DefaultUserID }),
}

// orderedKeys lists configKeys in TOML section order.
var orderedKeys = []string{
	"storage.driver", "storage.sqlite_path", "storage.postgres_dsn",
	"audio.dir", "audio.inbox", "audio.patterns",
	"worker.count", "worker.poll_interval", "worker.lease_duration", "worker.sweep_interval",
	"worker.max_attempts", "worker.backoff_base", "worker.backoff_max", "worker.node_id",
	"api.listen",
	"stt.provider", "stt.target", "stt.model", "stt.timeout",
	"llm.provider", "llm.target", "llm.model", "llm.timeout", "llm.max_transcript_tokens", "llm.summarize",
	"speech.min_words", "speech.min_confidence", "speech.require_speech",
	"vector_store.provider", "vector_store.target", "vector_store.collection",
	"embedding.provider", "embedding.target", "embedding.model", "embedding.dimensions", "embedding.cache_size",
	"events.provider", "events.brokers", "events.topic",
	"pipeline.default_user_id",
}
