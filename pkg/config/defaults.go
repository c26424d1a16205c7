package config

import "time"

const (
	defaultStorageDriver = "sqlite"

	defaultAudioPatterns = "*.wav,*.mp3,*.m4a,*.ogg,*.opus,*.flac,*.webm"

	defaultWorkerCount   = 3
	defaultPollInterval  = 2 * time.Second
	defaultLeaseDuration = 5 * time.Minute
	defaultSweepInterval = 30 * time.Second
	defaultMaxAttempts   = 3
	defaultBackoffBase   = 2 * time.Second
	defaultBackoffMax    = 5 * time.Minute

	defaultAPIListen = ":8081"

	defaultSTTProvider = "deepgram"
	defaultSTTModel    = "nova-3"
	defaultSTTTimeout  = 5 * time.Minute

	defaultLLMProvider         = "openai"
	defaultLLMModel            = "gpt-4o-mini"
	defaultLLMTimeout          = 30 * time.Second
	defaultMaxTranscriptTokens = 12000

	defaultMinWords      = 5
	defaultMinConfidence = 0.5

	defaultVectorProvider = "inmemory"

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "nomic-embed-text"
	defaultEmbeddingDimensions = 768
	defaultEmbeddingCacheSize  = 64 << 20

	defaultEventsProvider = "nop"
	defaultEventsTopic    = "chronicle.events"

	defaultUserID = "default"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values. Paths left empty
// resolve inside the .chronicle/ directory.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Driver: defaultStorageDriver,
		},
		Audio: AudioConfig{
			Patterns: defaultAudioPatterns,
		},
		Worker: WorkerConfig{
			Count:         defaultWorkerCount,
			PollInterval:  Dur(defaultPollInterval),
			LeaseDuration: Dur(defaultLeaseDuration),
			SweepInterval: Dur(defaultSweepInterval),
			MaxAttempts:   defaultMaxAttempts,
			BackoffBase:   Dur(defaultBackoffBase),
			BackoffMax:    Dur(defaultBackoffMax),
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		STT: STTConfig{
			Provider: defaultSTTProvider,
			Model:    defaultSTTModel,
			Timeout:  Dur(defaultSTTTimeout),
		},
		LLM: LLMConfig{
			Provider:            defaultLLMProvider,
			Model:               defaultLLMModel,
			Timeout:             Dur(defaultLLMTimeout),
			MaxTranscriptTokens: defaultMaxTranscriptTokens,
			Summarize:           true,
		},
		Speech: SpeechConfig{
			MinWords:      defaultMinWords,
			MinConfidence: defaultMinConfidence,
			RequireSpeech: true,
		},
		VectorStore: VectorStoreConfig{
			Provider: defaultVectorProvider,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultEmbeddingTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
			CacheSize:  defaultEmbeddingCacheSize,
		},
		Events: EventsConfig{
			Provider: defaultEventsProvider,
			Topic:    defaultEventsTopic,
		},
		Pipeline: PipelineConfig{
			DefaultUserID: defaultUserID,
		},
	}
}
