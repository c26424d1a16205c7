package config

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline. This prevents flag drift
// when the same logical flag appears on multiple commands (e.g., --listen
// on both "chronicle serve" and "chronicle serve api").
type Flag struct {
	// Name is the long flag name (e.g. "listen").
	Name string

	// Shorthand is the one-letter short flag (e.g. "l"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "api.listen").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling the Add*Flag helpers and
// BindRegisteredFlags to avoid typos or drift from one command to another.
const (
	FlagListen          = "listen"
	FlagStorageDriver   = "storage-driver"
	FlagSQLite          = "sqlite"
	FlagPostgresDSN     = "postgres-dsn"
	FlagAudioDir        = "audio-dir"
	FlagInbox           = "inbox"
	FlagPatterns        = "patterns"
	FlagWorkers         = "workers"
	FlagPollInterval    = "poll-interval"
	FlagLeaseDuration   = "lease-duration"
	FlagMaxAttempts     = "max-attempts"
	FlagNodeID          = "node-id"
	FlagSTTProvider     = "stt-provider"
	FlagSTTModel        = "stt-model"
	FlagLLMProvider     = "llm-provider"
	FlagLLMModel        = "llm-model"
	FlagLLMTarget       = "llm-target"
	FlagRequireSpeech   = "require-speech"
	FlagVectorStoreProv = "vector-store-provider"
	FlagVectorStoreTgt  = "vector-store-target"
	FlagEmbeddingProv   = "embedding-provider"
	FlagEmbeddingTgt    = "embedding-target"
	FlagEmbeddingModel  = "embedding-model"
	FlagEmbeddingDims   = "embedding-dimensions"
	FlagEventsProvider  = "events-provider"
	FlagKafkaBrokers    = "kafka-brokers"
	FlagKafkaTopic      = "kafka-topic"
	FlagUser            = "user"
)

// Flags is the registry shared by every chronicle command.
var Flags = FlagSet{
	FlagListen:          {Name: "listen", Shorthand: "l", ViperKey: "api.listen", Description: "Address for the API server to listen on"},
	FlagStorageDriver:   {Name: "storage-driver", ViperKey: "storage.driver", Description: "Storage driver (inmemory, sqlite, postgres)"},
	FlagSQLite:          {Name: "sqlite", Shorthand: "s", ViperKey: "storage.sqlite_path", Description: "Path to SQLite database (default: .chronicle/chronicle.db)"},
	FlagPostgresDSN:     {Name: "postgres-dsn", ViperKey: "storage.postgres_dsn", Description: "PostgreSQL connection string"},
	FlagAudioDir:        {Name: "audio-dir", ViperKey: "audio.dir", Description: "Directory for stored audio (default: .chronicle/audio)"},
	FlagInbox:           {Name: "inbox", ViperKey: "audio.inbox", Description: "Directory watched for new recordings (default: .chronicle/inbox)"},
	FlagPatterns:        {Name: "patterns", ViperKey: "audio.patterns", Description: "Comma separated glob patterns picked up from the inbox"},
	FlagWorkers:         {Name: "workers", Shorthand: "w", ViperKey: "worker.count", Description: "Number of local workers"},
	FlagPollInterval:    {Name: "poll-interval", ViperKey: "worker.poll_interval", Description: "How often idle workers poll for jobs"},
	FlagLeaseDuration:   {Name: "lease-duration", ViperKey: "worker.lease_duration", Description: "How long a claimed job stays leased without a heartbeat"},
	FlagMaxAttempts:     {Name: "max-attempts", ViperKey: "worker.max_attempts", Description: "Attempts per job before it fails"},
	FlagNodeID:          {Name: "node-id", ViperKey: "worker.node_id", Description: "Stable worker node identifier for serve; must be unique per live process (default: generated per process)"},
	FlagSTTProvider:     {Name: "stt-provider", ViperKey: "stt.provider", Description: "Speech-to-text provider"},
	FlagSTTModel:        {Name: "stt-model", ViperKey: "stt.model", Description: "Speech-to-text model"},
	FlagLLMProvider:     {Name: "llm-provider", ViperKey: "llm.provider", Description: "Language model provider (openai, anthropic, ollama)"},
	FlagLLMModel:        {Name: "llm-model", ViperKey: "llm.model", Description: "Language model used for extraction and summaries"},
	FlagLLMTarget:       {Name: "llm-target", ViperKey: "llm.target", Description: "Language model base URL override"},
	FlagRequireSpeech:   {Name: "require-speech", ViperKey: "speech.require_speech", Description: "Skip memory extraction for transcripts without meaningful speech"},
	FlagVectorStoreProv: {Name: "vector-store-provider", ViperKey: "vector_store.provider", Description: "Memory search index (inmemory, chromem, qdrant, sqlitevec)"},
	FlagVectorStoreTgt:  {Name: "vector-store-target", ViperKey: "vector_store.target", Description: "Memory search index target (path or host:port)"},
	FlagEmbeddingProv:   {Name: "embedding-provider", ViperKey: "embedding.provider", Description: "Embedding provider"},
	FlagEmbeddingTgt:    {Name: "embedding-target", ViperKey: "embedding.target", Description: "Embedding provider URL"},
	FlagEmbeddingModel:  {Name: "embedding-model", ViperKey: "embedding.model", Description: "Embedding model"},
	FlagEmbeddingDims:   {Name: "embedding-dimensions", ViperKey: "embedding.dimensions", Description: "Embedding dimensions"},
	FlagEventsProvider:  {Name: "events-provider", ViperKey: "events.provider", Description: "Event publisher (nop, kafka)"},
	FlagKafkaBrokers:    {Name: "kafka-brokers", ViperKey: "events.brokers", Description: "Comma separated Kafka brokers"},
	FlagKafkaTopic:      {Name: "kafka-topic", ViperKey: "events.topic", Description: "Kafka topic for pipeline events"},
	FlagUser:            {Name: "user", Shorthand: "u", ViperKey: "pipeline.default_user_id", Description: "User that owns uploaded conversations"},
}

// StackFlags are the registry keys that configure the pipeline stack. Commands
// that build the stack register and bind all of them.
var StackFlags = []string{
	FlagStorageDriver, FlagSQLite, FlagPostgresDSN, FlagAudioDir,
	FlagSTTProvider, FlagSTTModel, FlagLLMProvider, FlagLLMModel, FlagLLMTarget,
	FlagVectorStoreProv, FlagVectorStoreTgt,
	FlagEmbeddingProv, FlagEmbeddingTgt, FlagEmbeddingModel, FlagEmbeddingDims,
	FlagEventsProvider, FlagKafkaBrokers, FlagKafkaTopic,
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaults().GetString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddUintFlag registers a uint flag on cmd from the given FlagSet.
func AddUintFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *uint) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaults().GetUint(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().UintVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().UintVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddBoolFlag registers a bool flag on cmd from the given FlagSet.
func AddBoolFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *bool) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaults().GetBool(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().BoolVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().BoolVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddDurationFlag registers a duration flag on cmd from the given FlagSet.
func AddDurationFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *time.Duration) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaults().GetDuration(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().DurationVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().DurationVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaults returns a viper instance holding only NewDefaultConfig values.
func defaults() *viper.Viper {
	v := viper.New()
	setViperDefaults(v)
	return v
}
