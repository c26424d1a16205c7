// Package stack assembles the storage, backends, pipeline service and worker
// pool a chronicle command runs on, from a resolved config.Config.
package stack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/pkg/audio"
	"github.com/papercomputeco/chronicle/pkg/config"
	"github.com/papercomputeco/chronicle/pkg/dotdir"
	embeddingutils "github.com/papercomputeco/chronicle/pkg/embeddings/utils"
	"github.com/papercomputeco/chronicle/pkg/eventstream"
	"github.com/papercomputeco/chronicle/pkg/eventstream/kafka"
	"github.com/papercomputeco/chronicle/pkg/eventstream/nop"
	"github.com/papercomputeco/chronicle/pkg/jobs"
	"github.com/papercomputeco/chronicle/pkg/llm"
	"github.com/papercomputeco/chronicle/pkg/llm/provider"
	"github.com/papercomputeco/chronicle/pkg/logger"
	"github.com/papercomputeco/chronicle/pkg/pipeline"
	"github.com/papercomputeco/chronicle/pkg/search"
	searchutils "github.com/papercomputeco/chronicle/pkg/search/utils"
	"github.com/papercomputeco/chronicle/pkg/storage"
	"github.com/papercomputeco/chronicle/pkg/storage/inmemory"
	"github.com/papercomputeco/chronicle/pkg/storage/postgres"
	"github.com/papercomputeco/chronicle/pkg/storage/sqlite"
	"github.com/papercomputeco/chronicle/pkg/stt"
	"github.com/papercomputeco/chronicle/pkg/stt/deepgram"
	"github.com/papercomputeco/chronicle/pkg/worker"
)

// DeepgramKeyEnv holds the Deepgram API key.
const DeepgramKeyEnv = "DEEPGRAM_API_KEY"

// Options select which parts of the stack are built.
type Options struct {
	// ConfigDir overrides .chronicle/ resolution.
	ConfigDir string

	// Workers builds the speech-to-text and language model backends and a
	// worker pool. Commands that only enqueue or read leave it false.
	Workers bool

	// Search builds the embedder and memory index.
	Search bool

	// StableNode hands the configured worker.node_id to the pool, so its
	// startup scan reclaims that node's abandoned jobs. Only long-running
	// services set it; other pools get a per-process id.
	StableNode bool

	Logger *slog.Logger
}

// Stack is an assembled pipeline. Close releases everything Open acquired.
type Stack struct {
	Config  *config.Config
	Store   storage.Driver
	Service *pipeline.Service

	// Pool is nil unless Options.Workers was set.
	Pool *worker.Pool

	logger  *slog.Logger
	closers []func() error
}

// Open builds the stack described by cfg.
func Open(ctx context.Context, cfg *config.Config, o Options) (*Stack, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}

	s := &Stack{Config: cfg, logger: o.Logger}
	if err := s.open(ctx, o); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Stack) open(ctx context.Context, o Options) error {
	cfg := s.Config
	ddm := dotdir.NewManager()

	store, err := s.openStore(ctx, ddm, o.ConfigDir)
	if err != nil {
		return err
	}
	s.Store = store
	s.closers = append(s.closers, store.Close)

	audioDir, err := ddm.Resolve(o.ConfigDir, cfg.Audio.Dir, "audio")
	if err != nil {
		return err
	}
	audioStore, err := audio.NewFileStore(audioDir)
	if err != nil {
		return fmt.Errorf("opening audio store: %w", err)
	}

	publisher, err := s.openPublisher()
	if err != nil {
		return err
	}
	s.closers = append(s.closers, publisher.Close)

	pc := pipeline.Config{
		Store:     store,
		Audio:     audioStore,
		Publisher: publisher,
		Speech: stt.SpeechSettings{
			MinWords:      int(cfg.Speech.MinWords),
			MinConfidence: cfg.Speech.MinConfidence,
		},
		RequireSpeech: cfg.Speech.RequireSpeech,
		MaxAttempts:   int(cfg.Worker.MaxAttempts),
		DefaultUserID: cfg.Pipeline.DefaultUserID,
		Logger:        s.logger,
	}

	if o.Search {
		index, err := s.openIndex(ctx, ddm, o.ConfigDir)
		if err != nil {
			return err
		}
		pc.Index = index
		s.closers = append(s.closers, index.Close)
	}

	if o.Workers {
		if pc.STT, err = s.openSTT(); err != nil {
			return err
		}
		if pc.Extractor, pc.Summarizer, err = s.openModel(); err != nil {
			return err
		}
	}

	svc, err := pipeline.New(pc)
	if err != nil {
		return err
	}
	s.Service = svc

	if o.Search && cfg.VectorStore.Provider == "inmemory" {
		if _, err := svc.Reindex(ctx); err != nil {
			return fmt.Errorf("rebuilding search index: %w", err)
		}
	}

	if o.Workers {
		var nodeID string
		if o.StableNode {
			nodeID = cfg.Worker.NodeID
		}
		pool, err := worker.NewPool(&worker.Config{
			Store:         store,
			Handlers:      svc.Handlers(),
			NumWorkers:    cfg.Worker.Count,
			PollInterval:  cfg.Worker.PollInterval.Duration,
			LeaseDuration: cfg.Worker.LeaseDuration.Duration,
			SweepInterval: cfg.Worker.SweepInterval.Duration,
			NodeID:        nodeID,
			Backoff: jobs.Backoff{
				Base: cfg.Worker.BackoffBase.Duration,
				Max:  cfg.Worker.BackoffMax.Duration,
			},
			Classify:  pipeline.Classify,
			Publisher: publisher,
			Logger:    s.logger,
		})
		if err != nil {
			return fmt.Errorf("creating worker pool: %w", err)
		}
		s.Pool = pool
		svc.SetWaker(pool)
	}

	return nil
}

// Start launches the worker pool. It is a no-op without workers.
func (s *Stack) Start(ctx context.Context) error {
	if s.Pool == nil {
		return nil
	}
	return s.Pool.Start(ctx)
}

// Close stops the pool and releases resources in reverse order of
// acquisition.
func (s *Stack) Close() error {
	if s.Pool != nil {
		s.Pool.Close()
	}

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Stack) openStore(ctx context.Context, ddm *dotdir.Manager, configDir string) (storage.Driver, error) {
	cfg := s.Config.Storage
	switch cfg.Driver {
	case "inmemory":
		s.logger.Info("using in-memory storage")
		return inmemory.NewDriver(), nil

	case "sqlite", "":
		path, err := ddm.Resolve(configDir, cfg.SQLitePath, "chronicle.db")
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		driver, err := sqlite.NewSQLiteDriverContext(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("opening SQLite storage: %w", err)
		}
		s.logger.Info("using SQLite storage", "path", path)
		return driver, nil

	case "postgres":
		driver, err := postgres.NewDriver(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("opening PostgreSQL storage: %w", err)
		}
		s.logger.Info("using PostgreSQL storage")
		return driver, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func (s *Stack) openPublisher() (eventstream.Publisher, error) {
	cfg := s.Config.Events
	switch cfg.Provider {
	case "nop", "":
		return nop.NewPublisher(), nil
	case "kafka":
		p, err := kafka.NewPublisher(kafka.Config{
			Brokers: config.List(cfg.Brokers),
			Topic:   cfg.Topic,
			Logger:  s.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating kafka publisher: %w", err)
		}
		s.logger.Info("publishing events to kafka", "topic", cfg.Topic)
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported events provider: %s", cfg.Provider)
	}
}

func (s *Stack) openIndex(ctx context.Context, ddm *dotdir.Manager, configDir string) (search.Index, error) {
	cfg := s.Config
	opts := &searchutils.NewIndexOpts{
		ProviderType: cfg.VectorStore.Provider,
		Target:       cfg.VectorStore.Target,
		Collection:   cfg.VectorStore.Collection,
		Dimensions:   cfg.Embedding.Dimensions,
		Logger:       s.logger,
	}

	switch cfg.VectorStore.Provider {
	case "inmemory", "":
		return searchutils.NewIndex(ctx, opts)
	case "chromem":
		target, err := ddm.Resolve(configDir, opts.Target, "vectors")
		if err != nil {
			return nil, err
		}
		opts.Target = target
	case "sqlitevec":
		target, err := ddm.Resolve(configDir, opts.Target, "vectors.db")
		if err != nil {
			return nil, err
		}
		opts.Target = target
	case "qdrant":
		if opts.Target == "" {
			opts.Target = "localhost:6334"
		}
	}

	embedder, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
		ProviderType: cfg.Embedding.Provider,
		TargetURL:    cfg.Embedding.Target,
		Model:        cfg.Embedding.Model,
		Dimensions:   cfg.Embedding.Dimensions,
		CacheBytes:   int64(cfg.Embedding.CacheSize),
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	s.closers = append(s.closers, embedder.Close)
	opts.Embedder = embedder

	index, err := searchutils.NewIndex(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("creating %s index: %w", cfg.VectorStore.Provider, err)
	}
	s.logger.Info("memory search enabled",
		"provider", cfg.VectorStore.Provider,
		"target", opts.Target,
		"embedding_model", cfg.Embedding.Model,
	)
	return index, nil
}

func (s *Stack) openSTT() (stt.SpeechToText, error) {
	cfg := s.Config.STT
	switch cfg.Provider {
	case "deepgram", "":
		client, err := deepgram.NewClient(deepgram.Config{
			APIKey:  os.Getenv(DeepgramKeyEnv),
			BaseURL: cfg.Target,
			Model:   cfg.Model,
			Timeout: cfg.Timeout.Duration,
			Logger:  s.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating speech-to-text client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported stt provider: %s", cfg.Provider)
	}
}

func (s *Stack) openModel() (llm.LanguageModel, llm.Summarizer, error) {
	cfg := s.Config.LLM
	call, err := provider.NewCallFunc(provider.Config{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		BaseURL:  cfg.Target,
		Timeout:  cfg.Timeout.Duration,
		Logger:   s.logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating language model client: %w", err)
	}

	extractor, err := llm.NewExtractor(llm.ExtractorConfig{
		Call:                call,
		MaxTranscriptTokens: int(cfg.MaxTranscriptTokens),
		Logger:              s.logger,
	})
	if err != nil {
		return nil, nil, err
	}

	if !cfg.Summarize {
		return extractor, nil, nil
	}
	summarizer, err := llm.NewSummarizer(call)
	if err != nil {
		return nil, nil, err
	}
	return extractor, summarizer, nil
}

// LoadConfig resolves the config for cmd through flags, environment,
// config.toml and defaults. Only the flags named by keys are bound.
func LoadConfig(cmd *cobra.Command, keys []string) (*config.Config, error) {
	v, err := config.InitViper(ConfigDir(cmd))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	config.BindRegisteredFlags(v, cmd, config.Flags, keys)
	return config.FromViper(v)
}

// ConfigDir returns the --config-dir persistent flag.
func ConfigDir(cmd *cobra.Command) string {
	dir, _ := cmd.Flags().GetString("config-dir")
	return dir
}

// NewLogger returns the CLI logger, honouring --debug. CLI logs go to
// stderr so command output stays pipeable.
func NewLogger(cmd *cobra.Command) *slog.Logger {
	debug, _ := cmd.Flags().GetBool("debug")
	return logger.New(
		logger.WithDebug(debug),
		logger.WithPretty(true),
		logger.WithWriter(os.Stderr),
	)
}

// AddFlags registers the stack flags on cmd. Values are read back through
// LoadConfig, so the flag targets are not kept.
func AddFlags(cmd *cobra.Command) {
	for _, key := range config.StackFlags {
		if key == config.FlagEmbeddingDims {
			config.AddUintFlag(cmd, config.Flags, key, new(uint))
			continue
		}
		config.AddStringFlag(cmd, config.Flags, key, new(string))
	}
}

// WorkerFlags are the registry keys that tune the worker pool.
var WorkerFlags = []string{
	config.FlagWorkers, config.FlagPollInterval, config.FlagLeaseDuration,
	config.FlagMaxAttempts, config.FlagNodeID, config.FlagRequireSpeech,
}

// AddWorkerFlags registers the worker pool flags on cmd.
func AddWorkerFlags(cmd *cobra.Command) {
	config.AddUintFlag(cmd, config.Flags, config.FlagWorkers, new(uint))
	config.AddDurationFlag(cmd, config.Flags, config.FlagPollInterval, new(time.Duration))
	config.AddDurationFlag(cmd, config.Flags, config.FlagLeaseDuration, new(time.Duration))
	config.AddUintFlag(cmd, config.Flags, config.FlagMaxAttempts, new(uint))
	config.AddBoolFlag(cmd, config.Flags, config.FlagRequireSpeech, new(bool))
}

// AddNodeIDFlag registers --node-id. Only commands that open the stack with
// StableNode register it.
func AddNodeIDFlag(cmd *cobra.Command) {
	config.AddStringFlag(cmd, config.Flags, config.FlagNodeID, new(string))
}
