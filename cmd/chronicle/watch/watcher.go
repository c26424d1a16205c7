package watchcmder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"github.com/papercomputeco/chronicle/pkg/config"
	"github.com/papercomputeco/chronicle/pkg/dotdir"
	"github.com/papercomputeco/chronicle/pkg/pipeline"
)

type watcherConfig struct {
	Dir      string
	Patterns string
	Settle   time.Duration
	UserID   string

	Service   *pipeline.Service
	Dotdir    *dotdir.Manager
	ConfigDir string
	Logger    *slog.Logger
}

// watcher uploads matching inbox files once their size stops changing.
type watcher struct {
	config watcherConfig
	match  glob.Glob
	logger *slog.Logger

	mu      sync.Mutex
	state   *dotdir.InboxState
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

func newWatcher(c watcherConfig) (*watcher, error) {
	if c.Service == nil {
		return nil, errors.New("watcher requires a pipeline service")
	}
	match, err := compilePatterns(c.Patterns)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating inbox %s: %w", c.Dir, err)
	}
	dir, err := filepath.Abs(c.Dir)
	if err != nil {
		return nil, err
	}
	c.Dir = dir

	state, err := c.Dotdir.LoadInboxState(c.ConfigDir)
	if err != nil {
		return nil, err
	}

	return &watcher{
		config:  c,
		match:   match,
		logger:  c.Logger,
		state:   state,
		pending: make(map[string]*time.Timer),
	}, nil
}

// compilePatterns joins comma separated glob patterns into one
// alternation matched against lower-cased file names.
func compilePatterns(patterns string) (glob.Glob, error) {
	list := config.List(strings.ToLower(patterns))
	if len(list) == 0 {
		return nil, errors.New("at least one inbox pattern is required")
	}
	g, err := glob.Compile("{" + strings.Join(list, ",") + "}")
	if err != nil {
		return nil, fmt.Errorf("invalid inbox patterns %q: %w", patterns, err)
	}
	return g, nil
}

func (w *watcher) matches(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return w.match.Match(strings.ToLower(name))
}

// Run uploads files already in the inbox, then watches it until ctx is
// done.
func (w *watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating inbox watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.config.Dir); err != nil {
		return fmt.Errorf("watching inbox: %w", err)
	}
	if err := w.Scan(ctx); err != nil {
		return err
	}
	w.logger.Info("watching inbox", "dir", w.config.Dir, "patterns", w.config.Patterns)

	defer w.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if w.matches(event.Name) {
				w.schedule(ctx, event.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("inbox watcher error: %w", err)
		}
	}
}

// Scan uploads every matching regular file in the inbox that has not been
// uploaded yet.
func (w *watcher) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.config.Dir)
	if err != nil {
		return fmt.Errorf("reading inbox: %w", err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || !w.matches(e.Name()) {
			continue
		}
		if err := w.upload(ctx, filepath.Join(w.config.Dir, e.Name())); err != nil {
			w.logger.Warn("inbox upload failed", "file", e.Name(), "error", err)
		}
	}
	return nil
}

// schedule (re)starts the settle timer of path; the upload runs once no
// write has been seen for the settle period.
func (w *watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Reset(w.config.Settle)
		return
	}
	w.wg.Add(1)
	w.pending[path] = time.AfterFunc(w.config.Settle, func() {
		defer w.wg.Done()
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if err := w.upload(ctx, path); err != nil && ctx.Err() == nil {
			w.logger.Warn("inbox upload failed", "file", filepath.Base(path), "error", err)
		}
	})
}

func (w *watcher) stop() {
	w.mu.Lock()
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *watcher) upload(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	w.mu.Lock()
	seen := w.state.Seen(path, info.Size())
	w.mu.Unlock()
	if seen {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := w.config.Service.Upload(ctx, pipeline.UploadRequest{
		UserID:   w.config.UserID,
		Filename: filepath.Base(path),
		Reader:   f,
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.Record(path, dotdir.InboxEntry{
		ConversationID: res.ConversationID,
		JobID:          res.JobID,
		Size:           info.Size(),
		UploadedAt:     time.Now().UTC(),
	})
	if err := w.config.Dotdir.SaveInboxState(w.state, w.config.ConfigDir); err != nil {
		return err
	}

	w.logger.Info("uploaded recording",
		"file", filepath.Base(path),
		"conversation_id", res.ConversationID,
		"job_id", res.JobID,
	)
	return nil
}
