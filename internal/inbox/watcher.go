// Package inbox watches a drop directory for conversation transcripts and
// feeds each one to memory analysis.
//
// Writers should create files under a dot-prefixed or non-.json name and
// rename them into place; only *.json files are read. Analyzed files move to
// processed/ and rejected ones to failed/.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/scrypster/rapport/internal/engine"
	"github.com/scrypster/rapport/pkg/types"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
)

// AnalyzeFunc analyzes one user's messages. engine.Service.Analyze fits.
type AnalyzeFunc func(ctx context.Context, userID string, messages []types.Message) (*engine.AnalyzeResult, error)

// Config holds inbox configuration.
type Config struct {
	Dir    string
	Logger *log.Logger
}

// Watcher dispatches transcript files to an AnalyzeFunc.
type Watcher struct {
	dir     string
	analyze AnalyzeFunc
	logger  *log.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates the inbox directories.
func New(cfg Config, analyze AnalyzeFunc) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("inbox: directory is required")
	}
	if analyze == nil {
		return nil, errors.New("inbox: analyze func is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	for _, sub := range []string{"", processedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(cfg.Dir, sub), 0o700); err != nil {
			return nil, fmt.Errorf("inbox: mkdir %s: %w", cfg.Dir, err)
		}
	}
	return &Watcher{dir: cfg.Dir, analyze: analyze, logger: cfg.Logger}, nil
}

// Start processes files already in the directory, then watches for new ones.
// Analysis runs under ctx. Call Stop to clean up.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return errors.New("inbox: already started")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	go w.loop()
	w.logger.Info("watching for transcripts", "dir", w.dir)
	return nil
}

// Stop cancels in-flight analysis and waits for the watch loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	fw, done, cancel := w.watcher, w.done, w.cancel
	w.mu.Unlock()
	if fw == nil {
		return
	}
	cancel()
	_ = fw.Close()
	<-done
}

func (w *Watcher) loop() {
	defer close(w.done)

	// Files dropped before the watch was registered show up here.
	w.drainExisting()

	for {
		select {
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write) != 0 && isTranscript(evt.Name) {
				w.processFile(evt.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "err", err)
		}
	}
}

func (w *Watcher) drainExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && isTranscript(entry.Name()) {
			w.processFile(filepath.Join(w.dir, entry.Name()))
		}
	}
}

func (w *Watcher) processFile(path string) {
	if w.ctx.Err() != nil {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return // already moved by an earlier event
	}
	name := filepath.Base(path)

	t, err := ParseTranscript(name, data)
	if err == nil {
		var res *engine.AnalyzeResult
		res, err = w.analyze(w.ctx, t.UserID, t.Messages)
		if err == nil {
			w.logger.Info("transcript analyzed", "file", name, "user_id", t.UserID, "messages", len(t.Messages), "created", res != nil && res.Created)
			w.move(path, processedDir)
			return
		}
	}
	if w.ctx.Err() != nil {
		// Shutting down; leave the file for the next start.
		return
	}
	w.logger.Warn("transcript rejected", "file", name, "err", err)
	w.move(path, failedDir)
}

func (w *Watcher) move(path, sub string) {
	dest := filepath.Join(w.dir, sub, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		w.logger.Error("failed to move transcript", "file", path, "to", sub, "err", err)
	}
}

func isTranscript(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, ".json") && !strings.HasPrefix(base, ".")
}
