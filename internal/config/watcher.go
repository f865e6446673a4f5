package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/moolen/lookout/internal/logging"
)

// ReloadCallback is called with every successfully reloaded config.
// A returned error is logged and the watcher keeps running.
type ReloadCallback func(cfg *Config) error

// WatcherConfig holds configuration for the Watcher.
type WatcherConfig struct {
	FilePath string

	// DebounceMillis coalesces bursts of file events (editor save
	// sequences) into one reload. Default: 500ms.
	DebounceMillis int
}

// Watcher reloads the config file when it changes. Invalid files are
// logged and skipped; the previous config stays in effect.
type Watcher struct {
	config   WatcherConfig
	callback ReloadCallback
	logger   *logging.Logger
	cancel   context.CancelFunc
	stopped  chan struct{}
	ready    chan struct{}
	mu       sync.Mutex

	debounceTimer *time.Timer
}

// NewWatcher creates a watcher for the given config file.
func NewWatcher(config WatcherConfig, callback ReloadCallback) (*Watcher, error) {
	if config.FilePath == "" {
		return nil, fmt.Errorf("FilePath cannot be empty")
	}
	if callback == nil {
		return nil, fmt.Errorf("callback cannot be nil")
	}
	if config.DebounceMillis == 0 {
		config.DebounceMillis = 500
	}

	return &Watcher{
		config:   config,
		callback: callback,
		logger:   logging.GetLogger("config.watcher"),
		stopped:  make(chan struct{}),
		ready:    make(chan struct{}),
	}, nil
}

// Name implements lifecycle.Component.
func (w *Watcher) Name() string { return "config-watcher" }

// Start begins watching the file and returns once the underlying fsnotify
// watch is in place. Unlike the initial Load, Start does not invoke the
// callback for the current file contents.
func (w *Watcher) Start(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	go w.watchLoop(watchCtx)

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	case <-time.After(5 * time.Second):
		cancel()
		return fmt.Errorf("timeout waiting for file watcher to initialize")
	}
}

func (w *Watcher) signalReady() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.ready:
	default:
		close(w.ready)
	}
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.stopped)
	defer w.signalReady()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.ErrorWithErr("failed to create file watcher", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(w.config.FilePath); err != nil {
		w.logger.ErrorWithFields("failed to watch config file",
			logging.Field("path", w.config.FilePath),
			logging.Field("error", err))
		return
	}

	w.logger.DebugWithFields("watching config file",
		logging.Field("path", w.config.FilePath),
		logging.Field("debounce_ms", w.config.DebounceMillis))
	w.signalReady()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			// Atomic writes replace the inode; the watch must be re-added.
			if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				time.Sleep(50 * time.Millisecond)
				if err := watcher.Add(w.config.FilePath); err != nil {
					w.logger.Warn("failed to re-add watch after %s: %v", event.Op, err)
				}
			}
			w.handleFileChange(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.ErrorWithErr("watcher error", err)
		}
	}
}

func (w *Watcher) handleFileChange(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(
		time.Duration(w.config.DebounceMillis)*time.Millisecond,
		func() { w.reload(ctx) },
	)
}

func (w *Watcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	cfg, err := Load(w.config.FilePath)
	if err != nil {
		w.logger.WarnWithFields("config reload failed, keeping previous config",
			logging.Field("path", w.config.FilePath),
			logging.Field("error", err))
		return
	}

	if err := w.callback(cfg); err != nil {
		w.logger.ErrorWithErr("config reload callback failed", err)
		return
	}
	w.logger.InfoWithFields("config reloaded", logging.Field("path", w.config.FilePath))
}

// Stop cancels the watch loop and waits up to five seconds for it to exit.
func (w *Watcher) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}

	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.mu.Unlock()

	select {
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for watcher to stop")
	}
}
