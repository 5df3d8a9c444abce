package config

import (
	"context"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vyrodovalexey/avalimit/internal/observability"
)

// DefaultDebounceDelay coalesces the burst of events an editor save produces.
const DefaultDebounceDelay = 100 * time.Millisecond

// RateLimitCallback receives the rate_limit section after a reload that
// changed it.
type RateLimitCallback func(RateLimitConfig)

// ErrorCallback is called when a reload fails to load or validate.
type ErrorCallback func(error)

// Watcher watches the configuration file and reports rate_limit changes.
// Only policy tables are reloadable; other sections need a restart and a
// change to them is logged and ignored.
type Watcher struct {
	path          string
	watcher       *fsnotify.Watcher
	callback      RateLimitCallback
	errorCallback ErrorCallback
	logger        observability.Logger
	debounceDelay time.Duration
	loader        *Loader

	mu        sync.RWMutex
	current   *Config
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// WatcherOption is a functional option for configuring the watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets the debounce delay for file changes.
func WithDebounceDelay(delay time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDelay = delay
	}
}

// WithLogger sets the logger for the watcher.
func WithLogger(logger observability.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithErrorCallback sets the error callback for the watcher.
func WithErrorCallback(callback ErrorCallback) WatcherOption {
	return func(w *Watcher) {
		w.errorCallback = callback
	}
}

// WithLoader sets the loader used for reloads.
func WithLoader(loader *Loader) WatcherOption {
	return func(w *Watcher) {
		w.loader = loader
	}
}

// NewWatcher creates a watcher for path. current is the configuration the
// process started with and is the baseline for change detection.
func NewWatcher(
	path string,
	current *Config,
	callback RateLimitCallback,
	opts ...WatcherOption,
) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:          absPath,
		watcher:       fsWatcher,
		callback:      callback,
		debounceDelay: DefaultDebounceDelay,
		logger:        observability.NopLogger(),
		loader:        NewLoader(),
		current:       current,
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Start begins watching. It returns after the watch is registered.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}

	w.logger.Info("watching configuration file",
		observability.String("path", w.path),
	)

	go w.watch(ctx)

	return nil
}

// Stop stops watching and waits for the loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.stoppedCh

	return w.watcher.Close()
}

// Current returns the last successfully applied configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.stoppedCh)

	var debounce *time.Timer
	var debounceCh <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("config file changed",
				observability.String("op", event.Op.String()),
			)
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(w.debounceDelay)
			debounceCh = debounce.C

		case <-debounceCh:
			debounceCh = nil
			_ = w.Reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.fail("config watcher error", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// Reload reads and validates the file now. The callback runs only when the
// rate_limit section differs from the current one.
func (w *Watcher) Reload() error {
	next, err := w.loader.Load(w.path)
	if err != nil {
		w.fail("failed to load configuration", err)
		return err
	}

	if err := ValidateConfig(next); err != nil {
		w.fail("configuration validation failed", err)
		return err
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	w.mu.Unlock()

	if prev != nil && !reflect.DeepEqual(restartOnly(prev), restartOnly(next)) {
		w.logger.Warn("configuration outside rate_limit changed; restart to apply")
	}

	if prev != nil && reflect.DeepEqual(prev.RateLimit, next.RateLimit) {
		w.logger.Debug("rate limit configuration unchanged")
		return nil
	}

	w.logger.Info("rate limit configuration reloaded",
		observability.Int("routes", len(next.RateLimit.Routes)),
	)

	if w.callback != nil {
		w.callback(next.RateLimit)
	}
	return nil
}

func (w *Watcher) fail(msg string, err error) {
	w.logger.Error(msg, observability.Error(err))
	if w.errorCallback != nil {
		w.errorCallback(err)
	}
}

// restartOnly returns cfg without the reloadable section.
func restartOnly(cfg *Config) Config {
	c := *cfg
	c.RateLimit = RateLimitConfig{}
	return c
}
