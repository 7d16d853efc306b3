package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a config file path and signals RebootChan whenever the
// file changes and reparses cleanly. Unlike the teacher's diff-then-patch
// scheme, every change is treated as reboot-worthy (spec.md §4.6): there is
// no in-place hot-patch path here, just reload-validate-signal.
type Watcher struct {
	configPath string
	fsw        *fsnotify.Watcher

	mu          sync.Mutex
	watching    bool
	lastModTime time.Time

	rebootChan chan *Config
	errorChan  chan error
}

// NewWatcher creates a Watcher for the config file at path.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create file watcher: %w", err)
	}
	var lastModTime time.Time
	if info, err := os.Stat(path); err == nil {
		lastModTime = info.ModTime()
	}
	return &Watcher{
		configPath:  path,
		fsw:         fsw,
		lastModTime: lastModTime,
		rebootChan:  make(chan *Config, 1),
		errorChan:   make(chan error, 10),
	}, nil
}

// Start begins watching the config file's directory until ctx is
// cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watching {
		return fmt.Errorf("config: watcher already running")
	}
	dir := filepath.Dir(w.configPath)
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("config: watch directory %s: %w", dir, err)
	}
	w.watching = true
	go w.loop(ctx)
	return nil
}

// Stop releases the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.watching {
		return nil
	}
	w.watching = false
	return w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Name == w.configPath && (event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create) {
				time.Sleep(100 * time.Millisecond) // let the writer finish
				w.handleChange()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.pushError(err)
		case <-ticker.C:
			w.checkModTime()
		}
	}
}

func (w *Watcher) checkModTime() {
	info, err := os.Stat(w.configPath)
	if err != nil {
		return
	}
	w.mu.Lock()
	changed := info.ModTime().After(w.lastModTime)
	w.mu.Unlock()
	if changed {
		w.handleChange()
	}
}

func (w *Watcher) handleChange() {
	info, err := os.Stat(w.configPath)
	if err != nil {
		w.pushError(fmt.Errorf("config: stat after change: %w", err))
		return
	}

	w.mu.Lock()
	if !info.ModTime().After(w.lastModTime) {
		w.mu.Unlock()
		return
	}
	w.lastModTime = info.ModTime()
	w.mu.Unlock()

	cfg, err := Load(w.configPath)
	if err != nil {
		w.pushError(fmt.Errorf("config: reload failed, keeping previous config: %w", err))
		return
	}

	select {
	case w.rebootChan <- cfg:
	default:
	}
}

func (w *Watcher) pushError(err error) {
	select {
	case w.errorChan <- err:
	default:
	}
}

// RebootChan delivers a freshly validated Config every time the watched
// file changes. The supervisor reads from this channel and performs a full
// shutdown+restart.
func (w *Watcher) RebootChan() <-chan *Config { return w.rebootChan }

// ErrorChan delivers reload/validation errors. A reload error never
// interrupts the running engine; the previous config stays in force.
func (w *Watcher) ErrorChan() <-chan error { return w.errorChan }
