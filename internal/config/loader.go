package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/agentwarden/gateway/internal/gwerr"
)

// Loader reads a Config from YAML, applies ${VAR} / ${VAR:-default}
// environment substitution before parsing, and can watch the file and
// reload the whole Config when it changes. Policies live in the
// reference store and are not reloaded by it.
type Loader struct {
	mu       sync.RWMutex
	cfg      Config
	path     string
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	watchDone chan struct{}
}

// NewLoader builds a Loader seeded with DefaultConfig, so Get() returns
// a usable config even before Load is ever called.
func NewLoader() *Loader {
	return &Loader{cfg: *DefaultConfig(), logger: slog.Default().With("component", "config.Loader")}
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// substituteEnvVars expands ${VAR} and ${VAR:-default} references
// against the process environment, leaving an unset VAR with no
// default as an empty string.
func substituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, def := groups[1], groups[3]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return def
	})
}

// Load reads, env-substitutes, and strictly decodes the YAML config at
// path. A file referencing unknown fields (an alternate or legacy
// schema) is rejected with gwerr.ErrConfigSchema rather than silently
// dropping the unrecognized keys.
func (l *Loader) Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := substituteEnvVars(string(raw))

	cfg := *DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return fmt.Errorf("%w: %s: %v", gwerr.ErrConfigSchema, path, err)
	}

	l.mu.Lock()
	l.cfg = cfg
	l.path = path
	l.mu.Unlock()
	return nil
}

// Get returns a copy of the currently loaded config.
func (l *Loader) Get() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// FilePath returns the path last passed to Load, or "" if Load has
// never succeeded.
func (l *Loader) FilePath() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.path
}

// Reload re-reads the file at FilePath(). It is a no-op error if Load
// has never been called.
func (l *Loader) Reload() error {
	path := l.FilePath()
	if path == "" {
		return fmt.Errorf("config: Reload called before Load")
	}
	return l.Load(path)
}

// GenerateDefault writes a starter gateway.yaml at path, used by the
// CLI's init subcommand.
func GenerateDefault(path string) error {
	cfg := DefaultConfig()
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal default: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil && filepath.Dir(path) != "." {
		return fmt.Errorf("config: create dir for %s: %w", path, err)
	}
	return os.WriteFile(path, out, 0644)
}

// WatchConfig starts an fsnotify watcher on the loaded file's
// directory (catching editor rename-and-replace patterns) and invokes
// onReload whenever it changes, after re-running Load. Call StopWatch
// to clean up.
func (l *Loader) WatchConfig(onReload func(path string)) error {
	path := l.FilePath()
	if path == "" {
		return fmt.Errorf("config: WatchConfig called before Load")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher != nil {
		l.stopWatchLocked()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: resolve path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	dir := filepath.Dir(absPath)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("config: watch dir %s: %w", dir, err)
	}

	l.watcher = w
	l.watchDone = make(chan struct{})
	go l.watchLoop(absPath, onReload)

	l.logger.Info("watching config for changes", "path", absPath)
	return nil
}

func (l *Loader) watchLoop(targetPath string, onReload func(string)) {
	defer close(l.watchDone)
	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			absEvent, _ := filepath.Abs(event.Name)
			if absEvent != targetPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := l.Reload(); err != nil {
					l.logger.Error("config hot-reload failed", "error", err)
					continue
				}
				l.logger.Info("config reloaded", "path", targetPath)
				onReload(targetPath)
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error("fsnotify error", "error", err)
		}
	}
}

// StopWatch stops the config file watcher, if running.
func (l *Loader) StopWatch() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopWatchLocked()
}

func (l *Loader) stopWatchLocked() {
	if l.watcher != nil {
		_ = l.watcher.Close()
		if l.watchDone != nil {
			<-l.watchDone
		}
		l.watcher = nil
		l.watchDone = nil
	}
}
