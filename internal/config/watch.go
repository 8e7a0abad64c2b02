package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watcher applies a restricted set of config keys to a running daemon
// whenever the on-disk config file changes, without requiring a restart.
// Only keys in hotReloadable are ever applied; everything else in the
// file is re-read but discarded — changing, say, daemon.socket_path while
// the daemon is bound to the old one would be observed by nobody.
type Watcher struct {
	path    string
	apply   func(reloaded *Config)
	onError func(error)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher builds a Watcher over the config file at path. apply is called
// with the freshly loaded Config each time the file changes; callers are
// expected to read only the hot-reloadable fields out of it (use
// IsHotReloadable to check before acting on an arbitrary key).
func NewWatcher(path string, apply func(reloaded *Config)) (*Watcher, error) {
	w := &Watcher{
		path:  path,
		apply: apply,
		done:  make(chan struct{}),
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	w.watcher = fw

	go w.loop()
	return w, nil
}

// OnError installs a callback for reload errors (e.g. the file is briefly
// unparseable mid-write). Optional; errors are otherwise dropped silently,
// matching the notify loop's "ignore errors, keep watching" stance.
func (w *Watcher) OnError(fn func(error)) {
	w.onError = fn
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

func (w *Watcher) reload() {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(w.path)
	if err := v.ReadInConfig(); err != nil {
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		if w.onError != nil {
			w.onError(err)
		}
		return
	}
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	w.apply(cfg)
}

// Close stops the watcher goroutine and releases the underlying fsnotify
// watch.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	return w.watcher.Close()
}
