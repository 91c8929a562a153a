package config

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher watches a config file for changes and invokes onReload with the
// freshly-parsed Config. It never panics or exits the process on a bad
// edit; a reload that fails to parse or validate is logged and the
// previous config stays in effect, the same best-effort posture the
// /config/reload HTTP operation uses for a manually-triggered reload.
type Watcher struct {
	path     string
	onReload func(*Config)
	log      zerolog.Logger
}

// NewWatcher builds a Watcher for path. onReload is called with each
// successfully parsed reload; it is never called concurrently with itself.
func NewWatcher(path string, onReload func(*Config), log zerolog.Logger) *Watcher {
	return &Watcher{
		path:     path,
		onReload: onReload,
		log:      log.With().Str("component", "config-watcher").Logger(),
	}
}

// Run blocks watching the config file until ctx is cancelled. Errors
// starting the underlying fsnotify watcher are returned; errors during
// individual reload attempts are logged and do not stop the watch loop.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fw, event)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) handleEvent(fw *fsnotify.Watcher, event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	// Editors that replace the file (rename-over-write) drop the original
	// inode from the watch; re-add defensively so later edits still fire.
	_ = fw.Add(w.path)

	cfg, err := New(w.path)
	if err != nil {
		w.log.Warn().Err(err).Str("path", w.path).Msg("config reload failed, keeping previous config")
		return
	}

	w.log.Info().Str("path", w.path).Msg("config reloaded")
	w.onReload(cfg)
}
