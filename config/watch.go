package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settle gives editors time to finish writing before the file is re-read.
const settle = 100 * time.Millisecond

// Watcher reloads a config file when it changes on disk and hands every valid
// result to the callback. Invalid files are logged and ignored, so the last
// good configuration stays in force.
type Watcher struct {
	path     string
	onChange func(*Config)
	log      *slog.Logger
	lastMod  time.Time
}

func NewWatcher(path string, onChange func(*Config), log *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	w := &Watcher{path: abs, onChange: onChange, log: log}
	if info, err := os.Stat(abs); err == nil {
		w.lastMod = info.ModTime()
	}
	return w, nil
}

// Run watches the file's directory until ctx is cancelled. The directory is
// watched rather than the file because editors replace files by rename.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(settle):
				}
				w.reload()
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", "err", err)
		}
	}
}

func (w *Watcher) reload() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config stat failed", "path", w.path, "err", err)
		return
	}
	if !info.ModTime().After(w.lastMod) {
		return
	}
	w.lastMod = info.ModTime()

	cfg, err := LoadFromFile(w.path)
	if err != nil {
		w.log.Error("config reload rejected", "path", w.path, "err", err)
		return
	}
	w.log.Info("config reloaded", "path", w.path)
	w.onChange(cfg)
}
