package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

type Handler struct {
	// OnFile is called for every regular file that appears under the root.
	OnFile func(path string)
	// OnSettled is called once no new file has appeared for the debounce
	// window.
	OnSettled func()
}

type Watcher struct {
	root     string
	debounce time.Duration
	fs       *fsnotify.Watcher
	log      *zap.Logger
}

// New registers root and every directory below it. Symbolic links are not
// followed.
func New(root string, debounce time.Duration, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		root:     root,
		debounce: debounce,
		fs:       fw,
		log:      log.With(zap.String("root", root)),
	}
	if err := w.addTree(root, nil); err != nil {
		fw.Close()
		return nil, fmt.Errorf("add watch dirs: %w", err)
	}
	return w, nil
}

// addTree watches dir and its subdirectories, reporting files already
// present when emit is set.
func (w *Watcher) addTree(dir string, emit func(string)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			w.log.Debug("skipping unreadable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			return w.fs.Add(path)
		}
		if emit != nil && d.Type().IsRegular() {
			emit(path)
		}
		return nil
	})
}

// Run delivers events to h until ctx is done. The underlying watcher is
// closed on return.
func (w *Watcher) Run(ctx context.Context, h Handler) error {
	defer w.fs.Close()

	onFile := h.OnFile
	if onFile == nil {
		onFile = func(string) {}
	}

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false
	emit := func(path string) {
		onFile(path)
		if !pending {
			timer.Reset(w.debounce)
			pending = true
		}
	}

	w.log.Info("watching for new files")
	for {
		select {
		case <-ctx.Done():
			if pending && h.OnSettled != nil {
				h.OnSettled()
			}
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			w.handleCreate(event.Name, emit)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))
		case <-timer.C:
			pending = false
			if h.OnSettled != nil {
				h.OnSettled()
			}
		}
	}
}

func (w *Watcher) handleCreate(path string, emit func(string)) {
	info, err := os.Lstat(path)
	if err != nil {
		// already gone
		return
	}

	mode := info.Mode()
	switch {
	case mode&fs.ModeSymlink != 0:
		return
	case mode.IsDir():
		if err := w.addTree(path, emit); err != nil {
			w.log.Warn("failed to watch new directory", zap.String("dir", path), zap.Error(err))
		}
	case mode.IsRegular():
		emit(path)
	}
}
