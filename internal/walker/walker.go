package walker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

var ErrNotDirectory = errors.New("walker: root is not a directory")

type Config struct {
	Workers int
	Buffer  int
}

type Walker struct {
	config *Config
	log    *zap.Logger
}

func New(config *Config, log *zap.Logger) *Walker {
	if config == nil {
		config = &Config{}
	}
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers()
	}
	if config.Buffer <= 0 {
		config.Buffer = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Walker{config: config, log: log}
}

// DefaultWorkers leaves one CPU for the consumer of the stream.
func DefaultWorkers() int {
	return max(1, runtime.NumCPU()-1)
}

func (w *Walker) Workers() int {
	return w.config.Workers
}

// Walk starts the workers and returns a stream of regular-file paths under
// root. The channel is closed when the whole tree has been visited or ctx is
// done. Callers must drain it or cancel ctx. Symbolic links are never
// followed below root.
func (w *Walker) Walk(ctx context.Context, root string) (<-chan string, error) {
	if err := checkRoot(root); err != nil {
		return nil, err
	}

	q := NewQueue(w.config.Workers, root)
	out := make(chan string, w.config.Buffer)

	log := w.log.With(zap.String("root", root))
	log.Debug("starting walk", zap.Int("workers", w.config.Workers))

	var wg sync.WaitGroup
	for i := 0; i < w.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.worker(ctx, workerID, q, out)
		}(i)
	}

	stop := context.AfterFunc(ctx, q.Close)
	go func() {
		wg.Wait()
		stop()

		st := q.Status()
		log.Debug("walk completed", zap.Int("directories", st.Pops))
		close(out)
	}()

	return out, nil
}

func (w *Walker) worker(ctx context.Context, workerID int, q *Queue, out chan<- string) {
	for {
		dir, ok := q.Pop()
		if !ok {
			return
		}

		files, subdirs, err := readDir(dir)
		if err != nil {
			w.log.Debug("skipping unreadable directory",
				zap.Int("worker", workerID), zap.String("dir", dir), zap.Error(err))
		}

		q.Push(subdirs...)

		for _, path := range files {
			select {
			case out <- path:
			case <-ctx.Done():
				q.Close()
				return
			}
		}
	}
}

// readDir splits the entries of dir into regular files and subdirectories.
// Entries read before an error are still returned.
func readDir(dir string) (files, subdirs []string, err error) {
	entries, err := os.ReadDir(dir)
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		switch classify(path, entry) {
		case kindDir:
			subdirs = append(subdirs, path)
		case kindFile:
			files = append(files, path)
		}
	}
	return files, subdirs, err
}

type kind int

const (
	kindSkip kind = iota
	kindDir
	kindFile
)

func classify(path string, entry fs.DirEntry) kind {
	if entry.Type()&fs.ModeSymlink != 0 {
		return kindSkip
	}

	// Some filesystems report an unknown type in the directory entry.
	info, err := os.Lstat(path)
	if err != nil {
		return kindSkip
	}

	mode := info.Mode()
	switch {
	case mode&fs.ModeSymlink != 0:
		return kindSkip
	case mode.IsDir():
		return kindDir
	case mode.IsRegular():
		return kindFile
	}
	return kindSkip
}

func checkRoot(root string) error {
	f, err := os.Open(root)
	if err != nil {
		return fmt.Errorf("failed to open root %s: %w", root, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat root %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	if _, err := f.ReadDir(1); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read root %s: %w", root, err)
	}
	return nil
}
