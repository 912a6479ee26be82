package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deidaraiorek/deifind/internal/annotate"
	"github.com/deidaraiorek/deifind/internal/config"
	"github.com/deidaraiorek/deifind/internal/embedding"
	"github.com/deidaraiorek/deifind/internal/fileindex"
	"github.com/deidaraiorek/deifind/internal/pipeline"
	"github.com/deidaraiorek/deifind/internal/storage"
	"github.com/deidaraiorek/deifind/internal/walker"
	"github.com/deidaraiorek/deifind/internal/watcher"
)

var (
	ErrImageSearchDisabled = errors.New("image search is not enabled")
	ErrClosed              = errors.New("service is closed")
)

// Service owns the application state behind the five entry points. Filename
// search works from construction; image search needs EnableImageSearch.
type Service struct {
	config *config.Config
	log    *zap.Logger
	files  *fileindex.Index
	walker *walker.Walker

	engine  *embedding.Engine
	queries *embedding.Cache

	mu       sync.Mutex
	saveMu   sync.Mutex
	provider annotate.Provider
	store    *storage.Store
	pipeline *pipeline.Pipeline
	enabled  bool
	closed   bool

	// inflight counts image operations holding the store; Close waits on it.
	inflight sync.WaitGroup
	stop     context.Context
	cancel   context.CancelFunc
}

type Option func(*Service)

// WithProvider replaces the configured annotation provider.
func WithProvider(p annotate.Provider) Option {
	return func(s *Service) {
		s.provider = p
	}
}

func New(cfg *config.Config, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}

	files, err := fileindex.Load(cfg.IndexPath())
	if err != nil {
		log.Warn("starting with an empty filename index", zap.String("path", cfg.IndexPath()), zap.Error(err))
	}

	engine := embedding.New(
		embedding.WithStemming(cfg.Search.Stemming),
		embedding.WithSeparatorSplit(cfg.Search.SplitSeparators),
	)
	stop, cancel := context.WithCancel(context.Background())
	s := &Service{
		config:  cfg,
		log:     log,
		files:   files,
		walker:  walker.New(&walker.Config{Workers: cfg.Workers}, log.Named("walker")),
		engine:  engine,
		queries: embedding.NewCache(engine, cfg.Search.QueryCacheSize, cfg.Search.QueryCacheTTL),
		stop:    stop,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	log.Info("filename index loaded", zap.Int("names", files.Len()), zap.Int("paths", files.Paths()))
	return s
}

// IndexDirectory adds every file under root to the filename index and saves
// the index. It returns the number of paths that were not indexed before.
func (s *Service) IndexDirectory(ctx context.Context, root string) (int, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve root: %w", err)
	}

	start := time.Now()
	stream, err := s.walker.Walk(ctx, root)
	if err != nil {
		return 0, err
	}

	added := 0
	for path := range stream {
		if s.files.Insert(path) {
			added++
		}
	}
	if err := ctx.Err(); err != nil {
		return added, err
	}

	if err := s.saveIndex(); err != nil {
		return added, err
	}

	s.log.Info("indexed directory",
		zap.String("root", root),
		zap.Int("added", added),
		zap.Int("paths", s.files.Paths()),
		zap.Duration("duration", time.Since(start)))
	return added, nil
}

func (s *Service) saveIndex() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if err := s.files.Save(s.config.IndexPath()); err != nil {
		return fmt.Errorf("failed to save filename index: %w", err)
	}
	return nil
}

// EnablePrefixSearch reports whether this call switched prefix search on.
func (s *Service) EnablePrefixSearch() bool {
	enabled := s.files.EnablePrefixSearch()
	if enabled {
		s.log.Info("prefix search enabled", zap.Int("names", s.files.Len()))
	}
	return enabled
}

func (s *Service) SearchFilenames(query string) []fileindex.Match {
	return s.files.Search(query)
}

// EnableImageSearch loads the embedding table, opens the image store and
// builds the annotation provider. On failure image search stays disabled
// and the call may be retried.
func (s *Service) EnableImageSearch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.enabled {
		return nil
	}

	if !s.engine.Loaded() {
		start := time.Now()
		if err := s.engine.Load(s.config.EmbeddingsPath); err != nil {
			return fmt.Errorf("failed to load embeddings: %w", err)
		}
		s.log.Info("embeddings loaded",
			zap.Int("words", s.engine.Len()),
			zap.Int("dim", s.engine.Dim()),
			zap.Duration("duration", time.Since(start)))
	}

	provider := s.provider
	if provider == nil {
		p, err := annotate.New(s.config.Annotator)
		if err != nil {
			return fmt.Errorf("failed to create annotator: %w", err)
		}
		provider = p
	}

	store, err := storage.Open(s.config.DBPath())
	if err != nil {
		return err
	}

	s.provider = provider
	s.store = store
	s.pipeline = pipeline.New(s.config.Pipeline, s.config.Annotator.Timeout, store, provider, s.engine, s.log.Named("pipeline"))
	s.enabled = true

	s.log.Info("image search enabled", zap.String("provider", provider.Name()), zap.String("db", s.config.DBPath()))
	return nil
}

func (s *Service) ImageSearchEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// acquire registers an image operation. The returned context is cancelled
// when the caller's context is done or the service starts closing, and
// release must be called once the operation no longer touches the store.
func (s *Service) acquire(ctx context.Context) (context.Context, *storage.Store, *pipeline.Pipeline, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return nil, nil, nil, nil, ErrImageSearchDisabled
	}
	s.inflight.Add(1)

	ctx, cancel := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(s.stop, cancel)
	release := func() {
		stopAfter()
		cancel()
		s.inflight.Done()
	}
	return ctx, s.store, s.pipeline, release, nil
}

// IndexImages annotates and stores every new image under root.
func (s *Service) IndexImages(ctx context.Context, root string) (pipeline.Stats, error) {
	ctx, _, p, release, err := s.acquire(ctx)
	if err != nil {
		return pipeline.Stats{}, err
	}
	defer release()

	root, err = filepath.Abs(root)
	if err != nil {
		return pipeline.Stats{}, fmt.Errorf("failed to resolve root: %w", err)
	}

	stream, err := s.walker.Walk(ctx, root)
	if err != nil {
		return pipeline.Stats{}, err
	}
	return p.Run(ctx, stream)
}

// SearchImages returns the k stored images closest to query. A k of zero
// uses the configured default.
func (s *Service) SearchImages(ctx context.Context, query string, k int) ([]ImageResult, error) {
	ctx, store, _, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	if k <= 0 {
		k = s.config.Search.TopK
	}

	qv, err := s.queries.AverageVector(query)
	if err != nil {
		return nil, err
	}
	if embedding.IsZero(qv) {
		s.log.Debug("query has no known words", zap.String("query", query))
		return nil, nil
	}

	candidates, err := store.Vectors(ctx)
	if err != nil {
		return nil, err
	}
	return Rank(qv, candidates, k), nil
}

// WatchDirectory keeps adding files created under root to the filename index
// until ctx is done, saving the index whenever activity settles.
func (s *Service) WatchDirectory(ctx context.Context, root string) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve root: %w", err)
	}

	w, err := watcher.New(root, s.config.WatchDebounce, s.log.Named("watcher"))
	if err != nil {
		return err
	}

	added := 0
	return w.Run(ctx, watcher.Handler{
		OnFile: func(path string) {
			if s.files.Insert(path) {
				added++
			}
		},
		OnSettled: func() {
			if added == 0 {
				return
			}
			if err := s.saveIndex(); err != nil {
				s.log.Error("failed to save filename index", zap.Error(err))
				return
			}
			s.log.Info("saved filename index", zap.Int("added", added))
			added = 0
		},
	})
}

// Close cancels running image operations, waits for them to let go of the
// store and then closes it. Image search cannot be enabled again afterwards.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.enabled = false
	store := s.store
	s.store = nil
	s.pipeline = nil
	s.mu.Unlock()

	s.cancel()
	s.inflight.Wait()

	if store == nil {
		return nil
	}
	return store.Close()
}
