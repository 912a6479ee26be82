package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/deidaraiorek/deifind/internal/annotate"
	"github.com/deidaraiorek/deifind/internal/config"
	"github.com/deidaraiorek/deifind/internal/embedding"
	"github.com/deidaraiorek/deifind/internal/storage"
)

type Outcome int

const (
	Indexed Outcome = iota
	SkippedNotImage
	SkippedSymlink
	SkippedDimensions
	SkippedExisting
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Indexed:
		return "indexed"
	case SkippedNotImage:
		return "not_image"
	case SkippedSymlink:
		return "symlink"
	case SkippedDimensions:
		return "bad_dimensions"
	case SkippedExisting:
		return "existing"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

type Stats struct {
	Indexed       int `json:"indexed"`
	NotImage      int `json:"not_image"`
	Symlink       int `json:"symlink"`
	BadDimensions int `json:"bad_dimensions"`
	Existing      int `json:"existing"`
	Failed        int `json:"failed"`
}

func (s *Stats) add(o Outcome) {
	switch o {
	case Indexed:
		s.Indexed++
	case SkippedNotImage:
		s.NotImage++
	case SkippedSymlink:
		s.Symlink++
	case SkippedDimensions:
		s.BadDimensions++
	case SkippedExisting:
		s.Existing++
	case Failed:
		s.Failed++
	}
}

func (s Stats) Total() int {
	return s.Indexed + s.NotImage + s.Symlink + s.BadDimensions + s.Existing + s.Failed
}

// maxBackoff caps the wait between two attempts on the same file.
const maxBackoff = 30 * time.Second

var errNoAnnotation = fmt.Errorf("%w: provider returned no annotation", annotate.ErrMalformedResponse)

type Store interface {
	ExistsByPath(ctx context.Context, path string) (bool, error)
	Save(ctx context.Context, img *storage.Image) error
}

type Encoder interface {
	AverageVector(text string) ([]float32, error)
}

// Pipeline turns discovered files into stored image vectors. Every call to
// the annotation provider, retries included, waits on one shared limiter.
type Pipeline struct {
	config   config.PipelineConfig
	timeout  time.Duration
	store    Store
	provider annotate.Provider
	encoder  Encoder
	limiter  *rate.Limiter
	log      *zap.Logger
}

func New(cfg config.PipelineConfig, timeout time.Duration, store Store, provider annotate.Provider, encoder Encoder, log *zap.Logger) *Pipeline {
	if cfg.TopLabels <= 0 {
		cfg.TopLabels = 10
	}
	if cfg.CaptionWeight <= 0 || cfg.CaptionWeight > 1 {
		cfg.CaptionWeight = 0.5
	}
	if cfg.MinSide <= 0 {
		cfg.MinSide = 50
	}
	if cfg.MaxSide <= 0 {
		cfg.MaxSide = 16000
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	return &Pipeline{
		config:   cfg,
		timeout:  timeout,
		store:    store,
		provider: provider,
		encoder:  encoder,
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		log:      log.With(zap.String("provider", provider.Name())),
	}
}

// Run processes every path from the stream until it is closed. Individual
// failures are logged and counted, never returned.
func (p *Pipeline) Run(ctx context.Context, paths <-chan string) (Stats, error) {
	var (
		stats Stats
		mu    sync.Mutex
		g     errgroup.Group
	)

	limit := p.config.Concurrency
	if limit <= 0 {
		limit = -1
	}
	g.SetLimit(limit)

	for path := range paths {
		g.Go(func() error {
			outcome := p.Process(ctx, path)
			mu.Lock()
			stats.add(outcome)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	p.log.Info("annotation run finished",
		zap.Int("indexed", stats.Indexed),
		zap.Int("existing", stats.Existing),
		zap.Int("failed", stats.Failed),
		zap.Int("seen", stats.Total()))

	return stats, ctx.Err()
}

// Process runs one file through the filters, the provider and the store.
func (p *Pipeline) Process(ctx context.Context, path string) Outcome {
	log := p.log.With(zap.String("path", path))

	if !IsImage(path) {
		return SkippedNotImage
	}

	link, err := isSymlink(path)
	if err != nil {
		log.Debug("failed to stat file", zap.Error(err))
		return Failed
	}
	if link {
		return SkippedSymlink
	}

	w, h, err := Dimensions(path)
	if err != nil {
		log.Debug("skipping undecodable image", zap.Error(err))
		return SkippedDimensions
	}
	if !p.withinBounds(w) || !p.withinBounds(h) {
		log.Debug("skipping image outside size bounds", zap.Int("width", w), zap.Int("height", h))
		return SkippedDimensions
	}

	exists, err := p.store.ExistsByPath(ctx, path)
	if err != nil {
		log.Warn("failed to check store", zap.Error(err))
		return Failed
	}
	if exists {
		return SkippedExisting
	}

	ann, err := p.annotate(ctx, path)
	if err != nil {
		log.Warn("annotation failed", zap.Error(err))
		return Failed
	}

	vector, err := p.SemanticVector(ann)
	if err != nil {
		log.Warn("failed to embed annotation", zap.Error(err))
		return Failed
	}

	if err := p.store.Save(ctx, storage.NewImage(path, vector)); err != nil {
		if errors.Is(err, storage.ErrDuplicatePath) {
			return SkippedExisting
		}
		log.Warn("failed to save image", zap.Error(err))
		return Failed
	}

	log.Debug("indexed image", zap.String("caption", ann.Caption))
	return Indexed
}

func (p *Pipeline) withinBounds(side int) bool {
	return side >= p.config.MinSide && side <= p.config.MaxSide
}

func (p *Pipeline) annotate(ctx context.Context, path string) (*annotate.Annotation, error) {
	var lastErr error
	for attempt := 0; attempt <= p.config.Retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, p.backoff(attempt)); err != nil {
				return nil, err
			}
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		ann, err := p.call(ctx, path)
		if err == nil && ann == nil {
			return nil, errNoAnnotation
		}
		if err == nil {
			return ann, nil
		}
		lastErr = err

		// a malformed answer will not improve on retry
		if errors.Is(err, annotate.ErrMalformedResponse) {
			break
		}
	}
	return nil, lastErr
}

func (p *Pipeline) call(ctx context.Context, path string) (*annotate.Annotation, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.provider.Annotate(ctx, path)
}

func (p *Pipeline) backoff(attempt int) time.Duration {
	d := p.config.RetryBackoff
	for i := 1; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	d = min(d, maxBackoff)
	return d/2 + rand.N(d/2+1)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SemanticVector embeds the caption and the top labels separately and
// blends them with the configured caption weight.
func (p *Pipeline) SemanticVector(ann *annotate.Annotation) ([]float32, error) {
	caption, err := p.encoder.AverageVector(ann.Caption)
	if err != nil {
		return nil, err
	}
	labels, err := p.encoder.AverageVector(strings.Join(ann.TopLabels(p.config.TopLabels), " "))
	if err != nil {
		return nil, err
	}
	return embedding.Blend(caption, labels, p.config.CaptionWeight), nil
}
