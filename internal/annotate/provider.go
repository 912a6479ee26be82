package annotate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/deidaraiorek/deifind/internal/config"
)

var (
	ErrUnavailable       = errors.New("annotate: provider is not configured")
	ErrMalformedResponse = errors.New("annotate: malformed response")
)

type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Annotation is what an image-understanding service says about one image.
type Annotation struct {
	Caption string  `json:"caption"`
	Labels  []Label `json:"labels"`
}

// TopLabels returns the names of the k most confident labels, most confident
// first.
func (a *Annotation) TopLabels(k int) []string {
	labels := make([]Label, len(a.Labels))
	copy(labels, a.Labels)
	sort.SliceStable(labels, func(i, j int) bool {
		return labels[i].Confidence > labels[j].Confidence
	})
	if k >= 0 && len(labels) > k {
		labels = labels[:k]
	}

	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = l.Name
	}
	return names
}

func (a *Annotation) validate() error {
	if strings.TrimSpace(a.Caption) == "" {
		return fmt.Errorf("%w: missing caption", ErrMalformedResponse)
	}
	if a.Labels == nil {
		return fmt.Errorf("%w: missing labels", ErrMalformedResponse)
	}
	return nil
}

type Provider interface {
	Name() string
	Annotate(ctx context.Context, path string) (*Annotation, error)
}

type Factory func(cfg config.AnnotatorConfig) (Provider, error)

var (
	registry   = map[string]Factory{}
	registryMu sync.RWMutex
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[key] = factory
}

func New(cfg config.AnnotatorConfig) (Provider, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if key == "" {
		return nil, fmt.Errorf("annotator.provider is required")
	}

	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()

	if factory == nil {
		return nil, fmt.Errorf("unsupported annotator provider: %s", cfg.Provider)
	}
	return factory(cfg)
}
