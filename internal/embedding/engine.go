package embedding

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"gonum.org/v1/gonum/blas/blas32"
)

var (
	ErrNotLoaded     = errors.New("embedding: table not loaded")
	ErrAlreadyLoaded = errors.New("embedding: table already loaded")
	ErrEmptyTable    = errors.New("embedding: table has no vectors")
)

// Engine holds a word -> vector table read from a GloVe-style text file.
// It starts unloaded and becomes usable after one successful Load; it is
// never reloaded.
type Engine struct {
	table   map[string][]float32
	dim     int
	loaded  bool
	stemmer *Stemmer
	split   bool

	mu sync.RWMutex
}

type Option func(*Engine)

// WithStemming makes AverageVector retry unknown tokens as their English
// stem.
func WithStemming(enabled bool) Option {
	return func(e *Engine) {
		if enabled {
			e.stemmer = NewStemmer()
		} else {
			e.stemmer = nil
		}
	}
}

// WithSeparatorSplit makes the engine tokenize with SplitTokenize instead of
// Tokenize.
func WithSeparatorSplit(enabled bool) Option {
	return func(e *Engine) {
		e.split = enabled
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{stemmer: NewStemmer()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open embeddings: %w", err)
	}
	defer f.Close()

	if err := e.LoadReader(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// LoadReader parses one "token f1 f2 ... fn" row per line. A leading
// "<count> <dim>" header line is skipped. Nothing is installed unless the
// whole input parses.
func (e *Engine) LoadReader(r io.Reader) error {
	if e.Loaded() {
		return ErrAlreadyLoaded
	}

	table, dim, err := parse(r)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded {
		return ErrAlreadyLoaded
	}
	e.table = table
	e.dim = dim
	e.loaded = true
	return nil
}

func parse(r io.Reader) (map[string][]float32, int, error) {
	table := make(map[string][]float32)
	dim := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if lineNo == 1 && isHeader(fields) {
			continue
		}
		if len(fields) < 2 {
			return nil, 0, fmt.Errorf("line %d: token without vector", lineNo)
		}

		values := make([]float32, len(fields)-1)
		for i, field := range fields[1:] {
			v, err := strconv.ParseFloat(field, 32)
			if err != nil {
				return nil, 0, fmt.Errorf("line %d: invalid component %q: %w", lineNo, field, err)
			}
			values[i] = float32(v)
		}

		if dim == 0 {
			dim = len(values)
		} else if len(values) != dim {
			return nil, 0, fmt.Errorf("line %d: expected %d components, got %d", lineNo, dim, len(values))
		}
		table[fields[0]] = values
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read embeddings: %w", err)
	}
	if len(table) == 0 {
		return nil, 0, ErrEmptyTable
	}
	return table, dim, nil
}

func isHeader(fields []string) bool {
	if len(fields) != 2 {
		return false
	}
	for _, f := range fields {
		if _, err := strconv.Atoi(f); err != nil {
			return false
		}
	}
	return true
}

func (e *Engine) Loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded
}

func (e *Engine) Dim() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dim
}

func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.table)
}

// AverageVector embeds text as the mean of its known token vectors. Text with
// no known tokens embeds to the zero vector.
func (e *Engine) AverageVector(text string) ([]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.loaded {
		return nil, ErrNotLoaded
	}

	sum := make([]float32, e.dim)
	matched := 0
	for _, token := range e.Tokens(text) {
		v, ok := e.lookup(token)
		if !ok {
			continue
		}
		blas32.Axpy(1, vec(v), vec(sum))
		matched++
	}

	if matched > 0 {
		blas32.Scal(1/float32(matched), vec(sum))
	}
	return sum, nil
}

// Tokens splits text the way AverageVector does.
func (e *Engine) Tokens(text string) []string {
	if e.split {
		return SplitTokenize(text)
	}
	return Tokenize(text)
}

func (e *Engine) lookup(token string) ([]float32, bool) {
	if v, ok := e.table[token]; ok {
		return v, true
	}
	if e.stemmer == nil {
		return nil, false
	}
	if stem := e.stemmer.Stem(token); stem != token {
		v, ok := e.table[stem]
		return v, ok
	}
	return nil, false
}
