package fileindex

import (
	"errors"
	"path/filepath"
	"slices"
	"sync"

	"github.com/deidaraiorek/deifind/internal/trie"
)

var ErrTrieNotBuilt = errors.New("fileindex: prefix trie not built")

type Match struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Index maps basenames to the set of full paths carrying that name. Prefix
// search is off until EnablePrefixSearch is called; from then on the trie is
// kept in step with the key set, rebuilt lazily after new names arrive.
type Index struct {
	names  map[Token]map[Token]struct{}
	paths  int
	prefix bool
	trie   *trie.Trie

	mu sync.Mutex
}

func New() *Index {
	return &Index{names: make(map[Token]map[Token]struct{})}
}

// Insert records path under its basename and reports whether it was new.
func (x *Index) Insert(path string) bool {
	name := NewToken(filepath.Base(path))
	p := NewToken(path)

	x.mu.Lock()
	defer x.mu.Unlock()

	set, ok := x.names[name]
	if !ok {
		set = make(map[Token]struct{}, 1)
		x.names[name] = set
		// new key; the trie no longer covers every name
		x.trie = nil
	}
	if _, dup := set[p]; dup {
		return false
	}
	set[p] = struct{}{}
	x.paths++
	return true
}

// Lookup returns the sorted paths whose basename is exactly name.
func (x *Index) Lookup(name string) []string {
	x.mu.Lock()
	defer x.mu.Unlock()

	return x.lookup(NewToken(name))
}

func (x *Index) lookup(name Token) []string {
	set, ok := x.names[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p.String())
	}
	slices.Sort(out)
	return out
}

// EnablePrefixSearch switches the index to prefix mode and builds the trie.
// Only the first call has any effect; it reports whether this call was it.
func (x *Index) EnablePrefixSearch() bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.prefix {
		return false
	}
	x.prefix = true
	x.rebuild()
	return true
}

func (x *Index) PrefixEnabled() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.prefix
}

func (x *Index) rebuild() {
	b := trie.NewBuilder()
	for name := range x.names {
		b.Push(name.String())
	}
	x.trie = b.Build()
}

// Predict returns the basenames starting with prefix. It fails with
// ErrTrieNotBuilt when prefix search is off or names were added since the
// last build.
func (x *Index) Predict(prefix string) ([]string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.trie == nil {
		return nil, ErrTrieNotBuilt
	}
	return slices.Collect(x.trie.PredictiveSearch(prefix)), nil
}

// Search answers a filename query. In prefix mode every basename starting
// with query is expanded to its paths; otherwise query must match a basename
// exactly.
func (x *Index) Search(query string) []Match {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.prefix {
		return toMatches(query, x.lookup(NewToken(query)))
	}

	if x.trie == nil {
		x.rebuild()
	}

	var out []Match
	for name := range x.trie.PredictiveSearch(query) {
		out = append(out, toMatches(name, x.lookup(NewToken(name)))...)
	}
	return out
}

func toMatches(name string, paths []string) []Match {
	if len(paths) == 0 {
		return nil
	}
	out := make([]Match, len(paths))
	for i, p := range paths {
		out[i] = Match{Name: name, Path: p}
	}
	return out
}

// Len returns the number of distinct basenames.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.names)
}

// Paths returns the number of indexed paths.
func (x *Index) Paths() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.paths
}

func (x *Index) snapshot() map[string][]string {
	x.mu.Lock()
	defer x.mu.Unlock()

	out := make(map[string][]string, len(x.names))
	for name := range x.names {
		out[name.String()] = x.lookup(name)
	}
	return out
}

func fromSnapshot(names map[string][]string) *Index {
	x := New()
	for name, paths := range names {
		set := make(map[Token]struct{}, len(paths))
		for _, p := range paths {
			set[NewToken(p)] = struct{}{}
		}
		if len(set) == 0 {
			continue
		}
		x.names[NewToken(name)] = set
		x.paths += len(set)
	}
	return x
}
