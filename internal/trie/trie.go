// Package trie implements a character trie over basenames for predictive
// (prefix) search. Words are pushed into a Builder; Build freezes them into
// a read-only Trie.
package trie

import (
	"iter"
	"sort"
)

type node struct {
	r        rune
	terminal bool
	word     string
	children []*node
}

func (n *node) child(r rune) *node {
	i := sort.Search(len(n.children), func(i int) bool { return n.children[i].r >= r })
	if i < len(n.children) && n.children[i].r == r {
		return n.children[i]
	}
	return nil
}

func (n *node) insertChild(r rune) *node {
	i := sort.Search(len(n.children), func(i int) bool { return n.children[i].r >= r })
	if i < len(n.children) && n.children[i].r == r {
		return n.children[i]
	}
	c := &node{r: r}
	n.children = append(n.children, nil)
	copy(n.children[i+1:], n.children[i:])
	n.children[i] = c
	return c
}

type Builder struct {
	root  *node
	size  int
	spent bool
}

func NewBuilder() *Builder {
	return &Builder{root: &node{}}
}

func (b *Builder) Push(word string) {
	if b.spent {
		panic("trie: Push called after Build")
	}

	n := b.root
	for _, r := range word {
		n = n.insertChild(r)
	}
	if !n.terminal {
		n.terminal = true
		n.word = word
		b.size++
	}
}

// Build hands the accumulated words to a Trie. The builder cannot be used
// afterwards.
func (b *Builder) Build() *Trie {
	if b.spent {
		panic("trie: Build called twice")
	}
	b.spent = true
	t := &Trie{root: b.root, size: b.size}
	b.root = nil
	return t
}

type Trie struct {
	root *node
	size int
}

func (t *Trie) Len() int {
	return t.size
}

func (t *Trie) Contains(word string) bool {
	n := t.find(word)
	return n != nil && n.terminal
}

// PredictiveSearch yields every word starting with prefix, in rune order.
// The sequence may be iterated more than once.
func (t *Trie) PredictiveSearch(prefix string) iter.Seq[string] {
	return func(yield func(string) bool) {
		start := t.find(prefix)
		if start == nil {
			return
		}
		walk(start, yield)
	}
}

func (t *Trie) find(prefix string) *node {
	n := t.root
	for _, r := range prefix {
		n = n.child(r)
		if n == nil {
			return nil
		}
	}
	return n
}

func walk(n *node, yield func(string) bool) bool {
	if n.terminal && !yield(n.word) {
		return false
	}
	for _, c := range n.children {
		if !walk(c, yield) {
			return false
		}
	}
	return true
}
