package embedding

import (
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache memoises AverageVector for repeated search queries. Keys are the
// normalised token sequence, so "Red car!" and "red car" share an entry.
type Cache struct {
	engine *Engine
	lru    *expirable.LRU[string, []float32]
}

func NewCache(engine *Engine, size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 256
	}
	return &Cache{
		engine: engine,
		lru:    expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

func (c *Cache) AverageVector(text string) ([]float32, error) {
	key := strings.Join(c.engine.Tokens(text), " ")
	if v, ok := c.lru.Get(key); ok {
		return slices.Clone(v), nil
	}

	v, err := c.engine.AverageVector(text)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, slices.Clone(v))
	return v, nil
}

func (c *Cache) Len() int {
	return c.lru.Len()
}
