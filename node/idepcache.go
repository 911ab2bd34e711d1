package node

import (
	"sync"

	"github.com/distr1/buildgraph/entity"
)

// idepCache memoizes GetActual() lookups for implicit-dependency entities
// across a single build run, so repeated lookups of the same header across
// many nodes share one stat call. It is an explicit value threaded through
// CheckActual calls rather than a package-global, so two concurrent build
// runs in the same process (as in tests) never share state and a fresh run
// always starts cold. It is safe for concurrent use since a scheduler may
// check many Nodes' actuality in parallel against one shared cache.
type idepCache struct {
	mu       sync.Mutex
	entities map[entity.ID]entity.Entity
}

// IdepCache is the exported name for idepCache, so a scheduler outside
// this package can hold and share one across CheckActual calls for many
// Nodes without this package exposing its internals.
type IdepCache = idepCache

// NewIdepCache returns an empty cache to thread through one build run's
// CheckActual calls.
func NewIdepCache() *IdepCache {
	return &idepCache{entities: make(map[entity.ID]entity.Entity)}
}

func newIdepCache() *idepCache { return NewIdepCache() }

func (c *idepCache) get(id entity.ID) (entity.Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entities[id]
	return e, ok
}

func (c *idepCache) put(id entity.ID, e entity.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities[id] = e
}
