package engine

import "sync"

// registry tracks the live runner for each instance key. At most one
// runner exists per key at any time.
type registry struct {
	mu      sync.Mutex
	runners map[string]*runner
}

func newRegistry() *registry {
	return &registry{runners: make(map[string]*runner)}
}

func (g *registry) get(key string) (*runner, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.runners[key]
	return r, ok
}

func (g *registry) put(key string, r *runner) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runners[key] = r
}

// remove drops the mapping only if it still points at r, so a runner
// finishing late cannot evict its successor.
func (g *registry) remove(key string, r *runner) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.runners[key] == r {
		delete(g.runners, key)
	}
}

func (g *registry) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.runners)
}
