package pipeline

import "sync"

// keyedGuard serializes in-process work per entity key so two tasks never
// touch the same (chain, address) concurrently. Cross-process exclusion is
// the cache's job; this only covers tasks inside one worker.
type keyedGuard struct {
	mu    sync.Mutex
	locks map[string]*entityLock
}

type entityLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedGuard() *keyedGuard {
	return &keyedGuard{locks: make(map[string]*entityLock)}
}

// lock blocks until the key is free and returns the unlock function.
func (g *keyedGuard) lock(key string) func() {
	g.mu.Lock()
	l, ok := g.locks[key]
	if !ok {
		l = &entityLock{}
		g.locks[key] = l
	}
	l.refs++
	g.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		g.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(g.locks, key)
		}
		g.mu.Unlock()
	}
}
