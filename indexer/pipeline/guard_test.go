package pipeline

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedGuard_SerializesSameKey(t *testing.T) {
	g := newKeyedGuard()

	var mu sync.Mutex
	running := 0
	maxRunning := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := g.lock("pool:1:0xabc")
			defer unlock()
			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()
			mu.Lock()
			running--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxRunning)
}

func TestKeyedGuard_IndependentKeys(t *testing.T) {
	g := newKeyedGuard()

	unlockA := g.lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := g.lock("b")
		unlockB()
		close(done)
	}()
	<-done // "b" must not block behind "a"
	unlockA()
}

func TestKeyedGuard_CleansUpEntries(t *testing.T) {
	g := newKeyedGuard()
	unlock := g.lock("key")
	unlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Empty(t, g.locks)
}
