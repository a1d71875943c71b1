// Package keylock hands out one mutex per key, so work on different
// contracts proceeds in parallel while work on the same contract is
// serialised.
package keylock

import (
	"sync"

	cmap "github.com/orcaman/concurrent-map"
)

type entry struct {
	mu   sync.Mutex
	refs int // guarded by the map shard
}

// Map holds a mutex per key while anyone holds or waits for it. The entry
// is dropped when the last holder releases, so idle keys cost nothing.
type Map struct {
	entries cmap.ConcurrentMap
}

func New() *Map {
	return &Map{entries: cmap.New()}
}

func (m *Map) acquire(key string) *entry {
	v := m.entries.Upsert(key, nil, func(exists bool, valueInMap interface{}, _ interface{}) interface{} {
		if exists {
			e := valueInMap.(*entry)
			e.refs++
			return e
		}
		return &entry{refs: 1}
	})
	return v.(*entry)
}

func (m *Map) release(key string) {
	m.entries.RemoveCb(key, func(_ string, v interface{}, exists bool) bool {
		if !exists {
			return false
		}
		e := v.(*entry)
		e.refs--
		return e.refs == 0
	})
}

func (m *Map) unlocker(key string, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			m.release(key)
		})
	}
}

// Lock blocks until key is held and returns its release func. The release
// func is idempotent, so an early explicit release can sit next to a defer.
func (m *Map) Lock(key string) (unlock func()) {
	e := m.acquire(key)
	e.mu.Lock()
	return m.unlocker(key, e)
}

// TryLock acquires key without blocking.
func (m *Map) TryLock(key string) (unlock func(), ok bool) {
	e := m.acquire(key)
	if !e.mu.TryLock() {
		m.release(key)
		return nil, false
	}
	return m.unlocker(key, e), true
}

// Len reports how many keys are held or waited on.
func (m *Map) Len() int { return m.entries.Count() }
