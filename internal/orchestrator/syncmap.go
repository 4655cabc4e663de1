package orchestrator

import (
	"maps"
	"slices"
	"sync"
)

// SyncMap is a typed concurrent map. It tracks per-root state such as the
// running sync and the apply mutex.
type SyncMap[K comparable, V any] struct {
	m  map[K]V
	mu sync.RWMutex
}

// NewSyncMap creates an empty map.
func NewSyncMap[K comparable, V any]() *SyncMap[K, V] {
	return &SyncMap[K, V]{m: make(map[K]V)}
}

// Load returns the value for key and whether it was present.
func (sm *SyncMap[K, V]) Load(key K) (value V, ok bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	value, ok = sm.m[key]
	return
}

// LoadOrStore returns the existing value for key if present.
// Otherwise it stores value. loaded reports which happened.
func (sm *SyncMap[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	sm.mu.RLock()
	actual, loaded = sm.m[key]
	sm.mu.RUnlock()
	if loaded {
		return actual, true
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if actual, loaded = sm.m[key]; loaded {
		return actual, true
	}
	sm.m[key] = value
	return value, false
}

// CompareAndDelete deletes key only while it still maps to value, so a
// finished run never removes its successor.
func CompareAndDelete[K, V comparable](sm *SyncMap[K, V], key K, value V) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if cur, ok := sm.m[key]; ok && cur == value {
		delete(sm.m, key)
		return true
	}
	return false
}

// Delete removes key.
func (sm *SyncMap[K, V]) Delete(key K) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.m, key)
}

// Keys returns a snapshot of the current keys.
func (sm *SyncMap[K, V]) Keys() []K {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return slices.Collect(maps.Keys(sm.m))
}

// Len returns the number of entries.
func (sm *SyncMap[K, V]) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.m)
}
