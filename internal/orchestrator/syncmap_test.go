package orchestrator

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncMap_LoadOrStore(t *testing.T) {
	sm := NewSyncMap[string, int]()

	actual, loaded := sm.LoadOrStore("root-1", 100)
	assert.Equal(t, 100, actual)
	assert.False(t, loaded)

	actual, loaded = sm.LoadOrStore("root-1", 200)
	assert.Equal(t, 100, actual)
	assert.True(t, loaded)

	v, ok := sm.Load("root-1")
	assert.True(t, ok)
	assert.Equal(t, 100, v)
}

func TestSyncMap_CompareAndDelete(t *testing.T) {
	sm := NewSyncMap[string, *run]()
	first := &run{taskID: "scan-1"}
	second := &run{taskID: "scan-2"}

	sm.LoadOrStore("root-1", first)
	sm.Delete("root-1")
	sm.LoadOrStore("root-1", second)

	assert.False(t, CompareAndDelete(sm, "root-1", first), "stale run must not remove its successor")
	assert.Equal(t, 1, sm.Len())
	assert.True(t, CompareAndDelete(sm, "root-1", second))
	assert.Zero(t, sm.Len())
}

func TestSyncMap_Keys(t *testing.T) {
	sm := NewSyncMap[string, bool]()
	sm.LoadOrStore("b", true)
	sm.LoadOrStore("a", true)

	keys := sm.Keys()
	sort.Strings(keys)
	assert.Equal(t, []string{"a", "b"}, keys)
}

func TestSyncMap_ConcurrentLoadOrStore(t *testing.T) {
	sm := NewSyncMap[string, int]()
	var wg sync.WaitGroup
	wins := make(chan int, 50)

	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, loaded := sm.LoadOrStore("root", i); !loaded {
				wins <- i
			}
		}()
	}
	wg.Wait()
	close(wins)

	assert.Len(t, wins, 1, "exactly one caller may claim a key")
	assert.Equal(t, 1, sm.Len())
}
