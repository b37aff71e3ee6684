package vtable

import (
	"fmt"
	"strings"
	"sync"

	"github.com/viant/mtree/index/tree"
)

// snapshot is a built index together with the source rows it covers.
type snapshot struct {
	source string
	idx    *tree.Index
	rows   map[string]row
}

var sharedCache = struct {
	mu    sync.RWMutex
	byKey map[string]*cacheEntry
}{byKey: make(map[string]*cacheEntry)}

type cacheEntry struct {
	mu       sync.Mutex
	snap     *snapshot
	building bool
	cond     *sync.Cond
}

func newCacheEntry() *cacheEntry {
	e := &cacheEntry{}
	e.cond = sync.NewCond(&e.mu)
	return e
}

func (e *cacheEntry) get() *snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

func (e *cacheEntry) set(s *snapshot) {
	e.mu.Lock()
	e.snap = s
	e.mu.Unlock()
}

func (e *cacheEntry) startBuild() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snap != nil || e.building {
		return false
	}
	e.building = true
	return true
}

func (e *cacheEntry) waitForBuild() *snapshot {
	e.mu.Lock()
	for e.building {
		e.cond.Wait()
	}
	s := e.snap
	e.mu.Unlock()
	return s
}

func (e *cacheEntry) finishBuild() {
	e.mu.Lock()
	e.building = false
	e.cond.Broadcast()
	e.mu.Unlock()
}

// cacheKey scopes an index to the registering module, which is bound to one
// *sql.DB.
func cacheKey(mod *Module, dbName, source string) string {
	return fmt.Sprintf("%p|%s|%s", mod, dbName, source)
}

func getCacheEntry(key string) *cacheEntry {
	sharedCache.mu.RLock()
	entry := sharedCache.byKey[key]
	sharedCache.mu.RUnlock()
	if entry != nil {
		return entry
	}
	sharedCache.mu.Lock()
	defer sharedCache.mu.Unlock()
	if entry = sharedCache.byKey[key]; entry == nil {
		entry = newCacheEntry()
		sharedCache.byKey[key] = entry
	}
	return entry
}

// InvalidateCache drops the cached indexes built over source and reports how
// many were dropped.
func InvalidateCache(source string) int {
	sharedCache.mu.Lock()
	defer sharedCache.mu.Unlock()
	suffix := "|" + source
	count := 0
	for k, entry := range sharedCache.byKey {
		if strings.HasSuffix(k, suffix) {
			entry.set(nil)
			count++
		}
	}
	return count
}
