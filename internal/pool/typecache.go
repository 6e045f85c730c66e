package pool

import (
	"container/list"
	"sync"

	"github.com/jackc/pgx/v5/pgtype"
)

// defaultTypeCacheSize bounds the type names kept per database. Catalogs with
// many user types only keep the recently seen ones.
const defaultTypeCacheSize = 1024

type typeEntry struct {
	oid  uint32
	name string
	// types are the pgx types loaded for oid, dependencies first.
	types []*pgtype.Type
}

// typeCache remembers type names the driver does not know, per database,
// along with loaded composite types. pgx type maps are per connection, so a
// loaded type is registered again on every connection that meets it.
// Least recently used entries are dropped once the cache is full.
type typeCache struct {
	mu    sync.Mutex
	max   int
	lru   *list.List
	names map[uint32]*list.Element
}

func newTypeCache() *typeCache {
	return newTypeCacheSize(defaultTypeCacheSize)
}

func newTypeCacheSize(max int) *typeCache {
	if max <= 0 {
		max = 1
	}
	return &typeCache{
		max:   max,
		lru:   list.New(),
		names: make(map[uint32]*list.Element),
	}
}

func (t *typeCache) lookup(oid uint32) (typeEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elem, ok := t.names[oid]
	if !ok {
		return typeEntry{}, false
	}
	t.lru.MoveToFront(elem)
	return *elem.Value.(*typeEntry), true
}

func (t *typeCache) put(oid uint32, name string, types []*pgtype.Type) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if elem, ok := t.names[oid]; ok {
		e := elem.Value.(*typeEntry)
		e.name, e.types = name, types
		t.lru.MoveToFront(elem)
		return
	}

	t.names[oid] = t.lru.PushFront(&typeEntry{oid: oid, name: name, types: types})
	for t.lru.Len() > t.max {
		back := t.lru.Back()
		t.lru.Remove(back)
		delete(t.names, back.Value.(*typeEntry).oid)
	}
}

func (t *typeCache) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Len()
}
