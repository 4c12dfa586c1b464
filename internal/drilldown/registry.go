// Package drilldown implements the process-global numeric-id to memory-id
// indirection used by camera-roll search results and the drill_down tool
// operation.
package drilldown

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonhardwick-spec/specmem-sub022/pkg/models"
)

// Entry is what a registered numeric id resolves to.
type Entry struct {
	MemoryID  uuid.UUID
	Type      models.DrilldownType
	CreatedAt time.Time
}

// Stats summarizes registry occupancy for diagnostics.
type Stats struct {
	Size     int
	Capacity int
	NextID   int64
}

type node struct {
	id    int64
	entry Entry
}

// Registry is a single per-process, mutex-guarded map from monotonically
// increasing integer ids to Entry. It is bounded: once Capacity entries are
// held, registering a new one evicts the least-recently-used entry first
// (an entry counts as "used" when resolved), falling back to oldest-by-age
// when nothing has ever been resolved.
type Registry struct {
	mu       sync.Mutex
	capacity int
	nextID   int64
	entries  map[int64]*list.Element
	order    *list.List // front = most recently used
}

// New constructs a Registry bounded to capacity entries. capacity <= 0
// means unbounded.
func New(capacity int) *Registry {
	return &Registry{
		capacity: capacity,
		nextID:   1,
		entries:  make(map[int64]*list.Element),
		order:    list.New(),
	}
}

// Register issues a fresh numeric id for (memoryID, kind) and returns it.
func (r *Registry) Register(memoryID uuid.UUID, kind models.DrilldownType) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++

	elem := r.order.PushFront(node{id: id, entry: Entry{MemoryID: memoryID, Type: kind, CreatedAt: time.Now()}})
	r.entries[id] = elem

	if r.capacity > 0 && len(r.entries) > r.capacity {
		r.evictOldest()
	}
	return id
}

// Resolve looks up id and marks it most-recently-used. The bool is false
// if id was never registered or has since been evicted.
func (r *Registry) Resolve(id int64) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	r.order.MoveToFront(elem)
	return elem.Value.(node).entry, true
}

// Stats reports current occupancy.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Size: len(r.entries), Capacity: r.capacity, NextID: r.nextID}
}

// evictOldest removes the least-recently-used entry. Caller must hold mu.
func (r *Registry) evictOldest() {
	back := r.order.Back()
	if back == nil {
		return
	}
	n := back.Value.(node)
	delete(r.entries, n.id)
	r.order.Remove(back)
}
