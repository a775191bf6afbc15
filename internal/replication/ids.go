package replication

import (
	"sync"

	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/internal/entity"
)

// Registry pairs live entities with the stable network ids that name
// them on the wire. The host allocates ids upward from one; clients
// bind the pairings the host announces. Safe for concurrent use; one
// mutex guards both directions of the map.
type Registry struct {
	mu       sync.Mutex
	nextID   uint32
	byHandle map[entity.Handle]uint32
	byID     map[uint32]entity.Handle
}

// NewRegistry returns an empty registry whose first allocated id is 1.
func NewRegistry() *Registry {
	return &Registry{
		nextID:   1,
		byHandle: make(map[entity.Handle]uint32),
		byID:     make(map[uint32]entity.Handle),
	}
}

// Assign returns the id already paired with handle, allocating the next
// one the first time the handle is seen.
func (r *Registry) Assign(handle entity.Handle) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byHandle[handle]; ok {
		return id
	}
	id := r.nextID
	r.nextID++
	r.byHandle[handle] = id
	r.byID[id] = handle
	return id
}

// Bind pins an explicit pairing announced by the host. Any previous
// pairing of either side is displaced.
func (r *Registry) Bind(id uint32, handle entity.Handle) {
	if id == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byID[id]; ok {
		delete(r.byHandle, old)
	}
	if oldID, ok := r.byHandle[handle]; ok {
		delete(r.byID, oldID)
	}
	r.byID[id] = handle
	r.byHandle[handle] = id
	if id >= r.nextID {
		r.nextID = id + 1
	}
}

// IDFor reports the id paired with handle without allocating.
func (r *Registry) IDFor(handle entity.Handle) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byHandle[handle]
	return id, ok
}

// HandleFor resolves a wire id back to the local entity.
func (r *Registry) HandleFor(id uint32) (entity.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle, ok := r.byID[id]
	return handle, ok
}

// Forget drops the pairing for a destroyed entity. The id is never
// reused.
func (r *Registry) Forget(handle entity.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byHandle[handle]
	if !ok {
		return
	}
	delete(r.byHandle, handle)
	delete(r.byID, id)
}

// ForgetID drops a pairing by its wire id.
func (r *Registry) ForgetID(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	delete(r.byHandle, handle)
}

// Reset clears every pairing while keeping the allocator moving upward,
// so ids from before the reset never collide with new ones.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byHandle = make(map[entity.Handle]uint32)
	r.byID = make(map[uint32]entity.Handle)
}

// Len reports the number of live pairings.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
