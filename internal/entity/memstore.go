package entity

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
)

// MemStore is the in-memory entity store. It backs the client mirror and
// any host that does not bring its own store. Entities live on the owning
// loop's thread; only handle allocation is atomic.
type MemStore struct {
	nextHandle atomic.Uint64
	entities   map[Handle]*Ent
	background [][]byte
	lifecycle  []LifecycleEvent
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{entities: make(map[Handle]*Ent)}
}

// Spawn creates a live entity with the given facets. The body facet blob,
// when present, must parse as a body state.
func (s *MemStore) Spawn(name string, facets map[Kind][]byte) (Entity, error) {
	ent := &Ent{
		handle: Handle(s.nextHandle.Add(1)),
		name:   name,
		alive:  true,
		blobs:  make(map[Kind][]byte),
	}
	for kind, blob := range facets {
		if kind >= kindCount {
			return nil, fmt.Errorf("entity: unknown facet kind %d", kind)
		}
		if err := ent.adopt(kind, blob); err != nil {
			return nil, err
		}
	}
	s.entities[ent.handle] = ent
	s.lifecycle = append(s.lifecycle, LifecycleEvent{Handle: ent.handle, Kind: LifecycleSpawned})
	return ent, nil
}

// Lookup finds an entity by handle, dead or alive.
func (s *MemStore) Lookup(handle Handle) (Entity, bool) {
	ent, ok := s.entities[handle]
	if !ok {
		return nil, false
	}
	return ent, true
}

// ForEach visits live entities in handle order until fn returns false.
func (s *MemStore) ForEach(fn func(Entity) bool) {
	handles := make([]Handle, 0, len(s.entities))
	for handle, ent := range s.entities {
		if ent.alive {
			handles = append(handles, handle)
		}
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	for _, handle := range handles {
		if !fn(s.entities[handle]) {
			return
		}
	}
}

// MarkDead flags an entity for death and queues its destroy event. The
// entry stays resident until Purge so in-flight lookups keep resolving.
func (s *MemStore) MarkDead(handle Handle) {
	ent, ok := s.entities[handle]
	if !ok || !ent.alive {
		return
	}
	ent.alive = false
	s.lifecycle = append(s.lifecycle, LifecycleEvent{Handle: handle, Kind: LifecycleDestroyed})
}

// Purge removes entities previously marked dead.
func (s *MemStore) Purge() {
	for handle, ent := range s.entities {
		if !ent.alive {
			delete(s.entities, handle)
		}
	}
}

// DrainLifecycle returns and clears the pending spawn/destroy events in
// occurrence order.
func (s *MemStore) DrainLifecycle() []LifecycleEvent {
	events := s.lifecycle
	s.lifecycle = nil
	return events
}

// SetBackground replaces the background layer blobs.
func (s *MemStore) SetBackground(layers [][]byte) {
	s.background = layers
}

// BackgroundLayers returns the background layer blobs.
func (s *MemStore) BackgroundLayers() [][]byte {
	return s.background
}

// LoadBackground adopts replicated background layers.
func (s *MemStore) LoadBackground(layers [][]byte) {
	s.background = layers
}

// Clear drops every entity, pending event, and background layer.
func (s *MemStore) Clear() {
	s.entities = make(map[Handle]*Ent)
	s.background = nil
	s.lifecycle = nil
}

// Len reports the number of resident entities, dead ones included.
func (s *MemStore) Len() int {
	return len(s.entities)
}

// Ent is MemStore's entity implementation.
type Ent struct {
	handle  Handle
	name    string
	alive   bool
	has     [kindCount]bool
	body    BodyState
	blobs   map[Kind][]byte
	control ControlInput
}

func (e *Ent) Handle() Handle { return e.handle }
func (e *Ent) Name() string   { return e.name }
func (e *Ent) Alive() bool    { return e.alive }

func (e *Ent) Has(kind Kind) bool {
	return kind < kindCount && e.has[kind]
}

// Body returns a copy of the stored body state with every field set.
func (e *Ent) Body() BodyState {
	return BodyState{
		X:     cloneField(e.body.X),
		Y:     cloneField(e.body.Y),
		Angle: cloneField(e.body.Angle),
		VX:    cloneField(e.body.VX),
		VY:    cloneField(e.body.VY),
		Spin:  cloneField(e.body.Spin),
	}
}

func cloneField(v *float64) *float64 {
	if v == nil {
		zero := 0.0
		return &zero
	}
	clone := *v
	return &clone
}

// ApplyBody merges the non-nil fields of state into the body facet and
// marks the facet present.
func (e *Ent) ApplyBody(state BodyState) {
	e.has[KindBody] = true
	if state.X != nil {
		e.body.X = cloneField(state.X)
	}
	if state.Y != nil {
		e.body.Y = cloneField(state.Y)
	}
	if state.Angle != nil {
		e.body.Angle = cloneField(state.Angle)
	}
	if state.VX != nil {
		e.body.VX = cloneField(state.VX)
	}
	if state.VY != nil {
		e.body.VY = cloneField(state.VY)
	}
	if state.Spin != nil {
		e.body.Spin = cloneField(state.Spin)
	}
}

// FacetBlob serializes one facet: the body state as JSON, opaque facets
// verbatim, and the control sink as an empty object marker.
func (e *Ent) FacetBlob(kind Kind) ([]byte, bool) {
	if !e.Has(kind) {
		return nil, false
	}
	switch kind {
	case KindBody:
		return MarshalBody(e.Body()), true
	case KindControlSink:
		return []byte("{}"), true
	default:
		return e.blobs[kind], true
	}
}

// ApplyFacetBlob merges a body blob or replaces an opaque facet blob.
func (e *Ent) ApplyFacetBlob(kind Kind, blob []byte) error {
	return e.adopt(kind, blob)
}

func (e *Ent) adopt(kind Kind, blob []byte) error {
	switch kind {
	case KindBody:
		var state BodyState
		if len(blob) > 0 {
			if err := json.Unmarshal(blob, &state); err != nil {
				return fmt.Errorf("entity: body blob: %w", err)
			}
		}
		e.ApplyBody(state)
		return nil
	case KindVisual, KindAudio, KindCameraAnchor:
		e.has[kind] = true
		e.blobs[kind] = append([]byte(nil), blob...)
		return nil
	case KindControlSink:
		e.has[kind] = true
		return nil
	default:
		return fmt.Errorf("entity: unknown facet kind %d", kind)
	}
}

// ApplyControl stores the clamped input scalars.
func (e *Ent) ApplyControl(input ControlInput) {
	if !e.has[KindControlSink] {
		return
	}
	e.control = input.Clamped()
}

// Control reports the scalars last routed into the control sink.
func (e *Ent) Control() ControlInput {
	return e.control
}
