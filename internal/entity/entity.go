// Package entity defines the world model the replication core observes: a
// store of entities carrying typed facets. The core replicates body,
// visual, audio, and camera-anchor facets and routes control input into
// control sinks; every other aspect of an entity is opaque to it.
package entity

import "encoding/json"

// Handle identifies an entity within one store. Handles are stable for
// the entity's lifetime and never reused.
type Handle uint64

// Kind enumerates the facet types the replication core observes.
type Kind uint8

const (
	KindBody Kind = iota
	KindVisual
	KindAudio
	KindCameraAnchor
	KindControlSink

	kindCount
)

// ReplicatedKinds lists the facets carried by snapshots and updates, in
// wire order.
var ReplicatedKinds = [4]Kind{KindBody, KindVisual, KindAudio, KindCameraAnchor}

func (k Kind) String() string {
	switch k {
	case KindBody:
		return "body"
	case KindVisual:
		return "visual"
	case KindAudio:
		return "audio"
	case KindCameraAnchor:
		return "cameraAnchor"
	case KindControlSink:
		return "controlSink"
	default:
		return "unknown"
	}
}

// BodyState mirrors the numeric body facet. Pointer fields let a partial
// update leave absent values untouched.
type BodyState struct {
	X     *float64 `json:"x,omitempty"`
	Y     *float64 `json:"y,omitempty"`
	Angle *float64 `json:"angle,omitempty"`
	VX    *float64 `json:"vx,omitempty"`
	VY    *float64 `json:"vy,omitempty"`
	Spin  *float64 `json:"spin,omitempty"`
}

// Float returns a pointer to v, for building BodyState literals.
func Float(v float64) *float64 { return &v }

// MarshalBody renders a body facet blob.
func MarshalBody(state BodyState) []byte {
	blob, err := json.Marshal(state)
	if err != nil {
		return []byte("{}")
	}
	return blob
}

// ControlInput carries the seven normalized control scalars fed into a
// control sink.
type ControlInput struct {
	MoveUp         float32
	MoveDown       float32
	MoveLeft       float32
	MoveRight      float32
	ActionWalk     float32
	ActionInteract float32
	ActionThrow    float32
}

// Clamped returns the input with every scalar forced into [0, 1].
func (in ControlInput) Clamped() ControlInput {
	clamp := func(v float32) float32 {
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}
	return ControlInput{
		MoveUp:         clamp(in.MoveUp),
		MoveDown:       clamp(in.MoveDown),
		MoveLeft:       clamp(in.MoveLeft),
		MoveRight:      clamp(in.MoveRight),
		ActionWalk:     clamp(in.ActionWalk),
		ActionInteract: clamp(in.ActionInteract),
		ActionThrow:    clamp(in.ActionThrow),
	}
}

// Entity is one simulated object as seen by the replication core.
type Entity interface {
	Handle() Handle
	Name() string
	Alive() bool
	Has(kind Kind) bool
	// Body returns a copy of the full body state. Only meaningful when
	// the body facet is present.
	Body() BodyState
	// ApplyBody merges the non-nil fields of state into the body facet.
	ApplyBody(state BodyState)
	// FacetBlob serializes one facet. The second return is false when the
	// facet is absent.
	FacetBlob(kind Kind) ([]byte, bool)
	// ApplyFacetBlob replaces or merges one facet from its serialized
	// form. Applying the same blob twice is equivalent to applying it
	// once.
	ApplyFacetBlob(kind Kind, blob []byte) error
	// ApplyControl routes clamped input scalars into the control sink.
	ApplyControl(input ControlInput)
	// Control reports the scalars last routed into the control sink.
	Control() ControlInput
}

// LifecycleKind distinguishes spawn from destroy events.
type LifecycleKind uint8

const (
	LifecycleSpawned LifecycleKind = iota
	LifecycleDestroyed
)

// LifecycleEvent records an entity entering or leaving the store. The
// host replicator drains these each tick instead of entities holding
// back-pointers into the replicator.
type LifecycleEvent struct {
	Handle Handle
	Kind   LifecycleKind
}

// Store is the host's authoritative world view.
type Store interface {
	Lookup(handle Handle) (Entity, bool)
	// ForEach visits live entities until fn returns false.
	ForEach(fn func(Entity) bool)
	// DrainLifecycle returns and clears the pending spawn/destroy events.
	DrainLifecycle() []LifecycleEvent
	// BackgroundLayers returns the serialized background layer blobs.
	BackgroundLayers() [][]byte
}

// Mirror is the client's replicated world view. Spawn acts as the entity
// factory; LoadBackground as the scene loader.
type Mirror interface {
	Lookup(handle Handle) (Entity, bool)
	ForEach(fn func(Entity) bool)
	Spawn(name string, facets map[Kind][]byte) (Entity, error)
	LoadBackground(layers [][]byte)
	// MarkDead flags an entity for removal on the next Purge.
	MarkDead(handle Handle)
	Purge()
	Clear()
}
