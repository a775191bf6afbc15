package replication

import (
	"bytes"
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/remeh/sizedwaitgroup"

	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/internal/entity"
	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/internal/net/compress"
	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/internal/net/wire"
)

// compressThreshold is the payload size from which deflate is worth
// attempting. Compression is kept only when it actually shrinks the
// payload.
const compressThreshold = 128

// EntityRecord is the JSON envelope for one entity in snapshots and
// create messages.
type EntityRecord struct {
	NetworkID    uint32          `json:"_networkId"`
	Name         string          `json:"name,omitempty"`
	Body         json.RawMessage `json:"body,omitempty"`
	Visual       json.RawMessage `json:"visual,omitempty"`
	Audio        json.RawMessage `json:"audio,omitempty"`
	CameraAnchor json.RawMessage `json:"cameraAnchor,omitempty"`
	ControlSink  bool            `json:"controlSink,omitempty"`
}

// replicable reports whether e carries at least one facet that rides in
// snapshots and updates. Entities without one stay host-local.
func replicable(e entity.Entity) bool {
	for _, kind := range entity.ReplicatedKinds {
		if e.Has(kind) {
			return true
		}
	}
	return false
}

// recordFor serializes every facet of e into its wire envelope.
func recordFor(e entity.Entity, netID uint32) EntityRecord {
	rec := EntityRecord{
		NetworkID:   netID,
		Name:        e.Name(),
		ControlSink: e.Has(entity.KindControlSink),
	}
	if blob, ok := e.FacetBlob(entity.KindBody); ok {
		rec.Body = blob
	}
	if blob, ok := e.FacetBlob(entity.KindVisual); ok {
		rec.Visual = blob
	}
	if blob, ok := e.FacetBlob(entity.KindAudio); ok {
		rec.Audio = blob
	}
	if blob, ok := e.FacetBlob(entity.KindCameraAnchor); ok {
		rec.CameraAnchor = blob
	}
	return rec
}

// facets explodes the record back into the per-kind blobs a mirror
// spawns from.
func (rec EntityRecord) facets() map[entity.Kind][]byte {
	facets := make(map[entity.Kind][]byte, 5)
	if rec.Body != nil {
		facets[entity.KindBody] = rec.Body
	}
	if rec.Visual != nil {
		facets[entity.KindVisual] = rec.Visual
	}
	if rec.Audio != nil {
		facets[entity.KindAudio] = rec.Audio
	}
	if rec.CameraAnchor != nil {
		facets[entity.KindCameraAnchor] = rec.CameraAnchor
	}
	if rec.ControlSink {
		facets[entity.KindControlSink] = []byte("{}")
	}
	return facets
}

// createBlobFor renders the create-message blob for one entity.
func createBlobFor(e entity.Entity, netID uint32) ([]byte, error) {
	blob, err := json.Marshal(recordFor(e, netID))
	if err != nil {
		return nil, fmt.Errorf("replication: marshal %q: %w", e.Name(), err)
	}
	return blob, nil
}

// BuildSnapshot serializes every replicable entity in the store into an
// init package, assigning network ids to any that lack one. Entities
// are serialized in parallel, one goroutine per core.
func BuildSnapshot(store entity.Store, reg *Registry) (wire.InitPackage, error) {
	var ents []entity.Entity
	store.ForEach(func(e entity.Entity) bool {
		if replicable(e) {
			ents = append(ents, e)
		}
		return true
	})

	ids := make([]uint32, len(ents))
	for i, e := range ents {
		ids[i] = reg.Assign(e.Handle())
	}

	records := make([]EntityRecord, len(ents))
	swg := sizedwaitgroup.New(runtime.NumCPU())
	for i := range ents {
		swg.Add()
		go func(i int) {
			defer swg.Done()
			records[i] = recordFor(ents[i], ids[i])
		}(i)
	}
	swg.Wait()

	objects, err := json.Marshal(records)
	if err != nil {
		return wire.InitPackage{}, fmt.Errorf("replication: marshal snapshot: %w", err)
	}
	layers := store.BackgroundLayers()
	rawLayers := make([]json.RawMessage, len(layers))
	for i, layer := range layers {
		rawLayers[i] = layer
	}
	background, err := json.Marshal(rawLayers)
	if err != nil {
		return wire.InitPackage{}, fmt.Errorf("replication: marshal background: %w", err)
	}

	pkg := wire.InitPackage{
		BackgroundLayers: uint32(len(layers)),
		ObjectCount:      uint32(len(records)),
	}
	if len(background)+len(objects) >= compressThreshold {
		bgz, bgErr := compress.Deflate(background)
		objz, objErr := compress.Deflate(objects)
		if bgErr == nil && objErr == nil && len(bgz)+len(objz) < len(background)+len(objects) {
			pkg.Compressed = true
			pkg.Background = bgz
			pkg.Objects = objz
			return pkg, nil
		}
	}
	pkg.Background = background
	pkg.Objects = objects
	return pkg, nil
}

// ApplySnapshot replaces the mirror's contents with the package: the
// scene is cleared, background layers loaded, and every record spawned
// under its announced network id.
func ApplySnapshot(pkg wire.InitPackage, mirror entity.Mirror, reg *Registry) error {
	background, objects := pkg.Background, pkg.Objects
	if pkg.Compressed {
		var err error
		if background, err = compress.Inflate(background); err != nil {
			return fmt.Errorf("replication: inflate background: %w", err)
		}
		if objects, err = compress.Inflate(objects); err != nil {
			return fmt.Errorf("replication: inflate objects: %w", err)
		}
	}

	var rawLayers []json.RawMessage
	if len(background) > 0 {
		if err := json.Unmarshal(background, &rawLayers); err != nil {
			return fmt.Errorf("replication: parse background: %w", err)
		}
	}
	var records []EntityRecord
	if len(objects) > 0 {
		if err := json.Unmarshal(objects, &records); err != nil {
			return fmt.Errorf("replication: parse snapshot: %w", err)
		}
	}

	mirror.Clear()
	reg.Reset()
	layers := make([][]byte, len(rawLayers))
	for i, layer := range rawLayers {
		layers[i] = []byte(layer)
	}
	mirror.LoadBackground(layers)
	for _, rec := range records {
		ent, err := mirror.Spawn(rec.Name, rec.facets())
		if err != nil {
			return fmt.Errorf("replication: spawn %q: %w", rec.Name, err)
		}
		reg.Bind(rec.NetworkID, ent.Handle())
	}
	return nil
}

// facetMaskBits maps replicated-kind index to its wire mask bit.
var facetMaskBits = [4]wire.FacetMask{
	wire.MaskBody, wire.MaskVisual, wire.MaskAudio, wire.MaskCameraAnchor,
}

// updateFor builds the update datagram restating every replicated facet
// of e, or nil when it carries none.
func updateFor(e entity.Entity, netID uint32) []byte {
	var mask wire.FacetMask
	var payload []byte
	for i, kind := range entity.ReplicatedKinds {
		blob, ok := e.FacetBlob(kind)
		if !ok {
			continue
		}
		mask |= facetMaskBits[i]
		payload = append(payload, blob...)
		payload = append(payload, 0)
	}
	if mask == 0 {
		return nil
	}
	msg := wire.ObjectUpdate{NetID: netID, Mask: mask, Payload: payload}
	if len(payload) >= compressThreshold {
		if deflated, err := compress.Deflate(payload); err == nil && len(deflated) < len(payload) {
			msg.Compressed = true
			msg.Payload = deflated
		}
	}
	return wire.EncodeObjectUpdate(msg)
}

// applyUpdate merges a decoded update into the mirrored entity.
func applyUpdate(e entity.Entity, msg wire.ObjectUpdate) error {
	payload := msg.Payload
	if msg.Compressed {
		raw, err := compress.Inflate(payload)
		if err != nil {
			return fmt.Errorf("replication: inflate update: %w", err)
		}
		payload = raw
	}
	for i, kind := range entity.ReplicatedKinds {
		if !msg.Mask.Has(facetMaskBits[i]) {
			continue
		}
		var blob []byte
		if cut := bytes.IndexByte(payload, 0); cut >= 0 {
			blob, payload = payload[:cut], payload[cut+1:]
		} else {
			blob, payload = payload, nil
		}
		if err := e.ApplyFacetBlob(kind, blob); err != nil {
			return fmt.Errorf("replication: apply %s facet: %w", kind, err)
		}
	}
	return nil
}
