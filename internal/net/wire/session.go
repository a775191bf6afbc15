package wire

import (
	"bytes"
	"encoding/binary"
	"math"
)

// FacetMask flags which facet blobs an OBJECT_UPDATE carries. Blobs appear
// in mask-bit order: body, visual, audio, camera anchor.
type FacetMask uint8

const (
	MaskBody FacetMask = 1 << iota
	MaskVisual
	MaskAudio
	MaskCameraAnchor

	// maskCompressed is a wire-only flag folded into the mask byte; it is
	// surfaced as ObjectUpdate.Compressed rather than as a mask bit.
	maskCompressed FacetMask = 1 << 4

	// MaskAll covers every replicated facet.
	MaskAll = MaskBody | MaskVisual | MaskAudio | MaskCameraAnchor
)

// Has reports whether the mask carries the given facet bits.
func (m FacetMask) Has(bits FacetMask) bool { return m&bits != 0 }

// EncodeClientConnect renders the join request a client sends to a host.
// Repeats are idempotent: the host answers each with a fresh snapshot.
func EncodeClientConnect() []byte {
	buf := appendHeader(make([]byte, 0, HeaderSize+4), TypeClientConnect)
	return append(buf, 0, 0, 0, 0)
}

// EncodeClientDisconnect renders the best-effort farewell a client sends
// before closing its socket.
func EncodeClientDisconnect() []byte {
	buf := appendHeader(make([]byte, 0, HeaderSize+4), TypeClientDisconnect)
	return append(buf, 0, 0, 0, 0)
}

// EncodeHeartbeat renders the header-only session keepalive.
func EncodeHeartbeat() []byte {
	return appendHeader(make([]byte, 0, HeaderSize), TypeHeartbeat)
}

// InitPackage carries the initial world snapshot: one background blob and
// one entity-array blob. When Compressed is set each blob is a deflate
// stream prefixed with its length; otherwise the blobs ride back-to-back,
// each nul-terminated.
type InitPackage struct {
	BackgroundLayers uint32
	ObjectCount      uint32
	Compressed       bool
	Background       []byte
	Objects          []byte
}

// EncodeInitPackage renders an INIT_PACKAGE datagram.
func EncodeInitPackage(msg InitPackage) []byte {
	size := HeaderSize + 12 + len(msg.Background) + len(msg.Objects)
	if msg.Compressed {
		size += 8
	} else {
		size += 2
	}
	buf := make([]byte, 0, size)
	buf = appendHeader(buf, TypeInitPackage)
	buf = binary.LittleEndian.AppendUint32(buf, msg.BackgroundLayers)
	buf = binary.LittleEndian.AppendUint32(buf, msg.ObjectCount)
	compressed := byte(0)
	if msg.Compressed {
		compressed = 1
	}
	buf = append(buf, compressed, 0, 0, 0)
	if msg.Compressed {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(msg.Background)))
		buf = append(buf, msg.Background...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(msg.Objects)))
		buf = append(buf, msg.Objects...)
		return buf
	}
	buf = append(buf, msg.Background...)
	buf = append(buf, 0)
	buf = append(buf, msg.Objects...)
	return append(buf, 0)
}

// DecodeInitPackage parses an INIT_PACKAGE datagram. Blob slices alias the
// input.
func DecodeInitPackage(data []byte) (InitPackage, error) {
	body, err := checkType(data, TypeInitPackage)
	if err != nil {
		return InitPackage{}, err
	}
	if len(body) < 12 {
		return InitPackage{}, ErrShortMessage
	}
	msg := InitPackage{
		BackgroundLayers: binary.LittleEndian.Uint32(body[0:4]),
		ObjectCount:      binary.LittleEndian.Uint32(body[4:8]),
		Compressed:       body[8] == 1,
	}
	payload := body[12:]
	if msg.Compressed {
		if len(payload) < 4 {
			return InitPackage{}, ErrShortMessage
		}
		bgSize := int(binary.LittleEndian.Uint32(payload[0:4]))
		if len(payload) < 4+bgSize+4 {
			return InitPackage{}, ErrShortMessage
		}
		msg.Background = payload[4 : 4+bgSize]
		rest := payload[4+bgSize:]
		objSize := int(binary.LittleEndian.Uint32(rest[0:4]))
		if len(rest) < 4+objSize {
			return InitPackage{}, ErrShortMessage
		}
		msg.Objects = rest[4 : 4+objSize]
		return msg, nil
	}
	cut := bytes.IndexByte(payload, 0)
	if cut < 0 {
		return InitPackage{}, ErrShortMessage
	}
	msg.Background = payload[:cut]
	rest := payload[cut+1:]
	if end := bytes.IndexByte(rest, 0); end >= 0 {
		rest = rest[:end]
	}
	msg.Objects = rest
	return msg, nil
}

// ObjectUpdate restates the masked facets of one entity. The payload is
// either one deflate stream prefixed with its length, or the enabled facet
// blobs nul-terminated in mask-bit order.
type ObjectUpdate struct {
	NetID      uint32
	Mask       FacetMask
	Compressed bool
	Payload    []byte
}

// EncodeObjectUpdate renders an OBJECT_UPDATE datagram.
func EncodeObjectUpdate(msg ObjectUpdate) []byte {
	buf := make([]byte, 0, HeaderSize+9+len(msg.Payload))
	buf = appendHeader(buf, TypeObjectUpdate)
	buf = binary.LittleEndian.AppendUint32(buf, msg.NetID)
	mask := msg.Mask & MaskAll
	if msg.Compressed {
		mask |= maskCompressed
	}
	buf = append(buf, byte(mask))
	if msg.Compressed {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(msg.Payload)))
	}
	return append(buf, msg.Payload...)
}

// DecodeObjectUpdate parses an OBJECT_UPDATE datagram. The payload slice
// aliases the input.
func DecodeObjectUpdate(data []byte) (ObjectUpdate, error) {
	body, err := checkType(data, TypeObjectUpdate)
	if err != nil {
		return ObjectUpdate{}, err
	}
	if len(body) < 5 {
		return ObjectUpdate{}, ErrShortMessage
	}
	mask := FacetMask(body[4])
	msg := ObjectUpdate{
		NetID:      binary.LittleEndian.Uint32(body[0:4]),
		Mask:       mask & MaskAll,
		Compressed: mask&maskCompressed != 0,
	}
	payload := body[5:]
	if msg.Compressed {
		if len(payload) < 4 {
			return ObjectUpdate{}, ErrShortMessage
		}
		size := int(binary.LittleEndian.Uint32(payload[0:4]))
		if len(payload) < 4+size {
			return ObjectUpdate{}, ErrShortMessage
		}
		msg.Payload = payload[4 : 4+size]
		return msg, nil
	}
	msg.Payload = payload
	return msg, nil
}

// ObjectCreate announces a newly replicable entity with its full JSON
// description.
type ObjectCreate struct {
	NetID uint32
	Blob  []byte
}

// EncodeObjectCreate renders an OBJECT_CREATE datagram.
func EncodeObjectCreate(msg ObjectCreate) []byte {
	buf := make([]byte, 0, HeaderSize+4+len(msg.Blob)+1)
	buf = appendHeader(buf, TypeObjectCreate)
	buf = binary.LittleEndian.AppendUint32(buf, msg.NetID)
	buf = append(buf, msg.Blob...)
	return append(buf, 0)
}

// DecodeObjectCreate parses an OBJECT_CREATE datagram. The blob slice
// aliases the input.
func DecodeObjectCreate(data []byte) (ObjectCreate, error) {
	body, err := checkType(data, TypeObjectCreate)
	if err != nil {
		return ObjectCreate{}, err
	}
	if len(body) < 4 {
		return ObjectCreate{}, ErrShortMessage
	}
	blob := body[4:]
	if cut := bytes.IndexByte(blob, 0); cut >= 0 {
		blob = blob[:cut]
	}
	return ObjectCreate{
		NetID: binary.LittleEndian.Uint32(body[0:4]),
		Blob:  blob,
	}, nil
}

// EncodeObjectDestroy renders an OBJECT_DESTROY datagram.
func EncodeObjectDestroy(netID uint32) []byte {
	buf := make([]byte, 0, HeaderSize+8)
	buf = appendHeader(buf, TypeObjectDestroy)
	buf = binary.LittleEndian.AppendUint32(buf, netID)
	return append(buf, 0, 0, 0, 0)
}

// DecodeObjectDestroy parses an OBJECT_DESTROY datagram.
func DecodeObjectDestroy(data []byte) (uint32, error) {
	body, err := checkType(data, TypeObjectDestroy)
	if err != nil {
		return 0, err
	}
	if len(body) < 8 {
		return 0, ErrShortMessage
	}
	return binary.LittleEndian.Uint32(body[0:4]), nil
}

// EncodeAssignControlled renders an ASSIGN_CONTROLLED_OBJECT datagram.
func EncodeAssignControlled(netID uint32) []byte {
	buf := make([]byte, 0, HeaderSize+8)
	buf = appendHeader(buf, TypeAssignControlled)
	buf = binary.LittleEndian.AppendUint32(buf, netID)
	return append(buf, 0, 0, 0, 0)
}

// DecodeAssignControlled parses an ASSIGN_CONTROLLED_OBJECT datagram.
func DecodeAssignControlled(data []byte) (uint32, error) {
	body, err := checkType(data, TypeAssignControlled)
	if err != nil {
		return 0, err
	}
	if len(body) < 8 {
		return 0, ErrShortMessage
	}
	return binary.LittleEndian.Uint32(body[0:4]), nil
}

// ClientInput carries the seven normalized control scalars a client feeds
// into its controlled entity.
type ClientInput struct {
	NetID          uint32
	MoveUp         float32
	MoveDown       float32
	MoveLeft       float32
	MoveRight      float32
	ActionWalk     float32
	ActionInteract float32
	ActionThrow    float32
}

// EncodeClientInput renders a CLIENT_INPUT datagram.
func EncodeClientInput(msg ClientInput) []byte {
	buf := make([]byte, 0, HeaderSize+32)
	buf = appendHeader(buf, TypeClientInput)
	buf = binary.LittleEndian.AppendUint32(buf, msg.NetID)
	for _, v := range [7]float32{
		msg.MoveUp, msg.MoveDown, msg.MoveLeft, msg.MoveRight,
		msg.ActionWalk, msg.ActionInteract, msg.ActionThrow,
	} {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf
}

// DecodeClientInput parses a CLIENT_INPUT datagram.
func DecodeClientInput(data []byte) (ClientInput, error) {
	body, err := checkType(data, TypeClientInput)
	if err != nil {
		return ClientInput{}, err
	}
	if len(body) < 32 {
		return ClientInput{}, ErrShortMessage
	}
	at := func(i int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(body[4+i*4 : 8+i*4]))
	}
	return ClientInput{
		NetID:          binary.LittleEndian.Uint32(body[0:4]),
		MoveUp:         at(0),
		MoveDown:       at(1),
		MoveLeft:       at(2),
		MoveRight:      at(3),
		ActionWalk:     at(4),
		ActionInteract: at(5),
		ActionThrow:    at(6),
	}, nil
}
