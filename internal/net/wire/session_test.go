package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestInitPackage_CompressedRoundTrip(t *testing.T) {
	msg := InitPackage{
		BackgroundLayers: 2,
		ObjectCount:      5,
		Compressed:       true,
		Background:       []byte("bg-stream"),
		Objects:          []byte("obj-stream"),
	}
	decoded, err := DecodeInitPackage(EncodeInitPackage(msg))
	if err != nil {
		t.Fatalf("decode returned error: %v", err)
	}
	if decoded.BackgroundLayers != 2 || decoded.ObjectCount != 5 || !decoded.Compressed {
		t.Fatalf("header fields mismatch: %+v", decoded)
	}
	if !bytes.Equal(decoded.Background, msg.Background) || !bytes.Equal(decoded.Objects, msg.Objects) {
		t.Fatalf("blob mismatch: got bg=%q obj=%q", decoded.Background, decoded.Objects)
	}
}

func TestInitPackage_UncompressedRoundTrip(t *testing.T) {
	msg := InitPackage{
		BackgroundLayers: 1,
		ObjectCount:      0,
		Background:       []byte(`[{"layer":"sky"}]`),
		Objects:          []byte(`[]`),
	}
	decoded, err := DecodeInitPackage(EncodeInitPackage(msg))
	if err != nil {
		t.Fatalf("decode returned error: %v", err)
	}
	if decoded.Compressed {
		t.Fatalf("expected uncompressed flag to survive")
	}
	if !bytes.Equal(decoded.Background, msg.Background) || !bytes.Equal(decoded.Objects, msg.Objects) {
		t.Fatalf("blob mismatch: got bg=%q obj=%q", decoded.Background, decoded.Objects)
	}
}

func TestInitPackage_EmptySnapshotIsValid(t *testing.T) {
	decoded, err := DecodeInitPackage(EncodeInitPackage(InitPackage{}))
	if err != nil {
		t.Fatalf("decode of empty snapshot returned error: %v", err)
	}
	if decoded.BackgroundLayers != 0 || decoded.ObjectCount != 0 {
		t.Fatalf("expected zero counts, got %+v", decoded)
	}
	if len(decoded.Background) != 0 || len(decoded.Objects) != 0 {
		t.Fatalf("expected empty blobs, got bg=%q obj=%q", decoded.Background, decoded.Objects)
	}
}

func TestInitPackage_TruncatedCompressedPayload(t *testing.T) {
	data := EncodeInitPackage(InitPackage{
		Compressed: true,
		Background: []byte("0123456789"),
		Objects:    []byte("abcdef"),
	})
	if _, err := DecodeInitPackage(data[:len(data)-3]); !errors.Is(err, ErrShortMessage) {
		t.Fatalf("expected ErrShortMessage for truncated payload, got %v", err)
	}
}

func TestObjectUpdate_CompressedRoundTrip(t *testing.T) {
	msg := ObjectUpdate{
		NetID:      7,
		Mask:       MaskBody | MaskVisual,
		Compressed: true,
		Payload:    []byte("facet-stream"),
	}
	decoded, err := DecodeObjectUpdate(EncodeObjectUpdate(msg))
	if err != nil {
		t.Fatalf("decode returned error: %v", err)
	}
	if decoded.NetID != 7 {
		t.Fatalf("expected net id 7, got %d", decoded.NetID)
	}
	if decoded.Mask != MaskBody|MaskVisual {
		t.Fatalf("expected facet mask to exclude the compression flag, got %b", decoded.Mask)
	}
	if !decoded.Compressed {
		t.Fatalf("expected compressed flag set")
	}
	if !bytes.Equal(decoded.Payload, msg.Payload) {
		t.Fatalf("payload mismatch: got %q", decoded.Payload)
	}
}

func TestObjectUpdate_UncompressedPayloadAliasesTail(t *testing.T) {
	payload := []byte("{\"x\":1}\x00")
	msg := ObjectUpdate{NetID: 3, Mask: MaskBody, Payload: payload}
	decoded, err := DecodeObjectUpdate(EncodeObjectUpdate(msg))
	if err != nil {
		t.Fatalf("decode returned error: %v", err)
	}
	if !bytes.Equal(decoded.Payload, payload) {
		t.Fatalf("expected raw tail payload, got %q", decoded.Payload)
	}
}

func TestObjectUpdate_TruncatedCompressedSize(t *testing.T) {
	msg := ObjectUpdate{NetID: 1, Mask: MaskBody, Compressed: true, Payload: []byte("0123456789")}
	data := EncodeObjectUpdate(msg)
	if _, err := DecodeObjectUpdate(data[:len(data)-4]); !errors.Is(err, ErrShortMessage) {
		t.Fatalf("expected ErrShortMessage for truncated payload, got %v", err)
	}
}

func TestObjectCreate_RoundTrip(t *testing.T) {
	blob := []byte(`{"_networkId":9,"name":"crate"}`)
	decoded, err := DecodeObjectCreate(EncodeObjectCreate(ObjectCreate{NetID: 9, Blob: blob}))
	if err != nil {
		t.Fatalf("decode returned error: %v", err)
	}
	if decoded.NetID != 9 {
		t.Fatalf("expected net id 9, got %d", decoded.NetID)
	}
	if !bytes.Equal(decoded.Blob, blob) {
		t.Fatalf("expected blob without the nul terminator, got %q", decoded.Blob)
	}
}

func TestObjectDestroy_RoundTrip(t *testing.T) {
	id, err := DecodeObjectDestroy(EncodeObjectDestroy(42))
	if err != nil {
		t.Fatalf("decode returned error: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected net id 42, got %d", id)
	}
}

func TestAssignControlled_RoundTrip(t *testing.T) {
	id, err := DecodeAssignControlled(EncodeAssignControlled(1))
	if err != nil {
		t.Fatalf("decode returned error: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected net id 1, got %d", id)
	}
}

func TestClientInput_RoundTrip(t *testing.T) {
	msg := ClientInput{
		NetID:       11,
		MoveRight:   1.0,
		MoveUp:      0.25,
		ActionThrow: 0.5,
	}
	data := EncodeClientInput(msg)
	if got := len(data); got != HeaderSize+32 {
		t.Fatalf("expected %d byte datagram, got %d", HeaderSize+32, got)
	}
	decoded, err := DecodeClientInput(data)
	if err != nil {
		t.Fatalf("decode returned error: %v", err)
	}
	if decoded != msg {
		t.Fatalf("round trip mismatch: sent %+v, got %+v", msg, decoded)
	}
}

func TestClientInput_RejectsShortBody(t *testing.T) {
	data := EncodeClientInput(ClientInput{NetID: 11})
	if _, err := DecodeClientInput(data[:HeaderSize+20]); !errors.Is(err, ErrShortMessage) {
		t.Fatalf("expected ErrShortMessage, got %v", err)
	}
}

func TestFacetMask_Has(t *testing.T) {
	mask := MaskBody | MaskAudio
	if !mask.Has(MaskBody) || !mask.Has(MaskAudio) {
		t.Fatalf("expected mask %b to report its own bits", mask)
	}
	if mask.Has(MaskVisual) || mask.Has(MaskCameraAnchor) {
		t.Fatalf("expected mask %b to exclude unset bits", mask)
	}
}
