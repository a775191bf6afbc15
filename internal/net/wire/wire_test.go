package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestHostRegister_RoundTrip(t *testing.T) {
	msg := HostRegister{HostPort: 8889, LocalIP: "192.168.1.44"}
	data := EncodeHostRegister(msg)

	if got := len(data); got != HeaderSize+3+HostIPLen {
		t.Fatalf("expected %d byte datagram, got %d", HeaderSize+3+HostIPLen, got)
	}
	if data[0] != TypeHostRegister {
		t.Fatalf("expected type tag %d, got %d", TypeHostRegister, data[0])
	}

	decoded, err := DecodeHostRegister(data)
	if err != nil {
		t.Fatalf("decode returned error: %v", err)
	}
	if decoded != msg {
		t.Fatalf("round trip mismatch: sent %+v, got %+v", msg, decoded)
	}
}

func TestHostUpdate_RosterRoundTrip(t *testing.T) {
	msg := HostUpdate{Roster: []string{"192.168.1.44:8889", "10.0.0.9:41000"}}
	decoded, err := DecodeHostUpdate(EncodeHostUpdate(msg))
	if err != nil {
		t.Fatalf("decode returned error: %v", err)
	}
	if len(decoded.Roster) != 2 {
		t.Fatalf("expected 2 roster entries, got %d", len(decoded.Roster))
	}
	// Entries wider than the fixed field come back truncated.
	if decoded.Roster[0] != "192.168.1.44:888" {
		t.Fatalf("expected first entry truncated to field width, got %q", decoded.Roster[0])
	}
	if decoded.Roster[1] != "10.0.0.9:41000" {
		t.Fatalf("expected second entry preserved, got %q", decoded.Roster[1])
	}
}

func TestResponseRoomInfo_RoundTrip(t *testing.T) {
	msg := ResponseRoomInfo{
		HostPort: 8889,
		HostIP:   "203.0.113.7",
		Roster:   []string{"10.0.0.5:8889"},
	}
	decoded, err := DecodeResponseRoomInfo(EncodeResponseRoomInfo(msg))
	if err != nil {
		t.Fatalf("decode returned error: %v", err)
	}
	if decoded.HostPort != msg.HostPort || decoded.HostIP != msg.HostIP {
		t.Fatalf("host fields mismatch: sent %+v, got %+v", msg, decoded)
	}
	if len(decoded.Roster) != 1 || decoded.Roster[0] != msg.Roster[0] {
		t.Fatalf("roster mismatch: sent %v, got %v", msg.Roster, decoded.Roster)
	}
}

func TestResponseError_MessageTruncatesAtFieldWidth(t *testing.T) {
	long := bytes.Repeat([]byte{'x'}, 2*ErrorMsgLen)
	decoded, err := DecodeResponseError(EncodeResponseError(ResponseError{Message: string(long)}))
	if err != nil {
		t.Fatalf("decode returned error: %v", err)
	}
	if len(decoded.Message) != ErrorMsgLen {
		t.Fatalf("expected message clamped to %d bytes, got %d", ErrorMsgLen, len(decoded.Message))
	}
}

func TestRelayData_RoundTripAndAlias(t *testing.T) {
	msg := RelayData{
		From:    "198.51.100.20:53000",
		To:      "203.0.113.7:8889",
		Payload: []byte{TypeHeartbeat, 0, 0, 0},
	}
	decoded, err := DecodeRelayData(EncodeRelayData(msg))
	if err != nil {
		t.Fatalf("decode returned error: %v", err)
	}
	if decoded.From != msg.From || decoded.To != msg.To {
		t.Fatalf("endpoint mismatch: sent %+v, got %+v", msg, decoded)
	}
	if !bytes.Equal(decoded.Payload, msg.Payload) {
		t.Fatalf("payload mismatch: sent %v, got %v", msg.Payload, decoded.Payload)
	}
}

func TestClientLookup_RejectsShortDatagram(t *testing.T) {
	data := EncodeClientLookup(ClientLookup{Code: "ABC123"})
	if _, err := DecodeClientLookup(data[:len(data)-2]); !errors.Is(err, ErrShortMessage) {
		t.Fatalf("expected ErrShortMessage for truncated lookup, got %v", err)
	}
}

func TestDecode_RejectsWrongTypeTag(t *testing.T) {
	data := EncodeHostHeartbeat()
	if _, err := DecodeClientLookup(data); !errors.Is(err, ErrBadType) {
		t.Fatalf("expected ErrBadType when decoding heartbeat as lookup, got %v", err)
	}
}

func TestMessageType_ShortDatagram(t *testing.T) {
	if _, ok := MessageType([]byte{1, 0}); ok {
		t.Fatalf("expected sub-header datagram to report no type")
	}
	typ, ok := MessageType(EncodeHeartbeat())
	if !ok || typ != TypeHeartbeat {
		t.Fatalf("expected heartbeat tag, got %d ok=%v", typ, ok)
	}
}

func TestValidCode(t *testing.T) {
	cases := []struct {
		code string
		want bool
	}{
		{"ABC123", true},
		{"000000", true},
		{"ZZZZZZ", true},
		{"abc123", false},
		{"ABC12", false},
		{"ABC1234", false},
		{"ABC-12", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ValidCode(tc.code); got != tc.want {
			t.Fatalf("ValidCode(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}
