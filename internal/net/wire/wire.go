// Package wire encodes and decodes the datagram messages exchanged by the
// directory, hosts, and clients. Every message starts with a one-byte type
// tag and three reserved bytes; bodies use little-endian integers and
// fixed-width nul-padded strings. The package is pure: no sockets, no
// timers.
package wire

import (
	"bytes"
	"errors"
	"fmt"
)

// HeaderSize is the length of the fixed datagram header.
const HeaderSize = 4

// Directory message type identifiers.
const (
	TypeHostRegister     uint8 = 1
	TypeHostHeartbeat    uint8 = 2
	TypeHostUpdate       uint8 = 3
	TypeClientLookup     uint8 = 4
	TypeResponseRegister uint8 = 5
	TypeResponseRoomInfo uint8 = 6
	TypeResponseError    uint8 = 7
	TypeRelayRequest     uint8 = 8
	TypeRelayResponse    uint8 = 9
	TypeRelayData        uint8 = 20
)

// Session message type identifiers.
const (
	TypeClientConnect    uint8 = 10
	TypeClientDisconnect uint8 = 11
	TypeInitPackage      uint8 = 12
	TypeObjectUpdate     uint8 = 13
	TypeObjectCreate     uint8 = 14
	TypeObjectDestroy    uint8 = 15
	TypeClientInput      uint8 = 16
	TypeHeartbeat        uint8 = 17
	TypeAssignControlled uint8 = 18
)

// Fixed field widths.
const (
	// RoomCodeLen is the wire width of a room code: six characters plus a
	// nul terminator.
	RoomCodeLen = 7
	// CodeChars is the number of meaningful characters in a room code.
	CodeChars = 6
	// ErrorMsgLen is the wire width of a RESPONSE_ERROR message.
	ErrorMsgLen = 64
	// HostIPLen is the wire width of an IP address string.
	HostIPLen = 16
	// RosterEntryLen is the wire width of one "ip:port" roster entry.
	RosterEntryLen = 16
	// RelayAddrLen is the wire width of a relay "ip:port" endpoint, sized
	// for a full IPv4 address with port plus a nul terminator.
	RelayAddrLen = 22
)

var (
	// ErrShortMessage reports a datagram shorter than its fixed layout, or
	// a variable payload truncated below its declared size.
	ErrShortMessage = errors.New("wire: short message")
	// ErrBadType reports a datagram whose type tag does not match the
	// decoder it was handed to.
	ErrBadType = errors.New("wire: unexpected message type")
)

// MessageType reports the type tag of a datagram. The second return is
// false when the datagram is shorter than the header.
func MessageType(data []byte) (uint8, bool) {
	if len(data) < HeaderSize {
		return 0, false
	}
	return data[0], true
}

// ValidCode reports whether code is exactly six characters of [0-9A-Z].
func ValidCode(code string) bool {
	if len(code) != CodeChars {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}

func appendHeader(dst []byte, t uint8) []byte {
	return append(dst, t, 0, 0, 0)
}

// appendFixed writes s into a nul-padded field of the given width,
// truncating when s is too long.
func appendFixed(dst []byte, s string, width int) []byte {
	if len(s) > width {
		s = s[:width]
	}
	dst = append(dst, s...)
	for i := len(s); i < width; i++ {
		dst = append(dst, 0)
	}
	return dst
}

// fixedString reads a nul-padded field, trimming at the first nul.
func fixedString(data []byte) string {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return string(data[:i])
	}
	return string(data)
}

// checkType strips the header after validating length and type tag.
func checkType(data []byte, want uint8) ([]byte, error) {
	if len(data) < HeaderSize {
		return nil, ErrShortMessage
	}
	if data[0] != want {
		return nil, fmt.Errorf("%w: got %d want %d", ErrBadType, data[0], want)
	}
	return data[HeaderSize:], nil
}
