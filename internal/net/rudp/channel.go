// Package rudp adds the reliable tier on top of raw datagrams: outbound
// messages are wrapped in carrier packets with sequence numbers, split
// into MTU-sized fragments, retransmitted until acknowledged, and handed
// back to the receiver deduplicated and in send order.
//
// A Channel covers one peer pair and carries no locking of its own; the
// owning transport serializes access.
package rudp

import (
	"encoding/binary"
	"time"
)

// Carrier type tags, disjoint from the directory and session ranges.
const (
	TypeData uint8 = 30
	TypeAck  uint8 = 31
)

const (
	headerSize = 4

	// MaxFragment bounds a carrier payload chunk so the full datagram
	// stays under a conservative UDP MTU.
	MaxFragment = 1200

	// RetransmitInterval paces resends of unacknowledged fragments.
	RetransmitInterval = 200 * time.Millisecond
)

// IsCarrier reports whether a type tag belongs to the reliable tier.
func IsCarrier(t uint8) bool {
	return t == TypeData || t == TypeAck
}

type outbound struct {
	frags    [][]byte
	acked    []bool
	remain   int
	lastSent time.Time
}

type assembly struct {
	parts  [][]byte
	remain int
}

// Channel tracks reliable state for one peer in both directions.
type Channel struct {
	nextSeq  uint32
	pending  map[uint32]*outbound
	expected uint32
	ready    map[uint32][]byte
	partial  map[uint32]*assembly
}

// NewChannel returns a channel with sequence numbers starting at 1.
func NewChannel() *Channel {
	return &Channel{
		nextSeq:  1,
		pending:  make(map[uint32]*outbound),
		expected: 1,
		ready:    make(map[uint32][]byte),
		partial:  make(map[uint32]*assembly),
	}
}

// Package wraps payload into carrier datagrams, registers them for
// retransmission, and returns them ready to send.
func (c *Channel) Package(payload []byte, now time.Time) [][]byte {
	nfrag := (len(payload) + MaxFragment - 1) / MaxFragment
	if nfrag == 0 {
		nfrag = 1
	}
	seq := c.nextSeq
	c.nextSeq++

	frags := make([][]byte, 0, nfrag)
	for i := 0; i < nfrag; i++ {
		start := i * MaxFragment
		end := start + MaxFragment
		if end > len(payload) {
			end = len(payload)
		}
		frags = append(frags, encodeData(seq, uint16(i), uint16(nfrag), payload[start:end]))
	}
	c.pending[seq] = &outbound{
		frags:    frags,
		acked:    make([]bool, nfrag),
		remain:   nfrag,
		lastSent: now,
	}
	return frags
}

// Due returns the unacknowledged fragments whose retransmit interval has
// elapsed and restarts their timers.
func (c *Channel) Due(now time.Time) [][]byte {
	var due [][]byte
	for _, msg := range c.pending {
		if now.Sub(msg.lastSent) < RetransmitInterval {
			continue
		}
		msg.lastSent = now
		for i, frag := range msg.frags {
			if !msg.acked[i] {
				due = append(due, frag)
			}
		}
	}
	return due
}

// Outstanding reports how many outbound messages still await a full
// acknowledgement.
func (c *Channel) Outstanding() int {
	return len(c.pending)
}

// Accept processes one inbound carrier datagram. It returns any payloads
// now deliverable in order, plus the acknowledgement datagrams to send
// back. Malformed carriers yield nothing.
func (c *Channel) Accept(datagram []byte, now time.Time) (deliver [][]byte, acks [][]byte) {
	if len(datagram) < headerSize {
		return nil, nil
	}
	switch datagram[0] {
	case TypeAck:
		c.acceptAck(datagram)
		return nil, nil
	case TypeData:
		return c.acceptData(datagram)
	default:
		return nil, nil
	}
}

func (c *Channel) acceptAck(datagram []byte) {
	if len(datagram) < headerSize+8 {
		return
	}
	seq := binary.LittleEndian.Uint32(datagram[headerSize : headerSize+4])
	frag := int(binary.LittleEndian.Uint16(datagram[headerSize+4 : headerSize+6]))
	msg, ok := c.pending[seq]
	if !ok || frag >= len(msg.acked) || msg.acked[frag] {
		return
	}
	msg.acked[frag] = true
	msg.remain--
	if msg.remain == 0 {
		delete(c.pending, seq)
	}
}

func (c *Channel) acceptData(datagram []byte) (deliver [][]byte, acks [][]byte) {
	if len(datagram) < headerSize+8 {
		return nil, nil
	}
	seq := binary.LittleEndian.Uint32(datagram[headerSize : headerSize+4])
	frag := int(binary.LittleEndian.Uint16(datagram[headerSize+4 : headerSize+6]))
	nfrag := int(binary.LittleEndian.Uint16(datagram[headerSize+6 : headerSize+8]))
	if nfrag == 0 || frag >= nfrag {
		return nil, nil
	}
	// Always acknowledge so the sender stops retransmitting, even for
	// duplicates of already-delivered messages.
	acks = [][]byte{encodeAck(seq, uint16(frag))}

	if seq < c.expected {
		return nil, acks
	}
	if _, done := c.ready[seq]; done {
		return nil, acks
	}

	asm, ok := c.partial[seq]
	if !ok {
		asm = &assembly{parts: make([][]byte, nfrag), remain: nfrag}
		c.partial[seq] = asm
	}
	if len(asm.parts) != nfrag || asm.parts[frag] != nil {
		return nil, acks
	}
	chunk := make([]byte, len(datagram)-headerSize-8)
	copy(chunk, datagram[headerSize+8:])
	asm.parts[frag] = chunk
	asm.remain--
	if asm.remain > 0 {
		return nil, acks
	}

	var payload []byte
	for _, part := range asm.parts {
		payload = append(payload, part...)
	}
	if payload == nil {
		payload = []byte{}
	}
	delete(c.partial, seq)
	c.ready[seq] = payload

	for {
		next, ok := c.ready[c.expected]
		if !ok {
			break
		}
		delete(c.ready, c.expected)
		c.expected++
		deliver = append(deliver, next)
	}
	return deliver, acks
}

func encodeData(seq uint32, frag, nfrag uint16, chunk []byte) []byte {
	buf := make([]byte, 0, headerSize+8+len(chunk))
	buf = append(buf, TypeData, 0, 0, 0)
	buf = binary.LittleEndian.AppendUint32(buf, seq)
	buf = binary.LittleEndian.AppendUint16(buf, frag)
	buf = binary.LittleEndian.AppendUint16(buf, nfrag)
	return append(buf, chunk...)
}

func encodeAck(seq uint32, frag uint16) []byte {
	buf := make([]byte, 0, headerSize+8)
	buf = append(buf, TypeAck, 0, 0, 0)
	buf = binary.LittleEndian.AppendUint32(buf, seq)
	buf = binary.LittleEndian.AppendUint16(buf, frag)
	return binary.LittleEndian.AppendUint16(buf, 0)
}
