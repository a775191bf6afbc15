package wire

import "encoding/binary"

// HostRegister announces a hosting session to the directory. HostPort is
// the UDP port the host serves clients on; LocalIP is the host's own view
// of its address, which clients use as the LAN fallback candidate.
type HostRegister struct {
	HostPort uint16
	LocalIP  string
}

// EncodeHostRegister renders a HOST_REGISTER datagram.
func EncodeHostRegister(msg HostRegister) []byte {
	buf := make([]byte, 0, HeaderSize+3+HostIPLen)
	buf = appendHeader(buf, TypeHostRegister)
	buf = binary.LittleEndian.AppendUint16(buf, msg.HostPort)
	buf = append(buf, 0)
	buf = appendFixed(buf, msg.LocalIP, HostIPLen)
	return buf
}

// DecodeHostRegister parses a HOST_REGISTER datagram.
func DecodeHostRegister(data []byte) (HostRegister, error) {
	body, err := checkType(data, TypeHostRegister)
	if err != nil {
		return HostRegister{}, err
	}
	if len(body) < 3+HostIPLen {
		return HostRegister{}, ErrShortMessage
	}
	return HostRegister{
		HostPort: binary.LittleEndian.Uint16(body[0:2]),
		LocalIP:  fixedString(body[3 : 3+HostIPLen]),
	}, nil
}

// EncodeHostHeartbeat renders the header-only room keepalive.
func EncodeHostHeartbeat() []byte {
	return appendHeader(make([]byte, 0, HeaderSize), TypeHostHeartbeat)
}

// HostUpdate refreshes the directory's view of a room. The host lists
// itself first in the roster, so the player count covers the host plus its
// connected clients.
type HostUpdate struct {
	Roster []string
}

// EncodeHostUpdate renders a HOST_UPDATE datagram.
func EncodeHostUpdate(msg HostUpdate) []byte {
	buf := make([]byte, 0, HeaderSize+4+len(msg.Roster)*RosterEntryLen)
	buf = appendHeader(buf, TypeHostUpdate)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(msg.Roster)))
	buf = binary.LittleEndian.AppendUint16(buf, 0)
	for _, entry := range msg.Roster {
		buf = appendFixed(buf, entry, RosterEntryLen)
	}
	return buf
}

// DecodeHostUpdate parses a HOST_UPDATE datagram.
func DecodeHostUpdate(data []byte) (HostUpdate, error) {
	body, err := checkType(data, TypeHostUpdate)
	if err != nil {
		return HostUpdate{}, err
	}
	if len(body) < 4 {
		return HostUpdate{}, ErrShortMessage
	}
	count := int(binary.LittleEndian.Uint16(body[0:2]))
	if len(body) < 4+count*RosterEntryLen {
		return HostUpdate{}, ErrShortMessage
	}
	roster := make([]string, 0, count)
	for i := 0; i < count; i++ {
		off := 4 + i*RosterEntryLen
		roster = append(roster, fixedString(body[off:off+RosterEntryLen]))
	}
	return HostUpdate{Roster: roster}, nil
}

// ClientLookup asks the directory for the host behind a room code.
type ClientLookup struct {
	Code string
}

// EncodeClientLookup renders a CLIENT_LOOKUP datagram.
func EncodeClientLookup(msg ClientLookup) []byte {
	buf := make([]byte, 0, HeaderSize+RoomCodeLen)
	buf = appendHeader(buf, TypeClientLookup)
	return appendFixed(buf, msg.Code, RoomCodeLen)
}

// DecodeClientLookup parses a CLIENT_LOOKUP datagram.
func DecodeClientLookup(data []byte) (ClientLookup, error) {
	body, err := checkType(data, TypeClientLookup)
	if err != nil {
		return ClientLookup{}, err
	}
	if len(body) < RoomCodeLen {
		return ClientLookup{}, ErrShortMessage
	}
	return ClientLookup{Code: fixedString(body[:RoomCodeLen])}, nil
}

// ResponseRegister confirms a room registration back to the host.
type ResponseRegister struct {
	Code     string
	HostPort uint16
}

// EncodeResponseRegister renders a RESPONSE_REGISTER datagram.
func EncodeResponseRegister(msg ResponseRegister) []byte {
	buf := make([]byte, 0, HeaderSize+RoomCodeLen+3)
	buf = appendHeader(buf, TypeResponseRegister)
	buf = appendFixed(buf, msg.Code, RoomCodeLen)
	buf = binary.LittleEndian.AppendUint16(buf, msg.HostPort)
	return append(buf, 0)
}

// DecodeResponseRegister parses a RESPONSE_REGISTER datagram.
func DecodeResponseRegister(data []byte) (ResponseRegister, error) {
	body, err := checkType(data, TypeResponseRegister)
	if err != nil {
		return ResponseRegister{}, err
	}
	if len(body) < RoomCodeLen+3 {
		return ResponseRegister{}, ErrShortMessage
	}
	return ResponseRegister{
		Code:     fixedString(body[:RoomCodeLen]),
		HostPort: binary.LittleEndian.Uint16(body[RoomCodeLen : RoomCodeLen+2]),
	}, nil
}

// ResponseRoomInfo answers a lookup with the host's public address and the
// current roster. HostIP is the address the directory observed; the first
// roster entry is the host's self-reported local address, kept for the LAN
// fallback.
type ResponseRoomInfo struct {
	HostPort uint16
	HostIP   string
	Roster   []string
}

// EncodeResponseRoomInfo renders a RESPONSE_ROOM_INFO datagram.
func EncodeResponseRoomInfo(msg ResponseRoomInfo) []byte {
	buf := make([]byte, 0, HeaderSize+4+HostIPLen+len(msg.Roster)*RosterEntryLen)
	buf = appendHeader(buf, TypeResponseRoomInfo)
	buf = binary.LittleEndian.AppendUint16(buf, msg.HostPort)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(msg.Roster)))
	buf = appendFixed(buf, msg.HostIP, HostIPLen)
	for _, entry := range msg.Roster {
		buf = appendFixed(buf, entry, RosterEntryLen)
	}
	return buf
}

// DecodeResponseRoomInfo parses a RESPONSE_ROOM_INFO datagram.
func DecodeResponseRoomInfo(data []byte) (ResponseRoomInfo, error) {
	body, err := checkType(data, TypeResponseRoomInfo)
	if err != nil {
		return ResponseRoomInfo{}, err
	}
	if len(body) < 4+HostIPLen {
		return ResponseRoomInfo{}, ErrShortMessage
	}
	count := int(binary.LittleEndian.Uint16(body[2:4]))
	if len(body) < 4+HostIPLen+count*RosterEntryLen {
		return ResponseRoomInfo{}, ErrShortMessage
	}
	roster := make([]string, 0, count)
	for i := 0; i < count; i++ {
		off := 4 + HostIPLen + i*RosterEntryLen
		roster = append(roster, fixedString(body[off:off+RosterEntryLen]))
	}
	return ResponseRoomInfo{
		HostPort: binary.LittleEndian.Uint16(body[0:2]),
		HostIP:   fixedString(body[4 : 4+HostIPLen]),
		Roster:   roster,
	}, nil
}

// ResponseError reports a failed directory request, e.g. a lookup for a
// code with no live room.
type ResponseError struct {
	Message string
}

// EncodeResponseError renders a RESPONSE_ERROR datagram.
func EncodeResponseError(msg ResponseError) []byte {
	buf := make([]byte, 0, HeaderSize+ErrorMsgLen)
	buf = appendHeader(buf, TypeResponseError)
	return appendFixed(buf, msg.Message, ErrorMsgLen)
}

// DecodeResponseError parses a RESPONSE_ERROR datagram.
func DecodeResponseError(data []byte) (ResponseError, error) {
	body, err := checkType(data, TypeResponseError)
	if err != nil {
		return ResponseError{}, err
	}
	if len(body) < ErrorMsgLen {
		return ResponseError{}, ErrShortMessage
	}
	return ResponseError{Message: fixedString(body[:ErrorMsgLen])}, nil
}

// RelayRequest asks the directory to open a relay flow toward the room's
// host on behalf of the sender.
type RelayRequest struct {
	Code string
}

// EncodeRelayRequest renders a RELAY_REQUEST datagram.
func EncodeRelayRequest(msg RelayRequest) []byte {
	buf := make([]byte, 0, HeaderSize+RoomCodeLen+1)
	buf = appendHeader(buf, TypeRelayRequest)
	buf = appendFixed(buf, msg.Code, RoomCodeLen)
	return append(buf, 0)
}

// DecodeRelayRequest parses a RELAY_REQUEST datagram.
func DecodeRelayRequest(data []byte) (RelayRequest, error) {
	body, err := checkType(data, TypeRelayRequest)
	if err != nil {
		return RelayRequest{}, err
	}
	if len(body) < RoomCodeLen+1 {
		return RelayRequest{}, ErrShortMessage
	}
	return RelayRequest{Code: fixedString(body[:RoomCodeLen])}, nil
}

// RelayResponse answers a relay request. RelayPort is the directory port
// that accepts RELAY_DATA for the flow.
type RelayResponse struct {
	Accepted  bool
	RelayPort uint16
}

// EncodeRelayResponse renders a RELAY_RESPONSE datagram.
func EncodeRelayResponse(msg RelayResponse) []byte {
	buf := make([]byte, 0, HeaderSize+4)
	buf = appendHeader(buf, TypeRelayResponse)
	accepted := byte(0)
	if msg.Accepted {
		accepted = 1
	}
	buf = append(buf, accepted, 0)
	return binary.LittleEndian.AppendUint16(buf, msg.RelayPort)
}

// DecodeRelayResponse parses a RELAY_RESPONSE datagram.
func DecodeRelayResponse(data []byte) (RelayResponse, error) {
	body, err := checkType(data, TypeRelayResponse)
	if err != nil {
		return RelayResponse{}, err
	}
	if len(body) < 4 {
		return RelayResponse{}, ErrShortMessage
	}
	return RelayResponse{
		Accepted:  body[0] == 1,
		RelayPort: binary.LittleEndian.Uint16(body[2:4]),
	}, nil
}

// RelayData tunnels one session datagram through the directory. From and
// To are "ip:port" endpoint strings; the directory rewrites From with the
// address it observed before forwarding.
type RelayData struct {
	From    string
	To      string
	Payload []byte
}

// EncodeRelayData renders a RELAY_DATA datagram.
func EncodeRelayData(msg RelayData) []byte {
	buf := make([]byte, 0, HeaderSize+2*RelayAddrLen+len(msg.Payload))
	buf = appendHeader(buf, TypeRelayData)
	buf = appendFixed(buf, msg.From, RelayAddrLen)
	buf = appendFixed(buf, msg.To, RelayAddrLen)
	return append(buf, msg.Payload...)
}

// DecodeRelayData parses a RELAY_DATA datagram. The payload slice aliases
// the input.
func DecodeRelayData(data []byte) (RelayData, error) {
	body, err := checkType(data, TypeRelayData)
	if err != nil {
		return RelayData{}, err
	}
	if len(body) < 2*RelayAddrLen {
		return RelayData{}, ErrShortMessage
	}
	return RelayData{
		From:    fixedString(body[:RelayAddrLen]),
		To:      fixedString(body[RelayAddrLen : 2*RelayAddrLen]),
		Payload: body[2*RelayAddrLen:],
	}, nil
}
