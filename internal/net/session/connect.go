package session

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/internal/net/rudp"
	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/internal/net/wire"
)

// Connect dials the room named by code through the directory at
// directoryAddr and returns a client transport with the host tracked as
// its only peer.
//
// The connect ladder runs in order: the host's public address as the
// directory observed it, the host's self-reported LAN address when it
// differs, and finally the directory relay. Each rung gets ProbeWait to
// produce a reply before the next one is tried; cfg.Policy can pin the
// ladder to the direct rungs or to the relay alone.
func Connect(cfg Config, code, directoryAddr string) (*Transport, error) {
	t, err := newTransport(cfg, roleClient, 0)
	if err != nil {
		return nil, err
	}
	addr, err := net.ResolveUDPAddr("udp4", directoryAddr)
	if err != nil {
		t.ep.Close()
		return nil, fmt.Errorf("session: resolve directory: %w", err)
	}
	t.directoryAddr = addr
	t.roomCode = strings.ToUpper(strings.TrimSpace(code))

	info, err := t.lookup(t.roomCode)
	if err != nil {
		t.ep.Close()
		return nil, err
	}

	if cfg.Policy != PolicyRelayOnly {
		public := ""
		if info.HostIP != "" {
			public = fmt.Sprintf("%s:%d", info.HostIP, info.HostPort)
			if t.probeDirect(public) {
				return t, nil
			}
		}
		if len(info.Roster) > 0 && info.Roster[0] != "" && info.Roster[0] != public {
			if t.probeDirect(info.Roster[0]) {
				return t, nil
			}
		}
	}
	if cfg.Policy != PolicyDirectOnly {
		if err := t.connectRelay(t.roomCode, info); err == nil {
			return t, nil
		}
	}
	t.ep.Close()
	return nil, ErrConnectFailed
}

// lookup resolves the room code with the directory, retransmitting the
// query once per second until DirectoryWait runs out.
func (t *Transport) lookup(code string) (wire.ResponseRoomInfo, error) {
	query := wire.EncodeClientLookup(wire.ClientLookup{Code: code})
	deadline := t.now().Add(t.cfg.DirectoryWait)
	var nextSend time.Time
	for t.now().Before(deadline) {
		if !t.now().Before(nextSend) {
			t.sendDirectory(query)
			nextSend = t.now().Add(registerEvery)
		}
		datagram, src, err := t.receiveOne(registerEvery)
		if err != nil {
			continue
		}
		if !sameAddr(src, t.directoryAddr) {
			continue
		}
		typ, ok := wire.MessageType(datagram)
		if !ok {
			continue
		}
		switch typ {
		case wire.TypeResponseRoomInfo:
			info, err := wire.DecodeResponseRoomInfo(datagram)
			if err != nil {
				continue
			}
			return info, nil
		case wire.TypeResponseError:
			resp, err := wire.DecodeResponseError(datagram)
			if err != nil {
				continue
			}
			return wire.ResponseRoomInfo{}, fmt.Errorf("%w: %s", ErrRoomNotFound, resp.Message)
		}
	}
	return wire.ResponseRoomInfo{}, ErrDirectoryUnreachable
}

// probeDirect sends connect probes straight at target and succeeds on
// the first datagram that comes back from it.
func (t *Transport) probeDirect(target string) bool {
	addr, err := net.ResolveUDPAddr("udp4", target)
	if err != nil || addr.IP == nil || addr.Port == 0 {
		return false
	}
	probe := wire.EncodeClientConnect()
	deadline := t.now().Add(t.cfg.ProbeWait)
	var nextSend time.Time
	for t.now().Before(deadline) {
		if !t.now().Before(nextSend) {
			t.sendAddr(addr, probe)
			nextSend = t.now().Add(retransmitEvery)
		}
		datagram, src, err := t.receiveOne(retransmitEvery)
		if err != nil {
			continue
		}
		if !sameAddr(src, addr) {
			t.handleInbound(datagram, src)
			continue
		}
		p := &peer{id: src.String(), kind: PeerDirect, addr: src, lastSeen: t.now(), channel: rudp.NewChannel()}
		t.peers[p.id] = p
		t.hostID = p.id
		t.events = append(t.events, Event{Kind: EventConnected, Peer: p.id})
		t.log.Infow("connected direct", "host", p.id)
		t.dispatch(p, datagram)
		return true
	}
	return false
}

// connectRelay asks the directory to bridge the session and tracks the
// host as a relayed peer once the flow is accepted.
func (t *Transport) connectRelay(code string, info wire.ResponseRoomInfo) error {
	request := wire.EncodeRelayRequest(wire.RelayRequest{Code: code})
	deadline := t.now().Add(t.cfg.ProbeWait)
	var nextSend time.Time
	for t.now().Before(deadline) {
		if !t.now().Before(nextSend) {
			t.sendDirectory(request)
			nextSend = t.now().Add(retransmitEvery)
		}
		datagram, src, err := t.receiveOne(retransmitEvery)
		if err != nil {
			continue
		}
		typ, ok := wire.MessageType(datagram)
		if !ok {
			continue
		}
		if !sameAddr(src, t.directoryAddr) || typ != wire.TypeRelayResponse {
			t.handleInbound(datagram, src)
			continue
		}
		resp, err := wire.DecodeRelayResponse(datagram)
		if err != nil {
			continue
		}
		if !resp.Accepted {
			return ErrConnectFailed
		}
		// The host is tracked under the address the lookup reported;
		// the first relayed datagram back re-keys it to the identity
		// the directory actually observed.
		hostID := fmt.Sprintf("%s:%d", info.HostIP, info.HostPort)
		p := &peer{id: hostID, kind: PeerRelayed, lastSeen: t.now(), channel: rudp.NewChannel()}
		t.peers[hostID] = p
		t.hostID = hostID
		t.events = append(t.events, Event{Kind: EventConnected, Peer: hostID})
		t.log.Infow("connected via relay", "host", hostID, "relayPort", resp.RelayPort)
		t.sendRaw(p, wire.EncodeClientConnect())
		return nil
	}
	return ErrDirectoryUnreachable
}
