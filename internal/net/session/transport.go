// Package session moves game datagrams between a host and its clients.
//
// A Transport owns one UDP socket and a table of peers. Direct peers
// exchange datagrams straight over the socket; relayed peers wrap every
// datagram in a relay envelope addressed to the rendezvous directory,
// which forwards it to the far side. Payloads tagged reliable ride the
// rudp carrier with acknowledgements and retransmits; everything else
// is fire-and-forget.
//
// The transport is not internally synchronized beyond its peer table:
// Poll, Flush, and the send methods are meant to be driven from a
// single loop, the same loop that steps the replication engine.
package session

import (
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/internal/net/rudp"
	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/internal/net/udp"
	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/internal/net/wire"
)

const (
	// DefaultPeerTimeout is how long a peer may stay silent before the
	// transport declares it gone.
	DefaultPeerTimeout = 10 * time.Second

	// DefaultDirectoryWait bounds blocking exchanges with the directory.
	DefaultDirectoryWait = 5 * time.Second

	// DefaultProbeWait bounds each rung of the client connect ladder.
	DefaultProbeWait = 2 * time.Second

	// DefaultMaxPeers caps how many clients a host accepts.
	DefaultMaxPeers = 8

	retransmitEvery = 500 * time.Millisecond
	registerEvery   = time.Second
)

var (
	// ErrDirectoryUnreachable reports that the directory never answered.
	ErrDirectoryUnreachable = errors.New("session: directory unreachable")

	// ErrRoomNotFound reports a lookup the directory rejected.
	ErrRoomNotFound = errors.New("session: room not found")

	// ErrConnectFailed reports that every connect path was exhausted.
	ErrConnectFailed = errors.New("session: no path to host")

	// ErrUnknownPeer reports a send to a peer the transport is not tracking.
	ErrUnknownPeer = errors.New("session: unknown peer")

	// ErrClosed reports use of a transport after Close.
	ErrClosed = errors.New("session: transport closed")
)

// Reliability selects the delivery tier for an outbound payload.
type Reliability uint8

const (
	// Unreliable sends the payload once, with no carrier.
	Unreliable Reliability = iota
	// Reliable sends the payload through the rudp carrier.
	Reliable
)

// Policy restricts which connect paths a client will try.
type Policy uint8

const (
	// PolicyAuto tries direct paths first, then the relay.
	PolicyAuto Policy = iota
	// PolicyDirectOnly never falls back to the relay.
	PolicyDirectOnly
	// PolicyRelayOnly skips the direct probes entirely.
	PolicyRelayOnly
)

// PeerKind records how datagrams reach a peer.
type PeerKind uint8

const (
	// PeerDirect peers are reached straight over UDP.
	PeerDirect PeerKind = iota
	// PeerRelayed peers are reached through the directory relay.
	PeerRelayed
)

// EventKind tags an Event drained from Poll.
type EventKind uint8

const (
	// EventPacket carries one inbound session payload.
	EventPacket EventKind = iota
	// EventConnected reports a newly tracked peer.
	EventConnected
	// EventDisconnected reports a peer that timed out or was dropped.
	EventDisconnected
)

// Event is one inbound occurrence drained from Poll, in arrival order.
type Event struct {
	Kind    EventKind
	Peer    string
	Payload []byte
}

// Tap observes every datagram the transport puts on or takes off the
// wire. Implementations must not retain the payload slice.
type Tap interface {
	Record(src, dst *net.UDPAddr, payload []byte, at time.Time)
}

// Config carries the transport knobs. The zero value is usable; New
// fills in defaults.
type Config struct {
	Logger        *zap.SugaredLogger
	Now           func() time.Time
	Tap           Tap
	PeerTimeout   time.Duration
	ProbeWait     time.Duration
	DirectoryWait time.Duration
	Policy        Policy

	// DropOutbound, when set, is asked before each peer-bound datagram
	// whether to silently discard it. Tests use it to inject loss;
	// directory traffic is never dropped.
	DropOutbound func(datagram []byte) bool
}

type role uint8

const (
	roleHost role = iota
	roleClient
)

type peer struct {
	id       string
	kind     PeerKind
	addr     *net.UDPAddr
	lastSeen time.Time
	channel  *rudp.Channel
}

// Transport is one endpoint of a session, either the host side or a
// client side.
type Transport struct {
	cfg  Config
	log  *zap.SugaredLogger
	now  func() time.Time
	ep   *udp.Endpoint
	role role

	maxPeers int
	selfAddr string
	selfUDP  *net.UDPAddr

	directoryAddr *net.UDPAddr
	roomCode      string

	peers  map[string]*peer
	hostID string

	events []Event
	ledger *Ledger
	closed bool

	buf []byte
}

func newTransport(cfg Config, r role, port int) (*Transport, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PeerTimeout <= 0 {
		cfg.PeerTimeout = DefaultPeerTimeout
	}
	if cfg.ProbeWait <= 0 {
		cfg.ProbeWait = DefaultProbeWait
	}
	if cfg.DirectoryWait <= 0 {
		cfg.DirectoryWait = DefaultDirectoryWait
	}
	ep, err := udp.Listen(port)
	if err != nil {
		return nil, fmt.Errorf("session: bind: %w", err)
	}
	local := localIPv4()
	t := &Transport{
		cfg:      cfg,
		log:      cfg.Logger,
		now:      cfg.Now,
		ep:       ep,
		role:     r,
		selfAddr: fmt.Sprintf("%s:%d", local, ep.LocalPort()),
		selfUDP:  &net.UDPAddr{IP: net.ParseIP(local), Port: ep.LocalPort()},
		peers:    make(map[string]*peer),
		buf:      make([]byte, udp.MaxDatagram),
	}
	t.ledger = newLedger(t.log, t.now())
	return t, nil
}

// StartHost binds a host transport on port. Pass port 0 for an
// ephemeral port and maxPeers <= 0 for the default cap.
func StartHost(cfg Config, port, maxPeers int) (*Transport, error) {
	t, err := newTransport(cfg, roleHost, port)
	if err != nil {
		return nil, err
	}
	if maxPeers <= 0 {
		maxPeers = DefaultMaxPeers
	}
	t.maxPeers = maxPeers
	t.log.Infow("hosting session", "addr", t.selfAddr, "maxPeers", maxPeers)
	return t, nil
}

// LocalPort reports the bound UDP port.
func (t *Transport) LocalPort() int { return t.ep.LocalPort() }

// SelfAddr reports the transport's own "ip:port" identity, the address
// it registers with the directory and stamps on relay envelopes.
func (t *Transport) SelfAddr() string { return t.selfAddr }

// RoomCode reports the code assigned at registration, or the code the
// client dialed.
func (t *Transport) RoomCode() string { return t.roomCode }

// HostID reports the client's current identity for the host peer. It is
// empty on host transports.
func (t *Transport) HostID() string { return t.hostID }

// Peers lists the ids of every tracked peer.
func (t *Transport) Peers() []string {
	ids := make([]string, 0, len(t.peers))
	for id := range t.peers {
		ids = append(ids, id)
	}
	return ids
}

// Roster is the participant list the host publishes to the directory:
// its own local address first, then every connected peer.
func (t *Transport) Roster() []string {
	roster := make([]string, 0, len(t.peers)+1)
	roster = append(roster, t.selfAddr)
	for id := range t.peers {
		roster = append(roster, id)
	}
	return roster
}

// Bandwidth reports total bytes sent and received.
func (t *Transport) Bandwidth() (sent, received uint64) {
	return t.ledger.Totals()
}

// RegisterRoom announces the host to the directory at directoryAddr and
// blocks until the directory assigns a room code. The register message
// is retransmitted once per second; after DirectoryWait without an
// answer the call fails with ErrDirectoryUnreachable.
func (t *Transport) RegisterRoom(directoryAddr string) (string, error) {
	if t.closed {
		return "", ErrClosed
	}
	addr, err := net.ResolveUDPAddr("udp4", directoryAddr)
	if err != nil {
		return "", fmt.Errorf("session: resolve directory: %w", err)
	}
	t.directoryAddr = addr

	payload := wire.EncodeHostRegister(wire.HostRegister{
		HostPort: uint16(t.ep.LocalPort()),
		LocalIP:  localIPv4(),
	})

	deadline := t.now().Add(t.cfg.DirectoryWait)
	var nextSend time.Time
	for t.now().Before(deadline) {
		if !t.now().Before(nextSend) {
			t.sendDirectory(payload)
			nextSend = t.now().Add(registerEvery)
		}
		datagram, src, err := t.receiveOne(registerEvery)
		if err != nil {
			continue
		}
		if typ, ok := wire.MessageType(datagram); ok && typ == wire.TypeResponseRegister && sameAddr(src, addr) {
			resp, err := wire.DecodeResponseRegister(datagram)
			if err != nil {
				continue
			}
			t.roomCode = resp.Code
			t.log.Infow("room registered", "code", resp.Code)
			return resp.Code, nil
		}
		t.handleInbound(datagram, src)
	}
	return "", ErrDirectoryUnreachable
}

// AnnounceRoom sends the periodic heartbeat plus the current roster to
// the directory. Callers pace it; the transport does not self-schedule.
func (t *Transport) AnnounceRoom() {
	if t.directoryAddr == nil {
		return
	}
	t.sendDirectory(wire.EncodeHostHeartbeat())
	t.sendDirectory(wire.EncodeHostUpdate(wire.HostUpdate{Roster: t.Roster()}))
}

// SendTo delivers payload to the named peer. Client transports accept
// an empty peerID as shorthand for the host.
func (t *Transport) SendTo(peerID string, payload []byte, rel Reliability) error {
	if t.closed {
		return ErrClosed
	}
	p := t.resolvePeer(peerID)
	if p == nil {
		return ErrUnknownPeer
	}
	t.sendPeer(p, payload, rel)
	return nil
}

// Broadcast delivers payload to every tracked peer.
func (t *Transport) Broadcast(payload []byte, rel Reliability) {
	if t.closed {
		return
	}
	for _, p := range t.peers {
		t.sendPeer(p, payload, rel)
	}
}

func (t *Transport) sendPeer(p *peer, payload []byte, rel Reliability) {
	if rel == Reliable {
		for _, frag := range p.channel.Package(payload, t.now()) {
			t.sendRaw(p, frag)
		}
		return
	}
	t.sendRaw(p, payload)
}

// sendRaw puts one datagram on the wire for p, wrapping it in a relay
// envelope when the peer is relayed.
func (t *Transport) sendRaw(p *peer, datagram []byte) {
	if t.cfg.DropOutbound != nil && t.cfg.DropOutbound(datagram) {
		return
	}
	if p.kind == PeerRelayed {
		t.sendDirectory(wire.EncodeRelayData(wire.RelayData{From: t.selfAddr, To: p.id, Payload: datagram}))
		return
	}
	t.sendAddr(p.addr, datagram)
}

func (t *Transport) sendDirectory(datagram []byte) {
	if t.directoryAddr == nil {
		return
	}
	t.sendAddr(t.directoryAddr, datagram)
}

func (t *Transport) sendAddr(addr *net.UDPAddr, datagram []byte) {
	t.tapOut(addr, datagram)
	if err := t.ep.Send(addr, datagram); err != nil {
		t.log.Warnw("send failed", "addr", addr.String(), "error", err)
		return
	}
	t.ledger.addSent(len(datagram))
}

// Poll drains the socket, expires silent peers, and returns everything
// that happened since the previous call, in order.
func (t *Transport) Poll() []Event {
	if t.closed {
		return nil
	}
	t.pump()
	t.expirePeers()
	events := t.events
	t.events = nil
	return events
}

// Flush retransmits overdue reliable fragments and gives the bandwidth
// ledger a chance to log. Call it once per loop iteration, after Poll.
func (t *Transport) Flush() {
	if t.closed {
		return
	}
	now := t.now()
	for _, p := range t.peers {
		for _, frag := range p.channel.Due(now) {
			t.sendRaw(p, frag)
		}
	}
	t.ledger.maybeLog(now)
}

// Drop forgets a peer immediately and reports it as disconnected on the
// next Poll. Hosts call it when a client says goodbye.
func (t *Transport) Drop(peerID string) {
	p := t.resolvePeer(peerID)
	if p == nil {
		return
	}
	delete(t.peers, p.id)
	t.events = append(t.events, Event{Kind: EventDisconnected, Peer: p.id})
	t.log.Infow("peer dropped", "peer", p.id)
}

// Close releases the socket. Client transports first send a best-effort
// goodbye to the host.
func (t *Transport) Close() error {
	if t.closed {
		return nil
	}
	if t.role == roleClient {
		if p := t.resolvePeer(""); p != nil {
			t.sendRaw(p, wire.EncodeClientDisconnect())
		}
	}
	t.closed = true
	return t.ep.Close()
}

// resolvePeer maps a peer id to its record. On client transports an
// empty id means the host.
func (t *Transport) resolvePeer(peerID string) *peer {
	if peerID == "" && t.role == roleClient {
		peerID = t.hostID
	}
	return t.peers[peerID]
}

// pump drains every datagram currently queued on the socket.
func (t *Transport) pump() {
	for {
		n, src, err := t.ep.Receive(t.buf)
		if err != nil {
			if !errors.Is(err, udp.ErrWouldBlock) {
				t.log.Warnw("receive failed", "error", err)
			}
			return
		}
		datagram := make([]byte, n)
		copy(datagram, t.buf[:n])
		t.ledger.addReceived(n)
		t.tapIn(src, datagram)
		t.handleInbound(datagram, src)
	}
}

// handleInbound routes one datagram: relay envelopes are unwrapped,
// carrier fragments feed the peer's reliable channel, and everything
// else surfaces as a packet event. Accounting happens at the receive
// sites, not here.
func (t *Transport) handleInbound(datagram []byte, src *net.UDPAddr) {
	typ, ok := wire.MessageType(datagram)
	if !ok {
		return
	}
	if t.directoryAddr != nil && sameAddr(src, t.directoryAddr) {
		if typ != wire.TypeRelayData {
			// Stray directory response, e.g. a duplicate register ack.
			return
		}
		msg, err := wire.DecodeRelayData(datagram)
		if err != nil {
			return
		}
		t.relayInbound(msg)
		return
	}

	peerID := src.String()
	p := t.peers[peerID]
	if p == nil {
		p = t.admitPeer(peerID, PeerDirect, src)
		if p == nil {
			return
		}
	}
	p.lastSeen = t.now()
	t.dispatch(p, datagram)
}

// relayInbound handles a datagram that arrived wrapped through the
// directory relay.
func (t *Transport) relayInbound(msg wire.RelayData) {
	p := t.peers[msg.From]
	if p == nil {
		if t.role == roleClient {
			// The relay reports the host under its observed address,
			// which can differ from what the lookup promised. Re-key
			// the host entry the first time we see the real identity.
			p = t.rekeyHost(msg.From)
		} else {
			p = t.admitPeer(msg.From, PeerRelayed, nil)
		}
		if p == nil {
			return
		}
	}
	p.lastSeen = t.now()
	t.dispatch(p, msg.Payload)
}

// rekeyHost moves the client's relayed host entry under a new id,
// preserving its reliable channel.
func (t *Transport) rekeyHost(id string) *peer {
	p := t.peers[t.hostID]
	if p == nil || p.kind != PeerRelayed {
		return nil
	}
	delete(t.peers, t.hostID)
	p.id = id
	t.peers[id] = p
	t.hostID = id
	return p
}

// admitPeer tracks a new peer, enforcing the host's cap. Returns nil
// when the peer is refused.
func (t *Transport) admitPeer(id string, kind PeerKind, addr *net.UDPAddr) *peer {
	if t.role == roleClient {
		// Clients talk only to the host; anything else is noise.
		return nil
	}
	if len(t.peers) >= t.maxPeers {
		t.log.Warnw("peer refused, room full", "peer", id)
		return nil
	}
	p := &peer{id: id, kind: kind, addr: addr, lastSeen: t.now(), channel: rudp.NewChannel()}
	t.peers[id] = p
	t.events = append(t.events, Event{Kind: EventConnected, Peer: id})
	t.log.Infow("peer connected", "peer", id, "relayed", kind == PeerRelayed)
	// Answer straight away so a connecting probe learns the path works
	// before the application gets around to replying.
	t.sendRaw(p, wire.EncodeHeartbeat())
	return p
}

// dispatch feeds one unwrapped datagram to the peer's channel or
// straight to the event queue.
func (t *Transport) dispatch(p *peer, datagram []byte) {
	typ, ok := wire.MessageType(datagram)
	if !ok {
		return
	}
	if rudp.IsCarrier(typ) {
		delivered, acks := p.channel.Accept(datagram, t.now())
		for _, ack := range acks {
			t.sendRaw(p, ack)
		}
		for _, payload := range delivered {
			t.events = append(t.events, Event{Kind: EventPacket, Peer: p.id, Payload: payload})
		}
		return
	}
	t.events = append(t.events, Event{Kind: EventPacket, Peer: p.id, Payload: datagram})
}

// expirePeers drops peers that have been silent past the timeout.
func (t *Transport) expirePeers() {
	now := t.now()
	for id, p := range t.peers {
		if now.Sub(p.lastSeen) <= t.cfg.PeerTimeout {
			continue
		}
		delete(t.peers, id)
		t.events = append(t.events, Event{Kind: EventDisconnected, Peer: id})
		t.log.Infow("peer timed out", "peer", id)
	}
}

// receiveOne waits up to wait for a single datagram, copying it out of
// the shared buffer.
func (t *Transport) receiveOne(wait time.Duration) ([]byte, *net.UDPAddr, error) {
	n, src, err := t.ep.ReceiveWait(t.buf, wait)
	if err != nil {
		return nil, nil, err
	}
	datagram := make([]byte, n)
	copy(datagram, t.buf[:n])
	t.ledger.addReceived(n)
	t.tapIn(src, datagram)
	return datagram, src, nil
}

func (t *Transport) tapOut(dst *net.UDPAddr, payload []byte) {
	if t.cfg.Tap != nil {
		t.cfg.Tap.Record(t.selfUDP, dst, payload, t.now())
	}
}

func (t *Transport) tapIn(src *net.UDPAddr, payload []byte) {
	if t.cfg.Tap != nil {
		t.cfg.Tap.Record(src, t.selfUDP, payload, t.now())
	}
}

func sameAddr(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}

// localIPv4 picks the first non-loopback IPv4 address on the machine,
// the address peers on the same LAN can reach us at.
func localIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return "127.0.0.1"
}
