package directory

import (
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/internal/net/wire"
)

// relayFlow maps one relayed client to its room's host. Flows are keyed
// by the client's observed "ip:port" identity; traffic in either
// direction refreshes lastSeen, and the limiter caps forwarded bytes per
// flow.
type relayFlow struct {
	code     string
	client   *net.UDPAddr
	host     *net.UDPAddr
	clientID string
	hostID   string
	lastSeen time.Time
	limiter  *rate.Limiter
}

func (s *Server) handleRelayRequest(data []byte, src *net.UDPAddr) {
	msg, err := wire.DecodeRelayRequest(data)
	if err != nil {
		s.log.Debugw("dropping malformed relay request", "from", src.String(), "err", err)
		return
	}
	reject := func() {
		s.respond(src, wire.EncodeRelayResponse(wire.RelayResponse{Accepted: false}))
	}
	if !s.cfg.RelayEnabled {
		reject()
		return
	}

	now := s.now()
	clientID := src.String()

	s.mu.Lock()
	room, ok := s.rooms[msg.Code]
	if !ok {
		s.mu.Unlock()
		s.log.Infow("relay request for unknown room", "code", msg.Code, "from", clientID)
		reject()
		return
	}
	flow, exists := s.flows[clientID]
	if exists && flow.code == msg.Code {
		flow.lastSeen = now
	} else {
		hostAddr := &net.UDPAddr{IP: room.HostAddr.IP, Port: int(room.HostPort)}
		flow = &relayFlow{
			code:     msg.Code,
			client:   src,
			host:     hostAddr,
			clientID: clientID,
			hostID:   hostAddr.String(),
			lastSeen: now,
			limiter:  rate.NewLimiter(rate.Limit(s.cfg.RelayRate), s.cfg.RelayBurst),
		}
		s.flows[clientID] = flow
	}
	port := uint16(s.ep.LocalPort())
	s.mu.Unlock()

	if !exists {
		s.log.Infow("relay flow opened", "code", msg.Code, "client", clientID)
		s.feed.publish(event{Kind: "relay-opened", Code: msg.Code, Detail: clientID, At: now})
	}
	s.respond(src, wire.EncodeRelayResponse(wire.RelayResponse{Accepted: true, RelayPort: port}))
}

func (s *Server) handleRelayData(data []byte, src *net.UDPAddr) {
	msg, err := wire.DecodeRelayData(data)
	if err != nil {
		s.log.Debugw("dropping malformed relay data", "from", src.String(), "err", err)
		return
	}
	now := s.now()
	senderID := src.String()

	s.mu.Lock()
	var target *net.UDPAddr
	if flow, ok := s.flows[senderID]; ok {
		// Sender is a relayed client; the counterpart is its host.
		flow.lastSeen = now
		if flow.limiter.AllowN(now, len(msg.Payload)) {
			target = flow.host
		}
	} else if flow, ok := s.flows[msg.To]; ok && flow.hostID == senderID {
		// Sender is the host addressing one of its relayed clients.
		flow.lastSeen = now
		if flow.limiter.AllowN(now, len(msg.Payload)) {
			target = flow.client
		}
	}
	s.mu.Unlock()

	if target == nil {
		return
	}
	forward := wire.EncodeRelayData(wire.RelayData{
		From:    senderID,
		To:      msg.To,
		Payload: msg.Payload,
	})
	s.respond(target, forward)
}

// flowCount reports the number of live relay flows.
func (s *Server) flowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flows)
}
