// Package directory implements the rendezvous service: it issues room
// codes to hosts, tracks their liveness through heartbeats, answers
// client lookups, and optionally relays session traffic for peers that
// cannot reach each other directly.
package directory

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/internal/net/udp"
	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/internal/net/wire"
)

// Defaults for the directory's tunables.
const (
	DefaultPort             = 8888
	DefaultCleanupInterval  = 10 * time.Second
	DefaultHeartbeatTimeout = 30 * time.Second
	DefaultRelayTimeout     = 60 * time.Second
	DefaultRelayRate        = 256 * 1024
	DefaultRelayBurst       = 64 * 1024
)

const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// receivePoll bounds how long the receive loop waits before checking for
// shutdown.
const receivePoll = 250 * time.Millisecond

// Config carries the directory's tunables. Zero durations fall back to
// the defaults.
type Config struct {
	Port         int
	RelayEnabled bool
	// ForceRelay blanks the host address in lookup responses so clients
	// skip the direct attempts and go straight to the relay.
	ForceRelay bool
	// ForceNAT is accepted for compatibility; punchthrough is not
	// implemented and the flag only changes a log line.
	ForceNAT bool
	// HTTPAddr enables the diagnostics listener when non-empty.
	HTTPAddr string

	CleanupInterval  time.Duration
	HeartbeatTimeout time.Duration
	RelayTimeout     time.Duration
	RelayRate        int
	RelayBurst       int

	// Seed fixes the room-code generator; 0 seeds from the clock.
	Seed int64

	Logger *zap.SugaredLogger
	Now    func() time.Time
}

// DefaultConfig returns the stock directory configuration.
func DefaultConfig() Config {
	return Config{
		Port:             DefaultPort,
		RelayEnabled:     true,
		CleanupInterval:  DefaultCleanupInterval,
		HeartbeatTimeout: DefaultHeartbeatTimeout,
		RelayTimeout:     DefaultRelayTimeout,
		RelayRate:        DefaultRelayRate,
		RelayBurst:       DefaultRelayBurst,
	}
}

// Room is one live host registration.
type Room struct {
	Code          string
	HostAddr      *net.UDPAddr
	HostPort      uint16
	LocalAddr     string
	PlayerCount   int
	Roster        []string
	CreatedAt     time.Time
	LastHeartbeat time.Time
}

// Server owns the room table and the UDP socket serving it.
type Server struct {
	cfg Config
	log *zap.SugaredLogger
	now func() time.Time
	ep  *udp.Endpoint
	rng *rand.Rand

	mu        sync.Mutex
	rooms     map[string]*Room
	hostIndex map[string]string
	flows     map[string]*relayFlow

	feed     *eventFeed
	started  time.Time
	httpAddr string
}

// New binds the directory socket and prepares the table state. Run must
// be called to start serving.
func New(cfg Config) (*Server, error) {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if cfg.RelayTimeout <= 0 {
		cfg.RelayTimeout = DefaultRelayTimeout
	}
	if cfg.RelayRate <= 0 {
		cfg.RelayRate = DefaultRelayRate
	}
	if cfg.RelayBurst <= 0 {
		cfg.RelayBurst = DefaultRelayBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	ep, err := udp.Listen(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("directory: %w", err)
	}
	s := &Server{
		cfg:       cfg,
		log:       cfg.Logger,
		now:       cfg.Now,
		ep:        ep,
		rng:       rand.New(rand.NewSource(seed)),
		rooms:     make(map[string]*Room),
		hostIndex: make(map[string]string),
		flows:     make(map[string]*relayFlow),
		feed:      newEventFeed(),
		started:   cfg.Now(),
	}
	s.log.Infow("directory listening",
		"port", ep.LocalPort(),
		"relay", cfg.RelayEnabled,
		"forceRelay", cfg.ForceRelay,
	)
	if cfg.ForceNAT {
		s.log.Warnw("nat punchthrough requested but not implemented; serving direct lookups")
	}
	return s, nil
}

// Port reports the bound UDP port.
func (s *Server) Port() int {
	return s.ep.LocalPort()
}

// Run serves datagrams until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	var httpDone func()
	if s.cfg.HTTPAddr != "" {
		done, err := s.serveHTTP(ctx)
		if err != nil {
			return err
		}
		httpDone = done
	}

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	buf := make([]byte, udp.MaxDatagram)
	for {
		select {
		case <-ctx.Done():
			if httpDone != nil {
				httpDone()
			}
			return nil
		case <-ticker.C:
			s.sweep(s.now())
		default:
		}

		n, src, err := s.ep.ReceiveWait(buf, receivePoll)
		if err != nil {
			if err == udp.ErrWouldBlock {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("directory: receive loop: %w", err)
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		s.handleDatagram(datagram, src)
	}
}

// Close releases the socket.
func (s *Server) Close() error {
	return s.ep.Close()
}

func (s *Server) handleDatagram(data []byte, src *net.UDPAddr) {
	typ, ok := wire.MessageType(data)
	if !ok {
		s.log.Debugw("dropping short datagram", "from", src.String(), "len", len(data))
		return
	}
	switch typ {
	case wire.TypeHostRegister:
		s.handleRegister(data, src)
	case wire.TypeHostHeartbeat:
		s.handleHeartbeat(src)
	case wire.TypeHostUpdate:
		s.handleUpdate(data, src)
	case wire.TypeClientLookup:
		s.handleLookup(data, src)
	case wire.TypeRelayRequest:
		s.handleRelayRequest(data, src)
	case wire.TypeRelayData:
		s.handleRelayData(data, src)
	default:
		s.log.Debugw("dropping unknown message", "type", typ, "from", src.String())
	}
}

func (s *Server) handleRegister(data []byte, src *net.UDPAddr) {
	msg, err := wire.DecodeHostRegister(data)
	if err != nil {
		s.log.Debugw("dropping malformed register", "from", src.String(), "err", err)
		return
	}
	hostID := src.String()
	now := s.now()

	s.mu.Lock()
	code, exists := s.hostIndex[hostID]
	if exists {
		// Duplicate registration is idempotent: refresh and return the
		// same code.
		room := s.rooms[code]
		room.LastHeartbeat = now
		s.mu.Unlock()
		s.respond(src, wire.EncodeResponseRegister(wire.ResponseRegister{Code: code, HostPort: msg.HostPort}))
		return
	}
	code = s.generateCodeLocked()
	localAddr := fmt.Sprintf("%s:%d", msg.LocalIP, msg.HostPort)
	room := &Room{
		Code:          code,
		HostAddr:      src,
		HostPort:      msg.HostPort,
		LocalAddr:     localAddr,
		PlayerCount:   1,
		Roster:        []string{localAddr},
		CreatedAt:     now,
		LastHeartbeat: now,
	}
	s.rooms[code] = room
	s.hostIndex[hostID] = code
	s.mu.Unlock()

	s.log.Infow("room registered", "code", code, "host", hostID, "hostPort", msg.HostPort)
	s.feed.publish(event{Kind: "registered", Code: code, Detail: hostID, At: now})
	s.respond(src, wire.EncodeResponseRegister(wire.ResponseRegister{Code: code, HostPort: msg.HostPort}))
}

func (s *Server) handleHeartbeat(src *net.UDPAddr) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if code, ok := s.hostIndex[src.String()]; ok {
		s.rooms[code].LastHeartbeat = now
	}
}

func (s *Server) handleUpdate(data []byte, src *net.UDPAddr) {
	msg, err := wire.DecodeHostUpdate(data)
	if err != nil {
		s.log.Debugw("dropping malformed update", "from", src.String(), "err", err)
		return
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.hostIndex[src.String()]
	if !ok {
		return
	}
	room := s.rooms[code]
	room.Roster = msg.Roster
	room.PlayerCount = len(msg.Roster)
	room.LastHeartbeat = now
	if len(msg.Roster) > 0 {
		room.LocalAddr = msg.Roster[0]
	}
}

func (s *Server) handleLookup(data []byte, src *net.UDPAddr) {
	msg, err := wire.DecodeClientLookup(data)
	if err != nil {
		s.log.Debugw("dropping malformed lookup", "from", src.String(), "err", err)
		return
	}
	s.mu.Lock()
	room, ok := s.rooms[msg.Code]
	var info wire.ResponseRoomInfo
	if ok {
		info = wire.ResponseRoomInfo{
			HostPort: room.HostPort,
			HostIP:   room.HostAddr.IP.String(),
			Roster:   append([]string(nil), room.Roster...),
		}
		if s.cfg.ForceRelay {
			info.HostIP = ""
			info.Roster = nil
		}
	}
	s.mu.Unlock()

	if !ok {
		s.log.Infow("lookup missed", "code", msg.Code, "from", src.String())
		s.respond(src, wire.EncodeResponseError(wire.ResponseError{Message: "room not found"}))
		return
	}
	s.respond(src, wire.EncodeResponseRoomInfo(info))
}

// sweep evicts rooms and relay flows whose deadlines have passed.
func (s *Server) sweep(now time.Time) {
	type evicted struct {
		code string
		host string
	}
	var gone []evicted

	s.mu.Lock()
	for code, room := range s.rooms {
		if now.Sub(room.LastHeartbeat) > s.cfg.HeartbeatTimeout {
			delete(s.rooms, code)
			delete(s.hostIndex, room.HostAddr.String())
			gone = append(gone, evicted{code: code, host: room.HostAddr.String()})
		}
	}
	for key, flow := range s.flows {
		if now.Sub(flow.lastSeen) > s.cfg.RelayTimeout {
			delete(s.flows, key)
		}
	}
	s.mu.Unlock()

	for _, e := range gone {
		s.log.Infow("room evicted", "code", e.code, "host", e.host)
		s.feed.publish(event{Kind: "evicted", Code: e.code, Detail: e.host, At: now})
	}
}

// generateCodeLocked draws candidates until one is free. The caller holds
// the table mutex.
func (s *Server) generateCodeLocked() string {
	var b [wire.CodeChars]byte
	for {
		for i := range b {
			b[i] = codeAlphabet[s.rng.Intn(len(codeAlphabet))]
		}
		code := string(b[:])
		if _, taken := s.rooms[code]; !taken {
			return code
		}
	}
}

func (s *Server) respond(dst *net.UDPAddr, payload []byte) {
	if err := s.ep.Send(dst, payload); err != nil {
		s.log.Warnw("response send failed", "to", dst.String(), "err", err)
	}
}
