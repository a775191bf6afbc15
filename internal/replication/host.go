// Package replication keeps a host's entity store and its clients'
// mirrors in step. Joining clients get a full compressed snapshot;
// after that the host broadcasts create and destroy messages as
// entities come and go, restates facet state on a fixed cadence, and
// routes each client's input scalars into the entity it was assigned.
//
// Both replicators are stepped, not self-driving: the game loop calls
// Update once per frame and the replicator does everything due on that
// tick. Clocks are injected so tests can steer time.
package replication

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/internal/entity"
	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/internal/net/session"
	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/internal/net/wire"
)

const (
	// DefaultSyncInterval is the facet-update broadcast cadence.
	DefaultSyncInterval = 20 * time.Millisecond

	// DefaultInputInterval is the client's input sampling cadence.
	DefaultInputInterval = 20 * time.Millisecond

	// DefaultAnnounceInterval paces the host's directory heartbeat and
	// roster refresh.
	DefaultAnnounceInterval = 5 * time.Second

	// DefaultHeartbeatInterval paces the client's session keepalive.
	DefaultHeartbeatInterval = 5 * time.Second

	// DefaultSnapshotWait bounds how long a connecting client waits for
	// the host's snapshot.
	DefaultSnapshotWait = 10 * time.Second

	// initDebounce suppresses snapshot rebuilds for repeated connect
	// messages from the same peer, which arrive in bursts while the
	// client probes.
	initDebounce = time.Second

	connectRetransmit = 500 * time.Millisecond
	connectAttempts   = 4
)

var (
	// ErrSnapshotTimeout reports that the host never delivered its
	// snapshot within the connect deadline.
	ErrSnapshotTimeout = errors.New("replication: no snapshot from host")

	// ErrHostLost reports that the host has gone silent past the
	// session timeout.
	ErrHostLost = errors.New("replication: host connection lost")
)

// HostConfig carries the host replicator knobs. Zero values fall back
// to the defaults above.
type HostConfig struct {
	Logger  *zap.SugaredLogger
	Now     func() time.Time
	Session session.Config

	Port          int
	MaxPeers      int
	DirectoryAddr string

	SyncInterval     time.Duration
	AnnounceInterval time.Duration

	// SpawnControlled, when set, creates the entity a newly joined
	// client will steer and returns its handle. When nil the host hands
	// out the first control sink no other client holds, and sends no
	// assignment when there is none.
	SpawnControlled func(peerID string) (entity.Handle, bool)
}

type hostClient struct {
	peerID     string
	controlled uint32
	lastInit   time.Time
}

// Host is the authoritative replicator.
type Host struct {
	cfg   HostConfig
	log   *zap.SugaredLogger
	now   func() time.Time
	tr    *session.Transport
	store entity.Store
	reg   *Registry

	clients      map[string]*hostClient
	lastSync     time.Time
	lastAnnounce time.Time
}

// StartHost binds the session socket, registers the room with the
// directory when one is configured, and returns a replicator ready to
// be stepped.
func StartHost(cfg HostConfig, store entity.Store) (*Host, error) {
	tr, err := session.StartHost(cfg.Session, cfg.Port, cfg.MaxPeers)
	if err != nil {
		return nil, err
	}
	if cfg.DirectoryAddr != "" {
		if _, err := tr.RegisterRoom(cfg.DirectoryAddr); err != nil {
			tr.Close()
			return nil, err
		}
	}
	return newHost(cfg, tr, store), nil
}

func newHost(cfg HostConfig, tr *session.Transport, store entity.Store) *Host {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.AnnounceInterval <= 0 {
		cfg.AnnounceInterval = DefaultAnnounceInterval
	}
	return &Host{
		cfg:     cfg,
		log:     cfg.Logger,
		now:     cfg.Now,
		tr:      tr,
		store:   store,
		reg:     NewRegistry(),
		clients: make(map[string]*hostClient),
	}
}

// RoomCode reports the directory-assigned code, empty when the host
// runs without a directory.
func (h *Host) RoomCode() string { return h.tr.RoomCode() }

// LocalPort reports the bound session port.
func (h *Host) LocalPort() int { return h.tr.LocalPort() }

// Clients lists the peer ids of every joined client.
func (h *Host) Clients() []string {
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

// ControlledBy reports the wire id assigned to a peer, zero when none.
func (h *Host) ControlledBy(peerID string) uint32 {
	if c := h.clients[peerID]; c != nil {
		return c.controlled
	}
	return 0
}

// Bandwidth reports total session bytes sent and received.
func (h *Host) Bandwidth() (sent, received uint64) { return h.tr.Bandwidth() }

// Update advances replication by one tick: inbound traffic, lifecycle
// broadcasts, the facet sync when due, and the directory announcement
// when due.
func (h *Host) Update() {
	now := h.now()
	for _, ev := range h.tr.Poll() {
		switch ev.Kind {
		case session.EventConnected:
			// Tracked by the transport; the join completes when the
			// peer's connect message arrives.
		case session.EventDisconnected:
			h.dropClient(ev.Peer)
		case session.EventPacket:
			h.handlePacket(ev.Peer, ev.Payload, now)
		}
	}
	h.broadcastLifecycle()
	if now.Sub(h.lastSync) >= h.cfg.SyncInterval {
		h.lastSync = now
		h.syncFacets()
	}
	if h.cfg.DirectoryAddr != "" && now.Sub(h.lastAnnounce) >= h.cfg.AnnounceInterval {
		h.lastAnnounce = now
		h.tr.AnnounceRoom()
	}
	h.tr.Flush()
}

// Close tears down the session socket.
func (h *Host) Close() error { return h.tr.Close() }

func (h *Host) handlePacket(peerID string, payload []byte, now time.Time) {
	typ, ok := wire.MessageType(payload)
	if !ok {
		return
	}
	switch typ {
	case wire.TypeClientConnect:
		h.join(peerID, now)
	case wire.TypeClientDisconnect:
		h.dropClient(peerID)
	case wire.TypeClientInput:
		msg, err := wire.DecodeClientInput(payload)
		if err != nil {
			h.log.Debugw("dropping malformed input", "peer", peerID, "err", err)
			return
		}
		h.applyInput(peerID, msg)
	case wire.TypeHeartbeat:
		// Liveness already refreshed by the transport.
	default:
		h.log.Debugw("unexpected session message", "peer", peerID, "type", typ)
	}
}

// join answers a connect message with a fresh snapshot and a controlled
// object. Bursts of repeated connects within the debounce window are
// collapsed into one answer.
func (h *Host) join(peerID string, now time.Time) {
	c := h.clients[peerID]
	if c != nil && now.Sub(c.lastInit) < initDebounce {
		return
	}
	if c == nil {
		c = &hostClient{peerID: peerID}
		h.clients[peerID] = c
		h.log.Infow("client joined", "peer", peerID)
	}
	c.lastInit = now

	pkg, err := BuildSnapshot(h.store, h.reg)
	if err != nil {
		h.log.Errorw("snapshot build failed", "peer", peerID, "error", err)
		return
	}
	if err := h.tr.SendTo(peerID, wire.EncodeInitPackage(pkg), session.Reliable); err != nil {
		h.log.Warnw("snapshot send failed", "peer", peerID, "error", err)
		return
	}
	if c.controlled == 0 {
		c.controlled = h.pickControlled(peerID)
	}
	// Flush any spawn the pick produced so the create message precedes
	// the assignment on the reliable channel.
	h.broadcastLifecycle()
	if c.controlled != 0 {
		if err := h.tr.SendTo(peerID, wire.EncodeAssignControlled(c.controlled), session.Reliable); err != nil {
			h.log.Warnw("assign send failed", "peer", peerID, "error", err)
			return
		}
		h.log.Infow("assigned controlled object", "peer", peerID, "netId", c.controlled)
	}
}

// pickControlled chooses the wire id a new client will steer.
func (h *Host) pickControlled(peerID string) uint32 {
	if h.cfg.SpawnControlled != nil {
		handle, ok := h.cfg.SpawnControlled(peerID)
		if !ok {
			return 0
		}
		return h.reg.Assign(handle)
	}
	taken := make(map[uint32]bool, len(h.clients))
	for _, c := range h.clients {
		if c.controlled != 0 {
			taken[c.controlled] = true
		}
	}
	var id uint32
	h.store.ForEach(func(e entity.Entity) bool {
		if !e.Has(entity.KindControlSink) {
			return true
		}
		candidate := h.reg.Assign(e.Handle())
		if taken[candidate] {
			return true
		}
		id = candidate
		return false
	})
	return id
}

// applyInput routes input scalars into the entity the sender controls.
// Input naming any other object is discarded.
func (h *Host) applyInput(peerID string, msg wire.ClientInput) {
	c := h.clients[peerID]
	if c == nil || c.controlled != msg.NetID {
		h.log.Debugw("input for unowned object", "peer", peerID, "netId", msg.NetID)
		return
	}
	handle, ok := h.reg.HandleFor(msg.NetID)
	if !ok {
		return
	}
	e, ok := h.store.Lookup(handle)
	if !ok || !e.Alive() {
		return
	}
	e.ApplyControl(entity.ControlInput{
		MoveUp:         msg.MoveUp,
		MoveDown:       msg.MoveDown,
		MoveLeft:       msg.MoveLeft,
		MoveRight:      msg.MoveRight,
		ActionWalk:     msg.ActionWalk,
		ActionInteract: msg.ActionInteract,
		ActionThrow:    msg.ActionThrow,
	}.Clamped())
}

func (h *Host) dropClient(peerID string) {
	c := h.clients[peerID]
	if c == nil {
		return
	}
	delete(h.clients, peerID)
	h.tr.Drop(peerID)
	h.log.Infow("client left", "peer", peerID, "controlled", c.controlled)
}

// broadcastLifecycle drains the store's spawn and destroy events and
// announces them reliably to every client.
func (h *Host) broadcastLifecycle() {
	for _, ev := range h.store.DrainLifecycle() {
		switch ev.Kind {
		case entity.LifecycleSpawned:
			e, ok := h.store.Lookup(ev.Handle)
			if !ok || !e.Alive() || !replicable(e) {
				continue
			}
			id := h.reg.Assign(ev.Handle)
			blob, err := createBlobFor(e, id)
			if err != nil {
				h.log.Errorw("create broadcast failed", "netId", id, "error", err)
				continue
			}
			h.tr.Broadcast(wire.EncodeObjectCreate(wire.ObjectCreate{NetID: id, Blob: blob}), session.Reliable)
		case entity.LifecycleDestroyed:
			id, ok := h.reg.IDFor(ev.Handle)
			if !ok {
				continue
			}
			h.tr.Broadcast(wire.EncodeObjectDestroy(id), session.Reliable)
			h.reg.Forget(ev.Handle)
		}
	}
}

// syncFacets restates every replicated facet of every live entity to
// every client, unreliably.
func (h *Host) syncFacets() {
	if len(h.clients) == 0 {
		return
	}
	h.store.ForEach(func(e entity.Entity) bool {
		if !replicable(e) {
			return true
		}
		if datagram := updateFor(e, h.reg.Assign(e.Handle())); datagram != nil {
			h.tr.Broadcast(datagram, session.Unreliable)
		}
		return true
	})
}
