package replication

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/internal/entity"
	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/internal/net/session"
	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/internal/net/wire"
)

// ClientConfig carries the client replicator knobs. Zero values fall
// back to the package defaults.
type ClientConfig struct {
	Logger  *zap.SugaredLogger
	Now     func() time.Time
	Session session.Config

	DirectoryAddr string

	InputInterval     time.Duration
	HeartbeatInterval time.Duration
	SnapshotWait      time.Duration

	// InputSource supplies the control scalars sampled on each input
	// tick. Nil disables input sending.
	InputSource func() entity.ControlInput
}

// Client mirrors the host's world into a local entity store.
type Client struct {
	cfg    ClientConfig
	log    *zap.SugaredLogger
	now    func() time.Time
	tr     *session.Transport
	mirror entity.Mirror
	reg    *Registry

	ready      bool
	lost       bool
	controlled uint32

	lastInput     time.Time
	lastHeartbeat time.Time
}

// Connect dials the room through the directory and blocks until the
// host's snapshot is applied, bounded by SnapshotWait. The connect
// message is retransmitted a few times in case the host missed the
// session probe.
func Connect(cfg ClientConfig, code string, mirror entity.Mirror) (*Client, error) {
	tr, err := session.Connect(cfg.Session, code, cfg.DirectoryAddr)
	if err != nil {
		return nil, err
	}
	c := newClient(cfg, tr, mirror)

	deadline := c.now().Add(c.cfg.SnapshotWait)
	asks := 0
	var lastAsk time.Time
	for !c.ready {
		now := c.now()
		if now.After(deadline) {
			c.Close()
			return nil, ErrSnapshotTimeout
		}
		if asks < connectAttempts && now.Sub(lastAsk) >= connectRetransmit {
			lastAsk = now
			asks++
			c.tr.SendTo("", wire.EncodeClientConnect(), session.Unreliable)
		}
		if err := c.Update(); err != nil {
			c.Close()
			return nil, err
		}
		time.Sleep(2 * time.Millisecond)
	}
	return c, nil
}

func newClient(cfg ClientConfig, tr *session.Transport, mirror entity.Mirror) *Client {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.InputInterval <= 0 {
		cfg.InputInterval = DefaultInputInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.SnapshotWait <= 0 {
		cfg.SnapshotWait = DefaultSnapshotWait
	}
	return &Client{
		cfg:    cfg,
		log:    cfg.Logger,
		now:    cfg.Now,
		tr:     tr,
		mirror: mirror,
		reg:    NewRegistry(),
	}
}

// Ready reports whether the initial snapshot has been applied.
func (c *Client) Ready() bool { return c.ready }

// ControlledID reports the wire id of the entity this client steers,
// zero when none was assigned.
func (c *Client) ControlledID() uint32 { return c.controlled }

// ControlledEntity resolves the steered entity in the mirror.
func (c *Client) ControlledEntity() (entity.Entity, bool) {
	if c.controlled == 0 {
		return nil, false
	}
	handle, ok := c.reg.HandleFor(c.controlled)
	if !ok {
		return nil, false
	}
	return c.mirror.Lookup(handle)
}

// RoomCode reports the dialed room code.
func (c *Client) RoomCode() string { return c.tr.RoomCode() }

// Bandwidth reports total session bytes sent and received.
func (c *Client) Bandwidth() (sent, received uint64) { return c.tr.Bandwidth() }

// Update advances replication one tick: inbound state, then the input
// sample and keepalive when due. Once the host has gone silent past the
// session timeout every call reports ErrHostLost.
func (c *Client) Update() error {
	now := c.now()
	for _, ev := range c.tr.Poll() {
		switch ev.Kind {
		case session.EventDisconnected:
			c.hostLost(ev.Peer)
		case session.EventPacket:
			c.handlePacket(ev.Payload)
		}
	}
	if c.lost {
		return ErrHostLost
	}
	if c.ready {
		if c.controlled != 0 && c.cfg.InputSource != nil && now.Sub(c.lastInput) >= c.cfg.InputInterval {
			c.lastInput = now
			c.sendInput()
		}
		if now.Sub(c.lastHeartbeat) >= c.cfg.HeartbeatInterval {
			c.lastHeartbeat = now
			c.tr.SendTo("", wire.EncodeHeartbeat(), session.Unreliable)
		}
	}
	c.tr.Flush()
	return nil
}

// Close sends the farewell, releases the socket, and drops the mirror.
func (c *Client) Close() error {
	err := c.tr.Close()
	c.teardown()
	return err
}

// hostLost tears the session state down once the host has gone silent
// past the peer timeout. Every mirrored entity is destroyed; the next
// Update reports ErrHostLost.
func (c *Client) hostLost(peerID string) {
	if c.lost {
		return
	}
	c.lost = true
	c.teardown()
	c.log.Warnw("host lost", "peer", peerID)
}

func (c *Client) teardown() {
	c.mirror.Clear()
	c.reg.Reset()
	c.controlled = 0
	c.ready = false
}

func (c *Client) handlePacket(payload []byte) {
	typ, ok := wire.MessageType(payload)
	if !ok {
		return
	}
	switch typ {
	case wire.TypeInitPackage:
		pkg, err := wire.DecodeInitPackage(payload)
		if err != nil {
			c.log.Warnw("dropping malformed snapshot", "err", err)
			return
		}
		if err := ApplySnapshot(pkg, c.mirror, c.reg); err != nil {
			c.log.Errorw("snapshot apply failed", "error", err)
			return
		}
		c.ready = true
		c.log.Infow("snapshot applied",
			"objects", pkg.ObjectCount,
			"backgroundLayers", pkg.BackgroundLayers,
			"compressed", pkg.Compressed,
		)
	case wire.TypeObjectCreate:
		msg, err := wire.DecodeObjectCreate(payload)
		if err != nil {
			c.log.Warnw("dropping malformed create", "err", err)
			return
		}
		c.applyCreate(msg)
	case wire.TypeObjectDestroy:
		id, err := wire.DecodeObjectDestroy(payload)
		if err != nil {
			c.log.Warnw("dropping malformed destroy", "err", err)
			return
		}
		c.applyDestroy(id)
	case wire.TypeObjectUpdate:
		msg, err := wire.DecodeObjectUpdate(payload)
		if err != nil {
			c.log.Debugw("dropping malformed update", "err", err)
			return
		}
		handle, ok := c.reg.HandleFor(msg.NetID)
		if !ok {
			// Update raced ahead of its create; the next sync restates
			// the state anyway.
			return
		}
		e, ok := c.mirror.Lookup(handle)
		if !ok {
			return
		}
		if err := applyUpdate(e, msg); err != nil {
			c.log.Debugw("update apply failed", "netId", msg.NetID, "err", err)
		}
	case wire.TypeAssignControlled:
		id, err := wire.DecodeAssignControlled(payload)
		if err != nil {
			c.log.Warnw("dropping malformed assignment", "err", err)
			return
		}
		c.controlled = id
		c.log.Infow("controlling object", "netId", id)
	case wire.TypeHeartbeat:
		// Host liveness is tracked by the transport.
	default:
		c.log.Debugw("unexpected session message", "type", typ)
	}
}

// applyCreate spawns the announced entity. Creates for ids the snapshot
// already delivered are ignored.
func (c *Client) applyCreate(msg wire.ObjectCreate) {
	if _, known := c.reg.HandleFor(msg.NetID); known {
		return
	}
	var rec EntityRecord
	if err := json.Unmarshal(msg.Blob, &rec); err != nil {
		c.log.Warnw("dropping unparsable create", "netId", msg.NetID, "err", err)
		return
	}
	ent, err := c.mirror.Spawn(rec.Name, rec.facets())
	if err != nil {
		c.log.Errorw("create spawn failed", "netId", msg.NetID, "error", err)
		return
	}
	c.reg.Bind(msg.NetID, ent.Handle())
}

// applyDestroy removes the named entity from the mirror.
func (c *Client) applyDestroy(id uint32) {
	handle, ok := c.reg.HandleFor(id)
	if !ok {
		return
	}
	c.mirror.MarkDead(handle)
	c.mirror.Purge()
	c.reg.ForgetID(id)
	if c.controlled == id {
		c.controlled = 0
	}
}

func (c *Client) sendInput() {
	in := c.cfg.InputSource().Clamped()
	c.tr.SendTo("", wire.EncodeClientInput(wire.ClientInput{
		NetID:          c.controlled,
		MoveUp:         in.MoveUp,
		MoveDown:       in.MoveDown,
		MoveLeft:       in.MoveLeft,
		MoveRight:      in.MoveRight,
		ActionWalk:     in.ActionWalk,
		ActionInteract: in.ActionInteract,
		ActionThrow:    in.ActionThrow,
	}), session.Unreliable)
}
