package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/internal/net/udp"
	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/internal/net/wire"
)

func TestRun_ServesLookupsOverUDP(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 0
	cfg.Seed = 7
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new directory returned error: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	dirAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: srv.Port()}
	hostEp, err := udp.Listen(0)
	if err != nil {
		t.Fatalf("host listen returned error: %v", err)
	}
	defer hostEp.Close()

	if err := hostEp.Send(dirAddr, wire.EncodeHostRegister(wire.HostRegister{
		HostPort: uint16(hostEp.LocalPort()),
		LocalIP:  "127.0.0.1",
	})); err != nil {
		t.Fatalf("send register: %v", err)
	}
	resp, err := wire.DecodeResponseRegister(receiveOne(t, hostEp))
	if err != nil {
		t.Fatalf("decode register response: %v", err)
	}

	clientEp, err := udp.Listen(0)
	if err != nil {
		t.Fatalf("client listen returned error: %v", err)
	}
	defer clientEp.Close()
	if err := clientEp.Send(dirAddr, wire.EncodeClientLookup(wire.ClientLookup{Code: resp.Code})); err != nil {
		t.Fatalf("send lookup: %v", err)
	}
	info, err := wire.DecodeResponseRoomInfo(receiveOne(t, clientEp))
	if err != nil {
		t.Fatalf("decode room info: %v", err)
	}
	if info.HostPort != uint16(hostEp.LocalPort()) {
		t.Fatalf("expected host port %d, got %d", hostEp.LocalPort(), info.HostPort)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop after cancellation")
	}
}

func TestDiagnostics_ReportsRooms(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 0
	cfg.Seed = 9
	cfg.HTTPAddr = "127.0.0.1:0"
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new directory returned error: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for srv.HTTPAddr() == "" {
		if time.Now().After(deadline) {
			t.Fatalf("diagnostics listener did not come up")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hostEp, hostAddr := peerEndpoint(t)
	registerHost(t, srv, hostEp, hostAddr)

	resp, err := http.Get(fmt.Sprintf("http://%s/diagnostics", srv.HTTPAddr()))
	if err != nil {
		t.Fatalf("diagnostics request failed: %v", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Status    string `json:"status"`
		Uptime    string `json:"uptime"`
		RoomCount int    `json:"roomCount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode diagnostics payload: %v", err)
	}
	if payload.Status != "ok" {
		t.Fatalf("expected ok status, got %q", payload.Status)
	}
	if payload.RoomCount != 1 {
		t.Fatalf("expected one room, got %d", payload.RoomCount)
	}
	if payload.Uptime == "" {
		t.Fatalf("expected a formatted uptime string")
	}

	health, err := http.Get(fmt.Sprintf("http://%s/healthz", srv.HTTPAddr()))
	if err != nil {
		t.Fatalf("healthz request failed: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", health.StatusCode)
	}
}
