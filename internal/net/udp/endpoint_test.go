package udp

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"
)

func TestListen_EphemeralPortAssigned(t *testing.T) {
	ep, err := Listen(0)
	if err != nil {
		t.Fatalf("listen returned error: %v", err)
	}
	defer ep.Close()

	if ep.LocalPort() == 0 {
		t.Fatalf("expected an OS-assigned port, got 0")
	}
}

func TestSendReceive_Loopback(t *testing.T) {
	a, err := Listen(0)
	if err != nil {
		t.Fatalf("listen a returned error: %v", err)
	}
	defer a.Close()
	b, err := Listen(0)
	if err != nil {
		t.Fatalf("listen b returned error: %v", err)
	}
	defer b.Close()

	dst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: b.LocalPort()}
	payload := []byte{1, 2, 3, 4, 5}
	if err := a.Send(dst, payload); err != nil {
		t.Fatalf("send returned error: %v", err)
	}

	buf := make([]byte, MaxDatagram)
	n, src, err := b.ReceiveWait(buf, time.Second)
	if err != nil {
		t.Fatalf("receive returned error: %v", err)
	}
	if !bytes.Equal(buf[:n], payload) {
		t.Fatalf("expected payload %v, got %v", payload, buf[:n])
	}
	if src == nil || src.Port != a.LocalPort() {
		t.Fatalf("expected source port %d, got %v", a.LocalPort(), src)
	}
}

func TestReceive_EmptyQueueWouldBlock(t *testing.T) {
	ep, err := Listen(0)
	if err != nil {
		t.Fatalf("listen returned error: %v", err)
	}
	defer ep.Close()

	start := time.Now()
	_, _, err = ep.Receive(make([]byte, MaxDatagram))
	if !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("expected ErrWouldBlock on empty queue, got %v", err)
	}
	if waited := time.Since(start); waited > 250*time.Millisecond {
		t.Fatalf("expected a bounded poll, waited %v", waited)
	}
}

func TestReceiveWait_TimesOut(t *testing.T) {
	ep, err := Listen(0)
	if err != nil {
		t.Fatalf("listen returned error: %v", err)
	}
	defer ep.Close()

	start := time.Now()
	_, _, err = ep.ReceiveWait(make([]byte, MaxDatagram), 50*time.Millisecond)
	if !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("expected ErrWouldBlock after the wait, got %v", err)
	}
	if waited := time.Since(start); waited < 40*time.Millisecond {
		t.Fatalf("expected the wait to be honored, returned after %v", waited)
	}
}

func TestListen_ReusesAddress(t *testing.T) {
	first, err := Listen(0)
	if err != nil {
		t.Fatalf("listen returned error: %v", err)
	}
	port := first.LocalPort()
	first.Close()

	// A crashed host restarting on the same port must not hit EADDRINUSE
	// while the old socket lingers.
	second, err := Listen(port)
	if err != nil {
		t.Fatalf("rebind of port %d returned error: %v", port, err)
	}
	second.Close()
}
