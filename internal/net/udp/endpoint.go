// Package udp wraps a datagram socket with the non-blocking receive
// discipline the replication loops rely on: a receive either returns a
// queued datagram right away or reports ErrWouldBlock after a bounded
// poll, never an unbounded wait.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// MaxDatagram is the largest datagram the endpoint accepts in one read.
const MaxDatagram = 64 * 1024

// pollDelta bounds how long an empty Receive may wait before reporting
// ErrWouldBlock.
const pollDelta = time.Millisecond

// ErrWouldBlock reports that no datagram arrived within the receive
// window.
var ErrWouldBlock = errors.New("udp: would block")

// Endpoint is a bound UDP socket.
type Endpoint struct {
	conn *net.UDPConn
}

// Listen binds a socket on the given port with SO_REUSEADDR set. Port 0
// requests an OS-assigned ephemeral port.
func Listen(port int) (*Endpoint, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("udp: bind port %d: %w", port, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("udp: unexpected socket type %T", pc)
	}
	return &Endpoint{conn: conn}, nil
}

// Send writes one datagram to the destination address.
func (e *Endpoint) Send(addr *net.UDPAddr, payload []byte) error {
	if _, err := e.conn.WriteToUDP(payload, addr); err != nil {
		return fmt.Errorf("udp: send to %s: %w", addr, err)
	}
	return nil
}

// Receive reads one queued datagram into buf. When the queue is empty it
// returns ErrWouldBlock within pollDelta.
func (e *Endpoint) Receive(buf []byte) (int, *net.UDPAddr, error) {
	return e.read(buf, pollDelta)
}

// ReceiveWait reads one datagram, waiting up to the given duration before
// returning ErrWouldBlock. Used by the bounded connect and lookup waits.
func (e *Endpoint) ReceiveWait(buf []byte, wait time.Duration) (int, *net.UDPAddr, error) {
	if wait < pollDelta {
		wait = pollDelta
	}
	return e.read(buf, wait)
}

func (e *Endpoint) read(buf []byte, wait time.Duration) (int, *net.UDPAddr, error) {
	if err := e.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return 0, nil, fmt.Errorf("udp: set deadline: %w", err)
	}
	n, addr, err := e.conn.ReadFromUDP(buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return 0, nil, ErrWouldBlock
		}
		return 0, nil, fmt.Errorf("udp: receive: %w", err)
	}
	return n, addr, nil
}

// LocalPort reports the bound port.
func (e *Endpoint) LocalPort() int {
	if addr, ok := e.conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return 0
}

// Close releases the socket. Pending receives fail immediately.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}
