// Package capture records session datagrams into pcapng files and plays
// them back. Every datagram is wrapped in a synthesized Ethernet/IPv4/UDP
// frame carrying the true endpoint addresses, so standard tooling can
// dissect a recorded session offline.
package capture

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Synthetic locally administered MACs; the frames never touch a real link.
var (
	senderMAC   = net.HardwareAddr{0x02, 0x11, 0x22, 0x00, 0x00, 0x01}
	receiverMAC = net.HardwareAddr{0x02, 0x11, 0x22, 0x00, 0x00, 0x02}
)

// Recorder mirrors datagrams into a pcapng stream. It is safe for
// concurrent use; write errors stick and surface from Close.
type Recorder struct {
	mu   sync.Mutex
	w    *pcapgo.NgWriter
	file *os.File
	err  error
}

// NewRecorder records into an open writer. The caller keeps ownership
// of w and closes it after Close.
func NewRecorder(w io.Writer) (*Recorder, error) {
	ng, err := pcapgo.NewNgWriter(w, layers.LinkTypeEthernet)
	if err != nil {
		return nil, fmt.Errorf("open pcapng stream: %w", err)
	}
	return &Recorder{w: ng}, nil
}

// Create opens path for writing and records into it. Close releases the
// file.
func Create(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	rec, err := NewRecorder(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	rec.file = f
	return rec, nil
}

// Record writes one datagram with its capture time. The signature
// matches the session transport's tap hook.
func (r *Recorder) Record(src, dst *net.UDPAddr, payload []byte, at time.Time) {
	frame, err := synthesize(src, dst, payload)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	if err != nil {
		r.err = err
		return
	}
	info := gopacket.CaptureInfo{
		Timestamp:     at,
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	if err := r.w.WritePacket(info, frame); err != nil {
		r.err = fmt.Errorf("write packet: %w", err)
	}
}

// Close flushes the stream and reports the first error seen.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.w.Flush(); err != nil && r.err == nil {
		r.err = fmt.Errorf("flush pcapng stream: %w", err)
	}
	if r.file != nil {
		if err := r.file.Close(); err != nil && r.err == nil {
			r.err = err
		}
		r.file = nil
	}
	return r.err
}

func synthesize(src, dst *net.UDPAddr, payload []byte) ([]byte, error) {
	eth := layers.Ethernet{
		SrcMAC:       senderMAC,
		DstMAC:       receiverMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    ipv4Of(src),
		DstIP:    ipv4Of(dst),
	}
	udp := layers.UDP{
		SrcPort: layers.UDPPort(src.Port),
		DstPort: layers.UDPPort(dst.Port),
	}
	if err := udp.SetNetworkLayerForChecksum(&ip); err != nil {
		return nil, err
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &ip, &udp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}

func ipv4Of(addr *net.UDPAddr) net.IP {
	if addr == nil {
		return net.IPv4zero.To4()
	}
	if ip := addr.IP.To4(); ip != nil {
		return ip
	}
	return net.IPv4zero.To4()
}

// Replay reads a pcap or pcapng file and feeds every UDP payload to fn
// in capture order. fn returning an error stops the walk and surfaces
// that error.
func Replay(path string, fn func(src, dst *net.UDPAddr, payload []byte, at time.Time) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var source *gopacket.PacketSource
	if ng, err := pcapgo.NewNgReader(f, pcapgo.NgReaderOptions{}); err == nil {
		source = gopacket.NewPacketSource(ng, ng.LinkType())
	} else {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		r, err := pcapgo.NewReader(f)
		if err != nil {
			return fmt.Errorf("open capture %s: %w", path, err)
		}
		source = gopacket.NewPacketSource(r, r.LinkType())
	}

	for {
		pkt, err := source.NextPacket()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		udp, ok := pkt.TransportLayer().(*layers.UDP)
		if !ok {
			continue
		}
		src := &net.UDPAddr{Port: int(udp.SrcPort)}
		dst := &net.UDPAddr{Port: int(udp.DstPort)}
		switch ip := pkt.NetworkLayer().(type) {
		case *layers.IPv4:
			src.IP, dst.IP = ip.SrcIP, ip.DstIP
		case *layers.IPv6:
			src.IP, dst.IP = ip.SrcIP, ip.DstIP
		default:
			continue
		}
		at := pkt.Metadata().CaptureInfo.Timestamp
		if err := fn(src, dst, udp.Payload, at); err != nil {
			return err
		}
	}
}
