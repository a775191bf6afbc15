package capture

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/internal/net/session"
)

var _ session.Tap = (*Recorder)(nil)

type recorded struct {
	src     string
	dst     string
	payload string
	at      time.Time
}

func TestRecorder_RoundTripsDatagrams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.pcapng")
	rec, err := Create(path)
	if err != nil {
		t.Fatalf("create recorder: %v", err)
	}

	base := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	host := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 10), Port: 8890}
	client := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 20), Port: 41000}
	rec.Record(client, host, []byte("hello"), base)
	rec.Record(host, client, []byte("snapshot"), base.Add(5*time.Millisecond))
	rec.Record(client, host, []byte("input"), base.Add(25*time.Millisecond))
	if err := rec.Close(); err != nil {
		t.Fatalf("close recorder: %v", err)
	}

	var got []recorded
	err = Replay(path, func(src, dst *net.UDPAddr, payload []byte, at time.Time) error {
		got = append(got, recorded{src: src.String(), dst: dst.String(), payload: string(payload), at: at})
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 datagrams, got %d", len(got))
	}
	if got[0].payload != "hello" || got[1].payload != "snapshot" || got[2].payload != "input" {
		t.Fatalf("payloads lost or reordered: %+v", got)
	}
	if got[0].src != "192.168.1.20:41000" || got[0].dst != "192.168.1.10:8890" {
		t.Fatalf("addresses lost: %s -> %s", got[0].src, got[0].dst)
	}
	if got[1].src != "192.168.1.10:8890" {
		t.Fatalf("expected the reply frame to carry the host address, got %s", got[1].src)
	}
	if d := got[1].at.Sub(got[0].at); d < 4*time.Millisecond || d > 6*time.Millisecond {
		t.Fatalf("expected about 5ms between the first frames, got %v", d)
	}
}

func TestRecorder_SurvivesConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burst.pcapng")
	rec, err := Create(path)
	if err != nil {
		t.Fatalf("create recorder: %v", err)
	}

	at := time.Now()
	dst := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 100), Port: 8890}
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			src := &net.UDPAddr{IP: net.IPv4(10, 0, 0, byte(g+1)), Port: 9000 + g}
			for i := 0; i < 25; i++ {
				rec.Record(src, dst, []byte{byte(g), byte(i)}, at)
			}
		}(g)
	}
	wg.Wait()
	if err := rec.Close(); err != nil {
		t.Fatalf("close recorder: %v", err)
	}

	count := 0
	err = Replay(path, func(_, _ *net.UDPAddr, _ []byte, _ time.Time) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if count != 100 {
		t.Fatalf("expected 100 recorded datagrams, got %d", count)
	}
}

func TestReplay_ReadsLegacyPcap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.pcap")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("write header: %v", err)
	}
	frame, err := synthesize(
		&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1234},
		&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8888},
		[]byte("lookup"),
	)
	if err != nil {
		t.Fatalf("synthesize frame: %v", err)
	}
	info := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(frame), Length: len(frame)}
	if err := w.WritePacket(info, frame); err != nil {
		t.Fatalf("write packet: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	var payloads []string
	err = Replay(path, func(_, dst *net.UDPAddr, payload []byte, _ time.Time) error {
		if dst.Port != 8888 {
			t.Fatalf("expected the directory port, got %d", dst.Port)
		}
		payloads = append(payloads, string(payload))
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(payloads) != 1 || payloads[0] != "lookup" {
		t.Fatalf("expected the single payload back, got %q", payloads)
	}
}

func TestReplay_StopsWhenCallbackFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abort.pcapng")
	rec, err := Create(path)
	if err != nil {
		t.Fatalf("create recorder: %v", err)
	}
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9999}
	for i := 0; i < 3; i++ {
		rec.Record(addr, addr, []byte{byte(i)}, time.Now())
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("close recorder: %v", err)
	}

	stop := errors.New("stop")
	count := 0
	err = Replay(path, func(_, _ *net.UDPAddr, _ []byte, _ time.Time) error {
		count++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected the callback error back, got %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the walk to stop after one datagram, got %d", count)
	}
}

func TestReplay_MissingFile(t *testing.T) {
	err := Replay(filepath.Join(t.TempDir(), "nope.pcapng"), func(_, _ *net.UDPAddr, _ []byte, _ time.Time) error {
		return nil
	})
	if err == nil {
		t.Fatalf("expected an error for a missing capture")
	}
}
