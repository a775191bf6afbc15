package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hako/durafmt"
)

// event is one room-lifecycle record published to diagnostics feed
// subscribers.
type event struct {
	Kind   string    `json:"kind"`
	Code   string    `json:"code"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// eventFeed fans room events out to websocket subscribers. Publishing
// never blocks the UDP loop: a subscriber that cannot keep up loses
// events.
type eventFeed struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func newEventFeed() *eventFeed {
	return &eventFeed{subs: make(map[chan []byte]struct{})}
}

func (f *eventFeed) subscribe() chan []byte {
	ch := make(chan []byte, 16)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

func (f *eventFeed) unsubscribe(ch chan []byte) {
	f.mu.Lock()
	delete(f.subs, ch)
	f.mu.Unlock()
}

func (f *eventFeed) publish(e event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	f.mu.Lock()
	for ch := range f.subs {
		select {
		case ch <- data:
		default:
		}
	}
	f.mu.Unlock()
}

type diagRoom struct {
	Code          string   `json:"code"`
	Host          string   `json:"host"`
	HostPort      uint16   `json:"hostPort"`
	PlayerCount   int      `json:"playerCount"`
	Roster        []string `json:"roster"`
	AgeSeconds    int64    `json:"ageSeconds"`
	SilentSeconds int64    `json:"silentSeconds"`
}

// diagnosticsSnapshot clones the table state for the diagnostics page.
func (s *Server) diagnosticsSnapshot() any {
	now := s.now()
	s.mu.Lock()
	rooms := make([]diagRoom, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, diagRoom{
			Code:          room.Code,
			Host:          room.HostAddr.String(),
			HostPort:      room.HostPort,
			PlayerCount:   room.PlayerCount,
			Roster:        append([]string(nil), room.Roster...),
			AgeSeconds:    int64(now.Sub(room.CreatedAt).Seconds()),
			SilentSeconds: int64(now.Sub(room.LastHeartbeat).Seconds()),
		})
	}
	flowCount := len(s.flows)
	s.mu.Unlock()

	return struct {
		Status       string     `json:"status"`
		Uptime       string     `json:"uptime"`
		RoomCount    int        `json:"roomCount"`
		Rooms        []diagRoom `json:"rooms"`
		RelayEnabled bool       `json:"relayEnabled"`
		RelayFlows   int        `json:"relayFlows"`
	}{
		Status:       "ok",
		Uptime:       durafmt.Parse(now.Sub(s.started).Round(time.Second)).LimitFirstN(2).String(),
		RoomCount:    len(rooms),
		Rooms:        rooms,
		RelayEnabled: s.cfg.RelayEnabled,
		RelayFlows:   flowCount,
	}
}

// serveHTTP starts the diagnostics listener and returns a shutdown
// callback.
func (s *Server) serveHTTP(ctx context.Context) (func(), error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w http.ResponseWriter, r *http.Request) {
		data, err := json.Marshal(s.diagnosticsSnapshot())
		if err != nil {
			http.Error(w, "failed to encode", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Debugw("events upgrade failed", "err", err)
			return
		}
		ch := s.feed.subscribe()
		defer func() {
			s.feed.unsubscribe(ch)
			conn.Close()
		}()

		// Reader loop only notices the peer going away.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case data := <-ch:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}
	})

	ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("directory: diagnostics listener: %w", err)
	}
	s.mu.Lock()
	s.httpAddr = ln.Addr().String()
	s.mu.Unlock()

	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	s.log.Infow("diagnostics listening", "addr", ln.Addr().String())

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}, nil
}

// HTTPAddr reports the bound diagnostics address, empty when disabled.
func (s *Server) HTTPAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpAddr
}
