// Package progress streams closed generations to WebSocket subscribers.
//
// Each barrier advance becomes one JSON Event. New subscribers receive the
// most recent event immediately so a viewer that connects mid-run does not
// wait a full generation for its first frame.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/firevox/internal/barrier"
	"github.com/roach88/firevox/internal/store"
)

const writeWait = 5 * time.Second

// Event is one progress frame.
type Event struct {
	SimulationID string `json:"simulation_id"`
	barrier.Result
	Readings []store.Reading `json:"readings,omitempty"`
	At       time.Time       `json:"at"`
}

type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub fans events out to connected subscribers. It implements
// http.Handler: every request is upgraded to a WebSocket.
type Hub struct {
	upgrader websocket.Upgrader

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
	last []byte
}

// NewHub creates a hub accepting connections from any origin.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subs: make(map[*subscriber]struct{}),
	}
}

// ServeHTTP upgrades the request and keeps the subscriber registered until
// the peer goes away. Incoming frames are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("progress upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	sub := &subscriber{conn: conn}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	last := h.last
	h.mu.Unlock()
	slog.Debug("progress subscriber connected", "remote", r.RemoteAddr)

	defer func() {
		h.remove(sub)
		slog.Debug("progress subscriber disconnected", "remote", r.RemoteAddr)
	}()

	if last != nil {
		if err := sub.write(last); err != nil {
			return
		}
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish sends ev to every subscriber. Subscribers that fail to receive
// it are disconnected.
func (h *Hub) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("encode progress event", "error", err)
		return
	}

	h.mu.Lock()
	h.last = data
	subs := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		if err := s.write(data); err != nil {
			slog.Debug("progress write failed", "error", err)
			h.remove(s)
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for s := range subs {
		s.mu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "simulation finished"),
			time.Now().Add(writeWait))
		s.mu.Unlock()
		s.conn.Close()
	}
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	h.mu.Unlock()
	if ok {
		s.conn.Close()
	}
}

// Publisher adapts the hub to barrier.WithOnAdvance. Readings are attached
// from s when it is non-nil.
func (h *Hub) Publisher(ctx context.Context, s *store.Store, simulationID string) func(barrier.Result) {
	return func(res barrier.Result) {
		ev := Event{SimulationID: simulationID, Result: res, At: time.Now().UTC()}
		if s != nil {
			readings, err := s.Readings(ctx)
			if err != nil {
				slog.Error("read thermometers for progress", "error", err)
			}
			for _, r := range readings {
				if r.Generation == res.Generation {
					ev.Readings = append(ev.Readings, r)
				}
			}
		}
		h.Publish(ev)
	}
}

// Serve runs an HTTP server exposing the hub at /progress until ctx is
// cancelled. ready, when non-nil, receives the bound address.
func Serve(ctx context.Context, addr string, h *Hub, ready func(net.Addr)) error {
	mux := http.NewServeMux()
	mux.Handle("/progress", h)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if ready != nil {
		ready(ln.Addr())
	}
	slog.Info("progress stream listening", "addr", ln.Addr().String())

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		h.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
