// Package uiserver serves the local UI: a websocket stream of dictation
// events and a small JSON API.
package uiserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"dictate/internal/config"
	"dictate/internal/history"
	"dictate/internal/notify"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// ErrNoClient is returned by Route when no UI is connected to receive a query.
var ErrNoClient = errors.New("no ui client connected")

// Snapshot is what GET /api/state returns and what a new client receives first.
type Snapshot struct {
	State     string    `json:"state"`
	Session   uint64    `json:"session,omitempty"`
	Level     float64   `json:"level"`
	LastText  string    `json:"last_text,omitempty"`
	Strategy  string    `json:"strategy,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Clients   int       `json:"clients"`
	Updated   time.Time `json:"updated"`
}

// RecentFunc lists history entries for GET /api/history.
type RecentFunc func(ctx context.Context, limit int) ([]history.Entry, error)

type Hub struct {
	upgrader websocket.Upgrader
	recent   RecentFunc
	log      zerolog.Logger

	mu    sync.Mutex
	conns map[*client]struct{}
	snap  Snapshot
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func (c *client) close() { c.closeOnce.Do(func() { close(c.send) }) }

func New(recent RecentFunc, log zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: loopbackOrigin},
		recent:   recent,
		log:      log,
		conns:    make(map[*client]struct{}),
		snap:     Snapshot{State: "idle"},
	}
}

// loopbackOrigin admits non-browser clients (no Origin header) and pages
// served from this machine. Any other page could otherwise read dictated text.
func loopbackOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return config.IsLoopbackHost(u.Hostname())
}

func (h *Hub) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", h.handleWebSocket)
	r.HandleFunc("/api/state", h.handleState).Methods(http.MethodGet)
	r.HandleFunc("/api/history", h.handleHistory).Methods(http.MethodGet)
	return r
}

// Serve listens on addr until ctx is cancelled.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: h.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	h.log.Info().Str("addr", addr).Msg("ui hub listening")
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.mu.Lock()
	for c := range h.conns {
		delete(h.conns, c)
		c.close()
	}
	h.mu.Unlock()
	return srv.Shutdown(shutdownCtx)
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.snap
	s.Clients = len(h.conns)
	return s
}

// Notify records e in the snapshot and broadcasts it. Clients whose buffer
// is full miss the event.
func (h *Hub) Notify(e notify.Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		h.log.Error().Err(err).Msg("encode ui event")
		return
	}
	h.mu.Lock()
	h.apply(e)
	h.broadcastLocked(e.Kind, payload)
	h.mu.Unlock()
}

// Route hands a spoken query to the connected UI, which decides where to send it.
func (h *Hub) Route(ctx context.Context, query string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	n := len(h.conns)
	h.mu.Unlock()
	if n == 0 {
		return ErrNoClient
	}
	h.Notify(notify.Event{Kind: notify.KindQuery, Text: query})
	return nil
}

func (h *Hub) apply(e notify.Event) {
	h.snap.Updated = e.At
	if e.Session != 0 {
		h.snap.Session = e.Session
	}
	switch e.Kind {
	case notify.KindState:
		h.snap.State = e.State
		if e.State == "recording" {
			h.snap.LastError = ""
		}
		if e.State != "recording" {
			h.snap.Level = 0
		}
	case notify.KindLevel:
		h.snap.Level = e.Level
	case notify.KindResult:
		h.snap.LastText = e.Text
		h.snap.Strategy = e.Strategy
	case notify.KindError:
		h.snap.LastError = e.Message
	}
}

func (h *Hub) broadcastLocked(kind notify.Kind, payload []byte) {
	for c := range h.conns {
		select {
		case c.send <- payload:
		default:
			if kind != notify.KindLevel {
				h.log.Warn().Str("kind", string(kind)).Msg("ui client too slow, event dropped")
			}
		}
	}
}

func (h *Hub) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Snapshot())
}

func (h *Hub) handleHistory(w http.ResponseWriter, r *http.Request) {
	if h.recent == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "history disabled"})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}
	entries, err := h.recent(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("list history")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	hello, _ := json.Marshal(notify.Event{Kind: notify.KindState, Session: h.snap.Session, State: h.snap.State, At: time.Now()})
	c.send <- hello
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Msg("websocket read")
			}
			return
		}
	}
}
