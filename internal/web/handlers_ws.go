package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"zwave-go-home/internal/driver"
)

var wsEventTypes = []string{
	driver.EventCommandReceived,
	driver.EventDecodeError,
	driver.EventValueUpdated,
	driver.EventWakeUp,
}

// WSHub streams driver events to WebSocket clients. Each client carries an
// event filter that it can replace at any time by sending a subscribe
// message.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	events     chan driver.Event

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	filter driver.EventFilter // guarded by WSHub.mu
}

// wsSubscribe is the only message clients send.
type wsSubscribe struct {
	Node  uint8    `json:"node"`
	Types []string `json:"types"`
}

func (m wsSubscribe) filter() (driver.EventFilter, error) {
	for _, t := range m.Types {
		if !slices.Contains(wsEventTypes, t) {
			return driver.EventFilter{}, errors.New("unknown event type " + strconv.Quote(t))
		}
	}
	return driver.EventFilter{NodeID: m.Node, Types: m.Types}, nil
}

func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		events:     make(chan driver.Event, 256),
		done:       make(chan struct{}),
	}
}

// Run delivers queued events until Stop is called.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total, filter := len(h.clients), client.filter
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "node", filter.NodeID, "types", filter.Types, "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "total", total)

		case event := <-h.events:
			h.deliver(event)
		}
	}
}

// deliver sends event to every matching client. A client whose buffer is
// full is dropped rather than allowed to stall the others.
func (h *WSHub) deliver(event driver.Event) {
	var data []byte
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if !client.filter.Match(event) {
			continue
		}
		if data == nil {
			var err error
			if data, err = json.Marshal(event); err != nil {
				h.logger.Error("ws marshal", "type", event.Type, "err", err)
				return
			}
		}
		select {
		case client.send <- data:
		default:
			delete(h.clients, client)
			close(client.send)
			h.logger.Warn("ws client evicted (too slow)", "node", client.filter.NodeID)
		}
	}
}

// Stop signals the hub to shut down. Safe to call multiple times.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Publish queues an event. It never blocks the driver: when the queue is
// full the event is dropped.
func (h *WSHub) Publish(event driver.Event) {
	select {
	case h.events <- event:
	default:
		h.logger.Warn("ws event queue full, dropping event", "type", event.Type, "node", event.NodeID)
	}
}

func (h *WSHub) setFilter(client *wsClient, f driver.EventFilter) {
	h.mu.Lock()
	client.filter = f
	h.mu.Unlock()
}

// parseWSFilter reads ?node=N&type=a,b from the upgrade request.
func parseWSFilter(r *http.Request) (driver.EventFilter, error) {
	var sub wsSubscribe
	q := r.URL.Query()
	if v := q.Get("node"); v != "" {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil || n == 0 {
			return driver.EventFilter{}, errors.New("invalid node")
		}
		sub.Node = uint8(n)
	}
	if v := q.Get("type"); v != "" {
		sub.Types = strings.Split(v, ",")
	}
	return sub.filter()
}

// handleWS upgrades the connection and streams matching driver events.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	filter, err := parseWSFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(4096)

	client := &wsClient{
		conn:   conn,
		send:   make(chan []byte, 64),
		filter: filter,
	}

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *Server) wsWritePump(client *wsClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	client.conn.Close(websocket.StatusNormalClosure, "")
}

// wsReadPump applies subscribe messages until the connection fails.
// A malformed message closes the connection with StatusPolicyViolation.
func (s *Server) wsReadPump(client *wsClient) {
	defer func() {
		select {
		case s.wsHub.unregister <- client:
		case <-s.wsHub.done:
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		_, data, err := client.conn.Read(ctx)
		if err != nil {
			return
		}
		var sub wsSubscribe
		if err := json.Unmarshal(data, &sub); err != nil {
			client.conn.Close(websocket.StatusPolicyViolation, "invalid subscribe message")
			return
		}
		f, err := sub.filter()
		if err != nil {
			client.conn.Close(websocket.StatusPolicyViolation, err.Error())
			return
		}
		s.wsHub.setFilter(client, f)
		s.logger.Debug("ws filter changed", "node", f.NodeID, "types", f.Types)
	}
}
