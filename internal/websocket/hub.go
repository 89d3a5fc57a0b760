package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"trailpulse/internal/infrastructure"
	"trailpulse/pkg/contracts/events"
)

// broadcastBuffer bounds the queue between the services and the hub
// loop. A full queue drops the event rather than blocking a request.
const broadcastBuffer = 64

// Hub maintains the set of connected clients and fans event messages
// out to them. The services attach it through their SetBroadcaster
// hooks; BroadcastPanelRefresh and BroadcastDataStatus satisfy that
// contract.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	logger *slog.Logger

	metrics *infrastructure.BusinessMetrics

	totalConnections int64
	messagesSent     int64
	droppedClients   int64

	quit    chan struct{}
	done    chan struct{}
	running bool
}

// NewHub creates a hub. Call Start before registering clients.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// SetMetrics attaches the application metric instruments.
func (h *Hub) SetMetrics(m *infrastructure.BusinessMetrics) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metrics = m
}

// Start launches the hub loop. Starting twice is a no-op.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

// Stop shuts the hub loop down, sends every client a disconnect notice
// and closes their send channels. Stopping twice is a no-op; a stopped
// hub cannot be restarted.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)
	<-h.done

	notice, err := json.Marshal(events.Message{
		BaseMessage: events.BaseMessage{
			ID:        uuid.NewString(),
			Type:      events.MessageTypeDisconnect,
			Timestamp: time.Now().UTC(),
		},
		Data: map[string]string{"reason": "server shutdown"},
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if err == nil {
			select {
			case client.send <- notice:
			default:
			}
		}
		close(client.send)
		delete(h.clients, client)
	}
	h.logger.Info("hub stopped",
		slog.Int64("total_connections", h.totalConnections),
		slog.Int64("messages_sent", h.messagesSent),
		slog.Int64("dropped_clients", h.droppedClients))
}

// Register hands a client to the hub loop.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// drop unregisters a client from a pump goroutine. It returns without
// queueing when the hub has already shut down.
func (h *Hub) drop(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client, false)
		case payload := <-h.broadcast:
			h.fanOut(payload)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.totalConnections++
	instruments := h.metrics
	h.mu.Unlock()

	ctx := h.clientContext(client)
	h.logger.InfoContext(ctx, "client registered",
		slog.String("client_id", client.id),
		slog.String("remote_addr", client.remoteAddr),
		slog.Int("total_clients", count))

	if instruments != nil {
		instruments.WSConnectionsActive.Add(ctx, 1)
	}

	welcome := events.Message{
		BaseMessage: events.BaseMessage{
			ID:        uuid.NewString(),
			Type:      events.MessageTypeConnect,
			Timestamp: time.Now().UTC(),
			TraceID:   client.traceID,
		},
		Data: map[string]string{
			"status":    "connected",
			"client_id": client.id,
		},
	}
	payload, err := json.Marshal(welcome)
	if err != nil {
		h.logger.ErrorContext(ctx, "marshal welcome failed", slog.String("error", err.Error()))
		return
	}
	select {
	case client.send <- payload:
	default:
		h.logger.WarnContext(ctx, "welcome dropped, client buffer full",
			slog.String("client_id", client.id))
	}
}

func (h *Hub) removeClient(client *Client, dropped bool) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.send)
	count := len(h.clients)
	if dropped {
		h.droppedClients++
	}
	instruments := h.metrics
	h.mu.Unlock()

	ctx := h.clientContext(client)
	h.logger.InfoContext(ctx, "client unregistered",
		slog.String("client_id", client.id),
		slog.Bool("dropped", dropped),
		slog.Duration("connected_for", time.Since(client.connectedAt)),
		slog.Int("total_clients", count))

	if instruments != nil {
		instruments.WSConnectionsActive.Add(ctx, -1)
	}
}

func (h *Hub) fanOut(payload []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	instruments := h.metrics
	h.mu.RUnlock()

	delivered := 0
	for _, client := range clients {
		select {
		case client.send <- payload:
			delivered++
		default:
			// A full send buffer means the reader is gone or stuck.
			h.removeClient(client, true)
		}
	}

	h.mu.Lock()
	h.messagesSent += int64(delivered)
	h.mu.Unlock()

	h.logger.Debug("broadcast delivered",
		slog.Int("clients", len(clients)),
		slog.Int("delivered", delivered),
		slog.Int("payload_bytes", len(payload)))

	if instruments != nil && delivered > 0 {
		instruments.WSMessagesSent.Add(context.Background(), int64(delivered))
	}
}

// BroadcastPanelRefresh pushes a panel:refresh event to every client.
func (h *Hub) BroadcastPanelRefresh(refresh events.PanelRefresh) {
	h.broadcastMessage(events.MessageTypePanelRefresh, refresh)
}

// BroadcastDataStatus pushes a data:status event to every client.
func (h *Hub) BroadcastDataStatus(status events.DataStatus) {
	h.broadcastMessage(events.MessageTypeDataStatus, status)
}

func (h *Hub) broadcastMessage(msgType events.MessageType, data interface{}) {
	msg := events.Message{
		BaseMessage: events.BaseMessage{
			ID:        uuid.NewString(),
			Type:      msgType,
			Timestamp: time.Now().UTC(),
		},
		Data: data,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast failed",
			slog.String("type", string(msgType)),
			slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("broadcast queue full, message dropped",
			slog.String("type", string(msgType)))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats reports hub counters for shutdown logging and tests.
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]interface{}{
		"active_clients":    len(h.clients),
		"total_connections": h.totalConnections,
		"messages_sent":     h.messagesSent,
		"dropped_clients":   h.droppedClients,
	}
}

func (h *Hub) clientContext(client *Client) context.Context {
	if client.traceID == "" {
		return context.Background()
	}
	return infrastructure.WithTraceID(context.Background(), client.traceID)
}
