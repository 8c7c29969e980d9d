package notify

import (
	"context"
	"encoding/json"
	"sync"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/observer"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/utils"
	"go.uber.org/zap"
)

const (
	defaultHubBuffer    = 256
	defaultClientBuffer = 64
)

// Delivery outcomes recorded in metrics.
const (
	outcomeDelivered     = "delivered"
	outcomeDroppedHub    = "dropped_hub"
	outcomeDroppedClient = "dropped_client"
	outcomeNoSubscriber  = "no_subscriber"
)

type reply struct {
	client *Client
	data   []byte
}

// Hub fans events out to connected consoles. Only the Run goroutine writes to client
// send buffers, so closing a client never races with a delivery.
type Hub struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	events     chan Event
	replies    chan reply

	clientBuffer int
	done         chan struct{}
	stopOnce     sync.Once
	log          *zap.Logger
}

var _ Publisher = (*Hub)(nil)

// NewHub creates a hub. Non-positive sizes fall back to 256 and 64.
func NewHub(hubBuffer, clientBuffer int) *Hub {
	if hubBuffer <= 0 {
		hubBuffer = defaultHubBuffer
	}
	if clientBuffer <= 0 {
		clientBuffer = defaultClientBuffer
	}
	return &Hub{
		clients:      make(map[*Client]struct{}),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		events:       make(chan Event, hubBuffer),
		replies:      make(chan reply, hubBuffer),
		clientBuffer: clientBuffer,
		done:         make(chan struct{}),
		log:          logger.Named("notify"),
	}
}

// Run dispatches events until ctx is cancelled, then drains what is buffered and closes every client.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("Notification hub started")
	for {
		select {
		case <-ctx.Done():
			h.drain()
			h.shutdown()
			h.log.Info("Notification hub stopped")
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case evt := <-h.events:
			h.dispatch(evt)
		case r := <-h.replies:
			h.sendTo(r.client, r.data)
		}
	}
}

// Publish queues evt for dispatch. It drops the event when the hub buffer is full.
func (h *Hub) Publish(ctx context.Context, evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = utils.Now()
	}
	select {
	case h.events <- evt:
	default:
		observer.IncNotification(string(evt.Type), outcomeDroppedHub)
		logger.FromContextOr(ctx, h.log).Warn("Notification hub buffer full, event dropped",
			zap.String("type", string(evt.Type)),
			zap.String("topic", evt.Topic),
		)
	}
}

// ClientCount returns the number of connected consoles.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register attaches a client. It returns false when the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister detaches a client and closes its send buffer.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) reply(c *Client, frame interface{}) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.log.Error("Failed to encode console frame", zap.Error(err))
		return
	}
	select {
	case h.replies <- reply{client: c, data: data}:
	case <-h.done:
	default:
		observer.IncNotification("reply", outcomeDroppedHub)
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	observer.SetConnectedConsoles(total)
	h.log.Info("Console connected", zap.String("agent_id", c.agentID), zap.Int("total", total))
	h.sendFrame(c, map[string]string{"type": FrameConnected, "agentId": c.agentID})
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if ok {
		observer.SetConnectedConsoles(total)
		h.log.Info("Console disconnected", zap.String("agent_id", c.agentID), zap.Int("total", total))
	}
}

func (h *Hub) dispatch(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.log.Error("Failed to encode event", zap.String("type", string(evt.Type)), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.clients {
		if !c.wants(evt) {
			continue
		}
		select {
		case c.send <- data:
			delivered++
		default:
			observer.IncNotification(string(evt.Type), outcomeDroppedClient)
			h.log.Warn("Console buffer full, event dropped",
				zap.String("agent_id", c.agentID),
				zap.String("type", string(evt.Type)),
			)
		}
	}

	if delivered == 0 {
		observer.IncNotification(string(evt.Type), outcomeNoSubscriber)
		return
	}
	observer.IncNotification(string(evt.Type), outcomeDelivered)
}

func (h *Hub) sendFrame(c *Client, frame interface{}) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	h.sendTo(c, data)
}

func (h *Hub) sendTo(c *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// drain dispatches whatever is already buffered without waiting for more.
func (h *Hub) drain() {
	for {
		select {
		case evt := <-h.events:
			h.dispatch(evt)
		default:
			return
		}
	}
}

func (h *Hub) shutdown() {
	h.stopOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	observer.SetConnectedConsoles(0)
}
