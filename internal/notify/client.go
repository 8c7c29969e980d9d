package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
)

// ClientFrame is what a console sends: {type: subscribe|unsubscribe|ping, conversationId}.
type ClientFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
}

type ackFrame struct {
	Type           string `json:"type"`
	Topic          string `json:"topic,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Client is one connected agent console.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	agentID string

	topics map[string]struct{}
	subMu  sync.RWMutex
}

// NewClient creates a client for agentID. conn may be nil when the caller drains Send itself.
func NewClient(hub *Hub, conn *websocket.Conn, agentID string) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, hub.clientBuffer),
		agentID: agentID,
		topics:  make(map[string]struct{}),
	}
}

// AgentID returns the agent the console belongs to.
func (c *Client) AgentID() string { return c.agentID }

// Send exposes the outbound buffer. It is closed when the hub drops the client.
func (c *Client) Send() <-chan []byte { return c.send }

// Subscribe adds a conversation topic.
func (c *Client) Subscribe(topic string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.topics[topic] = struct{}{}
}

// Unsubscribe removes a conversation topic.
func (c *Client) Unsubscribe(topic string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.topics, topic)
}

// IsSubscribed reports membership. Every client is implicitly on the global topic.
func (c *Client) IsSubscribed(topic string) bool {
	if topic == GlobalTopic {
		return true
	}
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}

func (c *Client) wants(evt Event) bool {
	if evt.TargetAgentID != "" && evt.TargetAgentID != c.agentID {
		return false
	}
	return c.IsSubscribed(evt.Topic)
}

// HandleFrame applies one console frame and queues the acknowledgement.
func (c *Client) HandleFrame(raw []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.hub.reply(c, ackFrame{Type: FrameError, Message: "invalid frame"})
		return
	}

	switch frame.Type {
	case FramePing:
		c.hub.reply(c, ackFrame{Type: FramePong})
	case FrameSubscribe, FrameUnsubscribe:
		if frame.ConversationID == "" {
			c.hub.reply(c, ackFrame{Type: FrameError, Message: "conversationId is required"})
			return
		}
		topic := ConversationTopic(frame.ConversationID)
		if frame.Type == FrameSubscribe {
			c.Subscribe(topic)
			c.hub.reply(c, ackFrame{Type: FrameSubscribed, Topic: topic, ConversationID: frame.ConversationID})
			return
		}
		c.Unsubscribe(topic)
		c.hub.reply(c, ackFrame{Type: FrameUnsubscribed, Topic: topic, ConversationID: frame.ConversationID})
	default:
		c.hub.reply(c, ackFrame{Type: FrameError, Message: "unknown frame type " + frame.Type})
	}
}

// ReadPump reads console frames until the connection fails, then unregisters the client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("Console read failed", zap.String("agent_id", c.agentID), zap.Error(err))
			}
			return
		}
		c.HandleFrame(message)
	}
}

// WritePump writes queued frames and keepalive pings until the send buffer is closed.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Upgrader accepts console connections. CheckOrigin is replaced by the API layer when origins are restricted.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and starts the client pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, agentID string) error {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(h, conn, agentID)
	if !h.Register(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return nil
	}

	go client.WritePump()
	go client.ReadPump()
	return nil
}
