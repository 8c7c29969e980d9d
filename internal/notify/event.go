package notify

import (
	"context"
	"time"

	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/utils"
)

// EventType names a notification sent to agent consoles.
type EventType string

const (
	EventNewTransfer         EventType = "new_transfer"
	EventDirectAssignment    EventType = "direct_assignment"
	EventStatusChanged       EventType = "status_changed"
	EventMessageCreated      EventType = "message_created"
	EventConversationUpdated EventType = "conversation_updated"
	EventClaimed             EventType = "claimed"
	EventQueueUpdated        EventType = "queue_updated"
	EventScoreUpdated        EventType = "score_updated"
)

// Frames exchanged with a console that are not bus events.
const (
	FrameSubscribe    = "subscribe"
	FrameUnsubscribe  = "unsubscribe"
	FramePing         = "ping"
	FramePong         = "pong"
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameConnected    = "connected"
	FrameError        = "error"
)

// GlobalTopic reaches every connected console without a subscription.
const GlobalTopic = "global"

// ConversationTopic is the topic a console subscribes to for one conversation.
func ConversationTopic(conversationID string) string {
	return "conversation:" + conversationID
}

// Event is one notification. TargetAgentID, when set, restricts delivery to that agent's consoles.
type Event struct {
	Type           EventType   `json:"type"`
	Topic          string      `json:"topic"`
	ConversationID string      `json:"conversationId,omitempty"`
	TargetAgentID  string      `json:"targetAgentId,omitempty"`
	Data           interface{} `json:"data,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	// Origin is the id of the instance that first published the event. Empty for local events.
	Origin string `json:"origin,omitempty"`
}

// Publisher is what services use to emit notifications. Publish never blocks.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// Global builds an event for every console.
func Global(t EventType, conversationID string, data interface{}) Event {
	return Event{Type: t, Topic: GlobalTopic, ConversationID: conversationID, Data: data, Timestamp: utils.Now()}
}

// OnConversation builds an event for consoles subscribed to a conversation.
func OnConversation(t EventType, conversationID string, data interface{}) Event {
	return Event{Type: t, Topic: ConversationTopic(conversationID), ConversationID: conversationID, Data: data, Timestamp: utils.Now()}
}

// ToAgent builds a global event delivered only to one agent's consoles.
func ToAgent(t EventType, agentID, conversationID string, data interface{}) Event {
	evt := Global(t, conversationID, data)
	evt.TargetAgentID = agentID
	return evt
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
