package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// ConversationStatus is who controls a conversation.
type ConversationStatus string

const (
	StatusActive      ConversationStatus = "active"      // bot in control
	StatusPaused      ConversationStatus = "paused"      // bot silenced, nobody assigned
	StatusTransferred ConversationStatus = "transferred" // waiting in, or claimed from, the human queue
	StatusCompleted   ConversationStatus = "completed"   // terminal
)

// Priority orders transferred conversations in the queue.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank maps a priority onto an integer where larger means served first. Unknown values rank lowest.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p is one of the three known priorities.
func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// Channel is the WhatsApp provider a conversation runs on.
type Channel string

const (
	ChannelEvolution Channel = "evolution"
	ChannelOfficial  Channel = "official"
)

// Conversation is one thread between a lead and the company on a single channel.
// A lead has at most one non-completed conversation per channel.
type Conversation struct {
	ID                int64              `json:"-" gorm:"primaryKey;autoIncrement"`
	ConversationID    string             `json:"conversation_id" gorm:"column:conversation_id;uniqueIndex"`
	CompanyID         string             `json:"company_id,omitempty" gorm:"column:company_id"`
	LeadID            string             `json:"lead_id" gorm:"column:lead_id;index"`
	Channel           Channel            `json:"channel" gorm:"column:channel"`
	ChannelRef        string             `json:"channel_ref,omitempty" gorm:"column:channel_ref"`
	Status            ConversationStatus `json:"status" gorm:"column:status;index"`
	AssignedAgentID   *string            `json:"assigned_agent_id,omitempty" gorm:"column:assigned_agent_id;index"`
	AssignedAgentName string             `json:"assigned_agent_name,omitempty" gorm:"column:assigned_agent_name"`
	Priority          Priority           `json:"priority,omitempty" gorm:"column:priority"`
	TransferredAt     *time.Time         `json:"transferred_at,omitempty" gorm:"column:transferred_at"`
	MessageCount      int64              `json:"message_count" gorm:"column:message_count;not null;default:0"`
	LastMessageAt     *time.Time         `json:"last_message_at,omitempty" gorm:"column:last_message_at"`
	Metadata          ControlMetadata    `json:"metadata" gorm:"column:metadata;type:jsonb"`
	Version           int64              `json:"version" gorm:"column:version;not null;default:1"`
	CreatedAt         time.Time          `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the base table name for GORM, respecting the Namer.
func (Conversation) TableName(namer schema.Namer) string {
	return namer.TableName("conversations")
}

// AssigneeID returns the assigned agent id or "" when unassigned.
func (c *Conversation) AssigneeID() string {
	if c.AssignedAgentID == nil {
		return ""
	}
	return *c.AssignedAgentID
}

// IsAssigned reports whether a human agent owns the conversation.
func (c *Conversation) IsAssigned() bool {
	return c.AssigneeID() != ""
}

// SetAssignee records agent ownership.
func (c *Conversation) SetAssignee(agentID, agentName string) {
	id := agentID
	c.AssignedAgentID = &id
	c.AssignedAgentName = agentName
}

// ClearAssignee removes agent ownership.
func (c *Conversation) ClearAssignee() {
	c.AssignedAgentID = nil
	c.AssignedAgentName = ""
}

// Clone returns a deep copy, including pointer fields and metadata records.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	if c.AssignedAgentID != nil {
		id := *c.AssignedAgentID
		out.AssignedAgentID = &id
	}
	if c.TransferredAt != nil {
		t := *c.TransferredAt
		out.TransferredAt = &t
	}
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		out.LastMessageAt = &t
	}
	out.Metadata = c.Metadata.Clone()
	return &out
}

// ConversationWithLead is a conversation joined with the lead it belongs to.
type ConversationWithLead struct {
	Conversation *Conversation `json:"conversation"`
	Lead         *Lead         `json:"lead"`
}
