package model

import (
	"time"

	"gorm.io/gorm/schema"
)

const (
	AgentOnline  = "online"
	AgentOffline = "offline"
	AgentAway    = "away"
)

// Agent is a human attendant who can own transferred conversations.
type Agent struct {
	// ID is the internal database primary key.
	ID int64 `json:"-" gorm:"primaryKey;autoIncrement"`
	// AgentID is the identifier the dashboard uses for the attendant.
	AgentID string `json:"agent_id" gorm:"column:agent_id;uniqueIndex" validate:"required"`
	// AgentName is the display name shown on transfer logs and queue items.
	AgentName string `json:"agent_name" gorm:"column:agent_name"`
	Email     string `json:"email,omitempty" gorm:"column:email"`
	// Status is the presence reported by the console (online, offline, away).
	Status string `json:"status,omitempty" gorm:"column:status;default:offline"`
	// Active is false for attendants that left the team. Inactive agents cannot be assigned.
	Active    bool      `json:"active" gorm:"column:active"`
	CompanyID string    `json:"company_id,omitempty" gorm:"column:company_id"`
	CreatedAt time.Time `json:"created_at,omitempty" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at,omitempty" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (Agent) TableName(namer schema.Namer) string {
	return namer.TableName("agents")
}

// AgentUpdateColumns returns the columns overwritten when an agent is upserted.
func AgentUpdateColumns() []string {
	return []string{
		"agent_name",
		"email",
		"status",
		"active",
		"updated_at",
	}
}
