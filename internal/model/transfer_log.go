package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// TriggeredBy is the origin of a control transition.
type TriggeredBy string

const (
	TriggeredByAI     TriggeredBy = "ai"
	TriggeredByHuman  TriggeredBy = "human"
	TriggeredBySystem TriggeredBy = "system"
)

// TransferLog is the audit record of one control transition that moved ownership.
type TransferLog struct {
	ID                     int64              `json:"-" gorm:"primaryKey;autoIncrement"`
	LogID                  string             `json:"log_id" gorm:"column:log_id;uniqueIndex"`
	CompanyID              string             `json:"company_id,omitempty" gorm:"column:company_id"`
	ConversationID         string             `json:"conversation_id" gorm:"column:conversation_id;index"`
	LeadID                 string             `json:"lead_id" gorm:"column:lead_id;index"`
	FromStatus             ConversationStatus `json:"from_status" gorm:"column:from_status"`
	ToStatus               ConversationStatus `json:"to_status" gorm:"column:to_status"`
	Reason                 string             `json:"reason,omitempty" gorm:"column:reason"`
	TriggeredBy            TriggeredBy        `json:"triggered_by" gorm:"column:triggered_by"`
	ActorID                string             `json:"actor_id,omitempty" gorm:"column:actor_id"`
	Priority               Priority           `json:"priority,omitempty" gorm:"column:priority"`
	ScoreSnapshot          int                `json:"score_snapshot" gorm:"column:score_snapshot"`
	ClassificationSnapshot Classification     `json:"classification_snapshot,omitempty" gorm:"column:classification_snapshot"`
	CreatedAt              time.Time          `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the base table name for GORM, respecting the Namer.
func (TransferLog) TableName(namer schema.Namer) string {
	return namer.TableName("transfer_logs")
}
