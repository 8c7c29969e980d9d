package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// ScoreTrigger is the origin of a score change.
type ScoreTrigger string

const (
	ScoreByAI         ScoreTrigger = "ai"
	ScoreByManual     ScoreTrigger = "manual"
	ScoreByEnrichment ScoreTrigger = "escavador-enrichment"
)

// ScoreFactor is one line of the factor table that contributed to a score change.
type ScoreFactor struct {
	Factor string `json:"factor"`
	Points int    `json:"points"`
}

// ScoreLog is the audit record of one score mutation.
type ScoreLog struct {
	ID                     int64                           `json:"-" gorm:"primaryKey;autoIncrement"`
	LogID                  string                          `json:"log_id" gorm:"column:log_id;uniqueIndex"`
	CompanyID              string                          `json:"company_id,omitempty" gorm:"column:company_id"`
	LeadID                 string                          `json:"lead_id" gorm:"column:lead_id;index"`
	ConversationID         string                          `json:"conversation_id,omitempty" gorm:"column:conversation_id"`
	PreviousScore          int                             `json:"previous_score" gorm:"column:previous_score"`
	NewScore               int                             `json:"new_score" gorm:"column:new_score"`
	PreviousClassification Classification                  `json:"previous_classification" gorm:"column:previous_classification"`
	NewClassification      Classification                  `json:"new_classification" gorm:"column:new_classification"`
	Factors                datatypes.JSONSlice[ScoreFactor] `json:"factors" gorm:"column:factors;type:jsonb"`
	TriggeredBy            ScoreTrigger                    `json:"triggered_by" gorm:"column:triggered_by"`
	Reasoning              string                          `json:"reasoning,omitempty" gorm:"column:reasoning"`
	CreatedAt              time.Time                       `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the base table name for GORM, respecting the Namer.
func (ScoreLog) TableName(namer schema.Namer) string {
	return namer.TableName("score_logs")
}
