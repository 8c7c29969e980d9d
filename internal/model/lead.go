package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// Classification is the qualification band a lead's score falls into.
type Classification string

const (
	ClassificationHot     Classification = "hot"
	ClassificationWarm    Classification = "warm"
	ClassificationCold    Classification = "cold"
	ClassificationDiscard Classification = "discard"
)

// LeadStatus is the pipeline stage of a lead. It is independent of conversation control.
type LeadStatus string

const (
	LeadStatusNew        LeadStatus = "new"
	LeadStatusQualifying LeadStatus = "qualifying"
	LeadStatusQualified  LeadStatus = "qualified"
	LeadStatusInService  LeadStatus = "in_service"
	LeadStatusClosed     LeadStatus = "closed"
)

// LeadAttributes are the qualification signals collected from conversations and enrichment.
type LeadAttributes struct {
	HasPrecatorio     bool    `json:"has_precatorio" gorm:"column:has_precatorio"`
	AssetValue        float64 `json:"asset_value" gorm:"column:asset_value"`
	Region            string  `json:"region,omitempty" gorm:"column:region"`
	Urgency           bool    `json:"urgency" gorm:"column:urgency"`
	DocumentsReceived bool    `json:"documents_received" gorm:"column:documents_received"`
	Interested        bool    `json:"interested" gorm:"column:interested"`
	Eligible          bool    `json:"eligible" gorm:"column:eligible"`
}

// Merge folds newly observed signals into a. Flags only ever turn on, the larger asset
// value wins and a non-empty region replaces the old one.
func (a LeadAttributes) Merge(b LeadAttributes) LeadAttributes {
	out := a
	out.HasPrecatorio = a.HasPrecatorio || b.HasPrecatorio
	if b.AssetValue > a.AssetValue {
		out.AssetValue = b.AssetValue
	}
	if b.Region != "" {
		out.Region = b.Region
	}
	out.Urgency = a.Urgency || b.Urgency
	out.DocumentsReceived = a.DocumentsReceived || b.DocumentsReceived
	out.Interested = a.Interested || b.Interested
	out.Eligible = a.Eligible || b.Eligible
	return out
}

// Lead is a prospective customer identified by phone within a company.
type Lead struct {
	ID             int64          `json:"-" gorm:"primaryKey;autoIncrement"`
	LeadID         string         `json:"lead_id" gorm:"column:lead_id;uniqueIndex"`
	CompanyID      string         `json:"company_id,omitempty" gorm:"column:company_id;uniqueIndex:idx_leads_company_phone"`
	Phone          string         `json:"phone" gorm:"column:phone;uniqueIndex:idx_leads_company_phone"`
	Name           string         `json:"name,omitempty" gorm:"column:name"`
	Score          int            `json:"score" gorm:"column:score;not null;default:0"`
	Classification Classification `json:"classification" gorm:"column:classification;default:discard"`
	Status         LeadStatus     `json:"status" gorm:"column:status;default:new"`
	Attributes     LeadAttributes `json:"attributes" gorm:"embedded"`
	Version        int64          `json:"version" gorm:"column:version;not null;default:1"`
	CreatedAt      time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the base table name for GORM, respecting the Namer.
func (Lead) TableName(namer schema.Namer) string {
	return namer.TableName("leads")
}
