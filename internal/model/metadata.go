package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// MetadataKind names the transition that produced a metadata record.
type MetadataKind string

const (
	MetaPause    MetadataKind = "pause"
	MetaTransfer MetadataKind = "transfer"
	MetaAssign   MetadataKind = "assign"
	MetaResume   MetadataKind = "resume"
	MetaComplete MetadataKind = "complete"
)

type PauseMeta struct {
	PausedAt time.Time `json:"paused_at"`
	PausedBy string    `json:"paused_by"`
	Reason   string    `json:"reason,omitempty"`
}

type TransferMeta struct {
	TransferredAt time.Time   `json:"transferred_at"`
	TransferredBy string      `json:"transferred_by"`
	TriggeredBy   TriggeredBy `json:"triggered_by"`
	Reason        string      `json:"reason,omitempty"`
	Priority      Priority    `json:"priority"`
}

type AssignMeta struct {
	AssignedAt time.Time `json:"assigned_at"`
	AssignedBy string    `json:"assigned_by"`
	AgentID    string    `json:"agent_id"`
	AgentName  string    `json:"agent_name,omitempty"`
}

type ResumeMeta struct {
	ResumedAt time.Time `json:"resumed_at"`
	ResumedBy string    `json:"resumed_by"`
	Reason    string    `json:"reason,omitempty"`
}

type CompleteMeta struct {
	CompletedAt time.Time `json:"completed_at"`
	CompletedBy string    `json:"completed_by"`
	Reason      string    `json:"reason,omitempty"`
}

// ControlMetadata records the latest transition of each kind on a conversation.
// Last tells which record was written most recently. It is persisted as jsonb.
type ControlMetadata struct {
	Last     MetadataKind  `json:"last,omitempty"`
	Pause    *PauseMeta    `json:"pause,omitempty"`
	Transfer *TransferMeta `json:"transfer,omitempty"`
	Assign   *AssignMeta   `json:"assign,omitempty"`
	Resume   *ResumeMeta   `json:"resume,omitempty"`
	Complete *CompleteMeta `json:"complete,omitempty"`
}

// Clone copies every record so the result can be mutated independently.
func (m ControlMetadata) Clone() ControlMetadata {
	out := ControlMetadata{Last: m.Last}
	if m.Pause != nil {
		v := *m.Pause
		out.Pause = &v
	}
	if m.Transfer != nil {
		v := *m.Transfer
		out.Transfer = &v
	}
	if m.Assign != nil {
		v := *m.Assign
		out.Assign = &v
	}
	if m.Resume != nil {
		v := *m.Resume
		out.Resume = &v
	}
	if m.Complete != nil {
		v := *m.Complete
		out.Complete = &v
	}
	return out
}

// Value implements driver.Valuer.
func (m ControlMetadata) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner. NULL and empty values decode to the zero value.
func (m *ControlMetadata) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = ControlMetadata{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("control metadata: unsupported scan type %T", src)
	}
	if len(data) == 0 {
		*m = ControlMetadata{}
		return nil
	}
	var out ControlMetadata
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("control metadata: %w", err)
	}
	*m = out
	return nil
}

// GormDataType tells gorm to create the column as jsonb.
func (ControlMetadata) GormDataType() string {
	return "jsonb"
}
