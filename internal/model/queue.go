package model

import "time"

// QueueItem is the queue projection of a transferred conversation joined with its lead.
// It is computed on read and never stored.
type QueueItem struct {
	ConversationID    string         `json:"conversationId"`
	LeadID            string         `json:"leadId"`
	LeadName          string         `json:"leadName"`
	Phone             string         `json:"phone"`
	Score             int            `json:"score"`
	Classification    Classification `json:"classification"`
	Priority          Priority       `json:"priority"`
	TransferredAt     time.Time      `json:"transferredAt"`
	WaitSeconds       int64          `json:"waitSeconds"`
	Position          int            `json:"position"` // 1-based among unassigned items, 0 when assigned
	AssignedAgentID   string         `json:"assignedAgentId,omitempty"`
	AssignedAgentName string         `json:"assignedAgentName,omitempty"`
	Reason            string         `json:"reason,omitempty"`
}

// QueueStats summarises a queue listing.
type QueueStats struct {
	Total             int              `json:"total"`
	Unassigned        int              `json:"unassigned"`
	Assigned          int              `json:"assigned"`
	ByPriority        map[Priority]int `json:"byPriority"`
	OldestWaitSeconds int64            `json:"oldestWaitSeconds"`
}

// QueueView is the response of a queue read.
type QueueView struct {
	Items []QueueItem `json:"items"`
	Stats QueueStats  `json:"stats"`
}

// QueueFilter narrows a queue listing. AgentID is only used with MyQueue.
type QueueFilter struct {
	AssignedOnly bool
	MyQueue      bool
	AgentID      string
}

// TransferredRow is what storage returns for queue reads: a transferred conversation and its lead.
type TransferredRow struct {
	Conversation Conversation
	Lead         Lead
}

// Batch assignment outcomes.
const (
	BatchAssigned        = "assigned"
	BatchAlreadyAssigned = "already_assigned"
	BatchNotFound        = "not_found"
	BatchError           = "error"
)

// BatchAssignResult is the per-conversation outcome of a batch assignment.
type BatchAssignResult struct {
	ConversationID string `json:"conversationId"`
	AgentID        string `json:"agentId"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

// ClaimResult is the outcome of a claim-next. Empty is true, with Item nil, when nothing was waiting.
type ClaimResult struct {
	Empty bool       `json:"empty"`
	Item  *QueueItem `json:"item,omitempty"`
}
