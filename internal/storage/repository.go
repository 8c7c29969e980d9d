package storage

import (
	"context"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
)

// Store is the persistence backend behind every repository. PostgresRepo and MemoryRepo implement it.
type Store interface {
	FindLeadByLeadID(ctx context.Context, leadID string) (*model.Lead, error)
	FindLeadByPhone(ctx context.Context, phone string) (*model.Lead, error)
	UpsertLead(ctx context.Context, lead model.Lead) (*model.Lead, error)
	ApplyLeadScore(ctx context.Context, next model.Lead, expectedVersion int64, scoreLog *model.ScoreLog) (*model.Lead, error)

	FindConversation(ctx context.Context, conversationID string) (*model.Conversation, error)
	FindOpenConversation(ctx context.Context, leadID string, channel model.Channel) (*model.Conversation, error)
	OpenConversation(ctx context.Context, conv model.Conversation) (*model.Conversation, error)
	SwapConversation(ctx context.Context, next model.Conversation, expectedVersion int64, transferLog *model.TransferLog) (*model.Conversation, error)
	ClaimNextConversation(ctx context.Context, assign model.AssignMeta) (*model.Conversation, error)
	AssignConversationIfUnassigned(ctx context.Context, conversationID string, assign model.AssignMeta) (*model.Conversation, error)
	UpdateConversationPriority(ctx context.Context, conversationID string, priority model.Priority) (*model.Conversation, error)
	ListTransferredConversations(ctx context.Context, filter model.QueueFilter) ([]model.TransferredRow, error)

	AppendMessage(ctx context.Context, msg model.Message) (*model.Message, bool, error)
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)

	ListTransferLogs(ctx context.Context, conversationID string) ([]model.TransferLog, error)
	ListScoreLogs(ctx context.Context, leadID string) ([]model.ScoreLog, error)

	UpsertAgent(ctx context.Context, agent model.Agent) (*model.Agent, error)
	FindAgentByAgentID(ctx context.Context, agentID string) (*model.Agent, error)
	ListActiveAgents(ctx context.Context) ([]model.Agent, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// LeadRepo defines lead storage operations
type LeadRepo interface {
	FindByLeadID(ctx context.Context, leadID string) (*model.Lead, error)
	FindByPhone(ctx context.Context, phone string) (*model.Lead, error)
	// Upsert creates the lead keyed by phone, or returns the stored one.
	Upsert(ctx context.Context, lead model.Lead) (*model.Lead, error)
	// ApplyScore is a compare-and-swap on the lead version that also appends the score log.
	ApplyScore(ctx context.Context, next model.Lead, expectedVersion int64, scoreLog *model.ScoreLog) (*model.Lead, error)
}

// ConversationRepo defines conversation storage operations
type ConversationRepo interface {
	FindByConversationID(ctx context.Context, conversationID string) (*model.Conversation, error)
	FindOpen(ctx context.Context, leadID string, channel model.Channel) (*model.Conversation, error)
	// Open inserts conv unless the lead already has an open conversation on the channel,
	// in which case the existing one is returned.
	Open(ctx context.Context, conv model.Conversation) (*model.Conversation, error)
	// Swap writes the control columns of next when the stored version equals expectedVersion.
	// transferLog, when not nil, is inserted in the same transaction.
	Swap(ctx context.Context, next model.Conversation, expectedVersion int64, transferLog *model.TransferLog) (*model.Conversation, error)
	// ClaimNext assigns the head of the queue. It returns nil, nil when nothing is waiting.
	ClaimNext(ctx context.Context, assign model.AssignMeta) (*model.Conversation, error)
	AssignIfUnassigned(ctx context.Context, conversationID string, assign model.AssignMeta) (*model.Conversation, error)
	UpdatePriority(ctx context.Context, conversationID string, priority model.Priority) (*model.Conversation, error)
	ListTransferred(ctx context.Context, filter model.QueueFilter) ([]model.TransferredRow, error)
}

// MessageRepo defines message storage operations
type MessageRepo interface {
	// Append stores msg with the next sequence number. created is false when
	// the message id was already stored, and the stored message is returned.
	Append(ctx context.Context, msg model.Message) (stored *model.Message, created bool, err error)
	ListRecent(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
}

// TransferLogRepo defines transfer log read operations. Logs are written by ConversationRepo.Swap.
type TransferLogRepo interface {
	ListByConversation(ctx context.Context, conversationID string) ([]model.TransferLog, error)
}

// ScoreLogRepo defines score log read operations. Logs are written by LeadRepo.ApplyScore.
type ScoreLogRepo interface {
	ListByLead(ctx context.Context, leadID string) ([]model.ScoreLog, error)
}

// AgentRepo defines agent storage operations
type AgentRepo interface {
	Upsert(ctx context.Context, agent model.Agent) (*model.Agent, error)
	FindByAgentID(ctx context.Context, agentID string) (*model.Agent, error)
	ListActive(ctx context.Context) ([]model.Agent, error)
}

// queueOrderSQL orders transferred conversations the way the queue serves them.
const queueOrderSQL = "CASE priority WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0 END DESC, transferred_at ASC, id ASC"

// defaultRecentMessages bounds ListRecent when the caller passes no limit.
const defaultRecentMessages = 20
