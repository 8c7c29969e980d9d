package storage

import (
	"context"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
)

// LeadRepoAdapter adapts a Store to the LeadRepo interface
type LeadRepoAdapter struct {
	store Store
}

// NewLeadRepoAdapter creates a new lead repository adapter
func NewLeadRepoAdapter(store Store) LeadRepo {
	return &LeadRepoAdapter{store: store}
}

func (a *LeadRepoAdapter) FindByLeadID(ctx context.Context, leadID string) (*model.Lead, error) {
	return a.store.FindLeadByLeadID(ctx, leadID)
}

func (a *LeadRepoAdapter) FindByPhone(ctx context.Context, phone string) (*model.Lead, error) {
	return a.store.FindLeadByPhone(ctx, phone)
}

func (a *LeadRepoAdapter) Upsert(ctx context.Context, lead model.Lead) (*model.Lead, error) {
	return a.store.UpsertLead(ctx, lead)
}

func (a *LeadRepoAdapter) ApplyScore(ctx context.Context, next model.Lead, expectedVersion int64, scoreLog *model.ScoreLog) (*model.Lead, error) {
	return a.store.ApplyLeadScore(ctx, next, expectedVersion, scoreLog)
}

// ConversationRepoAdapter adapts a Store to the ConversationRepo interface
type ConversationRepoAdapter struct {
	store Store
}

// NewConversationRepoAdapter creates a new conversation repository adapter
func NewConversationRepoAdapter(store Store) ConversationRepo {
	return &ConversationRepoAdapter{store: store}
}

func (a *ConversationRepoAdapter) FindByConversationID(ctx context.Context, conversationID string) (*model.Conversation, error) {
	return a.store.FindConversation(ctx, conversationID)
}

func (a *ConversationRepoAdapter) FindOpen(ctx context.Context, leadID string, channel model.Channel) (*model.Conversation, error) {
	return a.store.FindOpenConversation(ctx, leadID, channel)
}

func (a *ConversationRepoAdapter) Open(ctx context.Context, conv model.Conversation) (*model.Conversation, error) {
	return a.store.OpenConversation(ctx, conv)
}

func (a *ConversationRepoAdapter) Swap(ctx context.Context, next model.Conversation, expectedVersion int64, transferLog *model.TransferLog) (*model.Conversation, error) {
	return a.store.SwapConversation(ctx, next, expectedVersion, transferLog)
}

func (a *ConversationRepoAdapter) ClaimNext(ctx context.Context, assign model.AssignMeta) (*model.Conversation, error) {
	return a.store.ClaimNextConversation(ctx, assign)
}

func (a *ConversationRepoAdapter) AssignIfUnassigned(ctx context.Context, conversationID string, assign model.AssignMeta) (*model.Conversation, error) {
	return a.store.AssignConversationIfUnassigned(ctx, conversationID, assign)
}

func (a *ConversationRepoAdapter) UpdatePriority(ctx context.Context, conversationID string, priority model.Priority) (*model.Conversation, error) {
	return a.store.UpdateConversationPriority(ctx, conversationID, priority)
}

func (a *ConversationRepoAdapter) ListTransferred(ctx context.Context, filter model.QueueFilter) ([]model.TransferredRow, error) {
	return a.store.ListTransferredConversations(ctx, filter)
}

// MessageRepoAdapter adapts a Store to the MessageRepo interface
type MessageRepoAdapter struct {
	store Store
}

// NewMessageRepoAdapter creates a new message repository adapter
func NewMessageRepoAdapter(store Store) MessageRepo {
	return &MessageRepoAdapter{store: store}
}

func (a *MessageRepoAdapter) Append(ctx context.Context, msg model.Message) (*model.Message, bool, error) {
	return a.store.AppendMessage(ctx, msg)
}

func (a *MessageRepoAdapter) ListRecent(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	return a.store.ListRecentMessages(ctx, conversationID, limit)
}

// TransferLogRepoAdapter adapts a Store to the TransferLogRepo interface
type TransferLogRepoAdapter struct {
	store Store
}

// NewTransferLogRepoAdapter creates a new transfer log repository adapter
func NewTransferLogRepoAdapter(store Store) TransferLogRepo {
	return &TransferLogRepoAdapter{store: store}
}

func (a *TransferLogRepoAdapter) ListByConversation(ctx context.Context, conversationID string) ([]model.TransferLog, error) {
	return a.store.ListTransferLogs(ctx, conversationID)
}

// ScoreLogRepoAdapter adapts a Store to the ScoreLogRepo interface
type ScoreLogRepoAdapter struct {
	store Store
}

// NewScoreLogRepoAdapter creates a new score log repository adapter
func NewScoreLogRepoAdapter(store Store) ScoreLogRepo {
	return &ScoreLogRepoAdapter{store: store}
}

func (a *ScoreLogRepoAdapter) ListByLead(ctx context.Context, leadID string) ([]model.ScoreLog, error) {
	return a.store.ListScoreLogs(ctx, leadID)
}

// AgentRepoAdapter adapts a Store to the AgentRepo interface
type AgentRepoAdapter struct {
	store Store
}

// NewAgentRepoAdapter creates a new agent repository adapter
func NewAgentRepoAdapter(store Store) AgentRepo {
	return &AgentRepoAdapter{store: store}
}

func (a *AgentRepoAdapter) Upsert(ctx context.Context, agent model.Agent) (*model.Agent, error) {
	return a.store.UpsertAgent(ctx, agent)
}

func (a *AgentRepoAdapter) FindByAgentID(ctx context.Context, agentID string) (*model.Agent, error) {
	return a.store.FindAgentByAgentID(ctx, agentID)
}

func (a *AgentRepoAdapter) ListActive(ctx context.Context) ([]model.Agent, error) {
	return a.store.ListActiveAgents(ctx)
}

// Repositories bundles the per-entity adapters over one Store.
type Repositories struct {
	Leads         LeadRepo
	Conversations ConversationRepo
	Messages      MessageRepo
	TransferLogs  TransferLogRepo
	ScoreLogs     ScoreLogRepo
	Agents        AgentRepo
}

// NewRepositories wraps store in every repository adapter.
func NewRepositories(store Store) Repositories {
	return Repositories{
		Leads:         NewLeadRepoAdapter(store),
		Conversations: NewConversationRepoAdapter(store),
		Messages:      NewMessageRepoAdapter(store),
		TransferLogs:  NewTransferLogRepoAdapter(store),
		ScoreLogs:     NewScoreLogRepoAdapter(store),
		Agents:        NewAgentRepoAdapter(store),
	}
}
