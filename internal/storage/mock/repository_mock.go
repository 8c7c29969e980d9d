package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
)

// --- LeadRepo Mock ---

// LeadRepoMock mocks the LeadRepo interface
type LeadRepoMock struct {
	mock.Mock
}

func (m *LeadRepoMock) FindByLeadID(ctx context.Context, leadID string) (*model.Lead, error) {
	args := m.Called(ctx, leadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Lead), args.Error(1)
}

func (m *LeadRepoMock) FindByPhone(ctx context.Context, phone string) (*model.Lead, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Lead), args.Error(1)
}

func (m *LeadRepoMock) Upsert(ctx context.Context, lead model.Lead) (*model.Lead, error) {
	args := m.Called(ctx, lead)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Lead), args.Error(1)
}

func (m *LeadRepoMock) ApplyScore(ctx context.Context, next model.Lead, expectedVersion int64, scoreLog *model.ScoreLog) (*model.Lead, error) {
	args := m.Called(ctx, next, expectedVersion, scoreLog)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Lead), args.Error(1)
}

// --- ConversationRepo Mock ---

// ConversationRepoMock mocks the ConversationRepo interface
type ConversationRepoMock struct {
	mock.Mock
}

func (m *ConversationRepoMock) FindByConversationID(ctx context.Context, conversationID string) (*model.Conversation, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

func (m *ConversationRepoMock) FindOpen(ctx context.Context, leadID string, channel model.Channel) (*model.Conversation, error) {
	args := m.Called(ctx, leadID, channel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

func (m *ConversationRepoMock) Open(ctx context.Context, conv model.Conversation) (*model.Conversation, error) {
	args := m.Called(ctx, conv)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

func (m *ConversationRepoMock) Swap(ctx context.Context, next model.Conversation, expectedVersion int64, transferLog *model.TransferLog) (*model.Conversation, error) {
	args := m.Called(ctx, next, expectedVersion, transferLog)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

func (m *ConversationRepoMock) ClaimNext(ctx context.Context, assign model.AssignMeta) (*model.Conversation, error) {
	args := m.Called(ctx, assign)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

func (m *ConversationRepoMock) AssignIfUnassigned(ctx context.Context, conversationID string, assign model.AssignMeta) (*model.Conversation, error) {
	args := m.Called(ctx, conversationID, assign)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

func (m *ConversationRepoMock) UpdatePriority(ctx context.Context, conversationID string, priority model.Priority) (*model.Conversation, error) {
	args := m.Called(ctx, conversationID, priority)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

func (m *ConversationRepoMock) ListTransferred(ctx context.Context, filter model.QueueFilter) ([]model.TransferredRow, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.TransferredRow), args.Error(1)
}

// --- MessageRepo Mock ---

// MessageRepoMock mocks the MessageRepo interface
type MessageRepoMock struct {
	mock.Mock
}

func (m *MessageRepoMock) Append(ctx context.Context, msg model.Message) (*model.Message, bool, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.Message), args.Bool(1), args.Error(2)
}

func (m *MessageRepoMock) ListRecent(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	args := m.Called(ctx, conversationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

// --- TransferLogRepo Mock ---

// TransferLogRepoMock mocks the TransferLogRepo interface
type TransferLogRepoMock struct {
	mock.Mock
}

func (m *TransferLogRepoMock) ListByConversation(ctx context.Context, conversationID string) ([]model.TransferLog, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.TransferLog), args.Error(1)
}

// --- ScoreLogRepo Mock ---

// ScoreLogRepoMock mocks the ScoreLogRepo interface
type ScoreLogRepoMock struct {
	mock.Mock
}

func (m *ScoreLogRepoMock) ListByLead(ctx context.Context, leadID string) ([]model.ScoreLog, error) {
	args := m.Called(ctx, leadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ScoreLog), args.Error(1)
}

// --- AgentRepo Mock ---

// AgentRepoMock mocks the AgentRepo interface
type AgentRepoMock struct {
	mock.Mock
}

func (m *AgentRepoMock) Upsert(ctx context.Context, agent model.Agent) (*model.Agent, error) {
	args := m.Called(ctx, agent)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Agent), args.Error(1)
}

func (m *AgentRepoMock) FindByAgentID(ctx context.Context, agentID string) (*model.Agent, error) {
	args := m.Called(ctx, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Agent), args.Error(1)
}

func (m *AgentRepoMock) ListActive(ctx context.Context) ([]model.Agent, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Agent), args.Error(1)
}
