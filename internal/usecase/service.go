package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/channel"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/notify"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/policy"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/scoring"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/storage"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/tenant"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
)

const (
	defaultActor         = "system"
	defaultMaxRecipients = 1000
	historyWindow        = 20
)

// Options tunes the handoff service.
type Options struct {
	DefaultPriority        model.Priority
	BroadcastMaxRecipients int
	BroadcastDelay         time.Duration
}

// HandoffService owns every control transition on conversations and the flows that lead to them.
type HandoffService struct {
	leads         storage.LeadRepo
	conversations storage.ConversationRepo
	messages      storage.MessageRepo
	transferLogs  storage.TransferLogRepo
	scoreLogs     storage.ScoreLogRepo
	agents        storage.AgentRepo

	engine    *scoring.Engine
	extractor *scoring.Extractor
	policy    *policy.Policy
	publisher notify.Publisher
	channels  *channel.Registry
	rescorer  IScoringWorker

	opts Options
	// wait blocks for d or until ctx ends. Swapped in tests.
	wait func(ctx context.Context, d time.Duration) error
}

// NewHandoffService creates the service. publisher may be nil, in which case events are discarded.
func NewHandoffService(
	repos storage.Repositories,
	engine *scoring.Engine,
	extractor *scoring.Extractor,
	transferPolicy *policy.Policy,
	publisher notify.Publisher,
	channels *channel.Registry,
	opts Options,
) *HandoffService {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	if !opts.DefaultPriority.Valid() {
		opts.DefaultPriority = model.PriorityMedium
	}
	if opts.BroadcastMaxRecipients <= 0 {
		opts.BroadcastMaxRecipients = defaultMaxRecipients
	}
	if opts.BroadcastDelay < 0 {
		opts.BroadcastDelay = 0
	}
	return &HandoffService{
		leads:         repos.Leads,
		conversations: repos.Conversations,
		messages:      repos.Messages,
		transferLogs:  repos.TransferLogs,
		scoreLogs:     repos.ScoreLogs,
		agents:        repos.Agents,
		engine:        engine,
		extractor:     extractor,
		policy:        transferPolicy,
		publisher:     publisher,
		channels:      channels,
		opts:          opts,
		wait:          sleepContext,
	}
}

// SetScoringWorker attaches the pool that runs AI rescoring. Without one the AI path is skipped.
func (s *HandoffService) SetScoringWorker(w IScoringWorker) {
	s.rescorer = w
}

// GetConversation returns a conversation joined with its lead.
func (s *HandoffService) GetConversation(ctx context.Context, conversationID string) (*model.ConversationWithLead, error) {
	conv, err := s.conversations.FindByConversationID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	lead, err := s.leads.FindByLeadID(ctx, conv.LeadID)
	if err != nil && !apperrors.IsNotFoundError(err) {
		return nil, err
	}
	return &model.ConversationWithLead{Conversation: conv, Lead: lead}, nil
}

// ListTransfers returns a conversation's transfer history, oldest first.
func (s *HandoffService) ListTransfers(ctx context.Context, conversationID string) ([]model.TransferLog, error) {
	if _, err := s.conversations.FindByConversationID(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.transferLogs.ListByConversation(ctx, conversationID)
}

// ListScores returns a lead's score history, oldest first.
func (s *HandoffService) ListScores(ctx context.Context, leadID string) ([]model.ScoreLog, error) {
	if _, err := s.leads.FindByLeadID(ctx, leadID); err != nil {
		return nil, err
	}
	return s.scoreLogs.ListByLead(ctx, leadID)
}

// UpsertAgent registers or updates an attendant in the agent directory.
func (s *HandoffService) UpsertAgent(ctx context.Context, agentID string, req model.UpsertAgentRequest) (*model.Agent, error) {
	companyID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent id is required", apperrors.ErrValidation)
	}
	agent := model.Agent{
		AgentID:   agentID,
		AgentName: req.AgentName,
		Email:     req.Email,
		Status:    req.Status,
		Active:    true,
		CompanyID: companyID,
	}
	if agent.Status == "" {
		agent.Status = model.AgentOffline
	}
	if req.Active != nil {
		agent.Active = *req.Active
	}
	return s.agents.Upsert(ctx, agent)
}

// resolveAgent loads an agent that can own conversations.
func (s *HandoffService) resolveAgent(ctx context.Context, agentID string) (*model.Agent, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent id is required", apperrors.ErrValidation)
	}
	agent, err := s.agents.FindByAgentID(ctx, agentID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: agent %s", apperrors.ErrNotFound, agentID)
		}
		return nil, err
	}
	if !agent.Active {
		return nil, fmt.Errorf("%w: agent %s is inactive", apperrors.ErrBadRequest, agentID)
	}
	return agent, nil
}

// leadSnapshot loads the lead for transfer log snapshots. A missing lead yields an empty snapshot.
func (s *HandoffService) leadSnapshot(ctx context.Context, leadID string) model.Lead {
	lead, err := s.leads.FindByLeadID(ctx, leadID)
	if err != nil || lead == nil {
		if err != nil && !apperrors.IsNotFoundError(err) {
			logger.FromContext(ctx).Warn("Failed to load lead for snapshot", zap.String("lead_id", leadID), zap.Error(err))
		}
		return model.Lead{LeadID: leadID}
	}
	return *lead
}

// openConversations returns the lead's open conversations on every channel.
func (s *HandoffService) openConversations(ctx context.Context, leadID string) ([]*model.Conversation, error) {
	var out []*model.Conversation
	for _, ch := range []model.Channel{model.ChannelEvolution, model.ChannelOfficial} {
		conv, err := s.conversations.FindOpen(ctx, leadID, ch)
		if err != nil {
			if apperrors.IsNotFoundError(err) {
				continue
			}
			return nil, err
		}
		out = append(out, conv)
	}
	return out, nil
}

func actorOr(actorID, fallback string) string {
	if actorID == "" {
		return fallback
	}
	return actorID
}

func companyOf(ctx context.Context) string {
	companyID, _ := tenant.FromContext(ctx)
	return companyID
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// benign reports errors that mean another writer got there first.
func benign(err error) bool {
	return errors.Is(err, apperrors.ErrConflict) || errors.Is(err, apperrors.ErrInvalidTransition)
}
