package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/notify"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/observer"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/utils"
)

// GetQueue lists transferred conversations in serving order with positions and stats.
func (s *HandoffService) GetQueue(ctx context.Context, filter model.QueueFilter) (*model.QueueView, error) {
	if filter.MyQueue && filter.AgentID == "" {
		return nil, fmt.Errorf("%w: agentId is required with myQueue", apperrors.ErrValidation)
	}
	rows, err := s.conversations.ListTransferred(ctx, filter)
	if err != nil {
		return nil, err
	}
	view := BuildQueueView(rows, utils.Now())
	return &view, nil
}

// BuildQueueView projects rows into queue items, orders them (priority desc, then
// transferred_at asc) and numbers the unassigned ones from 1. Assigned items get position 0.
func BuildQueueView(rows []model.TransferredRow, now time.Time) model.QueueView {
	items := make([]model.QueueItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, toQueueItem(row, now))
	}
	SortQueue(items)

	stats := model.QueueStats{ByPriority: map[model.Priority]int{}}
	position := 0
	for i := range items {
		item := &items[i]
		stats.Total++
		stats.ByPriority[item.Priority]++
		if item.AssignedAgentID != "" {
			stats.Assigned++
			item.Position = 0
			continue
		}
		position++
		item.Position = position
		stats.Unassigned++
		if item.WaitSeconds > stats.OldestWaitSeconds {
			stats.OldestWaitSeconds = item.WaitSeconds
		}
	}
	return model.QueueView{Items: items, Stats: stats}
}

// SortQueue orders items the way the queue serves them. The sort is stable so equal
// items keep the store's order.
func SortQueue(items []model.QueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
			return ra > rb
		}
		return a.TransferredAt.Before(b.TransferredAt)
	})
}

func toQueueItem(row model.TransferredRow, now time.Time) model.QueueItem {
	conv := row.Conversation
	item := model.QueueItem{
		ConversationID:    conv.ConversationID,
		LeadID:            conv.LeadID,
		LeadName:          row.Lead.Name,
		Phone:             row.Lead.Phone,
		Score:             row.Lead.Score,
		Classification:    row.Lead.Classification,
		Priority:          conv.Priority,
		AssignedAgentID:   conv.AssigneeID(),
		AssignedAgentName: conv.AssignedAgentName,
	}
	if conv.TransferredAt != nil {
		item.TransferredAt = *conv.TransferredAt
		item.WaitSeconds = utils.WaitSeconds(*conv.TransferredAt, now)
	}
	if conv.Metadata.Transfer != nil {
		item.Reason = conv.Metadata.Transfer.Reason
	}
	return item
}

// TakeNext atomically assigns the head of the queue to agentID. An empty queue is a normal result.
func (s *HandoffService) TakeNext(ctx context.Context, agentID, actorID string) (*model.ClaimResult, error) {
	companyID := companyOf(ctx)
	agent, err := s.resolveAgent(ctx, agentID)
	if err != nil {
		observer.IncClaim(companyID, "rejected")
		return nil, err
	}

	assign := model.AssignMeta{
		AssignedAt: utils.Now(),
		AssignedBy: actorOr(actorID, agent.AgentID),
		AgentID:    agent.AgentID,
		AgentName:  displayName(agent),
	}
	conv, err := s.conversations.ClaimNext(ctx, assign)
	if err != nil {
		observer.IncClaim(companyID, "error")
		return nil, err
	}
	if conv == nil {
		observer.IncClaim(companyID, "empty")
		return &model.ClaimResult{Empty: true}, nil
	}
	observer.IncClaim(companyID, "claimed")

	lead := s.leadSnapshot(ctx, conv.LeadID)
	item := toQueueItem(model.TransferredRow{Conversation: *conv, Lead: lead}, utils.Now())

	logger.FromContext(ctx).Info("Conversation claimed",
		zap.String("conversation_id", conv.ConversationID),
		zap.String("agent_id", agent.AgentID),
		zap.Int64("wait_seconds", item.WaitSeconds),
	)

	s.publisher.Publish(ctx, notify.ToAgent(notify.EventClaimed, agent.AgentID, conv.ConversationID, item))
	s.publisher.Publish(ctx, notify.OnConversation(notify.EventStatusChanged, conv.ConversationID, conv))
	s.publisher.Publish(ctx, notify.Global(notify.EventQueueUpdated, conv.ConversationID, nil))
	return &model.ClaimResult{Item: &item}, nil
}

// ChangePriority reorders a queued conversation.
func (s *HandoffService) ChangePriority(ctx context.Context, conversationID string, priority model.Priority) (*model.Conversation, error) {
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: priority must be high, medium or low", apperrors.ErrValidation)
	}
	conv, err := s.conversations.UpdatePriority(ctx, conversationID, priority)
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, notify.Global(notify.EventQueueUpdated, conv.ConversationID, conv))
	return conv, nil
}

// RemoveFromQueue sends a queued conversation back to the bot.
func (s *HandoffService) RemoveFromQueue(ctx context.Context, conversationID, actorID string) (*TransitionResult, error) {
	return s.ApplyAction(ctx, TransitionCommand{
		ConversationID: conversationID,
		Action:         model.ActionDequeue,
		ActorID:        actorID,
		TriggeredBy:    model.TriggeredByHuman,
	})
}

// BatchAssign distributes conversations round-robin over agentIDs. Each assignment is an
// independent conditional write, so one failure does not affect the others.
func (s *HandoffService) BatchAssign(ctx context.Context, conversationIDs, agentIDs []string, actorID string) ([]model.BatchAssignResult, error) {
	if len(conversationIDs) == 0 || len(agentIDs) == 0 {
		return nil, fmt.Errorf("%w: conversationIds and agentIds are required", apperrors.ErrValidation)
	}
	agents := make([]*model.Agent, 0, len(agentIDs))
	for _, id := range agentIDs {
		agent, err := s.resolveAgent(ctx, id)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}

	actor := actorOr(actorID, defaultActor)
	results := make([]model.BatchAssignResult, 0, len(conversationIDs))
	assigned := 0
	for i, convID := range conversationIDs {
		agent := agents[i%len(agents)]
		res := model.BatchAssignResult{ConversationID: convID, AgentID: agent.AgentID}

		conv, err := s.conversations.AssignIfUnassigned(ctx, convID, model.AssignMeta{
			AssignedAt: utils.Now(),
			AssignedBy: actor,
			AgentID:    agent.AgentID,
			AgentName:  displayName(agent),
		})
		switch {
		case err == nil:
			res.Status = model.BatchAssigned
			assigned++
			s.publisher.Publish(ctx, notify.ToAgent(notify.EventDirectAssignment, agent.AgentID, conv.ConversationID, conv))
		case errors.Is(err, apperrors.ErrNotFound):
			res.Status = model.BatchNotFound
		case errors.Is(err, apperrors.ErrConflict):
			res.Status = model.BatchAlreadyAssigned
		default:
			res.Status = model.BatchError
			res.Error = err.Error()
		}
		results = append(results, res)
	}

	logger.FromContext(ctx).Info("Batch assignment finished",
		zap.Int("requested", len(conversationIDs)),
		zap.Int("assigned", assigned),
		zap.Int("agents", len(agents)),
	)
	if assigned > 0 {
		s.publisher.Publish(ctx, notify.Global(notify.EventQueueUpdated, "", nil))
	}
	return results, nil
}
