package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/notify"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/observer"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/utils"
)

const reasonRemovedFromQueue = "removed from queue"

// TransitionCommand is one control action on a conversation.
type TransitionCommand struct {
	ConversationID string
	Action         string
	Reason         string
	Priority       model.Priority
	AssignToAgent  string
	ActorID        string
	TriggeredBy    model.TriggeredBy
}

// TransitionResult is the conversation after the action and the audit entry it wrote, if any.
type TransitionResult struct {
	Conversation *model.Conversation `json:"conversation"`
	TransferLog  *model.TransferLog  `json:"transferLog,omitempty"`
}

// ApplyAction dispatches cmd to the matching transition.
func (s *HandoffService) ApplyAction(ctx context.Context, cmd TransitionCommand) (*TransitionResult, error) {
	if cmd.TriggeredBy == "" {
		cmd.TriggeredBy = model.TriggeredByHuman
	}
	cmd.ActorID = actorOr(cmd.ActorID, defaultActor)

	var (
		res *TransitionResult
		err error
	)
	switch cmd.Action {
	case model.ActionTransfer:
		res, err = s.Transfer(ctx, cmd)
	case model.ActionPause:
		res, err = s.Pause(ctx, cmd)
	case model.ActionResume:
		res, err = s.Resume(ctx, cmd)
	case model.ActionAssign:
		res, err = s.Assign(ctx, cmd)
	case model.ActionComplete:
		res, err = s.Complete(ctx, cmd)
	case model.ActionDequeue:
		res, err = s.Dequeue(ctx, cmd)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", apperrors.ErrValidation, cmd.Action)
	}
	observer.IncTransition(companyOf(ctx), cmd.Action, transitionOutcome(err))
	return res, err
}

func transitionOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case apperrors.IsConflictError(err):
		return "conflict"
	case apperrors.IsInvalidTransitionError(err):
		return "invalid"
	case apperrors.IsNotFoundError(err):
		return "not_found"
	default:
		return "error"
	}
}

// Transfer hands a bot-controlled conversation to the human queue, optionally straight to an agent.
func (s *HandoffService) Transfer(ctx context.Context, cmd TransitionCommand) (*TransitionResult, error) {
	conv, err := s.conversations.FindByConversationID(ctx, cmd.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status == model.StatusTransferred || conv.Status == model.StatusCompleted {
		return nil, fmt.Errorf("%w: cannot transfer a %s conversation", apperrors.ErrInvalidTransition, conv.Status)
	}

	var agent *model.Agent
	if cmd.AssignToAgent != "" {
		if agent, err = s.resolveAgent(ctx, cmd.AssignToAgent); err != nil {
			return nil, err
		}
	}

	priority := cmd.Priority
	if !priority.Valid() {
		priority = s.opts.DefaultPriority
	}
	actor := actorOr(cmd.ActorID, defaultActor)
	now := utils.Now()

	next := conv.Clone()
	markTransferred(next, now, actor, cmd.TriggeredBy, cmd.Reason, priority)
	if agent != nil {
		markAssigned(next, now, actor, agent)
	}

	entry := s.newTransferLog(ctx, conv, model.StatusTransferred, cmd.Reason, cmd.TriggeredBy, actor, priority)
	updated, err := s.conversations.Swap(ctx, *next, conv.Version, entry)
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("Conversation transferred",
		zap.String("conversation_id", updated.ConversationID),
		zap.String("from", string(conv.Status)),
		zap.String("priority", string(priority)),
		zap.String("triggered_by", string(cmd.TriggeredBy)),
		zap.String("assigned_to", updated.AssigneeID()),
	)

	if agent != nil {
		s.publisher.Publish(ctx, notify.ToAgent(notify.EventDirectAssignment, agent.AgentID, updated.ConversationID, updated))
	} else {
		s.publisher.Publish(ctx, notify.Global(notify.EventNewTransfer, updated.ConversationID, updated))
	}
	s.publishStatus(ctx, updated)
	return &TransitionResult{Conversation: updated, TransferLog: entry}, nil
}

// Pause silences the bot without handing the conversation to anyone.
func (s *HandoffService) Pause(ctx context.Context, cmd TransitionCommand) (*TransitionResult, error) {
	conv, err := s.conversations.FindByConversationID(ctx, cmd.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status != model.StatusActive {
		return nil, fmt.Errorf("%w: cannot pause a %s conversation", apperrors.ErrInvalidTransition, conv.Status)
	}

	next := conv.Clone()
	next.Status = model.StatusPaused
	next.Metadata.Pause = &model.PauseMeta{PausedAt: utils.Now(), PausedBy: actorOr(cmd.ActorID, defaultActor), Reason: cmd.Reason}
	next.Metadata.Last = model.MetaPause

	updated, err := s.conversations.Swap(ctx, *next, conv.Version, nil)
	if err != nil {
		return nil, err
	}
	s.publishStatus(ctx, updated)
	return &TransitionResult{Conversation: updated}, nil
}

// Resume gives a paused conversation back to the bot.
func (s *HandoffService) Resume(ctx context.Context, cmd TransitionCommand) (*TransitionResult, error) {
	conv, err := s.conversations.FindByConversationID(ctx, cmd.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status != model.StatusPaused {
		return nil, fmt.Errorf("%w: cannot resume a %s conversation", apperrors.ErrInvalidTransition, conv.Status)
	}

	next := conv.Clone()
	next.Status = model.StatusActive
	next.Metadata.Pause = nil
	next.Metadata.Resume = &model.ResumeMeta{ResumedAt: utils.Now(), ResumedBy: actorOr(cmd.ActorID, defaultActor), Reason: cmd.Reason}
	next.Metadata.Last = model.MetaResume

	updated, err := s.conversations.Swap(ctx, *next, conv.Version, nil)
	if err != nil {
		return nil, err
	}
	s.publishStatus(ctx, updated)
	return &TransitionResult{Conversation: updated}, nil
}

// Assign gives the conversation to an agent. A conversation that is not yet transferred
// is promoted to transferred, which is logged as a transfer.
func (s *HandoffService) Assign(ctx context.Context, cmd TransitionCommand) (*TransitionResult, error) {
	agent, err := s.resolveAgent(ctx, cmd.AssignToAgent)
	if err != nil {
		return nil, err
	}
	conv, err := s.conversations.FindByConversationID(ctx, cmd.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status == model.StatusCompleted {
		return nil, fmt.Errorf("%w: cannot assign a completed conversation", apperrors.ErrInvalidTransition)
	}

	actor := actorOr(cmd.ActorID, defaultActor)
	now := utils.Now()
	next := conv.Clone()

	var entry *model.TransferLog
	promoted := conv.Status != model.StatusTransferred
	if promoted {
		priority := cmd.Priority
		if !priority.Valid() {
			priority = s.opts.DefaultPriority
		}
		reason := fmt.Sprintf("assigned to %s", displayName(agent))
		markTransferred(next, now, actor, cmd.TriggeredBy, reason, priority)
		entry = s.newTransferLog(ctx, conv, model.StatusTransferred, reason, cmd.TriggeredBy, actor, priority)
	}
	markAssigned(next, now, actor, agent)

	updated, err := s.conversations.Swap(ctx, *next, conv.Version, entry)
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("Conversation assigned",
		zap.String("conversation_id", updated.ConversationID),
		zap.String("agent_id", agent.AgentID),
		zap.Bool("promoted", promoted),
	)

	s.publisher.Publish(ctx, notify.ToAgent(notify.EventDirectAssignment, agent.AgentID, updated.ConversationID, updated))
	s.publishStatus(ctx, updated)
	s.publisher.Publish(ctx, notify.Global(notify.EventQueueUpdated, updated.ConversationID, nil))
	return &TransitionResult{Conversation: updated, TransferLog: entry}, nil
}

// Complete ends the conversation. Control leaves bot and humans alike.
func (s *HandoffService) Complete(ctx context.Context, cmd TransitionCommand) (*TransitionResult, error) {
	conv, err := s.conversations.FindByConversationID(ctx, cmd.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status == model.StatusCompleted {
		return nil, fmt.Errorf("%w: conversation already completed", apperrors.ErrInvalidTransition)
	}

	actor := actorOr(cmd.ActorID, defaultActor)
	next := conv.Clone()
	next.Status = model.StatusCompleted
	next.ClearAssignee()
	next.Metadata.Complete = &model.CompleteMeta{CompletedAt: utils.Now(), CompletedBy: actor, Reason: cmd.Reason}
	next.Metadata.Last = model.MetaComplete

	entry := s.newTransferLog(ctx, conv, model.StatusCompleted, cmd.Reason, cmd.TriggeredBy, actor, conv.Priority)
	updated, err := s.conversations.Swap(ctx, *next, conv.Version, entry)
	if err != nil {
		return nil, err
	}
	s.publishStatus(ctx, updated)
	if conv.Status == model.StatusTransferred {
		s.publisher.Publish(ctx, notify.Global(notify.EventQueueUpdated, updated.ConversationID, nil))
	}
	return &TransitionResult{Conversation: updated, TransferLog: entry}, nil
}

// Dequeue takes a transferred conversation out of the human queue and back to the bot.
// Transfer history is kept and the removal itself is logged.
func (s *HandoffService) Dequeue(ctx context.Context, cmd TransitionCommand) (*TransitionResult, error) {
	conv, err := s.conversations.FindByConversationID(ctx, cmd.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status != model.StatusTransferred {
		return nil, fmt.Errorf("%w: conversation is %s, not in the queue", apperrors.ErrInvalidTransition, conv.Status)
	}

	actor := actorOr(cmd.ActorID, defaultActor)
	reason := cmd.Reason
	if reason == "" {
		reason = reasonRemovedFromQueue
	}

	next := conv.Clone()
	next.Status = model.StatusActive
	next.ClearAssignee()
	next.Priority = ""
	next.TransferredAt = nil
	next.Metadata.Transfer = nil
	next.Metadata.Assign = nil
	next.Metadata.Pause = nil
	next.Metadata.Resume = &model.ResumeMeta{ResumedAt: utils.Now(), ResumedBy: actor, Reason: reason}
	next.Metadata.Last = model.MetaResume

	entry := s.newTransferLog(ctx, conv, model.StatusActive, reason, cmd.TriggeredBy, actor, conv.Priority)
	updated, err := s.conversations.Swap(ctx, *next, conv.Version, entry)
	if err != nil {
		return nil, err
	}
	s.publishStatus(ctx, updated)
	s.publisher.Publish(ctx, notify.Global(notify.EventQueueUpdated, updated.ConversationID, nil))
	return &TransitionResult{Conversation: updated, TransferLog: entry}, nil
}

func markTransferred(conv *model.Conversation, now time.Time, actor string, triggeredBy model.TriggeredBy, reason string, priority model.Priority) {
	at := now
	if triggeredBy == "" {
		triggeredBy = model.TriggeredByHuman
	}
	conv.Status = model.StatusTransferred
	conv.Priority = priority
	conv.TransferredAt = &at
	conv.Metadata.Pause = nil
	conv.Metadata.Transfer = &model.TransferMeta{
		TransferredAt: now,
		TransferredBy: actor,
		TriggeredBy:   triggeredBy,
		Reason:        reason,
		Priority:      priority,
	}
	conv.Metadata.Last = model.MetaTransfer
}

func markAssigned(conv *model.Conversation, now time.Time, actor string, agent *model.Agent) {
	conv.SetAssignee(agent.AgentID, displayName(agent))
	conv.Metadata.Assign = &model.AssignMeta{
		AssignedAt: now,
		AssignedBy: actor,
		AgentID:    agent.AgentID,
		AgentName:  displayName(agent),
	}
	conv.Metadata.Last = model.MetaAssign
}

func displayName(agent *model.Agent) string {
	if agent.AgentName != "" {
		return agent.AgentName
	}
	return agent.AgentID
}

func (s *HandoffService) newTransferLog(ctx context.Context, conv *model.Conversation, to model.ConversationStatus,
	reason string, triggeredBy model.TriggeredBy, actor string, priority model.Priority) *model.TransferLog {
	lead := s.leadSnapshot(ctx, conv.LeadID)
	if triggeredBy == "" {
		triggeredBy = model.TriggeredByHuman
	}
	return &model.TransferLog{
		LogID:                  uuid.NewString(),
		CompanyID:              conv.CompanyID,
		ConversationID:         conv.ConversationID,
		LeadID:                 conv.LeadID,
		FromStatus:             conv.Status,
		ToStatus:               to,
		Reason:                 reason,
		TriggeredBy:            triggeredBy,
		ActorID:                actor,
		Priority:               priority,
		ScoreSnapshot:          lead.Score,
		ClassificationSnapshot: lead.Classification,
		CreatedAt:              utils.Now(),
	}
}

func (s *HandoffService) publishStatus(ctx context.Context, conv *model.Conversation) {
	s.publisher.Publish(ctx, notify.OnConversation(notify.EventStatusChanged, conv.ConversationID, conv))
	s.publisher.Publish(ctx, notify.Global(notify.EventConversationUpdated, conv.ConversationID, conv))
}
