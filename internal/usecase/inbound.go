package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/notify"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/policy"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/scoring"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/tenant"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/validator"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/utils"
)

// InboundResult describes what one inbound message did.
type InboundResult struct {
	Lead         *model.Lead         `json:"lead"`
	Conversation *model.Conversation `json:"conversation"`
	Message      *model.Message      `json:"message"`
	// Duplicate is true when the message id was already stored; nothing else ran.
	Duplicate     bool              `json:"duplicate"`
	ScoreChanged  bool              `json:"scoreChanged"`
	Transfer      *TransitionResult `json:"transfer,omitempty"`
	RescoreQueued bool              `json:"rescoreQueued"`
}

// HandleInbound records a customer message and runs the bot side of the handoff:
// deterministic scoring, the transfer policy and, for conversations still with the
// bot, an asynchronous AI rescoring pass.
func (s *HandoffService) HandleInbound(ctx context.Context, payload model.InboundMessagePayload) (*InboundResult, error) {
	if err := validator.Validate(&payload); err != nil {
		return nil, err
	}
	companyID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}
	if payload.CompanyID != "" && payload.CompanyID != companyID {
		return nil, fmt.Errorf("%w: payload company %s does not match tenant %s", apperrors.ErrBadRequest, payload.CompanyID, companyID)
	}
	phone := utils.NormalizePhone(payload.Phone)
	if !utils.ValidPhone(phone) {
		return nil, fmt.Errorf("%w: phone %q is not a valid number", apperrors.ErrValidation, payload.Phone)
	}
	msgType := payload.Type
	if msgType == "" {
		msgType = model.MessageText
	}

	log := logger.FromContext(ctx).With(
		zap.String("message_id", payload.MessageID),
		zap.String("channel", string(payload.Channel)),
	)

	lead, err := s.leads.Upsert(ctx, model.Lead{
		LeadID:    uuid.NewString(),
		CompanyID: companyID,
		Phone:     phone,
		Name:      payload.Name,
	})
	if err != nil {
		return nil, err
	}
	conv, err := s.conversations.Open(ctx, model.Conversation{
		ConversationID: uuid.NewString(),
		CompanyID:      companyID,
		LeadID:         lead.LeadID,
		Channel:        payload.Channel,
		ChannelRef:     payload.ChannelRef,
		Status:         model.StatusActive,
	})
	if err != nil {
		return nil, err
	}

	sentAt := utils.UnixAutoToTime(payload.Timestamp)
	if sentAt.IsZero() {
		sentAt = utils.Now()
	}
	msg, created, err := s.messages.Append(ctx, model.Message{
		MessageID:      payload.MessageID,
		ConversationID: conv.ConversationID,
		CompanyID:      companyID,
		Sender:         model.SenderUser,
		Type:           msgType,
		Text:           payload.Text,
		MediaURL:       payload.MediaURL,
		SentAt:         sentAt,
	})
	if err != nil {
		return nil, err
	}
	result := &InboundResult{Lead: lead, Conversation: conv, Message: msg}
	if !created {
		log.Debug("Duplicate inbound message ignored")
		result.Duplicate = true
		return result, nil
	}
	conv.MessageCount = msg.Seq
	conv.LastMessageAt = &msg.SentAt

	signals := s.extractor.Extract(payload.Text, msgType)
	update, err := s.applyScore(ctx, lead.LeadID, conv.ConversationID, func(current model.Lead) (scoring.Result, error) {
		return s.engine.Evaluate(current, signals.Attributes, model.ScoreByAI), nil
	})
	if err != nil {
		return nil, err
	}
	result.Lead = update.Lead
	result.ScoreChanged = update.ScoreLog != nil

	if transfer := s.evaluatePolicy(ctx, conv, update.Lead, policy.Signals{
		HandoffRequested: signals.HandoffRequested,
		MatchedPhrase:    signals.MatchedPhrase,
	}); transfer != nil {
		result.Transfer = transfer
		conv = transfer.Conversation
	}
	result.Conversation = conv

	s.publisher.Publish(ctx, notify.OnConversation(notify.EventMessageCreated, conv.ConversationID, msg))
	s.publisher.Publish(ctx, notify.Global(notify.EventConversationUpdated, conv.ConversationID, conv))

	if conv.Status == model.StatusActive && s.engine.ReasoningEnabled() && s.rescorer != nil {
		result.RescoreQueued = true
		s.submitRescore(ctx, ScoringTask{
			Ctx:            tenant.Detached(ctx),
			CompanyID:      companyID,
			LeadID:         lead.LeadID,
			ConversationID: conv.ConversationID,
			MessageID:      msg.MessageID,
		})
	}

	log.Debug("Inbound message processed",
		zap.String("conversation_id", conv.ConversationID),
		zap.Int64("seq", msg.Seq),
		zap.Int("score", update.Lead.Score),
		zap.Bool("transferred", result.Transfer != nil),
	)
	return result, nil
}

// submitRescore hands the task to the pool without holding up ingestion. The pool
// blocks when its queue is full, so the submission runs on its own goroutine.
func (s *HandoffService) submitRescore(ctx context.Context, task ScoringTask) {
	log := logger.FromContext(ctx)
	go func() {
		defer utils.RecoverWithLog(ctx, "rescore submission")
		if err := s.rescorer.SubmitTask(task); err != nil {
			log.Warn("AI rescoring not queued", zap.String("conversation_id", task.ConversationID), zap.Error(err))
		}
	}()
}
