package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/notify"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/observer"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/policy"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/scoring"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/validator"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/utils"
)

// maxScoreAttempts bounds the compare-and-swap loop on a lead.
const maxScoreAttempts = 3

// ScoreUpdate is the outcome of a score mutation and the transfers it caused.
type ScoreUpdate struct {
	Lead      *model.Lead         `json:"lead"`
	ScoreLog  *model.ScoreLog     `json:"scoreLog,omitempty"`
	Transfers []*TransitionResult `json:"transfers,omitempty"`
	Result    scoring.Result      `json:"-"`
}

// scoreFunc computes a result against the freshest stored lead.
type scoreFunc func(lead model.Lead) (scoring.Result, error)

// applyScore loads the lead, computes the result and writes it with a compare-and-swap
// on the lead version. A concurrent writer makes it reload and recompute. Nothing is
// written when neither score nor attributes moved, and a ScoreLog is only written when
// the score or classification changed.
func (s *HandoffService) applyScore(ctx context.Context, leadID, conversationID string, compute scoreFunc) (*ScoreUpdate, error) {
	var lastErr error
	for attempt := 0; attempt < maxScoreAttempts; attempt++ {
		lead, err := s.leads.FindByLeadID(ctx, leadID)
		if err != nil {
			return nil, err
		}
		result, err := compute(*lead)
		if err != nil {
			return nil, err
		}

		changed := result.ScoreChanged()
		if !changed && result.Attributes == lead.Attributes {
			return &ScoreUpdate{Lead: lead, Result: result}, nil
		}

		var entry *model.ScoreLog
		if changed {
			entry = newScoreLog(lead, result, conversationID)
		}
		next := result.Apply(*lead)
		updated, err := s.leads.ApplyScore(ctx, next, lead.Version, entry)
		if err != nil {
			if apperrors.IsConflictError(err) {
				lastErr = err
				continue
			}
			return nil, err
		}

		if changed {
			observer.IncScoreChange(companyOf(ctx), string(result.TriggeredBy))
			logger.FromContext(ctx).Info("Lead score changed",
				zap.String("lead_id", leadID),
				zap.Int("previous_score", result.PreviousScore),
				zap.Int("new_score", result.NewScore),
				zap.String("classification", string(result.NewClassification)),
				zap.String("triggered_by", string(result.TriggeredBy)),
			)
			s.publisher.Publish(ctx, notify.Global(notify.EventScoreUpdated, conversationID, entry))
		}
		return &ScoreUpdate{Lead: updated, ScoreLog: entry, Result: result}, nil
	}
	return nil, fmt.Errorf("lead %s kept changing: %w", leadID, lastErr)
}

func newScoreLog(lead *model.Lead, result scoring.Result, conversationID string) *model.ScoreLog {
	return &model.ScoreLog{
		LogID:                  uuid.NewString(),
		CompanyID:              lead.CompanyID,
		LeadID:                 lead.LeadID,
		ConversationID:         conversationID,
		PreviousScore:          result.PreviousScore,
		NewScore:               result.NewScore,
		PreviousClassification: result.PreviousClassification,
		NewClassification:      result.NewClassification,
		Factors:                result.Factors,
		TriggeredBy:            result.TriggeredBy,
		Reasoning:              result.Reasoning,
		CreatedAt:              utils.Now(),
	}
}

// AdjustScore applies a manual or enrichment score change to a lead and re-runs the
// transfer policy on its open conversations.
func (s *HandoffService) AdjustScore(ctx context.Context, leadID string, req model.ScoreAdjustmentRequest) (*ScoreUpdate, error) {
	if err := validator.Validate(&req); err != nil {
		return nil, err
	}
	if req.Delta != nil && req.Score != nil {
		return nil, fmt.Errorf("%w: send either delta or score, not both", apperrors.ErrValidation)
	}

	update, err := s.applyScore(ctx, leadID, req.ConversationID, func(lead model.Lead) (scoring.Result, error) {
		result, err := s.engine.Adjust(lead, req.Delta, req.Score, req.TriggeredBy, req.Reasoning)
		if err != nil {
			return scoring.Result{}, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	update.Transfers = s.reevaluate(ctx, update.Lead, policy.Signals{})
	return update, nil
}

// HandleEnrichment merges attributes from an external enrichment source into a lead.
func (s *HandoffService) HandleEnrichment(ctx context.Context, payload model.EnrichmentPayload) (*ScoreUpdate, error) {
	if err := validator.Validate(&payload); err != nil {
		return nil, err
	}
	if companyID := companyOf(ctx); payload.CompanyID != "" && payload.CompanyID != companyID {
		return nil, fmt.Errorf("%w: payload company %s does not match tenant %s", apperrors.ErrBadRequest, payload.CompanyID, companyID)
	}

	leadID := payload.LeadID
	if leadID == "" {
		lead, err := s.leads.FindByPhone(ctx, utils.NormalizePhone(payload.Phone))
		if err != nil {
			return nil, err
		}
		leadID = lead.LeadID
	}

	observed := payload.Attributes()
	update, err := s.applyScore(ctx, leadID, "", func(lead model.Lead) (scoring.Result, error) {
		result := s.engine.Evaluate(lead, observed, model.ScoreByEnrichment)
		result.Reasoning = payload.Reasoning
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	update.Transfers = s.reevaluate(ctx, update.Lead, policy.Signals{})
	return update, nil
}

// RescoreWithReasoning runs the AI scoring pass for a conversation that is still with the
// bot. A reasoner failure keeps the score as it was and writes nothing.
func (s *HandoffService) RescoreWithReasoning(task ScoringTask) error {
	ctx := task.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.FromContext(ctx).With(zap.String("conversation_id", task.ConversationID))

	conv, err := s.conversations.FindByConversationID(ctx, task.ConversationID)
	if err != nil {
		return err
	}
	if conv.Status != model.StatusActive {
		log.Debug("Skipping AI rescoring, conversation left the bot", zap.String("status", string(conv.Status)))
		return nil
	}
	lead, err := s.leads.FindByLeadID(ctx, conv.LeadID)
	if err != nil {
		return err
	}
	history, err := s.messages.ListRecent(ctx, conv.ConversationID, historyWindow)
	if err != nil {
		return err
	}

	outcome := s.engine.ScoreWithReasoning(ctx, *lead, history, conv.MessageCount)
	if outcome.FallbackUsed {
		log.Warn("AI rescoring fell back, score unchanged", zap.Error(outcome.Err))
		return nil
	}

	aiScore := outcome.Result.NewScore
	update, err := s.applyScore(ctx, lead.LeadID, conv.ConversationID, func(fresh model.Lead) (scoring.Result, error) {
		return rebaseResult(fresh, outcome.Result, aiScore), nil
	})
	if err != nil {
		return err
	}

	signals := policy.Signals{FromReasoner: true}
	if outcome.Advice != nil {
		signals.AdviceTransfer = outcome.Advice.ShouldTransfer
		signals.AdviceReason = outcome.Advice.Reason
		signals.AdvicePriority = outcome.Advice.Priority
	}
	s.reevaluateConversation(ctx, conv.ConversationID, update.Lead, signals)
	return nil
}

// rebaseResult moves an AI result computed against an older lead onto fresh.
func rebaseResult(fresh model.Lead, result scoring.Result, score int) scoring.Result {
	out := result
	out.PreviousScore = fresh.Score
	out.PreviousClassification = fresh.Classification
	out.NewScore = scoring.Clamp(score)
	out.NewClassification = scoring.Classify(out.NewScore)
	out.Attributes = fresh.Attributes.Merge(result.Attributes)
	out.Factors = nil
	if out.NewScore != fresh.Score {
		out.Factors = []model.ScoreFactor{{Factor: scoring.FactorAI, Points: out.NewScore - fresh.Score}}
	}
	return out
}

// reevaluate runs the transfer policy on each open conversation of lead.
func (s *HandoffService) reevaluate(ctx context.Context, lead *model.Lead, base policy.Signals) []*TransitionResult {
	convs, err := s.openConversations(ctx, lead.LeadID)
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to load open conversations for policy", zap.String("lead_id", lead.LeadID), zap.Error(err))
		return nil
	}
	var out []*TransitionResult
	for _, conv := range convs {
		if res := s.evaluatePolicy(ctx, conv, lead, base); res != nil {
			out = append(out, res)
		}
	}
	return out
}

func (s *HandoffService) reevaluateConversation(ctx context.Context, conversationID string, lead *model.Lead, base policy.Signals) *TransitionResult {
	conv, err := s.conversations.FindByConversationID(ctx, conversationID)
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to reload conversation for policy", zap.String("conversation_id", conversationID), zap.Error(err))
		return nil
	}
	return s.evaluatePolicy(ctx, conv, lead, base)
}

// evaluatePolicy fills the conversation and lead signals into base, asks the policy and
// performs at most one transfer.
func (s *HandoffService) evaluatePolicy(ctx context.Context, conv *model.Conversation, lead *model.Lead, base policy.Signals) *TransitionResult {
	signals := base
	signals.Status = conv.Status
	signals.Score = lead.Score
	signals.Attributes = lead.Attributes
	signals.MessageCount = conv.MessageCount

	decision := s.policy.Evaluate(signals)
	if !decision.Transfer {
		return nil
	}
	return s.autoTransfer(ctx, conv, decision)
}

// autoTransfer executes a policy decision. Losing to a concurrent transition is not an error.
func (s *HandoffService) autoTransfer(ctx context.Context, conv *model.Conversation, decision policy.Decision) *TransitionResult {
	log := logger.FromContext(ctx).With(
		zap.String("conversation_id", conv.ConversationID),
		zap.String("rule", string(decision.Rule)),
	)
	res, err := s.ApplyAction(ctx, TransitionCommand{
		ConversationID: conv.ConversationID,
		Action:         model.ActionTransfer,
		Reason:         decision.Reason,
		Priority:       decision.Priority,
		ActorID:        defaultActor,
		TriggeredBy:    decision.TriggeredBy,
	})
	if err != nil {
		if benign(err) {
			log.Debug("Automatic transfer skipped", zap.Error(err))
		} else {
			log.Error("Automatic transfer failed", zap.Error(err))
		}
		return nil
	}
	log.Info("Conversation transferred by policy", zap.String("priority", string(decision.Priority)))
	return res
}
