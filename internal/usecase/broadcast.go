package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/channel"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/observer"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/tenant"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/validator"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/utils"
)

// Broadcast sends one text to many phones through the requested channel, one recipient
// at a time with a fixed delay between attempts. Every recipient gets an outcome; a
// failed recipient never stops the run. When ctx ends the remaining recipients are
// reported as failed with the context error.
func (s *HandoffService) Broadcast(ctx context.Context, req model.BroadcastRequest) (*model.BroadcastResult, error) {
	if err := validator.Validate(&req); err != nil {
		return nil, err
	}
	companyID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}
	if len(req.Phones) > s.opts.BroadcastMaxRecipients {
		return nil, fmt.Errorf("%w: at most %d phones per broadcast, got %d",
			apperrors.ErrValidation, s.opts.BroadcastMaxRecipients, len(req.Phones))
	}
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, fmt.Errorf("%w: message is required", apperrors.ErrValidation)
	}
	if s.channels == nil {
		return nil, fmt.Errorf("%w: no outbound channels configured", apperrors.ErrBadRequest)
	}
	out, err := s.channels.Get(req.Source)
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx).With(
		zap.String("source", string(req.Source)),
		zap.Int("recipients", len(req.Phones)),
	)
	log.Info("Broadcast started")

	result := &model.BroadcastResult{Details: make([]model.BroadcastDetail, 0, len(req.Phones))}
	for i, raw := range req.Phones {
		if i > 0 {
			if err := s.wait(ctx, s.opts.BroadcastDelay); err != nil {
				abandon(result, req.Phones[i:], err)
				log.Warn("Broadcast interrupted", zap.Int("abandoned", len(req.Phones)-i), zap.Error(err))
				break
			}
		}

		detail := s.sendOne(ctx, out, req, raw, text)
		observer.IncBroadcastSend(companyID, string(req.Source), detail.Status)
		if detail.Status == model.BroadcastSent {
			result.Success++
		} else {
			result.Failed++
		}
		result.Details = append(result.Details, detail)
	}

	log.Info("Broadcast finished", zap.Int("success", result.Success), zap.Int("failed", result.Failed))
	return result, nil
}

func abandon(result *model.BroadcastResult, phones []string, cause error) {
	for _, raw := range phones {
		result.Failed++
		result.Details = append(result.Details, model.BroadcastDetail{
			Phone:           raw,
			NormalizedPhone: utils.NormalizePhone(raw),
			Status:          model.BroadcastFailed,
			Error:           cause.Error(),
		})
	}
}

func (s *HandoffService) sendOne(ctx context.Context, out channel.OutboundChannel, req model.BroadcastRequest, raw, text string) model.BroadcastDetail {
	detail := model.BroadcastDetail{Phone: raw, Status: model.BroadcastFailed}
	if strings.TrimSpace(raw) == "" {
		detail.Error = "phone is empty"
		return detail
	}
	phone := utils.NormalizePhone(raw)
	detail.NormalizedPhone = phone
	if !utils.ValidPhone(phone) {
		detail.Error = fmt.Sprintf("phone %q is not a valid number", raw)
		return detail
	}
	if err := ctx.Err(); err != nil {
		detail.Error = err.Error()
		return detail
	}

	sent, err := out.Send(ctx, channel.Recipient{AccountRef: req.AccountRef(), Phone: phone}, text)
	if err != nil {
		detail.Error = err.Error()
		return detail
	}
	detail.Status = model.BroadcastSent
	detail.ProviderMessageID = sent.ProviderMessageID

	if err := s.recordOutbound(ctx, req, phone, text, sent); err != nil {
		logger.FromContext(ctx).Warn("Broadcast sent but not recorded",
			zap.String("phone", phone),
			zap.String("provider_message_id", sent.ProviderMessageID),
			zap.Error(err),
		)
	}
	return detail
}

// recordOutbound stores the sent text as an agent message on the recipient's open conversation.
func (s *HandoffService) recordOutbound(ctx context.Context, req model.BroadcastRequest, phone, text string, sent channel.SendResult) error {
	companyID := companyOf(ctx)
	lead, err := s.leads.Upsert(ctx, model.Lead{
		LeadID:    uuid.NewString(),
		CompanyID: companyID,
		Phone:     phone,
	})
	if err != nil {
		return fmt.Errorf("upsert lead: %w", err)
	}
	conv, err := s.conversations.Open(ctx, model.Conversation{
		ConversationID: uuid.NewString(),
		CompanyID:      companyID,
		LeadID:         lead.LeadID,
		Channel:        req.Source,
		ChannelRef:     req.AccountRef(),
		Status:         model.StatusActive,
	})
	if err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}

	messageID := sent.ProviderMessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	if _, _, err := s.messages.Append(ctx, model.Message{
		MessageID:      messageID,
		ConversationID: conv.ConversationID,
		CompanyID:      companyID,
		Sender:         model.SenderAgent,
		Type:           model.MessageText,
		Text:           text,
		SentAt:         utils.Now(),
	}); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}
