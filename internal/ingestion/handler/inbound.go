package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
)

// InboundHandler decodes inbound NATS events and hands them to the handoff service.
type InboundHandler struct {
	service InboundService
}

// NewInboundHandler creates the handler.
func NewInboundHandler(service InboundService) *InboundHandler {
	return &InboundHandler{service: service}
}

// HandleEvent processes one event. Returned errors are marked fatal or retryable so
// the consumer knows whether a redelivery can help.
func (h *InboundHandler) HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
	switch eventType {
	case model.V1MessagesUpsert:
		return h.handleMessageUpsert(ctx, metadata, rawEvent)
	case model.V1LeadsEnrichment:
		return h.handleEnrichment(ctx, metadata, rawEvent)
	default:
		return apperrors.NewFatal(
			fmt.Errorf("%w: unsupported event type %q", apperrors.ErrBadRequest, eventType),
			"inbound handler",
		)
	}
}

func (h *InboundHandler) handleMessageUpsert(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx)

	var payload model.InboundMessagePayload
	if err := json.Unmarshal(rawEvent, &payload); err != nil {
		log.Error("Failed to unmarshal message upsert payload", zap.Error(err))
		return apperrors.NewFatal(err, "failed to unmarshal message upsert payload")
	}
	if payload.CompanyID == "" {
		payload.CompanyID = metadata.CompanyID
	}

	res, err := h.service.HandleInbound(ctx, payload)
	if err != nil {
		return classify(err, "handle inbound message %s", payload.MessageID)
	}
	if res.Duplicate {
		log.Info("Duplicate inbound message ignored", zap.String("message_id", payload.MessageID))
		return nil
	}
	fields := []zap.Field{
		zap.String("message_id", payload.MessageID),
		zap.String("conversation_id", res.Conversation.ConversationID),
		zap.Int("score", res.Lead.Score),
		zap.Bool("rescore_queued", res.RescoreQueued),
	}
	if res.Transfer != nil {
		fields = append(fields, zap.String("priority", string(res.Conversation.Priority)))
	}
	log.Info("Inbound message processed", fields...)
	return nil
}

func (h *InboundHandler) handleEnrichment(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx)

	var payload model.EnrichmentPayload
	if err := json.Unmarshal(rawEvent, &payload); err != nil {
		log.Error("Failed to unmarshal enrichment payload", zap.Error(err))
		return apperrors.NewFatal(err, "failed to unmarshal enrichment payload")
	}
	if payload.CompanyID == "" {
		payload.CompanyID = metadata.CompanyID
	}

	update, err := h.service.HandleEnrichment(ctx, payload)
	if err != nil {
		return classify(err, "handle enrichment for lead %q phone %q", payload.LeadID, payload.Phone)
	}
	log.Info("Lead enrichment applied",
		zap.String("lead_id", update.Lead.LeadID),
		zap.Int("score", update.Lead.Score),
		zap.Bool("score_changed", update.ScoreLog != nil),
	)
	return nil
}

// classify marks err fatal when the payload itself is the problem and retryable otherwise.
func classify(err error, message string, args ...interface{}) error {
	if apperrors.IsFatal(err) || apperrors.IsRetryable(err) {
		return err
	}
	switch {
	case apperrors.IsValidationError(err),
		apperrors.IsBadRequestError(err),
		apperrors.IsUnauthorizedError(err),
		apperrors.IsNotFoundError(err),
		apperrors.IsInvalidTransitionError(err),
		apperrors.IsDuplicateError(err):
		return apperrors.NewFatal(err, message, args...)
	default:
		return apperrors.NewRetryable(err, message, args...)
	}
}
