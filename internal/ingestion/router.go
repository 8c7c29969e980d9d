package ingestion

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/tenant"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/utils"
)

// EventHandler processes one decoded delivery.
type EventHandler func(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error

// Router dispatches deliveries by base event type.
type Router struct {
	handlers       map[model.EventType]EventHandler
	defaultHandler EventHandler
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[model.EventType]EventHandler)}
}

// Register binds handler to eventType, replacing any earlier binding.
func (r *Router) Register(eventType model.EventType, handler EventHandler) {
	r.handlers[eventType] = handler
}

// RegisterDefault sets the handler used for event types nothing else claims.
func (r *Router) RegisterDefault(handler EventHandler) {
	r.defaultHandler = handler
}

// Route puts tenant and logger on ctx and calls the handler for the subject's event type.
// An event nobody handles is a fatal error: redelivering it cannot help.
func (r *Router) Route(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx).With(
		zap.String("subject", metadata.MessageSubject),
		zap.String("event_id", metadata.MessageID),
		zap.String("company_id", metadata.CompanyID),
	)
	ctx = logger.WithLogger(ctx, log)
	if metadata.CompanyID != "" {
		ctx = tenant.WithCompanyID(ctx, metadata.CompanyID)
	}

	eventType, found := model.MapToBaseEventType(metadata.MessageSubject)
	log.Debug("Event received",
		zap.String("payload_size", utils.ByteCountSI(len(rawEvent))),
		zap.String("event_type", string(eventType)),
	)

	handler, ok := r.handlers[eventType]
	if found && ok {
		return handler(ctx, eventType, metadata, rawEvent)
	}
	if r.defaultHandler != nil {
		log.Warn("No handler for event type, using default")
		return r.defaultHandler(ctx, eventType, metadata, rawEvent)
	}
	log.Error("No handler registered for subject")
	return apperrors.NewFatal(
		fmt.Errorf("%w: no handler for subject %q", apperrors.ErrBadRequest, metadata.MessageSubject),
		"unroutable event",
	)
}
