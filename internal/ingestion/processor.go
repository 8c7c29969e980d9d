package ingestion

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/config"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/jetstream"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
)

// EventHandlerInterface is implemented by the inbound event handler.
type EventHandlerInterface interface {
	HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error
}

// Processor wires the router, the inbound handler and the company's consumer together.
type Processor struct {
	router   *Router
	handler  EventHandlerInterface
	consumer ConsumerInterface
	log      *zap.Logger
}

// NewProcessor builds the processor. The consumer and queue group names get the
// company id appended so every tenant has its own durable consumer.
func NewProcessor(client jetstream.ClientInterface, handler EventHandlerInterface, cfg config.ConsumerNatsConfig, companyID string) *Processor {
	router := NewRouter()
	cfg.Consumer += "_" + companyID
	cfg.QueueGroup += "_" + companyID
	return &Processor{
		router:   router,
		handler:  handler,
		consumer: NewInboundConsumer(client, router, cfg, companyID),
		log:      logger.Named("processor").With(zap.String("company_id", companyID)),
	}
}

// Router exposes the processor's router.
func (p *Processor) Router() RouterInterface {
	return p.router
}

// Setup registers the handlers and prepares the stream and consumer.
func (p *Processor) Setup() error {
	p.router.Register(model.V1MessagesUpsert, p.handler.HandleEvent)
	p.router.Register(model.V1LeadsEnrichment, p.handler.HandleEvent)

	if err := p.consumer.Setup(); err != nil {
		return fmt.Errorf("failed to setup inbound consumer: %w", err)
	}
	p.log.Info("Processor setup complete")
	return nil
}

// Start begins consuming.
func (p *Processor) Start() error {
	if err := p.consumer.Start(); err != nil {
		return fmt.Errorf("failed to start inbound consumer: %w", err)
	}
	p.log.Info("Processor started")
	return nil
}

// Stop drains the consumer.
func (p *Processor) Stop() {
	p.consumer.Stop()
	p.log.Info("Processor stopped")
}
