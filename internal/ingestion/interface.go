package ingestion

import (
	"context"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
)

// RouterInterface defines the interface for an event router
type RouterInterface interface {
	Register(eventType model.EventType, handler EventHandler)
	RegisterDefault(handler EventHandler)
	Route(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error
}

// ConsumerInterface defines the lifecycle of a NATS consumer
type ConsumerInterface interface {
	// Setup creates the stream and consumer
	Setup() error
	// Start subscribes
	Start() error
	// Stop drains and releases the subscription
	Stop()
}

var _ RouterInterface = (*Router)(nil)
