package handler

import (
	"context"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/ingestion"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/usecase"
)

// InboundService is the part of the handoff service the NATS handler drives.
type InboundService interface {
	HandleInbound(ctx context.Context, payload model.InboundMessagePayload) (*usecase.InboundResult, error)
	HandleEnrichment(ctx context.Context, payload model.EnrichmentPayload) (*usecase.ScoreUpdate, error)
}

var (
	_ InboundService                  = (*usecase.HandoffService)(nil)
	_ ingestion.EventHandlerInterface = (*InboundHandler)(nil)
)
