package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/usecase"
)

// InboundServiceMock mocks handler.InboundService
type InboundServiceMock struct {
	mock.Mock
}

func (m *InboundServiceMock) HandleInbound(ctx context.Context, payload model.InboundMessagePayload) (*usecase.InboundResult, error) {
	args := m.Called(ctx, payload)
	res, _ := args.Get(0).(*usecase.InboundResult)
	return res, args.Error(1)
}

func (m *InboundServiceMock) HandleEnrichment(ctx context.Context, payload model.EnrichmentPayload) (*usecase.ScoreUpdate, error) {
	args := m.Called(ctx, payload)
	res, _ := args.Get(0).(*usecase.ScoreUpdate)
	return res, args.Error(1)
}
