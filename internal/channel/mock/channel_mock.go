package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/channel"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
)

// OutboundChannelMock mocks channel.OutboundChannel
type OutboundChannelMock struct {
	mock.Mock
	KindValue model.Channel
}

func (m *OutboundChannelMock) Kind() model.Channel {
	return m.KindValue
}

func (m *OutboundChannelMock) Send(ctx context.Context, to channel.Recipient, text string) (channel.SendResult, error) {
	args := m.Called(ctx, to, text)
	return args.Get(0).(channel.SendResult), args.Error(1)
}
