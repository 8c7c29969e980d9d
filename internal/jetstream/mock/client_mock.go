package mock

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/jetstream"
)

// ClientMock is a testify mock of jetstream.ClientInterface
type ClientMock struct {
	mock.Mock
}

var _ jetstream.ClientInterface = (*ClientMock)(nil)

func (m *ClientMock) SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error {
	args := m.Called(ctx, streamConfig)
	return args.Error(0)
}

func (m *ClientMock) SetupConsumer(ctx context.Context, streamName string, consumerConfig *nats.ConsumerConfig) error {
	args := m.Called(ctx, streamName, consumerConfig)
	return args.Error(0)
}

// SubscribePush returns whatever subscription the expectation holds; nil is allowed
// since *nats.Subscription cannot be built outside the nats package.
func (m *ClientMock) SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error) {
	args := m.Called(subject, consumer, group, stream, handler)
	sub, _ := args.Get(0).(*nats.Subscription)
	return sub, args.Error(1)
}

func (m *ClientMock) Publish(subject string, data []byte, msgID string) error {
	args := m.Called(subject, data, msgID)
	return args.Error(0)
}

func (m *ClientMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *ClientMock) NatsConn() *nats.Conn {
	args := m.Called()
	conn, _ := args.Get(0).(*nats.Conn)
	return conn
}

func (m *ClientMock) Close() {
	m.Called()
}
