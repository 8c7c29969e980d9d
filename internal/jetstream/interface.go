package jetstream

import (
	"context"

	"github.com/nats-io/nats.go"
)

// ClientInterface is the JetStream surface the consumers and the load generator use.
type ClientInterface interface {
	// SetupStream ensures the stream exists with the given configuration
	SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error

	// SetupConsumer ensures the durable consumer exists on streamName
	SetupConsumer(ctx context.Context, streamName string, consumerConfig *nats.ConsumerConfig) error

	// SubscribePush creates a push-based queue subscription bound to stream
	SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error)

	// Publish publishes data to subject; msgID feeds JetStream dedup when set
	Publish(subject string, data []byte, msgID string) error

	// Ping checks the connection and the JetStream account
	Ping(ctx context.Context) error

	// NatsConn returns the underlying *nats.Conn
	NatsConn() *nats.Conn

	// Close drains and closes the NATS connection
	Close()
}
