package jetstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/utils"
)

// Client wraps the NATS connection and its JetStream context.
type Client struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	log *zap.Logger
}

var _ ClientInterface = (*Client)(nil)

// NewClient connects to url and keeps reconnecting forever. name shows up in the
// server's connection list.
func NewClient(url, name string) (*Client, error) {
	log := logger.Named("jetstream")
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, s *nats.Subscription, err error) {
			fields := []zap.Field{zap.Error(err)}
			if s != nil {
				fields = append(fields, zap.String("subject", s.Subject))
			}
			log.Error("NATS async error", fields...)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", apperrors.ErrNATS, url, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: jetstream context: %v", apperrors.ErrNATS, err)
	}

	return &Client{nc: nc, js: js, log: log}, nil
}

// SetupStream creates the stream, or updates it when the managed fields drifted.
func (c *Client) SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error {
	log := logger.FromContextOr(ctx, c.log).With(zap.String("stream", streamConfig.Name))

	info, err := c.js.StreamInfo(streamConfig.Name, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %q: %w", streamConfig.Name, err)
	}

	switch {
	case info == nil:
		if _, err := c.js.AddStream(streamConfig, nats.Context(ctx)); err != nil {
			return fmt.Errorf("add stream %q: %w", streamConfig.Name, err)
		}
		log.Info("Created stream", zap.Strings("subjects", streamConfig.Subjects))
	case !utils.StreamConfigEqual(info.Config, *streamConfig):
		if _, err := c.js.UpdateStream(streamConfig, nats.Context(ctx)); err != nil {
			return fmt.Errorf("update stream %q: %w", streamConfig.Name, err)
		}
		log.Info("Updated stream", zap.Strings("subjects", streamConfig.Subjects))
	default:
		log.Debug("Stream up to date")
	}
	return nil
}

// SetupConsumer creates the durable consumer. Consumer configs cannot be edited in
// place, so a drifted consumer is deleted and added again.
func (c *Client) SetupConsumer(ctx context.Context, streamName string, consumerConfig *nats.ConsumerConfig) error {
	log := logger.FromContextOr(ctx, c.log).With(
		zap.String("stream", streamName),
		zap.String("consumer", consumerConfig.Durable),
	)

	info, err := c.js.ConsumerInfo(streamName, consumerConfig.Durable, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrConsumerNotFound) {
		return fmt.Errorf("consumer info %q on %q: %w", consumerConfig.Durable, streamName, err)
	}

	if info != nil {
		if utils.ConsumerConfigEqual(info.Config, *consumerConfig) {
			log.Debug("Consumer up to date")
			return nil
		}
		log.Warn("Consumer config drifted, recreating")
		if err := c.js.DeleteConsumer(streamName, consumerConfig.Durable, nats.Context(ctx)); err != nil {
			return fmt.Errorf("delete consumer %q on %q: %w", consumerConfig.Durable, streamName, err)
		}
	}

	if _, err := c.js.AddConsumer(streamName, consumerConfig, nats.Context(ctx)); err != nil {
		return fmt.Errorf("add consumer %q on %q: %w", consumerConfig.Durable, streamName, err)
	}
	log.Info("Consumer ready",
		zap.String("deliver_group", consumerConfig.DeliverGroup),
		zap.Strings("filter_subjects", consumerConfig.FilterSubjects),
	)
	return nil
}

// SubscribePush binds a queue subscription to an existing durable push consumer.
func (c *Client) SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.js.QueueSubscribe(
		subject,
		group,
		handler,
		nats.Durable(consumer),
		nats.ManualAck(),
		nats.BindStream(stream),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s/%s: %v", apperrors.ErrNATS, stream, consumer, err)
	}
	return sub, nil
}

// Publish writes data to a stream subject. A non-empty msgID enables server-side dedup.
func (c *Client) Publish(subject string, data []byte, msgID string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	opts := []nats.PubOpt{}
	if msgID != "" {
		opts = append(opts, nats.MsgId(msgID))
	}
	if _, err := c.js.PublishMsg(msg, opts...); err != nil {
		return fmt.Errorf("%w: publish %s: %v", apperrors.ErrNATS, subject, err)
	}
	return nil
}

// Ping reports an error unless the connection is up and JetStream answers.
func (c *Client) Ping(ctx context.Context) error {
	if status := c.nc.Status(); status != nats.CONNECTED {
		return fmt.Errorf("%w: connection %s", apperrors.ErrNATS, status)
	}
	if _, err := c.js.AccountInfo(nats.Context(ctx)); err != nil {
		return fmt.Errorf("%w: account info: %v", apperrors.ErrNATS, err)
	}
	return nil
}

// NatsConn returns the underlying connection, used by the notification relay.
func (c *Client) NatsConn() *nats.Conn {
	return c.nc
}

// Close drains subscriptions, then closes the connection.
func (c *Client) Close() {
	if c.nc == nil || c.nc.IsClosed() {
		return
	}
	if err := c.nc.Drain(); err != nil {
		c.log.Warn("NATS drain failed, closing", zap.Error(err))
		c.nc.Close()
	}
}
