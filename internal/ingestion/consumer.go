package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/config"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/jetstream"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/observer"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/tenant"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/utils"
)

// AckAction is what happens to a delivery once the handler returned.
type AckAction int

const (
	ActionAck      AckAction = iota // processed
	ActionNakDelay                  // retryable failure with attempts left
	ActionTerm                      // fatal failure or out of attempts; never redelivered
)

func (a AckAction) String() string {
	switch a {
	case ActionAck:
		return "ack"
	case ActionNakDelay:
		return "nak_retry"
	case ActionTerm:
		return "term"
	default:
		return "unknown"
	}
}

const consumerType = "inbound"

// delivery is the part of *nats.Msg the consumer acknowledges through.
type delivery interface {
	Ack(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
	Metadata() (*nats.MsgMetadata, error)
}

// decideAction maps a handler result to an AckAction. Only errors marked retryable are
// redelivered, with the delay doubling per attempt up to maxDelay.
func decideAction(err error, numDelivered uint64, maxDeliver int, baseDelay, maxDelay time.Duration) (AckAction, time.Duration) {
	if err == nil {
		return ActionAck, 0
	}
	if !apperrors.IsRetryable(err) || (maxDeliver > 0 && numDelivered >= uint64(maxDeliver)) {
		return ActionTerm, 0
	}
	delay := baseDelay
	for i := uint64(1); i < numDelivered && delay < maxDelay; i++ {
		delay *= 2
	}
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return ActionNakDelay, delay
}

// streamSubjects returns "<subject>.*" for the stream and "<subject>.<company>" for this
// tenant's consumer filter.
func streamSubjects(subjects []string, companyID string) (stream, consumer []string) {
	for _, s := range subjects {
		stream = append(stream, s+".*")
		consumer = append(consumer, fmt.Sprintf("%s.%s", s, companyID))
	}
	return stream, consumer
}

// InboundConsumer is the JetStream push consumer for one company's inbound events.
type InboundConsumer struct {
	client    jetstream.ClientInterface
	router    *Router
	cfg       config.ConsumerNatsConfig
	companyID string

	ctx    context.Context
	cancel context.CancelFunc
	sub    *nats.Subscription
}

var _ ConsumerInterface = (*InboundConsumer)(nil)

// NewInboundConsumer creates the consumer. cfg.Consumer and cfg.QueueGroup are used as given.
func NewInboundConsumer(client jetstream.ClientInterface, router *Router, cfg config.ConsumerNatsConfig, companyID string) *InboundConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = tenant.WithCompanyID(ctx, companyID)
	ctx = logger.WithLogger(ctx, logger.Named("ingestion").With(
		zap.String("company_id", companyID),
		zap.String("consumer", cfg.Consumer),
	))
	return &InboundConsumer{
		client:    client,
		router:    router,
		cfg:       cfg,
		companyID: companyID,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Setup ensures the stream and the durable consumer exist.
func (c *InboundConsumer) Setup() error {
	log := logger.FromContext(c.ctx)
	streamSubs, consumerSubs := streamSubjects(c.cfg.SubjectList, c.companyID)

	streamCfg := &nats.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  streamSubs,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Duration(c.cfg.MaxAge*24) * time.Hour,
	}
	if err := c.client.SetupStream(c.ctx, streamCfg); err != nil {
		return fmt.Errorf("setup stream %q: %w", c.cfg.Stream, err)
	}

	consumerCfg := &nats.ConsumerConfig{
		Durable:        c.cfg.Consumer,
		DeliverGroup:   c.cfg.QueueGroup,
		DeliverSubject: nats.NewInbox(),
		FilterSubjects: consumerSubs,
		AckPolicy:      nats.AckExplicitPolicy,
		AckWait:        30 * time.Second,
		MaxDeliver:     c.cfg.MaxDeliver,
		MaxAckPending:  1000,
		ReplayPolicy:   nats.ReplayInstantPolicy,
		DeliverPolicy:  nats.DeliverNewPolicy,
	}
	if err := c.client.SetupConsumer(c.ctx, c.cfg.Stream, consumerCfg); err != nil {
		return fmt.Errorf("setup consumer %q: %w", c.cfg.Consumer, err)
	}

	log.Info("Inbound consumer ready", zap.Strings("filter_subjects", consumerSubs))
	return nil
}

// Start subscribes; deliveries arrive on handleMessage.
func (c *InboundConsumer) Start() error {
	sub, err := c.client.SubscribePush("", c.cfg.Consumer, c.cfg.QueueGroup, c.cfg.Stream, c.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe inbound consumer %q: %w", c.cfg.Consumer, err)
	}
	c.sub = sub
	logger.FromContext(c.ctx).Info("Inbound consumer subscribed")
	return nil
}

// Stop drains the subscription so in-flight deliveries finish and are acknowledged.
func (c *InboundConsumer) Stop() {
	log := logger.FromContext(c.ctx)
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			log.Error("Error draining inbound subscription", zap.Error(err))
		}
	}
	c.cancel()
	log.Info("Inbound consumer stopped")
}

func (c *InboundConsumer) handleMessage(msg *nats.Msg) {
	var msgID string
	if msg.Header != nil {
		msgID = msg.Header.Get(nats.MsgIdHdr)
	}
	c.process(msg.Subject, msgID, msg.Data, msg)
}

// process routes one delivery and settles it. A panic in the handler terminates the
// delivery; the same payload would panic again.
func (c *InboundConsumer) process(subject, msgID string, data []byte, d delivery) {
	start := utils.Now()
	log := logger.FromContext(c.ctx)
	eventType, _ := model.MapToBaseEventType(subject)

	defer func() {
		observer.ObserveEventProcessingDuration(string(eventType), c.companyID, consumerType, time.Since(start))
		if r := recover(); r != nil {
			log.Error("Recovered from panic in inbound handler",
				zap.Any("panic", r),
				zap.String("subject", subject),
				zap.Stack("stack"),
			)
			observer.IncEventsFailed(string(eventType), c.companyID, consumerType)
			observer.IncEventProcessingAction(string(eventType), c.companyID, consumerType, "term_panic", "panic")
			if err := d.Term(); err != nil {
				log.Error("Failed to TERM message after panic", zap.Error(err))
			}
		}
	}()

	meta, err := d.Metadata()
	if err != nil {
		log.Error("Failed to read delivery metadata", zap.String("subject", subject), zap.Error(err))
		observer.IncEventProcessingAction(string(eventType), c.companyID, consumerType, "term_metadata", "metadata")
		if termErr := d.Term(); termErr != nil {
			log.Error("Failed to TERM message", zap.Error(termErr))
		}
		return
	}
	if msgID == "" {
		msgID = fmt.Sprintf("msg-%d", meta.Sequence.Stream)
	}

	metadata := &model.MessageMetadata{
		StreamSequence:   meta.Sequence.Stream,
		ConsumerSequence: meta.Sequence.Consumer,
		NumDelivered:     meta.NumDelivered,
		NumPending:       meta.NumPending,
		Timestamp:        meta.Timestamp,
		Stream:           meta.Stream,
		Consumer:         meta.Consumer,
		Domain:           meta.Domain,
		MessageID:        msgID,
		MessageSubject:   subject,
		CompanyID:        c.companyID,
	}
	observer.IncEventsReceived(string(eventType), c.companyID, consumerType)

	msgCtx := logger.WithLogger(c.ctx, log.With(
		zap.String("nats_message_id", msgID),
		zap.Uint64("stream_sequence", meta.Sequence.Stream),
		zap.Uint64("num_delivered", meta.NumDelivered),
	))
	msgCtx = tenant.WithRequestID(msgCtx, msgID)
	handleErr := c.router.Route(msgCtx, metadata, data)

	action, delay := decideAction(handleErr, meta.NumDelivered, c.cfg.MaxDeliver, c.cfg.NakBaseDelay, c.cfg.NakMaxDelay)
	errorType := "none"
	if handleErr != nil {
		errorType = observer.SanitizeErrorType(handleErr.Error())
	}
	observer.IncEventProcessingAction(string(eventType), c.companyID, consumerType, action.String(), errorType)

	log = logger.FromContext(msgCtx)
	switch action {
	case ActionAck:
		observer.IncEventsProcessed(string(eventType), c.companyID, consumerType)
		log.Debug("Processed inbound event", zap.Duration("duration", time.Since(start)))
		if err := d.Ack(); err != nil {
			log.Error("Failed to ACK message", zap.Error(err))
		}
	case ActionNakDelay:
		observer.IncEventsFailed(string(eventType), c.companyID, consumerType)
		log.Warn("Retrying inbound event",
			zap.Error(handleErr),
			zap.Int("max_deliver", c.cfg.MaxDeliver),
			zap.Duration("nak_delay", delay),
		)
		if err := d.NakWithDelay(delay); err != nil {
			log.Error("Failed to NAK message", zap.Error(err))
		}
	case ActionTerm:
		observer.IncEventsFailed(string(eventType), c.companyID, consumerType)
		log.Error("Dropping inbound event",
			zap.Error(handleErr),
			zap.Bool("retryable", apperrors.IsRetryable(handleErr)),
			zap.Int("max_deliver", c.cfg.MaxDeliver),
		)
		if err := d.Term(); err != nil {
			log.Error("Failed to TERM message", zap.Error(err))
		}
	}
}
