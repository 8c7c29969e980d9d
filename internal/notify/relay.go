package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/observer"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
	"go.uber.org/zap"
)

const (
	outcomeRelayed    = "relayed"
	outcomeRelayError = "relay_error"
	outcomeRemote     = "remote"
)

// Conn is the core NATS surface the relay needs. *nats.Conn satisfies it.
type Conn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Relay publishes local events to the hub and to a core NATS subject shared by every
// instance of the same company, and feeds events from other instances into the local hub.
type Relay struct {
	hub     *Hub
	conn    Conn
	subject string
	origin  string
	sub     *nats.Subscription
	log     *zap.Logger
}

var _ Publisher = (*Relay)(nil)

// NewRelay builds a relay on "<baseSubject>.<companyID>".
func NewRelay(hub *Hub, conn Conn, baseSubject, companyID string) *Relay {
	return &Relay{
		hub:     hub,
		conn:    conn,
		subject: fmt.Sprintf("%s.%s", baseSubject, companyID),
		origin:  uuid.NewString(),
		log:     logger.Named("notify.relay"),
	}
}

// Subject returns the NATS subject the relay uses.
func (r *Relay) Subject() string { return r.subject }

// Origin returns the id stamped on events this instance relays.
func (r *Relay) Origin() string { return r.origin }

// Start subscribes to remote events.
func (r *Relay) Start() error {
	sub, err := r.conn.Subscribe(r.subject, r.handleRemote)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.subject, err)
	}
	r.sub = sub
	r.log.Info("Notification relay started", zap.String("subject", r.subject), zap.String("origin", r.origin))
	return nil
}

// Stop removes the subscription.
func (r *Relay) Stop() {
	if r.sub == nil {
		return
	}
	if err := r.sub.Unsubscribe(); err != nil {
		r.log.Warn("Failed to unsubscribe notification relay", zap.Error(err))
	}
	r.sub = nil
}

// Publish delivers locally and forwards to the other instances. Forwarding is at-most-once.
func (r *Relay) Publish(ctx context.Context, evt Event) {
	r.hub.Publish(ctx, evt)

	evt.Origin = r.origin
	data, err := json.Marshal(evt)
	if err != nil {
		observer.IncNotification(string(evt.Type), outcomeRelayError)
		return
	}
	if err := r.conn.Publish(r.subject, data); err != nil {
		observer.IncNotification(string(evt.Type), outcomeRelayError)
		logger.FromContextOr(ctx, r.log).Warn("Failed to relay notification",
			zap.String("type", string(evt.Type)),
			zap.Error(err),
		)
		return
	}
	observer.IncNotification(string(evt.Type), outcomeRelayed)
}

func (r *Relay) handleRemote(msg *nats.Msg) {
	var evt Event
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		r.log.Warn("Dropping undecodable relayed notification", zap.Error(err))
		return
	}
	if evt.Origin == r.origin {
		return
	}
	observer.IncNotification(string(evt.Type), outcomeRemote)
	r.hub.Publish(context.Background(), evt)
}
