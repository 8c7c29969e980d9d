// Package channel holds the outbound WhatsApp provider adapters used by broadcasts.
package channel

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
)

// Recipient is where a message goes: the provider account that sends it and the canonical phone.
type Recipient struct {
	AccountRef string
	Phone      string
}

// SendResult is what a provider reports for an accepted message.
type SendResult struct {
	ProviderMessageID string
}

// OutboundChannel sends text messages through one provider.
type OutboundChannel interface {
	Kind() model.Channel
	Send(ctx context.Context, to Recipient, text string) (SendResult, error)
}

// SendError is returned by adapters when the provider rejects a message or cannot be reached.
// StatusCode is 0 for transport failures.
type SendError struct {
	Channel    model.Channel
	StatusCode int
	Message    string
}

func (e *SendError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Channel, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Channel, e.StatusCode, e.Message)
}

// Unwrap reports provider throttling as rate limited on top of the upstream failure.
func (e *SendError) Unwrap() []error {
	if e.StatusCode == http.StatusTooManyRequests {
		return []error{apperrors.ErrUpstream, apperrors.ErrRateLimited}
	}
	return []error{apperrors.ErrUpstream}
}

// Registry resolves adapters by channel kind.
type Registry struct {
	channels map[model.Channel]OutboundChannel
}

// NewRegistry indexes the given adapters by Kind. A later adapter replaces an earlier one of the same kind.
func NewRegistry(channels ...OutboundChannel) *Registry {
	r := &Registry{channels: make(map[model.Channel]OutboundChannel, len(channels))}
	for _, ch := range channels {
		r.channels[ch.Kind()] = ch
	}
	return r
}

// Get returns the adapter for kind.
func (r *Registry) Get(kind model.Channel) (OutboundChannel, error) {
	ch, ok := r.channels[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no outbound adapter for channel %q", apperrors.ErrBadRequest, kind)
	}
	return ch, nil
}

// Kinds lists the registered channel kinds in a stable order.
func (r *Registry) Kinds() []model.Channel {
	out := make([]model.Channel, 0, len(r.channels))
	for k := range r.channels {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
