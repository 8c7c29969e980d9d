package mock

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/notify"
)

// PublisherMock mocks notify.Publisher and keeps every published event for assertions.
type PublisherMock struct {
	mock.Mock

	mu     sync.Mutex
	events []notify.Event
}

// NewPublisherMock returns a mock that accepts any event.
func NewPublisherMock() *PublisherMock {
	m := &PublisherMock{}
	m.On("Publish", mock.Anything, mock.Anything).Return()
	return m
}

func (m *PublisherMock) Publish(ctx context.Context, evt notify.Event) {
	m.mu.Lock()
	m.events = append(m.events, evt)
	m.mu.Unlock()
	m.Called(ctx, evt)
}

// Events returns a copy of the published events in order.
func (m *PublisherMock) Events() []notify.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]notify.Event, len(m.events))
	copy(out, m.events)
	return out
}

// OfType returns the published events of type t.
func (m *PublisherMock) OfType(t notify.EventType) []notify.Event {
	var out []notify.Event
	for _, evt := range m.Events() {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}
