package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu        sync.Mutex
	published map[string][][]byte
	handlers  map[string]nats.MsgHandler
	failWith  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{published: map[string][][]byte{}, handlers: map[string]nats.MsgHandler{}}
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.published[subj] = append(f.published[subj], data)
	return nil
}

func (f *fakeConn) Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[subj] = cb
	return nil, nil
}

func (f *fakeConn) deliver(subj string, data []byte) {
	f.mu.Lock()
	cb := f.handlers[subj]
	f.mu.Unlock()
	cb(&nats.Msg{Subject: subj, Data: data})
}

func TestRelay_PublishesLocallyAndRemotely(t *testing.T) {
	h, _ := startHub(t, 16, 16)
	conn := newFakeConn()
	r := NewRelay(h, conn, "handoff.notify", "acme")
	require.NoError(t, r.Start())
	assert.Equal(t, "handoff.notify.acme", r.Subject())

	c := connect(t, h, "agent-a")
	r.Publish(context.Background(), Global(EventNewTransfer, "conv-1", nil))

	frame := recvFrame(t, c)
	assert.Equal(t, string(EventNewTransfer), frame["type"])
	_, hasOrigin := frame["origin"]
	assert.False(t, hasOrigin, "local delivery carries no origin")

	require.Len(t, conn.published["handoff.notify.acme"], 1)
	var relayed Event
	require.NoError(t, json.Unmarshal(conn.published["handoff.notify.acme"][0], &relayed))
	assert.Equal(t, r.Origin(), relayed.Origin)
	assert.Equal(t, EventNewTransfer, relayed.Type)
}

func TestRelay_RemoteEventsReachLocalHub(t *testing.T) {
	h, _ := startHub(t, 16, 16)
	conn := newFakeConn()
	r := NewRelay(h, conn, "handoff.notify", "acme")
	require.NoError(t, r.Start())
	c := connect(t, h, "agent-a")

	remote := Global(EventClaimed, "conv-2", nil)
	remote.Origin = "another-instance"
	data, err := json.Marshal(remote)
	require.NoError(t, err)
	conn.deliver(r.Subject(), data)
	assert.Equal(t, string(EventClaimed), recvFrame(t, c)["type"])

	own := Global(EventClaimed, "conv-3", nil)
	own.Origin = r.Origin()
	data, err = json.Marshal(own)
	require.NoError(t, err)
	conn.deliver(r.Subject(), data)
	expectNoFrame(t, c)

	conn.deliver(r.Subject(), []byte("garbage"))
	expectNoFrame(t, c)
}

func TestRelay_PublishFailureStillDeliversLocally(t *testing.T) {
	h, _ := startHub(t, 16, 16)
	conn := newFakeConn()
	conn.failWith = errors.New("nats: connection closed")
	r := NewRelay(h, conn, "handoff.notify", "acme")
	c := connect(t, h, "agent-a")

	r.Publish(context.Background(), Global(EventQueueUpdated, "", nil))
	assert.Equal(t, string(EventQueueUpdated), recvFrame(t, c)["type"])
	r.Stop()
}
