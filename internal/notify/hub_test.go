package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/observer"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
)

func startHub(t *testing.T, hubBuffer, clientBuffer int) (*Hub, context.CancelFunc) {
	t.Helper()
	logger.Log = zaptest.NewLogger(t)
	h := NewHub(hubBuffer, clientBuffer)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return h, cancel
}

func recvFrame(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case data, ok := <-c.Send():
		require.True(t, ok, "send buffer closed")
		var out map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &out))
		return out
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func expectNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send():
		t.Fatalf("unexpected frame %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func connect(t *testing.T, h *Hub, agentID string) *Client {
	t.Helper()
	c := NewClient(h, nil, agentID)
	require.True(t, h.Register(c))
	assert.Equal(t, FrameConnected, recvFrame(t, c)["type"])
	return c
}

func TestHub_GlobalReachesEveryConsole(t *testing.T) {
	h, _ := startHub(t, 16, 16)
	a := connect(t, h, "agent-a")
	b := connect(t, h, "agent-b")

	h.Publish(context.Background(), Global(EventNewTransfer, "conv-1", map[string]string{"reason": "lead quente"}))

	for _, c := range []*Client{a, b} {
		frame := recvFrame(t, c)
		assert.Equal(t, string(EventNewTransfer), frame["type"])
		assert.Equal(t, GlobalTopic, frame["topic"])
		assert.Equal(t, "conv-1", frame["conversationId"])
	}
	assert.Equal(t, 2, h.ClientCount())
}

func TestHub_ConversationTopicNeedsSubscription(t *testing.T) {
	h, _ := startHub(t, 16, 16)
	c := connect(t, h, "agent-a")

	h.Publish(context.Background(), OnConversation(EventMessageCreated, "conv-1", nil))
	expectNoFrame(t, c)

	c.HandleFrame([]byte(`{"type":"subscribe","conversationId":"conv-1"}`))
	ack := recvFrame(t, c)
	assert.Equal(t, FrameSubscribed, ack["type"])
	assert.Equal(t, "conversation:conv-1", ack["topic"])

	h.Publish(context.Background(), OnConversation(EventMessageCreated, "conv-1", nil))
	assert.Equal(t, string(EventMessageCreated), recvFrame(t, c)["type"])

	c.HandleFrame([]byte(`{"type":"unsubscribe","conversationId":"conv-1"}`))
	assert.Equal(t, FrameUnsubscribed, recvFrame(t, c)["type"])

	h.Publish(context.Background(), OnConversation(EventMessageCreated, "conv-1", nil))
	expectNoFrame(t, c)
}

func TestHub_TargetedEventOnlyReachesAgent(t *testing.T) {
	h, _ := startHub(t, 16, 16)
	a := connect(t, h, "agent-a")
	b := connect(t, h, "agent-b")

	h.Publish(context.Background(), ToAgent(EventDirectAssignment, "agent-b", "conv-9", nil))

	frame := recvFrame(t, b)
	assert.Equal(t, string(EventDirectAssignment), frame["type"])
	assert.Equal(t, "agent-b", frame["targetAgentId"])
	expectNoFrame(t, a)
}

func TestClient_HandleFrameErrors(t *testing.T) {
	h, _ := startHub(t, 16, 16)
	c := connect(t, h, "agent-a")

	c.HandleFrame([]byte(`not json`))
	assert.Equal(t, FrameError, recvFrame(t, c)["type"])

	c.HandleFrame([]byte(`{"type":"subscribe"}`))
	assert.Equal(t, "conversationId is required", recvFrame(t, c)["message"])

	c.HandleFrame([]byte(`{"type":"dance"}`))
	assert.Equal(t, FrameError, recvFrame(t, c)["type"])

	c.HandleFrame([]byte(`{"type":"ping"}`))
	assert.Equal(t, FramePong, recvFrame(t, c)["type"])
}

func TestHub_PublishDropsWhenBufferFull(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	h := NewHub(1, 1) // not running, nothing drains the buffer

	dropped := observer.NotificationsTotal.WithLabelValues(string(EventQueueUpdated), outcomeDroppedHub)
	before := testutil.ToFloat64(dropped)

	done := make(chan struct{})
	go func() {
		h.Publish(context.Background(), Global(EventQueueUpdated, "", nil))
		h.Publish(context.Background(), Global(EventQueueUpdated, "", nil))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full buffer")
	}
	assert.Equal(t, before+1, testutil.ToFloat64(dropped))
}

func TestHub_SlowConsoleDropsInsteadOfBlocking(t *testing.T) {
	h, _ := startHub(t, 16, 1)
	slow := NewClient(h, nil, "agent-slow")
	require.True(t, h.Register(slow)) // the connected frame fills the buffer
	fast := connect(t, h, "agent-fast")

	h.Publish(context.Background(), Global(EventClaimed, "conv-1", nil))
	assert.Equal(t, string(EventClaimed), recvFrame(t, fast)["type"])

	assert.Equal(t, FrameConnected, recvFrame(t, slow)["type"])
	expectNoFrame(t, slow)
}

func TestHub_CancelClosesClients(t *testing.T) {
	h, cancel := startHub(t, 16, 16)
	c := connect(t, h, "agent-a")

	cancel()

	select {
	case _, ok := <-c.Send():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("client not closed on shutdown")
	}
	assert.False(t, h.Register(NewClient(h, nil, "late")))
}

func TestHub_ServeWS(t *testing.T) {
	h, _ := startHub(t, 16, 16)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.ServeWS(w, r, r.URL.Query().Get("agentId"))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?agentId=agent-ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]interface{} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var out map[string]interface{}
		require.NoError(t, conn.ReadJSON(&out))
		return out
	}

	assert.Equal(t, FrameConnected, read()["type"])

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameSubscribe, ConversationID: "conv-ws"}))
	assert.Equal(t, FrameSubscribed, read()["type"])

	h.Publish(context.Background(), OnConversation(EventStatusChanged, "conv-ws", map[string]string{"status": "transferred"}))
	frame := read()
	assert.Equal(t, string(EventStatusChanged), frame["type"])
	assert.Equal(t, "conv-ws", frame["conversationId"])
}
