package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomies/roomies-hub/internal/domain/shared"
)

func mockClient(hub *Hub, householdID string) *Client {
	return &Client{hub: hub, householdID: householdID, send: make(chan []byte, sendBufferSize)}
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
		return Message{}
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(nil, nil)
	c1 := mockClient(hub, "h1")
	c2 := mockClient(hub, "h2")

	hub.Register(c1)
	hub.Register(c2)
	hub.Register(c2)
	assert.Equal(t, 2, hub.ClientCount())

	hub.Unregister(c1)
	hub.Unregister(c1)
	assert.Equal(t, 1, hub.ClientCount())

	hub.Unregister(c2)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHub_RoutesEventsByHousehold(t *testing.T) {
	hub := NewHub(nil, nil)
	mine := mockClient(hub, "h1")
	other := mockClient(hub, "h2")
	hub.Register(mine)
	hub.Register(other)

	event := shared.NewLevelUpEvent("u1", "h1", 1, 2, 120)
	event.BaseEvent = event.BaseEvent.WithCorrelationID("req-7")
	require.NoError(t, hub.HandleEvent(event))

	msg := receive(t, mine)
	assert.Equal(t, "progress.level_up", msg.Type)
	assert.Equal(t, "h1", msg.HouseholdID)
	assert.Equal(t, "req-7", msg.CorrelationID)
	assert.Equal(t, float64(2), msg.Payload["new_level"])

	select {
	case <-other.send:
		t.Fatal("event leaked to another household")
	default:
	}
}

func TestHub_FullBufferDropsMessages(t *testing.T) {
	hub := NewHub(nil, nil)
	c := mockClient(hub, "h1")
	hub.Register(c)

	for i := 0; i < sendBufferSize+3; i++ {
		hub.Broadcast(Message{Type: "test", HouseholdID: "h1"})
	}
	assert.Len(t, c.send, sendBufferSize)
	assert.Equal(t, uint64(3), hub.Dropped())
}

func TestHandleWebSocket_StreamsEvents(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := httptest.NewServer(HandleWebSocket(hub, HandlerOptions{}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?household_id=h1"
	conn, _, err := ws.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.HandleEvent(shared.NewPointsAwardedEvent("u1", "h1", 10, 0, 10, "bonus", "")))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "progress.points_awarded", msg.Type)
	assert.Equal(t, float64(10), msg.Payload["new_balance"])

	conn.Close(ws.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHandleWebSocket_RejectsBadRequests(t *testing.T) {
	hub := NewHub(nil, nil)
	h := HandleWebSocket(hub, HandlerOptions{Enabled: func(id string) bool { return id != "off" }})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/ws?household_id=off", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
