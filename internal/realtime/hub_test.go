package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethex/platform/internal/events"
)

func dial(t *testing.T, srv *httptest.Server, query string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/feed" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, h.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastsEvents(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	all := dial(t, srv, "", nil)
	labs := dial(t, srv, "?arm=labs", nil)
	waitForClients(t, hub, 2)

	ev := events.New(events.CommunityPostCreated, "u1", nil)
	ev.Arm = "gameforge"
	require.NoError(t, hub.Publish(context.Background(), ev))

	ev2 := events.New(events.CommunityPostCreated, "u2", nil)
	ev2.Arm = "labs"
	require.NoError(t, hub.Publish(context.Background(), ev2))

	_ = all.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Event
	_, data, err := all.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, ev.ID, got.ID)

	_ = labs.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err = labs.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, ev2.ID, got.ID)
}

func TestHubRejectsUnknownOrigin(t *testing.T) {
	hub := NewHub(func(origin string) bool { return origin == "https://aethex.dev" }, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	dial(t, srv, "", http.Header{"Origin": {"https://aethex.dev"}})
	waitForClients(t, hub, 1)
}

func TestHubCloseDisconnects(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "", nil)
	waitForClients(t, hub, 1)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
