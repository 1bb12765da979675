package feed

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fx-session-sentry/pkg/types"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) types.CycleEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev types.CycleEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestBroadcastReachesClients(t *testing.T) {
	hub := NewHub(time.Second)
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	a := dial(t, srv)
	b := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(types.CycleEvent{
		Pair:     "EUR/USD",
		Decision: &types.GateDecision{Pair: "EUR/USD", Reasons: []string{"active_session: next London at 15:00"}},
	})

	for _, conn := range []*websocket.Conn{a, b} {
		ev := readEvent(t, conn)
		assert.Equal(t, "EUR/USD", ev.Pair)
		require.NotNil(t, ev.Decision)
		assert.Equal(t, []string{"active_session: next London at 15:00"}, ev.Decision.Reasons)
	}
}

func TestNewClientGetsLatestPerPair(t *testing.T) {
	hub := NewHub(time.Second)
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	hub.Broadcast(types.CycleEvent{Pair: "GBP/USD", Error: "old"})
	hub.Broadcast(types.CycleEvent{Pair: "GBP/USD", Error: "new"})
	hub.Broadcast(types.CycleEvent{Pair: "AUD/USD"})

	conn := dial(t, srv)
	first := readEvent(t, conn)
	second := readEvent(t, conn)

	assert.Equal(t, "AUD/USD", first.Pair)
	assert.Equal(t, "GBP/USD", second.Pair)
	assert.Equal(t, "new", second.Error)
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub := NewHub(time.Second)
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
