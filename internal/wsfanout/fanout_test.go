package wsfanout_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"optionex/internal/wsfanout"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialToRegistry starts an httptest server that upgrades every request and
// registers the connection under teamID in registry, then dials a client
// against it.
func dialToRegistry(t *testing.T, registry *wsfanout.Registry, teamID string) (*websocket.Conn, *httptest.Server) {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		registry.Register(teamID, conn)
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	return client, srv
}

func TestRegistry_SendDeliversStampedMessage(t *testing.T) {
	registry := wsfanout.NewRegistry()
	client, srv := dialToRegistry(t, registry, "TEAM_A")
	defer srv.Close()
	defer client.Close()

	require.Eventually(t, func() bool { return registry.Connected("TEAM_A") }, time.Second, 5*time.Millisecond)

	registry.Send("TEAM_A", wsfanout.NewOrderAck, map[string]string{"order_id": "abc"})

	var msg wsfanout.Message
	client.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, client.ReadJSON(&msg))

	assert.Equal(t, wsfanout.NewOrderAck, msg.Type)
	assert.EqualValues(t, 1, msg.Seq)
}

func TestRegistry_SequenceIncrementsPerConnection(t *testing.T) {
	registry := wsfanout.NewRegistry()
	client, srv := dialToRegistry(t, registry, "TEAM_A")
	defer srv.Close()
	defer client.Close()

	require.Eventually(t, func() bool { return registry.Connected("TEAM_A") }, time.Second, 5*time.Millisecond)

	registry.Send("TEAM_A", wsfanout.Event, "first")
	registry.Send("TEAM_A", wsfanout.Event, "second")

	var first, second wsfanout.Message
	client.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, client.ReadJSON(&first))
	require.NoError(t, client.ReadJSON(&second))

	assert.EqualValues(t, 1, first.Seq)
	assert.EqualValues(t, 2, second.Seq)
}

func TestRegistry_SendToUnknownTeamIsNoOp(t *testing.T) {
	registry := wsfanout.NewRegistry()
	assert.NotPanics(t, func() {
		registry.Send("GHOST", wsfanout.Event, "ignored")
	})
}

func TestRegistry_NewConnectionReplacesPrior(t *testing.T) {
	registry := wsfanout.NewRegistry()
	firstClient, srv := dialToRegistry(t, registry, "TEAM_A")
	defer srv.Close()
	defer firstClient.Close()

	require.Eventually(t, func() bool { return registry.Connected("TEAM_A") }, time.Second, 5*time.Millisecond)

	secondClient, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer secondClient.Close()

	// The registry now holds the second connection; the first should have
	// been closed server-side, so reading from it eventually errors.
	firstClient.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = firstClient.ReadMessage()
	assert.Error(t, err)
}
