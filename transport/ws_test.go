package transport

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigilsec/sentinel/monitor"
)

func TestRealtimeFeed(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/realtime"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg monitor.Message
	require.NoError(t, conn.ReadJSON(&msg))

	assert.Equal(t, monitor.MessageInitialState, msg.Type)
	snaps, ok := msg.Data.([]interface{})
	require.True(t, ok, "initial state carries the connector snapshots")
	assert.Len(t, snaps, 3)

	// The client shows up in the observer count until it disconnects.
	assert.Equal(t, 1, env.server.monitor.Hub().Count())
}
