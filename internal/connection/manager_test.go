package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/determined-ai/rcq/internal/assetrequest"
)

const waitFor = 5 * time.Second

type platformEvent struct {
	platform  string
	connected bool
}

type chanSink struct {
	requests  chan assetrequest.Request
	platforms chan platformEvent
}

func newChanSink() *chanSink {
	return &chanSink{
		requests:  make(chan assetrequest.Request, 16),
		platforms: make(chan platformEvent, 16),
	}
}

func (s *chanSink) HandleRequest(req assetrequest.Request) { s.requests <- req }

func (s *chanSink) PlatformConnected(platform string) {
	s.platforms <- platformEvent{platform, true}
}

func (s *chanSink) PlatformDisconnected(platform string) {
	s.platforms <- platformEvent{platform, false}
}

func managerServer(t *testing.T, m *Manager) *httptest.Server {
	ctx, cancel := context.WithCancel(context.Background())
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Log(err)
			return
		}
		_ = m.Serve(ctx, c, r.URL.Query().Get("platform"))
	}))
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return ts
}

func dialPlatform(t *testing.T, ts *httptest.Server, platform string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/?platform=" + platform
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return c
}

func readReply(t *testing.T, c *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(waitFor)))
	var reply map[string]interface{}
	require.NoError(t, c.ReadJSON(&reply))
	return reply
}

func nextPlatformEvent(t *testing.T, s *chanSink) platformEvent {
	t.Helper()
	select {
	case e := <-s.platforms:
		return e
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for a platform event")
		return platformEvent{}
	}
}

func TestRequestRoundTrip(t *testing.T) {
	sink := newChanSink()
	m := NewManager(sink)
	ts := managerServer(t, m)

	c := dialPlatform(t, ts, "pc")
	defer func() { _ = c.Close() }()
	require.Equal(t, platformEvent{"pc", true}, nextPlatformEvent(t, sink))

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{
		"type": "asset_status",
		"serial": 12,
		"payload": {"search_term": "textures/rock.dds", "is_status_request": true, "require_fencing": true}
	}`)))

	var req assetrequest.Request
	select {
	case req = <-sink.requests:
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for the request")
	}
	require.NotEmpty(t, req.ID.ConnectionID)
	require.Equal(t, uint64(12), req.ID.Serial)
	require.Equal(t, assetrequest.AssetStatus, req.Type)
	require.Equal(t, "pc", req.Platform)
	require.Equal(t, "textures/rock.dds", req.SearchTerm)
	require.True(t, req.IsStatusRequest)
	require.True(t, req.RequireFencing)

	m.Send(req.ID.ConnectionID, req.ID.Serial, string(req.Type), assetrequest.StatusResponse{})
	reply := readReply(t, c)
	require.Equal(t, "asset_status", reply["type"])
	require.Equal(t, 12.0, reply["serial"])
	require.Equal(t, map[string]interface{}{"status": "unknown", "fencing_failed": false}, reply["payload"])

	// Replies to connections that are gone are dropped quietly.
	m.Send("no-such-connection", 1, "asset_status", assetrequest.StatusResponse{})
}

func TestMalformedRequestsAnsweredUnknown(t *testing.T) {
	sink := newChanSink()
	ts := managerServer(t, NewManager(sink))
	c := dialPlatform(t, ts, "pc")
	defer func() { _ = c.Close() }()

	for _, msg := range []string{
		`{"type": "asset_status", "serial": 1, "payload": {"search_term": 42}}`,
		`{"type": "launch_missiles", "serial": 2, "payload": {}}`,
	} {
		require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(msg)))
		reply := readReply(t, c)
		require.Equal(t, map[string]interface{}{"status": "unknown", "fencing_failed": false}, reply["payload"])
	}
	require.Empty(t, sink.requests)
}

func TestPlatformReferenceCounting(t *testing.T) {
	sink := newChanSink()
	m := NewManager(sink)
	ts := managerServer(t, m)

	first := dialPlatform(t, ts, "android")
	require.Equal(t, platformEvent{"android", true}, nextPlatformEvent(t, sink))
	second := dialPlatform(t, ts, "android")
	require.Eventually(t, func() bool { return m.Len() == 2 }, waitFor, 10*time.Millisecond)
	require.Equal(t, []string{"android"}, m.Platforms())

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return m.Len() == 1 }, waitFor, 10*time.Millisecond)
	require.Empty(t, sink.platforms)

	require.NoError(t, second.Close())
	require.Equal(t, platformEvent{"android", false}, nextPlatformEvent(t, sink))
	require.Empty(t, m.Platforms())
}
