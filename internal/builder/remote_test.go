package builder

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/determined-ai/rcq/internal/jobs"
)

const waitFor = 5 * time.Second

func remoteServer(t *testing.T, r *Remote) *httptest.Server {
	ctx, cancel := context.WithCancel(context.Background())
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		upgrader := websocket.Upgrader{}
		c, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			t.Log(err)
			return
		}
		_ = r.Serve(ctx, c)
	}))
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return ts
}

func dialBuilder(t *testing.T, ts *httptest.Server) *websocket.Conn {
	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	return c
}

func readCommand(t *testing.T, c *websocket.Conn) Command {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(waitFor)))
	var cmd Command
	require.NoError(t, c.ReadJSON(&cmd))
	return cmd
}

func outcomes() (chan Outcome, func(Outcome)) {
	ch := make(chan Outcome, 1)
	return ch, func(o Outcome) { ch <- o }
}

func awaitOutcome(t *testing.T, ch chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for the outcome")
		return Outcome{}
	}
}

func info(runKey uint64, source string) jobs.Info {
	return jobs.Info{
		Details: jobs.Details{SourcePath: source, Platform: "pc", JobKey: "compile"},
		RunKey:  runKey,
		State:   jobs.StateProcessing,
	}
}

func TestRemoteBuildsJob(t *testing.T) {
	r := NewRemote()
	ts := remoteServer(t, r)

	ch, done := outcomes()
	r.Start(context.Background(), info(4, "rock.tif"), done)
	require.Equal(t, 1, r.Queued())

	c := dialBuilder(t, ts)
	defer func() { _ = c.Close() }()

	cmd := readCommand(t, c)
	require.Equal(t, CommandBuild, cmd.Type)
	require.Equal(t, uint64(4), cmd.RunKey)
	require.NotNil(t, cmd.Job)
	require.Equal(t, "rock.tif", cmd.Job.SourcePath)

	require.NoError(t, c.WriteJSON(Result{Type: ResultType, RunKey: 7, State: jobs.StateFailed}))
	require.NoError(t, c.WriteJSON(Result{Type: ResultType, RunKey: 4, State: jobs.StateCompleted}))
	require.Equal(t, Completed().State, awaitOutcome(t, ch).State)
}

func TestRemoteCancelBeforeSend(t *testing.T) {
	r := NewRemote()
	ts := remoteServer(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	cancelled, done := outcomes()
	r.Start(ctx, info(1, "rock.tif"), done)
	cancel()
	require.Equal(t, Cancelled(), awaitOutcome(t, cancelled))

	// The builder skips the cancelled job and gets the next one.
	next, done := outcomes()
	r.Start(context.Background(), info(2, "tree.tif"), done)

	c := dialBuilder(t, ts)
	defer func() { _ = c.Close() }()
	cmd := readCommand(t, c)
	require.Equal(t, uint64(2), cmd.RunKey)

	require.NoError(t, c.WriteJSON(Result{Type: ResultType, RunKey: 2, State: jobs.StateFailed, Reason: "bad"}))
	require.Equal(t, Failed("bad"), awaitOutcome(t, next))
}

func TestRemoteCancelAfterSend(t *testing.T) {
	r := NewRemote()
	ts := remoteServer(t, r)
	c := dialBuilder(t, ts)
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	ch, done := outcomes()
	r.Start(ctx, info(3, "rock.tif"), done)
	require.Equal(t, CommandBuild, readCommand(t, c).Type)

	cancel()
	cmd := readCommand(t, c)
	require.Equal(t, Command{Type: CommandCancel, RunKey: 3}, cmd)

	require.NoError(t, c.WriteJSON(Result{Type: ResultType, RunKey: 3, State: jobs.StateCancelled}))
	require.Equal(t, jobs.StateCancelled, awaitOutcome(t, ch).State)
}

func TestRemoteDisconnectFailsJob(t *testing.T) {
	r := NewRemote()
	ts := remoteServer(t, r)
	c := dialBuilder(t, ts)

	ch, done := outcomes()
	r.Start(context.Background(), info(5, "rock.tif"), done)
	require.Equal(t, CommandBuild, readCommand(t, c).Type)

	require.NoError(t, c.Close())
	require.Equal(t, Failed(reasonDisconnected), awaitOutcome(t, ch))
}

func TestNullBuilder(t *testing.T) {
	ch, done := outcomes()
	Null{}.Start(context.Background(), info(1, "rock.tif"), done)
	require.Equal(t, Completed(), awaitOutcome(t, ch))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	Null{}.Start(ctx, info(2, "rock.tif"), done)
	require.Equal(t, Cancelled(), awaitOutcome(t, ch))
}
