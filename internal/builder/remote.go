package builder

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/determined-ai/rcq/internal/jobs"
	"github.com/determined-ai/rcq/pkg/syncx/queue"
	"github.com/determined-ai/rcq/pkg/ws"
)

// Command types sent to remote builders.
const (
	CommandBuild  = "build"
	CommandCancel = "cancel"
)

// ResultType is the type of the message a remote builder reports an outcome with.
const ResultType = "result"

// reasonDisconnected is the failure reason of a job whose builder went away.
const reasonDisconnected = "builder disconnected"

// Command is a message to a remote builder.
type Command struct {
	Type   string     `json:"type"`
	RunKey uint64     `json:"run_key"`
	Job    *jobs.Info `json:"job,omitempty"`
}

// Result is a message from a remote builder.
type Result struct {
	Type   string     `json:"type"`
	RunKey uint64     `json:"run_key"`
	State  jobs.State `json:"state"`
	Reason string     `json:"reason,omitempty"`
}

type assignment struct {
	job  jobs.Info
	done func(Outcome)
	stop func() bool

	mu       sync.Mutex
	sent     bool
	finished bool
	onCancel func()
}

// claim marks the assignment as sent, registering how to cancel it from then on. It fails if
// the assignment already finished.
func (a *assignment) claim(onCancel func()) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished {
		return false
	}
	a.sent = true
	a.onCancel = onCancel
	return true
}

func (a *assignment) cancel() {
	a.mu.Lock()
	if a.finished {
		a.mu.Unlock()
		return
	}
	if a.sent {
		onCancel := a.onCancel
		a.mu.Unlock()
		onCancel()
		return
	}
	a.mu.Unlock()
	a.finish(Cancelled())
}

func (a *assignment) finish(o Outcome) {
	a.mu.Lock()
	if a.finished {
		a.mu.Unlock()
		return
	}
	a.finished = true
	stop := a.stop
	a.mu.Unlock()
	if stop != nil {
		stop()
	}
	a.done(o)
}

// Remote queues jobs for builder processes that connect over a websocket. Each connected
// builder runs one job at a time.
type Remote struct {
	syslog  *logrus.Entry
	pending *queue.Queue[*assignment]
}

// NewRemote returns a Remote with no builders connected.
func NewRemote() *Remote {
	return &Remote{
		syslog:  logrus.WithField("component", "remote-builder"),
		pending: queue.New[*assignment](),
	}
}

// Start implements Builder. A job cancelled before any builder took it is reported cancelled
// without being sent; otherwise the builder holding it is told to cancel.
func (r *Remote) Start(ctx context.Context, job jobs.Info, done func(Outcome)) {
	a := &assignment{job: job, done: done}
	stop := context.AfterFunc(ctx, a.cancel)
	a.mu.Lock()
	a.stop = stop
	a.mu.Unlock()
	r.pending.Put(a)
}

// Queued returns the number of jobs waiting for a builder, including cancelled ones not yet
// skipped.
func (r *Remote) Queued() int {
	return r.pending.Len()
}

// Serve runs one builder connection until it closes or ctx is canceled. A job the builder holds
// when it goes away fails.
func (r *Remote) Serve(ctx context.Context, conn *websocket.Conn) error {
	s := ws.Wrap[Result, Command]("builder", conn)
	defer func() {
		if err := s.Close(); err != nil {
			r.syslog.WithError(err).Debug("closing builder connection")
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.Done:
			cancel()
		case <-ctx.Done():
		}
	}()

	log := r.syslog.WithField("remote-addr", conn.RemoteAddr())
	log.Info("builder connected")
	defer log.Info("builder disconnected")

	for {
		a, err := r.pending.GetWithContext(ctx)
		if err != nil {
			return errors.Wrap(s.Error(), "builder session")
		}
		runKey := a.job.RunKey
		if !a.claim(func() {
			if err := s.Send(ctx, Command{Type: CommandCancel, RunKey: runKey}); err != nil {
				log.WithError(err).WithField("run-key", runKey).Debug("sending cancel")
			}
		}) {
			continue
		}

		job := a.job
		if err := s.Send(ctx, Command{Type: CommandBuild, RunKey: runKey, Job: &job}); err != nil {
			a.finish(Failed(reasonDisconnected))
			return errors.Wrap(s.Error(), "builder session")
		}
		if !r.await(ctx, log, s, a) {
			return errors.Wrap(s.Error(), "builder session")
		}
	}
}

// await waits for the builder's result for a. It reports false if the session ended first.
func (r *Remote) await(
	ctx context.Context, log *logrus.Entry, s *ws.Session[Result, Command], a *assignment,
) bool {
	for {
		select {
		case res, ok := <-s.Inbox:
			if !ok {
				a.finish(Failed(reasonDisconnected))
				return false
			}
			if res.Type != ResultType || res.RunKey != a.job.RunKey {
				log.WithField("run-key", res.RunKey).Warnf("ignoring unexpected %q message", res.Type)
				continue
			}
			a.finish(Outcome{State: res.State, Reason: res.Reason})
			return true
		case <-ctx.Done():
			a.finish(Failed(reasonDisconnected))
			return false
		}
	}
}
