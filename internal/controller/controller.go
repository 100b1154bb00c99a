// Package controller is the scheduler: one goroutine that owns the job list, the dispatch order,
// the compile groups and the asset-request state. Every other goroutine talks to it by posting
// messages to its mailbox, so none of that state is ever locked.
package controller

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/determined-ai/rcq/internal/assetrequest"
	"github.com/determined-ai/rcq/internal/builder"
	"github.com/determined-ai/rcq/internal/jobs"
	"github.com/determined-ai/rcq/pkg/model"
	"github.com/determined-ai/rcq/pkg/syncx/queue"
)

// Catalog is what the controller needs from the catalog.
type Catalog interface {
	assetrequest.Catalog
	RecordJob(ctx context.Context, h model.JobHistory) error
	RemoveSource(ctx context.Context, sourcePath string, folder bool) error
}

// Config holds the controller's tunables.
type Config struct {
	HostPlatform string
	MaxJobs      int
	FenceTimeout time.Duration
}

type (
	submitJob struct {
		details jobs.Details
	}
	jobFinished struct {
		runKey  uint64
		outcome builder.Outcome
	}
	sourceDeleted struct {
		sourcePath string
		folder     bool
	}
	fenceDetected struct {
		id uint64
	}
	platformConnected struct {
		platform string
	}
	platformDisconnected struct {
		platform string
	}
	escalateJobs struct {
		escalations []jobs.Escalation
	}
	escalateAsset struct {
		platform   string
		searchTerm string
	}
	handleRequest struct {
		req assetrequest.Request
	}
	snapshotRequest struct {
		resp chan Snapshot
	}
)

// Snapshot is a consistent view of the scheduler.
type Snapshot struct {
	// Jobs holds every live job in submission order.
	Jobs []jobs.Info `json:"jobs"`
	// DispatchOrder holds the run keys of the pending jobs in the order they would be dispatched.
	DispatchOrder      []uint64 `json:"dispatch_order"`
	ConnectedPlatforms []string `json:"connected_platforms"`
	CompileGroups      int      `json:"compile_groups"`
	PendingRequests    int      `json:"pending_requests"`
	PendingFences      int      `json:"pending_fences"`
}

// Controller is the handle other goroutines use to reach the scheduler. All of its methods are
// safe for concurrent use and, apart from Snapshot, never block.
type Controller struct {
	syslog  *logrus.Entry
	mailbox *queue.Queue[interface{}]
	s       *scheduler
}

// New returns a controller. It does nothing until Run is called, but messages posted before
// then are kept.
func New(
	cfg Config,
	b builder.Builder,
	catalog Catalog,
	fencer assetrequest.Fencer,
	responder assetrequest.Responder,
) *Controller {
	c := &Controller{
		syslog:  logrus.WithField("component", "controller"),
		mailbox: queue.New[interface{}](),
	}
	c.s = newScheduler(cfg, b, catalog, c)
	c.s.requests = assetrequest.New(c.s, responder, c, fencer, catalog, cfg.FenceTimeout)
	return c
}

// Post implements assetrequest.Mailbox.
func (c *Controller) Post(msg interface{}) {
	c.mailbox.Put(msg)
}

// Run processes messages until ctx is canceled. Builds still running are canceled with it.
func (c *Controller) Run(ctx context.Context) error {
	c.s.ctx = ctx
	defer c.s.requests.Close()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.s.writeCatalog(ctx)
	}()
	defer func() { <-writerDone }()

	c.syslog.Info("scheduler started")
	for {
		// GetWithContext spawns a goroutine per call, so it is only used to wait while idle.
		// Whatever queued up meanwhile is drained without blocking.
		msg, err := c.mailbox.GetWithContext(ctx)
		if err != nil {
			c.syslog.Info("scheduler stopped")
			return nil
		}
		for ok := true; ok; msg, ok = c.mailbox.TryGet() {
			c.s.receive(msg)
			c.s.dispatch()
		}
		c.s.updateGauges()
	}
}

// SubmitJob queues a job, subject to deduplication against the jobs already known for its
// element id.
func (c *Controller) SubmitJob(d jobs.Details) {
	c.Post(submitJob{details: d})
}

// SourceDeleted cancels every job built from the source. It implements watcher.Sink.
func (c *Controller) SourceDeleted(sourcePath string) {
	c.Post(sourceDeleted{sourcePath: sourcePath})
}

// SourceFolderDeleted cancels every job built from a source under the folder. It implements
// watcher.Sink.
func (c *Controller) SourceFolderDeleted(folder string) {
	c.Post(sourceDeleted{sourcePath: folder, folder: true})
}

// EraseJobs is SourceDeleted under the name the HTTP API uses.
func (c *Controller) EraseJobs(sourcePath string) {
	c.SourceDeleted(sourcePath)
}

// EraseFolder is SourceFolderDeleted under the name the HTTP API uses.
func (c *Controller) EraseFolder(folder string) {
	c.SourceFolderDeleted(folder)
}

// FenceFileDetected releases the request waiting on the fence. It implements watcher.Sink.
func (c *Controller) FenceFileDetected(id uint64) {
	c.Post(fenceDetected{id: id})
}

// PlatformConnected is called when the first client of a platform connects.
func (c *Controller) PlatformConnected(platform string) {
	c.Post(platformConnected{platform: platform})
}

// PlatformDisconnected is called when the last client of a platform disconnects.
func (c *Controller) PlatformDisconnected(platform string) {
	c.Post(platformDisconnected{platform: platform})
}

// EscalateJobs raises the listed jobs' escalation.
func (c *Controller) EscalateJobs(escalations []jobs.Escalation) {
	c.Post(escalateJobs{escalations: escalations})
}

// EscalateAsset escalates the platform's pending jobs matching the search term.
func (c *Controller) EscalateAsset(platform, searchTerm string) {
	c.Post(escalateAsset{platform: platform, searchTerm: searchTerm})
}

// HandleRequest accepts an asset request from a client connection.
func (c *Controller) HandleRequest(req assetrequest.Request) {
	c.Post(handleRequest{req: req})
}

// Snapshot returns the scheduler's state once every message posted before the call has been
// processed.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	resp := make(chan Snapshot, 1)
	c.Post(snapshotRequest{resp: resp})
	select {
	case s := <-resp:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}
