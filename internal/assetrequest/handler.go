// Package assetrequest tracks asset requests from connected clients: it fences them against the
// file watcher, resolves them to compile groups and answers them when the group settles.
//
// A Handler belongs to the scheduler goroutine. Its I/O runs on other goroutines, which report
// back by posting messages to the owner's mailbox; the owner hands those to Receive.
package assetrequest

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/determined-ai/rcq/internal/jobs"
	"github.com/determined-ai/rcq/internal/prom"
	"github.com/determined-ai/rcq/pkg/model"
)

// Scheduler is the part of the scheduler requests are resolved against.
type Scheduler interface {
	// CreateCompileGroup resolves the search term to the platform's live jobs, escalates the
	// pending ones, and returns the group's initial status. For compile requests whose status is
	// neither unknown nor failed, the scheduler later calls OnCompileGroupFinished for id.
	CreateCompileGroup(id RequestID, platform, searchTerm string, isStatusRequest bool) model.AssetStatus
	// EscalateAsset escalates the platform's pending jobs matching the search term.
	EscalateAsset(platform, searchTerm string)
	// FindJobs returns the live jobs of a source path or job key, escalating pending ones if
	// asked to.
	FindJobs(searchTerm string, isJobKey, escalate bool) []jobs.Info
}

// Responder delivers responses to clients. Send must not block.
type Responder interface {
	Send(connectionID string, serial uint64, msgType string, payload interface{})
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(connectionID string, serial uint64, msgType string, payload interface{})

// Send implements Responder.
func (f ResponderFunc) Send(connectionID string, serial uint64, msgType string, payload interface{}) {
	f(connectionID, serial, msgType, payload)
}

// Mailbox queues messages for the goroutine that owns the Handler.
type Mailbox interface {
	Post(msg interface{})
}

// Fencer places fence files.
type Fencer interface {
	Place(ctx context.Context, id uint64) error
}

// Catalog answers what the scheduler no longer knows about.
type Catalog interface {
	AssetExists(ctx context.Context, platform, searchTerm string) (bool, error)
	JobHistory(ctx context.Context, sourcePath string) ([]model.JobHistory, error)
}

type (
	fencePlaced struct {
		fenceID uint64
		err     error
	}
	fenceTimedOut struct {
		fenceID uint64
	}
	assetExistsResponse struct {
		id     RequestID
		exists bool
		err    error
	}
	jobsInfoFetched struct {
		req     Request
		live    []jobs.Info
		history []model.JobHistory
		err     error
	}
)

type pendingFence struct {
	req   Request
	timer *time.Timer
}

// Handler tracks outstanding requests. It does not deduplicate: identical requests are tracked
// and answered independently.
type Handler struct {
	syslog *logrus.Entry

	scheduler    Scheduler
	responder    Responder
	mailbox      Mailbox
	fencer       Fencer
	catalog      Catalog
	fenceTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	nextFenceID uint64
	fences      map[uint64]*pendingFence
	pending     map[RequestID]Request
}

// New returns a Handler. fenceTimeout bounds how long a fenced request waits for the watcher to
// report its fence.
func New(
	scheduler Scheduler,
	responder Responder,
	mailbox Mailbox,
	fencer Fencer,
	catalog Catalog,
	fenceTimeout time.Duration,
) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		syslog:       logrus.WithField("component", "asset-requests"),
		scheduler:    scheduler,
		responder:    responder,
		mailbox:      mailbox,
		fencer:       fencer,
		catalog:      catalog,
		fenceTimeout: fenceTimeout,
		ctx:          ctx,
		cancel:       cancel,
		fences:       make(map[uint64]*pendingFence),
		pending:      make(map[RequestID]Request),
	}
}

// Close abandons outstanding I/O. Requests still waiting are never answered.
func (h *Handler) Close() {
	h.cancel()
	for _, f := range h.fences {
		if f.timer != nil {
			f.timer.Stop()
		}
	}
}

// PendingRequests returns the number of requests waiting on a compile group or existence check.
func (h *Handler) PendingRequests() int {
	return len(h.pending)
}

// PendingFences returns the number of requests waiting on their fence.
func (h *Handler) PendingFences() int {
	return len(h.fences)
}

// Handle accepts a request, fencing it first if it asks for that.
func (h *Handler) Handle(req Request) {
	if !req.RequireFencing {
		h.dispatch(req)
		return
	}

	h.nextFenceID++
	id := h.nextFenceID
	h.fences[id] = &pendingFence{req: req}
	h.syslog.WithFields(logrus.Fields{"fence-id": id, "request": req.ID}).Trace("placing fence")
	go func() {
		err := h.fencer.Place(h.ctx, id)
		h.mailbox.Post(fencePlaced{fenceID: id, err: err})
	}()
}

// OnFenceFileDetected dispatches the request waiting on the fence. Fences nobody waits for, such
// as those of timed-out requests or of a previous run, are ignored.
func (h *Handler) OnFenceFileDetected(fenceID uint64) {
	f, ok := h.fences[fenceID]
	if !ok {
		h.syslog.WithField("fence-id", fenceID).Debug("ignoring unknown fence")
		return
	}
	if f.timer != nil {
		f.timer.Stop()
	}
	delete(h.fences, fenceID)
	prom.Fences.WithLabelValues("detected").Inc()
	h.dispatch(f.req)
}

// Receive handles a message posted by one of the Handler's goroutines. It reports false for
// messages that are not the Handler's.
func (h *Handler) Receive(msg interface{}) bool {
	switch msg := msg.(type) {
	case fencePlaced:
		h.onFencePlaced(msg)
	case fenceTimedOut:
		h.onFenceTimedOut(msg)
	case assetExistsResponse:
		if msg.err != nil {
			h.syslog.WithError(msg.err).WithField("request", msg.id).Warn(
				"asset existence check failed, reporting missing")
		}
		h.OnRequestAssetExistsResponse(msg.id, msg.exists)
	case jobsInfoFetched:
		if msg.err != nil {
			h.syslog.WithError(msg.err).WithField("request", msg.req.ID).Warn(
				"reading job history failed")
		}
		h.responder.Send(msg.req.ID.ConnectionID, msg.req.ID.Serial, string(JobsInfo),
			JobsInfoResponse{Jobs: msg.live, History: msg.history, FencingFailed: msg.req.FencingFailed})
	default:
		return false
	}
	return true
}

func (h *Handler) onFencePlaced(msg fencePlaced) {
	f, ok := h.fences[msg.fenceID]
	if !ok {
		// Detected before placement reported back.
		return
	}
	if msg.err != nil {
		h.syslog.WithError(msg.err).WithField("request", f.req.ID).Warn(
			"fencing failed, dispatching without ordering guarantee")
		delete(h.fences, msg.fenceID)
		prom.Fences.WithLabelValues("failed").Inc()
		f.req.FencingFailed = true
		h.dispatch(f.req)
		return
	}
	id := msg.fenceID
	f.timer = time.AfterFunc(h.fenceTimeout, func() {
		h.mailbox.Post(fenceTimedOut{fenceID: id})
	})
}

func (h *Handler) onFenceTimedOut(msg fenceTimedOut) {
	f, ok := h.fences[msg.fenceID]
	if !ok {
		return
	}
	h.syslog.WithFields(logrus.Fields{"fence-id": msg.fenceID, "request": f.req.ID}).Warnf(
		"fence not detected within %s, dispatching without ordering guarantee", h.fenceTimeout)
	delete(h.fences, msg.fenceID)
	prom.Fences.WithLabelValues("timed_out").Inc()
	f.req.FencingFailed = true
	h.dispatch(f.req)
}

func (h *Handler) dispatch(req Request) {
	switch req.Type {
	case AssetStatus:
		h.ProcessAssetRequest(req)
	case EscalateAsset:
		h.scheduler.EscalateAsset(req.Platform, req.SearchTerm)
	case JobsInfo:
		h.processJobsInfo(req)
	default:
		h.syslog.WithField("request", req.ID).Warnf("unknown request type %q", req.Type)
		h.respond(req, model.AssetStatusUnknown)
	}
}

// ProcessAssetRequest records the request and resolves it to a compile group.
func (h *Handler) ProcessAssetRequest(req Request) {
	h.pending[req.ID] = req
	status := h.scheduler.CreateCompileGroup(req.ID, req.Platform, req.SearchTerm, req.IsStatusRequest)
	h.OnCompileGroupCreated(req.ID, status)
}

// OnCompileGroupCreated answers what can be answered right away: status requests, and groups
// that already failed. Unknown groups need an existence check first; anything else waits for the
// group to finish.
func (h *Handler) OnCompileGroupCreated(id RequestID, status model.AssetStatus) {
	req, ok := h.pending[id]
	if !ok {
		return
	}

	switch {
	case status == model.AssetStatusUnknown:
		// Unknown means either built long ago or never existed; the catalog knows which.
		go func() {
			exists, err := h.catalog.AssetExists(h.ctx, req.Platform, req.SearchTerm)
			h.mailbox.Post(assetExistsResponse{id: id, exists: exists, err: err})
		}()
	case status == model.AssetStatusFailed && req.IsStatusRequest:
		// The client re-queries, which resubmits the failed source.
		h.finish(id, model.AssetStatusUnknown)
	case status == model.AssetStatusFailed, req.IsStatusRequest:
		h.finish(id, status)
	}
}

// OnCompileGroupFinished answers the request with the group's final status. The request may
// already have been answered.
func (h *Handler) OnCompileGroupFinished(id RequestID, status model.AssetStatus) {
	h.finish(id, status)
}

// OnRequestAssetExistsResponse answers a request whose group was unknown.
func (h *Handler) OnRequestAssetExistsResponse(id RequestID, exists bool) {
	if exists {
		h.finish(id, model.AssetStatusCompiled)
	} else {
		h.finish(id, model.AssetStatusMissing)
	}
}

func (h *Handler) finish(id RequestID, status model.AssetStatus) {
	req, ok := h.pending[id]
	if !ok {
		return
	}
	delete(h.pending, id)
	h.respond(req, status)
}

func (h *Handler) respond(req Request, status model.AssetStatus) {
	h.syslog.WithFields(logrus.Fields{
		"request": req.ID,
		"term":    req.SearchTerm,
		"status":  status,
	}).Debug("answering asset request")
	prom.Responses.WithLabelValues(status.String()).Inc()
	h.responder.Send(req.ID.ConnectionID, req.ID.Serial, string(req.Type),
		StatusResponse{Status: status, FencingFailed: req.FencingFailed})
}

func (h *Handler) processJobsInfo(req Request) {
	live := h.scheduler.FindJobs(req.SearchTerm, req.IsJobKey, req.Escalate)
	if req.IsJobKey {
		h.responder.Send(req.ID.ConnectionID, req.ID.Serial, string(JobsInfo),
			JobsInfoResponse{Jobs: live, FencingFailed: req.FencingFailed})
		return
	}
	go func() {
		history, err := h.catalog.JobHistory(h.ctx, req.SearchTerm)
		h.mailbox.Post(jobsInfoFetched{req: req, live: live, history: history, err: err})
	}()
}
