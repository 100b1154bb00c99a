package controller

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/determined-ai/rcq/internal/assetrequest"
	"github.com/determined-ai/rcq/internal/builder"
	"github.com/determined-ai/rcq/internal/jobs"
	"github.com/determined-ai/rcq/internal/jobs/joblist"
	"github.com/determined-ai/rcq/internal/jobs/queuesort"
	"github.com/determined-ai/rcq/internal/prom"
	"github.com/determined-ai/rcq/pkg/logger"
	"github.com/determined-ai/rcq/pkg/model"
	"github.com/determined-ai/rcq/pkg/syncx/queue"
)

// scheduler is the controller's state. Only the Run goroutine touches it.
type scheduler struct {
	syslog *logrus.Entry

	ctx     context.Context
	mailbox assetrequest.Mailbox
	builder builder.Builder
	catalog Catalog
	maxJobs int

	jobList  *joblist.JobListModel
	queue    *queuesort.QueueSortModel
	requests *assetrequest.Handler
	// writes holds catalog updates, applied in order by writeCatalog.
	writes *queue.Queue[func(ctx context.Context)]

	nextRunKey uint64
	cancels    map[uint64]context.CancelFunc
	groups     map[assetrequest.RequestID]*compileGroup
	// failures holds the latest failure per element id, until a new submission or a success
	// for that id. Finished jobs leave the job list, so this is how failed assets are still
	// reported as failed.
	failures map[jobs.ElementKey]jobs.Info
}

func newScheduler(
	cfg Config, b builder.Builder, catalog Catalog, mailbox assetrequest.Mailbox,
) *scheduler {
	maxJobs := cfg.MaxJobs
	if maxJobs < 1 {
		maxJobs = 1
	}
	return &scheduler{
		syslog:   logrus.WithField("component", "scheduler"),
		ctx:      context.Background(),
		mailbox:  mailbox,
		builder:  b,
		catalog:  catalog,
		maxJobs:  maxJobs,
		jobList:  joblist.New(),
		queue:    queuesort.New(cfg.HostPlatform),
		writes:   queue.New[func(ctx context.Context)](),
		cancels:  make(map[uint64]context.CancelFunc),
		groups:   make(map[assetrequest.RequestID]*compileGroup),
		failures: make(map[jobs.ElementKey]jobs.Info),
	}
}

func (s *scheduler) receive(msg interface{}) {
	switch msg := msg.(type) {
	case submitJob:
		s.submit(msg.details)
	case jobFinished:
		j, ok := s.jobList.Job(msg.runKey)
		if !ok {
			s.syslog.WithField("run-key", msg.runKey).Warn("finish reported for unknown job")
			return
		}
		s.finish(j, msg.outcome)
	case sourceDeleted:
		s.eraseJobs(msg.sourcePath, msg.folder)
	case fenceDetected:
		s.requests.OnFenceFileDetected(msg.id)
	case platformConnected:
		s.queue.PlatformConnected(msg.platform)
	case platformDisconnected:
		s.queue.PlatformDisconnected(msg.platform)
	case escalateJobs:
		s.escalate(msg.escalations)
	case escalateAsset:
		s.EscalateAsset(msg.platform, msg.searchTerm)
	case handleRequest:
		s.requests.Handle(msg.req)
	case snapshotRequest:
		msg.resp <- s.snapshot()
	default:
		if !s.requests.Receive(msg) {
			s.syslog.Errorf("unexpected message %T", msg)
		}
	}
}

func jobContext(d jobs.Details) logger.Context {
	return logger.Context{
		"source":   d.SourcePath,
		"platform": d.Platform,
		"job-key":  d.JobKey,
	}
}

func (s *scheduler) submit(d jobs.Details) {
	id := d.ElementID()
	log := s.syslog.WithFields(jobContext(d).Fields())

	if s.jobList.IsInQueue(id) {
		log.Debug("job already queued")
		return
	}
	if running, ok := s.jobList.InFlightJob(id); ok {
		if running.Fingerprint == d.Fingerprint {
			log.Debug("job with the same fingerprint already building")
			return
		}
		log.WithField("run-key", running.RunKey).Info("cancelling superseded build")
		s.cancel(running)
	}

	s.nextRunKey++
	j := jobs.New(s.nextRunKey, d, time.Now())
	delete(s.failures, id.Key())
	s.jobList.AddNewJob(j)
	s.queue.AddJobIdEntry(j)
	log.WithField("run-key", j.RunKey).Debug("job queued")
}

func (s *scheduler) cancel(j *jobs.Job) {
	if err := j.SetState(jobs.StateCancelled); err != nil {
		s.syslog.WithError(err).Error("cancelling job")
		return
	}
	if cancel, ok := s.cancels[j.RunKey]; ok {
		cancel()
	}
}

// dispatch hands pending jobs to the builder while there is capacity. Cancelled builds still
// count against it until their builder reports back. Auto-fail jobs need no builder and are
// failed regardless.
func (s *scheduler) dispatch() {
	for {
		j := s.queue.GetNextPendingJob()
		if j == nil {
			return
		}
		if !j.IsAutoFail && s.jobList.InFlightCount() >= s.maxJobs {
			return
		}
		s.jobList.MarkAsStarted(j)
		if err := s.jobList.MarkAsProcessing(j); err != nil {
			s.syslog.WithError(err).Error("dispatching job")
			s.queue.RemoveJobIdEntry(j)
			continue
		}

		if j.IsAutoFail {
			s.finish(j, builder.Failed(j.FailReason))
			continue
		}

		ctx, cancel := context.WithCancel(s.ctx)
		s.cancels[j.RunKey] = cancel
		prom.DispatchedJobs.WithLabelValues(j.Platform).Inc()
		s.syslog.WithFields(jobContext(j.Details).Fields()).
			WithField("run-key", j.RunKey).
			WithField("escalation", j.Escalation).
			Debug("dispatching job")

		runKey := j.RunKey
		var once sync.Once
		s.builder.Start(ctx, j.Info(), func(o builder.Outcome) {
			once.Do(func() {
				s.mailbox.Post(jobFinished{runKey: runKey, outcome: o})
			})
		})
	}
}

// finish moves the job to its final state and evicts it. A cancelled job stays cancelled
// whatever its builder reports.
func (s *scheduler) finish(j *jobs.Job, o builder.Outcome) {
	if cancel, ok := s.cancels[j.RunKey]; ok {
		cancel()
		delete(s.cancels, j.RunKey)
	}
	if j.State() != jobs.StateCancelled {
		if err := j.SetState(o.State); err != nil {
			s.syslog.WithError(err).Errorf("builder reported %s, failing job", o.State)
			o = builder.Failed(err.Error())
			if err := j.SetState(jobs.StateFailed); err != nil {
				s.syslog.WithError(err).Error("failing job")
			}
		}
	}

	s.queue.RemoveJobIdEntry(j)
	if err := s.jobList.MarkAsCompleted(j); err != nil {
		return
	}

	info := j.Info()
	key := j.ElementID().Key()
	switch info.State {
	case jobs.StateFailed:
		s.failures[key] = info
	case jobs.StateCompleted:
		delete(s.failures, key)
	}

	prom.FinishedJobs.WithLabelValues(info.State.String()).Inc()
	if info.LaunchedAt != nil {
		prom.JobDuration.WithLabelValues(info.State.String()).
			Observe(j.CompletedAt.Sub(j.LaunchedAt).Seconds())
	}
	s.syslog.WithFields(jobContext(j.Details).Fields()).
		WithField("run-key", j.RunKey).
		WithField("reason", o.Reason).
		Debugf("job %s", info.State)

	s.record(info, o.Reason)
	s.updateCompileGroups(j)
}

func (s *scheduler) record(info jobs.Info, reason string) {
	h := model.JobHistory{
		RunKey:       info.RunKey,
		SourcePath:   info.SourcePath,
		RelativePath: info.RelativePath,
		Platform:     info.Platform,
		JobKey:       info.JobKey,
		Fingerprint:  info.Fingerprint,
		State:        info.State.String(),
		FailReason:   reason,
		CreatedAt:    info.CreatedAt,
		LaunchedAt:   info.LaunchedAt,
	}
	if info.CompletedAt != nil {
		h.CompletedAt = *info.CompletedAt
	}
	if info.State != jobs.StateFailed {
		h.FailReason = ""
	}
	s.writes.Put(func(ctx context.Context) {
		if err := s.catalog.RecordJob(ctx, h); err != nil {
			s.syslog.WithError(err).WithField("run-key", h.RunKey).Warn("recording job history")
		}
	})
}

// writeCatalog applies catalog updates one at a time until ctx is canceled, so a removal is never
// overtaken by an earlier record.
func (s *scheduler) writeCatalog(ctx context.Context) {
	for {
		write, err := s.writes.GetWithContext(ctx)
		if err != nil {
			return
		}
		write(ctx)
	}
}

// eraseJobs cancels the jobs of a source, or of every source under a folder, and has the catalog
// forget their products. Pending jobs finish immediately; in-flight ones finish when their
// builder reports back.
func (s *scheduler) eraseJobs(sourcePath string, folder bool) {
	var erased []*jobs.Job
	if folder {
		erased = s.jobList.EraseFolder(sourcePath)
	} else {
		erased = s.jobList.EraseJobs(sourcePath)
	}
	if len(erased) > 0 {
		s.syslog.WithField("source", sourcePath).WithField("folder", folder).
			Infof("erasing %d jobs", len(erased))
	}
	for _, j := range erased {
		if cancel, ok := s.cancels[j.RunKey]; ok {
			cancel()
			continue
		}
		s.finish(j, builder.Cancelled())
	}

	s.writes.Put(func(ctx context.Context) {
		if err := s.catalog.RemoveSource(ctx, sourcePath, folder); err != nil {
			s.syslog.WithError(err).WithField("source", sourcePath).Warn("removing source products")
		}
	})
}

func (s *scheduler) escalate(escalations []jobs.Escalation) {
	if n := s.queue.OnEscalateJobs(escalations); n > 0 {
		prom.Escalations.Add(float64(n))
	}
}

func (s *scheduler) updateGauges() {
	prom.PendingJobs.Set(float64(s.jobList.PendingCount()))
	prom.InFlightJobs.Set(float64(s.jobList.InFlightCount()))
}

func (s *scheduler) snapshot() Snapshot {
	snap := Snapshot{
		ConnectedPlatforms: s.queue.ConnectedPlatforms(),
		CompileGroups:      len(s.groups),
		PendingRequests:    s.requests.PendingRequests(),
		PendingFences:      s.requests.PendingFences(),
		Jobs:               []jobs.Info{},
		DispatchOrder:      []uint64{},
	}
	for _, j := range s.jobList.Jobs() {
		snap.Jobs = append(snap.Jobs, j.Info())
	}
	for _, j := range s.queue.Pending() {
		snap.DispatchOrder = append(snap.DispatchOrder, j.RunKey)
	}
	return snap
}
