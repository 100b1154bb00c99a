package joblist

import (
	"strings"
	"time"

	"github.com/emirpasic/gods/sets/treeset"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/determined-ai/rcq/internal/jobs"
)

// ErrJobNotFound is returned when a job that should be in the list is not. It always indicates a
// programming error in the caller.
var ErrJobNotFound = errors.New("job not found in job list")

// JobListModel is the authoritative collection of live jobs: every job that is pending or in
// flight. Finished jobs are evicted by MarkAsCompleted.
//
// The pending index is a multi-map: it may hold several entries for one element id.
// MarkAsStarted removes all of them.
//
// JobListModel is not safe for concurrent use.
type JobListModel struct {
	syslog *logrus.Entry

	jobsByRunKey *treeset.Set
	byRunKey     map[uint64]*jobs.Job
	pending      map[jobs.ElementKey][]*jobs.Job
	inFlight     map[jobs.ElementKey]map[uint64]*jobs.Job
}

// New constructs an empty JobListModel.
func New() *JobListModel {
	return &JobListModel{
		syslog: logrus.WithField("component", "job-list"),
		jobsByRunKey: treeset.NewWith(func(a, b interface{}) int {
			return runKeyComparator(a.(*jobs.Job), b.(*jobs.Job))
		}),
		byRunKey: make(map[uint64]*jobs.Job),
		pending:  make(map[jobs.ElementKey][]*jobs.Job),
		inFlight: make(map[jobs.ElementKey]map[uint64]*jobs.Job),
	}
}

func runKeyComparator(a, b *jobs.Job) int {
	switch {
	case a.RunKey < b.RunKey:
		return -1
	case a.RunKey > b.RunKey:
		return 1
	default:
		return 0
	}
}

// Len gives the number of live jobs.
func (l *JobListModel) Len() int {
	return len(l.byRunKey)
}

// Job returns the live job with the given run key.
func (l *JobListModel) Job(runKey uint64) (*jobs.Job, bool) {
	j, ok := l.byRunKey[runKey]
	return j, ok
}

// Jobs returns every live job in submission order.
func (l *JobListModel) Jobs() []*jobs.Job {
	out := make([]*jobs.Job, 0, l.jobsByRunKey.Size())
	for it := l.jobsByRunKey.Iterator(); it.Next(); {
		out = append(out, it.Value().(*jobs.Job))
	}
	return out
}

// PendingCount returns the number of jobs in the pending index.
func (l *JobListModel) PendingCount() int {
	n := 0
	for _, js := range l.pending {
		n += len(js)
	}
	return n
}

// InFlightCount returns the number of jobs that have been handed to a builder and not completed.
func (l *JobListModel) InFlightCount() int {
	n := 0
	for _, js := range l.inFlight {
		n += len(js)
	}
	return n
}

// AddNewJob appends the job to the list and, if it is pending, to the pending index. Superseded
// jobs must be cancelled by the caller beforehand.
func (l *JobListModel) AddNewJob(j *jobs.Job) {
	l.jobsByRunKey.Add(j)
	l.byRunKey[j.RunKey] = j
	if j.State() == jobs.StatePending {
		k := j.ElementID().Key()
		l.pending[k] = append(l.pending[k], j)
	}
}

// MarkAsProcessing moves a job to processing and into the in-flight index.
func (l *JobListModel) MarkAsProcessing(j *jobs.Job) error {
	if _, ok := l.byRunKey[j.RunKey]; !ok {
		l.syslog.WithField("run-key", j.RunKey).Error("marking unknown job as processing")
		return errors.Wrapf(ErrJobNotFound, "marking %s as processing", j)
	}
	if err := j.SetState(jobs.StateProcessing); err != nil {
		return err
	}
	j.LaunchedAt = time.Now()

	k := j.ElementID().Key()
	if l.inFlight[k] == nil {
		l.inFlight[k] = make(map[uint64]*jobs.Job)
	}
	l.inFlight[k][j.RunKey] = j
	return nil
}

// MarkAsStarted removes every pending-index entry for the job.
func (l *JobListModel) MarkAsStarted(j *jobs.Job) {
	l.removePending(j)
}

// MarkAsCompleted evicts a job from the list. It is the only way a job leaves it.
func (l *JobListModel) MarkAsCompleted(j *jobs.Job) error {
	if _, ok := l.byRunKey[j.RunKey]; !ok {
		l.syslog.WithField("run-key", j.RunKey).Error("completing unknown job")
		return errors.Wrapf(ErrJobNotFound, "completing %s", j)
	}
	j.CompletedAt = time.Now()

	l.removePending(j)
	k := j.ElementID().Key()
	if m := l.inFlight[k]; m != nil {
		delete(m, j.RunKey)
		if len(m) == 0 {
			delete(l.inFlight, k)
		}
	}
	l.jobsByRunKey.Remove(j)
	delete(l.byRunKey, j.RunKey)
	return nil
}

func (l *JobListModel) removePending(j *jobs.Job) {
	k := j.ElementID().Key()
	entries := l.pending[k]
	kept := entries[:0]
	for _, e := range entries {
		if e != j {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(entries); i++ {
		entries[i] = nil
	}
	if len(kept) == 0 {
		delete(l.pending, k)
	} else {
		l.pending[k] = kept
	}
}

// IsInQueue reports whether a pending job exists for the id.
func (l *JobListModel) IsInQueue(id jobs.QueueElementID) bool {
	return len(l.pending[id.Key()]) > 0
}

// PendingJob returns the oldest pending job for the id.
func (l *JobListModel) PendingJob(id jobs.QueueElementID) (*jobs.Job, bool) {
	entries := l.pending[id.Key()]
	if len(entries) == 0 {
		return nil, false
	}
	return entries[0], true
}

// IsInFlight reports whether a job for the id is being built and has not been cancelled.
func (l *JobListModel) IsInFlight(id jobs.QueueElementID) bool {
	_, ok := l.InFlightJob(id)
	return ok
}

// InFlightJob returns the newest job for the id that is being built and has not been cancelled.
func (l *JobListModel) InFlightJob(id jobs.QueueElementID) (*jobs.Job, bool) {
	var newest *jobs.Job
	for _, j := range l.inFlight[id.Key()] {
		if j.State() != jobs.StateProcessing {
			continue
		}
		if newest == nil || j.RunKey > newest.RunKey {
			newest = j
		}
	}
	return newest, newest != nil
}

// EraseJobs cancels every pending or in-flight job built from the given source and returns them.
// Pending jobs stay in the list until the caller completes them; in-flight jobs stay until their
// builder reports back.
func (l *JobListModel) EraseJobs(sourcePath string) []*jobs.Job {
	return l.erase(sourcePath, false)
}

// EraseFolder is EraseJobs for every source under the folder.
func (l *JobListModel) EraseFolder(folder string) []*jobs.Job {
	return l.erase(folder, true)
}

func (l *JobListModel) erase(target string, folder bool) []*jobs.Job {
	var erased []*jobs.Job
	for _, j := range l.Jobs() {
		if !jobs.SourceMatches(j.SourcePath, target, folder) {
			continue
		}
		switch j.State() {
		case jobs.StatePending:
			l.removePending(j)
		case jobs.StateProcessing:
		default:
			continue
		}
		if err := j.SetState(jobs.StateCancelled); err != nil {
			l.syslog.WithError(err).Error("cancelling erased job")
			continue
		}
		erased = append(erased, j)
	}
	return erased
}

// SearchResult is the outcome of PerformHeuristicSearch.
type SearchResult struct {
	// Matched holds the distinct element ids of matching pending and in-flight jobs.
	Matched []jobs.QueueElementID
	// Escalations holds one entry per matching pending job.
	Escalations []jobs.Escalation
}

// PerformHeuristicSearch finds the pending and in-flight jobs for the platform whose relative
// path matches the search term (see HeuristicMatch). Pending matches are escalated by the amount
// the request kind calls for; in-flight matches are already running and only reported.
func (l *JobListModel) PerformHeuristicSearch(
	searchTerm, platform string, isStatusRequest bool,
) SearchResult {
	var candidates []*jobs.Job
	var paths []string
	for _, j := range l.Jobs() {
		if j.Platform != platform {
			continue
		}
		if s := j.State(); s != jobs.StatePending && s != jobs.StateProcessing {
			continue
		}
		candidates = append(candidates, j)
		paths = append(paths, j.RelativePath)
	}

	var result SearchResult
	seen := make(map[jobs.ElementKey]bool)
	amount := jobs.EscalationFor(isStatusRequest)
	for _, i := range HeuristicMatch(searchTerm, paths) {
		j := candidates[i]
		if id := j.ElementID(); !seen[id.Key()] {
			seen[id.Key()] = true
			result.Matched = append(result.Matched, id)
		}
		if j.State() == jobs.StatePending {
			result.Escalations = append(result.Escalations, jobs.Escalation{
				RunKey: j.RunKey, Amount: amount,
			})
		}
	}
	return result
}

// FindJobs returns the live jobs whose source path (case-insensitively) or, if isJobKey, job key
// (exactly) equals term.
func (l *JobListModel) FindJobs(term string, isJobKey bool) []*jobs.Job {
	var found []*jobs.Job
	for _, j := range l.Jobs() {
		if isJobKey && j.JobKey == term || !isJobKey && strings.EqualFold(j.SourcePath, term) {
			found = append(found, j)
		}
	}
	return found
}
