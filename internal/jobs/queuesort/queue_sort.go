package queuesort

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/determined-ai/rcq/internal/jobs"
)

// AllPlatforms is the platform of jobs that do not target any one platform. Such jobs are never
// held back for lack of a connection.
const AllPlatforms = "all"

// QueueSortModel is the dispatch-ordered view over the pending jobs. It re-sorts lazily: the
// order is recomputed on the next GetNextPendingJob after anything that could change it.
//
// QueueSortModel is not safe for concurrent use; platform notifications from other goroutines
// must be handed to its owner first.
type QueueSortModel struct {
	syslog *logrus.Entry

	hostPlatform string
	connected    map[string]bool
	byRunKey     map[uint64]*jobs.Job

	sorted      []*jobs.Job
	needsResort bool
}

// New returns an empty model that favors the given host platform.
func New(hostPlatform string) *QueueSortModel {
	return &QueueSortModel{
		syslog:       logrus.WithField("component", "queue-sort"),
		hostPlatform: hostPlatform,
		connected:    make(map[string]bool),
		byRunKey:     make(map[uint64]*jobs.Job),
	}
}

// AddJobIdEntry makes the job visible to dispatch and escalation.
func (m *QueueSortModel) AddJobIdEntry(j *jobs.Job) {
	m.byRunKey[j.RunKey] = j
	m.needsResort = true
}

// RemoveJobIdEntry forgets the job.
func (m *QueueSortModel) RemoveJobIdEntry(j *jobs.Job) {
	delete(m.byRunKey, j.RunKey)
}

// Len returns the number of known jobs, pending or not.
func (m *QueueSortModel) Len() int {
	return len(m.byRunKey)
}

// OnEscalateJobs raises each listed job to its escalation amount. Unknown run keys are skipped
// and escalations never lower a job's value. It returns how many jobs changed.
func (m *QueueSortModel) OnEscalateJobs(escalations []jobs.Escalation) int {
	changed := 0
	for _, e := range escalations {
		j, ok := m.byRunKey[e.RunKey]
		if !ok {
			m.syslog.WithField("run-key", e.RunKey).Debug("escalating unknown job")
			continue
		}
		if j.Escalate(e.Amount) {
			changed++
		}
	}
	if changed > 0 {
		m.needsResort = true
	}
	return changed
}

// PlatformConnected marks a platform as having a live connection.
func (m *QueueSortModel) PlatformConnected(platform string) {
	if !m.connected[platform] {
		m.syslog.WithField("platform", platform).Info("platform connected")
	}
	m.connected[platform] = true
	m.needsResort = true
}

// PlatformDisconnected marks a platform as no longer connected.
func (m *QueueSortModel) PlatformDisconnected(platform string) {
	if m.connected[platform] {
		m.syslog.WithField("platform", platform).Info("platform disconnected")
	}
	delete(m.connected, platform)
	m.needsResort = true
}

// IsConnected reports whether jobs for the platform are built ahead of disconnected ones.
func (m *QueueSortModel) IsConnected(platform string) bool {
	return platform == AllPlatforms || m.connected[platform]
}

// ConnectedPlatforms returns the connected platforms, sorted.
func (m *QueueSortModel) ConnectedPlatforms() []string {
	out := make([]string, 0, len(m.connected))
	for p := range m.connected {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// GetNextPendingJob returns the pending job to dispatch next, or nil if there is none. It never
// blocks.
func (m *QueueSortModel) GetNextPendingJob() *jobs.Job {
	if m.needsResort {
		m.resort()
	}
	for len(m.sorted) > 0 {
		j := m.sorted[0]
		if _, ok := m.byRunKey[j.RunKey]; ok && j.State() == jobs.StatePending {
			return j
		}
		// Dispatched, cancelled or removed since the last sort; none of those come back.
		m.sorted[0] = nil
		m.sorted = m.sorted[1:]
	}
	return nil
}

// Pending returns the pending jobs in dispatch order.
func (m *QueueSortModel) Pending() []*jobs.Job {
	if m.needsResort {
		m.resort()
	}
	out := make([]*jobs.Job, 0, len(m.sorted))
	for _, j := range m.sorted {
		if _, ok := m.byRunKey[j.RunKey]; ok && j.State() == jobs.StatePending {
			out = append(out, j)
		}
	}
	return out
}

func (m *QueueSortModel) resort() {
	m.sorted = m.sorted[:0]
	for _, j := range m.byRunKey {
		if j.State() == jobs.StatePending {
			m.sorted = append(m.sorted, j)
		}
	}
	sort.SliceStable(m.sorted, func(i, k int) bool {
		return m.Less(m.sorted[i], m.sorted[k])
	})
	m.needsResort = false
}

// Less reports whether a is dispatched before b. The first deciding criterion wins:
//
//  1. auto-fail jobs, which exist to give fast feedback;
//  2. jobs for connected platforms;
//  3. critical jobs;
//  4. higher escalation;
//  5. the host platform;
//  6. higher priority;
//  7. lower run key, i.e. submission order.
func (m *QueueSortModel) Less(a, b *jobs.Job) bool {
	if a.IsAutoFail != b.IsAutoFail {
		return a.IsAutoFail
	}
	if ac, bc := m.IsConnected(a.Platform), m.IsConnected(b.Platform); ac != bc {
		return ac
	}
	if a.IsCritical != b.IsCritical {
		return a.IsCritical
	}
	if a.Escalation != b.Escalation {
		return a.Escalation > b.Escalation
	}
	if ah, bh := a.Platform == m.hostPlatform, b.Platform == m.hostPlatform; ah != bh {
		return ah
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.RunKey < b.RunKey
}
