package jobs

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// State is the lifecycle state of a job.
type State int

const (
	// StatePending jobs wait in the queue.
	StatePending State = iota
	// StateProcessing jobs have been handed to a builder.
	StateProcessing
	// StateCompleted jobs finished successfully.
	StateCompleted
	// StateFailed jobs finished unsuccessfully.
	StateFailed
	// StateCancelled jobs were superseded or their source was deleted.
	StateCancelled
)

var stateNames = map[State]string{
	StatePending:    "pending",
	StateProcessing: "processing",
	StateCompleted:  "completed",
	StateFailed:     "failed",
	StateCancelled:  "cancelled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for state, name := range stateNames {
		if name == string(b) {
			*s = state
			return nil
		}
	}
	return errors.Errorf("unknown job state %q", string(b))
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// ErrInvalidTransition is returned when a job is moved to a state it cannot reach from its
// current one.
var ErrInvalidTransition = errors.New("invalid job state transition")

var transitions = map[State][]State{
	StatePending:    {StateProcessing, StateCancelled},
	StateProcessing: {StateCompleted, StateFailed, StateCancelled},
}

// SourceMatches reports whether sourcePath names target or, when folder is set, lies anywhere
// under the folder target. Paths use '/' separators and compare case-insensitively.
func SourceMatches(sourcePath, target string, folder bool) bool {
	if !folder {
		return strings.EqualFold(sourcePath, target)
	}
	prefix := strings.ToLower(strings.TrimSuffix(target, "/")) + "/"
	return strings.HasPrefix(strings.ToLower(sourcePath), prefix)
}

// Details is everything a producer supplies about a job when submitting it.
type Details struct {
	// SourcePath is the source's database name, e.g. "textures/rock_diff.tif".
	SourcePath string `json:"source_path"`
	// RelativePath is the source's path relative to its scan folder. Heuristic search matches on
	// it. Defaults to SourcePath.
	RelativePath string `json:"relative_path"`
	Platform     string `json:"platform"`
	JobKey       string `json:"job_key"`
	Fingerprint  uint32 `json:"fingerprint"`
	Priority     int    `json:"priority"`
	IsCritical   bool   `json:"is_critical"`
	IsAutoFail   bool   `json:"is_auto_fail"`
	// FailReason is reported for auto-fail jobs.
	FailReason string `json:"fail_reason,omitempty"`
}

// ElementID returns the id jobs built from these details share.
func (d Details) ElementID() QueueElementID {
	return NewQueueElementID(d.SourcePath, d.Platform, d.JobKey)
}

// Job is a single submission of a compile job. It is owned by the controller goroutine; other
// goroutines see it only through Info snapshots.
type Job struct {
	Details
	RunKey     uint64
	Escalation int

	CreatedAt   time.Time
	LaunchedAt  time.Time
	CompletedAt time.Time

	state State
}

// New returns a pending job.
func New(runKey uint64, d Details, now time.Time) *Job {
	if d.RelativePath == "" {
		d.RelativePath = d.SourcePath
	}
	return &Job{
		Details:   d,
		RunKey:    runKey,
		CreatedAt: now,
		state:     StatePending,
	}
}

// State returns the job's current state.
func (j *Job) State() State {
	return j.state
}

// SetState moves the job to the given state.
func (j *Job) SetState(to State) error {
	for _, allowed := range transitions[j.state] {
		if allowed == to {
			j.state = to
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidTransition, "job %d: %s -> %s", j.RunKey, j.state, to)
}

// Escalate raises the job's escalation to amount. It never lowers it, and reports whether the
// value changed.
func (j *Job) Escalate(amount int) bool {
	if amount <= j.Escalation {
		return false
	}
	j.Escalation = amount
	return true
}

func (j *Job) String() string {
	return fmt.Sprintf("job %d %s", j.RunKey, j.ElementID())
}

// Info is a point-in-time copy of a job, safe to hand to other goroutines.
type Info struct {
	Details
	RunKey      uint64     `json:"run_key"`
	State       State      `json:"state"`
	Escalation  int        `json:"escalation"`
	CreatedAt   time.Time  `json:"created_at"`
	LaunchedAt  *time.Time `json:"launched_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Info returns a snapshot of the job.
func (j *Job) Info() Info {
	info := Info{
		Details:    j.Details,
		RunKey:     j.RunKey,
		State:      j.state,
		Escalation: j.Escalation,
		CreatedAt:  j.CreatedAt,
	}
	if !j.LaunchedAt.IsZero() {
		t := j.LaunchedAt
		info.LaunchedAt = &t
	}
	if !j.CompletedAt.IsZero() {
		t := j.CompletedAt
		info.CompletedAt = &t
	}
	return info
}
