package model

import (
	"time"

	"github.com/uptrace/bun"
)

// JobHistory is the bun model of one finished job, as kept by the catalog.
type JobHistory struct {
	bun.BaseModel `bun:"table:job_history"`

	ID           int64      `bun:"id,pk,autoincrement" json:"-"`
	RunKey       uint64     `bun:"run_key" json:"run_key"`
	SourcePath   string     `bun:"source_path" json:"source_path"`
	RelativePath string     `bun:"relative_path" json:"relative_path"`
	Platform     string     `bun:"platform" json:"platform"`
	JobKey       string     `bun:"job_key" json:"job_key"`
	Fingerprint  uint32     `bun:"fingerprint" json:"fingerprint"`
	State        string     `bun:"state" json:"state"`
	FailReason   string     `bun:"fail_reason" json:"fail_reason,omitempty"`
	CreatedAt    time.Time  `bun:"created_at" json:"created_at"`
	LaunchedAt   *time.Time `bun:"launched_at" json:"launched_at,omitempty"`
	CompletedAt  time.Time  `bun:"completed_at" json:"completed_at"`
	// SourceRemoved is set once the source is deleted; the row then no longer counts as a product.
	SourceRemoved bool `bun:"source_removed,notnull,default:false" json:"-"`
}

// Succeeded reports whether the job produced its outputs.
func (h JobHistory) Succeeded() bool {
	return h.State == "completed"
}
