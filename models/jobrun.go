package models

import (
	"time"

	"gorm.io/gorm"
)

// Job run statuses.
const (
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// JobRun logs one invocation of a scheduled job. Per-row errors inside a job
// do not fail the run; only job-level infrastructure errors do.
type JobRun struct {
	gorm.Model
	JobName string `gorm:"not null;index" json:"job_name"`

	Status     string     `gorm:"not null;default:'running'" json:"status"`
	StartedAt  time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Error      string     `json:"error,omitempty"`

	// Counters reported by the job.
	Processed int `gorm:"default:0" json:"processed"`
	Succeeded int `gorm:"default:0" json:"succeeded"`
	Failed    int `gorm:"default:0" json:"failed"`
	Skipped   int `gorm:"default:0" json:"skipped"`
}
