// Package store defines the persistence contracts the scheduler and
// the background service share, plus the SQLite implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/pkaufman/fadewatch/internal/consensus"
	"github.com/pkaufman/fadewatch/internal/schedule"
)

// ErrNotFound is returned when a job ID does not exist.
var ErrNotFound = errors.New("job not found")

// Stats summarizes one day of job activity for the daily report.
type Stats struct {
	Scheduled int `json:"scheduled"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Sessions  int `json:"sessions"`
}

// JobStore persists pregame jobs. The scheduler creates jobs, the
// background service mutates them; the two components share no
// in-memory state beyond this contract.
type JobStore interface {
	// CreateJob inserts the job. An existing non-terminal job with the
	// same ID is left untouched (created = false); a terminal one is
	// replaced by the fresh job.
	CreateJob(ctx context.Context, job *schedule.Job) (created bool, err error)

	// GetJob fetches one job by ID, ErrNotFound when absent.
	GetJob(ctx context.Context, id string) (*schedule.Job, error)

	// GetScheduledJobs lists jobs; activeOnly restricts to
	// non-terminal statuses.
	GetScheduledJobs(ctx context.Context, activeOnly bool) ([]*schedule.Job, error)

	// MarkRunning atomically moves a Scheduled job to Running and
	// reports whether this caller won the transition. A false return
	// means another poll already picked the job up.
	MarkRunning(ctx context.Context, id string) (bool, error)

	// UpdateJobStatus finalizes a job: status, optional result, and a
	// reason string for failures/cancellations.
	UpdateJobStatus(ctx context.Context, id string, status schedule.Status, result *schedule.Result, reason string) error

	// PurgeBefore deletes terminal jobs and sessions older than cutoff
	// and returns how many rows went away.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// TodayStats aggregates today's job and session counts.
	TodayStats(ctx context.Context) (*Stats, error)
}

// SessionStore records each scrape run for audit and reporting.
type SessionStore interface {
	// SaveSession persists one scrape outcome and returns its ID.
	SaveSession(ctx context.Context, records []*consensus.Record, filters string, duration time.Duration, errs []string) (string, error)
}
