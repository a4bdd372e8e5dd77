// Package schedule creates and models the one-shot pregame re-scrape
// jobs that follow up on each detected game.
package schedule

import (
	"time"

	"github.com/pkaufman/fadewatch/internal/consensus"
)

// Status is a job's lifecycle position. Transitions are monotonic:
// once a job reaches a terminal status it never leaves it.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a job may move from s to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusScheduled:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Result is the outcome snapshot stored on a job after execution: the
// consensus observed at trigger time plus how it moved since the scrape
// that created the job.
type Result struct {
	OverPct     int                 `json:"over_pct"`
	UnderPct    int                 `json:"under_pct"`
	Direction   consensus.Direction `json:"direction"`
	Pct         int                 `json:"pct"`
	ExpertCount int                 `json:"expert_count"`
	Delta       int                 `json:"delta"`       // signed movement of the consensus percentage
	Flipped     bool                `json:"flipped"`     // direction changed between scrapes
	Significant bool                `json:"significant"` // delta >= threshold or flipped
	Summary     string              `json:"summary,omitempty"`
}

// Job is a pending or finished pregame re-scrape for one game.
type Job struct {
	ID          string    `json:"job_id"` // consensus.JobKey(sport, away, home, game_time)
	Sport       string    `json:"sport"`
	AwayTeam    string    `json:"away_team"`
	HomeTeam    string    `json:"home_team"`
	GameTime    string    `json:"game_time"` // display form, e.g. "7:05 pm ET"
	TriggerTime time.Time `json:"trigger_time"`
	Status      Status    `json:"status"`
	RetryCount  int       `json:"retry_count"`
	Reason      string    `json:"reason,omitempty"` // why the job failed or was cancelled
	LastResult  *Result   `json:"last_result,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewJob builds a Scheduled job for a game. The ID is deterministic so
// scheduling the same game twice lands on the same job.
func NewJob(sport, away, home, gameTime string, trigger time.Time) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          consensus.JobKey(sport, away, home, gameTime),
		Sport:       sport,
		AwayTeam:    away,
		HomeTeam:    home,
		GameTime:    gameTime,
		TriggerTime: trigger,
		Status:      StatusScheduled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Due reports whether the job's trigger falls inside the tolerance
// window around now.
func (j *Job) Due(now time.Time, tolerance time.Duration) bool {
	diff := now.Sub(j.TriggerTime)
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
