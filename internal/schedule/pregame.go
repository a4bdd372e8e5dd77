package schedule

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// JobCreator is the slice of the job store the scheduler needs.
type JobCreator interface {
	CreateJob(ctx context.Context, job *Job) (created bool, err error)
	GetJob(ctx context.Context, id string) (*Job, error)
	UpdateJobStatus(ctx context.Context, id string, status Status, result *Result, reason string) error
}

// Event is one game to schedule a pregame re-scrape for. Baseline
// carries the consensus observed at scheduling time so the re-scrape
// has something to diff against.
type Event struct {
	AwayTeam string
	HomeTeam string
	GameTime string // display form from the consensus page
	Baseline *Result
}

// DefaultOffsetMinutes is how long before first pitch the re-scrape
// fires when no per-sport override is configured.
const DefaultOffsetMinutes = 15

// Pregame registers one-shot re-scrape jobs at a fixed offset before
// each game's start time.
type Pregame struct {
	store   JobCreator
	loc     *time.Location
	offsets map[string]int // per-sport override, minutes
	log     zerolog.Logger

	// now is replaceable in tests
	now func() time.Time
}

// NewPregame creates a scheduler. offsets maps sport name to pregame
// offset minutes; sports without an entry use DefaultOffsetMinutes.
func NewPregame(store JobCreator, loc *time.Location, offsets map[string]int, log zerolog.Logger) *Pregame {
	if loc == nil {
		loc = time.UTC
	}
	return &Pregame{
		store:   store,
		loc:     loc,
		offsets: offsets,
		log:     log.With().Str("component", "pregame").Logger(),
		now:     time.Now,
	}
}

// Offset returns the pregame offset for a sport.
func (p *Pregame) Offset(sport string) time.Duration {
	minutes := DefaultOffsetMinutes
	if v, ok := p.offsets[sport]; ok && v > 0 {
		minutes = v
	}
	return time.Duration(minutes) * time.Minute
}

// ScheduleDay registers a pregame job for each event, anchored to
// today in the scheduler's timezone. Events with unparseable times and
// events whose trigger has already passed are skipped (logged, not
// fatal); the remaining events in the batch are still scheduled.
// Re-running for the same day is idempotent: an existing non-terminal
// job for the same game is left untouched.
func (p *Pregame) ScheduleDay(ctx context.Context, sport string, events []Event) (int, error) {
	now := p.now().In(p.loc)
	offset := p.Offset(sport)

	scheduled := 0
	for _, ev := range events {
		gameTime, err := ParseGameTime(ev.GameTime, now, p.loc)
		if err != nil {
			p.log.Warn().
				Str("matchup", ev.AwayTeam+" @ "+ev.HomeTeam).
				Str("game_time", ev.GameTime).
				Err(err).
				Msg("skipping event with unparseable game time")
			continue
		}

		trigger := gameTime.Add(-offset)
		if !trigger.After(now) {
			p.log.Info().
				Str("matchup", ev.AwayTeam+" @ "+ev.HomeTeam).
				Time("trigger", trigger).
				Msg("trigger already passed, not scheduling")
			continue
		}

		job := NewJob(sport, ev.AwayTeam, ev.HomeTeam, ev.GameTime, trigger)
		job.LastResult = ev.Baseline
		created, err := p.store.CreateJob(ctx, job)
		if err != nil {
			return scheduled, err
		}
		if created {
			scheduled++
			p.log.Info().
				Str("job_id", job.ID).
				Str("matchup", ev.AwayTeam+" @ "+ev.HomeTeam).
				Time("trigger", trigger).
				Msg("pregame job scheduled")
		} else {
			p.log.Debug().Str("job_id", job.ID).Msg("job already scheduled, leaving as-is")
		}
	}

	return scheduled, nil
}

// Cancel moves a Scheduled job to Cancelled. Jobs in any other status
// are left alone and reported as an error by the store.
func (p *Pregame) Cancel(ctx context.Context, id string) error {
	job, err := p.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.CanTransition(StatusCancelled) {
		return &TransitionError{From: job.Status, To: StatusCancelled}
	}
	return p.store.UpdateJobStatus(ctx, id, StatusCancelled, nil, "cancelled by operator")
}

// TransitionError reports an illegal status transition.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return "illegal job transition " + string(e.From) + " -> " + string(e.To)
}
