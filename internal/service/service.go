// Package service runs the background loop that executes due pregame
// jobs, detects consensus movement, and fires the maintenance tasks.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/pkaufman/fadewatch/internal/consensus"
	"github.com/pkaufman/fadewatch/internal/logger"
	"github.com/pkaufman/fadewatch/internal/notify"
	"github.com/pkaufman/fadewatch/internal/schedule"
	"github.com/pkaufman/fadewatch/internal/store"
)

// Aggregator is the slice of the scraper the service needs.
type Aggregator interface {
	// Live scrapes today's consensus page.
	Live(ctx context.Context) ([]*consensus.Record, error)
}

// Config tunes the service loop and its maintenance schedules.
type Config struct {
	PollInterval time.Duration // how often the job store is polled
	Tolerance    time.Duration // due window around each trigger time
	JobTimeout   time.Duration // wall-clock bound per job execution
	MinDelta     int           // consensus movement considered significant
	CleanupCron  string        // cron spec for the retention purge
	ReportCron   string        // cron spec for the daily summary
	Retention    time.Duration // how long terminal jobs and sessions are kept
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.Tolerance <= 0 {
		c.Tolerance = 2 * time.Minute
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
	if c.MinDelta <= 0 {
		c.MinDelta = 5
	}
	if c.CleanupCron == "" {
		c.CleanupCron = "0 4 * * *"
	}
	if c.ReportCron == "" {
		c.ReportCron = "0 23 * * *"
	}
	if c.Retention <= 0 {
		c.Retention = 14 * 24 * time.Hour
	}
}

// Service is the long-lived worker that turns scheduled jobs into
// executed re-scrapes. One instance per process.
type Service struct {
	cfg        Config
	aggregator Aggregator
	jobs       store.JobStore
	sessions   store.SessionStore
	notifier   notify.Notifier
	metrics    *logger.Metrics
	log        zerolog.Logger

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// now is replaceable in tests
	now func() time.Time
}

// New assembles the service. All collaborators are required except the
// notifier, which may be a DryRun.
func New(cfg Config, aggregator Aggregator, jobs store.JobStore, sessions store.SessionStore, notifier notify.Notifier, metrics *logger.Metrics, log zerolog.Logger) *Service {
	cfg.applyDefaults()
	if metrics == nil {
		metrics = logger.NewMetrics()
	}
	return &Service{
		cfg:        cfg,
		aggregator: aggregator,
		jobs:       jobs,
		sessions:   sessions,
		notifier:   notifier,
		metrics:    metrics,
		log:        log.With().Str("component", "service").Logger(),
		now:        time.Now,
	}
}

// Start launches the poll loop and the maintenance cron. It returns
// immediately; Stop shuts everything down.
func (s *Service) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.cfg.CleanupCron, func() { s.runCleanup(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid cleanup cron spec: %w", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.ReportCron, func() { s.runDailyReport(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid report cron spec: %w", err)
	}
	s.cron.Start()

	s.wg.Add(1)
	go s.loop(ctx)

	s.log.Info().
		Dur("poll_interval", s.cfg.PollInterval).
		Dur("tolerance", s.cfg.Tolerance).
		Msg("background service started")
	return nil
}

// Stop halts polling and waits for in-flight jobs. Each job is bounded
// by the job timeout, so Stop returns promptly and no job is left in
// Running.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.wg.Wait()
	s.log.Info().Msg("background service stopped")
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	// First poll without waiting for the ticker.
	s.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll claims every due job and dispatches each to its own goroutine.
// Jobs due in the same cycle are independent games, so they run
// concurrently.
func (s *Service) poll(ctx context.Context) {
	jobs, err := s.jobs.GetScheduledJobs(ctx, true)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list jobs")
		return
	}

	now := s.now()
	for _, job := range jobs {
		if job.Status != schedule.StatusScheduled || !job.Due(now, s.cfg.Tolerance) {
			continue
		}
		won, err := s.jobs.MarkRunning(ctx, job.ID)
		if err != nil {
			s.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to claim job")
			continue
		}
		if !won {
			continue
		}

		job := job
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.execute(ctx, job)
		}()
	}
}

// execute runs one claimed job to a terminal status. A panic anywhere
// in the execution path fails the job and never reaches the loop.
func (s *Service) execute(ctx context.Context, job *schedule.Job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("job_id", job.ID).Interface("panic", r).Msg("job panicked")
			s.failJob(job, fmt.Sprintf("panic: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	s.log.Info().
		Str("job_id", job.ID).
		Str("matchup", job.AwayTeam+" @ "+job.HomeTeam).
		Msg("executing pregame job")

	started := s.now()
	records, err := s.aggregator.Live(ctx)
	elapsed := s.now().Sub(started)
	s.metrics.RecordTiming("job.fetch", elapsed)

	if err != nil {
		s.saveSession(records, elapsed, []string{err.Error()})
		s.failJob(job, fmt.Sprintf("fetch failed: %v", err))
		return
	}
	s.saveSession(records, elapsed, nil)

	var match *consensus.Record
	for _, rec := range records {
		if rec.SameGame(job.AwayTeam, job.HomeTeam) {
			match = rec
			break
		}
	}
	if match == nil {
		s.failJob(job, "no event match found")
		return
	}

	result := s.diff(job, match)
	if result.Significant && s.notifier != nil {
		if err := s.notifier.Send(ctx, notify.FormatMovement(job, result)); err != nil {
			s.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to send movement alert")
		} else {
			s.metrics.IncrCounter("alerts.sent")
		}
	}

	if err := s.jobs.UpdateJobStatus(context.Background(), job.ID, schedule.StatusCompleted, result, ""); err != nil {
		s.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to complete job")
		return
	}
	s.metrics.IncrCounter("jobs.completed")
	s.log.Info().
		Str("job_id", job.ID).
		Int("pct", result.Pct).
		Int("delta", result.Delta).
		Bool("significant", result.Significant).
		Msg("pregame job completed")
}

// diff compares the fresh record against the consensus captured when
// the job was scheduled. Without a baseline there is no movement to
// report, only the new snapshot.
func (s *Service) diff(job *schedule.Job, rec *consensus.Record) *schedule.Result {
	result := &schedule.Result{
		OverPct:     rec.OverPct,
		UnderPct:    rec.UnderPct,
		Direction:   rec.Direction,
		Pct:         rec.Pct,
		ExpertCount: rec.ExpertCount,
	}

	base := job.LastResult
	if base == nil {
		result.Summary = "no baseline"
		return result
	}

	result.Flipped = base.Direction != "" && rec.Direction != base.Direction
	if result.Flipped {
		// Movement measured on the original side, which just lost its
		// majority.
		switch base.Direction {
		case consensus.DirectionOver:
			result.Delta = rec.OverPct - base.Pct
		default:
			result.Delta = rec.UnderPct - base.Pct
		}
	} else {
		result.Delta = rec.Pct - base.Pct
	}

	abs := result.Delta
	if abs < 0 {
		abs = -abs
	}
	result.Significant = result.Flipped || abs >= s.cfg.MinDelta
	result.Summary = fmt.Sprintf("%d%% %s -> %d%% %s", base.Pct, base.Direction, rec.Pct, rec.Direction)
	return result
}

// failJob marks a job Failed. Uses a fresh context so a timed-out job
// context cannot also block the status write.
func (s *Service) failJob(job *schedule.Job, reason string) {
	if err := s.jobs.UpdateJobStatus(context.Background(), job.ID, schedule.StatusFailed, nil, reason); err != nil {
		s.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to record job failure")
		return
	}
	s.metrics.IncrCounter("jobs.failed")
	s.log.Warn().Str("job_id", job.ID).Str("reason", reason).Msg("pregame job failed")
}

func (s *Service) saveSession(records []*consensus.Record, duration time.Duration, errs []string) {
	if s.sessions == nil {
		return
	}
	if _, err := s.sessions.SaveSession(context.Background(), records, "", duration, errs); err != nil {
		s.log.Error().Err(err).Msg("failed to save scrape session")
		return
	}
	s.metrics.IncrCounter("sessions.saved")
}

func (s *Service) runCleanup(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.Retention)
	purged, err := s.jobs.PurgeBefore(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("cleanup failed")
		return
	}
	s.log.Info().Int64("purged", purged).Time("cutoff", cutoff).Msg("retention cleanup done")
}

func (s *Service) runDailyReport(ctx context.Context) {
	stats, err := s.jobs.TodayStats(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to gather daily stats")
		return
	}
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, notify.FormatDailyReport(s.now(), stats)); err != nil {
		s.log.Error().Err(err).Msg("failed to send daily report")
	}
}
