package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pkaufman/fadewatch/internal/consensus"
	"github.com/pkaufman/fadewatch/internal/schedule"
)

// SQLite backs JobStore and SessionStore with a single database file.
type SQLite struct {
	db  *sql.DB
	loc *time.Location

	// now is replaceable in tests
	now func() time.Time
}

// Open opens or creates the SQLite database at dbPath. An empty dbPath
// defaults to $TMPDIR/fadewatch/data.db. loc anchors the "today" window
// used by TodayStats; nil means UTC.
func Open(dbPath string, loc *time.Location) (*SQLite, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "fadewatch", "data.db")
	}
	if loc == nil {
		loc = time.UTC
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &SQLite{db: db, loc: loc, now: time.Now}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scheduled_jobs (
			id           TEXT PRIMARY KEY,
			sport        TEXT NOT NULL,
			away_team    TEXT NOT NULL,
			home_team    TEXT NOT NULL,
			game_time    TEXT NOT NULL,
			trigger_time INTEGER NOT NULL,
			status       TEXT NOT NULL,
			retry_count  INTEGER NOT NULL DEFAULT 0,
			reason       TEXT NOT NULL DEFAULT '',
			last_result  TEXT,
			created_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON scheduled_jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_trigger ON scheduled_jobs(trigger_time)`,
		`CREATE TABLE IF NOT EXISTS scrape_sessions (
			id           TEXT PRIMARY KEY,
			record_count INTEGER NOT NULL,
			records      TEXT NOT NULL,
			filters      TEXT NOT NULL DEFAULT '',
			duration_ms  INTEGER NOT NULL,
			errors       TEXT NOT NULL DEFAULT '[]',
			created_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created ON scrape_sessions(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateJob inserts a pregame job. A live job with the same ID is left
// alone; a terminal one is replaced so rescheduling the same matchup on
// a later day starts clean.
func (s *SQLite) CreateJob(ctx context.Context, job *schedule.Job) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM scheduled_jobs WHERE id = ?`, job.ID).Scan(&status)
	switch {
	case err == sql.ErrNoRows:
		// fresh insert below
	case err != nil:
		return false, fmt.Errorf("failed to check existing job: %w", err)
	default:
		if !schedule.Status(status).Terminal() {
			return false, nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, job.ID); err != nil {
			return false, fmt.Errorf("failed to replace terminal job: %w", err)
		}
	}

	resultJSON, err := marshalResult(job.LastResult)
	if err != nil {
		return false, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO scheduled_jobs
			(id, sport, away_team, home_team, game_time, trigger_time,
			 status, retry_count, reason, last_result, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		job.ID, job.Sport, job.AwayTeam, job.HomeTeam, job.GameTime,
		job.TriggerTime.UnixNano(), string(job.Status), job.RetryCount, job.Reason,
		resultJSON, job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert job: %w", err)
	}
	return true, tx.Commit()
}

// GetJob fetches one job, ErrNotFound when the ID is unknown.
func (s *SQLite) GetJob(ctx context.Context, id string) (*schedule.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobCols+` FROM scheduled_jobs WHERE id = ?`, id)
	job, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// GetScheduledJobs lists jobs ordered by trigger time. With activeOnly
// set, terminal jobs are excluded.
func (s *SQLite) GetScheduledJobs(ctx context.Context, activeOnly bool) ([]*schedule.Job, error) {
	query := `SELECT ` + jobCols + ` FROM scheduled_jobs`
	if activeOnly {
		query += ` WHERE status IN ('scheduled', 'running')`
	}
	query += ` ORDER BY trigger_time ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*schedule.Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if jobs == nil {
		jobs = []*schedule.Job{}
	}
	return jobs, rows.Err()
}

// MarkRunning claims a scheduled job via a conditional update. RowsAffected
// distinguishes the winner from pollers that lost the race.
func (s *SQLite) MarkRunning(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(schedule.StatusRunning), s.now().UTC().UnixNano(),
		id, string(schedule.StatusScheduled),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark job running: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// UpdateJobStatus writes a job's new status along with the result
// snapshot and reason, bumping retry_count on failures. The update is
// conditional on the current status being a legal source for the move,
// so terminal jobs stay immutable even under concurrent callers.
func (s *SQLite) UpdateJobStatus(ctx context.Context, id string, status schedule.Status, result *schedule.Result, reason string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid job status %q", status)
	}
	froms := legalFroms(status)
	if len(froms) == 0 {
		return fmt.Errorf("no status may transition to %q", status)
	}
	resultJSON, err := marshalResult(result)
	if err != nil {
		return err
	}

	bump := 0
	if status == schedule.StatusFailed {
		bump = 1
	}
	args := []any{string(status), resultJSON, reason, bump, s.now().UTC().UnixNano(), id}
	marks := make([]string, len(froms))
	for i, from := range froms {
		marks[i] = "?"
		args = append(args, string(from))
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET status = ?, last_result = ?, reason = ?, retry_count = retry_count + ?, updated_at = ?
		WHERE id = ? AND status IN (`+strings.Join(marks, ",")+`)`, args...,
	)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	// Nothing matched: either the job is unknown or it sits in a status
	// that may not move to the requested one.
	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM scheduled_jobs WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check job status: %w", err)
	}
	return &schedule.TransitionError{From: schedule.Status(current), To: status}
}

// legalFroms lists the statuses allowed to move to next.
func legalFroms(next schedule.Status) []schedule.Status {
	all := []schedule.Status{
		schedule.StatusScheduled, schedule.StatusRunning,
		schedule.StatusCompleted, schedule.StatusFailed, schedule.StatusCancelled,
	}
	var froms []schedule.Status
	for _, from := range all {
		if from.CanTransition(next) {
			froms = append(froms, from)
		}
	}
	return froms
}

// PurgeBefore deletes terminal jobs and scrape sessions last touched
// before cutoff. Live jobs are never purged.
func (s *SQLite) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	nano := cutoff.UnixNano()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM scheduled_jobs
		WHERE status IN ('completed', 'failed', 'cancelled') AND updated_at < ?`, nano)
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}
	jobsGone, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM scrape_sessions WHERE created_at < ?`, nano)
	if err != nil {
		return jobsGone, fmt.Errorf("failed to purge sessions: %w", err)
	}
	sessionsGone, _ := res.RowsAffected()

	return jobsGone + sessionsGone, nil
}

// TodayStats counts jobs and sessions touched since midnight in the
// store's timezone.
func (s *SQLite) TodayStats(ctx context.Context) (*Stats, error) {
	now := s.now().In(s.loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc).UnixNano()

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM scheduled_jobs
		WHERE updated_at >= ? GROUP BY status`, midnight)
	if err != nil {
		return nil, fmt.Errorf("failed to query job stats: %w", err)
	}
	defer rows.Close()

	stats := &Stats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job stats: %w", err)
		}
		switch schedule.Status(status) {
		case schedule.StatusScheduled:
			stats.Scheduled = count
		case schedule.StatusRunning:
			stats.Running = count
		case schedule.StatusCompleted:
			stats.Completed = count
		case schedule.StatusFailed:
			stats.Failed = count
		case schedule.StatusCancelled:
			stats.Cancelled = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM scrape_sessions WHERE created_at >= ?`, midnight).Scan(&stats.Sessions)
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	return stats, nil
}

// SaveSession records one scrape run and returns its generated ID.
func (s *SQLite) SaveSession(ctx context.Context, records []*consensus.Record, filters string, duration time.Duration, errs []string) (string, error) {
	if records == nil {
		records = []*consensus.Record{}
	}
	if errs == nil {
		errs = []string{}
	}
	recordsJSON, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("failed to marshal records: %w", err)
	}
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return "", fmt.Errorf("failed to marshal errors: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scrape_sessions
			(id, record_count, records, filters, duration_ms, errors, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		id, len(records), string(recordsJSON), filters,
		duration.Milliseconds(), string(errsJSON), s.now().UTC().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert session: %w", err)
	}
	return id, nil
}

// Session is one persisted scrape run.
type Session struct {
	ID          string              `json:"id"`
	RecordCount int                 `json:"record_count"`
	Records     []*consensus.Record `json:"records"`
	Filters     string              `json:"filters,omitempty"`
	Duration    time.Duration       `json:"duration"`
	Errors      []string            `json:"errors,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// RecentSessions returns the latest scrape runs, newest first.
func (s *SQLite) RecentSessions(ctx context.Context, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record_count, records, filters, duration_ms, errors, created_at
		FROM scrape_sessions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		var recordsJSON, errsJSON string
		var durationMS, createdNano int64
		if err := rows.Scan(&sess.ID, &sess.RecordCount, &recordsJSON, &sess.Filters,
			&durationMS, &errsJSON, &createdNano); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if err := json.Unmarshal([]byte(recordsJSON), &sess.Records); err != nil {
			return nil, fmt.Errorf("failed to unmarshal records: %w", err)
		}
		if err := json.Unmarshal([]byte(errsJSON), &sess.Errors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal errors: %w", err)
		}
		sess.Duration = time.Duration(durationMS) * time.Millisecond
		sess.CreatedAt = time.Unix(0, createdNano)
		sessions = append(sessions, &sess)
	}
	if sessions == nil {
		sessions = []*Session{}
	}
	return sessions, rows.Err()
}

const jobCols = `id, sport, away_team, home_team, game_time, trigger_time,
	status, retry_count, reason, last_result, created_at, updated_at`

func scanJob(scan func(...any) error) (*schedule.Job, error) {
	var job schedule.Job
	var status string
	var resultJSON sql.NullString
	var triggerNano, createdNano, updatedNano int64
	err := scan(
		&job.ID, &job.Sport, &job.AwayTeam, &job.HomeTeam, &job.GameTime, &triggerNano,
		&status, &job.RetryCount, &job.Reason, &resultJSON, &createdNano, &updatedNano,
	)
	if err != nil {
		return nil, err
	}
	job.Status = schedule.Status(status)
	job.TriggerTime = time.Unix(0, triggerNano)
	job.CreatedAt = time.Unix(0, createdNano)
	job.UpdatedAt = time.Unix(0, updatedNano)
	if resultJSON.Valid && strings.TrimSpace(resultJSON.String) != "" {
		var result schedule.Result
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job result: %w", err)
		}
		job.LastResult = &result
	}
	return &job, nil
}

func marshalResult(result *schedule.Result) (sql.NullString, error) {
	if result == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal job result: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
