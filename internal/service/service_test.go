package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pkaufman/fadewatch/internal/consensus"
	"github.com/pkaufman/fadewatch/internal/logger"
	"github.com/pkaufman/fadewatch/internal/schedule"
	"github.com/pkaufman/fadewatch/internal/store"
)

type fakeAggregator struct {
	records []*consensus.Record
	err     error
	panics  bool

	mu    sync.Mutex
	calls int
}

func (f *fakeAggregator) Live(_ context.Context) ([]*consensus.Record, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.panics {
		panic("parser blew up")
	}
	return f.records, f.err
}

type fakeStore struct {
	mu       sync.Mutex
	jobs     map[string]*schedule.Job
	sessions int
	sessErrs []string
	saveErr  error
	purged   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*schedule.Job)}
}

func (f *fakeStore) CreateJob(_ context.Context, job *schedule.Job) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.jobs[job.ID]; ok && !existing.Status.Terminal() {
		return false, nil
	}
	f.jobs[job.ID] = job
	return true, nil
}

func (f *fakeStore) GetJob(_ context.Context, id string) (*schedule.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return j, nil
}

func (f *fakeStore) GetScheduledJobs(_ context.Context, activeOnly bool) ([]*schedule.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*schedule.Job
	for _, j := range f.jobs {
		if activeOnly && j.Status.Terminal() {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeStore) MarkRunning(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || j.Status != schedule.StatusScheduled {
		return false, nil
	}
	j.Status = schedule.StatusRunning
	return true, nil
}

func (f *fakeStore) UpdateJobStatus(_ context.Context, id string, status schedule.Status, result *schedule.Result, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.Status = status
	j.LastResult = result
	j.Reason = reason
	return nil
}

func (f *fakeStore) PurgeBefore(_ context.Context, _ time.Time) (int64, error) {
	return f.purged, nil
}

func (f *fakeStore) TodayStats(_ context.Context) (*store.Stats, error) {
	return &store.Stats{Completed: 3, Failed: 1, Sessions: 2}, nil
}

func (f *fakeStore) SaveSession(_ context.Context, _ []*consensus.Record, _ string, _ time.Duration, errs []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.sessions++
	f.sessErrs = append(f.sessErrs, errs...)
	return "session-1", nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeNotifier) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func record(away, home string, pct int, dir consensus.Direction) *consensus.Record {
	rec := &consensus.Record{
		Sport:       "mlb",
		AwayTeam:    away,
		HomeTeam:    home,
		ExpertCount: 20,
	}
	rec.SetConsensus(pct, dir)
	return rec
}

func dueJob(fs *fakeStore, away, home string, baseline *schedule.Result) *schedule.Job {
	job := schedule.NewJob("mlb", away, home, "7:05 pm ET", time.Now())
	job.LastResult = baseline
	fs.CreateJob(context.Background(), job)
	return job
}

func newTestService(agg Aggregator, fs *fakeStore, n *fakeNotifier) *Service {
	return New(Config{Tolerance: 2 * time.Minute, MinDelta: 5},
		agg, fs, fs, n, logger.NewMetrics(), zerolog.Nop())
}

func TestPollExecutesDueJob(t *testing.T) {
	fs := newFakeStore()
	agg := &fakeAggregator{records: []*consensus.Record{
		record("NYY", "BOS", 85, consensus.DirectionOver),
	}}
	n := &fakeNotifier{}
	job := dueJob(fs, "NYY", "BOS",
		&schedule.Result{Pct: 78, Direction: consensus.DirectionOver})

	s := newTestService(agg, fs, n)
	s.poll(context.Background())
	s.wg.Wait()

	got, _ := fs.GetJob(context.Background(), job.ID)
	if got.Status != schedule.StatusCompleted {
		t.Fatalf("status = %q, want completed (reason %q)", got.Status, got.Reason)
	}
	if got.LastResult == nil || got.LastResult.Delta != 7 || !got.LastResult.Significant {
		t.Errorf("result = %+v, want delta 7 significant", got.LastResult)
	}
	if msgs := n.messages(); len(msgs) != 1 || !strings.Contains(msgs[0], "NYY") {
		t.Errorf("expected one movement alert, got %v", msgs)
	}
	if fs.sessions != 1 {
		t.Errorf("sessions saved = %d, want 1", fs.sessions)
	}
	if s.metrics.Counter("jobs.completed") != 1 {
		t.Error("completed counter not bumped")
	}
}

func TestPollSkipsNotDueJobs(t *testing.T) {
	fs := newFakeStore()
	agg := &fakeAggregator{}
	job := schedule.NewJob("mlb", "SF", "LAD", "10:10 pm ET", time.Now().Add(time.Hour))
	fs.CreateJob(context.Background(), job)

	s := newTestService(agg, fs, &fakeNotifier{})
	s.poll(context.Background())
	s.wg.Wait()

	got, _ := fs.GetJob(context.Background(), job.ID)
	if got.Status != schedule.StatusScheduled {
		t.Errorf("status = %q, job an hour out must stay scheduled", got.Status)
	}
	if agg.calls != 0 {
		t.Errorf("aggregator called %d times, want 0", agg.calls)
	}
}

func TestExecuteInsignificantMovementNoAlert(t *testing.T) {
	fs := newFakeStore()
	agg := &fakeAggregator{records: []*consensus.Record{
		record("NYY", "BOS", 80, consensus.DirectionOver),
	}}
	n := &fakeNotifier{}
	job := dueJob(fs, "NYY", "BOS",
		&schedule.Result{Pct: 78, Direction: consensus.DirectionOver})

	s := newTestService(agg, fs, n)
	s.poll(context.Background())
	s.wg.Wait()

	got, _ := fs.GetJob(context.Background(), job.ID)
	if got.Status != schedule.StatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.LastResult.Significant {
		t.Error("a 2-point move must not be significant")
	}
	if len(n.messages()) != 0 {
		t.Errorf("no alert expected, got %v", n.messages())
	}
}

func TestExecuteDirectionFlipAlwaysSignificant(t *testing.T) {
	fs := newFakeStore()
	agg := &fakeAggregator{records: []*consensus.Record{
		record("NYY", "BOS", 55, consensus.DirectionUnder),
	}}
	n := &fakeNotifier{}
	job := dueJob(fs, "NYY", "BOS",
		&schedule.Result{Pct: 52, Direction: consensus.DirectionOver})

	s := newTestService(agg, fs, n)
	s.poll(context.Background())
	s.wg.Wait()

	got, _ := fs.GetJob(context.Background(), job.ID)
	if got.LastResult == nil || !got.LastResult.Flipped || !got.LastResult.Significant {
		t.Errorf("result = %+v, want flipped and significant", got.LastResult)
	}
	if msgs := n.messages(); len(msgs) != 1 || !strings.Contains(msgs[0], "Flipped") {
		t.Errorf("expected a flip alert, got %v", msgs)
	}
}

func TestExecuteNoMatchFails(t *testing.T) {
	fs := newFakeStore()
	agg := &fakeAggregator{records: []*consensus.Record{
		record("CHC", "STL", 75, consensus.DirectionOver),
	}}
	job := dueJob(fs, "NYY", "BOS", nil)

	s := newTestService(agg, fs, &fakeNotifier{})
	s.poll(context.Background())
	s.wg.Wait()

	got, _ := fs.GetJob(context.Background(), job.ID)
	if got.Status != schedule.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.Reason != "no event match found" {
		t.Errorf("reason = %q", got.Reason)
	}
}

func TestExecuteFetchErrorFailsAndRecordsSession(t *testing.T) {
	fs := newFakeStore()
	agg := &fakeAggregator{err: errors.New("connection refused")}
	job := dueJob(fs, "NYY", "BOS", nil)

	s := newTestService(agg, fs, &fakeNotifier{})
	s.poll(context.Background())
	s.wg.Wait()

	got, _ := fs.GetJob(context.Background(), job.ID)
	if got.Status != schedule.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if !strings.Contains(got.Reason, "connection refused") {
		t.Errorf("reason = %q", got.Reason)
	}
	if fs.sessions != 1 || len(fs.sessErrs) != 1 {
		t.Errorf("failed fetch must still record a session with its error")
	}
}

func TestSaveSessionCountsOnlySuccessfulWrites(t *testing.T) {
	fs := newFakeStore()
	fs.saveErr = errors.New("disk full")
	s := newTestService(&fakeAggregator{}, fs, &fakeNotifier{})

	s.saveSession(nil, time.Second, nil)
	if got := s.metrics.Counter("sessions.saved"); got != 0 {
		t.Errorf("sessions.saved = %d after a failed write, want 0", got)
	}

	fs.saveErr = nil
	s.saveSession(nil, time.Second, nil)
	if got := s.metrics.Counter("sessions.saved"); got != 1 {
		t.Errorf("sessions.saved = %d after a successful write, want 1", got)
	}
}

func TestExecutePanicIsContained(t *testing.T) {
	fs := newFakeStore()
	agg := &fakeAggregator{panics: true}
	job := dueJob(fs, "NYY", "BOS", nil)

	s := newTestService(agg, fs, &fakeNotifier{})
	s.poll(context.Background())
	s.wg.Wait()

	got, _ := fs.GetJob(context.Background(), job.ID)
	if got.Status != schedule.StatusFailed {
		t.Fatalf("status = %q, a panicking job must end up failed", got.Status)
	}
	if !strings.Contains(got.Reason, "panic") {
		t.Errorf("reason = %q", got.Reason)
	}
}

func TestDiffWithoutBaseline(t *testing.T) {
	s := newTestService(&fakeAggregator{}, newFakeStore(), &fakeNotifier{})
	job := schedule.NewJob("mlb", "NYY", "BOS", "7:05 pm ET", time.Now())

	result := s.diff(job, record("NYY", "BOS", 90, consensus.DirectionOver))
	if result.Significant {
		t.Error("no baseline means nothing to compare, not a significant move")
	}
	if result.Pct != 90 || result.Direction != consensus.DirectionOver {
		t.Errorf("snapshot not carried: %+v", result)
	}
}

func TestStartStopLeavesNothingRunning(t *testing.T) {
	fs := newFakeStore()
	agg := &fakeAggregator{records: []*consensus.Record{
		record("NYY", "BOS", 85, consensus.DirectionOver),
	}}
	job := dueJob(fs, "NYY", "BOS", nil)

	s := newTestService(agg, fs, &fakeNotifier{})
	s.cfg.PollInterval = 10 * time.Millisecond
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	got, _ := fs.GetJob(context.Background(), job.ID)
	if got.Status == schedule.StatusRunning || got.Status == schedule.StatusScheduled {
		t.Errorf("status = %q after Stop, want a terminal status", got.Status)
	}
}

func TestDailyReportGoesToNotifier(t *testing.T) {
	fs := newFakeStore()
	n := &fakeNotifier{}
	s := newTestService(&fakeAggregator{}, fs, n)

	s.runDailyReport(context.Background())

	msgs := n.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected one report, got %d", len(msgs))
	}
	if !strings.Contains(msgs[0], "Daily Report") || !strings.Contains(msgs[0], "completed: 3") {
		t.Errorf("unexpected report:\n%s", msgs[0])
	}
}

func TestStartRejectsBadCronSpec(t *testing.T) {
	s := newTestService(&fakeAggregator{}, newFakeStore(), &fakeNotifier{})
	s.cfg.CleanupCron = "not a cron spec"
	if err := s.Start(); err == nil {
		s.Stop()
		t.Fatal("expected an error for a bad cron spec")
	}
}
