// Package scheduler runs periodic batch rank scans for every active
// keyword, with a bounded worker pool, per-keyword duplicate suppression,
// bounded retries and a consecutive-failure circuit breaker.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"ranktrack/internal/cache"
	"ranktrack/internal/config"
	"ranktrack/internal/models"
	"ranktrack/internal/repository"
	"ranktrack/internal/scanner"
	"ranktrack/internal/searchapi"
	"ranktrack/internal/trend"
)

// State of the scheduler's lifecycle.
type State int

const (
	Idle State = iota
	Running
	Paused
	Stopping
	// ErrorState is entered when the consecutive-failure threshold is
	// crossed; only an explicit Resume clears it.
	ErrorState
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	case ErrorState:
		return "error"
	default:
		return "unknown"
	}
}

// popWait bounds how long a worker blocks on the queue before re-checking
// pause/stop signals.
const popWait = 1 * time.Second

// BatchScanner is the scan contract the scheduler drives.
type BatchScanner interface {
	ScanBatch(ctx context.Context, keyword string, targets []scanner.Target, opts scanner.Options) (map[string]*scanner.Result, error)
}

// Repos bundles the repositories scheduler jobs touch.
type Repos struct {
	Keyword     *repository.KeywordRepository
	Target      *repository.TargetRepository
	Observation *repository.ObservationRepository
}

// Scheduler creates scan jobs on a fixed tick and dispatches them to a
// bounded worker pool.
type Scheduler struct {
	cfg       config.SchedulerConfig
	retention time.Duration
	logger    *zap.Logger
	repos     *Repos
	scanner   BatchScanner
	schedule  cache.ScheduleCache
	listener  Listener

	cron  *cron.Cron
	queue *jobQueue

	mu          sync.Mutex
	state       State
	activeJobs  map[uint]struct{} // keyword ids with an in-flight job
	consecutive int               // consecutive job failures

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. listener may be nil.
func New(cfg config.SchedulerConfig, retention time.Duration, repos *Repos, batchScanner BatchScanner, schedule cache.ScheduleCache, listener Listener, logger *zap.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 10 * time.Minute
	}
	if listener == nil {
		listener = NopListener{}
	}
	if schedule == nil {
		schedule, _ = cache.NewScheduleCache("", "", 0, 0)
	}
	s := &Scheduler{
		cfg:        cfg,
		retention:  retention,
		logger:     logger,
		repos:      repos,
		scanner:    batchScanner,
		schedule:   schedule,
		listener:   listener,
		cron:       cron.New(cron.WithSeconds()),
		queue:      newJobQueue(),
		state:      Idle,
		activeJobs: make(map[uint]struct{}),
	}

	s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.TickInterval), func() {
		s.logger.Debug("Running: scan schedule tick")
		s.tick()
	})

	// Retention purge - daily at 4 AM
	s.cron.AddFunc("0 0 4 * * *", func() {
		s.logger.Debug("Running: observation retention purge")
		s.purge()
	})

	return s
}

// Start launches the tick, the retention purge and the worker pool.
// Starting an already-running scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is %s, not idle", s.state)
	}
	s.setStateLocked(Running)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.cron.Start()

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	// First tick immediately so a fresh start does not wait a full interval.
	go s.tick()

	s.logger.Info("Scheduler started",
		zap.Int("workers", s.cfg.Workers),
		zap.Duration("tick", s.cfg.TickInterval),
	)
	return nil
}

// Pause halts new job creation and dispatch without killing in-flight
// workers.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running {
		s.setStateLocked(Paused)
	}
}

// Resume returns a paused or errored scheduler to Running and resets the
// consecutive-failure counter.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Paused || s.state == ErrorState {
		s.consecutive = 0
		s.setStateLocked(Running)
	}
}

// Stop drains the scheduler: no new jobs are created, workers exit at the
// next dispatch boundary, in-flight network calls complete. Blocks until
// all workers returned.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == Idle || s.state == Stopping {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(Stopping)
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()
	s.wg.Wait()
	<-cronCtx.Done()

	s.mu.Lock()
	s.setStateLocked(Idle)
	s.mu.Unlock()
	s.logger.Info("Scheduler stopped")
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status is a point-in-time snapshot for the control API.
type Status struct {
	State               string `json:"state"`
	QueuedJobs          int    `json:"queued_jobs"`
	ActiveJobs          int    `json:"active_jobs"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// Snapshot reports the scheduler's current status.
func (s *Scheduler) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:               s.state.String(),
		QueuedJobs:          s.queue.Len(),
		ActiveJobs:          len(s.activeJobs),
		ConsecutiveFailures: s.consecutive,
	}
}

// InvalidateSchedule drops the cached schedule; call after keyword/target
// writes so the next tick sees them.
func (s *Scheduler) InvalidateSchedule(ctx context.Context) {
	s.schedule.Invalidate(ctx)
}

// setStateLocked transitions state and fires the event. Caller holds s.mu.
func (s *Scheduler) setStateLocked(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.logger.Info("Scheduler state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	go s.listener.StateChanged(from, to)
}

// tick assembles one job per active keyword that has no job in flight.
func (s *Scheduler) tick() {
	defer s.recoverFromPanic("tick")

	if s.State() != Running {
		return
	}

	entries, err := s.loadSchedule()
	if err != nil {
		s.logger.Error("Failed to load scan schedule", zap.Error(err))
		return
	}

	now := time.Now()
	for _, entry := range entries {
		s.enqueue(entry, now)
	}
}

// enqueue pushes a job for the entry unless the keyword already has one in
// flight (duplicate suppression, checked under the active-job lock).
func (s *Scheduler) enqueue(entry repository.ScheduleEntry, runAt time.Time) {
	s.mu.Lock()
	if _, inFlight := s.activeJobs[entry.Keyword.ID]; inFlight {
		s.mu.Unlock()
		s.logger.Debug("Duplicate job suppressed", zap.Uint("keyword_id", entry.Keyword.ID))
		return
	}
	s.activeJobs[entry.Keyword.ID] = struct{}{}
	s.mu.Unlock()

	targets := make([]JobTarget, len(entry.Targets))
	for i, t := range entry.Targets {
		targets[i] = JobTarget{
			TargetID:    t.ID,
			ProductID:   t.ProductID,
			EffectiveID: t.EffectiveID,
		}
	}

	job := &Job{
		ID:        uuid.New(),
		KeywordID: entry.Keyword.ID,
		Query:     entry.Keyword.Query,
		Targets:   targets,
		RunAt:     runAt,
	}
	s.queue.Push(job)
	s.listener.JobQueued(job)
}

// loadSchedule returns the active schedule, serving from the cache when a
// snapshot exists.
func (s *Scheduler) loadSchedule() ([]repository.ScheduleEntry, error) {
	ctx := context.Background()
	if payload, ok := s.schedule.Get(ctx); ok {
		var entries []repository.ScheduleEntry
		if err := json.Unmarshal(payload, &entries); err == nil {
			return entries, nil
		}
		s.schedule.Invalidate(ctx)
	}

	entries, err := s.repos.Keyword.ActiveSchedule()
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(entries); err == nil {
		s.schedule.Set(ctx, payload)
	}
	return entries, nil
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if s.State() != Running {
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(popWait):
			}
			continue
		}

		job := s.queue.Pop(s.ctx, popWait)
		if job == nil {
			continue
		}
		s.runJob(id, job)
	}
}

func (s *Scheduler) runJob(workerID int, job *Job) {
	defer s.recoverFromPanic("runJob")

	// Pause/stop may have landed between pop and dispatch; put the job back
	// untouched rather than running against a halted scheduler.
	if s.State() != Running {
		s.queue.Push(job)
		return
	}

	s.listener.JobStarted(job)
	s.logger.Debug("Job started",
		zap.Int("worker", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("keyword", job.Query),
		zap.Int("targets", len(job.Targets)),
	)

	results, err := s.scanner.ScanBatch(s.ctx, job.Query, job.scanTargets(), scanner.Options{
		MaxDepth: s.cfg.ScanDepth,
		PageSize: s.cfg.PageSize,
	})
	if err != nil {
		s.handleJobFailure(job, err)
		return
	}

	outcomes, err := s.persistResults(job, results)
	if err != nil {
		s.handleJobFailure(job, err)
		return
	}

	s.mu.Lock()
	s.consecutive = 0
	delete(s.activeJobs, job.KeywordID)
	s.mu.Unlock()

	s.listener.JobCompleted(job, outcomes)
	s.logger.Info("Job completed",
		zap.String("job_id", job.ID.String()),
		zap.String("keyword", job.Query),
		zap.Int("targets", len(outcomes)),
	)
}

// persistResults records one observation per target, keeps newly confirmed
// effective ids, and classifies movement against each target's previous
// successful observation.
func (s *Scheduler) persistResults(job *Job, results map[string]*scanner.Result) (map[uint]TargetOutcome, error) {
	now := time.Now().UTC()
	outcomes := make(map[uint]TargetOutcome, len(job.Targets))
	observations := make([]*models.Observation, 0, len(job.Targets))
	previous := make(map[uint]*models.Observation, len(job.Targets))

	for _, target := range job.Targets {
		result, ok := results[target.ProductID]
		if !ok {
			continue
		}

		// Movement is classified against the last ranked observation, so a
		// transient error row between two found ranks does not read as a
		// new entry.
		prev, err := s.repos.Observation.LatestSuccessful(target.TargetID)
		if err != nil {
			return nil, fmt.Errorf("load previous observation: %w", err)
		}
		previous[target.TargetID] = prev

		obs := &models.Observation{
			KeywordID:    job.KeywordID,
			TargetID:     target.TargetID,
			Rank:         result.Rank,
			Status:       result.Status,
			TotalScanned: result.TotalScanned,
			ErrorDetail:  result.Detail,
			CheckedAt:    now,
		}
		observations = append(observations, obs)

		if result.ResolvedID != "" && result.ResolvedID != target.EffectiveID {
			if err := s.repos.Target.SetEffectiveID(target.TargetID, result.ResolvedID); err != nil {
				s.logger.Warn("Failed to persist effective id",
					zap.Uint("target_id", target.TargetID),
					zap.Error(err),
				)
			}
		}
	}

	if err := s.repos.Observation.RecordBatch(observations); err != nil {
		return nil, fmt.Errorf("record observations: %w", err)
	}

	for _, obs := range observations {
		outcomes[obs.TargetID] = TargetOutcome{
			Observation: *obs,
			Movement:    trend.Classify(previous[obs.TargetID], obs),
		}
	}
	return outcomes, nil
}

// handleJobFailure re-queues retryable faults with a delay and abandons the
// job past the retry bound. Every failure counts against the circuit
// breaker; credential/quota faults trip it immediately.
func (s *Scheduler) handleJobFailure(job *Job, err error) {
	fatal := searchapi.IsFatal(err)
	willRetry := !fatal && job.Attempts < s.cfg.MaxRetries

	s.logger.Error("Job failed",
		zap.String("job_id", job.ID.String()),
		zap.String("keyword", job.Query),
		zap.Int("attempt", job.Attempts+1),
		zap.Bool("will_retry", willRetry),
		zap.Error(err),
	)

	if willRetry {
		job.Attempts++
		job.RunAt = time.Now().Add(s.cfg.RetryDelay)
		s.queue.Push(job)
		s.noteFailure(fatal)
		s.listener.JobFailed(job, err, true)
		return
	}

	// Terminal: keep the fault on the observation record before dropping
	// the job.
	s.recordFailureObservations(job, err)

	s.mu.Lock()
	delete(s.activeJobs, job.KeywordID)
	s.mu.Unlock()

	s.noteFailure(fatal)
	s.listener.JobFailed(job, err, false)
}

func (s *Scheduler) recordFailureObservations(job *Job, cause error) {
	now := time.Now().UTC()
	observations := make([]*models.Observation, 0, len(job.Targets))
	for _, target := range job.Targets {
		observations = append(observations, &models.Observation{
			KeywordID:   job.KeywordID,
			TargetID:    target.TargetID,
			Status:      models.StatusError,
			ErrorDetail: cause.Error(),
			CheckedAt:   now,
		})
	}
	if err := s.repos.Observation.RecordBatch(observations); err != nil {
		s.logger.Error("Failed to record failure observations",
			zap.String("job_id", job.ID.String()),
			zap.Error(err),
		)
	}
}

// noteFailure bumps the consecutive-failure counter and trips the breaker
// at the threshold. A fatal upstream fault trips it immediately.
func (s *Scheduler) noteFailure(fatal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutive++
	if s.state != Running {
		return
	}
	if fatal || (s.cfg.FailureThreshold > 0 && s.consecutive >= s.cfg.FailureThreshold) {
		s.logger.Warn("Circuit breaker tripped",
			zap.Int("consecutive_failures", s.consecutive),
			zap.Bool("fatal", fatal),
		)
		s.setStateLocked(ErrorState)
	}
}

// purge applies the retention horizon to the observation store.
func (s *Scheduler) purge() {
	defer s.recoverFromPanic("purge")

	removed, err := s.repos.Observation.PurgeOlderThan(s.retention)
	if err != nil {
		s.logger.Error("Retention purge failed", zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("Retention purge completed", zap.Int64("removed", removed))
	}
}

func (s *Scheduler) recoverFromPanic(name string) {
	if r := recover(); r != nil {
		s.logger.Error("Scheduler routine panicked",
			zap.String("routine", name),
			zap.Any("error", r),
		)
	}
}
