package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ranktrack/internal/cache"
	"ranktrack/internal/config"
	"ranktrack/internal/models"
	"ranktrack/internal/repository"
	"ranktrack/internal/scanner"
	"ranktrack/internal/searchapi"
	"ranktrack/internal/trend"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap test database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(
		&models.Keyword{},
		&models.TrackingTarget{},
		&models.KeywordTarget{},
		&models.Observation{},
	); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

func newTestRepos(t *testing.T) (*Repos, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	return &Repos{
		Keyword:     repository.NewKeywordRepository(db),
		Target:      repository.NewTargetRepository(db),
		Observation: repository.NewObservationRepository(db),
	}, db
}

// fakeBatchScanner returns canned results or a canned error.
type fakeBatchScanner struct {
	results map[string]*scanner.Result
	err     error
	calls   int
}

func (f *fakeBatchScanner) ScanBatch(_ context.Context, _ string, targets []scanner.Target, _ scanner.Options) (map[string]*scanner.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	results := make(map[string]*scanner.Result, len(targets))
	for _, target := range targets {
		if r, ok := f.results[target.ProductID]; ok {
			results[target.ProductID] = r
		} else {
			results[target.ProductID] = &scanner.Result{
				Status: models.StatusNotFound,
				Detail: "rank > 0",
			}
		}
	}
	return results, nil
}

func newTestScheduler(t *testing.T, repos *Repos, batchScanner BatchScanner, cfg config.SchedulerConfig) *Scheduler {
	t.Helper()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Hour
	}
	scheduleCache, _ := cache.NewScheduleCache("", "", 0, 0)
	return New(cfg, 90*24*time.Hour, repos, batchScanner, scheduleCache, nil, zap.NewNop())
}

func scheduledEntry(keywordID uint, query string, targetID uint, productID string) repository.ScheduleEntry {
	return repository.ScheduleEntry{
		Keyword: models.Keyword{ID: keywordID, Query: query, IsActive: true},
		Targets: []models.TrackingTarget{
			{ID: targetID, ProductID: productID, IsActive: true},
		},
	}
}

func TestEnqueueSuppressesDuplicateKeyword(t *testing.T) {
	repos, _ := newTestRepos(t)
	s := newTestScheduler(t, repos, &fakeBatchScanner{}, config.SchedulerConfig{})

	entry := scheduledEntry(1, "wireless keyboard", 1, "8263715940")
	now := time.Now()
	s.enqueue(entry, now)
	s.enqueue(entry, now)

	if got := s.queue.Len(); got != 1 {
		t.Errorf("queued jobs = %d, want 1 (second enqueue suppressed)", got)
	}

	// A different keyword is unaffected.
	s.enqueue(scheduledEntry(2, "gaming mouse", 2, "1000000002"), now)
	if got := s.queue.Len(); got != 2 {
		t.Errorf("queued jobs = %d, want 2", got)
	}
}

func TestRunJobPersistsObservations(t *testing.T) {
	repos, db := newTestRepos(t)

	keyword := &models.Keyword{Query: "wireless keyboard", IsActive: true}
	if err := repos.Keyword.Create(keyword); err != nil {
		t.Fatalf("create keyword: %v", err)
	}
	target := &models.TrackingTarget{ProductID: "8263715940", IsActive: true}
	if err := repos.Target.Create(target); err != nil {
		t.Fatalf("create target: %v", err)
	}

	rank := 12
	fake := &fakeBatchScanner{results: map[string]*scanner.Result{
		"8263715940": {
			Rank:         &rank,
			ResolvedID:   "8263715940",
			TotalScanned: 100,
			Status:       models.StatusFound,
		},
	}}
	s := newTestScheduler(t, repos, fake, config.SchedulerConfig{Workers: 1})
	s.state = Running
	s.activeJobs[keyword.ID] = struct{}{}

	job := &Job{
		ID:        uuid.New(),
		KeywordID: keyword.ID,
		Query:     keyword.Query,
		Targets: []JobTarget{
			{TargetID: target.ID, ProductID: target.ProductID},
		},
		RunAt: time.Now(),
	}
	s.runJob(0, job)

	var observations []models.Observation
	if err := db.Find(&observations).Error; err != nil {
		t.Fatalf("load observations: %v", err)
	}
	if len(observations) != 1 {
		t.Fatalf("observations = %d, want 1", len(observations))
	}
	obs := observations[0]
	if obs.Status != models.StatusFound || obs.Rank == nil || *obs.Rank != 12 {
		t.Errorf("observation = %+v, want found at rank 12", obs)
	}

	// The confirmed id is written back to the target.
	updated, err := repos.Target.FindByID(target.ID)
	if err != nil {
		t.Fatalf("reload target: %v", err)
	}
	if updated.EffectiveID != "8263715940" {
		t.Errorf("effective id = %q, want confirmed id persisted", updated.EffectiveID)
	}

	// Completion releases the keyword for the next tick.
	s.mu.Lock()
	_, active := s.activeJobs[keyword.ID]
	s.mu.Unlock()
	if active {
		t.Error("keyword still marked active after job completion")
	}
}

// recordingListener captures completion outcomes for assertions.
type recordingListener struct {
	NopListener
	mu       sync.Mutex
	outcomes map[uint]TargetOutcome
}

func (l *recordingListener) JobCompleted(_ *Job, outcomes map[uint]TargetOutcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes = outcomes
}

func TestRunJobMovementSkipsFailureRows(t *testing.T) {
	repos, _ := newTestRepos(t)

	keyword := &models.Keyword{Query: "wireless keyboard", IsActive: true}
	if err := repos.Keyword.Create(keyword); err != nil {
		t.Fatalf("create keyword: %v", err)
	}
	target := &models.TrackingTarget{ProductID: "8263715940", IsActive: true}
	if err := repos.Target.Create(target); err != nil {
		t.Fatalf("create target: %v", err)
	}

	// A ranked observation followed by a transient error row. The next
	// success must classify against the rank, not the error.
	now := time.Now().UTC()
	prevRank := 15
	err := repos.Observation.RecordBatch([]*models.Observation{
		{KeywordID: keyword.ID, TargetID: target.ID, Rank: &prevRank,
			Status: models.StatusFound, CheckedAt: now.Add(-2 * time.Hour)},
		{KeywordID: keyword.ID, TargetID: target.ID,
			Status: models.StatusError, ErrorDetail: "upstream hiccup",
			CheckedAt: now.Add(-1 * time.Hour)},
	})
	if err != nil {
		t.Fatalf("seed observations: %v", err)
	}

	rank := 8
	fake := &fakeBatchScanner{results: map[string]*scanner.Result{
		"8263715940": {
			Rank:         &rank,
			ResolvedID:   "8263715940",
			TotalScanned: 100,
			Status:       models.StatusFound,
		},
	}}
	listener := &recordingListener{}
	scheduleCache, _ := cache.NewScheduleCache("", "", 0, 0)
	s := New(config.SchedulerConfig{Workers: 1, TickInterval: time.Hour},
		90*24*time.Hour, repos, fake, scheduleCache, listener, zap.NewNop())
	s.state = Running
	s.activeJobs[keyword.ID] = struct{}{}

	s.runJob(0, &Job{
		ID:        uuid.New(),
		KeywordID: keyword.ID,
		Query:     keyword.Query,
		Targets:   []JobTarget{{TargetID: target.ID, ProductID: target.ProductID}},
		RunAt:     time.Now(),
	})

	listener.mu.Lock()
	outcome, ok := listener.outcomes[target.ID]
	listener.mu.Unlock()
	if !ok {
		t.Fatal("completion event carried no outcome for the target")
	}
	if outcome.Movement.Direction != trend.Up {
		t.Fatalf("movement = %s, want up against the last ranked observation", outcome.Movement.Direction)
	}
	if outcome.Movement.Change != 7 {
		t.Errorf("change = %d, want 7 (rank 15 to 8)", outcome.Movement.Change)
	}
}

func TestJobFailureRequeuesWithDelay(t *testing.T) {
	repos, _ := newTestRepos(t)
	s := newTestScheduler(t, repos, &fakeBatchScanner{}, config.SchedulerConfig{
		MaxRetries: 2,
		RetryDelay: time.Minute,
	})
	s.state = Running

	job := &Job{ID: uuid.New(), KeywordID: 1, Query: "keyword", RunAt: time.Now()}
	s.handleJobFailure(job, &searchapi.StatusError{Status: 500, Detail: "upstream hiccup"})

	if job.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", job.Attempts)
	}
	if got := s.queue.Len(); got != 1 {
		t.Fatalf("queued jobs = %d, want the retry requeued", got)
	}
	if job.RunAt.Before(time.Now().Add(30 * time.Second)) {
		t.Errorf("retry scheduled at %s, want the delay applied", job.RunAt)
	}
}

func TestJobFailureTerminalRecordsErrorObservations(t *testing.T) {
	repos, db := newTestRepos(t)
	s := newTestScheduler(t, repos, &fakeBatchScanner{}, config.SchedulerConfig{MaxRetries: 1})
	s.state = Running

	job := &Job{
		ID:        uuid.New(),
		KeywordID: 1,
		Query:     "keyword",
		Targets:   []JobTarget{{TargetID: 7, ProductID: "8263715940"}},
		RunAt:     time.Now(),
		Attempts:  1, // retry budget already spent
	}
	s.activeJobs[job.KeywordID] = struct{}{}
	s.handleJobFailure(job, &searchapi.StatusError{Status: 500, Detail: "upstream hiccup"})

	if got := s.queue.Len(); got != 0 {
		t.Errorf("queued jobs = %d, want 0 for a terminal failure", got)
	}

	var observations []models.Observation
	if err := db.Find(&observations).Error; err != nil {
		t.Fatalf("load observations: %v", err)
	}
	if len(observations) != 1 || observations[0].Status != models.StatusError {
		t.Fatalf("observations = %+v, want one error row", observations)
	}
	if observations[0].ErrorDetail == "" {
		t.Error("error observation missing the failure cause")
	}

	s.mu.Lock()
	_, active := s.activeJobs[job.KeywordID]
	s.mu.Unlock()
	if active {
		t.Error("keyword still marked active after terminal failure")
	}
}

func TestCircuitBreakerTripsAtThreshold(t *testing.T) {
	repos, _ := newTestRepos(t)
	s := newTestScheduler(t, repos, &fakeBatchScanner{}, config.SchedulerConfig{
		MaxRetries:       0,
		FailureThreshold: 3,
	})
	s.state = Running

	for i := 0; i < 2; i++ {
		job := &Job{ID: uuid.New(), KeywordID: uint(i + 1), Query: "keyword", RunAt: time.Now()}
		s.handleJobFailure(job, &searchapi.StatusError{Status: 503, Detail: "unavailable"})
		if got := s.State(); got != Running {
			t.Fatalf("state after %d failures = %s, want running below the threshold", i+1, got)
		}
	}

	job := &Job{ID: uuid.New(), KeywordID: 3, Query: "keyword", RunAt: time.Now()}
	s.handleJobFailure(job, &searchapi.StatusError{Status: 503, Detail: "unavailable"})
	if got := s.State(); got != ErrorState {
		t.Fatalf("state after threshold = %s, want error", got)
	}
}

func TestCircuitBreakerTripsImmediatelyOnFatal(t *testing.T) {
	repos, _ := newTestRepos(t)
	s := newTestScheduler(t, repos, &fakeBatchScanner{}, config.SchedulerConfig{
		MaxRetries:       5,
		FailureThreshold: 10,
	})
	s.state = Running

	job := &Job{ID: uuid.New(), KeywordID: 1, Query: "keyword", RunAt: time.Now()}
	s.handleJobFailure(job, &searchapi.AuthError{Status: 401, Detail: "bad credentials"})

	if got := s.State(); got != ErrorState {
		t.Fatalf("state after auth failure = %s, want error (no point retrying)", got)
	}
	if got := s.queue.Len(); got != 0 {
		t.Errorf("queued jobs = %d, want 0 (fatal faults are never retried)", got)
	}
}

func TestResumeClearsBreaker(t *testing.T) {
	repos, _ := newTestRepos(t)
	s := newTestScheduler(t, repos, &fakeBatchScanner{}, config.SchedulerConfig{FailureThreshold: 1})
	s.state = Running

	s.handleJobFailure(
		&Job{ID: uuid.New(), KeywordID: 1, Query: "keyword", RunAt: time.Now()},
		&searchapi.StatusError{Status: 500, Detail: "boom"},
	)
	if got := s.State(); got != ErrorState {
		t.Fatalf("state = %s, want error before resume", got)
	}

	s.Resume()
	if got := s.State(); got != Running {
		t.Fatalf("state after resume = %s, want running", got)
	}
	if got := s.Snapshot().ConsecutiveFailures; got != 0 {
		t.Errorf("consecutive failures after resume = %d, want 0", got)
	}
}

func TestTickEnqueuesActiveSchedule(t *testing.T) {
	repos, _ := newTestRepos(t)

	keyword := &models.Keyword{Query: "wireless keyboard", IsActive: true}
	if err := repos.Keyword.Create(keyword); err != nil {
		t.Fatalf("create keyword: %v", err)
	}
	target := &models.TrackingTarget{ProductID: "8263715940", IsActive: true}
	if err := repos.Target.Create(target); err != nil {
		t.Fatalf("create target: %v", err)
	}
	if err := repos.Keyword.Link(keyword.ID, target.ID); err != nil {
		t.Fatalf("link: %v", err)
	}

	s := newTestScheduler(t, repos, &fakeBatchScanner{}, config.SchedulerConfig{})
	s.state = Running

	s.tick()
	if got := s.queue.Len(); got != 1 {
		t.Fatalf("queued jobs = %d, want 1 after tick", got)
	}

	// The keyword is in flight, so another tick adds nothing.
	s.tick()
	if got := s.queue.Len(); got != 1 {
		t.Errorf("queued jobs = %d, want duplicate tick suppressed", got)
	}
}

func TestTickSchedulePicksUpInvalidation(t *testing.T) {
	repos, _ := newTestRepos(t)

	keyword := &models.Keyword{Query: "wireless keyboard", IsActive: true}
	if err := repos.Keyword.Create(keyword); err != nil {
		t.Fatalf("create keyword: %v", err)
	}
	target := &models.TrackingTarget{ProductID: "8263715940", IsActive: true}
	if err := repos.Target.Create(target); err != nil {
		t.Fatalf("create target: %v", err)
	}
	if err := repos.Keyword.Link(keyword.ID, target.ID); err != nil {
		t.Fatalf("link: %v", err)
	}

	s := newTestScheduler(t, repos, &fakeBatchScanner{}, config.SchedulerConfig{})
	s.state = Running
	s.tick() // caches the one-keyword schedule

	second := &models.Keyword{Query: "gaming mouse", IsActive: true}
	if err := repos.Keyword.Create(second); err != nil {
		t.Fatalf("create second keyword: %v", err)
	}
	if err := repos.Keyword.Link(second.ID, target.ID); err != nil {
		t.Fatalf("link second: %v", err)
	}

	// Without invalidation the stale snapshot hides the new keyword.
	s.tick()
	if got := s.queue.Len(); got != 1 {
		t.Fatalf("queued jobs = %d, want stale cache to hide the new keyword", got)
	}

	s.InvalidateSchedule(context.Background())
	s.tick()
	if got := s.queue.Len(); got != 2 {
		t.Errorf("queued jobs = %d, want 2 after invalidation", got)
	}
}

func TestPauseBlocksTick(t *testing.T) {
	repos, _ := newTestRepos(t)
	s := newTestScheduler(t, repos, &fakeBatchScanner{}, config.SchedulerConfig{})
	s.state = Running

	s.Pause()
	s.tick()
	if got := s.queue.Len(); got != 0 {
		t.Errorf("queued jobs = %d, want 0 while paused", got)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	repos, _ := newTestRepos(t)
	s := newTestScheduler(t, repos, &fakeBatchScanner{}, config.SchedulerConfig{Workers: 2})

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := s.State(); got != Running {
		t.Fatalf("state after start = %s, want running", got)
	}

	// A second start is rejected while running.
	if err := s.Start(); err == nil {
		t.Error("Start() on a running scheduler returned nil error")
	}

	s.Stop()
	if got := s.State(); got != Idle {
		t.Fatalf("state after stop = %s, want idle", got)
	}

	// Stop on an idle scheduler is a no-op.
	s.Stop()
	if got := s.State(); got != Idle {
		t.Fatalf("state after second stop = %s, want idle", got)
	}
}
