// Package scheduler dispatches connector indexing runs. On-demand triggers
// land on a buffered queue served by a fixed worker pool; periodic schedules
// are one recurring job per connector, reconciled from the connector rows.
// Runs for the same connector id are serialized, so a second trigger blocks
// behind the first instead of racing it.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/MODSetter/SurfSense-sub000/pkg/connectors"
	"github.com/MODSetter/SurfSense-sub000/pkg/indexer"
	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

const (
	defaultWorkers   = 3
	defaultQueueSize = 64
)

// Runner is the slice of the indexer the scheduler drives.
type Runner interface {
	RunConnector(ctx context.Context, params indexer.RunParams) (*indexer.RunResult, error)
}

// TriggerParams is one on-demand run request.
type TriggerParams struct {
	ConnectorID uint
	SpaceID     uint
	UserID      string

	// StartDate and EndDate are raw caller strings; sentinels normalize to
	// empty before the run resolves its window.
	StartDate string
	EndDate   string

	MaxItems   int
	DriveItems *DriveItems
}

// DriveItems narrows a Drive run to the chosen folders and files.
type DriveItems struct {
	Folders []string `json:"folders"`
	Files   []string `json:"files"`
}

// TriggerResult is the caller-facing receipt for a queued run.
type TriggerResult struct {
	Message      string `json:"message"`
	ConnectorID  uint   `json:"connector_id"`
	SpaceID      uint   `json:"space_id"`
	IndexingFrom string `json:"indexing_from,omitempty"`
	IndexingTo   string `json:"indexing_to,omitempty"`
}

// Config wires a Scheduler.
type Config struct {
	DB     *gorm.DB
	Runner Runner

	// Workers is the pool size; runs for distinct connectors execute in
	// parallel up to this bound.
	Workers int

	// QueueSize bounds how many runs wait for a worker.
	QueueSize int

	Logger hclog.Logger
}

// Scheduler owns the run queue, the worker pool and the periodic engine.
type Scheduler struct {
	db     *gorm.DB
	runner Runner
	logger hclog.Logger

	queue   chan indexer.RunParams
	workers int

	// locks serializes runs per connector id, created lazily.
	locks sync.Map

	mu   sync.Mutex
	cron gocron.Scheduler
	jobs map[uint]gocron.Job

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Scheduler. Call Start before triggering runs.
func New(cfg Config) (*Scheduler, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create periodic scheduler: %w", err)
	}

	return &Scheduler{
		db:      cfg.DB,
		runner:  cfg.Runner,
		logger:  cfg.Logger.Named("scheduler"),
		queue:   make(chan indexer.RunParams, cfg.QueueSize),
		workers: cfg.Workers,
		cron:    cron,
		jobs:    make(map[uint]gocron.Job),
	}, nil
}

// Start launches the worker pool, rebuilds periodic jobs from the connector
// rows and begins firing them.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(s.workers)
	for i := 0; i < s.workers; i++ {
		go s.worker(runCtx)
	}

	if err := s.reconcileSchedules(); err != nil {
		return err
	}
	s.cron.Start()
	s.refreshNextRuns()

	s.mu.Lock()
	jobs := len(s.jobs)
	s.mu.Unlock()
	s.logger.Info("scheduler started", "workers", s.workers, "periodic_jobs", jobs)
	return nil
}

// Stop halts the periodic engine and the worker pool. Queued runs that never
// reached a worker are dropped; in-flight runs see their context cancelled.
func (s *Scheduler) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return s.cron.Shutdown()
}

// Trigger validates and enqueues one on-demand run. The send blocks while
// the queue is full, bounded by the caller's context.
func (s *Scheduler) Trigger(ctx context.Context, params TriggerParams) (*TriggerResult, error) {
	conn, err := models.GetConnector(s.db, params.ConnectorID)
	if err != nil {
		return nil, fmt.Errorf("load connector %d: %w", params.ConnectorID, err)
	}
	if params.SpaceID != 0 && conn.SearchSpaceID != params.SpaceID {
		return nil, fmt.Errorf("connector %d does not belong to search space %d",
			params.ConnectorID, params.SpaceID)
	}
	if !conn.IsIndexable {
		return nil, fmt.Errorf("connector %q is not indexable", conn.Name)
	}

	from := connectors.NormalizeDate(params.StartDate)
	to := connectors.NormalizeDate(params.EndDate)

	run := indexer.RunParams{
		ConnectorID:       conn.ID,
		UserID:            params.UserID,
		StartDate:         from,
		EndDate:           to,
		UpdateLastIndexed: true,
		MaxItems:          params.MaxItems,
	}
	if run.UserID == "" {
		run.UserID = conn.UserID
	}
	if ov := params.DriveItems.configOverride(); ov != nil {
		run.ConfigOverride = ov
	}

	select {
	case s.queue <- run:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.logger.Debug("run queued", "connector", conn.ID, "from", from, "to", to)
	return &TriggerResult{
		Message:      fmt.Sprintf("Indexing run queued for %s", conn.Name),
		ConnectorID:  conn.ID,
		SpaceID:      conn.SearchSpaceID,
		IndexingFrom: from,
		IndexingTo:   to,
	}, nil
}

func (d *DriveItems) configOverride() map[string]interface{} {
	if d == nil || (len(d.Folders) == 0 && len(d.Files) == 0) {
		return nil
	}
	ov := make(map[string]interface{}, 2)
	if len(d.Folders) > 0 {
		ov["folders"] = d.Folders
	}
	if len(d.Files) > 0 {
		ov["files"] = d.Files
	}
	return ov
}

// EnsureSchedule reconciles the recurring job for one connector row: creates
// it, replaces it on a cadence change, removes it when periodic indexing is
// switched off. Safe to call on every connector mutation.
func (s *Scheduler) EnsureSchedule(conn *models.Connector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[conn.ID]
	active := conn.IsIndexable &&
		conn.PeriodicIndexingEnabled &&
		conn.IndexingFrequencyMinutes > 0

	if !active {
		if exists {
			s.removeJobLocked(conn.ID, job)
		}
		if exists || conn.NextScheduledAt != nil {
			return conn.SetNextScheduledAt(s.db, nil)
		}
		return nil
	}

	if exists {
		s.removeJobLocked(conn.ID, job)
	}

	every := time.Duration(conn.IndexingFrequencyMinutes) * time.Minute
	j, err := s.cron.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(s.firePeriodic, conn.ID),
		gocron.WithName(fmt.Sprintf("index-connector-%d", conn.ID)),
	)
	if err != nil {
		return fmt.Errorf("schedule connector %d: %w", conn.ID, err)
	}
	s.jobs[conn.ID] = j
	s.logger.Info("periodic indexing scheduled", "connector", conn.ID, "every", every)

	if next, err := j.NextRun(); err == nil && !next.IsZero() {
		return conn.SetNextScheduledAt(s.db, &next)
	}
	return nil
}

func (s *Scheduler) removeJobLocked(connID uint, job gocron.Job) {
	if err := s.cron.RemoveJob(job.ID()); err != nil {
		s.logger.Warn("remove periodic job", "connector", connID, "error", err)
	}
	delete(s.jobs, connID)
}

// firePeriodic enqueues one periodic run. A full queue drops the tick; the
// cadence brings the next one.
func (s *Scheduler) firePeriodic(connID uint) {
	run := indexer.RunParams{ConnectorID: connID, UpdateLastIndexed: true}
	select {
	case s.queue <- run:
	default:
		s.logger.Warn("run queue full, dropping periodic tick", "connector", connID)
	}
	s.advanceNextRun(connID)
}

func (s *Scheduler) advanceNextRun(connID uint) {
	s.mu.Lock()
	job, ok := s.jobs[connID]
	s.mu.Unlock()
	if !ok {
		return
	}
	next, err := job.NextRun()
	if err != nil || next.IsZero() {
		return
	}
	conn, err := models.GetConnector(s.db, connID)
	if err != nil {
		s.logger.Warn("load connector for schedule update", "connector", connID, "error", err)
		return
	}
	if err := conn.SetNextScheduledAt(s.db, &next); err != nil {
		s.logger.Warn("record next scheduled run", "connector", connID, "error", err)
	}
}

// reconcileSchedules rebuilds periodic jobs from the connector rows at
// startup.
func (s *Scheduler) reconcileSchedules() error {
	conns, err := models.GetPeriodicConnectors(s.db)
	if err != nil {
		return fmt.Errorf("load periodic connectors: %w", err)
	}
	for i := range conns {
		if err := s.EnsureSchedule(&conns[i]); err != nil {
			s.logger.Error("schedule connector", "connector", conns[i].ID, "error", err)
		}
	}
	return nil
}

// refreshNextRuns persists next-run times once the periodic engine is
// started; jobs created before Start report none.
func (s *Scheduler) refreshNextRuns() {
	s.mu.Lock()
	jobs := make(map[uint]gocron.Job, len(s.jobs))
	for id, j := range s.jobs {
		jobs[id] = j
	}
	s.mu.Unlock()

	for connID, job := range jobs {
		next, err := job.NextRun()
		if err != nil || next.IsZero() {
			continue
		}
		conn, err := models.GetConnector(s.db, connID)
		if err != nil {
			continue
		}
		if err := conn.SetNextScheduledAt(s.db, &next); err != nil {
			s.logger.Warn("record next scheduled run", "connector", connID, "error", err)
		}
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case params := <-s.queue:
			s.runOne(ctx, params)
		}
	}
}

// runOne holds the per-connector lock for the whole run; concurrent requests
// for the same connector wait their turn.
func (s *Scheduler) runOne(ctx context.Context, params indexer.RunParams) {
	mu := s.lockFor(params.ConnectorID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.runner.RunConnector(ctx, params); err != nil {
		s.logger.Error("connector run failed", "connector", params.ConnectorID, "error", err)
	}
}

func (s *Scheduler) lockFor(connID uint) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(connID, &sync.Mutex{})
	return v.(*sync.Mutex)
}
