package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/castmatch/outreach-cli/internal/journal"
)

// Task is one scheduled pipeline job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (Result, error)
}

// Scheduler drives registered tasks at fixed intervals with at most one
// concurrent execution per task name, journaling every run. One-shot sweeps
// go through RunTask so they share the guard and the journal.
type Scheduler struct {
	journal journal.Journal
	tasks   []Task

	mu      sync.Mutex
	running map[string]bool
}

// NewScheduler creates a scheduler journaling into j.
func NewScheduler(j journal.Journal) *Scheduler {
	return &Scheduler{journal: j, running: make(map[string]bool)}
}

// Register adds tasks to the scheduled set.
func (s *Scheduler) Register(tasks ...Task) {
	s.tasks = append(s.tasks, tasks...)
}

// Run starts one ticker loop per registered task and blocks until ctx is
// cancelled and every in-flight run has returned.
func (s *Scheduler) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "pipeline.scheduler"))

	var wg sync.WaitGroup
	for _, t := range s.tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, t)
		}()
	}

	log.Info("scheduler started", zap.Int("tasks", len(s.tasks)))
	wg.Wait()
	log.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	log := zap.L().With(zap.String("component", "pipeline.scheduler"), zap.String("task", t.Name))
	log.Info("task scheduled", zap.Duration("interval", t.Interval))

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("task loop stopped")
			return
		case <-ticker.C:
			if _, err := s.RunTask(ctx, t); err != nil && !eris.Is(err, ErrTaskRunning) {
				log.Error("task run failed", zap.Error(err))
			}
		}
	}
}

// ErrTaskRunning means a run was skipped because the previous run of the
// same task has not finished.
var ErrTaskRunning = eris.New("task already running")

// RunTask executes one run of t under the per-task guard, journaling the
// outcome. Returns ErrTaskRunning when a run of the same name is in flight.
func (s *Scheduler) RunTask(ctx context.Context, t Task) (Result, error) {
	if !s.acquire(t.Name) {
		return Result{}, eris.Wrapf(ErrTaskRunning, "pipeline: task %s", t.Name)
	}
	defer s.release(t.Name)

	log := zap.L().With(zap.String("component", "pipeline.scheduler"), zap.String("task", t.Name))

	var entryID int64
	if s.journal != nil {
		var err error
		entryID, err = s.journal.Start(ctx, t.Name)
		if err != nil {
			log.Warn("journal start failed", zap.Error(err))
			entryID = 0
		}
	}

	start := time.Now()
	res, runErr := t.Run(ctx)
	elapsed := time.Since(start)

	if s.journal != nil && entryID != 0 {
		finishErr := s.journal.Finish(ctx, entryID, journal.Result{
			Processed: res.Processed,
			Failed:    res.Failed,
			Err:       runErr,
		})
		if finishErr != nil {
			log.Warn("journal finish failed", zap.Error(finishErr))
		}
	}

	if runErr != nil {
		log.Error("task run failed",
			zap.Duration("elapsed", elapsed), zap.Error(runErr))
		return res, runErr
	}
	log.Info("task run complete",
		zap.Int("processed", res.Processed),
		zap.Int("failed", res.Failed),
		zap.Duration("elapsed", elapsed),
	)
	return res, nil
}

func (s *Scheduler) acquire(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[name] {
		return false
	}
	s.running[name] = true
	return true
}

func (s *Scheduler) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, name)
}
