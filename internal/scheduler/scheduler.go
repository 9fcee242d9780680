// Package scheduler runs registration tasks across a bounded pool of browser
// contexts in one of two shapes: flat (isolated context per task) or
// hierarchical (instances hosting tab slots).
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jianxianglin808/MY-Cursor-sub001/internal/browser"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/domain"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/flow"
	"github.com/jianxianglin808/MY-Cursor-sub001/pkg/config"
	"github.com/jianxianglin808/MY-Cursor-sub001/pkg/metrics"
)

// Mode selects the concurrency shape.
type Mode string

const (
	// ModeFlat gives every task a fresh, fully isolated browser instance.
	ModeFlat Mode = "flat"
	// ModeHierarchical multiplexes tasks over pre-launched instances, one
	// tab slot per worker.
	ModeHierarchical Mode = "hierarchical"
)

// Scheduler fans tasks out to workers and collects their results. One
// Scheduler serves one batch; the cancel flag is shared with every executor
// so cancellation is observed within a polling interval at any suspension
// point.
type Scheduler struct {
	exec      *flow.Executor
	launcher  browser.Launcher
	cfg       config.PoolConfig
	progress  flow.ProgressSink
	cancelled *atomic.Bool
	observer  func(domain.TaskResult)
	log       *slog.Logger

	mu       sync.Mutex
	cancelFn context.CancelFunc
}

// New builds a Scheduler. The cancelled flag must be the same one injected
// into the executor's Deps.
func New(exec *flow.Executor, launcher browser.Launcher, cfg config.PoolConfig, progress flow.ProgressSink, cancelled *atomic.Bool, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if cancelled == nil {
		cancelled = &atomic.Bool{}
	}

	return &Scheduler{
		exec:      exec,
		launcher:  launcher,
		cfg:       cfg,
		progress:  progress,
		cancelled: cancelled,
		log:       log,
	}
}

// OnResult registers a callback invoked as each task completes, before the
// batch finishes. Calls are serialized by the collector lock. Must be set
// before Run.
func (s *Scheduler) OnResult(fn func(domain.TaskResult)) {
	s.observer = fn
}

// Cancel trips the shared flag and cancels the batch context. Workers stop
// pulling new tasks immediately; a worker blocked inside a mail or SMS poll
// loop observes the context at its next select, within one polling interval.
// In-flight browser contexts are torn down without draining.
func (s *Scheduler) Cancel() {
	s.cancelled.Store(true)

	s.mu.Lock()
	cancel := s.cancelFn
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Run executes the batch in the given mode and returns results sorted by
// task id. Individual task failures never abort the batch; the returned
// error covers scheduling-level failures only.
func (s *Scheduler) Run(ctx context.Context, mode Mode, tasks []*domain.RegistrationTask) ([]domain.TaskResult, error) {
	// The flag alone cannot unblock a worker sitting in a broker poll loop;
	// those loops select on the context. Derive a batch context Cancel can
	// cancel.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancelFn = cancel
	s.mu.Unlock()

	if s.cancelled.Load() {
		cancel()
	}

	switch mode {
	case ModeFlat:
		return s.runFlat(ctx, tasks)
	case ModeHierarchical:
		return s.runHierarchical(ctx, tasks)
	default:
		return nil, fmt.Errorf("unknown scheduling mode: %q", mode)
	}
}

// runFlat runs min(len(tasks), MaxWorkers) workers over a shared backlog.
// Submissions are staggered by StaggerDelay per task index so simultaneous
// signups do not stampede the shared mail and SMS upstreams.
func (s *Scheduler) runFlat(ctx context.Context, tasks []*domain.RegistrationTask) ([]domain.TaskResult, error) {
	concurrency := s.cfg.MaxWorkers
	if len(tasks) < concurrency {
		concurrency = len(tasks)
	}
	if concurrency < 1 {
		return nil, nil
	}

	backlog := make(chan *domain.RegistrationTask, len(tasks))
	collector := newResultCollector(s.observer)

	group, groupCtx := errgroup.WithContext(ctx)

	// feeder: staggered submission, stops on cancellation
	group.Go(func() error {
		defer close(backlog)

		for i, task := range tasks {
			if i > 0 && s.cfg.StaggerDelay > 0 {
				select {
				case <-groupCtx.Done():
					return nil
				case <-time.After(s.cfg.StaggerDelay):
				}
			}

			if s.cancelled.Load() {
				return nil
			}

			select {
			case <-groupCtx.Done():
				return nil
			case backlog <- task:
			}
		}
		return nil
	})

	for w := 0; w < concurrency; w++ {
		worker := w
		group.Go(func() error {
			metrics.WorkerStarted()
			defer metrics.WorkerStopped()

			for task := range backlog {
				if s.cancelled.Load() || groupCtx.Err() != nil {
					return nil
				}

				task.Slot = domain.Slot{Instance: worker}
				collector.add(s.runIsolated(groupCtx, task))
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return collector.sorted(), err
	}

	return collector.sorted(), nil
}

// runIsolated launches a dedicated browser instance for one task and tears
// it down afterwards, forcefully on cancellation.
func (s *Scheduler) runIsolated(ctx context.Context, task *domain.RegistrationTask) (result domain.TaskResult) {
	defer s.recoverTask(task, &result)

	start := time.Now()
	defer func() { metrics.RecordTask(string(ModeFlat), statusOf(result), time.Since(start)) }()

	instance, err := s.launcher.Launch(ctx)
	if err != nil {
		return failed(task, fmt.Sprintf("launch browser: %v", err))
	}
	defer instance.Close()

	tab, err := instance.NewTab(ctx)
	if err != nil {
		return failed(task, fmt.Sprintf("open tab: %v", err))
	}

	return s.exec.Run(ctx, tab, task)
}

// runHierarchical pre-launches Instances browsers, opens TabsPerInstance
// slots on each, and round-robins tasks onto slots at submission time. A
// task stays on its assigned slot; there is no rebalancing.
func (s *Scheduler) runHierarchical(ctx context.Context, tasks []*domain.RegistrationTask) ([]domain.TaskResult, error) {
	totalSlots := s.cfg.Instances * s.cfg.TabsPerInstance
	if totalSlots < 1 {
		return nil, fmt.Errorf("hierarchical mode needs at least one slot")
	}

	instances := make([]browser.Instance, 0, s.cfg.Instances)
	defer func() {
		// force-terminate owned instances; no draining
		for _, inst := range instances {
			_ = inst.Close()
		}
	}()

	for i := 0; i < s.cfg.Instances; i++ {
		inst, err := s.launcher.Launch(ctx)
		if err != nil {
			return nil, fmt.Errorf("launch instance %d: %w", i, err)
		}
		instances = append(instances, inst)
	}

	// Per-slot backlogs, assigned at submission time.
	backlogs := make([]chan *domain.RegistrationTask, totalSlots)
	for i := range backlogs {
		backlogs[i] = make(chan *domain.RegistrationTask, len(tasks))
	}
	for i, task := range tasks {
		slot := i % totalSlots
		task.Slot = domain.Slot{Instance: slot / s.cfg.TabsPerInstance, Tab: slot % s.cfg.TabsPerInstance}
		backlogs[slot] <- task
	}
	for i := range backlogs {
		close(backlogs[i])
	}

	collector := newResultCollector(s.observer)
	group, groupCtx := errgroup.WithContext(ctx)

	for slot := 0; slot < totalSlots; slot++ {
		slot := slot
		instance := instances[slot/s.cfg.TabsPerInstance]
		backlog := backlogs[slot]

		group.Go(func() error {
			metrics.WorkerStarted()
			defer metrics.WorkerStopped()

			// stagger slot start-up like flat staggers submissions
			if s.cfg.StaggerDelay > 0 && slot > 0 {
				select {
				case <-groupCtx.Done():
					return nil
				case <-time.After(time.Duration(slot) * s.cfg.StaggerDelay):
				}
			}

			for task := range backlog {
				if s.cancelled.Load() || groupCtx.Err() != nil {
					return nil
				}

				collector.add(s.runOnSlot(groupCtx, instance, task))
			}
			return nil
		})
	}

	err := group.Wait()
	return collector.sorted(), err
}

// runOnSlot opens a fresh tab on the slot's host instance for each task.
func (s *Scheduler) runOnSlot(ctx context.Context, instance browser.Instance, task *domain.RegistrationTask) (result domain.TaskResult) {
	defer s.recoverTask(task, &result)

	start := time.Now()
	defer func() { metrics.RecordTask(string(ModeHierarchical), statusOf(result), time.Since(start)) }()

	tab, err := instance.NewTab(ctx)
	if err != nil {
		return failed(task, fmt.Sprintf("open tab: %v", err))
	}
	defer tab.Close()

	return s.exec.Run(ctx, tab, task)
}

// recoverTask is the worker boundary: a panic inside one task becomes a
// failed result instead of killing the batch.
func (s *Scheduler) recoverTask(task *domain.RegistrationTask, result *domain.TaskResult) {
	if r := recover(); r != nil {
		s.log.Error("worker panic recovered", "task_id", task.ID, "panic", fmt.Sprint(r))
		*result = failed(task, fmt.Sprintf("internal error: %v", r))
	}
}

func failed(task *domain.RegistrationTask, reason string) domain.TaskResult {
	return domain.TaskResult{
		TaskID:    task.ID,
		Success:   false,
		Email:     task.Account.Email,
		Err:       reason,
		Timestamp: time.Now(),
	}
}

func statusOf(result domain.TaskResult) string {
	if result.Success {
		return "ok"
	}
	return "failed"
}

// resultCollector accumulates results from concurrent workers and restores
// deterministic order.
type resultCollector struct {
	mu       sync.Mutex
	results  []domain.TaskResult
	observer func(domain.TaskResult)
}

func newResultCollector(observer func(domain.TaskResult)) *resultCollector {
	return &resultCollector{observer: observer}
}

func (c *resultCollector) add(result domain.TaskResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, result)

	if c.observer != nil {
		c.observer(result)
	}
}

// sorted returns the collected results ordered by task id. Completion order
// across workers is arbitrary; reporting order must not be.
func (c *resultCollector) sorted() []domain.TaskResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.TaskResult, len(c.results))
	copy(out, c.results)
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}
