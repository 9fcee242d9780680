// Package orchestrator composes the registration engine: it generates
// account material, builds a flow executor per batch, and drives the
// scheduler, streaming results back to the caller.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jianxianglin808/MY-Cursor-sub001/internal/browser"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/card"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/domain"
	apperrors "github.com/jianxianglin808/MY-Cursor-sub001/internal/errors"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/flow"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/mail"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/phone"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/repository"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/scheduler"
	"github.com/jianxianglin808/MY-Cursor-sub001/pkg/config"
)

// SummarySink receives the end-of-batch digest. Optional; batches run fine
// without one.
type SummarySink interface {
	ReportSummary(attempted, succeeded, total int, elapsed time.Duration)
}

// Deps carries the long-lived collaborators shared across batches. Per-batch
// state (executor, cancel flag, scheduler) is built fresh in StartBatch.
type Deps struct {
	Launcher browser.Launcher
	Mail     *mail.Reader
	Phone    *phone.Broker
	Cards    *card.Manager
	Accounts repository.AccountRepository
	Progress flow.ProgressSink
	Summary  SummarySink
	Log      *slog.Logger
}

// Orchestrator owns batch lifecycle. One batch runs at a time; Cancel stops
// the in-flight batch without tearing down the orchestrator itself.
type Orchestrator struct {
	cfg  *config.Config
	deps Deps
	log  *slog.Logger

	// running reserves the batch slot inside StartBatch's critical section;
	// current is filled in later, once the scheduler exists.
	mu      sync.Mutex
	running bool
	current *scheduler.Scheduler
	domains []string

	wg sync.WaitGroup
}

// New builds an Orchestrator and loads the mail domain pool. The pool comes
// from the configured file when set, otherwise from the inline list.
func New(cfg *config.Config, deps Deps) (*Orchestrator, error) {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	o := &Orchestrator{
		cfg:  cfg,
		deps: deps,
		log:  deps.Log,
	}

	if err := o.ReloadDomains(); err != nil {
		return nil, err
	}

	return o, nil
}

// ReloadDomains re-reads the domain pool source. Called once at startup and
// again by the file watcher when the domain file changes on disk. An empty
// pool is tolerated here; StartBatch rejects it.
func (o *Orchestrator) ReloadDomains() error {
	pool := o.cfg.Domains.Pool

	if o.cfg.Domains.File != "" {
		loaded, err := loadDomainFile(o.cfg.Domains.File)
		if err != nil {
			return err
		}
		pool = loaded
	}

	o.mu.Lock()
	o.domains = pool
	o.mu.Unlock()

	o.log.Info("domain pool loaded", "count", len(pool))
	return nil
}

// StartBatch launches count registration tasks under the given scheduling
// mode and returns a stream of per-task results in completion order. The
// stream closes after the batch finishes and the summary has been reported.
// Only one batch may run at a time.
func (o *Orchestrator) StartBatch(ctx context.Context, count int, mode scheduler.Mode) (<-chan domain.TaskResult, error) {
	if count < 1 {
		return nil, apperrors.NewValidationError(fmt.Sprintf("batch size must be positive, got %d", count))
	}

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, apperrors.NewValidationError("a batch is already running")
	}
	domains := o.domains
	if len(domains) == 0 {
		o.mu.Unlock()
		return nil, apperrors.NewResourceExhaustedError("mail domains")
	}
	o.running = true
	o.mu.Unlock()

	tasks := make([]*domain.RegistrationTask, 0, count)
	for i := 0; i < count; i++ {
		tasks = append(tasks, &domain.RegistrationTask{
			ID:      i,
			Account: o.generateAccount(domains, i),
		})
	}

	cancelled := &atomic.Bool{}
	exec := flow.NewExecutor(flow.Deps{
		Classifier: flow.NewClassifier(o.log, 0),
		Resolver:   flow.NewChallengeResolver(o.log),
		Mail:       o.deps.Mail,
		Phone:      o.deps.Phone,
		Cards:      o.deps.Cards,
		Store:      o.credentialStore(),
		Progress:   o.deps.Progress,
		Cancelled:  cancelled,
		Log:        o.log,

		Flow:        o.cfg.Flow,
		MailTimeout: pollBudget(o.cfg.Mail.PollInterval, o.cfg.Mail.MaxPolls),
		SMSTimeout:  pollBudget(o.cfg.Phone.PollInterval, o.cfg.Phone.MaxPolls),
	})

	sched := scheduler.New(exec, o.deps.Launcher, o.cfg.Pool, o.deps.Progress, cancelled, o.log)

	results := make(chan domain.TaskResult, count)
	sched.OnResult(func(result domain.TaskResult) {
		results <- result
	})

	o.mu.Lock()
	o.current = sched
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(results)
		defer func() {
			o.mu.Lock()
			o.current = nil
			o.running = false
			o.mu.Unlock()
		}()

		start := time.Now()

		sorted, err := sched.Run(ctx, mode, tasks)
		if err != nil {
			o.log.Error("batch aborted by scheduler", "error", err)
		}

		o.finishBatch(count, sorted, time.Since(start))
	}()

	return results, nil
}

// Cancel trips the current batch's cancel flag. Safe to call when no batch
// is running.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current != nil {
		o.current.Cancel()
	}
}

// Wait blocks until the in-flight batch, if any, has fully unwound. Used
// during shutdown after Cancel.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// finishBatch aggregates results and pushes the digest to the progress and
// summary sinks. Tasks cancelled before submission produce no result, so
// attempted may be lower than the requested count.
func (o *Orchestrator) finishBatch(requested int, results []domain.TaskResult, elapsed time.Duration) {
	summary := domain.BatchSummary{
		Attempted: len(results),
		Total:     requested,
		Results:   results,
	}
	for _, result := range results {
		if result.Success {
			summary.Succeeded++
		}
	}

	o.log.Info("batch finished",
		"requested", requested,
		"attempted", summary.Attempted,
		"succeeded", summary.Succeeded,
		"elapsed", elapsed.Round(time.Second))

	if o.deps.Progress != nil {
		o.deps.Progress.Report(fmt.Sprintf("batch finished: %d/%d succeeded (of %d requested)",
			summary.Succeeded, summary.Attempted, requested))
	}
	if o.deps.Summary != nil {
		o.deps.Summary.ReportSummary(summary.Attempted, summary.Succeeded, requested, elapsed)
	}
}

func (o *Orchestrator) credentialStore() flow.CredentialStore {
	if o.deps.Accounts == nil {
		return nil
	}
	return repoStore{repo: o.deps.Accounts}
}

// repoStore adapts the SQL repository to the executor's narrow store
// contract.
type repoStore struct {
	repo repository.AccountRepository
}

// SaveAccount retries the upsert with bounded backoff. A credential captured
// mid-flow is too valuable to lose to a connection blip.
func (s repoStore) SaveAccount(ctx context.Context, account *domain.Account) error {
	return apperrors.WithRetry(ctx, func() error {
		if err := s.repo.Save(ctx, account); err != nil {
			return apperrors.NewTransientError(fmt.Sprintf("save account %s: %v", account.Email, err))
		}
		return nil
	})
}

func pollBudget(interval time.Duration, polls int) time.Duration {
	if interval <= 0 || polls <= 0 {
		return 0
	}
	return interval * time.Duration(polls)
}

// loadDomainFile reads one domain per line, skipping blanks and comments.
func loadDomainFile(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read domain file %q: %w", path, err)
	}

	var domains []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		domains = append(domains, line)
	}

	return domains, nil
}
