package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jianxianglin808/MY-Cursor-sub001/internal/browser"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/card"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/domain"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/mail"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/phone"
	"github.com/jianxianglin808/MY-Cursor-sub001/pkg/config"
	"github.com/jianxianglin808/MY-Cursor-sub001/pkg/metrics"
)

// sessionCookie holds the authenticated session token once signup completes
// the email verification step.
const sessionCookie = "WorkosCursorSessionToken"

const (
	pollInterval    = time.Second
	unknownBackoff  = 1500 * time.Millisecond
	maxUnknownPolls = 12
	maxTransitions  = 40
	leaveTimeout    = 45 * time.Second
)

// ProgressSink receives human-readable progress lines. Implementations must
// be safe to call from any worker goroutine.
type ProgressSink interface {
	Report(msg string)
}

// CredentialStore persists extracted account credentials.
type CredentialStore interface {
	SaveAccount(ctx context.Context, account *domain.Account) error
}

// StepHandler advances the flow from one classified state. It returns false
// when the step failed unrecoverably; the detail goes into task.Outcome.
type StepHandler interface {
	Handle(ctx context.Context, tab browser.Tab, task *domain.RegistrationTask) bool
}

// StepFunc adapts a function to StepHandler.
type StepFunc func(ctx context.Context, tab browser.Tab, task *domain.RegistrationTask) bool

// Handle invokes the function.
func (f StepFunc) Handle(ctx context.Context, tab browser.Tab, task *domain.RegistrationTask) bool {
	return f(ctx, tab, task)
}

// Deps carries the collaborators one Executor needs. A fresh Executor is
// built per run by the orchestrator; nothing here is global.
type Deps struct {
	Classifier *Classifier
	Resolver   *ChallengeResolver
	Mail       *mail.Reader
	Phone      *phone.Broker
	Cards      *card.Manager
	Store      CredentialStore
	Progress   ProgressSink
	Cancelled  *atomic.Bool
	Log        *slog.Logger

	Flow        config.FlowConfig
	MailTimeout time.Duration
	SMSTimeout  time.Duration
}

// Executor drives one browser tab through the signup flow to a terminal
// outcome. An Executor is safe to reuse sequentially but a task is owned by
// exactly one Executor at a time.
type Executor struct {
	deps     Deps
	handlers map[SignupState]StepHandler
	log      *slog.Logger
}

// NewExecutor builds an Executor and its state-to-handler map.
func NewExecutor(deps Deps) *Executor {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.MailTimeout <= 0 {
		deps.MailTimeout = 60 * time.Second
	}
	if deps.SMSTimeout <= 0 {
		deps.SMSTimeout = 90 * time.Second
	}

	e := &Executor{deps: deps, log: deps.Log}

	e.handlers = map[SignupState]StepHandler{
		StateLogin:             StepFunc(e.handleLogin),
		StateSignupFirstLevel:  StepFunc(e.handleSignupFirstLevel),
		StatePassword:          StepFunc(e.handlePassword),
		StateSignupPassword:    StepFunc(e.handleSignupPassword),
		StateMagicCode:         StepFunc(e.handleMagicCode),
		StatePhoneVerification: StepFunc(e.handlePhoneVerification),
		StateUsageSelection:    StepFunc(e.handleUsageSelection),
		StateProTrial:          StepFunc(e.handleProTrial),
		StateStripePayment:     StepFunc(e.handleStripePayment),
		StateBankVerification:  StepFunc(e.handleBankVerification),
	}

	return e
}

// Run executes the flow for one task and returns its terminal result.
func (e *Executor) Run(ctx context.Context, tab browser.Tab, task *domain.RegistrationTask) domain.TaskResult {
	task.StartedAt = time.Now()
	defer func() { task.FinishedAt = time.Now() }()

	e.report(task, "opening signup page")
	if err := tab.Navigate(ctx, e.deps.Flow.StartURL); err != nil {
		return e.failure(task, fmt.Sprintf("navigate: %v", err))
	}

	previous := StateUnknown
	unknownStreak := 0

	for transition := 0; transition < maxTransitions; transition++ {
		if e.cancelled(ctx) {
			return e.failure(task, "cancelled")
		}

		state := e.deps.Classifier.Classify(ctx, tab)
		if state != previous {
			transitionRecorder(previous.String(), state.String())
			e.report(task, "page state: "+state.String())
			previous = state
		}

		if state.Terminal() {
			e.extractCredentials(ctx, tab, task)
			if !task.Account.HasCredentials() {
				// Dashboard reached but no token; the persisted email and
				// password still make the account recoverable by hand.
				e.log.Warn("terminal state without session token", "task_id", task.ID)
			}
			return e.success(task)
		}

		if state == StateUnknown {
			unknownStreak++
			if unknownStreak > maxUnknownPolls {
				return e.failure(task, "page never reached a recognizable state")
			}
			if !e.sleep(ctx, unknownBackoff) {
				return e.failure(task, "cancelled")
			}
			continue
		}
		unknownStreak = 0

		handler, ok := e.handlers[state]
		if !ok {
			return e.failure(task, "no handler for state "+state.String())
		}

		if !handler.Handle(ctx, tab, task) {
			if task.Outcome == "" {
				task.Outcome = "step failed: " + state.String()
			}
			return e.failure(task, task.Outcome)
		}

		// Once the email step is behind us a session may exist; grab
		// credentials at every transition so a later failure still leaves a
		// persisted, usable account.
		if state >= StateMagicCode {
			e.extractCredentials(ctx, tab, task)
		}
	}

	return e.failure(task, "transition budget exhausted")
}

// extractCredentials reads the session cookie and persists the account. It
// is idempotent: once the token is captured, later calls are no-ops.
func (e *Executor) extractCredentials(ctx context.Context, tab browser.Tab, task *domain.RegistrationTask) {
	if task.Account.HasCredentials() {
		return
	}

	token, err := tab.Cookie(ctx, sessionCookie)
	if err != nil || token == "" {
		return
	}

	task.Account.Token = token
	task.Account.CreatedAt = time.Now()

	if e.deps.Store != nil {
		if err := e.deps.Store.SaveAccount(ctx, task.Account); err != nil {
			e.log.Error("failed to persist account credentials",
				"task_id", task.ID, "email", task.Account.Email, "error", err)
			return
		}
	}

	e.report(task, "credentials captured for "+task.Account.Email)
}

// awaitLeave polls until classification moves off the given state, invoking
// the challenge resolver opportunistically while waiting. Returns false when
// the state never changed within the timeout.
func (e *Executor) awaitLeave(ctx context.Context, tab browser.Tab, from SignupState, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if e.cancelled(ctx) {
			return false
		}

		if state := e.deps.Classifier.Classify(ctx, tab); state != from {
			return true
		}

		if kind, active := e.deps.Resolver.Detect(ctx, tab); active {
			e.report(nil, "resolving challenge: "+string(kind))
			// Failure is non-fatal; the page may re-present or self-pass.
			if e.deps.Resolver.Resolve(ctx, tab, kind) {
				metrics.RecordChallenge(string(kind), "resolved")
			} else {
				metrics.RecordChallenge(string(kind), "failed")
			}
		}

		if !e.sleep(ctx, pollInterval) {
			return false
		}
	}

	return false
}

func (e *Executor) cancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return e.deps.Cancelled != nil && e.deps.Cancelled.Load()
}

// sleep waits for d or returns false on cancellation. Every suspension point
// funnels through here so the cancel flag is observed within one interval.
func (e *Executor) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return !e.cancelled(ctx)
	}
}

func (e *Executor) report(task *domain.RegistrationTask, msg string) {
	if e.deps.Progress == nil {
		return
	}
	if task != nil {
		msg = fmt.Sprintf("[task %d] %s", task.ID, msg)
	}
	e.deps.Progress.Report(msg)
}

func (e *Executor) success(task *domain.RegistrationTask) domain.TaskResult {
	e.report(task, "registration complete")
	return domain.TaskResult{
		TaskID:    task.ID,
		Success:   true,
		Email:     task.Account.Email,
		Timestamp: time.Now(),
	}
}

func (e *Executor) failure(task *domain.RegistrationTask, reason string) domain.TaskResult {
	e.report(task, "failed: "+reason)
	return domain.TaskResult{
		TaskID:    task.ID,
		Success:   false,
		Email:     task.Account.Email,
		Err:       reason,
		Timestamp: time.Now(),
	}
}
