package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jianxianglin808/MY-Cursor-sub001/internal/browser"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/domain"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/flow"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/mail"
	"github.com/jianxianglin808/MY-Cursor-sub001/pkg/config"
)

// silentBackend never delivers a message, pinning workers inside the code
// poll loop.
type silentBackend struct{}

func (silentBackend) Fetch(context.Context, domain.MailboxSession) ([]mail.Message, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubTab lands on whatever URL it is told to navigate to, so a start URL of
// /dashboard drives the executor straight to the terminal state.
type stubTab struct {
	mu  sync.Mutex
	url string
}

func (s *stubTab) Navigate(_ context.Context, url string) error {
	time.Sleep(10 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = url
	return nil
}

func (s *stubTab) URL(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url, nil
}

func (s *stubTab) HTML(context.Context) (string, error) { return "", nil }

func (s *stubTab) Click(context.Context, string) error { return nil }

func (s *stubTab) Type(context.Context, string, string) error { return nil }
func (s *stubTab) WaitVisible(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

func (s *stubTab) Exists(context.Context, string, time.Duration) (bool, error) {
	return false, nil
}

func (s *stubTab) Bounds(context.Context, string) (browser.Rect, error) {
	return browser.Rect{}, nil
}

func (s *stubTab) MoveMouse(context.Context, float64, float64) error { return nil }

func (s *stubTab) ClickAt(context.Context, float64, float64) error { return nil }

func (s *stubTab) Cookie(context.Context, string) (string, error) { return "", nil }

func (s *stubTab) Close() error { return nil }

type stubInstance struct {
	launcher *stubLauncher
	tabs     atomic.Int32
}

func (i *stubInstance) NewTab(context.Context) (browser.Tab, error) {
	i.tabs.Add(1)
	return &stubTab{}, nil
}

func (i *stubInstance) Close() error {
	i.launcher.mu.Lock()
	defer i.launcher.mu.Unlock()
	i.launcher.active--
	return nil
}

// stubLauncher tracks how many instances are alive at once.
type stubLauncher struct {
	mu        sync.Mutex
	launches  int
	active    int
	maxActive int
}

func (l *stubLauncher) Launch(context.Context) (browser.Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.launches++
	l.active++
	if l.active > l.maxActive {
		l.maxActive = l.active
	}
	return &stubInstance{launcher: l}, nil
}

func newTestScheduler(cfg config.PoolConfig) (*Scheduler, *stubLauncher, *atomic.Bool) {
	launcher := &stubLauncher{}
	cancelled := &atomic.Bool{}

	exec := flow.NewExecutor(flow.Deps{
		Classifier: flow.NewClassifier(testLogger(), time.Millisecond),
		Resolver:   flow.NewChallengeResolver(testLogger()),
		Cancelled:  cancelled,
		Log:        testLogger(),
		Flow:       config.FlowConfig{StartURL: "https://cursor.com/dashboard", Variant: "password-first"},
	})

	return New(exec, launcher, cfg, NewLogSink(testLogger()), cancelled, testLogger()), launcher, cancelled
}

func makeTasks(n int) []*domain.RegistrationTask {
	tasks := make([]*domain.RegistrationTask, 0, n)
	for i := 0; i < n; i++ {
		tasks = append(tasks, &domain.RegistrationTask{
			ID:      i,
			Account: &domain.Account{Email: "u@example.com", Password: "pw"},
		})
	}
	return tasks
}

func TestScheduler_RunFlat_CompletesAllTasksSorted(t *testing.T) {
	sched, launcher, _ := newTestScheduler(config.PoolConfig{MaxWorkers: 2})

	results, err := sched.Run(context.Background(), ModeFlat, makeTasks(4))
	require.NoError(t, err)
	require.Len(t, results, 4)

	for i, result := range results {
		assert.Equal(t, i, result.TaskID)
		assert.True(t, result.Success)
	}
	assert.Equal(t, 4, launcher.launches, "flat mode launches one instance per task")
}

func TestScheduler_RunFlat_RespectsWorkerCap(t *testing.T) {
	sched, launcher, _ := newTestScheduler(config.PoolConfig{MaxWorkers: 2})

	_, err := sched.Run(context.Background(), ModeFlat, makeTasks(6))
	require.NoError(t, err)

	assert.LessOrEqual(t, launcher.maxActive, 2)
}

func TestScheduler_RunFlat_CancelBeforeRunProducesNoResults(t *testing.T) {
	sched, launcher, _ := newTestScheduler(config.PoolConfig{MaxWorkers: 2})
	sched.Cancel()

	results, err := sched.Run(context.Background(), ModeFlat, makeTasks(4))
	require.NoError(t, err)

	assert.Empty(t, results)
	assert.Zero(t, launcher.launches)
}

func TestScheduler_Cancel_UnblocksCodePolling(t *testing.T) {
	launcher := &stubLauncher{}
	cancelled := &atomic.Bool{}

	// A generous poll budget: without cancellation this worker would sit in
	// the mail loop for five seconds.
	reader := mail.NewReader(silentBackend{}, config.MailConfig{
		PollInterval:   100 * time.Millisecond,
		MaxPolls:       50,
		StaleTolerance: time.Second,
	}, testLogger())

	exec := flow.NewExecutor(flow.Deps{
		Classifier: flow.NewClassifier(testLogger(), time.Millisecond),
		Resolver:   flow.NewChallengeResolver(testLogger()),
		Mail:       reader,
		Cancelled:  cancelled,
		Log:        testLogger(),
		Flow:       config.FlowConfig{StartURL: "https://cursor.com/magic-code", Variant: "password-first"},
	})

	sched := New(exec, launcher, config.PoolConfig{MaxWorkers: 1}, NewLogSink(testLogger()), cancelled, testLogger())

	done := make(chan []domain.TaskResult, 1)
	start := time.Now()
	go func() {
		results, _ := sched.Run(context.Background(), ModeFlat, makeTasks(1))
		done <- results
	}()

	time.Sleep(300 * time.Millisecond)
	sched.Cancel()

	select {
	case results := <-done:
		assert.Less(t, time.Since(start), 2*time.Second,
			"a worker blocked in the poll loop must unwind within about one interval, not the full budget")
		require.Len(t, results, 1)
		assert.False(t, results[0].Success)
	case <-time.After(3 * time.Second):
		t.Fatal("batch never unwound after cancellation")
	}
}

func TestScheduler_RunHierarchical_SharesInstances(t *testing.T) {
	sched, launcher, _ := newTestScheduler(config.PoolConfig{Instances: 2, TabsPerInstance: 2})

	tasks := makeTasks(6)
	results, err := sched.Run(context.Background(), ModeHierarchical, tasks)
	require.NoError(t, err)
	require.Len(t, results, 6)

	for i, result := range results {
		assert.Equal(t, i, result.TaskID)
		assert.True(t, result.Success)
	}

	assert.Equal(t, 2, launcher.launches, "hierarchical mode pre-launches the configured instances")

	// round-robin slot assignment at submission time
	assert.Equal(t, domain.Slot{Instance: 0, Tab: 0}, tasks[0].Slot)
	assert.Equal(t, domain.Slot{Instance: 0, Tab: 1}, tasks[1].Slot)
	assert.Equal(t, domain.Slot{Instance: 1, Tab: 0}, tasks[2].Slot)
	assert.Equal(t, domain.Slot{Instance: 1, Tab: 1}, tasks[3].Slot)
	assert.Equal(t, domain.Slot{Instance: 0, Tab: 0}, tasks[4].Slot)
}

func TestScheduler_RunHierarchical_RejectsZeroSlots(t *testing.T) {
	sched, _, _ := newTestScheduler(config.PoolConfig{})

	_, err := sched.Run(context.Background(), ModeHierarchical, makeTasks(1))
	assert.Error(t, err)
}

func TestScheduler_Run_UnknownMode(t *testing.T) {
	sched, _, _ := newTestScheduler(config.PoolConfig{MaxWorkers: 1})

	_, err := sched.Run(context.Background(), Mode("pyramid"), makeTasks(1))
	assert.Error(t, err)
}

func TestScheduler_OnResult_StreamsCompletions(t *testing.T) {
	sched, _, _ := newTestScheduler(config.PoolConfig{MaxWorkers: 2})

	var streamed atomic.Int32
	sched.OnResult(func(domain.TaskResult) { streamed.Add(1) })

	results, err := sched.Run(context.Background(), ModeFlat, makeTasks(3))
	require.NoError(t, err)

	assert.Equal(t, int32(len(results)), streamed.Load())
}
