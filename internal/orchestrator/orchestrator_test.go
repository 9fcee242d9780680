package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jianxianglin808/MY-Cursor-sub001/internal/browser"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/domain"
	apperrors "github.com/jianxianglin808/MY-Cursor-sub001/internal/errors"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/scheduler"
	"github.com/jianxianglin808/MY-Cursor-sub001/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// slowTab lands on whatever URL it navigates to after a short delay, keeping
// a batch in flight long enough for competing callers to race.
type slowTab struct {
	mu  sync.Mutex
	url string
}

func (s *slowTab) Navigate(_ context.Context, url string) error {
	time.Sleep(20 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = url
	return nil
}

func (s *slowTab) URL(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url, nil
}

func (s *slowTab) HTML(context.Context) (string, error) { return "", nil }

func (s *slowTab) Click(context.Context, string) error { return nil }

func (s *slowTab) Type(context.Context, string, string) error { return nil }

func (s *slowTab) WaitVisible(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

func (s *slowTab) Exists(context.Context, string, time.Duration) (bool, error) {
	return false, nil
}

func (s *slowTab) Bounds(context.Context, string) (browser.Rect, error) {
	return browser.Rect{}, nil
}

func (s *slowTab) MoveMouse(context.Context, float64, float64) error { return nil }

func (s *slowTab) ClickAt(context.Context, float64, float64) error { return nil }

func (s *slowTab) Cookie(context.Context, string) (string, error) { return "", nil }

func (s *slowTab) Close() error { return nil }

type stubInstance struct{}

func (stubInstance) NewTab(context.Context) (browser.Tab, error) { return &slowTab{}, nil }

func (stubInstance) Close() error { return nil }

type stubLauncher struct{}

func (stubLauncher) Launch(context.Context) (browser.Instance, error) {
	return stubInstance{}, nil
}

func TestNew_LoadsDomainPoolFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domains.txt")
	require.NoError(t, os.WriteFile(path, []byte("# pool\nexample.com\n\nmail.example.org\n"), 0o600))

	cfg := &config.Config{Domains: config.DomainsConfig{File: path}}
	orch, err := New(cfg, Deps{Log: testLogger()})
	require.NoError(t, err)

	assert.Equal(t, []string{"example.com", "mail.example.org"}, orch.domains)
}

func TestNew_FileOverridesInlinePool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domains.txt")
	require.NoError(t, os.WriteFile(path, []byte("fromfile.example\n"), 0o600))

	cfg := &config.Config{Domains: config.DomainsConfig{
		File: path,
		Pool: []string{"inline.example"},
	}}
	orch, err := New(cfg, Deps{Log: testLogger()})
	require.NoError(t, err)

	assert.Equal(t, []string{"fromfile.example"}, orch.domains)
}

func TestStartBatch_RejectsInvalidCount(t *testing.T) {
	cfg := &config.Config{Domains: config.DomainsConfig{Pool: []string{"example.com"}}}
	orch, err := New(cfg, Deps{Log: testLogger()})
	require.NoError(t, err)

	_, err = orch.StartBatch(context.Background(), 0, scheduler.ModeFlat)
	assert.Error(t, err)
}

func TestStartBatch_FailsWithoutDomains(t *testing.T) {
	orch, err := New(&config.Config{}, Deps{Log: testLogger()})
	require.NoError(t, err)

	_, err = orch.StartBatch(context.Background(), 1, scheduler.ModeFlat)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindResourceExhausted, apperrors.KindOf(err))
}

func TestStartBatch_ConcurrentCallsAdmitOneBatch(t *testing.T) {
	cfg := &config.Config{
		Domains: config.DomainsConfig{Pool: []string{"example.com"}},
		Flow:    config.FlowConfig{StartURL: "https://cursor.com/dashboard", Variant: "password-first"},
		Pool:    config.PoolConfig{MaxWorkers: 1},
	}
	orch, err := New(cfg, Deps{Launcher: stubLauncher{}, Log: testLogger()})
	require.NoError(t, err)

	const callers = 8
	var admitted atomic.Int32
	var rejected atomic.Int32
	streams := make(chan (<-chan domain.TaskResult), callers)
	startLine := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-startLine

			results, err := orch.StartBatch(context.Background(), 2, scheduler.ModeFlat)
			if err != nil {
				rejected.Add(1)
				return
			}
			admitted.Add(1)
			streams <- results
		}()
	}
	close(startLine)
	wg.Wait()
	close(streams)

	assert.Equal(t, int32(1), admitted.Load(), "exactly one caller may win the batch slot")
	assert.Equal(t, int32(callers-1), rejected.Load())

	for stream := range streams {
		for range stream {
		}
	}
	orch.Wait()

	// the slot frees up once the batch drains
	results, err := orch.StartBatch(context.Background(), 1, scheduler.ModeFlat)
	require.NoError(t, err)
	for range results {
	}
	orch.Wait()
}

// flakyRepo fails the first N saves, then succeeds.
type flakyRepo struct {
	mu       sync.Mutex
	calls    int
	failures int
}

func (r *flakyRepo) Save(context.Context, *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	if r.calls <= r.failures {
		return errors.New("connection reset by peer")
	}
	return nil
}

func (r *flakyRepo) FindByEmail(context.Context, string) (*domain.Account, error) {
	return nil, nil
}

func (r *flakyRepo) List(context.Context) ([]*domain.Account, error) { return nil, nil }

func TestRepoStore_SaveAccountRetriesTransientFailures(t *testing.T) {
	repo := &flakyRepo{failures: 2}
	store := repoStore{repo: repo}

	err := store.SaveAccount(context.Background(), &domain.Account{Email: "u@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 3, repo.calls)
}

func TestRepoStore_SaveAccountGivesUpAfterBudget(t *testing.T) {
	repo := &flakyRepo{failures: 100}
	store := repoStore{repo: repo}

	err := store.SaveAccount(context.Background(), &domain.Account{Email: "u@example.com"})
	require.Error(t, err)
	assert.Equal(t, apperrors.MaxRetries+1, repo.calls)
}

func TestGenerateAccount(t *testing.T) {
	orch := &Orchestrator{
		cfg: &config.Config{Flow: config.FlowConfig{PasswordLength: 20}},
		log: testLogger(),
	}

	domains := []string{"a.example", "b.example"}

	first := orch.generateAccount(domains, 0)
	second := orch.generateAccount(domains, 1)
	third := orch.generateAccount(domains, 2)

	assert.True(t, strings.HasSuffix(first.Email, "@a.example"))
	assert.True(t, strings.HasSuffix(second.Email, "@b.example"))
	assert.True(t, strings.HasSuffix(third.Email, "@a.example"), "domain pool rotates round-robin")

	assert.NotEqual(t, first.Email, third.Email, "local parts must never collide")

	assert.Len(t, first.Password, 20)
	assert.NotEmpty(t, first.FirstName)
	assert.NotEmpty(t, first.LastName)
	assert.False(t, first.HasCredentials(), "no token before the flow runs")
}

func TestGeneratePassword_ContainsAllClasses(t *testing.T) {
	for i := 0; i < 10; i++ {
		password := generatePassword(16)
		require.Len(t, password, 16)

		assert.True(t, strings.ContainsAny(password, lowerChars), "missing lowercase: %q", password)
		assert.True(t, strings.ContainsAny(password, upperChars), "missing uppercase: %q", password)
		assert.True(t, strings.ContainsAny(password, digitChars), "missing digit: %q", password)
		assert.True(t, strings.ContainsAny(password, symbolChars), "missing symbol: %q", password)
	}
}

func TestGeneratePassword_EnforcesMinimumLength(t *testing.T) {
	assert.Len(t, generatePassword(2), 8)
}
