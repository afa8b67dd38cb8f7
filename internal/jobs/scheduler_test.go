package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/mitto/internal/common"
	"github.com/ternarybob/mitto/internal/interfaces"
	"github.com/ternarybob/mitto/internal/models"
)

// memStorage is an in-memory JobStorage for scheduler tests
type memStorage struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newMemStorage() *memStorage {
	return &memStorage{jobs: make(map[string]*models.Job)}
}

func (m *memStorage) CreateJob(job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *memStorage) GetJob(id string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job.Clone(), nil
}

func (m *memStorage) SaveJob(job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *memStorage) CompareAndSetStatus(job *models.Job, expected models.JobStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.jobs[job.ID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	if current.Status != expected {
		return false, nil
	}
	m.jobs[job.ID] = job.Clone()
	return true, nil
}

func (m *memStorage) ListActiveJobs(category string, limit int) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, job := range m.jobs {
		if job.IsTerminal() {
			continue
		}
		if category != "" && job.Category != category {
			continue
		}
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStorage) ListJobs(filter models.JobListFilter) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, job := range m.jobs {
		if filter.SessionID != "" && job.SessionID != filter.SessionID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if !filter.IncludeCleared && job.Cleared {
			continue
		}
		out = append(out, job.Clone())
	}
	return out, nil
}

func (m *memStorage) FindStaleAcknowledged(cutoff time.Time) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, job := range m.jobs {
		if job.Status == models.JobStatusAcknowledged && job.LastUpdate.Before(cutoff) {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

func (m *memStorage) MarkCleared(ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, id := range ids {
		job, ok := m.jobs[id]
		if !ok || job.Cleared {
			continue
		}
		job.Cleared = true
		count++
	}
	return count, nil
}

func (m *memStorage) DeleteOlderThan(cutoff time.Time, terminalOnly bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, job := range m.jobs {
		switch {
		case job.IsTerminal():
			if job.EndTime == nil || !job.EndTime.Before(cutoff) {
				continue
			}
		case terminalOnly:
			continue
		default:
			if !job.UpdatedAt.Before(cutoff) {
				continue
			}
		}
		delete(m.jobs, id)
		count++
	}
	return count, nil
}

func (m *memStorage) Close() error { return nil }

func (m *memStorage) status(t *testing.T, id string) models.JobStatus {
	t.Helper()
	job, err := m.GetJob(id)
	require.NoError(t, err)
	return job.Status
}

// flakySaveStorage fails SaveJob for one specific status so tests can
// observe how the scheduler behaves when a write is refused mid-run
type flakySaveStorage struct {
	*memStorage
	failOn models.JobStatus
}

func (f *flakySaveStorage) SaveJob(job *models.Job) error {
	if job.Status == f.failOn {
		return fmt.Errorf("disk full")
	}
	return f.memStorage.SaveJob(job)
}

// fakeProvider is a controllable Provider for scheduler tests
type fakeProvider struct {
	name    string
	block   bool
	err     error
	result  string
	started chan string
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Invoke(ctx context.Context, job *models.Job, sink interfaces.OutputSink) (*interfaces.ProviderResult, error) {
	if p.started != nil {
		p.started <- job.ID
	}
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.err != nil {
		return nil, p.err
	}
	if sink != nil {
		sink.Append(p.result)
	}
	return &interfaces.ProviderResult{
		Output: p.result,
		Telemetry: models.Telemetry{
			TokensSent:     3,
			TokensReceived: 7,
			CharsReceived:  len(p.result),
		},
	}, nil
}

// fakeRegistry resolves a single provider
type fakeRegistry struct {
	provider interfaces.Provider
}

func (r *fakeRegistry) Get(name string) (interfaces.Provider, error) {
	if name != r.provider.Name() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return r.provider, nil
}

func (r *fakeRegistry) Default() interfaces.Provider { return r.provider }

func testSchedulerConfig() *common.SchedulerConfig {
	return &common.SchedulerConfig{
		GlobalLimit:          4,
		SessionLimit:         3,
		CategoryLimit:        3,
		JobTimeout:           "1m",
		StaleThreshold:       "5m",
		DrainInterval:        "20ms",
		PartialFlushInterval: "1ms",
	}
}

func startScheduler(t *testing.T, config *common.SchedulerConfig, storage interfaces.JobStorage, provider interfaces.Provider) *Scheduler {
	t.Helper()
	s := NewScheduler(config, storage, &fakeRegistry{provider: provider}, nil)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop() })
	return s
}

func submitReq(session string) *models.SubmitRequest {
	return &models.SubmitRequest{
		SessionID: session,
		Category:  "chat",
		Provider:  "claude",
		Input:     "do the thing",
	}
}

func TestSchedulerRunsJobToCompletion(t *testing.T) {
	storage := newMemStorage()
	provider := &fakeProvider{name: "claude", result: "the answer"}
	s := startScheduler(t, testSchedulerConfig(), storage, provider)

	job, err := s.Submit(context.Background(), submitReq("s1"))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job.Status)

	require.Eventually(t, func() bool {
		return storage.status(t, job.ID) == models.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	final, err := storage.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "the answer", final.Output)
	assert.Equal(t, 7, final.Telemetry.TokensReceived)
	require.NotNil(t, final.StartTime)
	require.NotNil(t, final.EndTime)

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.TotalSubmitted)
	assert.Equal(t, uint64(1), stats.TotalCompleted)
}

func TestSchedulerRejectsInvalidRequest(t *testing.T) {
	storage := newMemStorage()
	s := startScheduler(t, testSchedulerConfig(), storage, &fakeProvider{name: "claude"})

	_, err := s.Submit(context.Background(), &models.SubmitRequest{Category: "chat", Input: "x"})
	assert.Error(t, err, "missing session_id must be rejected")

	_, err = s.Submit(context.Background(), &models.SubmitRequest{
		SessionID: "s1", Category: "chat", Input: "x", Provider: "nope",
	})
	assert.Error(t, err)
}

func TestSchedulerRecordsProviderFailure(t *testing.T) {
	storage := newMemStorage()
	provider := &fakeProvider{name: "claude", err: errors.New("backend exploded")}
	s := startScheduler(t, testSchedulerConfig(), storage, provider)

	job, err := s.Submit(context.Background(), submitReq("s1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return storage.status(t, job.ID) == models.JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	final, _ := storage.GetJob(job.ID)
	assert.Contains(t, final.ErrorText, "provider_error")
	assert.Equal(t, uint64(1), s.Stats().TotalFailed)
}

func TestSchedulerClassifiesRateLimitFailure(t *testing.T) {
	storage := newMemStorage()
	provider := &fakeProvider{name: "claude", err: errors.New("429 too many requests")}
	s := startScheduler(t, testSchedulerConfig(), storage, provider)

	job, err := s.Submit(context.Background(), submitReq("s1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return storage.status(t, job.ID) == models.JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	final, _ := storage.GetJob(job.ID)
	assert.Contains(t, final.ErrorText, "rate_limited")
}

func TestSchedulerCancelQueuedJob(t *testing.T) {
	storage := newMemStorage()
	s := startScheduler(t, testSchedulerConfig(), storage, &fakeProvider{name: "claude", block: true})

	s.Pause()
	job, err := s.Submit(context.Background(), submitReq("s1"))
	require.NoError(t, err)

	require.NoError(t, s.Cancel(job.ID))
	assert.Equal(t, models.JobStatusCanceled, storage.status(t, job.ID))
	assert.Equal(t, uint64(1), s.Stats().TotalCanceled)
}

func TestSchedulerCancelRunningJob(t *testing.T) {
	storage := newMemStorage()
	started := make(chan string, 1)
	provider := &fakeProvider{name: "claude", block: true, started: started}
	s := startScheduler(t, testSchedulerConfig(), storage, provider)

	job, err := s.Submit(context.Background(), submitReq("s1"))
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	require.NoError(t, s.Cancel(job.ID))

	require.Eventually(t, func() bool {
		return storage.status(t, job.ID) == models.JobStatusCanceled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerCancelTerminalJobIsNoOp(t *testing.T) {
	storage := newMemStorage()
	s := startScheduler(t, testSchedulerConfig(), storage, &fakeProvider{name: "claude", result: "done"})

	job, err := s.Submit(context.Background(), submitReq("s1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return storage.status(t, job.ID) == models.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Cancel(job.ID))
	assert.Equal(t, models.JobStatusCompleted, storage.status(t, job.ID))
}

func TestSchedulerCancelUnknownJob(t *testing.T) {
	storage := newMemStorage()
	s := startScheduler(t, testSchedulerConfig(), storage, &fakeProvider{name: "claude"})
	assert.ErrorIs(t, s.Cancel("missing"), ErrJobNotFound)
}

func TestSchedulerCancelSession(t *testing.T) {
	storage := newMemStorage()
	started := make(chan string, 8)
	provider := &fakeProvider{name: "claude", block: true, started: started}

	config := testSchedulerConfig()
	config.GlobalLimit = 1
	s := startScheduler(t, config, storage, provider)

	running, err := s.Submit(context.Background(), submitReq("s1"))
	require.NoError(t, err)
	queued, err := s.Submit(context.Background(), submitReq("s1"))
	require.NoError(t, err)
	other, err := s.Submit(context.Background(), submitReq("s2"))
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first job never started")
	}

	count, err := s.CancelSession("s1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.Eventually(t, func() bool {
		return storage.status(t, running.ID) == models.JobStatusCanceled &&
			storage.status(t, queued.ID) == models.JobStatusCanceled
	}, 2*time.Second, 10*time.Millisecond)

	// The other session's job proceeds once capacity frees
	require.Eventually(t, func() bool {
		return storage.status(t, other.ID) == models.JobStatusRunning
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerGlobalLimitHoldsJobsQueued(t *testing.T) {
	storage := newMemStorage()
	started := make(chan string, 8)
	provider := &fakeProvider{name: "claude", block: true, started: started}

	config := testSchedulerConfig()
	config.GlobalLimit = 1
	s := startScheduler(t, config, storage, provider)

	first, err := s.Submit(context.Background(), submitReq("s1"))
	require.NoError(t, err)
	second, err := s.Submit(context.Background(), submitReq("s2"))
	require.NoError(t, err)

	select {
	case id := <-started:
		assert.Equal(t, first.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("first job never started")
	}

	// Second job stays queued while the first holds the only slot
	assert.Equal(t, models.JobStatusQueued, storage.status(t, second.ID))

	require.NoError(t, s.Cancel(first.ID))

	select {
	case id := <-started:
		assert.Equal(t, second.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("second job never started after capacity freed")
	}
}

func TestSchedulerJobTimeout(t *testing.T) {
	storage := newMemStorage()
	provider := &fakeProvider{name: "claude", block: true}

	config := testSchedulerConfig()
	config.JobTimeout = "50ms"
	s := startScheduler(t, config, storage, provider)

	job, err := s.Submit(context.Background(), submitReq("s1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return storage.status(t, job.ID) == models.JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	final, _ := storage.GetJob(job.ID)
	assert.Contains(t, final.ErrorText, "timeout")
}

func TestSchedulerPauseAndResume(t *testing.T) {
	storage := newMemStorage()
	s := startScheduler(t, testSchedulerConfig(), storage, &fakeProvider{name: "claude", result: "ok"})

	s.Pause()
	assert.True(t, s.IsPaused())

	job, err := s.Submit(context.Background(), submitReq("s1"))
	require.NoError(t, err)

	// Paused scheduler accepts but does not run work
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, models.JobStatusQueued, storage.status(t, job.ID))

	s.Resume()
	assert.False(t, s.IsPaused())

	require.Eventually(t, func() bool {
		return storage.status(t, job.ID) == models.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerSubmitAfterStop(t *testing.T) {
	storage := newMemStorage()
	s := NewScheduler(testSchedulerConfig(), storage, &fakeRegistry{provider: &fakeProvider{name: "claude"}}, nil)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())

	_, err := s.Submit(context.Background(), submitReq("s1"))
	assert.ErrorIs(t, err, ErrSchedulerStopped)
}

func TestSchedulerSurvivesPersistenceFailureOnAcknowledge(t *testing.T) {
	storage := &flakySaveStorage{memStorage: newMemStorage(), failOn: models.JobStatusAcknowledged}
	provider := &fakeProvider{name: "claude", result: "made it"}
	s := startScheduler(t, testSchedulerConfig(), storage, provider)

	job, err := s.Submit(context.Background(), submitReq("s1"))
	require.NoError(t, err)

	// The acknowledge write fails, but the job still runs to completion
	require.Eventually(t, func() bool {
		return storage.status(t, job.ID) == models.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	final, err := storage.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "made it", final.Output)
}

func TestSchedulerSurvivesPersistenceFailureOnCompletion(t *testing.T) {
	storage := &flakySaveStorage{memStorage: newMemStorage(), failOn: models.JobStatusCompleted}
	provider := &fakeProvider{name: "claude", result: "made it"}
	s := startScheduler(t, testSchedulerConfig(), storage, provider)

	job, err := s.Submit(context.Background(), submitReq("s1"))
	require.NoError(t, err)

	// The run finishes and counts as completed even though the final write
	// was refused; storage still shows the last successful write.
	require.Eventually(t, func() bool {
		return s.Stats().TotalCompleted == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, models.JobStatusRunning, storage.status(t, job.ID))
}

func TestSchedulerCancelAlwaysFindsSubmittedJob(t *testing.T) {
	storage := newMemStorage()
	provider := &fakeProvider{name: "claude", block: true}

	config := testSchedulerConfig()
	config.GlobalLimit = 1
	s := startScheduler(t, config, storage, provider)

	// A submitted job is always either queued or registered in flight, so
	// a session cancel racing the dequeue must account for it exactly once.
	for i := 0; i < 20; i++ {
		job, err := s.Submit(context.Background(), submitReq("s1"))
		require.NoError(t, err)

		count, err := s.CancelSession("s1")
		require.NoError(t, err)
		require.Equal(t, 1, count, "iteration %d", i)

		require.Eventually(t, func() bool {
			return storage.status(t, job.ID) == models.JobStatusCanceled
		}, 2*time.Second, time.Millisecond)
	}
}

func TestPartialCollectorResetDiscardsFragments(t *testing.T) {
	storage := newMemStorage()
	s := NewScheduler(testSchedulerConfig(), storage, &fakeRegistry{provider: &fakeProvider{name: "claude"}}, nil)

	job := models.NewJob("s1", "chat", "claude", "input", 0)
	job.Status = models.JobStatusRunning
	require.NoError(t, storage.CreateJob(job))

	c := newPartialCollector(s, job, 0)
	c.Append("first attempt output")
	c.Reset()
	c.Append("second")

	stored, err := storage.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", stored.Output)
	assert.Equal(t, len("second"), stored.Telemetry.CharsReceived)
}

func TestSchedulerStartupRecovery(t *testing.T) {
	storage := newMemStorage()

	queued := models.NewJob("s1", "chat", "claude", "a", 0)
	queued.Status = models.JobStatusQueued
	require.NoError(t, storage.CreateJob(queued))

	acked := models.NewJob("s1", "chat", "claude", "b", 0)
	acked.Status = models.JobStatusAcknowledged
	require.NoError(t, storage.CreateJob(acked))

	orphanRunning := models.NewJob("s1", "chat", "claude", "c", 0)
	orphanRunning.Status = models.JobStatusRunning
	now := time.Now()
	orphanRunning.StartTime = &now
	require.NoError(t, storage.CreateJob(orphanRunning))

	provider := &fakeProvider{name: "claude", result: "recovered"}
	s := startScheduler(t, testSchedulerConfig(), storage, provider)
	_ = s

	// Queued and acknowledged jobs run to completion after restart
	require.Eventually(t, func() bool {
		return storage.status(t, queued.ID) == models.JobStatusCompleted &&
			storage.status(t, acked.ID) == models.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	// The orphaned running job is failed, not silently lost
	final, err := storage.GetJob(orphanRunning.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Contains(t, final.ErrorText, "interrupted by restart")
}
