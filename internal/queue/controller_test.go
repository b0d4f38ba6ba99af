package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pagesponge/internal/models"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// memoryStore is an in-memory QueueStorage with write failure injection
type memoryStore struct {
	mu        sync.Mutex
	jobs      []models.JobRecord
	writes    int
	failWrite bool
}

func (s *memoryStore) GetQueue(ctx context.Context) ([]models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs == nil {
		return []models.JobRecord{}, nil
	}
	return models.CloneJobs(s.jobs), nil
}

func (s *memoryStore) SetQueue(ctx context.Context, jobs []models.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failWrite {
		return errors.New("disk full")
	}
	s.jobs = models.CloneJobs(jobs)
	return nil
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) snapshot() []models.JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.CloneJobs(s.jobs)
}

func (s *memoryStore) setFailWrite(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrite = fail
}

func (s *memoryStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// gauge tracks how many runners execute at once across runner instances
type gauge struct {
	running int32
	peak    int32
}

func (g *gauge) enter() {
	n := atomic.AddInt32(&g.running, 1)
	for {
		peak := atomic.LoadInt32(&g.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&g.peak, peak, n) {
			return
		}
	}
}

func (g *gauge) leave() { atomic.AddInt32(&g.running, -1) }

// fakeRunner returns result(job), optionally waiting for release first
type fakeRunner struct {
	mu      sync.Mutex
	calls   map[string]int
	result  func(job models.JobRecord) models.Intent
	release chan struct{}
	gauge   *gauge
}

func newFakeRunner(result func(job models.JobRecord) models.Intent) *fakeRunner {
	return &fakeRunner{calls: make(map[string]int), result: result}
}

func (r *fakeRunner) Run(ctx context.Context, job models.JobRecord) models.Intent {
	r.mu.Lock()
	r.calls[job.ID]++
	result := r.result
	release := r.release
	g := r.gauge
	r.mu.Unlock()

	if g != nil {
		g.enter()
		defer g.leave()
	}

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return models.ExtractFailure(job.ID, "cancelled")
		}
	}
	return result(job)
}

func (r *fakeRunner) callsFor(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

func (r *fakeRunner) totalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.calls {
		total += n
	}
	return total
}

func (r *fakeRunner) setResult(result func(job models.JobRecord) models.Intent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result = result
}

// mockActivity records busy/idle notifications
type mockActivity struct {
	mock.Mock
}

func (m *mockActivity) SetBusy(busy bool) {
	m.Called(busy)
}

func newMockActivity() *mockActivity {
	activity := &mockActivity{}
	activity.On("SetBusy", mock.Anything).Return()
	return activity
}

func extractHello(job models.JobRecord) models.Intent {
	return models.ExtractSuccess(job.ID, "hello")
}

func uploadOK(job models.JobRecord) models.Intent {
	return models.UploadSuccess(job.ID)
}

func newTestController(t *testing.T, store *memoryStore, extractor, uploader *fakeRunner, config Config) *Controller {
	t.Helper()
	c := NewController(store, extractor, uploader, newMockActivity(), config, arbor.NewLogger())
	t.Cleanup(c.Close)
	return c
}

func findJob(jobs []models.JobRecord, url string) (models.JobRecord, bool) {
	for _, job := range jobs {
		if job.URL == url {
			return job, true
		}
	}
	return models.JobRecord{}, false
}

func TestScenarioExtractThenUploadCompletes(t *testing.T) {
	store := &memoryStore{}
	extractor := newFakeRunner(extractHello)
	uploader := newFakeRunner(uploadOK)
	c := newTestController(t, store, extractor, uploader, NewDefaultConfig())

	c.Push(models.Enqueue("https://a.example", ""))

	require.Eventually(t, func() bool {
		job, ok := findJob(store.snapshot(), "https://a.example")
		return ok && job.IsComplete()
	}, waitFor, tick)

	job, _ := findJob(store.snapshot(), "https://a.example")
	assert.Equal(t, "hello", job.Text)
	assert.Equal(t, 0, job.Fails)
	require.NotNil(t, job.DateCompleted)
	assert.Equal(t, 1, extractor.callsFor(job.ID))
	assert.Equal(t, 1, uploader.callsFor(job.ID))

	assert.Eventually(t, func() bool { return c.ActiveCount() == 0 }, waitFor, tick)
}

func TestEnqueueWithTextGoesStraightToUpload(t *testing.T) {
	store := &memoryStore{}
	extractor := newFakeRunner(extractHello)
	uploader := newFakeRunner(uploadOK)
	c := newTestController(t, store, extractor, uploader, NewDefaultConfig())

	c.Push(models.Enqueue("https://a.example", "already collected"))

	require.Eventually(t, func() bool {
		job, ok := findJob(store.snapshot(), "https://a.example")
		return ok && job.IsComplete()
	}, waitFor, tick)

	assert.Equal(t, 0, extractor.totalCalls())
	assert.Equal(t, 1, uploader.totalCalls())
}

func TestScenarioRetriesExhaustThenReset(t *testing.T) {
	store := &memoryStore{}
	extractor := newFakeRunner(func(job models.JobRecord) models.Intent {
		return models.ExtractFailure(job.ID, "page timeout")
	})
	uploader := newFakeRunner(uploadOK)
	c := newTestController(t, store, extractor, uploader, Config{MaxRetries: 3, MaxConcurrency: 3})

	c.Push(models.Enqueue("https://b.example", ""))

	require.Eventually(t, func() bool {
		job, ok := findJob(store.snapshot(), "https://b.example")
		return ok && job.Fails == 3
	}, waitFor, tick)

	job, _ := findJob(store.snapshot(), "https://b.example")
	assert.Equal(t, models.JobStatusExtractFailure, job.Status)
	assert.Equal(t, "page timeout", job.FailReason)
	assert.Equal(t, 3, extractor.callsFor(job.ID))

	// Waking again must not admit an exhausted job
	assert.Eventually(t, func() bool {
		c.Wake()
		return store.writeCount() >= 5
	}, waitFor, tick)
	assert.Equal(t, 3, extractor.callsFor(job.ID))
	assert.Equal(t, 0, c.ActiveCount())

	extractor.setResult(extractHello)
	c.Push(models.ResetFailAll())

	require.Eventually(t, func() bool {
		job, ok := findJob(store.snapshot(), "https://b.example")
		return ok && job.IsComplete()
	}, waitFor, tick)

	job, _ = findJob(store.snapshot(), "https://b.example")
	assert.Equal(t, 4, extractor.callsFor(job.ID))
	assert.Equal(t, 0, job.Fails)
	assert.Empty(t, job.FailReason)
}

func TestAdmissionRetryBoundary(t *testing.T) {
	now := time.Now()
	exhausted := models.NewJobRecord("job_exhausted", "https://x.example", "", now)
	exhausted.Fails = 3
	exhausted.Status = models.JobStatusExtractFailure
	lastTry := models.NewJobRecord("job_last_try", "https://y.example", "", now)
	lastTry.Fails = 2
	lastTry.Status = models.JobStatusExtractFailure

	store := &memoryStore{jobs: []models.JobRecord{exhausted, lastTry}}
	extractor := newFakeRunner(func(job models.JobRecord) models.Intent {
		return models.ExtractFailure(job.ID, "page closed")
	})
	uploader := newFakeRunner(uploadOK)
	c := newTestController(t, store, extractor, uploader, Config{MaxRetries: 3, MaxConcurrency: 3})

	c.Apply(context.Background())

	require.Eventually(t, func() bool {
		job, ok := findJob(store.snapshot(), "https://y.example")
		return ok && job.Fails == 3
	}, waitFor, tick)

	assert.Equal(t, 0, extractor.callsFor("job_exhausted"))
	assert.Equal(t, 1, extractor.callsFor("job_last_try"))
}

func TestConcurrencyBound(t *testing.T) {
	store := &memoryStore{}
	shared := &gauge{}
	release := make(chan struct{})

	extractor := newFakeRunner(extractHello)
	extractor.release = release
	extractor.gauge = shared
	uploader := newFakeRunner(uploadOK)
	uploader.gauge = shared

	c := newTestController(t, store, extractor, uploader, Config{MaxRetries: 3, MaxConcurrency: 3})

	urls := make([]string, 10)
	for i := range urls {
		urls[i] = "https://example.com/page/" + string(rune('a'+i))
	}
	c.Push(models.BulkEnqueue(urls))

	require.Eventually(t, func() bool { return atomic.LoadInt32(&shared.running) == 3 }, waitFor, tick)
	assert.Equal(t, 3, c.ActiveCount())

	// Oldest jobs get the slots
	jobs := store.snapshot()
	require.Len(t, jobs, 10)
	for i, job := range jobs {
		if i < 3 {
			assert.Equal(t, 1, extractor.callsFor(job.ID), job.URL)
		} else {
			assert.Equal(t, 0, extractor.callsFor(job.ID), job.URL)
		}
	}

	close(release)

	require.Eventually(t, func() bool {
		for _, job := range store.snapshot() {
			if !job.IsComplete() {
				return false
			}
		}
		return true
	}, waitFor, tick)

	assert.LessOrEqual(t, atomic.LoadInt32(&shared.peak), int32(3))
	assert.Eventually(t, func() bool { return c.ActiveCount() == 0 }, waitFor, tick)
}

func TestOneRunnerPerJob(t *testing.T) {
	store := &memoryStore{}
	release := make(chan struct{})
	extractor := newFakeRunner(extractHello)
	extractor.release = release
	uploader := newFakeRunner(uploadOK)
	c := newTestController(t, store, extractor, uploader, NewDefaultConfig())

	c.Push(models.Enqueue("https://a.example", ""))
	require.Eventually(t, func() bool { return c.ActiveCount() == 1 }, waitFor, tick)

	assert.Eventually(t, func() bool {
		c.Wake()
		return store.writeCount() >= 4
	}, waitFor, tick)

	job, ok := findJob(store.snapshot(), "https://a.example")
	require.True(t, ok)
	assert.Equal(t, 1, extractor.callsFor(job.ID))

	close(release)
}

func TestIntentsAppliedInArrivalOrder(t *testing.T) {
	store := &memoryStore{}
	release := make(chan struct{})
	extractor := newFakeRunner(extractHello)
	extractor.release = release
	uploader := newFakeRunner(uploadOK)
	c := newTestController(t, store, extractor, uploader, NewDefaultConfig())

	c.Push(models.Enqueue("https://a.example", ""))
	c.Push(models.RemoveAll())
	c.Push(models.Enqueue("https://b.example", ""))

	require.Eventually(t, func() bool {
		jobs := store.snapshot()
		return len(jobs) == 1 && jobs[0].URL == "https://b.example"
	}, waitFor, tick)
}

func TestBulkEnqueueDeduplicates(t *testing.T) {
	store := &memoryStore{}
	release := make(chan struct{})
	extractor := newFakeRunner(extractHello)
	extractor.release = release
	uploader := newFakeRunner(uploadOK)
	c := newTestController(t, store, extractor, uploader, NewDefaultConfig())

	c.Push(models.BulkEnqueue([]string{"https://a", "https://a", "https://b"}))
	require.Eventually(t, func() bool { return len(store.snapshot()) == 2 }, waitFor, tick)

	c.Push(models.BulkEnqueue([]string{"https://b", "https://c"}))
	require.Eventually(t, func() bool { return len(store.snapshot()) == 3 }, waitFor, tick)

	urls := []string{}
	for _, job := range store.snapshot() {
		urls = append(urls, job.URL)
	}
	assert.Equal(t, []string{"https://a", "https://b", "https://c"}, urls)
}

func TestStoreWriteFailureRebuffersIntents(t *testing.T) {
	store := &memoryStore{failWrite: true}
	extractor := newFakeRunner(extractHello)
	uploader := newFakeRunner(uploadOK)
	c := newTestController(t, store, extractor, uploader, NewDefaultConfig())

	c.Push(models.Enqueue("https://a.example", ""))

	require.Eventually(t, func() bool { return store.writeCount() >= 1 }, waitFor, tick)
	assert.Empty(t, store.snapshot())
	assert.Equal(t, 0, extractor.totalCalls())

	store.setFailWrite(false)
	require.Eventually(t, func() bool {
		c.Wake()
		return len(store.snapshot()) == 1
	}, waitFor, tick)

	require.Eventually(t, func() bool {
		job, ok := findJob(store.snapshot(), "https://a.example")
		return ok && job.IsComplete()
	}, waitFor, tick)
	assert.Len(t, store.snapshot(), 1, "the intent is applied exactly once")
}

func TestApplyDropsRecordsWithoutID(t *testing.T) {
	done := models.NewJobRecord("job_done", "https://done.example", "text", time.Now())
	completed := time.Now()
	done.Status = models.JobStatusComplete
	done.DateCompleted = &completed

	store := &memoryStore{jobs: []models.JobRecord{{URL: "https://corrupt.example"}, done}}
	c := newTestController(t, store, newFakeRunner(extractHello), newFakeRunner(uploadOK), NewDefaultConfig())

	c.Apply(context.Background())

	jobs := store.snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, "job_done", jobs[0].ID)

	snapshot, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snapshot, 1)
}

// activityRecorder keeps the ordered busy/idle notifications
type activityRecorder struct {
	mu    sync.Mutex
	calls []bool
}

func (r *activityRecorder) SetBusy(busy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, busy)
}

func (r *activityRecorder) history() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.calls...)
}

func TestActivityIndicatorFollowsRunners(t *testing.T) {
	store := &memoryStore{}
	activity := &activityRecorder{}
	c := NewController(store, newFakeRunner(extractHello), newFakeRunner(uploadOK), activity, NewDefaultConfig(), arbor.NewLogger())
	t.Cleanup(c.Close)

	c.Push(models.Enqueue("https://a.example", ""))

	require.Eventually(t, func() bool {
		job, ok := findJob(store.snapshot(), "https://a.example")
		return ok && job.IsComplete()
	}, waitFor, tick)

	require.Eventually(t, func() bool {
		history := activity.history()
		return len(history) > 0 && !history[len(history)-1]
	}, waitFor, tick)
	assert.Contains(t, activity.history(), true)
}

type panickingRunner struct{}

func (panickingRunner) Run(ctx context.Context, job models.JobRecord) models.Intent {
	panic("boom")
}

func TestRunnerPanicBecomesFailure(t *testing.T) {
	store := &memoryStore{}
	c := NewController(store, panickingRunner{}, newFakeRunner(uploadOK), newMockActivity(), Config{MaxRetries: 1, MaxConcurrency: 1}, arbor.NewLogger())
	t.Cleanup(c.Close)

	c.Push(models.Enqueue("https://a.example", ""))

	require.Eventually(t, func() bool {
		job, ok := findJob(store.snapshot(), "https://a.example")
		return ok && job.Fails == 1
	}, waitFor, tick)

	job, _ := findJob(store.snapshot(), "https://a.example")
	assert.Equal(t, models.JobStatusExtractFailure, job.Status)
	assert.Contains(t, job.FailReason, "boom")
}

func TestCloseDropsLateIntents(t *testing.T) {
	store := &memoryStore{}
	activity := newMockActivity()
	c := NewController(store, newFakeRunner(extractHello), newFakeRunner(uploadOK), activity, NewDefaultConfig(), arbor.NewLogger())
	c.Close()

	c.Push(models.Enqueue("https://a.example", ""))
	c.Wake()
	c.Close()

	assert.Equal(t, 0, store.writeCount())
	activity.AssertNotCalled(t, "SetBusy", mock.Anything)
}

// gatedStore holds the next SetQueue until gate is closed, once armed
type gatedStore struct {
	*memoryStore
	armed   atomic.Bool
	reached chan struct{}
	gate    chan struct{}
}

func newGatedStore(jobs []models.JobRecord) *gatedStore {
	return &gatedStore{
		memoryStore: &memoryStore{jobs: jobs},
		reached:     make(chan struct{}),
		gate:        make(chan struct{}),
	}
}

func (s *gatedStore) SetQueue(ctx context.Context, jobs []models.JobRecord) error {
	if s.armed.CompareAndSwap(true, false) {
		close(s.reached)
		<-s.gate
	}
	return s.memoryStore.SetQueue(ctx, jobs)
}

func (c *Controller) bufferedIntents() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

func TestFinishedJobNotReadmittedBeforeResultCommits(t *testing.T) {
	job := models.NewJobRecord("job_upload", "https://a.example", "collected", time.Now())
	store := newGatedStore([]models.JobRecord{job})

	release := make(chan struct{})
	extractor := newFakeRunner(extractHello)
	uploader := newFakeRunner(uploadOK)
	uploader.release = release

	c := NewController(store, extractor, uploader, newMockActivity(), NewDefaultConfig(), arbor.NewLogger())
	t.Cleanup(c.Close)

	c.Apply(context.Background())
	require.Eventually(t, func() bool { return uploader.callsFor(job.ID) == 1 }, waitFor, tick)

	// A cycle reads the queue while the upload is still running, then stalls on its write
	store.armed.Store(true)
	c.Wake()
	select {
	case <-store.reached:
	case <-time.After(waitFor):
		t.Fatal("apply cycle never reached the store write")
	}

	// The upload finishes and its result waits behind the stalled cycle
	close(release)
	require.Eventually(t, func() bool { return c.bufferedIntents() == 1 }, waitFor, tick)
	assert.Equal(t, 1, c.ActiveCount(), "job stays active until its result is committed")

	close(store.gate)

	require.Eventually(t, func() bool {
		stored, ok := findJob(store.snapshot(), "https://a.example")
		return ok && stored.IsComplete()
	}, waitFor, tick)
	assert.Eventually(t, func() bool { return c.ActiveCount() == 0 }, waitFor, tick)

	stored, _ := findJob(store.snapshot(), "https://a.example")
	assert.Equal(t, 0, stored.Fails)
	assert.Equal(t, 1, uploader.callsFor(job.ID), "the page is uploaded once")
	assert.Equal(t, 0, extractor.totalCalls())
}

func TestStoreFailureRetriesWithoutNewIntents(t *testing.T) {
	store := &memoryStore{failWrite: true}
	config := Config{MaxRetries: 3, MaxConcurrency: 3, RetryDelay: 10 * time.Millisecond, MaxRetryDelay: 40 * time.Millisecond}
	c := NewController(store, newFakeRunner(extractHello), newFakeRunner(uploadOK), newMockActivity(), config, arbor.NewLogger())
	t.Cleanup(c.Close)

	c.Push(models.Enqueue("https://a.example", ""))

	// Retries keep hitting the store on their own
	require.Eventually(t, func() bool { return store.writeCount() >= 3 }, waitFor, tick)
	assert.Empty(t, store.snapshot())

	store.setFailWrite(false)

	require.Eventually(t, func() bool {
		job, ok := findJob(store.snapshot(), "https://a.example")
		return ok && job.IsComplete()
	}, waitFor, tick)
	assert.Len(t, store.snapshot(), 1)
}

func TestCloseStopsStoreRetry(t *testing.T) {
	store := &memoryStore{failWrite: true}
	config := Config{MaxRetries: 3, MaxConcurrency: 3, RetryDelay: 20 * time.Millisecond, MaxRetryDelay: 20 * time.Millisecond}
	c := NewController(store, newFakeRunner(extractHello), newFakeRunner(uploadOK), newMockActivity(), config, arbor.NewLogger())

	c.Push(models.Enqueue("https://a.example", ""))
	require.Eventually(t, func() bool { return store.writeCount() >= 1 }, waitFor, tick)

	c.Close()
	writes := store.writeCount()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, writes, store.writeCount())
}

func TestActivityReportsApplyInOrder(t *testing.T) {
	activity := &activityRecorder{}
	c := NewController(&memoryStore{}, newFakeRunner(extractHello), newFakeRunner(uploadOK), activity, NewDefaultConfig(), arbor.NewLogger())
	t.Cleanup(c.Close)

	c.reportActivity(2, false)
	c.reportActivity(1, true) // overtaken by report 2
	c.reportActivity(3, true)

	assert.Equal(t, []bool{false, true}, activity.history())
}
