package extraction

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pagesponge/internal/models"
)

// fakeTab is a Tab whose events are scripted by the test
type fakeTab struct {
	events   chan TabEvent
	closes   int32
	injects  int32
	onInject func(t *fakeTab, req PageTextRequest)

	mu       sync.Mutex
	requests []PageTextRequest
}

func newFakeTab(events ...TabEvent) *fakeTab {
	tab := &fakeTab{events: make(chan TabEvent, 16)}
	for _, ev := range events {
		tab.events <- ev
	}
	return tab
}

func (t *fakeTab) ID() string { return "fake-tab" }

func (t *fakeTab) Events() <-chan TabEvent { return t.events }

func (t *fakeTab) Inject(ctx context.Context, req PageTextRequest) error {
	atomic.AddInt32(&t.injects, 1)
	t.mu.Lock()
	t.requests = append(t.requests, req)
	t.mu.Unlock()
	if t.onInject != nil {
		t.onInject(t, req)
	}
	return nil
}

func (t *fakeTab) Close() error {
	atomic.AddInt32(&t.closes, 1)
	return nil
}

func (t *fakeTab) closeCount() int32 { return atomic.LoadInt32(&t.closes) }

type fakeBrowser struct {
	tab *fakeTab
	err error
}

func (b *fakeBrowser) OpenTab(ctx context.Context, url string) (Tab, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.tab, nil
}

func (b *fakeBrowser) Close() error { return nil }

var testJob = models.NewJobRecord("job_1", "https://a.example/page", "", time.Now())

func newTestRunner(browser Browser, timeout time.Duration) *Runner {
	return NewRunner(browser, Config{
		SettleDelay:    10 * time.Millisecond,
		Timeout:        timeout,
		IgnoreElements: []string{"SCRIPT", "STYLE"},
	}, arbor.NewLogger())
}

func TestRunResultThenTimeout(t *testing.T) {
	tab := newFakeTab(TabEvent{Kind: EventPageText, JobID: testJob.ID, Text: "hello world"})
	runner := newTestRunner(&fakeBrowser{tab: tab}, 50*time.Millisecond)

	result := runner.Run(context.Background(), testJob)

	assert.Equal(t, models.ExtractSuccess(testJob.ID, "hello world"), result)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), tab.closeCount())
}

func TestRunTimeoutThenResult(t *testing.T) {
	tab := newFakeTab()
	runner := newTestRunner(&fakeBrowser{tab: tab}, 30*time.Millisecond)

	result := runner.Run(context.Background(), testJob)
	tab.events <- TabEvent{Kind: EventPageText, JobID: testJob.ID, Text: "too late"}
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, models.ExtractFailure(testJob.ID, ReasonPageTimeout), result)
	assert.Equal(t, int32(1), tab.closeCount())
}

func TestRunHTTPErrorThenResult(t *testing.T) {
	tab := newFakeTab(
		TabEvent{Kind: EventHTTPError, URL: testJob.URL, Status: "404 Not Found"},
		TabEvent{Kind: EventPageText, JobID: testJob.ID, Text: "not found page"},
	)
	runner := newTestRunner(&fakeBrowser{tab: tab}, time.Second)

	result := runner.Run(context.Background(), testJob)

	assert.Equal(t, models.ExtractFailure(testJob.ID, "page error: '404 Not Found'"), result)
	assert.Equal(t, int32(1), tab.closeCount())
}

func TestRunIgnoresErrorsForOtherURLs(t *testing.T) {
	tab := newFakeTab(
		TabEvent{Kind: EventHTTPError, URL: "https://a.example/missing.css", Status: "404 Not Found"},
		TabEvent{Kind: EventPageText, JobID: testJob.ID, Text: "body"},
	)
	runner := newTestRunner(&fakeBrowser{tab: tab}, time.Second)

	result := runner.Run(context.Background(), testJob)

	assert.Equal(t, models.ExtractSuccess(testJob.ID, "body"), result)
}

func TestRunTabClosedOnly(t *testing.T) {
	tab := newFakeTab(TabEvent{Kind: EventClosed})
	runner := newTestRunner(&fakeBrowser{tab: tab}, time.Second)

	result := runner.Run(context.Background(), testJob)

	assert.Equal(t, models.ExtractFailure(testJob.ID, ReasonPageClosed), result)
	assert.Equal(t, int32(1), tab.closeCount())
}

func TestRunEventStreamEndedMeansClosed(t *testing.T) {
	tab := newFakeTab()
	close(tab.events)
	runner := newTestRunner(&fakeBrowser{tab: tab}, time.Second)

	result := runner.Run(context.Background(), testJob)

	assert.Equal(t, models.ExtractFailure(testJob.ID, ReasonPageClosed), result)
}

func TestRunTabFailure(t *testing.T) {
	runner := newTestRunner(&fakeBrowser{err: errors.New("no more targets")}, time.Second)

	result := runner.Run(context.Background(), testJob)

	assert.Equal(t, models.ExtractFailure(testJob.ID, "tab failure: 'no more targets'"), result)
}

func TestRunLoadCompleteInjectsRoutine(t *testing.T) {
	tab := newFakeTab(TabEvent{Kind: EventLoadComplete})
	tab.onInject = func(ft *fakeTab, req PageTextRequest) {
		ft.events <- TabEvent{Kind: EventPageText, JobID: req.JobID, URL: req.URL, Text: "collected"}
	}
	runner := newTestRunner(&fakeBrowser{tab: tab}, time.Second)

	result := runner.Run(context.Background(), testJob)

	assert.Equal(t, models.ExtractSuccess(testJob.ID, "collected"), result)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tab.injects))

	tab.mu.Lock()
	defer tab.mu.Unlock()
	require.Len(t, tab.requests, 1)
	assert.Equal(t, testJob.ID, tab.requests[0].JobID)
	assert.Equal(t, testJob.URL, tab.requests[0].URL)
	assert.Equal(t, 10*time.Millisecond, tab.requests[0].SettleDelay)
	assert.Equal(t, []string{"SCRIPT", "STYLE"}, tab.requests[0].IgnoreElements)
}

func TestRunIgnoresTextForOtherJobs(t *testing.T) {
	tab := newFakeTab(
		TabEvent{Kind: EventPageText, JobID: "job_other", Text: "not mine"},
		TabEvent{Kind: EventPageText, JobID: testJob.ID, Text: "mine"},
	)
	runner := newTestRunner(&fakeBrowser{tab: tab}, time.Second)

	result := runner.Run(context.Background(), testJob)

	assert.Equal(t, models.ExtractSuccess(testJob.ID, "mine"), result)
}

func TestRunEmptyTextFails(t *testing.T) {
	tab := newFakeTab(TabEvent{Kind: EventPageText, JobID: testJob.ID, Text: ""})
	runner := newTestRunner(&fakeBrowser{tab: tab}, time.Second)

	result := runner.Run(context.Background(), testJob)

	assert.Equal(t, models.ExtractFailure(testJob.ID, ReasonPageEmpty), result)
}

func TestRunContextCancelled(t *testing.T) {
	tab := newFakeTab()
	runner := newTestRunner(&fakeBrowser{tab: tab}, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := runner.Run(ctx, testJob)

	assert.Equal(t, models.IntentExtractFailure, result.Kind)
	assert.Contains(t, result.Reason, "cancelled")
	assert.Equal(t, int32(1), tab.closeCount())
}

func TestExtractionCompletesExactlyOnce(t *testing.T) {
	tab := newFakeTab()
	ext := newExtraction(testJob, tab, arbor.NewLogger())
	ext.startTimer(time.Millisecond)

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ext.complete(models.ExtractFailure(testJob.ID, ReasonPageClosed)) {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()
	<-ext.done
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, int32(1), tab.closeCount())
	assert.LessOrEqual(t, atomic.LoadInt32(&winners), int32(1))
	assert.Equal(t, models.IntentExtractFailure, ext.result.Kind)
}
