package extraction

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pagesponge/internal/common"
)

// maxPageBytes caps how much of a response body the static browser parses
const maxPageBytes = 10 << 20

// StaticBrowser fetches pages over plain HTTP without running JavaScript.
// It reports the same events as ChromeBrowser so the runner cannot tell them apart.
type StaticBrowser struct {
	client    *http.Client
	userAgent string
	logger    arbor.ILogger
	seq       int64
}

// NewStaticBrowser creates a static browser. A nil client uses http.DefaultClient.
func NewStaticBrowser(client *http.Client, userAgent string, logger arbor.ILogger) *StaticBrowser {
	if client == nil {
		client = http.DefaultClient
	}
	return &StaticBrowser{
		client:    client,
		userAgent: userAgent,
		logger:    logger,
	}
}

// OpenTab starts fetching url in the background
func (b *StaticBrowser) OpenTab(ctx context.Context, url string) (Tab, error) {
	tabCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(tabCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	if b.userAgent != "" {
		req.Header.Set("User-Agent", b.userAgent)
	}

	tab := &staticTab{
		id:     fmt.Sprintf("static-%d", atomic.AddInt64(&b.seq, 1)),
		url:    url,
		ctx:    tabCtx,
		cancel: cancel,
		events: make(chan TabEvent, 4),
		done:   make(chan struct{}),
	}

	common.SafeGo(b.logger, "extraction:fetch:"+tab.id, func() {
		tab.load(b.client, req)
	})

	return tab, nil
}

// Close is a no-op; tabs hold no shared resources
func (b *StaticBrowser) Close() error {
	return nil
}

type staticTab struct {
	id     string
	url    string
	ctx    context.Context
	cancel context.CancelFunc
	events chan TabEvent
	done   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	doc *goquery.Document
}

func (t *staticTab) ID() string {
	return t.id
}

func (t *staticTab) Events() <-chan TabEvent {
	return t.events
}

func (t *staticTab) emit(ev TabEvent) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

func (t *staticTab) load(client *http.Client, req *http.Request) {
	resp, err := client.Do(req)
	if err != nil {
		if t.ctx.Err() != nil {
			return
		}
		t.emit(TabEvent{Kind: EventHTTPError, URL: t.url, Status: err.Error()})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		t.emit(TabEvent{Kind: EventHTTPError, URL: t.url, Status: resp.Status})
		return
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		t.emit(TabEvent{Kind: EventHTTPError, URL: t.url, Status: fmt.Sprintf("unreadable page: %v", err)})
		return
	}

	t.mu.Lock()
	t.doc = doc
	t.mu.Unlock()

	t.emit(TabEvent{Kind: EventLoadComplete})
}

// Inject waits the settle delay, then posts the collected text as an EventPageText
func (t *staticTab) Inject(ctx context.Context, req PageTextRequest) error {
	t.mu.Lock()
	doc := t.doc
	t.mu.Unlock()
	if doc == nil {
		return fmt.Errorf("page not loaded")
	}

	timer := time.NewTimer(req.SettleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	t.emit(TabEvent{
		Kind:  EventPageText,
		JobID: req.JobID,
		URL:   req.URL,
		Text:  CollectText(doc, req.IgnoreElements),
	})
	return nil
}

func (t *staticTab) Close() error {
	t.once.Do(func() {
		close(t.done)
		t.cancel()
	})
	return nil
}
