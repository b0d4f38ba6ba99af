// -----------------------------------------------------------------------
// Last Modified: Monday, 19th October 2026 3:05:52 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pagesponge/internal/common"
)

// ChromeConfig holds configuration for the shared browser
type ChromeConfig struct {
	Headless       bool
	NoSandbox      bool
	UserAgent      string
	ChromePath     string        // Empty = let chromedp locate Chrome
	StartupTimeout time.Duration // Startup test deadline
}

// ChromeBrowser drives one Chrome process; every tab is a new CDP target in it
type ChromeBrowser struct {
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc
	logger          arbor.ILogger
	mu              sync.Mutex
	closed          bool
}

// NewChromeBrowser starts Chrome and checks it responds
func NewChromeBrowser(config ChromeConfig, logger arbor.ILogger) (*ChromeBrowser, error) {
	startTime := time.Now()

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("no-sandbox", config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		// Tabs run in the background; keep their timers running for the settle delay
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
	)
	if config.UserAgent != "" {
		allocatorOpts = append(allocatorOpts, chromedp.UserAgent(config.UserAgent))
	}
	if config.ChromePath != "" {
		allocatorOpts = append(allocatorOpts, chromedp.ExecPath(config.ChromePath))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	timeout := config.StartupTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	testCtx, testCancel := context.WithTimeout(browserCtx, timeout)
	defer testCancel()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	logger.Info().
		Bool("headless", config.Headless).
		Str("user_agent", config.UserAgent).
		Dur("startup_time", time.Since(startTime)).
		Msg("Chrome browser started")

	return &ChromeBrowser{
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		allocatorCancel: allocatorCancel,
		logger:          logger,
	}, nil
}

// OpenTab creates a background target, wires its listeners and starts navigating to url
func (b *ChromeBrowser) OpenTab(ctx context.Context, url string) (Tab, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("browser is closed")
	}
	b.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)

	tab := &chromeTab{
		ctx:    tabCtx,
		cancel: tabCancel,
		url:    url,
		events: make(chan TabEvent, 16),
		done:   make(chan struct{}),
		logger: b.logger,
	}

	chromedp.ListenTarget(tabCtx, tab.onTargetEvent)

	// First Run creates the target; the binding must exist before the page loads
	if err := chromedp.Run(tabCtx,
		network.Enable(),
		page.Enable(),
		runtime.AddBinding(bindingName),
	); err != nil {
		tabCancel()
		return nil, err
	}

	if c := chromedp.FromContext(tabCtx); c != nil && c.Target != nil {
		tab.id = string(c.Target.TargetID)
	}
	chromedp.ListenBrowser(tabCtx, tab.onBrowserEvent)

	common.SafeGo(b.logger, "extraction:navigate", tab.navigate)

	return tab, nil
}

// Close shuts Chrome down
func (b *ChromeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	b.browserCancel()
	b.allocatorCancel()

	b.logger.Info().Msg("Chrome browser shut down")
	return nil
}

// chromeTab translates CDP events of one target into TabEvents
type chromeTab struct {
	ctx    context.Context
	cancel context.CancelFunc
	id     string
	url    string
	events chan TabEvent
	done   chan struct{}
	once   sync.Once
	logger arbor.ILogger
}

func (t *chromeTab) ID() string {
	return t.id
}

func (t *chromeTab) Events() <-chan TabEvent {
	return t.events
}

func (t *chromeTab) emit(ev TabEvent) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

func (t *chromeTab) navigate() {
	if err := chromedp.Run(t.ctx, chromedp.Navigate(t.url)); err != nil {
		select {
		case <-t.done:
			return
		default:
		}
		if t.ctx.Err() != nil {
			t.emit(TabEvent{Kind: EventClosed})
			return
		}
		t.emit(TabEvent{Kind: EventHTTPError, URL: t.url, Status: err.Error()})
	}
}

func (t *chromeTab) onTargetEvent(ev interface{}) {
	switch e := ev.(type) {
	case *page.EventLoadEventFired:
		go t.emit(TabEvent{Kind: EventLoadComplete})

	case *network.EventResponseReceived:
		if e.Type != network.ResourceTypeDocument || e.Response == nil || e.Response.Status < 400 {
			return
		}
		status := fmt.Sprintf("%d", e.Response.Status)
		if e.Response.StatusText != "" {
			status = fmt.Sprintf("%d %s", e.Response.Status, e.Response.StatusText)
		}
		go t.emit(TabEvent{Kind: EventHTTPError, URL: e.Response.URL, Status: status})

	case *runtime.EventBindingCalled:
		if e.Name != bindingName {
			return
		}
		var posted struct {
			ID   string `json:"id"`
			URL  string `json:"url"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(e.Payload), &posted); err != nil {
			t.logger.Debug().Err(err).Str("tab_id", t.id).Msg("Ignoring malformed page text post")
			return
		}
		go t.emit(TabEvent{Kind: EventPageText, JobID: posted.ID, URL: posted.URL, Text: NormalizeText(posted.Text)})

	case *inspector.EventDetached:
		go t.emit(TabEvent{Kind: EventClosed})
	}
}

func (t *chromeTab) onBrowserEvent(ev interface{}) {
	if e, ok := ev.(*target.EventTargetDestroyed); ok && t.id != "" && string(e.TargetID) == t.id {
		go t.emit(TabEvent{Kind: EventClosed})
	}
}

// Inject evaluates the collection routine in the page
func (t *chromeTab) Inject(ctx context.Context, req PageTextRequest) error {
	args, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode page text request: %w", err)
	}
	expr := fmt.Sprintf("%s(%s, %d)", pageTextScript, args, req.SettleDelay.Milliseconds())
	return chromedp.Run(t.ctx, chromedp.Evaluate(expr, nil))
}

// Close cancels the target context, which closes the tab in Chrome
func (t *chromeTab) Close() error {
	t.once.Do(func() {
		close(t.done)
		t.cancel()
	})
	return nil
}
