package extraction

import (
	"context"
	"time"
)

// TabEventKind identifies what a tab reported
type TabEventKind int

const (
	// EventLoadComplete fires when the page finished loading
	EventLoadComplete TabEventKind = iota + 1
	// EventPageText carries the text posted back by the collection routine
	EventPageText
	// EventHTTPError reports a 4xx/5xx document response or a failed navigation
	EventHTTPError
	// EventClosed fires when the tab goes away
	EventClosed
)

func (k TabEventKind) String() string {
	switch k {
	case EventLoadComplete:
		return "load_complete"
	case EventPageText:
		return "page_text"
	case EventHTTPError:
		return "http_error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TabEvent is one observation from a tab
type TabEvent struct {
	Kind   TabEventKind
	JobID  string // EventPageText: id echoed by the collection routine
	URL    string // Response URL for EventHTTPError, page URL for EventPageText
	Status string // EventHTTPError: status line or navigation error
	Text   string // EventPageText: normalized page text
}

// PageTextRequest configures the in-page text collection routine
type PageTextRequest struct {
	JobID          string        `json:"id"`
	URL            string        `json:"url"`
	SettleDelay    time.Duration `json:"-"`
	IgnoreElements []string      `json:"ignore"`
}

// Tab is one background page opened for a single job
type Tab interface {
	// ID identifies the tab within its browser
	ID() string

	// Events delivers the tab's observations until the tab is closed
	Events() <-chan TabEvent

	// Inject starts the text collection routine in the page; the result
	// arrives later as an EventPageText
	Inject(ctx context.Context, req PageTextRequest) error

	// Close releases the tab. Safe to call more than once.
	Close() error
}

// Browser opens tabs
type Browser interface {
	// OpenTab creates a background tab and starts loading url
	OpenTab(ctx context.Context, url string) (Tab, error)

	// Close shuts the browser down
	Close() error
}
