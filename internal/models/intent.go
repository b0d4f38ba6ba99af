package models

// IntentKind tags a requested queue mutation.
type IntentKind string

const (
	IntentEnqueue        IntentKind = "enqueue"
	IntentBulkEnqueue    IntentKind = "bulkEnqueue"
	IntentExtractSuccess IntentKind = "extractSuccess"
	IntentExtractFailure IntentKind = "extractFailure"
	IntentUploadSuccess  IntentKind = "uploadSuccess"
	IntentUploadFailure  IntentKind = "uploadFailure"
	IntentRemoveOne      IntentKind = "removeOne"
	IntentRemoveComplete IntentKind = "removeComplete"
	IntentRemoveAll      IntentKind = "removeAll"
	IntentResetFailAll   IntentKind = "resetFailAll"
)

// Intent describes one requested mutation to the queue.
// Only the fields relevant to Kind are populated.
type Intent struct {
	Kind   IntentKind `json:"kind"`
	JobID  string     `json:"jobId,omitempty"`
	URL    string     `json:"url,omitempty"`
	URLs   []string   `json:"urls,omitempty"`
	Text   string     `json:"text,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

// Enqueue adds a single page, optionally with text already collected.
func Enqueue(url, text string) Intent {
	return Intent{Kind: IntentEnqueue, URL: url, Text: text}
}

// BulkEnqueue adds every url not already present in the queue.
func BulkEnqueue(urls []string) Intent {
	cp := make([]string, len(urls))
	copy(cp, urls)
	return Intent{Kind: IntentBulkEnqueue, URLs: cp}
}

func ExtractSuccess(jobID, text string) Intent {
	return Intent{Kind: IntentExtractSuccess, JobID: jobID, Text: text}
}

func ExtractFailure(jobID, reason string) Intent {
	return Intent{Kind: IntentExtractFailure, JobID: jobID, Reason: reason}
}

func UploadSuccess(jobID string) Intent {
	return Intent{Kind: IntentUploadSuccess, JobID: jobID}
}

func UploadFailure(jobID string) Intent {
	return Intent{Kind: IntentUploadFailure, JobID: jobID, Reason: UploadFailureReason}
}

func RemoveOne(jobID string) Intent {
	return Intent{Kind: IntentRemoveOne, JobID: jobID}
}

func RemoveComplete() Intent {
	return Intent{Kind: IntentRemoveComplete}
}

func RemoveAll() Intent {
	return Intent{Kind: IntentRemoveAll}
}

func ResetFailAll() Intent {
	return Intent{Kind: IntentResetFailAll}
}

// IsOutcome reports whether the intent is a runner result.
func (i Intent) IsOutcome() bool {
	switch i.Kind {
	case IntentExtractSuccess, IntentExtractFailure, IntentUploadSuccess, IntentUploadFailure:
		return true
	}
	return false
}

// IsFailure reports whether the intent records a job failure.
func (i Intent) IsFailure() bool {
	return i.Kind == IntentExtractFailure || i.Kind == IntentUploadFailure
}
