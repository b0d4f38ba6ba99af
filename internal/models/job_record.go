// -----------------------------------------------------------------------
// Job Record - persisted unit of work for one URL
// -----------------------------------------------------------------------

package models

import "time"

// JobStatus is the lifecycle state of a JobRecord.
type JobStatus string

const (
	JobStatusInitial        JobStatus = "initial"
	JobStatusExtractSuccess JobStatus = "extractSuccess"
	JobStatusExtractFailure JobStatus = "extractFailure"
	JobStatusUploadSuccess  JobStatus = "uploadSuccess"
	JobStatusUploadFailure  JobStatus = "uploadFailure"
	JobStatusComplete       JobStatus = "complete" // terminal
)

// UploadFailureReason is recorded on every failed upload.
const UploadFailureReason = "upload failure"

// JobRecord tracks the extraction/upload progress of one URL.
// Records are owned by the queue controller; everything else sees copies.
type JobRecord struct {
	ID            string     `json:"id"`            // job_<uuid>, never reused
	URL           string     `json:"url"`           // Absolute URL, immutable after creation
	Text          string     `json:"text"`          // Extracted page text, empty until extraction succeeds
	Status        JobStatus  `json:"status"`        // Current lifecycle state
	Fails         int        `json:"fails"`         // Extraction + upload failures since the last reset
	FailReason    string     `json:"failReason"`    // Last failure description
	DateCreated   time.Time  `json:"dateCreated"`   // Creation timestamp
	DateCompleted *time.Time `json:"dateCompleted"` // Set once, on transition into complete
}

// NewJobRecord creates an initial record for url.
func NewJobRecord(id, url, text string, now time.Time) JobRecord {
	return JobRecord{
		ID:          id,
		URL:         url,
		Text:        text,
		Status:      JobStatusInitial,
		DateCreated: now,
	}
}

// IsComplete reports whether the upload for this job has succeeded.
func (j *JobRecord) IsComplete() bool {
	return j.Status == JobStatusComplete
}

// HasText reports whether the job is ready for upload.
func (j *JobRecord) HasText() bool {
	return j.Text != ""
}

// Exhausted reports whether the job has used up its retry budget.
func (j *JobRecord) Exhausted(maxRetries int) bool {
	return !j.IsComplete() && j.Fails >= maxRetries
}

// Clone returns a deep copy safe to hand to observers.
func (j JobRecord) Clone() JobRecord {
	if j.DateCompleted != nil {
		t := *j.DateCompleted
		j.DateCompleted = &t
	}
	return j
}

// CloneJobs deep-copies an ordered job list.
func CloneJobs(jobs []JobRecord) []JobRecord {
	if jobs == nil {
		return nil
	}
	out := make([]JobRecord, len(jobs))
	for i := range jobs {
		out[i] = jobs[i].Clone()
	}
	return out
}
