package queue

import (
	"github.com/ternarybob/pagesponge/internal/models"
)

// applyIntent returns jobs with the effect of intent applied.
// Intents addressed to an unknown job id are no-ops: the job was removed.
func (c *Controller) applyIntent(jobs []models.JobRecord, intent models.Intent) []models.JobRecord {
	switch intent.Kind {
	case models.IntentEnqueue:
		return append(jobs, models.NewJobRecord(c.newID(), intent.URL, intent.Text, c.now()))

	case models.IntentBulkEnqueue:
		present := make(map[string]struct{}, len(jobs)+len(intent.URLs))
		for _, job := range jobs {
			present[job.URL] = struct{}{}
		}
		added := 0
		for _, url := range intent.URLs {
			if _, ok := present[url]; ok {
				continue
			}
			present[url] = struct{}{}
			jobs = append(jobs, models.NewJobRecord(c.newID(), url, "", c.now()))
			added++
		}
		c.logger.Debug().Int("requested", len(intent.URLs)).Int("added", added).Msg("Bulk enqueue applied")
		return jobs

	case models.IntentExtractSuccess:
		if job := c.openJob(jobs, intent); job != nil {
			job.Text = intent.Text
			job.Status = models.JobStatusExtractSuccess
		}
		return jobs

	case models.IntentExtractFailure:
		if job := c.openJob(jobs, intent); job != nil {
			job.Fails++
			job.FailReason = intent.Reason
			job.Status = models.JobStatusExtractFailure
		}
		return jobs

	case models.IntentUploadSuccess:
		if job := c.openJob(jobs, intent); job != nil {
			completed := c.now()
			job.Status = models.JobStatusComplete
			job.DateCompleted = &completed
		}
		return jobs

	case models.IntentUploadFailure:
		if job := c.openJob(jobs, intent); job != nil {
			job.Fails++
			job.FailReason = models.UploadFailureReason
			job.Status = models.JobStatusUploadFailure
		}
		return jobs

	case models.IntentRemoveOne:
		if i := indexOf(jobs, intent.JobID); i >= 0 {
			return append(jobs[:i], jobs[i+1:]...)
		}
		return jobs

	case models.IntentRemoveComplete:
		kept := jobs[:0]
		for _, job := range jobs {
			if !job.IsComplete() {
				kept = append(kept, job)
			}
		}
		return kept

	case models.IntentRemoveAll:
		return []models.JobRecord{}

	case models.IntentResetFailAll:
		for i := range jobs {
			if jobs[i].IsComplete() {
				continue
			}
			jobs[i].Fails = 0
			jobs[i].FailReason = ""
			jobs[i].Status = models.JobStatusInitial
		}
		return jobs

	default:
		c.logger.Warn().Str("intent", string(intent.Kind)).Str("job_id", intent.JobID).Msg("Ignoring unrecognized intent")
		return jobs
	}
}

// openJob finds the job an outcome intent refers to. Complete jobs are terminal
// and are not returned, so a late result can never move a job out of complete.
func (c *Controller) openJob(jobs []models.JobRecord, intent models.Intent) *models.JobRecord {
	i := indexOf(jobs, intent.JobID)
	if i < 0 {
		return nil
	}
	if jobs[i].IsComplete() {
		c.logger.Debug().Str("job_id", intent.JobID).Str("intent", string(intent.Kind)).Msg("Job already complete, intent ignored")
		return nil
	}
	return &jobs[i]
}

func indexOf(jobs []models.JobRecord, id string) int {
	for i := range jobs {
		if jobs[i].ID == id {
			return i
		}
	}
	return -1
}
