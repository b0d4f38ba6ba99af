package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pagesponge/internal/models"
	"golang.org/x/time/rate"
)

// maxResponseBytes bounds how much of the endpoint's reply is read
const maxResponseBytes = 1 << 20

// Config holds the upload endpoint settings
type Config struct {
	Endpoint  string
	Timeout   time.Duration
	RateLimit time.Duration // Minimum spacing between submissions, 0 disables pacing
}

// Metadata describes the submitting installation
type Metadata struct {
	IsDev   bool   `json:"isDev"`
	Version string `json:"version"`
}

// Payload is the JSON body posted for each job
type Payload struct {
	URL      string   `json:"url"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// Runner submits a job's collected text to the upload endpoint
type Runner struct {
	client   *http.Client
	config   Config
	metadata Metadata
	limiter  *rate.Limiter
	logger   arbor.ILogger
}

// NewRunner creates an upload runner. A nil client gets one with config.Timeout.
func NewRunner(client *http.Client, config Config, metadata Metadata, logger arbor.ILogger) *Runner {
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Every(config.RateLimit), 1)
	}

	return &Runner{
		client:   client,
		config:   config,
		metadata: metadata,
		limiter:  limiter,
		logger:   logger,
	}
}

// Run performs one submission. Any transport error, or a reply that is not
// JSON, is an upload failure. Retrying is up to the queue controller.
func (r *Runner) Run(ctx context.Context, job models.JobRecord) models.Intent {
	if err := r.submit(ctx, job); err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.ID).Str("url", job.URL).Msg("Upload failed")
		return models.UploadFailure(job.ID)
	}

	r.logger.Info().Str("job_id", job.ID).Str("url", job.URL).Int("text_length", len(job.Text)).Msg("Page text uploaded")
	return models.UploadSuccess(job.ID)
}

func (r *Runner) submit(ctx context.Context, job models.JobRecord) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(Payload{
		URL:      job.URL,
		Text:     job.Text,
		Metadata: r.metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if !json.Valid(data) {
		return fmt.Errorf("response is not JSON (status %d)", resp.StatusCode)
	}

	if resp.StatusCode >= 400 {
		r.logger.Debug().Int("status", resp.StatusCode).Str("job_id", job.ID).Msg("Upload endpoint replied with error status and JSON body")
	}
	return nil
}
