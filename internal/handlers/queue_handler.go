// -----------------------------------------------------------------------
// Last Modified: Monday, 19th October 2026 4:18:33 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pagesponge/internal/common"
	"github.com/ternarybob/pagesponge/internal/models"
)

// SpongeRequest enqueues one page whose text was already collected
type SpongeRequest struct {
	URL  string `json:"url" validate:"required,url"`
	Text string `json:"text"`
}

// BulkRequest enqueues a list of URLs, given as an array and/or a pasted block of text
type BulkRequest struct {
	URLs []string `json:"urls" validate:"required_without=Text"`
	Text string   `json:"text" validate:"required_without=URLs"`
}

// QueueResponse is the observer view of the queue
type QueueResponse struct {
	Jobs   []models.JobRecord `json:"jobs"`
	Active int                `json:"active"`
}

// QueueHandler turns HTTP triggers into queue intents
type QueueHandler struct {
	controller QueueController
	validate   *validator.Validate
	logger     arbor.ILogger
}

// NewQueueHandler creates a new QueueHandler
func NewQueueHandler(controller QueueController, logger arbor.ILogger) *QueueHandler {
	return &QueueHandler{
		controller: controller,
		validate:   validator.New(),
		logger:     logger,
	}
}

// GetQueueHandler handles GET /api/queue
func (h *QueueHandler) GetQueueHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	jobs, err := h.controller.Snapshot(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read queue")
		WriteError(w, http.StatusInternalServerError, "Failed to read queue")
		return
	}

	WriteJSON(w, http.StatusOK, QueueResponse{Jobs: jobs, Active: h.controller.ActiveCount()})
}

// SpongeHandler handles POST /api/queue/sponge
func (h *QueueHandler) SpongeHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req SpongeRequest
	if !DecodeAndValidate(w, r, h.validate, &req) {
		return
	}

	url, ok := common.NormalizeURL(req.URL)
	if !ok {
		WriteError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}

	h.controller.Push(models.Enqueue(url, req.Text))

	h.logger.Info().Str("url", url).Int("text_length", len(req.Text)).Msg("Page queued")
	WriteAccepted(w, "Page queued")
}

// BulkHandler handles POST /api/queue/bulk
func (h *QueueHandler) BulkHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req BulkRequest
	if !DecodeAndValidate(w, r, h.validate, &req) {
		return
	}

	urls := common.NormalizeURLs(req.URLs, h.logger)
	if req.Text != "" {
		urls = append(urls, common.ExtractURLs(req.Text, h.logger)...)
	}
	if len(urls) == 0 {
		WriteError(w, http.StatusBadRequest, "no valid URLs in request")
		return
	}

	h.controller.Push(models.BulkEnqueue(urls))

	h.logger.Info().Int("urls", len(urls)).Msg("Bulk URLs queued")
	WriteAccepted(w, "URLs queued")
}

// RemoveJobHandler handles DELETE /api/queue/{id}
func (h *QueueHandler) RemoveJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "DELETE") {
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/queue/"), "/")
	if id == "" || strings.Contains(id, "/") {
		WriteError(w, http.StatusBadRequest, "job id is required")
		return
	}

	h.controller.Push(models.RemoveOne(id))
	WriteAccepted(w, "Job removal queued")
}

// RemoveCompleteHandler handles POST /api/queue/remove-complete
func (h *QueueHandler) RemoveCompleteHandler(w http.ResponseWriter, r *http.Request) {
	h.pushCommand(w, r, models.RemoveComplete(), "Removal of complete jobs queued")
}

// RemoveAllHandler handles POST /api/queue/remove-all
func (h *QueueHandler) RemoveAllHandler(w http.ResponseWriter, r *http.Request) {
	h.pushCommand(w, r, models.RemoveAll(), "Removal of all jobs queued")
}

// ResetFailAllHandler handles POST /api/queue/reset-fail-all
func (h *QueueHandler) ResetFailAllHandler(w http.ResponseWriter, r *http.Request) {
	h.pushCommand(w, r, models.ResetFailAll(), "Failure reset queued")
}

func (h *QueueHandler) pushCommand(w http.ResponseWriter, r *http.Request, intent models.Intent, message string) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	h.controller.Push(intent)

	h.logger.Info().Str("intent", string(intent.Kind)).Msg("Queue command received")
	WriteAccepted(w, message)
}
