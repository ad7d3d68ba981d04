package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"PulseMail/internal/csvparser"
	"PulseMail/internal/models"
	"PulseMail/internal/queue"
	"PulseMail/internal/render"
	"PulseMail/internal/worker"
)

// maxBodyBytes caps JSON and CSV request bodies.
const maxBodyBytes = 10 << 20

// Queue is the caller-facing queue surface. *queue.Enqueuer satisfies it.
type Queue interface {
	EnqueueFromTemplate(ctx context.Context, templateName string, to queue.Recipient, vars map[string]any, opts queue.Options) (uuid.UUID, error)
	EnqueueRendered(ctx context.Context, to queue.Recipient, content queue.Content, opts queue.Options) (uuid.UUID, error)
	EnqueueBulk(ctx context.Context, templateName string, recipients csvparser.Recipients, opts queue.Options) (queue.BulkResult, error)
	Get(ctx context.Context, id uuid.UUID) (*queue.EntryDetails, error)
	StatusCounts(ctx context.Context) (models.StatusCounts, error)
	ProcessPending(ctx context.Context) (worker.Stats, error)
}

type Handler struct {
	Queue Queue
	Log   *zap.Logger
	// MaxBulkRows limits recipients per CSV upload.
	MaxBulkRows int
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/emails", h.SendEmail)
	r.Get("/emails/{id}", h.GetEmail)
	r.Post("/templates/{name}/emails", h.SendTemplateEmail)
	r.Post("/templates/{name}/bulk", h.SendBulk)
	r.Get("/queue/status", h.QueueStatus)
	r.Post("/queue/process", h.ProcessQueue)
	return r
}

type deliveryOptions struct {
	From         *queue.Recipient `json:"from,omitempty"`
	ScheduledFor *time.Time       `json:"scheduled_for,omitempty"`
	SendNow      bool             `json:"send_now"`
	MaxRetries   int              `json:"max_retries,omitempty"`
	SentBy       string           `json:"sent_by,omitempty"`
}

func (o deliveryOptions) toOptions() queue.Options {
	opts := queue.Options{
		ScheduledFor: o.ScheduledFor,
		SendNow:      o.SendNow,
		MaxRetries:   o.MaxRetries,
		SentBy:       o.SentBy,
	}
	if o.From != nil {
		opts.From = *o.From
	}
	return opts
}

type sendEmailRequest struct {
	To      queue.Recipient `json:"to"`
	Subject string          `json:"subject"`
	HTML    string          `json:"html"`
	Text    string          `json:"text,omitempty"`
	deliveryOptions
}

type sendTemplateRequest struct {
	To        queue.Recipient `json:"to"`
	Variables map[string]any  `json:"variables"`
	deliveryOptions
}

type enqueueResponse struct {
	ID     uuid.UUID          `json:"id"`
	Status models.EntryStatus `json:"status"`
}

// SendEmail queues a caller-rendered message.
func (h *Handler) SendEmail(w http.ResponseWriter, r *http.Request) {
	var req sendEmailRequest
	if !h.decode(w, r, &req) {
		return
	}

	content := queue.Content{Subject: req.Subject, HTML: req.HTML, Text: req.Text}
	id, err := h.Queue.EnqueueRendered(r.Context(), req.To, content, req.toOptions())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeEnqueued(w, r, id)
}

// SendTemplateEmail renders the named template and queues the result.
func (h *Handler) SendTemplateEmail(w http.ResponseWriter, r *http.Request) {
	var req sendTemplateRequest
	if !h.decode(w, r, &req) {
		return
	}

	name := chi.URLParam(r, "name")
	id, err := h.Queue.EnqueueFromTemplate(r.Context(), name, req.To, req.Variables, req.toOptions())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeEnqueued(w, r, id)
}

// SendBulk queues one templated email per row of a CSV body. Optional query
// parameters: scheduled_for (RFC 3339) defers the whole batch, max_rows lowers
// the row cap. Rows that could not be queued are listed with their line, and
// rows past the cap set "truncated".
func (h *Handler) SendBulk(w http.ResponseWriter, r *http.Request) {
	var opts queue.Options
	if v := r.URL.Query().Get("scheduled_for"); v != "" {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid scheduled_for: "+err.Error(), http.StatusBadRequest)
			return
		}
		opts.ScheduledFor = &at
	}

	maxRows := parseLimit(r.URL.Query().Get("max_rows"), h.MaxBulkRows)
	if h.MaxBulkRows > 0 && maxRows > h.MaxBulkRows {
		maxRows = h.MaxBulkRows
	}

	recipients, err := csvparser.ParseRecipients(http.MaxBytesReader(w, r.Body, maxBodyBytes), maxRows)
	if err != nil {
		http.Error(w, "invalid recipient csv: "+err.Error(), http.StatusBadRequest)
		return
	}

	name := chi.URLParam(r, "name")
	res, err := h.Queue.EnqueueBulk(r.Context(), name, recipients, opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// GetEmail returns an entry and its event trail.
func (h *Handler) GetEmail(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid email id", http.StatusBadRequest)
		return
	}

	details, err := h.Queue.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *Handler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Queue.StatusCounts(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"counts": counts,
		"total":  counts.Total(),
	})
}

// ProcessQueue runs one processing pass and reports its stats.
func (h *Handler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Queue.ProcessPending(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// writeEnqueued reports the entry's current status, which reflects the
// delivery attempt when send_now was requested.
func (h *Handler) writeEnqueued(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	resp := enqueueResponse{ID: id, Status: models.StatusPending}
	if details, err := h.Queue.Get(r.Context(), id); err == nil {
		resp.Status = details.Entry.Status
	} else {
		h.Log.Warn("failed to read back queued entry", zap.String("entry_id", id.String()), zap.Error(err))
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, queue.ErrInvalidMessage):
		status = http.StatusBadRequest
	case errors.Is(err, queue.ErrTemplateNotFound), errors.Is(err, models.ErrEntryNotFound):
		status = http.StatusNotFound
	case errors.Is(err, render.ErrUnsupportedValue):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, worker.ErrPassInProgress):
		status = http.StatusConflict
	default:
		h.Log.Error("request failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseLimit(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return def
}
