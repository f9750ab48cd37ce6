package controller

import (
	"context"
	"net/http"

	"github.com/cassiomorais/channelsync/internal/application/syncer"
	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/domain/queue"
	"github.com/go-chi/chi/v5"
)

// Dispatcher runs a task for a set of queue item ids.
type Dispatcher interface {
	Dispatch(ctx context.Context, task string, ids []int64) error
}

// DeliverySummarizer reports per-destination progress of a rate push.
type DeliverySummarizer interface {
	Summary(ctx context.Context, queueID int64) (map[queue.Status]int, error)
}

// QueueController handles queue triage and dispatch requests.
type QueueController struct {
	admin      *syncer.Admin
	dispatcher Dispatcher
	deliveries DeliverySummarizer
}

func NewQueueController(admin *syncer.Admin, dispatcher Dispatcher, deliveries DeliverySummarizer) *QueueController {
	return &QueueController{admin: admin, dispatcher: dispatcher, deliveries: deliveries}
}

func (h *QueueController) table(r *http.Request) (syncer.ItemTriage, error) {
	kind, err := queue.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return nil, domainErrors.NewValidationError("kind", err.Error())
	}
	return h.admin.Table(kind)
}

// ListItems handles GET /api/v1/queues/{kind}/items
func (h *QueueController) ListItems(w http.ResponseWriter, r *http.Request) {
	table, err := h.table(r)
	if err != nil {
		writeError(w, err)
		return
	}

	filter := queue.ListFilter{}
	if s := r.URL.Query().Get("status"); s != "" {
		status := queue.Status(s)
		filter.Status = &status
	}
	if s := r.URL.Query().Get("reason"); s != "" {
		filter.Reason = &s
	}
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		writeError(w, err)
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		writeError(w, err)
		return
	}
	if filter.Limit == 0 || filter.Limit > 500 {
		filter.Limit = 100
	}

	recs, err := table.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*ItemResponse, 0, len(recs))
	for _, rec := range recs {
		resp = append(resp, FromRecord(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetItem handles GET /api/v1/queues/{kind}/items/{id}
func (h *QueueController) GetItem(w http.ResponseWriter, r *http.Request) {
	h.withItem(w, r, http.StatusOK, syncer.ItemTriage.Get)
}

// CancelItem handles POST /api/v1/queues/{kind}/items/{id}/cancel
func (h *QueueController) CancelItem(w http.ResponseWriter, r *http.Request) {
	h.withItem(w, r, http.StatusOK, syncer.ItemTriage.Cancel)
}

// RequeueItem handles POST /api/v1/queues/{kind}/items/{id}/requeue
func (h *QueueController) RequeueItem(w http.ResponseWriter, r *http.Request) {
	h.withItem(w, r, http.StatusAccepted, syncer.ItemTriage.Requeue)
}

func (h *QueueController) withItem(
	w http.ResponseWriter,
	r *http.Request,
	status int,
	op func(syncer.ItemTriage, context.Context, int64) (queue.Record, error),
) {
	table, err := h.table(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := op(table, r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, FromRecord(rec))
}

// Dispatch handles POST /api/v1/dispatch/{task}. The groups run before the
// response is written.
func (h *QueueController) Dispatch(w http.ResponseWriter, r *http.Request) {
	task := chi.URLParam(r, "task")
	if _, err := queue.ParseKind(task); err != nil {
		writeError(w, domainErrors.NewValidationError("task", err.Error()))
		return
	}

	var req DispatchRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.dispatcher.Dispatch(r.Context(), task, req.IDs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task, "ids": req.IDs})
}

// DeliverySummary handles GET /api/v1/rate-pushes/{id}/deliveries
func (h *QueueController) DeliverySummary(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	counts, err := h.deliveries.Summary(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromSummary(id, counts))
}
