package controller

import (
	"io"
	"net/http"

	"github.com/cassiomorais/channelsync/internal/application/syncer"
	"github.com/cassiomorais/channelsync/internal/domain/webhook"
	"github.com/rs/zerolog"
)

const defaultMaxWebhookBody = 1 << 20

// WebhookController records channel notifications and serves the audit trail.
type WebhookController struct {
	service *syncer.WebhookService
	audits  webhook.Repository
	maxBody int64
	logger  zerolog.Logger
}

func NewWebhookController(service *syncer.WebhookService, audits webhook.Repository, maxBody int64, logger zerolog.Logger) *WebhookController {
	if maxBody <= 0 {
		maxBody = defaultMaxWebhookBody
	}
	return &WebhookController{service: service, audits: audits, maxBody: maxBody, logger: logger}
}

// Receive handles POST /webhooks/channel. Every body is recorded, including
// empty, malformed and oversized ones; the latter are cut at maxBody.
func (h *WebhookController) Receive(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody+1))
	if err != nil {
		// Keep whatever arrived before the connection broke.
		h.logger.Warn().Err(err).Int("bytes", len(raw)).Msg("webhook body read failed")
	}
	truncated := int64(len(raw)) > h.maxBody
	if truncated {
		raw = raw[:h.maxBody]
	}

	rec, err := h.service.Receive(r.Context(), raw, truncated, r.Header, r.RemoteAddr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, AcceptedResponse{ID: rec.ID})
}

// GetAudit handles GET /api/v1/webhooks/{id}
func (h *WebhookController) GetAudit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.audits.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromAudit(rec))
}

// ListAudits handles GET /api/v1/webhooks
func (h *WebhookController) ListAudits(w http.ResponseWriter, r *http.Request) {
	filter := webhook.ListFilter{}
	if s := r.URL.Query().Get("status"); s != "" {
		status := webhook.Status(s)
		filter.Status = &status
	}
	if s := r.URL.Query().Get("event_type"); s != "" {
		filter.EventType = &s
	}
	var err error
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

	recs, err := h.audits.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]*AuditResponse, 0, len(recs))
	for _, rec := range recs {
		resp = append(resp, FromAudit(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}
