package controller

import (
	"net/http"
	"time"

	"github.com/cassiomorais/channelsync/internal/application/syncer"
	"github.com/cassiomorais/channelsync/internal/domain/queue"
)

// EnqueueController accepts change notifications from the host application.
type EnqueueController struct {
	enqueuer *syncer.Enqueuer
	window   syncer.PullWindow
}

func NewEnqueueController(enqueuer *syncer.Enqueuer, window syncer.PullWindow) *EnqueueController {
	return &EnqueueController{enqueuer: enqueuer, window: window}
}

// BookingChange handles POST /api/v1/changes/bookings
func (h *EnqueueController) BookingChange(w http.ResponseWriter, r *http.Request) {
	var req BookingChangeRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ids, err := h.enqueuer.EnqueueBookingChange(r.Context(), req.EventID, queue.BookingOperation(req.Operation), req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusAccepted, EnqueueResponse{IDs: ids, Created: len(ids) > 0})
}

// RateChange handles POST /api/v1/changes/rates
func (h *EnqueueController) RateChange(w http.ResponseWriter, r *http.Request) {
	var req RateChangeRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}
	from, err := parseDate("date_from", req.DateFrom)
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := parseDate("date_to", req.DateTo)
	if err != nil {
		writeError(w, err)
		return
	}

	id, changed, err := h.enqueuer.EnqueueRateChange(r.Context(), req.UnitID, from, to, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, EnqueueResponse{IDs: []int64{id}, Created: changed})
}

// Pull handles POST /api/v1/pulls
func (h *EnqueueController) Pull(w http.ResponseWriter, r *http.Request) {
	var req PullRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	from, to := h.window.At(time.Now())
	if req.DateFrom != "" {
		var err error
		if from, err = parseDate("date_from", req.DateFrom); err != nil {
			writeError(w, err)
			return
		}
		if to, err = parseDate("date_to", req.DateTo); err != nil {
			writeError(w, err)
			return
		}
	}

	id, changed, err := h.enqueuer.EnqueuePull(r.Context(), req.MappingID, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, EnqueueResponse{IDs: []int64{id}, Created: changed})
}
