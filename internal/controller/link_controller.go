package controller

import (
	"net/http"

	"github.com/cassiomorais/channelsync/internal/application/syncer"
	"github.com/cassiomorais/channelsync/internal/domain/link"
)

// LinkController handles event link requests.
type LinkController struct {
	links *syncer.LinkService
}

func NewLinkController(links *syncer.LinkService) *LinkController {
	return &LinkController{links: links}
}

// CreateRoot handles POST /api/v1/links
func (h *LinkController) CreateRoot(w http.ResponseWriter, r *http.Request) {
	var req CreateLinkRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	l, err := h.links.CreateRoot(r.Context(), req.EventID, req.MappingID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, FromLink(l))
}

// AddMirror handles POST /api/v1/links/{id}/mirrors
func (h *LinkController) AddMirror(w http.ResponseWriter, r *http.Request) {
	anchorID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req MirrorRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	l, err := h.links.AddMirror(r.Context(), anchorID, req.MappingID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, FromLink(l))
}

// CheckDelete handles GET /api/v1/links/{id}/delete-check
func (h *LinkController) CheckDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	d, err := h.links.CheckDelete(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DecisionResponse{LinkID: id, Safe: d.Safe, Reason: d.Reason})
}

// Retire handles POST /api/v1/links/{id}/retire
func (h *LinkController) Retire(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req RetireRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	l, err := h.links.Retire(r.Context(), id, link.Status(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromLink(l))
}

// Remove handles DELETE /api/v1/links/{id}
func (h *LinkController) Remove(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.links.Remove(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SyncStatus handles GET /api/v1/events/{id}/sync-status
func (h *LinkController) SyncStatus(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	s, err := h.links.SyncStatus(r.Context(), eventID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromEventSync(s))
}
