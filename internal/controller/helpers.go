package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var validate = validator.New()

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorMappings is checked in order; the first match wins.
var errorMappings = []errorMapping{
	{domainErrors.ErrItemNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrLinkNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrEventNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrMappingNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrAuditRecordNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrUnknownTask, http.StatusNotFound, "unknown_task"},
	{domainErrors.ErrItemLocked, http.StatusConflict, "item_locked"},
	{domainErrors.ErrLockLost, http.StatusConflict, "conflict"},
	{domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
	{domainErrors.ErrDuplicateDedupeKey, http.StatusConflict, "conflict"},
	{domainErrors.ErrLinkExists, http.StatusConflict, "link_exists"},
	{domainErrors.ErrDuplicateRemote, http.StatusConflict, "duplicate_remote"},
	{domainErrors.ErrUnsafeToDelete, http.StatusConflict, "unsafe_to_delete"},
	{domainErrors.ErrInvalidMirror, http.StatusUnprocessableEntity, "invalid_mirror"},
	{domainErrors.ErrMissingGrouping, http.StatusUnprocessableEntity, "missing_grouping"},
	{domainErrors.ErrUnknownEndpoint, http.StatusUnprocessableEntity, "unknown_endpoint"},
	{domainErrors.ErrValidationFailed, http.StatusBadRequest, "validation_error"},
	{domainErrors.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}

	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		resp.Code = "validation_error"
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	var domainErr *domainErrors.DomainError
	hasDomainErr := errors.As(err, &domainErr)

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			resp.Code = m.code
			// Refusals carry their reason as the code.
			if hasDomainErr && domainErr.Code != "" {
				resp.Code = domainErr.Code
			}
			writeJSON(w, m.status, resp)
			return
		}
	}

	if hasDomainErr {
		resp.Code = domainErr.Code
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	log.Error().Err(err).Msg("unhandled error in handler")
	resp.Code = "internal_error"
	resp.Error = "internal server error"
	writeJSON(w, http.StatusInternalServerError, resp)
}

func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			return domainErrors.NewValidationError(ve[0].Field(), ve[0].Tag()+" validation failed")
		}
		return domainErrors.NewValidationError("body", err.Error())
	}
	return nil
}

// pathID reads a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, domainErrors.NewValidationError(name, "must be a positive integer")
	}
	return id, nil
}

// queryInt reads an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domainErrors.NewValidationError(name, "must be a non-negative integer")
	}
	return n, nil
}
