package channel

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/cassiomorais/channelsync/internal/domain/errors"
)

// Action names a remote operation
type Action string

const (
	ActionBookingCreate Action = "bookings.create"
	ActionBookingUpdate Action = "bookings.update"
	ActionBookingCancel Action = "bookings.cancel"
	ActionBookingList   Action = "bookings.list"
	ActionRateUpdate    Action = "rates.update"
)

// Endpoint is a named remote action with its path template and method.
type Endpoint struct {
	ID     int64
	Action Action
	Path   string
	Method string
}

// Resolve expands {placeholders} in the path. Every placeholder must be bound.
func (e Endpoint) Resolve(params map[string]string) (string, error) {
	path := e.Path
	for k, v := range params {
		path = strings.ReplaceAll(path, "{"+k+"}", url.PathEscape(v))
	}
	if strings.ContainsAny(path, "{}") {
		return "", errors.NewValidationError("path", fmt.Sprintf("unbound placeholder in %s", path))
	}
	return path, nil
}

// Registry is the static action lookup shared by all senders.
type Registry struct {
	byID     map[int64]Endpoint
	byAction map[Action]Endpoint
}

// DefaultEndpoints is the table the remote API exposes.
var DefaultEndpoints = []Endpoint{
	{ID: 1, Action: ActionBookingCreate, Path: "/bookings", Method: http.MethodPost},
	{ID: 2, Action: ActionBookingUpdate, Path: "/bookings/{remote_id}", Method: http.MethodPut},
	{ID: 3, Action: ActionBookingCancel, Path: "/bookings/{remote_id}", Method: http.MethodDelete},
	{ID: 4, Action: ActionBookingList, Path: "/bookings", Method: http.MethodGet},
	{ID: 5, Action: ActionRateUpdate, Path: "/rates", Method: http.MethodPost},
}

func NewRegistry(endpoints []Endpoint) (*Registry, error) {
	r := &Registry{
		byID:     make(map[int64]Endpoint, len(endpoints)),
		byAction: make(map[Action]Endpoint, len(endpoints)),
	}
	for _, e := range endpoints {
		if e.ID <= 0 || e.Action == "" || e.Path == "" || e.Method == "" {
			return nil, errors.NewValidationError("endpoint", fmt.Sprintf("incomplete endpoint %+v", e))
		}
		if _, dup := r.byID[e.ID]; dup {
			return nil, errors.NewValidationError("endpoint", fmt.Sprintf("duplicate id %d", e.ID))
		}
		if _, dup := r.byAction[e.Action]; dup {
			return nil, errors.NewValidationError("endpoint", fmt.Sprintf("duplicate action %s", e.Action))
		}
		r.byID[e.ID] = e
		r.byAction[e.Action] = e
	}
	return r, nil
}

// DefaultRegistry builds the registry from DefaultEndpoints.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultEndpoints)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) ByID(id int64) (Endpoint, error) {
	e, ok := r.byID[id]
	if !ok {
		return Endpoint{}, fmt.Errorf("endpoint %d: %w", id, errors.ErrUnknownEndpoint)
	}
	return e, nil
}

func (r *Registry) ByAction(a Action) (Endpoint, error) {
	e, ok := r.byAction[a]
	if !ok {
		return Endpoint{}, fmt.Errorf("endpoint %s: %w", a, errors.ErrUnknownEndpoint)
	}
	return e, nil
}

// All returns the endpoints ordered by id.
func (r *Registry) All() []Endpoint {
	out := make([]Endpoint, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
