package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cassiomorais/channelsync/internal/domain/channel"
	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/domain/link"
	"github.com/cassiomorais/channelsync/internal/domain/webhook"
	infraChannel "github.com/cassiomorais/channelsync/internal/infrastructure/channel"
	infraRedis "github.com/cassiomorais/channelsync/internal/infrastructure/redis"
)

// --- Link Repository Mock ---

// MockLinkRepository is an in-memory link.Repository enforcing the same
// uniqueness rules as the event_remote_links table.
type MockLinkRepository struct {
	mu     sync.Mutex
	links  map[int64]*link.Link
	nextID int64

	CreateFunc func(ctx context.Context, l *link.Link) error
	UpdateFunc func(ctx context.Context, l *link.Link) error
}

func NewMockLinkRepository() *MockLinkRepository {
	return &MockLinkRepository{links: make(map[int64]*link.Link)}
}

func cloneLink(l *link.Link) *link.Link {
	c := *l
	return &c
}

func (m *MockLinkRepository) Create(ctx context.Context, l *link.Link) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, l)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUnique(l); err != nil {
		return err
	}
	m.nextID++
	l.ID = m.nextID
	m.links[l.ID] = cloneLink(l)
	return nil
}

func (m *MockLinkRepository) checkUnique(l *link.Link) error {
	for _, other := range m.links {
		if other.ID == l.ID {
			continue
		}
		if other.EventID == l.EventID && other.MappingID == l.MappingID {
			return domainErrors.ErrLinkExists
		}
		if l.HasRemoteID() && other.HasRemoteID() && *other.RemoteBookingID == *l.RemoteBookingID {
			return domainErrors.ErrDuplicateRemote
		}
	}
	return nil
}

func (m *MockLinkRepository) Get(ctx context.Context, id int64) (*link.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[id]
	if !ok {
		return nil, domainErrors.ErrLinkNotFound
	}
	return cloneLink(l), nil
}

func (m *MockLinkRepository) GetByRemoteID(ctx context.Context, remoteID string) (*link.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.HasRemoteID() && *l.RemoteBookingID == remoteID {
			return cloneLink(l), nil
		}
	}
	return nil, domainErrors.ErrLinkNotFound
}

func (m *MockLinkRepository) GetByEventMapping(ctx context.Context, eventID, mappingID int64) (*link.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.EventID == eventID && l.MappingID == mappingID {
			return cloneLink(l), nil
		}
	}
	return nil, domainErrors.ErrLinkNotFound
}

// ListByEvent returns roots before mirrors, each ordered by id.
func (m *MockLinkRepository) ListByEvent(ctx context.Context, eventID int64) ([]*link.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*link.Link
	for _, l := range m.links {
		if l.EventID == eventID {
			out = append(out, cloneLink(l))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsMirror() != out[j].IsMirror() {
			return !out[i].IsMirror()
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MockLinkRepository) Update(ctx context.Context, l *link.Link) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, l)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.links[l.ID]; !ok {
		return domainErrors.ErrLinkNotFound
	}
	if err := m.checkUnique(l); err != nil {
		return err
	}
	m.links[l.ID] = cloneLink(l)
	return nil
}

func (m *MockLinkRepository) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.links[id]; !ok {
		return domainErrors.ErrLinkNotFound
	}
	delete(m.links, id)
	return nil
}

// AddLink seeds a link, assigning an id when it has none.
func (m *MockLinkRepository) AddLink(l *link.Link) *link.Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == 0 {
		m.nextID++
		l.ID = m.nextID
	} else if l.ID > m.nextID {
		m.nextID = l.ID
	}
	m.links[l.ID] = cloneLink(l)
	return l
}

// Link returns the stored copy of a link, or nil.
func (m *MockLinkRepository) Link(id int64) *link.Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[id]
	if !ok {
		return nil
	}
	return cloneLink(l)
}

// --- Mapping Repository Mock ---

type MockMappingRepository struct {
	mu       sync.Mutex
	mappings map[int64]*channel.Mapping

	ListActiveFunc func(ctx context.Context) ([]*channel.Mapping, error)
}

func NewMockMappingRepository(mappings ...*channel.Mapping) *MockMappingRepository {
	m := &MockMappingRepository{mappings: make(map[int64]*channel.Mapping)}
	for _, mp := range mappings {
		m.mappings[mp.ID] = mp
	}
	return m
}

func (m *MockMappingRepository) Get(ctx context.Context, id int64) (*channel.Mapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.mappings[id]
	if !ok {
		return nil, domainErrors.ErrMappingNotFound
	}
	c := *mp
	return &c, nil
}

func (m *MockMappingRepository) ListActiveByUnit(ctx context.Context, unitID int64) ([]*channel.Mapping, error) {
	return m.list(func(mp *channel.Mapping) bool { return mp.Active && mp.UnitID == unitID }), nil
}

func (m *MockMappingRepository) ListActive(ctx context.Context) ([]*channel.Mapping, error) {
	if m.ListActiveFunc != nil {
		return m.ListActiveFunc(ctx)
	}
	return m.list(func(mp *channel.Mapping) bool { return mp.Active }), nil
}

func (m *MockMappingRepository) list(keep func(*channel.Mapping) bool) []*channel.Mapping {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*channel.Mapping
	for _, mp := range m.mappings {
		if keep(mp) {
			c := *mp
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- Event Repository Mock ---

type MockEventRepository struct {
	mu     sync.Mutex
	events map[int64]*link.Event
	nextID int64

	ImportFunc func(ctx context.Context, mappingID int64, rb link.RemoteBooking) (int64, error)
}

func NewMockEventRepository(events ...*link.Event) *MockEventRepository {
	m := &MockEventRepository{events: make(map[int64]*link.Event), nextID: 1000}
	for _, e := range events {
		m.events[e.ID] = e
	}
	return m
}

func (m *MockEventRepository) Get(ctx context.Context, id int64) (*link.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, domainErrors.ErrEventNotFound
	}
	c := *e
	return &c, nil
}

func (m *MockEventRepository) ImportRemoteBooking(ctx context.Context, mappingID int64, rb link.RemoteBooking) (int64, error) {
	if m.ImportFunc != nil {
		return m.ImportFunc(ctx, mappingID, rb)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	state := link.EventConfirmed
	if rb.Cancelled() {
		state = link.EventCancelled
	}
	m.events[m.nextID] = &link.Event{ID: m.nextID, State: state, Origin: link.OriginOTA}
	return m.nextID, nil
}

// --- Transaction Manager Mock ---

// MockTransactionManager runs fn directly.
type MockTransactionManager struct{}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// --- Webhook Audit Repository Mock ---

type MockAuditRepository struct {
	mu      sync.Mutex
	records map[int64]*webhook.AuditRecord
	nextID  int64

	InsertFunc func(ctx context.Context, r *webhook.AuditRecord) error
}

func NewMockAuditRepository() *MockAuditRepository {
	return &MockAuditRepository{records: make(map[int64]*webhook.AuditRecord)}
}

func (m *MockAuditRepository) Insert(ctx context.Context, r *webhook.AuditRecord) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	c := *r
	m.records[r.ID] = &c
	return nil
}

func (m *MockAuditRepository) Get(ctx context.Context, id int64) (*webhook.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, domainErrors.ErrAuditRecordNotFound
	}
	c := *r
	c.Metadata = make(map[string]any, len(r.Metadata))
	for k, v := range r.Metadata {
		c.Metadata[k] = v
	}
	return &c, nil
}

func (m *MockAuditRepository) UpdateOutcome(ctx context.Context, r *webhook.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.records[r.ID]
	if !ok {
		return domainErrors.ErrAuditRecordNotFound
	}
	stored.Status = r.Status
	stored.ErrorMessage = r.ErrorMessage
	stored.Metadata = r.Metadata
	return nil
}

func (m *MockAuditRepository) List(ctx context.Context, f webhook.ListFilter) ([]*webhook.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*webhook.AuditRecord
	for _, r := range m.records {
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		if f.EventType != nil && r.EventType != *f.EventType {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// --- Channel Mocks ---

// MockCaller records every call and answers through DoFunc.
type MockCaller struct {
	mu    sync.Mutex
	calls []infraChannel.Call

	DoFunc func(ctx context.Context, call infraChannel.Call) (*infraChannel.Response, error)
}

func (m *MockCaller) Do(ctx context.Context, call infraChannel.Call) (*infraChannel.Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
	if m.DoFunc != nil {
		return m.DoFunc(ctx, call)
	}
	return &infraChannel.Response{StatusCode: 200, Body: []byte(`{}`), Request: call.Endpoint.Method + " " + call.Endpoint.Path}, nil
}

// Calls returns the calls made so far.
func (m *MockCaller) Calls() []infraChannel.Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]infraChannel.Call(nil), m.calls...)
}

// Actions returns the action of every call made so far.
func (m *MockCaller) Actions() []channel.Action {
	var out []channel.Action
	for _, c := range m.Calls() {
		out = append(out, c.Endpoint.Action)
	}
	return out
}

// JSONResponse builds a 200 response with body.
func JSONResponse(body string) *infraChannel.Response {
	return &infraChannel.Response{StatusCode: 200, Body: []byte(body)}
}

// MockCredentialResolver hands out a fixed token per credential id.
type MockCredentialResolver struct {
	mu          sync.Mutex
	invalidated []int64

	ResolveFunc func(ctx context.Context, id int64) (*channel.Credential, error)
}

func (m *MockCredentialResolver) Resolve(ctx context.Context, id int64) (*channel.Credential, error) {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, id)
	}
	return &channel.Credential{ID: id, AccessToken: fmt.Sprintf("token-%d", id)}, nil
}

func (m *MockCredentialResolver) Invalidate(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, id)
	return nil
}

func (m *MockCredentialResolver) Invalidated() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.invalidated...)
}

// --- Stream Publisher Mock ---

// Dispatched is one PublishDispatch call.
type Dispatched struct {
	Task string
	IDs  []int64
}

// MockPublisher records what would have gone to the Redis streams.
type MockPublisher struct {
	mu          sync.Mutex
	dispatched  []Dispatched
	webhooks    []int64
	deadLetters []infraRedis.DeadLetter

	PublishDispatchFunc func(ctx context.Context, task string, ids []int64) error
}

func (m *MockPublisher) PublishDispatch(ctx context.Context, task string, ids []int64) error {
	if m.PublishDispatchFunc != nil {
		return m.PublishDispatchFunc(ctx, task, ids)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatched = append(m.dispatched, Dispatched{Task: task, IDs: append([]int64(nil), ids...)})
	return nil
}

func (m *MockPublisher) PublishWebhook(ctx context.Context, auditID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks = append(m.webhooks, auditID)
	return nil
}

func (m *MockPublisher) PublishDeadLetter(ctx context.Context, dl infraRedis.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLetters = append(m.deadLetters, dl)
	return nil
}

func (m *MockPublisher) Dispatched() []Dispatched {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Dispatched(nil), m.dispatched...)
}

func (m *MockPublisher) Webhooks() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.webhooks...)
}

func (m *MockPublisher) DeadLetters() []infraRedis.DeadLetter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]infraRedis.DeadLetter(nil), m.deadLetters...)
}

// FixedClock returns a clock frozen at t that tests can move.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{now: t}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
