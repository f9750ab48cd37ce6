package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/domain/link"
	"github.com/cassiomorais/channelsync/internal/domain/queue"
	"github.com/cassiomorais/channelsync/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// Observation outcomes of ObserveRemote.
const (
	ObservedTouched  = "touched"
	ObservedRetired  = "retired"
	ObservedImported = "imported"
	ObservedIgnored  = "ignored"
)

// Observation reports what ObserveRemote did with a remote booking.
type Observation struct {
	Action  string
	LinkID  int64
	EventID int64
	// MappingMismatch is set when the booking is known under another mapping.
	MappingMismatch bool
}

// PushLister returns the booking push items that target a link or an event.
type PushLister interface {
	ListByEvent(ctx context.Context, eventID int64) ([]*queue.BookingPush, error)
	ListByLink(ctx context.Context, linkID int64) ([]*queue.BookingPush, error)
}

// LinkService manages the links between local events and remote bookings.
type LinkService struct {
	links     link.Repository
	events    EventReader
	importer  EventImporter
	pushes    PushLister
	txManager TransactionManager
	logger    zerolog.Logger
	now       Clock
}

func NewLinkService(
	links link.Repository,
	events EventReader,
	importer EventImporter,
	pushes PushLister,
	txManager TransactionManager,
	logger zerolog.Logger,
) *LinkService {
	return &LinkService{
		links:     links,
		events:    events,
		importer:  importer,
		pushes:    pushes,
		txManager: txManager,
		logger:    observability.Component(logger, "links"),
		now:       time.Now,
	}
}

// CreateRoot links an event to a mapping with no origin.
func (s *LinkService) CreateRoot(ctx context.Context, eventID, mappingID int64) (*link.Link, error) {
	if _, err := s.events.Get(ctx, eventID); err != nil {
		return nil, err
	}
	l, err := link.NewRootLink(eventID, mappingID, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.links.Create(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// AddMirror links the event of anchorID to another mapping. The new link is
// anchored at the root of anchorID, never at a mirror.
func (s *LinkService) AddMirror(ctx context.Context, anchorID, mappingID int64) (*link.Link, error) {
	anchor, err := s.links.Get(ctx, anchorID)
	if err != nil {
		return nil, err
	}
	graph, err := s.graph(ctx, anchor.EventID)
	if err != nil {
		return nil, err
	}
	mirror, err := graph.NewMirror(anchor, mappingID, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.links.Create(ctx, mirror); err != nil {
		return nil, err
	}
	return mirror, nil
}

func (s *LinkService) graph(ctx context.Context, eventID int64) (*link.Graph, error) {
	links, err := s.links.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list links of event %d: %w", eventID, err)
	}
	g := link.NewGraph(eventID, links)
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// CheckDelete answers whether linkID may lose its remote booking now.
func (s *LinkService) CheckDelete(ctx context.Context, linkID int64) (link.Decision, error) {
	l, err := s.links.Get(ctx, linkID)
	if err != nil {
		return link.Decision{}, err
	}
	return s.checkDelete(ctx, l)
}

func (s *LinkService) checkDelete(ctx context.Context, l *link.Link) (link.Decision, error) {
	event, err := s.events.Get(ctx, l.EventID)
	if err != nil {
		return link.Decision{}, err
	}
	items, err := s.pushes.ListByLink(ctx, l.ID)
	if err != nil {
		return link.Decision{}, err
	}
	return link.IsSafeToDelete(*event, l, itemStates(items)), nil
}

// Retire soft-deletes a link. The row stays so that the remote id keeps
// deduplicating pulls and webhooks.
func (s *LinkService) Retire(ctx context.Context, linkID int64, status link.Status) (*link.Link, error) {
	l, err := s.links.Get(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if err := l.Retire(status, s.now()); err != nil {
		return nil, err
	}
	if err := s.links.Update(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// Remove physically deletes a link that never got a remote id and has no
// work in flight. Roots that still anchor mirrors are kept.
func (s *LinkService) Remove(ctx context.Context, linkID int64) error {
	l, err := s.links.Get(ctx, linkID)
	if err != nil {
		return err
	}
	if l.HasRemoteID() {
		return domainErrors.NewDomainError(
			"remote_id_present",
			"link carries a remote booking id, retire it instead",
			domainErrors.ErrUnsafeToDelete,
		)
	}
	decision, err := s.checkDelete(ctx, l)
	if err != nil {
		return err
	}
	if !decision.Safe {
		return domainErrors.NewDomainError(decision.Reason, "link cannot be removed: "+decision.Reason, domainErrors.ErrUnsafeToDelete)
	}
	if !l.IsMirror() {
		graph, err := s.graph(ctx, l.EventID)
		if err != nil {
			return err
		}
		if n := len(graph.Mirrors(l.ID)); n > 0 {
			return domainErrors.NewDomainError(
				"root_has_mirrors",
				fmt.Sprintf("link anchors %d mirror(s)", n),
				domainErrors.ErrUnsafeToDelete,
			)
		}
	}
	return s.links.Delete(ctx, l.ID)
}

// EventSync is the sync state of one event with the links it was derived from.
type EventSync struct {
	EventID int64
	State   link.SyncState
	Links   []*link.Link
}

// SyncStatus summarizes how far an event is synchronized.
func (s *LinkService) SyncStatus(ctx context.Context, eventID int64) (*EventSync, error) {
	links, err := s.links.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	items, err := s.pushes.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return &EventSync{
		EventID: eventID,
		State:   link.SyncStatus(links, itemStates(items)),
		Links:   links,
	}, nil
}

// ObserveRemote reconciles a booking reported by a pull or a webhook. Known
// remote ids are touched (and retired when the remote cancelled them);
// unknown ones are imported as new local events.
func (s *LinkService) ObserveRemote(ctx context.Context, mappingID int64, rb link.RemoteBooking) (Observation, error) {
	if rb.ID == "" {
		return Observation{}, domainErrors.NewValidationError("remote_booking_id", "cannot be empty")
	}
	l, err := s.links.GetByRemoteID(ctx, rb.ID)
	switch {
	case err == nil:
		return s.observeKnown(ctx, l, mappingID, rb)
	case !errors.Is(err, domainErrors.ErrLinkNotFound):
		return Observation{}, err
	}

	if rb.Cancelled() {
		return Observation{Action: ObservedIgnored}, nil
	}

	var obs Observation
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		eventID, err := s.importer.ImportRemoteBooking(txCtx, mappingID, rb)
		if err != nil {
			return err
		}
		now := s.now()
		l, err := link.NewRootLink(eventID, mappingID, now)
		if err != nil {
			return err
		}
		if err := l.AttachRemoteID(rb.ID, now); err != nil {
			return err
		}
		if err := s.links.Create(txCtx, l); err != nil {
			return err
		}
		obs = Observation{Action: ObservedImported, LinkID: l.ID, EventID: eventID}
		return nil
	})
	if errors.Is(err, domainErrors.ErrDuplicateRemote) {
		// A concurrent observer imported it first.
		l, gerr := s.links.GetByRemoteID(ctx, rb.ID)
		if gerr != nil {
			return Observation{}, gerr
		}
		return s.observeKnown(ctx, l, mappingID, rb)
	}
	if err != nil {
		return Observation{}, err
	}
	s.logger.Info().Str("remote_booking_id", rb.ID).Int64("event_id", obs.EventID).Msg("imported remote booking")
	return obs, nil
}

func (s *LinkService) observeKnown(ctx context.Context, l *link.Link, mappingID int64, rb link.RemoteBooking) (Observation, error) {
	now := s.now()
	obs := Observation{Action: ObservedTouched, LinkID: l.ID, EventID: l.EventID}
	if mappingID != 0 && l.MappingID != mappingID {
		obs.MappingMismatch = true
		s.logger.Warn().
			Str("remote_booking_id", rb.ID).
			Int64("link_mapping_id", l.MappingID).
			Int64("observed_mapping_id", mappingID).
			Msg("remote booking observed under another mapping")
	}
	l.Touch(now)
	if rb.Cancelled() && l.Status != link.StatusSyncedDeleted {
		if err := l.Retire(link.StatusSyncedDeleted, now); err != nil {
			return Observation{}, err
		}
		obs.Action = ObservedRetired
	}
	if err := s.links.Update(ctx, l); err != nil {
		return Observation{}, err
	}
	return obs, nil
}

func itemStates(items []*queue.BookingPush) []link.ItemState {
	states := make([]link.ItemState, 0, len(items))
	for _, it := range items {
		states = append(states, link.StateOf(&it.Item))
	}
	return states
}
