package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/domain/link"
	"github.com/cassiomorais/channelsync/internal/domain/webhook"
	"github.com/cassiomorais/channelsync/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// WebhookPublisher announces a recorded audit record to the resolvers.
type WebhookPublisher interface {
	PublishWebhook(ctx context.Context, auditID int64) error
}

// Reasons a webhook could not be resolved.
var (
	errUnparsable    = errors.New("payload is not a JSON object")
	errNoBookingID   = errors.New("payload carries no booking id")
	errUnknownRemote = errors.New("remote booking is not linked")
)

// WebhookService records inbound notifications first and interprets them
// later, off the request path.
type WebhookService struct {
	audits    webhook.Repository
	links     link.Repository
	pulls     PullEnqueuer
	publisher WebhookPublisher
	window    PullWindow
	metrics   *observability.Metrics
	logger    zerolog.Logger
	now       Clock
}

func NewWebhookService(
	audits webhook.Repository,
	links link.Repository,
	pulls PullEnqueuer,
	publisher WebhookPublisher,
	window PullWindow,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *WebhookService {
	return &WebhookService{
		audits:    audits,
		links:     links,
		pulls:     pulls,
		publisher: publisher,
		window:    window,
		metrics:   metrics,
		logger:    observability.Component(logger, "webhooks"),
		now:       time.Now,
	}
}

// Receive stores the request as received. It fails only when the record
// cannot be written; a failed announcement is left to the backlog scan.
func (s *WebhookService) Receive(ctx context.Context, raw []byte, truncated bool, headers http.Header, remoteAddr string) (*webhook.AuditRecord, error) {
	rec := webhook.NewAuditRecord(raw, headers, remoteAddr, s.now())
	if truncated {
		rec.Metadata["truncated"] = true
	}
	if err := s.audits.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("record webhook: %w", err)
	}
	if s.metrics != nil {
		s.metrics.WebhooksReceived.WithLabelValues(rec.EventType).Inc()
	}
	if s.publisher != nil {
		if err := s.publisher.PublishWebhook(ctx, rec.ID); err != nil {
			s.logger.Warn().Err(err).Int64("audit_id", rec.ID).Msg("failed to announce webhook")
		}
	}
	return rec, nil
}

// Resolve interprets a received record: the linked booking is touched and
// a pull of its mapping is queued. Records already resolved are left alone.
// Only storage failures are returned; everything else lands on the record.
func (s *WebhookService) Resolve(ctx context.Context, auditID int64) error {
	rec, err := s.audits.Get(ctx, auditID)
	if err != nil {
		return err
	}
	if rec.Status != webhook.StatusReceived {
		return nil
	}
	logger := s.logger.With().Int64("audit_id", rec.ID).Str("event_type", rec.EventType).Logger()

	meta, resolveErr := s.resolve(ctx, rec)
	switch {
	case resolveErr == nil:
		err = rec.MarkProcessed(meta)
	case isRecordError(resolveErr):
		logger.Info().Err(resolveErr).Msg("webhook not actionable")
		err = rec.MarkError(resolveErr.Error(), meta)
	default:
		return resolveErr
	}
	if err != nil {
		return err
	}
	if err := s.audits.UpdateOutcome(ctx, rec); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.WebhooksResolved.WithLabelValues(string(rec.Status)).Inc()
	}
	return nil
}

func (s *WebhookService) resolve(ctx context.Context, rec *webhook.AuditRecord) (map[string]any, error) {
	if rec.PayloadParsed == nil {
		return nil, errUnparsable
	}
	remoteID, ok := rec.RemoteBookingID()
	if !ok {
		return nil, errNoBookingID
	}
	meta := map[string]any{"remote_booking_id": remoteID}

	l, err := s.links.GetByRemoteID(ctx, remoteID)
	if err != nil {
		if errors.Is(err, domainErrors.ErrLinkNotFound) {
			return meta, errUnknownRemote
		}
		return nil, err
	}
	meta["link_id"] = l.ID
	meta["event_id"] = l.EventID
	meta["mapping_id"] = l.MappingID

	l.Touch(s.now())
	if err := s.links.Update(ctx, l); err != nil {
		return nil, err
	}

	from, to := s.window.At(s.now())
	pullID, armed, err := s.pulls.EnqueuePull(ctx, l.MappingID, from, to)
	if err != nil {
		if errors.Is(err, domainErrors.ErrMappingNotFound) {
			return meta, err
		}
		return nil, err
	}
	meta["pull_id"] = pullID
	meta["pull_armed"] = armed
	return meta, nil
}

// isRecordError tells outcomes that belong on the record from storage
// failures that should be retried.
func isRecordError(err error) bool {
	return errors.Is(err, errUnparsable) ||
		errors.Is(err, errNoBookingID) ||
		errors.Is(err, errUnknownRemote) ||
		errors.Is(err, domainErrors.ErrMappingNotFound)
}

// ResolveBacklog resolves records that are still received, oldest first.
// It catches up on announcements that were lost.
func (s *WebhookService) ResolveBacklog(ctx context.Context, limit int) (int, error) {
	status := webhook.StatusReceived
	recs, err := s.audits.List(ctx, webhook.ListFilter{Status: &status, Limit: limit})
	if err != nil {
		return 0, err
	}
	resolved := 0
	var errs []error
	for i := len(recs) - 1; i >= 0; i-- {
		if err := s.Resolve(ctx, recs[i].ID); err != nil {
			errs = append(errs, err)
			continue
		}
		resolved++
	}
	return resolved, errors.Join(errs...)
}
