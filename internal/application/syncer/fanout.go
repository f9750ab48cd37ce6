package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/channelsync/internal/domain/channel"
	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/domain/queue"
	"github.com/cassiomorais/channelsync/internal/infrastructure/observability"
)

// FanOut turns one rate push into one delivery per active destination.
type FanOut struct {
	mappings   MappingSource
	deliveries DeliveryStore
	registry   *channel.Registry
	metrics    *observability.Metrics
	now        Clock
}

func NewFanOut(mappings MappingSource, deliveries DeliveryStore, registry *channel.Registry, metrics *observability.Metrics) *FanOut {
	return &FanOut{
		mappings:   mappings,
		deliveries: deliveries,
		registry:   registry,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Expand creates the missing deliveries of push and returns all of them
// together with the number created by this call. Running it again for the
// same push creates nothing.
func (f *FanOut) Expand(ctx context.Context, push *queue.RatePush) ([]*queue.RateDelivery, int, error) {
	if push.ID <= 0 {
		return nil, 0, domainErrors.NewValidationError("queue_id", "rate push must be persisted first")
	}
	endpoint, err := f.registry.ByAction(channel.ActionRateUpdate)
	if err != nil {
		return nil, 0, err
	}
	mappings, err := f.mappings.ListActiveByUnit(ctx, push.UnitID)
	if err != nil {
		return nil, 0, fmt.Errorf("list mappings of unit %d: %w", push.UnitID, err)
	}

	now := f.now()
	deliveries := make([]*queue.RateDelivery, 0, len(mappings))
	for _, m := range mappings {
		d := queue.NewRateDelivery(push.ID, m.ID, endpoint.ID, m.CredentialID, now)
		d.Priority = push.Priority
		d.MaxAttempts = push.MaxAttempts
		deliveries = append(deliveries, d)
	}

	all, created, err := f.deliveries.CreateForQueue(ctx, push.ID, deliveries)
	if err != nil {
		return nil, 0, err
	}
	if created > 0 && f.metrics != nil {
		f.metrics.DeliveriesCreated.Add(float64(created))
	}
	return all, created, nil
}

// Summary counts the deliveries of a rate push per status.
func (f *FanOut) Summary(ctx context.Context, queueID int64) (map[queue.Status]int, error) {
	return f.deliveries.Summary(ctx, queueID)
}
