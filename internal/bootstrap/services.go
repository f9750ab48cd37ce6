package bootstrap

import (
	"github.com/cassiomorais/channelsync/internal/application/dispatch"
	"github.com/cassiomorais/channelsync/internal/application/syncer"
	"github.com/cassiomorais/channelsync/internal/controller"
	"github.com/cassiomorais/channelsync/internal/domain/channel"
	"github.com/cassiomorais/channelsync/internal/domain/queue"
	infraChannel "github.com/cassiomorais/channelsync/internal/infrastructure/channel"
	infraRedis "github.com/cassiomorais/channelsync/internal/infrastructure/redis"
	"github.com/cassiomorais/channelsync/internal/repository/postgres"
)

// Services is the object graph shared by the API and the worker.
type Services struct {
	Pushes      *postgres.BookingPushRepository
	Pulls       *postgres.BookingPullRepository
	Rates       *postgres.RatePushRepository
	Deliveries  *postgres.RateDeliveryRepository
	Links       *postgres.LinkRepository
	Mappings    *postgres.MappingRepository
	Audits      *postgres.WebhookAuditRepository
	Idempotency *postgres.IdempotencyRepository
	Producer    *infraRedis.StreamProducer

	Enqueuer   *syncer.Enqueuer
	LinkSvc    *syncer.LinkService
	Webhooks   *syncer.WebhookService
	Admin      *syncer.Admin
	Engine     *syncer.Engine
	Dispatcher *dispatch.Dispatcher
	Watchdog   *syncer.Watchdog
	Scheduler  *syncer.PullScheduler
	PullWindow syncer.PullWindow
}

// NewServices wires repositories, the channel client and the sync services.
func (a *App) NewServices() *Services {
	cfg := a.Config
	registry := channel.DefaultRegistry()

	s := &Services{
		Pushes:      postgres.NewBookingPushRepository(a.Pool),
		Pulls:       postgres.NewBookingPullRepository(a.Pool),
		Rates:       postgres.NewRatePushRepository(a.Pool),
		Deliveries:  postgres.NewRateDeliveryRepository(a.Pool),
		Links:       postgres.NewLinkRepository(a.Pool),
		Mappings:    postgres.NewMappingRepository(a.Pool),
		Audits:      postgres.NewWebhookAuditRepository(a.Pool),
		Idempotency: postgres.NewIdempotencyRepository(a.Pool),
		Producer:    infraRedis.NewStreamProducer(a.Redis, cfg.Streams),
		PullWindow:  syncer.PullWindow{Days: cfg.Worker.PullWindowDays},
	}
	events := postgres.NewEventRepository(a.Pool)
	credentials := postgres.NewCredentialRepository(a.Pool)
	txManager := postgres.NewTxManager(a.Pool)

	var caller infraChannel.Caller
	if cfg.Channel.Mock {
		a.Logger.Warn().Msg("Using mock channel caller")
		caller = infraChannel.NewMockCaller()
	} else {
		breakers := infraChannel.NewBreakers(cfg.Channel.BreakerThreshold, cfg.Channel.BreakerTimeout, a.Metrics)
		caller = infraChannel.NewClient(cfg.Channel, breakers, a.Metrics, a.Logger)
	}
	locker := infraRedis.NewLocker(a.Redis, "channelsync:token", cfg.Channel.TokenLockTTL)
	resolver := infraChannel.NewResolver(credentials, locker, cfg.Channel.Timeout, a.Metrics, a.Logger)

	s.Enqueuer = syncer.NewEnqueuer(s.Pushes, s.Pulls, s.Rates, s.Links, s.Mappings, registry, s.Producer, a.Logger).
		WithMaxAttempts(cfg.Retry.MaxAttempts)
	s.LinkSvc = syncer.NewLinkService(s.Links, events, events, s.Pushes, txManager, a.Logger)
	s.Webhooks = syncer.NewWebhookService(s.Audits, s.Links, s.Enqueuer, s.Producer, s.PullWindow, a.Metrics, a.Logger)

	deps := syncer.ProcessorDeps{
		Remote:      syncer.NewRemote(caller, resolver, registry, a.Logger),
		Backoff:     syncer.NewBackoff(cfg.Retry),
		DeadLetters: s.Producer,
		Metrics:     a.Metrics,
		Logger:      a.Logger,
		WorkerID:    cfg.InstanceID,
		CallTimeout: cfg.Worker.CallTimeout,
	}
	fanOut := syncer.NewFanOut(s.Mappings, s.Deliveries, registry, a.Metrics)
	s.Engine = syncer.NewEngine(a.Logger,
		syncer.NewProcessor[*queue.RatePush](s.Rates, syncer.NewRatePushHandler(fanOut, s.Producer, a.Logger), deps),
		syncer.NewProcessor[*queue.RateDelivery](s.Deliveries, syncer.NewRateDeliveryHandler(s.Rates, s.Mappings), deps),
		syncer.NewProcessor[*queue.BookingPull](s.Pulls, syncer.NewBookingPullHandler(s.Mappings, s.LinkSvc), deps),
		syncer.NewProcessor[*queue.BookingPush](s.Pushes, syncer.NewBookingPushHandler(s.Links, s.Mappings), deps),
	)
	s.Dispatcher = dispatch.NewDispatcher(s.Engine, s.Engine, cfg.Worker.DispatchConcurrency, a.Metrics, a.Logger)
	s.Watchdog = syncer.NewWatchdog(s.Engine.Runners(), cfg.Watchdog, a.Logger)
	s.Scheduler = syncer.NewPullScheduler(s.Mappings, s.Enqueuer, s.PullWindow, cfg.Worker.PullInterval, a.Logger)

	s.Admin = syncer.NewAdmin(map[queue.Kind]syncer.ItemTriage{
		queue.KindBookingPush:  syncer.NewTriage[*queue.BookingPush](s.Pushes, s.Producer),
		queue.KindBookingPull:  syncer.NewTriage[*queue.BookingPull](s.Pulls, s.Producer),
		queue.KindRatePush:     syncer.NewTriage[*queue.RatePush](s.Rates, s.Producer),
		queue.KindRateDelivery: syncer.NewTriage[*queue.RateDelivery](s.Deliveries, s.Producer),
	})
	return s
}

// RouterDeps assembles the HTTP layer's dependencies.
func (a *App) RouterDeps(s *Services) controller.RouterDeps {
	return controller.RouterDeps{
		Checks:           a.Checks(),
		Admin:            s.Admin,
		Dispatcher:       s.Dispatcher,
		Deliveries:       s.Deliveries,
		Links:            s.LinkSvc,
		Enqueuer:         s.Enqueuer,
		PullWindow:       s.PullWindow,
		Webhooks:         s.Webhooks,
		Audits:           s.Audits,
		IdempotencyStore: s.Idempotency,
		IdempotencyTTL:   a.Config.Worker.IdempotencyTTL,
		Metrics:          a.Metrics,
		TracerProvider:   a.TracerProvider,
		Server:           a.Config.Server,
		WebhookMaxBody:   a.Config.Webhook.MaxBodyBytes,
		Logger:           a.Logger,
	}
}
