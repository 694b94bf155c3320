package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/hall-booking/internal/application"
	"github.com/example/hall-booking/internal/config"
	"github.com/example/hall-booking/internal/events"
	httptransport "github.com/example/hall-booking/internal/http"
	"github.com/example/hall-booking/internal/persistence"
	"github.com/example/hall-booking/internal/persistence/memory"
	"github.com/example/hall-booking/internal/persistence/sqlstore"
	"github.com/example/hall-booking/internal/refresh"
	"github.com/example/hall-booking/internal/revocation"
)

type changeBus interface {
	events.Publisher
	events.Subscriber
}

// app holds the wired server components.
type app struct {
	gateway    persistence.Gateway
	bus        changeBus
	relay      func(ctx context.Context) error
	supervisor *refresh.Supervisor[application.Dashboard]
	handler    http.Handler
	closers    []func() error
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, now func() time.Time) (*app, error) {
	a := &app{}

	gateway, err := openGateway(ctx, cfg, logger, now)
	if err != nil {
		return nil, err
	}
	a.gateway = gateway
	a.closers = append(a.closers, gateway.Close)

	var revocations application.TokenRevocations
	if cfg.RedisAddr != "" {
		client, err := events.NewRedisClient(cfg.RedisAddr)
		if err != nil {
			a.Close()
			return nil, err
		}
		bus := events.NewRedisBus(client, cfg.RedisChannel, logger)
		if err := bus.Ping(ctx); err != nil {
			_ = bus.Close()
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.bus = bus
		a.relay = bus.Run
		a.closers = append(a.closers, bus.Close)
		revocations = revocation.NewRedis(client, now)
	} else {
		a.bus = events.NewLocalBus(logger)
		revocations = revocation.NewMemory(now)
	}

	tokens := application.NewTokenIssuer([]byte(cfg.TokenSecret), cfg.TokenTTL, now)
	auth := application.NewAuthServiceWithOptions(gateway, tokens, application.AuthServiceOptions{
		Revocations: revocations,
		Logger:      logger,
	})
	location := time.Local
	rooms := application.NewRoomServiceWithOptions(gateway, application.RoomServiceOptions{
		Publisher: a.bus,
		Now:       now,
		Location:  location,
		Logger:    logger,
	})
	bookings := application.NewBookingService(gateway, application.BookingServiceOptions{
		Publisher: a.bus,
		Now:       now,
		Location:  location,
		Logger:    logger,
	})
	dashboard := application.NewDashboardLoader(rooms, bookings, now)

	a.supervisor = refresh.NewSupervisor[application.Dashboard](refresh.Config{
		Interval: cfg.RefreshInterval,
		Logger:   logger,
	})

	a.handler = httptransport.NewRouter(httptransport.RouterConfig{
		Auth:       httptransport.NewAuthHandler(auth, logger),
		Rooms:      httptransport.NewRoomHandler(rooms, logger),
		Bookings:   httptransport.NewBookingHandler(bookings, logger),
		Dashboard:  httptransport.NewDashboardHandler(dashboard, auth, a.supervisor, logger),
		Session:    httptransport.RequireSession(auth, logger),
		Middleware: []func(http.Handler) http.Handler{httptransport.RequestLogger(logger)},
	})

	return a, nil
}

// Close releases the components in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openGateway opens and migrates the configured storage.
func openGateway(ctx context.Context, cfg config.Config, logger *slog.Logger, now func() time.Time) (persistence.Gateway, error) {
	var dialect sqlstore.Dialect
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory storage; data is lost on exit")
		return memory.New(now), nil
	case config.DriverSQLite:
		dialect = sqlstore.DialectSQLite
	case config.DriverPostgres:
		dialect = sqlstore.DialectPostgres
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}

	storeCfg := sqlstore.DefaultConfig(dialect, cfg.Storage.DSN)
	if cfg.Storage.Timeout > 0 {
		storeCfg.Timeout = cfg.Storage.Timeout
	}

	store, err := sqlstore.Open(ctx, storeCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	store.SetNow(now)

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return store, nil
}
