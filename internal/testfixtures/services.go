package testfixtures

import (
	"io"
	"log/slog"
	"time"

	"github.com/example/hall-booking/internal/application"
	"github.com/example/hall-booking/internal/events"
	"github.com/example/hall-booking/internal/persistence"
	"github.com/example/hall-booking/internal/revocation"
)

// TokenSecret signs tokens issued by factory-built services.
const TokenSecret = "testfixtures-secret"

// ServiceFactory assists tests with constructing application services using
// deterministic clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Logger      *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("session"),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("session")
	}
	if factory.Logger == nil {
		factory.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// WithLogger overrides the logger handed to every service.
func WithLogger(logger *slog.Logger) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Logger = logger
	}
}

// Services bundles the application services over one gateway.
type Services struct {
	Gateway     persistence.Gateway
	Bus         *events.LocalBus
	Tokens      *application.TokenIssuer
	Revocations *revocation.Memory
	Auth        *application.AuthService
	Rooms       *application.RoomService
	Bookings    *application.BookingService
	Dashboard   *application.DashboardLoader
}

// FastHash stores secrets with a reversible prefix so tests avoid argon2 cost.
func FastHash(password string) (string, error) {
	return "fixture:" + password, nil
}

// FastVerify is the verifier matching FastHash.
func FastVerify(hash, password string) error {
	if hash != "fixture:"+password {
		return application.ErrInvalidCredentials
	}
	return nil
}

// NewServices wires every application service over gw. Booking dates are
// interpreted in UTC.
func (f *ServiceFactory) NewServices(gw persistence.Gateway) *Services {
	now := f.Clock.NowFunc()
	bus := events.NewLocalBus(f.Logger)
	tokens := application.NewTokenIssuer([]byte(TokenSecret), time.Hour, now)
	revocations := revocation.NewMemory(now)

	rooms := application.NewRoomServiceWithOptions(gw, application.RoomServiceOptions{
		Publisher: bus,
		Now:       now,
		Location:  time.UTC,
		Logger:    f.Logger,
	})
	bookings := application.NewBookingService(gw, application.BookingServiceOptions{
		Publisher: bus,
		Now:       now,
		Location:  time.UTC,
		Logger:    f.Logger,
	})

	return &Services{
		Gateway:     gw,
		Bus:         bus,
		Tokens:      tokens,
		Revocations: revocations,
		Auth: application.NewAuthServiceWithOptions(gw, tokens, application.AuthServiceOptions{
			Revocations: revocations,
			Hash:        FastHash,
			Verify:      FastVerify,
			Logger:      f.Logger,
		}),
		Rooms:       rooms,
		Bookings:    bookings,
		Dashboard:   application.NewDashboardLoader(rooms, bookings, now),
	}
}
