package testfixtures

import (
	"io"
	"log/slog"
	"time"

	"github.com/example/room-reservations/internal/application"
	"github.com/example/room-reservations/internal/scheduler"
)

// ServiceFactory builds booking services with a deterministic clock and
// identifier sequence.
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
		IDGenerator: NewIDGenerator("res"),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(factory)
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithLogger overrides the discard logger.
func WithLogger(logger *slog.Logger) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Logger = logger
	}
}

// NewBookingService fills the clock, id generator, logger and default
// policy into deps when unset.
func (f *ServiceFactory) NewBookingService(deps application.BookingServiceDeps) *application.BookingService {
	if deps.Now == nil {
		deps.Now = f.Clock.NowFunc()
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = f.IDGenerator.NextFunc()
	}
	if deps.Logger == nil {
		deps.Logger = f.Logger
	}
	if deps.Policy.MinDuration == 0 && deps.Policy.MaxDuration == 0 {
		deps.Policy = scheduler.DefaultPolicy()
	}
	return application.NewBookingService(deps)
}

// NewSQLiteBookingService wires a service to harness.
func (f *ServiceFactory) NewSQLiteBookingService(harness *SQLiteHarness, notifier application.Notifier) *application.BookingService {
	return f.NewBookingService(application.BookingServiceDeps{
		Store:    harness.Store,
		Rooms:    harness.Rooms,
		Notifier: notifier,
	})
}
