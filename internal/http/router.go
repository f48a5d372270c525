package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/example/room-reservations/internal/application"
)

type RouterConfig struct {
	Reservations *ReservationHandler
	Realtime     *RealtimeHandler
	Health       *HealthHandler
	Metrics      http.Handler

	// JWTSecret verifies bearer tokens. Without it the reservation and
	// WebSocket routes are not mounted and only /healthz and /metrics answer.
	JWTSecret      []byte
	Gate           application.AccessGate
	RateLimiter    *RateLimiter
	Observer       RequestObserver
	RequestTimeout time.Duration
	Logger         *slog.Logger
	Middleware     []func(http.Handler) http.Handler
}

// NewRouter assembles the chi router. The result is wrapped for tracing.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := defaultLogger(cfg.Logger)
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	if cfg.Observer != nil {
		r.Use(Instrument(cfg.Observer))
	}
	for _, mw := range cfg.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		newResponder(logger).writeError(req.Context(), w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", nil)
	})

	if cfg.Health != nil {
		r.Get("/healthz", cfg.Health.Check)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	if len(cfg.JWTSecret) == 0 {
		logger.Warn("no JWT secret configured, protected routes disabled")
		return wrapTracing(r)
	}

	r.Group(func(r chi.Router) {
		r.Use(withTimeoutExcept(cfg.RequestTimeout))
		r.Use(Authenticate(cfg.JWTSecret, logger))
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Middleware(logger))
		}

		capability := func(c application.Capability) func(http.Handler) http.Handler {
			return RequireCapability(cfg.Gate, c, logger)
		}

		if h := cfg.Reservations; h != nil {
			r.Route("/reservations", func(r chi.Router) {
				r.With(capability(application.CapabilityCreateReservation)).Post("/", h.Create)
				r.With(capability(application.CapabilityViewReservations)).Get("/", h.Search)
				r.With(capability(application.CapabilityViewReservations)).Get("/me", h.ListMine)
				r.With(capability(application.CapabilityViewReservations)).Get("/{id}", h.Get)
				r.With(capability(application.CapabilityUpdateReservation)).Put("/{id}", h.Update)
				r.With(capability(application.CapabilityDeleteReservation)).Delete("/{id}", h.Delete)
			})
		}
		if h := cfg.Realtime; h != nil {
			r.With(capability(application.CapabilityViewReservations)).Get("/ws/rooms/{roomID}", h.Subscribe)
		}
	})

	return wrapTracing(r)
}

func wrapTracing(r http.Handler) http.Handler {
	return otelhttp.NewHandler(r, "reservations",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	)
}
