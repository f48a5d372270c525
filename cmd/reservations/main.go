package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/room-reservations/internal/adapters"
	"github.com/example/room-reservations/internal/application"
	"github.com/example/room-reservations/internal/config"
	httptransport "github.com/example/room-reservations/internal/http"
	"github.com/example/room-reservations/internal/lock"
	"github.com/example/room-reservations/internal/logging"
	"github.com/example/room-reservations/internal/metrics"
	"github.com/example/room-reservations/internal/notify"
	"github.com/example/room-reservations/internal/persistence"
	"github.com/example/room-reservations/internal/persistence/sqlite"
	"github.com/example/room-reservations/internal/persistence/sqlite/migration"
	"github.com/example/room-reservations/internal/tracing"
)

const roomCacheEntries = 256

func main() {
	bootstrap := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		bootstrap.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, closeLog, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		bootstrap.Error("failed to build logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = closeLog()
	}()
	logger = logger.With("environment", cfg.Environment)

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName: "room-reservations",
		Environment: cfg.Environment,
		Endpoint:    cfg.Tracing.OTLPEndpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		logger.Error("failed to initialise tracing", "error", err)
		os.Exit(1)
	}

	svc, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start reservation service", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           svc.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("reservation API listening", "addr", server.Addr, "lock_backend", cfg.Lock.Backend)
	serveErr := server.ListenAndServe()

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	svc.close(closeCtx)
	if err := shutdownTracing(closeCtx); err != nil {
		logger.Error("failed to flush traces", "error", err)
	}

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		logger.Error("server encountered error", "error", serveErr)
		os.Exit(1)
	}
}

// app holds the wired service and the resources released on shutdown.
type app struct {
	handler http.Handler
	hub     *notify.Hub
	logger  *slog.Logger

	closers []func(ctx context.Context) error
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	sqliteConfig := migration.DefaultSQLiteConfig(cfg.SQLite.Path)
	if cfg.SQLite.BusyTimeout > 0 {
		sqliteConfig.BusyTimeout = cfg.SQLite.BusyTimeout
	}
	storage, err := sqlite.Open(ctx, sqliteConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return storage.Close() })

	if err := storage.Migrate(ctx); err != nil {
		return nil, err
	}
	if err := seedRooms(ctx, storage.Rooms, cfg.Rooms); err != nil {
		return nil, err
	}

	locker, err := newLocker(cfg.Lock, logger)
	if err != nil {
		return nil, err
	}
	if closer, ok := locker.(interface{ Close() error }); ok {
		a.closers = append(a.closers, func(context.Context) error { return closer.Close() })
	}

	collectors := metrics.New()
	users := adapters.NewUserDirectory(storage.Users)
	rooms := application.NewCachedRoomCatalog(adapters.NewRoomCatalog(storage.Rooms), cfg.Booking.RoomCacheTTL, roomCacheEntries, time.Now)

	a.hub = notify.NewHub(logger)
	sinks := []notify.Sink{a.hub}
	smtpConfig := notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}
	if smtpConfig.Enabled() {
		sinks = append(sinks, notify.NewMailer(smtpConfig, users, logger))
	}
	if url := strings.TrimSpace(cfg.AMQP.URL); url != "" {
		publisher, err := notify.DialPublisher(url, cfg.AMQP.Exchange)
		if err != nil {
			return nil, fmt.Errorf("connect amqp: %w", err)
		}
		sinks = append(sinks, publisher)
		a.closers = append(a.closers, func(context.Context) error { return publisher.Close() })
	}
	dispatcher := notify.NewDispatcher(notify.DefaultDispatcherConfig(), logger, collectors, sinks...)
	// Registered after the sinks so it drains before they close.
	a.closers = append(a.closers, dispatcher.Close)

	bookings := application.NewBookingService(application.BookingServiceDeps{
		Store:       adapters.NewReservationStore(storage.Reservations, storage.Reservations),
		Rooms:       rooms,
		Locker:      locker,
		Notifier:    dispatcher,
		Observer:    collectors,
		Policy:      cfg.Policy,
		MaxPageSize: cfg.Booking.MaxPageSize,
		IDGenerator: uuid.NewString,
		Now:         time.Now,
		Logger:      logger,
	})

	a.handler = httptransport.NewRouter(httptransport.RouterConfig{
		Reservations:   httptransport.NewReservationHandler(bookings, logger),
		Realtime:       httptransport.NewRealtimeHandler(a.hub, rooms, logger),
		Health:         httptransport.NewHealthHandler(storage, logger),
		Metrics:        collectors.Handler(),
		JWTSecret:      []byte(cfg.Auth.JWTSecret),
		Gate:           application.NewRoleGate(storage.Permissions, application.DefaultRole, logger),
		RateLimiter:    httptransport.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, 5*time.Minute),
		Observer:       collectors,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		Logger:         logger,
	})
	return a, nil
}

// close releases resources in reverse order of acquisition. WebSocket
// subscribers are disconnected first so the dispatcher drains quickly.
func (a *app) close(ctx context.Context) {
	if a.hub != nil {
		a.hub.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Error("failed to release resource", "error", err)
		}
	}
	a.closers = nil
}

func newLocker(cfg config.LockConfig, logger *slog.Logger) (application.RoomLocker, error) {
	switch cfg.Backend {
	case "", "memory":
		return lock.NewKeyedMutex(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		redisConfig := lock.DefaultRedisConfig()
		if cfg.TTL > 0 {
			redisConfig.TTL = cfg.TTL
		}
		return &redisLocker{RedisLocker: lock.NewRedisLocker(client, redisConfig, logger), client: client}, nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

// redisLocker ties the client lifetime to the locker.
type redisLocker struct {
	*lock.RedisLocker
	client *redis.Client
}

func (l *redisLocker) Close() error {
	return l.client.Close()
}

func seedRooms(ctx context.Context, repo persistence.RoomRepository, rooms []config.RoomConfig) error {
	for _, room := range rooms {
		err := repo.UpsertRoom(ctx, persistence.Room{
			ID:     strings.TrimSpace(room.ID),
			Name:   strings.TrimSpace(room.Name),
			Cover:  room.Cover,
			Status: persistence.RoomStatus(room.Status),
		})
		if err != nil {
			return fmt.Errorf("seed room %s: %w", room.ID, err)
		}
	}
	return nil
}
