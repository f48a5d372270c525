package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/room-reservations/internal/application"
)

// Sink delivers one event to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event application.Event) error
}

// DeliveryObserver records the outcome of each delivery attempt.
type DeliveryObserver interface {
	ObserveDelivery(sink string, err error)
	ObserveDropped(reason string)
}

// DispatcherConfig bounds the asynchronous queue.
type DispatcherConfig struct {
	QueueSize       int
	Workers         int
	DeliveryTimeout time.Duration
}

// DefaultDispatcherConfig returns the settings used when fields are zero.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:       256,
		Workers:         2,
		DeliveryTimeout: 5 * time.Second,
	}
}

// Dispatcher implements application.Notifier. Events are queued without
// blocking the caller and delivered to every sink by a fixed worker pool.
// A full queue drops the event.
type Dispatcher struct {
	config   DispatcherConfig
	sinks    []Sink
	logger   *slog.Logger
	observer DeliveryObserver

	mu     sync.RWMutex
	closed bool
	queue  chan application.Event
	wg     sync.WaitGroup
}

// NewDispatcher starts the workers. Nil sinks are skipped.
func NewDispatcher(config DispatcherConfig, logger *slog.Logger, observer DeliveryObserver, sinks ...Sink) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = defaults.DeliveryTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	active := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			active = append(active, sink)
		}
	}

	d := &Dispatcher{
		config:   config,
		sinks:    active,
		logger:   logger.With("component", "notify.Dispatcher"),
		observer: observer,
		queue:    make(chan application.Event, config.QueueSize),
	}
	for i := 0; i < config.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Notify implements application.Notifier.
func (d *Dispatcher) Notify(ctx context.Context, event application.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(ctx, event, "closed")
		return
	}
	select {
	case d.queue <- event:
	default:
		d.drop(ctx, event, "queue_full")
	}
}

// Close stops accepting events and waits for queued ones to be delivered or
// for ctx to end, whichever comes first.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.logger.Warn("notification queue not drained before deadline", "pending", len(d.queue))
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for event := range d.queue {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event application.Event) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.config.DeliveryTimeout)
		err := sink.Deliver(ctx, event)
		cancel()

		if d.observer != nil {
			d.observer.ObserveDelivery(sink.Name(), err)
		}
		if err != nil {
			d.logger.Error("notification delivery failed",
				"sink", sink.Name(),
				"event_type", string(event.Type),
				"reservation_id", event.ReservationID,
				"error", err,
			)
			continue
		}
		d.logger.Debug("notification delivered", "sink", sink.Name(), "event_type", string(event.Type), "reservation_id", event.ReservationID)
	}
}

func (d *Dispatcher) drop(ctx context.Context, event application.Event, reason string) {
	if d.observer != nil {
		d.observer.ObserveDropped(reason)
	}
	d.logger.WarnContext(ctx, "notification dropped", "reason", reason, "event_type", string(event.Type), "reservation_id", event.ReservationID)
}
