package event

import (
	"context"
	"log/slog"
	"reflect"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 1024
)

// Event is a marker interface that all events must implement.
type Event[T any] interface {
	Event()
}

// Handler is called asynchronously for every matching event.
type Handler[T any] func(context.Context, T)

type EventFilter[T any] func(T) bool

type BusOptions struct {
	Workers   int
	QueueSize int
	Logger    *slog.Logger
}

type BusOption func(*BusOptions)

func WithWorkers(n int) BusOption {
	return func(o *BusOptions) {
		o.Workers = n
	}
}

func WithQueueSize(n int) BusOption {
	return func(o *BusOptions) {
		o.QueueSize = n
	}
}

func WithLogger(logger *slog.Logger) BusOption {
	return func(o *BusOptions) {
		o.Logger = logger
	}
}

type Bus struct {
	ctx         context.Context
	cancel      context.CancelFunc
	subscribers map[reflect.Type][]subscriber
	mu          sync.RWMutex
	wg          sync.WaitGroup
	closed      atomic.Bool
	logger      *slog.Logger

	// queueMu serializes closing the work queue against in-flight sends.
	queueMu   sync.RWMutex
	workQueue chan workItem

	metrics *busMetrics
}

type workItem struct {
	event     any
	eventType string
	invoke    func(context.Context, any)
}

type subscriber struct {
	id     uuid.UUID
	invoke func(context.Context, any)
}

type Subscription struct {
	bus       *Bus
	eventType reflect.Type
	id        uuid.UUID
	once      sync.Once
}

func NewBus(metricsRegistry *prometheus.Registry, opts ...BusOption) *Bus {
	options := &BusOptions{
		Workers:   DefaultWorkers,
		QueueSize: DefaultQueueSize,
		Logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	ctx, cancel := context.WithCancel(context.Background())

	bus := &Bus{
		ctx:         ctx,
		cancel:      cancel,
		subscribers: make(map[reflect.Type][]subscriber),
		workQueue:   make(chan workItem, options.QueueSize),
		logger:      options.Logger,
	}

	bus.metrics = newBusMetrics(metricsRegistry, func() int { return len(bus.workQueue) })

	for range options.Workers {
		bus.wg.Add(1)
		go bus.worker()
	}

	return bus
}

// worker drains the queue until it is closed.
func (bus *Bus) worker() {
	defer bus.wg.Done()

	for item := range bus.workQueue {
		bus.processWorkItem(item)
	}
}

func (bus *Bus) processWorkItem(item workItem) {
	defer func() {
		if r := recover(); r != nil {
			bus.logger.ErrorContext(bus.ctx, "panic in event handler",
				"error", r,
				"event_type", item.eventType,
				"stack", string(debug.Stack()),
			)
		}
	}()

	item.invoke(bus.ctx, item.event)
	bus.metrics.record(item.eventType, outcomeDelivered)
}

// Subscribe registers a handler for events of type T.
//
//	sub := event.Subscribe(bus, func(ctx context.Context, e event.CompletionFailed) {
//	    log.Printf("item %d failed: %s", e.Index, e.Reason)
//	}, nil)
//	defer sub.Unsubscribe()
func Subscribe[T Event[T]](bus *Bus, handler Handler[T], filter EventFilter[T]) *Subscription {
	if bus.closed.Load() {
		bus.logger.Warn("attempted to subscribe to closed event bus")
		return &Subscription{bus: bus}
	}

	var zero T
	eventType := reflect.TypeOf(zero)

	if filter == nil {
		filter = func(event T) bool { return true }
	}

	id := uuid.New()
	sub := subscriber{
		id: id,
		invoke: func(ctx context.Context, event any) {
			if typedEvent, ok := event.(T); ok && filter(typedEvent) {
				handler(ctx, typedEvent)
			}
		},
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.subscribers[eventType] = append(bus.subscribers[eventType], sub)

	return &Subscription{bus: bus, eventType: eventType, id: id}
}

// Unsubscribe removes the subscription. Safe to call multiple times.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()

		subscribers := s.bus.subscribers[s.eventType]
		for i, sub := range subscribers {
			if sub.id == s.id {
				s.bus.subscribers[s.eventType] = append(subscribers[:i:i], subscribers[i+1:]...)
				break
			}
		}
	})
}

// Publish queues event for every subscriber of its type. Delivery is
// asynchronous; events are dropped when the queue is full.
func Publish[T Event[T]](bus *Bus, event T) {
	if bus == nil {
		return
	}

	bus.queueMu.RLock()
	defer bus.queueMu.RUnlock()

	if bus.closed.Load() {
		bus.logger.Debug("attempted to publish to closed event bus")
		return
	}

	eventType := reflect.TypeOf(event)
	eventTypeName := eventType.String()

	bus.mu.RLock()
	subs := make([]subscriber, len(bus.subscribers[eventType]))
	copy(subs, bus.subscribers[eventType])
	bus.mu.RUnlock()

	for _, sub := range subs {
		item := workItem{
			event:     event,
			eventType: eventTypeName,
			invoke:    sub.invoke,
		}

		select {
		case bus.workQueue <- item:
		default:
			bus.metrics.record(eventTypeName, outcomeDropped)
			bus.logger.Debug("dropped event due to full work queue", "event_type", eventTypeName)
		}
	}

	bus.metrics.record(eventTypeName, outcomePublished)
}

// Close stops accepting events, delivers everything already queued, then
// drops all subscriptions. Safe to call multiple times.
func (bus *Bus) Close() {
	bus.queueMu.Lock()
	if !bus.closed.CompareAndSwap(false, true) {
		bus.queueMu.Unlock()
		return
	}
	close(bus.workQueue)
	bus.queueMu.Unlock()

	bus.wg.Wait()
	bus.cancel()

	bus.mu.Lock()
	defer bus.mu.Unlock()
	for eventType := range bus.subscribers {
		delete(bus.subscribers, eventType)
	}
}

func (bus *Bus) IsClosed() bool {
	return bus.closed.Load()
}

// SubscriberCount returns the number of subscribers for events of type T.
func SubscriberCount[T Event[T]](bus *Bus) int {
	var zero T
	eventType := reflect.TypeOf(zero)

	bus.mu.RLock()
	defer bus.mu.RUnlock()

	return len(bus.subscribers[eventType])
}
