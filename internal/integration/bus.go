package integration

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// maxHistorySize bounds the delivered-event history window.
const maxHistorySize = 100

// QueueConfig tunes the batched delivery path. Event types listed in
// HighFrequencyEventTypes are enqueued on Publish and drained in FIFO batches;
// everything else is delivered immediately.
type QueueConfig struct {
	BatchSize               int
	ProcessingInterval      time.Duration
	MaxQueueSize            int
	HighFrequencyEventTypes []EventType
}

// DefaultQueueConfig mirrors the defaults the planning and audit modules have
// been tuned against.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		BatchSize:          10,
		ProcessingInterval: 100 * time.Millisecond,
		MaxQueueSize:       1000,
		HighFrequencyEventTypes: []EventType{
			PlanningEventUpdated,
			AuditAction,
		},
	}
}

// QueueStats is a point-in-time snapshot of queue behaviour.
type QueueStats struct {
	CurrentQueueLength    int
	TotalEnqueued         int64
	TotalProcessed        int64
	MaxQueueLength        int
	QueueOverflows        int64
	AverageProcessingTime time.Duration
	MaxProcessingTime     time.Duration
}

// Stats aggregates subscriber and history bookkeeping with queue stats.
type Stats struct {
	SubscriberCount int
	EventCount      int
	EventTypes      map[EventType]int
	Queue           QueueStats
}

// queuedEvent carries the enqueue metadata used for queue-wait profiling.
// DeliveryAttempts is bookkeeping only; there is no retry loop.
type queuedEvent struct {
	event            Event
	enqueuedAt       time.Time
	deliveryAttempts int
}

type subscription struct {
	id      string
	handler Handler
}

// Subscription is the handle returned by Subscribe/SubscribeToAll. Its ID is
// used for profiler attribution; Unsubscribe is idempotent.
type Subscription struct {
	ID     string
	cancel func()
}

// Unsubscribe removes the subscription from the bus. Safe to call twice.
func (s *Subscription) Unsubscribe() {
	s.cancel()
}

// Bus is the central pub/sub hub. All methods are safe for concurrent use;
// handlers for a single event run sequentially in registration order,
// type-specific handlers before wildcard handlers.
type Bus struct {
	log      *logrus.Logger
	profiler *Profiler

	mu          sync.Mutex
	subscribers map[EventType][]subscription
	wildcard    []subscription
	history     []Event
	queue       []queuedEvent
	config      QueueConfig
	disposed    bool

	totalEnqueued   int64
	totalProcessed  int64
	maxQueueLength  int
	queueOverflows  int64
	procTimeTotal   time.Duration
	procTimeCount   int64
	procTimeMax     time.Duration

	procMu   sync.Mutex
	stopCh   chan struct{}
	doneCh   chan struct{}
	draining atomic.Bool
}

// NewBus constructs a bus with the given profiler and starts the queue
// processor. The profiler may not be nil; use NewProfiler with a disabled
// config when instrumentation is unwanted.
func NewBus(log *logrus.Logger, profiler *Profiler) *Bus {
	b := &Bus{
		log:         log,
		profiler:    profiler,
		subscribers: make(map[EventType][]subscription),
		config:      DefaultQueueConfig(),
	}
	b.startQueueProcessor(b.config.ProcessingInterval)
	return b
}

// Subscribe registers a handler for one event type. Handlers registered for
// the same type are invoked in registration order.
func (b *Bus) Subscribe(eventType EventType, handler Handler) *Subscription {
	id := uuid.NewString()

	b.mu.Lock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	b.log.Debugf("integration: subscribed %s to %s", id, eventType)
	return &Subscription{ID: id, cancel: func() { b.unsubscribe(eventType, id) }}
}

// SubscribeToAll registers a wildcard handler invoked once per delivered
// event regardless of type, after the type-specific handlers.
func (b *Bus) SubscribeToAll(handler Handler) *Subscription {
	id := "wildcard-" + uuid.NewString()

	b.mu.Lock()
	b.wildcard = append(b.wildcard, subscription{id: id, handler: handler})
	b.mu.Unlock()

	b.log.Debug("integration: subscribed to all events")
	return &Subscription{ID: id, cancel: func() { b.unsubscribeWildcard(id) }}
}

func (b *Bus) unsubscribe(eventType EventType, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, s := range subs {
		if s.id == id {
			b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	// Removing the last handler frees the type's subscriber set.
	if len(b.subscribers[eventType]) == 0 {
		delete(b.subscribers, eventType)
	}
}

func (b *Bus) unsubscribeWildcard(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.wildcard {
		if s.id == id {
			b.wildcard = append(b.wildcard[:i:i], b.wildcard[i+1:]...)
			return
		}
	}
}

// Publish stamps the event with the current time and either enqueues it (high
// frequency types) or delivers it immediately on the calling goroutine.
// Publish never fails: handler errors are isolated and queue overflow drops
// the event with a warning. Ordering between an immediate event and a queued
// event mid-drain is not guaranteed.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	highFrequency := b.isHighFrequencyLocked(event.Type)
	b.mu.Unlock()

	event.Timestamp = time.Now()
	busPublished.WithLabelValues(string(event.Type)).Inc()

	if highFrequency {
		b.enqueue(event)
		return
	}
	b.deliver(event, time.Time{})
}

func (b *Bus) isHighFrequencyLocked(t EventType) bool {
	for _, hf := range b.config.HighFrequencyEventTypes {
		if hf == t {
			return true
		}
	}
	return false
}

func (b *Bus) enqueue(event Event) {
	b.mu.Lock()
	b.totalEnqueued++
	if len(b.queue) >= b.config.MaxQueueSize {
		// Backpressure by dropping the incoming event, never the backlog:
		// consumers rely on strict FIFO of what was admitted.
		b.queueOverflows++
		b.mu.Unlock()
		busDropped.Inc()
		b.log.Warnf("integration: queue overflow, event %s dropped; consider increasing queue size or processing rate", event.Type)
		return
	}
	b.queue = append(b.queue, queuedEvent{event: event, enqueuedAt: time.Now()})
	if len(b.queue) > b.maxQueueLength {
		b.maxQueueLength = len(b.queue)
	}
	busQueueLength.Set(float64(len(b.queue)))
	b.mu.Unlock()
}

// ProcessQueueOnce drains up to BatchSize queued events sequentially and
// returns the number delivered. The ticker calls this on every interval; it
// is exported so tests and operational tooling can drain deterministically.
func (b *Bus) ProcessQueueOnce() int {
	// Reentrancy guard: a slow batch must not be overlapped by the next tick.
	if !b.draining.CompareAndSwap(false, true) {
		return 0
	}
	defer b.draining.Store(false)

	b.mu.Lock()
	if len(b.queue) == 0 {
		b.mu.Unlock()
		return 0
	}
	n := b.config.BatchSize
	if n > len(b.queue) {
		n = len(b.queue)
	}
	batch := make([]queuedEvent, n)
	copy(batch, b.queue[:n])
	b.queue = b.queue[n:]
	busQueueLength.Set(float64(len(b.queue)))
	b.mu.Unlock()

	start := time.Now()
	for i := range batch {
		batch[i].deliveryAttempts++
		b.deliver(batch[i].event, batch[i].enqueuedAt)
	}

	elapsed := time.Since(start)
	b.mu.Lock()
	b.totalProcessed += int64(n)
	b.procTimeTotal += elapsed
	b.procTimeCount++
	if elapsed > b.procTimeMax {
		b.procTimeMax = elapsed
	}
	b.mu.Unlock()
	return n
}

// deliver appends the event to history exactly once, then notifies the
// type-specific handlers followed by the wildcard handlers. Each handler is
// individually isolated: a panic is logged and counted, and delivery moves on.
func (b *Bus) deliver(event Event, enqueuedAt time.Time) {
	span := b.profiler.StartEvent(event.Type)
	if !enqueuedAt.IsZero() {
		b.profiler.RecordQueueTime(event.Type, time.Since(enqueuedAt))
	}

	b.mu.Lock()
	b.history = append(b.history, event)
	if len(b.history) > maxHistorySize {
		b.history = b.history[1:]
	}
	subs := append([]subscription(nil), b.subscribers[event.Type]...)
	wild := append([]subscription(nil), b.wildcard...)
	b.mu.Unlock()

	for _, s := range subs {
		b.invoke(s, event, span)
	}
	for _, s := range wild {
		b.invoke(s, event, span)
	}

	b.profiler.EndEvent(event.Type, span)
	busDelivered.WithLabelValues(string(event.Type)).Inc()
}

func (b *Bus) invoke(s subscription, event Event, span EventSpan) {
	start := b.profiler.StartSubscriber()
	defer func() {
		if r := recover(); r != nil {
			b.profiler.EndSubscriber(event.Type, s.id, start, span, true)
			busHandlerErrors.Inc()
			b.log.Errorf("integration: handler %s panicked on %s: %v", s.id, event.Type, r)
			return
		}
		b.profiler.EndSubscriber(event.Type, s.id, start, span, false)
	}()
	s.handler(event)
}

// GetEventHistory returns a snapshot of the most recent delivered events,
// newest last, optionally filtered by type and capped at limit (0 = no cap).
func (b *Bus) GetEventHistory(limit int, eventTypes ...EventType) []Event {
	b.mu.Lock()
	history := append([]Event(nil), b.history...)
	b.mu.Unlock()

	if len(eventTypes) > 0 {
		filtered := history[:0]
		for _, ev := range history {
			for _, t := range eventTypes {
				if ev.Type == t {
					filtered = append(filtered, ev)
					break
				}
			}
		}
		history = filtered
	}
	if limit > 0 && limit < len(history) {
		history = history[len(history)-limit:]
	}
	return history
}

// ClearEventHistory empties the history window.
func (b *Bus) ClearEventHistory() {
	b.mu.Lock()
	b.history = nil
	b.mu.Unlock()
}

// GetStats snapshots subscriber, history and queue counters.
func (b *Bus) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := len(b.wildcard)
	for _, subs := range b.subscribers {
		count += len(subs)
	}

	byType := make(map[EventType]int)
	for _, ev := range b.history {
		byType[ev.Type]++
	}

	var avg time.Duration
	if b.procTimeCount > 0 {
		avg = b.procTimeTotal / time.Duration(b.procTimeCount)
	}

	return Stats{
		SubscriberCount: count,
		EventCount:      len(b.history),
		EventTypes:      byType,
		Queue: QueueStats{
			CurrentQueueLength:    len(b.queue),
			TotalEnqueued:         b.totalEnqueued,
			TotalProcessed:        b.totalProcessed,
			MaxQueueLength:        b.maxQueueLength,
			QueueOverflows:        b.queueOverflows,
			AverageProcessingTime: avg,
			MaxProcessingTime:     b.procTimeMax,
		},
	}
}

// ConfigureQueue applies the non-zero fields of cfg (a nil
// HighFrequencyEventTypes keeps the current set, an empty non-nil slice
// clears it) and restarts the periodic drain with the updated interval.
func (b *Bus) ConfigureQueue(cfg QueueConfig) {
	b.mu.Lock()
	if cfg.BatchSize > 0 {
		b.config.BatchSize = cfg.BatchSize
	}
	if cfg.ProcessingInterval > 0 {
		b.config.ProcessingInterval = cfg.ProcessingInterval
	}
	if cfg.MaxQueueSize > 0 {
		b.config.MaxQueueSize = cfg.MaxQueueSize
	}
	if cfg.HighFrequencyEventTypes != nil {
		b.config.HighFrequencyEventTypes = append([]EventType(nil), cfg.HighFrequencyEventTypes...)
	}
	interval := b.config.ProcessingInterval
	disposed := b.disposed
	b.mu.Unlock()

	if !disposed {
		b.startQueueProcessor(interval)
	}
	b.log.Debugf("integration: queue configuration updated, interval=%s", interval)
}

// FlushQueue drops all queued, undelivered events.
func (b *Bus) FlushQueue() {
	b.mu.Lock()
	dropped := len(b.queue)
	b.queue = nil
	busQueueLength.Set(0)
	b.mu.Unlock()

	if dropped > 0 {
		b.log.Debugf("integration: queue flushed, %d events dropped", dropped)
	}
}

func (b *Bus) startQueueProcessor(interval time.Duration) {
	b.StopQueueProcessor()

	stop := make(chan struct{})
	done := make(chan struct{})

	b.procMu.Lock()
	b.stopCh, b.doneCh = stop, done
	b.procMu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				b.ProcessQueueOnce()
			}
		}
	}()
}

// StopQueueProcessor halts future drain ticks. A tick already running
// finishes; queued events stay queued.
func (b *Bus) StopQueueProcessor() {
	b.procMu.Lock()
	stop, done := b.stopCh, b.doneCh
	b.stopCh, b.doneCh = nil, nil
	b.procMu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// Dispose stops the queue processor and clears all subscriptions, the queue
// and the history. Idempotent; a disposed bus turns Publish into a no-op.
func (b *Bus) Dispose() {
	b.StopQueueProcessor()

	b.mu.Lock()
	b.subscribers = make(map[EventType][]subscription)
	b.wildcard = nil
	b.queue = nil
	b.history = nil
	b.disposed = true
	b.mu.Unlock()

	b.log.Debug("integration: bus disposed")
}

// GetPerformanceMetrics combines bus stats with the profiler report.
func (b *Bus) GetPerformanceMetrics() PerformanceMetrics {
	return PerformanceMetrics{
		Stats:       b.GetStats(),
		Performance: b.profiler.GeneratePerformanceReport(),
	}
}

// PerformanceMetrics is the combined observability snapshot served by the ops
// endpoint.
type PerformanceMetrics struct {
	Stats       Stats
	Performance PerformanceReport
}

// ResetPerformanceMetrics zeroes the profiler and the queue counters.
func (b *Bus) ResetPerformanceMetrics() {
	b.profiler.Reset()

	b.mu.Lock()
	b.totalEnqueued = 0
	b.totalProcessed = 0
	b.maxQueueLength = 0
	b.queueOverflows = 0
	b.procTimeTotal = 0
	b.procTimeCount = 0
	b.procTimeMax = 0
	b.mu.Unlock()
}
