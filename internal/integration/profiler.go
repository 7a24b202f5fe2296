package integration

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ProfilerConfig is mutable at runtime via Configure.
type ProfilerConfig struct {
	Enabled                   bool
	DetailedSubscriberMetrics bool
	// SamplingRate is the fraction of delivered events that are profiled,
	// clamped to [0, 1].
	SamplingRate           float64
	MetricsRetentionPeriod time.Duration
	LogSlowEvents          bool
	SlowEventThreshold     time.Duration
}

// DefaultProfilerConfig profiles everything with a one hour retention window.
func DefaultProfilerConfig() ProfilerConfig {
	return ProfilerConfig{
		Enabled:                   true,
		DetailedSubscriberMetrics: true,
		SamplingRate:              1.0,
		MetricsRetentionPeriod:    time.Hour,
		LogSlowEvents:             true,
		SlowEventThreshold:        200 * time.Millisecond,
	}
}

// EventTypeMetrics aggregates handling and queue-wait timings for one type.
// Queue-wait fields are only meaningful for types routed through the queue.
type EventTypeMetrics struct {
	Count          int64
	TotalTime      time.Duration
	AvgTime        time.Duration
	MinTime        time.Duration
	MaxTime        time.Duration
	QueueCount     int64
	TotalQueueTime time.Duration
	AvgQueueTime   time.Duration
	MinQueueTime   time.Duration
	MaxQueueTime   time.Duration
	LastSeen       time.Time
}

// SubscriberMetrics aggregates per (event type, subscriber) handling timings.
type SubscriberMetrics struct {
	EventType    EventType
	SubscriberID string
	Count        int64
	TotalTime    time.Duration
	AvgTime      time.Duration
	MinTime      time.Duration
	MaxTime      time.Duration
	Errors       int64
}

// EventTypeSummary names one entry of the slowest-types ranking.
type EventTypeSummary struct {
	EventType EventType
	AvgTime   time.Duration
	Count     int64
}

// PerformanceReport is the full profiler output plus its summary rankings.
type PerformanceReport struct {
	GeneratedAt            time.Time
	TotalEvents            int64
	EventTypes             map[EventType]EventTypeMetrics
	Subscribers            []SubscriberMetrics
	SlowestEventTypes      []EventTypeSummary
	MostFailingSubscribers []SubscriberMetrics
}

// EventSpan is the per-delivery token handed out by StartEvent and threaded
// through the subscriber calls, so the sampling decision is made once per
// event.
type EventSpan struct {
	Start   time.Time
	Sampled bool
}

type subscriberKey struct {
	eventType    EventType
	subscriberID string
}

// Profiler records bus delivery timings. It never returns errors and never
// panics; when disabled every method is inert. All state is mutex-guarded.
type Profiler struct {
	log *logrus.Logger

	mu           sync.Mutex
	cfg          ProfilerConfig
	byType       map[EventType]*EventTypeMetrics
	bySubscriber map[subscriberKey]*SubscriberMetrics
}

// NewProfiler builds a profiler with the given configuration.
func NewProfiler(log *logrus.Logger, cfg ProfilerConfig) *Profiler {
	if cfg.SamplingRate < 0 {
		cfg.SamplingRate = 0
	}
	if cfg.SamplingRate > 1 {
		cfg.SamplingRate = 1
	}
	return &Profiler{
		log:          log,
		cfg:          cfg,
		byType:       make(map[EventType]*EventTypeMetrics),
		bySubscriber: make(map[subscriberKey]*SubscriberMetrics),
	}
}

// Configure replaces the runtime configuration.
func (p *Profiler) Configure(cfg ProfilerConfig) {
	if cfg.SamplingRate < 0 {
		cfg.SamplingRate = 0
	}
	if cfg.SamplingRate > 1 {
		cfg.SamplingRate = 1
	}
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
}

// SetEnabled toggles profiling without touching the rest of the config.
func (p *Profiler) SetEnabled(enabled bool) {
	p.mu.Lock()
	p.cfg.Enabled = enabled
	p.mu.Unlock()
}

// StartEvent decides whether this delivery is profiled and opens its span.
func (p *Profiler) StartEvent(eventType EventType) EventSpan {
	p.mu.Lock()
	enabled, rate := p.cfg.Enabled, p.cfg.SamplingRate
	p.mu.Unlock()

	if !enabled {
		return EventSpan{}
	}
	sampled := rand.Float64() < rate //nolint:gosec // sampling doesn't need crypto rand
	return EventSpan{Start: time.Now(), Sampled: sampled}
}

// EndEvent closes the span and folds the handling time into the per-type
// metrics.
func (p *Profiler) EndEvent(eventType EventType, span EventSpan) {
	if !span.Sampled {
		return
	}
	elapsed := time.Since(span.Start)

	p.mu.Lock()
	m := p.typeMetricsLocked(eventType)
	m.Count++
	m.TotalTime += elapsed
	if m.MinTime == 0 || elapsed < m.MinTime {
		m.MinTime = elapsed
	}
	if elapsed > m.MaxTime {
		m.MaxTime = elapsed
	}
	m.LastSeen = time.Now()
	slow := p.cfg.LogSlowEvents && elapsed > p.cfg.SlowEventThreshold
	p.mu.Unlock()

	if slow {
		p.log.Warnf("integration: slow event %s took %s", eventType, elapsed)
	}
}

// RecordQueueTime folds one queue-wait measurement into the per-type metrics.
func (p *Profiler) RecordQueueTime(eventType EventType, wait time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.cfg.Enabled {
		return
	}
	m := p.typeMetricsLocked(eventType)
	m.QueueCount++
	m.TotalQueueTime += wait
	if m.MinQueueTime == 0 || wait < m.MinQueueTime {
		m.MinQueueTime = wait
	}
	if wait > m.MaxQueueTime {
		m.MaxQueueTime = wait
	}
	m.LastSeen = time.Now()
}

// StartSubscriber marks the start of one handler invocation.
func (p *Profiler) StartSubscriber() time.Time {
	return time.Now()
}

// EndSubscriber records one handler invocation. Error counts are kept for
// every invocation while the profiler is enabled; timings only for sampled
// events with detailed metrics on.
func (p *Profiler) EndSubscriber(eventType EventType, subscriberID string, start time.Time, span EventSpan, errored bool) {
	elapsed := time.Since(start)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.cfg.Enabled {
		return
	}

	m := p.subscriberMetricsLocked(eventType, subscriberID)
	if errored {
		m.Errors++
	}
	if !span.Sampled || !p.cfg.DetailedSubscriberMetrics {
		return
	}
	m.Count++
	m.TotalTime += elapsed
	if m.MinTime == 0 || elapsed < m.MinTime {
		m.MinTime = elapsed
	}
	if elapsed > m.MaxTime {
		m.MaxTime = elapsed
	}
}

func (p *Profiler) typeMetricsLocked(eventType EventType) *EventTypeMetrics {
	m := p.byType[eventType]
	if m == nil {
		m = &EventTypeMetrics{}
		p.byType[eventType] = m
	}
	return m
}

func (p *Profiler) subscriberMetricsLocked(eventType EventType, subscriberID string) *SubscriberMetrics {
	key := subscriberKey{eventType: eventType, subscriberID: subscriberID}
	m := p.bySubscriber[key]
	if m == nil {
		m = &SubscriberMetrics{EventType: eventType, SubscriberID: subscriberID}
		p.bySubscriber[key] = m
	}
	return m
}

// GeneratePerformanceReport prunes metrics past the retention period and
// returns a snapshot with the top-5 slowest event types by average handling
// time and the top-5 subscribers by error count (errors > 0 only).
func (p *Profiler) GeneratePerformanceReport() PerformanceReport {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pruneLocked()

	report := PerformanceReport{
		GeneratedAt: time.Now(),
		EventTypes:  make(map[EventType]EventTypeMetrics, len(p.byType)),
	}

	for eventType, m := range p.byType {
		snapshot := *m
		if snapshot.Count > 0 {
			snapshot.AvgTime = snapshot.TotalTime / time.Duration(snapshot.Count)
		}
		if snapshot.QueueCount > 0 {
			snapshot.AvgQueueTime = snapshot.TotalQueueTime / time.Duration(snapshot.QueueCount)
		}
		report.EventTypes[eventType] = snapshot
		report.TotalEvents += snapshot.Count

		if snapshot.Count > 0 {
			report.SlowestEventTypes = append(report.SlowestEventTypes, EventTypeSummary{
				EventType: eventType,
				AvgTime:   snapshot.AvgTime,
				Count:     snapshot.Count,
			})
		}
	}
	sort.Slice(report.SlowestEventTypes, func(i, j int) bool {
		return report.SlowestEventTypes[i].AvgTime > report.SlowestEventTypes[j].AvgTime
	})
	if len(report.SlowestEventTypes) > 5 {
		report.SlowestEventTypes = report.SlowestEventTypes[:5]
	}

	for _, m := range p.bySubscriber {
		snapshot := *m
		if snapshot.Count > 0 {
			snapshot.AvgTime = snapshot.TotalTime / time.Duration(snapshot.Count)
		}
		if p.cfg.DetailedSubscriberMetrics {
			report.Subscribers = append(report.Subscribers, snapshot)
		}
		if snapshot.Errors > 0 {
			report.MostFailingSubscribers = append(report.MostFailingSubscribers, snapshot)
		}
	}
	sort.Slice(report.Subscribers, func(i, j int) bool {
		if report.Subscribers[i].EventType != report.Subscribers[j].EventType {
			return report.Subscribers[i].EventType < report.Subscribers[j].EventType
		}
		return report.Subscribers[i].SubscriberID < report.Subscribers[j].SubscriberID
	})
	sort.Slice(report.MostFailingSubscribers, func(i, j int) bool {
		return report.MostFailingSubscribers[i].Errors > report.MostFailingSubscribers[j].Errors
	})
	if len(report.MostFailingSubscribers) > 5 {
		report.MostFailingSubscribers = report.MostFailingSubscribers[:5]
	}

	return report
}

// pruneLocked drops per-type entries not seen within the retention period.
// Subscriber entries follow their event type.
func (p *Profiler) pruneLocked() {
	if p.cfg.MetricsRetentionPeriod <= 0 {
		return
	}
	cutoff := time.Now().Add(-p.cfg.MetricsRetentionPeriod)
	for eventType, m := range p.byType {
		if m.LastSeen.Before(cutoff) {
			delete(p.byType, eventType)
			for key := range p.bySubscriber {
				if key.eventType == eventType {
					delete(p.bySubscriber, key)
				}
			}
		}
	}
}

// Reset clears all recorded metrics, keeping the configuration.
func (p *Profiler) Reset() {
	p.mu.Lock()
	p.byType = make(map[EventType]*EventTypeMetrics)
	p.bySubscriber = make(map[subscriberKey]*SubscriberMetrics)
	p.mu.Unlock()
}
