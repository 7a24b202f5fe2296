package integration

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"mathilda/internal/platform/logger"
)

type BusSuite struct {
	suite.Suite
	bus *Bus
}

func TestBusSuite(t *testing.T) {
	suite.Run(t, new(BusSuite))
}

func (s *BusSuite) SetupTest() {
	log := logger.Discard()
	s.bus = NewBus(log, NewProfiler(log, DefaultProfilerConfig()))
	// Take the ticker out of the picture so tests drain deterministically.
	s.bus.StopQueueProcessor()
}

func (s *BusSuite) TearDownTest() {
	s.bus.Dispose()
}

func (s *BusSuite) TestImmediateDelivery() {
	var got []Event
	s.bus.Subscribe(LeaveCreated, func(e Event) { got = append(got, e) })

	s.bus.Publish(Event{Type: LeaveCreated, Payload: LeavePayload{ID: "l1"}, Source: "test"})

	s.Require().Len(got, 1)
	s.Equal(LeaveCreated, got[0].Type)
	s.False(got[0].Timestamp.IsZero(), "publish must stamp the timestamp")
}

func (s *BusSuite) TestHandlerOrdering() {
	var order []string
	s.bus.SubscribeToAll(func(Event) { order = append(order, "wildcard") })
	s.bus.Subscribe(LeaveCreated, func(Event) { order = append(order, "first") })
	s.bus.Subscribe(LeaveCreated, func(Event) { order = append(order, "second") })

	s.bus.Publish(Event{Type: LeaveCreated})

	s.Equal([]string{"first", "second", "wildcard"}, order)
}

func (s *BusSuite) TestUnsubscribe() {
	calls := 0
	sub := s.bus.Subscribe(LeaveCreated, func(Event) { calls++ })

	s.bus.Publish(Event{Type: LeaveCreated})
	sub.Unsubscribe()
	s.bus.Publish(Event{Type: LeaveCreated})

	s.Equal(1, calls)

	s.Run("idempotent", func() {
		sub.Unsubscribe()
		s.bus.Publish(Event{Type: LeaveCreated})
		s.Equal(1, calls)
	})
}

func (s *BusSuite) TestWildcardSeesAllTypes() {
	var types []EventType
	s.bus.SubscribeToAll(func(e Event) { types = append(types, e.Type) })

	s.bus.Publish(Event{Type: LeaveCreated})
	s.bus.Publish(Event{Type: QuotaUpdated})

	s.Equal([]EventType{LeaveCreated, QuotaUpdated}, types)
}

func (s *BusSuite) TestHighFrequencyQueueing() {
	var got []Event
	s.bus.Subscribe(AuditAction, func(e Event) { got = append(got, e) })

	s.bus.Publish(Event{Type: AuditAction})
	s.Empty(got, "high-frequency events wait for a drain")
	s.Equal(1, s.bus.GetStats().Queue.CurrentQueueLength)

	n := s.bus.ProcessQueueOnce()
	s.Equal(1, n)
	s.Len(got, 1)
	s.Equal(0, s.bus.GetStats().Queue.CurrentQueueLength)
}

func (s *BusSuite) TestBatchSizeLimitsDrain() {
	s.bus.ConfigureQueue(QueueConfig{BatchSize: 3})
	s.bus.StopQueueProcessor()

	delivered := 0
	s.bus.Subscribe(AuditAction, func(Event) { delivered++ })

	for range 7 {
		s.bus.Publish(Event{Type: AuditAction})
	}

	s.Equal(3, s.bus.ProcessQueueOnce())
	s.Equal(3, delivered)
	s.Equal(3, s.bus.ProcessQueueOnce())
	s.Equal(1, s.bus.ProcessQueueOnce())
	s.Equal(7, delivered)
	s.Equal(0, s.bus.ProcessQueueOnce())
}

func (s *BusSuite) TestQueueOverflowDropsNewest() {
	s.bus.ConfigureQueue(QueueConfig{MaxQueueSize: 2, BatchSize: 10})
	s.bus.StopQueueProcessor()

	var got []string
	s.bus.Subscribe(AuditAction, func(e Event) {
		got = append(got, e.Payload.(string))
	})

	s.bus.Publish(Event{Type: AuditAction, Payload: "a"})
	s.bus.Publish(Event{Type: AuditAction, Payload: "b"})
	s.bus.Publish(Event{Type: AuditAction, Payload: "c"})

	stats := s.bus.GetStats().Queue
	s.Equal(int64(1), stats.QueueOverflows)
	s.Equal(int64(3), stats.TotalEnqueued)

	s.bus.ProcessQueueOnce()
	s.Equal([]string{"a", "b"}, got, "the backlog survives, the incoming event is dropped")
}

func (s *BusSuite) TestPanicIsolation() {
	var survived bool
	s.bus.Subscribe(LeaveCreated, func(Event) { panic("boom") })
	s.bus.Subscribe(LeaveCreated, func(Event) { survived = true })

	s.NotPanics(func() {
		s.bus.Publish(Event{Type: LeaveCreated})
	})
	s.True(survived, "a panicking handler must not block the next one")
}

func (s *BusSuite) TestHistorySingleAppendPerEvent() {
	s.bus.Subscribe(LeaveCreated, func(Event) {})
	s.bus.Subscribe(LeaveCreated, func(Event) {})
	s.bus.SubscribeToAll(func(Event) {})

	s.bus.Publish(Event{Type: LeaveCreated})

	s.Len(s.bus.GetEventHistory(0), 1, "one delivery, one history entry")
}

func (s *BusSuite) TestHistoryWindowAndFilter() {
	for range maxHistorySize + 20 {
		s.bus.Publish(Event{Type: LeaveCreated})
	}
	s.bus.Publish(Event{Type: QuotaUpdated, Payload: "last"})

	history := s.bus.GetEventHistory(0)
	s.Len(history, maxHistorySize)
	s.Equal(QuotaUpdated, history[len(history)-1].Type, "newest last")

	s.Run("filter by type", func() {
		quotas := s.bus.GetEventHistory(0, QuotaUpdated)
		s.Len(quotas, 1)
	})

	s.Run("limit keeps newest", func() {
		tail := s.bus.GetEventHistory(5)
		s.Len(tail, 5)
		s.Equal(QuotaUpdated, tail[4].Type)
	})

	s.Run("clear", func() {
		s.bus.ClearEventHistory()
		s.Empty(s.bus.GetEventHistory(0))
	})
}

func (s *BusSuite) TestGetStats() {
	s.bus.Subscribe(LeaveCreated, func(Event) {})
	s.bus.Subscribe(QuotaUpdated, func(Event) {})
	s.bus.SubscribeToAll(func(Event) {})

	s.bus.Publish(Event{Type: LeaveCreated})
	s.bus.Publish(Event{Type: LeaveCreated})
	s.bus.Publish(Event{Type: QuotaUpdated})

	stats := s.bus.GetStats()
	s.Equal(3, stats.SubscriberCount)
	s.Equal(3, stats.EventCount)
	s.Equal(2, stats.EventTypes[LeaveCreated])
	s.Equal(1, stats.EventTypes[QuotaUpdated])
}

func (s *BusSuite) TestConfigureQueueReplacesHighFrequencySet() {
	delivered := 0
	s.bus.Subscribe(LeaveCreated, func(Event) { delivered++ })

	s.bus.ConfigureQueue(QueueConfig{HighFrequencyEventTypes: []EventType{LeaveCreated}})
	s.bus.StopQueueProcessor()

	s.bus.Publish(Event{Type: LeaveCreated})
	s.Equal(0, delivered, "newly high-frequency type must queue")

	s.Run("empty non-nil set clears", func() {
		s.bus.FlushQueue()
		s.bus.ConfigureQueue(QueueConfig{HighFrequencyEventTypes: []EventType{}})
		s.bus.StopQueueProcessor()

		s.bus.Publish(Event{Type: LeaveCreated})
		s.Equal(1, delivered, "cleared set delivers immediately")
	})
}

func (s *BusSuite) TestFlushQueueDropsPending() {
	delivered := 0
	s.bus.Subscribe(AuditAction, func(Event) { delivered++ })

	s.bus.Publish(Event{Type: AuditAction})
	s.bus.Publish(Event{Type: AuditAction})
	s.bus.FlushQueue()

	s.Equal(0, s.bus.ProcessQueueOnce())
	s.Equal(0, delivered)
}

func (s *BusSuite) TestPeriodicProcessorDrains() {
	var mu sync.Mutex
	delivered := 0
	s.bus.Subscribe(AuditAction, func(Event) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	s.bus.ConfigureQueue(QueueConfig{ProcessingInterval: 5 * time.Millisecond})
	s.bus.Publish(Event{Type: AuditAction})

	s.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == 1
	}, time.Second, 5*time.Millisecond)
}

func (s *BusSuite) TestDispose() {
	calls := 0
	s.bus.Subscribe(LeaveCreated, func(Event) { calls++ })

	s.bus.Dispose()
	s.bus.Publish(Event{Type: LeaveCreated})

	s.Equal(0, calls, "a disposed bus drops publishes")
	s.Empty(s.bus.GetEventHistory(0))
	s.Equal(0, s.bus.GetStats().SubscriberCount)

	s.NotPanics(func() { s.bus.Dispose() })
}

func (s *BusSuite) TestConcurrentPublish() {
	var mu sync.Mutex
	delivered := 0
	s.bus.Subscribe(LeaveCreated, func(Event) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				s.bus.Publish(Event{Type: LeaveCreated})
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	s.Equal(500, delivered)
}
