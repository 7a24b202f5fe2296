package leavesync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"mathilda/internal/integration"
	"mathilda/internal/leavesync"
	"mathilda/internal/platform/logger"
)

type LeaveSyncSuite struct {
	suite.Suite
	ctx      context.Context
	bus      *integration.Bus
	calendar *leavesync.MemoryCalendar
	planning *leavesync.MemoryPlanning
	svc      *leavesync.Service
}

func TestLeaveSyncSuite(t *testing.T) {
	suite.Run(t, new(LeaveSyncSuite))
}

func (s *LeaveSyncSuite) SetupTest() {
	log := logger.Discard()
	s.ctx = context.Background()
	s.bus = integration.NewBus(log, integration.NewProfiler(log, integration.DefaultProfilerConfig()))
	s.bus.StopQueueProcessor()
	s.calendar = leavesync.NewMemoryCalendar()
	s.planning = leavesync.NewMemoryPlanning()
	s.svc = leavesync.NewService(log, s.bus, s.calendar, s.planning)
}

func (s *LeaveSyncSuite) TearDownTest() {
	s.svc.Dispose()
	s.bus.Dispose()
}

func simpleLeave(status string) integration.LeavePayload {
	return integration.LeavePayload{
		ID:          "77",
		UserID:      "dr-petit",
		LeaveType:   "CP",
		Status:      status,
		StartDate:   time.Date(2025, 8, 4, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2025, 8, 8, 0, 0, 0, 0, time.UTC),
		CountedDays: 5,
	}
}

func recurringLeave() integration.LeavePayload {
	leave := simpleLeave(integration.LeaveStatusApproved)
	leave.IsRecurring = true
	leave.Occurrences = []integration.LeaveOccurrence{
		{
			ID: "77-1", UserID: "dr-petit", LeaveType: "CP",
			Status:    integration.LeaveStatusApproved,
			StartDate: time.Date(2025, 8, 4, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2025, 8, 4, 0, 0, 0, 0, time.UTC),
		},
		{
			ID: "77-2", UserID: "dr-petit", LeaveType: "CP",
			Status:    integration.LeaveStatusPending,
			StartDate: time.Date(2025, 8, 11, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2025, 8, 11, 0, 0, 0, 0, time.UTC),
		},
	}
	return leave
}

func (s *LeaveSyncSuite) TestApprovedLeaveGetsEventAndMarker() {
	s.bus.Publish(integration.Event{
		Type:    integration.LeaveApproved,
		Payload: simpleLeave(integration.LeaveStatusApproved),
	})

	event, ok := s.calendar.Event("leave-77")
	s.Require().True(ok)
	s.Equal("Leave: CP", event.Title)
	s.Equal(leavesync.EventTypeLeave, event.Type)
	s.Equal(integration.LeaveStatusApproved, event.Status)
	s.True(event.AllDay)
	s.InDelta(5, event.CountedDays, 0)

	markers := s.planning.Markers()
	s.Require().Len(markers, 1)
	s.Equal("dr-petit", markers[0].UserID)
	s.Equal("Leave: CP", markers[0].Label)
	s.Equal("77", markers[0].Metadata["leaveId"])
}

func (s *LeaveSyncSuite) TestPendingLeaveGetsEventOnly() {
	s.bus.Publish(integration.Event{
		Type:    integration.LeaveCreated,
		Payload: simpleLeave(integration.LeaveStatusPending),
	})

	_, ok := s.calendar.Event("leave-77")
	s.True(ok)
	s.Empty(s.planning.Markers(), "only approved leaves block the planning board")
}

func (s *LeaveSyncSuite) TestUpdateOverwritesEvent() {
	s.bus.Publish(integration.Event{
		Type:    integration.LeaveCreated,
		Payload: simpleLeave(integration.LeaveStatusPending),
	})

	changed := simpleLeave(integration.LeaveStatusPending)
	changed.LeaveType = "RTT"
	s.bus.Publish(integration.Event{Type: integration.LeaveUpdated, Payload: changed})

	event, ok := s.calendar.Event("leave-77")
	s.Require().True(ok)
	s.Equal("Leave: RTT", event.Title)
	s.Equal(1, s.calendar.Len())
}

func (s *LeaveSyncSuite) TestRecurringFanOut() {
	s.bus.Publish(integration.Event{
		Type:    integration.LeaveApproved,
		Payload: recurringLeave(),
	})

	s.Run("parent and occurrence events", func() {
		s.Equal(3, s.calendar.Len())

		parent, ok := s.calendar.Event("leave-77")
		s.Require().True(ok)
		s.Equal("Recurring leave: CP", parent.Title)
		s.Empty(parent.RecurringEventID)

		occ, ok := s.calendar.Event("leave-77-1")
		s.Require().True(ok)
		s.Equal("77", occ.RecurringEventID)
		s.Equal("Recurring leave: CP", occ.Title)
	})

	s.Run("markers only for approved occurrences", func() {
		markers := s.planning.Markers()
		s.Require().Len(markers, 2, "parent plus the one approved occurrence")

		s.Equal("Leave: CP", markers[0].Label)

		occMarker := markers[1]
		s.Equal("Recurring leave: CP", occMarker.Label)
		s.Equal("77-1", occMarker.Metadata["leaveId"])
		s.Equal("77", occMarker.Metadata["parentLeaveId"])
		s.Equal(true, occMarker.Metadata["isRecurring"])
	})
}

func (s *LeaveSyncSuite) TestRevocationCascade() {
	leave := recurringLeave()
	s.bus.Publish(integration.Event{Type: integration.LeaveApproved, Payload: leave})
	s.Require().Equal(3, s.calendar.Len())
	s.Require().Len(s.planning.Markers(), 2)

	s.bus.Publish(integration.Event{Type: integration.LeaveCancelled, Payload: leave})

	s.Equal(0, s.calendar.Len())
	s.Empty(s.planning.Markers())
}

func (s *LeaveSyncSuite) TestRejectionRemovesPendingProjection() {
	leave := simpleLeave(integration.LeaveStatusPending)
	s.bus.Publish(integration.Event{Type: integration.LeaveCreated, Payload: leave})
	s.Require().Equal(1, s.calendar.Len())

	leave.Status = integration.LeaveStatusRejected
	s.bus.Publish(integration.Event{Type: integration.LeaveRejected, Payload: leave})

	s.Equal(0, s.calendar.Len())
}

func (s *LeaveSyncSuite) TestMalformedPayloadIgnored() {
	s.bus.Publish(integration.Event{Type: integration.LeaveCreated, Payload: 42})
	s.Equal(0, s.calendar.Len())
}

func (s *LeaveSyncSuite) TestDisposeStopsHandling() {
	s.svc.Dispose()
	s.bus.Publish(integration.Event{
		Type:    integration.LeaveApproved,
		Payload: simpleLeave(integration.LeaveStatusApproved),
	})
	s.Equal(0, s.calendar.Len())
	s.Empty(s.planning.Markers())
}
