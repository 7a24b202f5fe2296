// Package leavesync keeps the calendar and the planning board consistent
// with the leave module. It listens to leave lifecycle events on the
// integration bus: creations, updates and approvals upsert calendar events,
// and only approved leaves place unavailability markers on the planning
// board; rejections, cancellations and deletions revoke both.
package leavesync

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"mathilda/internal/integration"
)

// EventTypeLeave marks calendar events that mirror a leave.
const EventTypeLeave = "LEAVE"

// CalendarEvent is the calendar-side projection of a leave.
type CalendarEvent struct {
	ID          string
	Title       string
	Start       time.Time
	End         time.Time
	Type        string
	LeaveType   string
	Status      string
	CountedDays float64
	AllDay      bool
	// RecurringEventID links an occurrence's event back to its parent
	// leave.
	RecurringEventID string
}

// CalendarService is the calendar module surface the synchronizer needs.
type CalendarService interface {
	AddOrUpdateEvent(ctx context.Context, event CalendarEvent) error
	RemoveEvent(ctx context.Context, eventID string) error
}

// PlanningService is the planning module surface the synchronizer needs.
type PlanningService interface {
	AddUnavailabilityMarker(ctx context.Context, userID string, start, end time.Time, label string, metadata map[string]any) error
	RemoveUnavailabilityMarkers(ctx context.Context, userID string, start, end time.Time, label string) error
}

// Service is the leave-to-planning synchronizer.
type Service struct {
	log      *logrus.Logger
	calendar CalendarService
	planning PlanningService
	subs     []*integration.Subscription
}

// NewService subscribes the synchronizer to the six leave lifecycle events.
func NewService(log *logrus.Logger, bus *integration.Bus, calendar CalendarService, planning PlanningService) *Service {
	s := &Service{log: log, calendar: calendar, planning: planning}

	for _, t := range []integration.EventType{
		integration.LeaveCreated,
		integration.LeaveUpdated,
		integration.LeaveApproved,
		integration.LeaveRejected,
		integration.LeaveCancelled,
		integration.LeaveDeleted,
	} {
		s.subs = append(s.subs, bus.Subscribe(t, s.handleLeaveEvent))
	}
	return s
}

// Dispose removes the bus subscriptions.
func (s *Service) Dispose() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
}

func (s *Service) handleLeaveEvent(event integration.Event) {
	leave, ok := leavePayload(event.Payload)
	if !ok {
		s.log.Warnf("leavesync: %s event carries no leave payload", event.Type)
		return
	}

	var err error
	switch event.Type {
	case integration.LeaveCreated, integration.LeaveUpdated, integration.LeaveApproved:
		err = s.SynchronizeLeave(context.Background(), leave)
	case integration.LeaveRejected, integration.LeaveCancelled, integration.LeaveDeleted:
		err = s.HandleLeaveRevocation(context.Background(), leave)
	}
	if err != nil {
		s.log.Errorf("leavesync: handling %s for leave %s: %v", event.Type, leave.ID, err)
	}
}

// eventID derives the calendar event ID for a leave or occurrence.
func eventID(leaveID string) string {
	return "leave-" + leaveID
}

// SynchronizeLeave upserts the calendar projection of a leave, and for an
// approved leave also places unavailability markers on the planning board.
// Recurring leaves fan out: each occurrence gets its own calendar event
// linked to the parent, and its own marker when itself approved.
func (s *Service) SynchronizeLeave(ctx context.Context, leave integration.LeavePayload) error {
	title := fmt.Sprintf("Leave: %s", leave.LeaveType)
	if leave.IsRecurring {
		title = fmt.Sprintf("Recurring leave: %s", leave.LeaveType)
	}

	err := s.calendar.AddOrUpdateEvent(ctx, CalendarEvent{
		ID:          eventID(leave.ID),
		Title:       title,
		Start:       leave.StartDate,
		End:         leave.EndDate,
		Type:        EventTypeLeave,
		LeaveType:   leave.LeaveType,
		Status:      leave.Status,
		CountedDays: leave.CountedDays,
		AllDay:      true,
	})
	if err != nil {
		return fmt.Errorf("upsert calendar event: %w", err)
	}

	if leave.IsRecurring {
		for _, occ := range leave.Occurrences {
			err := s.calendar.AddOrUpdateEvent(ctx, CalendarEvent{
				ID:               eventID(occ.ID),
				Title:            fmt.Sprintf("Recurring leave: %s", occ.LeaveType),
				Start:            occ.StartDate,
				End:              occ.EndDate,
				Type:             EventTypeLeave,
				LeaveType:        occ.LeaveType,
				Status:           occ.Status,
				CountedDays:      occ.CountedDays,
				AllDay:           true,
				RecurringEventID: leave.ID,
			})
			if err != nil {
				return fmt.Errorf("upsert occurrence calendar event: %w", err)
			}
		}
	}

	if leave.Status != integration.LeaveStatusApproved {
		return nil
	}

	err = s.planning.AddUnavailabilityMarker(ctx, leave.UserID,
		leave.StartDate, leave.EndDate,
		fmt.Sprintf("Leave: %s", leave.LeaveType),
		map[string]any{"leaveId": leave.ID, "leaveType": leave.LeaveType})
	if err != nil {
		return fmt.Errorf("add unavailability marker: %w", err)
	}

	if leave.IsRecurring {
		for _, occ := range leave.Occurrences {
			if occ.Status != integration.LeaveStatusApproved {
				continue
			}
			err := s.planning.AddUnavailabilityMarker(ctx, occ.UserID,
				occ.StartDate, occ.EndDate,
				fmt.Sprintf("Recurring leave: %s", occ.LeaveType),
				map[string]any{
					"leaveId":       occ.ID,
					"parentLeaveId": leave.ID,
					"leaveType":     occ.LeaveType,
					"isRecurring":   true,
				})
			if err != nil {
				return fmt.Errorf("add occurrence unavailability marker: %w", err)
			}
		}
	}
	return nil
}

// HandleLeaveRevocation removes the calendar events and unavailability
// markers of a leave and of every occurrence when recurring.
func (s *Service) HandleLeaveRevocation(ctx context.Context, leave integration.LeavePayload) error {
	if err := s.calendar.RemoveEvent(ctx, eventID(leave.ID)); err != nil {
		return fmt.Errorf("remove calendar event: %w", err)
	}

	err := s.planning.RemoveUnavailabilityMarkers(ctx, leave.UserID,
		leave.StartDate, leave.EndDate,
		fmt.Sprintf("Leave: %s", leave.LeaveType))
	if err != nil {
		return fmt.Errorf("remove unavailability markers: %w", err)
	}

	if leave.IsRecurring {
		for _, occ := range leave.Occurrences {
			if err := s.calendar.RemoveEvent(ctx, eventID(occ.ID)); err != nil {
				return fmt.Errorf("remove occurrence calendar event: %w", err)
			}
			err := s.planning.RemoveUnavailabilityMarkers(ctx, occ.UserID,
				occ.StartDate, occ.EndDate,
				fmt.Sprintf("Recurring leave: %s", occ.LeaveType))
			if err != nil {
				return fmt.Errorf("remove occurrence unavailability markers: %w", err)
			}
		}
	}
	return nil
}

func leavePayload(v any) (integration.LeavePayload, bool) {
	switch p := v.(type) {
	case integration.LeavePayload:
		return p, true
	case *integration.LeavePayload:
		return *p, true
	default:
		return integration.LeavePayload{}, false
	}
}
