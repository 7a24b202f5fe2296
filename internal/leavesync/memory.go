package leavesync

import (
	"context"
	"sync"
	"time"
)

// MemoryCalendar is an in-process CalendarService, used in tests and in
// deployments where the calendar module runs in the same process.
type MemoryCalendar struct {
	mu     sync.RWMutex
	events map[string]CalendarEvent
}

var _ CalendarService = (*MemoryCalendar)(nil)

func NewMemoryCalendar() *MemoryCalendar {
	return &MemoryCalendar{events: make(map[string]CalendarEvent)}
}

func (c *MemoryCalendar) AddOrUpdateEvent(_ context.Context, event CalendarEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[event.ID] = event
	return nil
}

func (c *MemoryCalendar) RemoveEvent(_ context.Context, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.events, eventID)
	return nil
}

// Event returns the stored event by ID.
func (c *MemoryCalendar) Event(eventID string) (CalendarEvent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	event, ok := c.events[eventID]
	return event, ok
}

// Len returns the number of stored events.
func (c *MemoryCalendar) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}

// UnavailabilityMarker is one planning-board marker placed for a leave.
type UnavailabilityMarker struct {
	UserID   string
	Start    time.Time
	End      time.Time
	Label    string
	Metadata map[string]any
}

// MemoryPlanning is an in-process PlanningService counterpart to
// MemoryCalendar.
type MemoryPlanning struct {
	mu      sync.RWMutex
	markers []UnavailabilityMarker
}

var _ PlanningService = (*MemoryPlanning)(nil)

func NewMemoryPlanning() *MemoryPlanning {
	return &MemoryPlanning{}
}

func (p *MemoryPlanning) AddUnavailabilityMarker(_ context.Context, userID string, start, end time.Time, label string, metadata map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markers = append(p.markers, UnavailabilityMarker{
		UserID:   userID,
		Start:    start,
		End:      end,
		Label:    label,
		Metadata: metadata,
	})
	return nil
}

func (p *MemoryPlanning) RemoveUnavailabilityMarkers(_ context.Context, userID string, start, end time.Time, label string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.markers[:0]
	for _, m := range p.markers {
		if m.UserID == userID && m.Label == label && m.Start.Equal(start) && m.End.Equal(end) {
			continue
		}
		kept = append(kept, m)
	}
	p.markers = kept
	return nil
}

// Markers returns a snapshot of the current markers.
func (p *MemoryPlanning) Markers() []UnavailabilityMarker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]UnavailabilityMarker{}, p.markers...)
}
