// Package integration is the cross-module communication layer: an in-process
// publish/subscribe bus with batched delivery for high-frequency event types,
// plus the profiler that instruments it. Producer modules (leaves, quotas,
// permissions) and consumer modules (audit, planning sync, permission cache
// invalidation) only couple through the event vocabulary defined here.
package integration

import "time"

// EventType tags every event crossing the bus. The vocabulary is shared with
// the leave, planning and quota modules and must stay stable.
type EventType string

const (
	// Leave lifecycle
	LeaveCreated   EventType = "LEAVE_CREATED"
	LeaveUpdated   EventType = "LEAVE_UPDATED"
	LeaveApproved  EventType = "LEAVE_APPROVED"
	LeaveRejected  EventType = "LEAVE_REJECTED"
	LeaveCancelled EventType = "LEAVE_CANCELLED"
	LeaveDeleted   EventType = "LEAVE_DELETED"

	// Planning lifecycle
	PlanningEventCreated EventType = "PLANNING_EVENT_CREATED"
	PlanningEventUpdated EventType = "PLANNING_EVENT_UPDATED"
	PlanningEventDeleted EventType = "PLANNING_EVENT_DELETED"

	// Quota lifecycle
	QuotaUpdated     EventType = "QUOTA_UPDATED"
	QuotaTransferred EventType = "QUOTA_TRANSFERRED"
	QuotaCarriedOver EventType = "QUOTA_CARRIED_OVER"

	// Catch-all for audit trail entries
	AuditAction EventType = "AUDIT_ACTION"
)

// Event is the immutable envelope delivered to subscribers. Timestamp is
// stamped by Publish; callers leave it zero.
type Event struct {
	Type          EventType
	Payload       any
	Timestamp     time.Time
	Source        string
	UserID        string
	CorrelationID string
}

// Handler consumes a delivered event. Handlers run sequentially on the
// delivering goroutine; a panic is recovered and logged without affecting
// other handlers.
type Handler func(Event)
