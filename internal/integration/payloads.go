package integration

import "time"

// Payload shapes form a tagged union keyed by EventType: leave lifecycle
// events carry a LeavePayload, quota lifecycle events a QuotaPayload, and so
// on. Subscribers type-assert on the variant matching the event type.

// Leave statuses as used by the leave module.
const (
	LeaveStatusPending   = "PENDING"
	LeaveStatusApproved  = "APPROVED"
	LeaveStatusRejected  = "REJECTED"
	LeaveStatusCancelled = "CANCELLED"
)

// LeavePayload is a snapshot of a leave at the moment of the lifecycle event.
type LeavePayload struct {
	ID          string
	UserID      string
	LeaveType   string
	Status      string
	StartDate   time.Time
	EndDate     time.Time
	CountedDays float64
	IsRecurring bool
	Occurrences []LeaveOccurrence
}

// LeaveOccurrence is one expanded instance of a recurring leave.
type LeaveOccurrence struct {
	ID          string
	UserID      string
	LeaveType   string
	Status      string
	StartDate   time.Time
	EndDate     time.Time
	CountedDays float64
}

// QuotaPayload covers the three quota operations. Transfer uses the
// From/To leave-type pair, carry-over the From/To year pair.
type QuotaPayload struct {
	UserID        string
	LeaveType     string
	Amount        float64
	Reason        string
	FromLeaveType string
	ToLeaveType   string
	FromYear      int
	ToYear        int
}

// PlanningPayload describes a planning board mutation.
type PlanningPayload struct {
	EventID   string
	UserID    string
	RoomID    string
	StartDate time.Time
	EndDate   time.Time
}

// AuditPayload is the generic audit-action payload forwarded as-is to the
// audit trail. ActionType values are the audit module's action constants;
// they are plain strings here so the vocabulary stays dependency-free.
type AuditPayload struct {
	ActionType  string
	UserID      string
	TargetID    string
	TargetType  string
	Permission  string
	Description string
	Severity    string
	Metadata    map[string]any
}
