// Package audit records sensitive actions in the leave module for security
// and compliance review. Entries arrive two ways: the service subscribes to
// the integration bus and derives entries from leave and quota lifecycle
// events, and callers log directly through the Log helpers. Audit failures
// are logged and swallowed so the trail never breaks a business operation.
package audit

import (
	"time"

	"mathilda/internal/integration"
)

// ActionType classifies an audited action.
type ActionType string

const (
	ActionLeaveCreated   ActionType = "LEAVE_CREATED"
	ActionLeaveUpdated   ActionType = "LEAVE_UPDATED"
	ActionLeaveApproved  ActionType = "LEAVE_APPROVED"
	ActionLeaveRejected  ActionType = "LEAVE_REJECTED"
	ActionLeaveCancelled ActionType = "LEAVE_CANCELLED"
	ActionLeaveDeleted   ActionType = "LEAVE_DELETED"

	ActionQuotaUpdated     ActionType = "QUOTA_UPDATED"
	ActionQuotaTransferred ActionType = "QUOTA_TRANSFERRED"
	ActionQuotaCarriedOver ActionType = "QUOTA_CARRIED_OVER"

	ActionUserRoleChanged   ActionType = "USER_ROLE_CHANGED"
	ActionPermissionGranted ActionType = "PERMISSION_GRANTED"
	ActionPermissionRevoked ActionType = "PERMISSION_REVOKED"

	ActionExportData           ActionType = "EXPORT_DATA"
	ActionConfigurationChanged ActionType = "CONFIGURATION_CHANGED"
	ActionSystemAccess         ActionType = "SYSTEM_ACCESS"
)

// Severity ranks how sensitive an audited action is.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Entry is one record in the audit trail.
type Entry struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	ActionType  ActionType     `json:"actionType"`
	UserID      string         `json:"userId"`
	UserRole    string         `json:"userRole,omitempty"`
	TargetID    string         `json:"targetId,omitempty"`
	TargetType  string         `json:"targetType,omitempty"`
	Description string         `json:"description"`
	Severity    Severity       `json:"severity"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	IPAddress   string         `json:"ipAddress,omitempty"`
	UserAgent   string         `json:"userAgent,omitempty"`
}

// SortOrder orders search results by timestamp.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// SearchOptions filters the audit trail. Zero values mean no constraint.
type SearchOptions struct {
	StartDate   time.Time
	EndDate     time.Time
	ActionTypes []ActionType
	UserIDs     []string
	TargetIDs   []string
	Severities  []Severity
	Limit       int
	Offset      int
	SortOrder   SortOrder
}

// PaginatedResult is one page of search results.
type PaginatedResult struct {
	Entries    []Entry `json:"entries"`
	TotalCount int     `json:"totalCount"`
	HasMore    bool    `json:"hasMore"`
	NextOffset int     `json:"nextOffset,omitempty"`
}

// eventActions maps bus event types onto audit actions. Planning events are
// deliberately absent: planning mutations are not audited here.
var eventActions = map[integration.EventType]ActionType{
	integration.LeaveCreated:     ActionLeaveCreated,
	integration.LeaveUpdated:     ActionLeaveUpdated,
	integration.LeaveApproved:    ActionLeaveApproved,
	integration.LeaveRejected:    ActionLeaveRejected,
	integration.LeaveCancelled:   ActionLeaveCancelled,
	integration.LeaveDeleted:     ActionLeaveDeleted,
	integration.QuotaUpdated:     ActionQuotaUpdated,
	integration.QuotaTransferred: ActionQuotaTransferred,
	integration.QuotaCarriedOver: ActionQuotaCarriedOver,
	integration.AuditAction:      ActionSystemAccess,
}

// ActionForEvent translates a bus event type into its audit action.
func ActionForEvent(t integration.EventType) (ActionType, bool) {
	action, ok := eventActions[t]
	return action, ok
}

var actionSeverities = map[ActionType]Severity{
	ActionLeaveCreated:   SeverityInfo,
	ActionLeaveUpdated:   SeverityLow,
	ActionLeaveApproved:  SeverityLow,
	ActionLeaveRejected:  SeverityLow,
	ActionLeaveCancelled: SeverityLow,
	ActionLeaveDeleted:   SeverityMedium,

	ActionQuotaUpdated:     SeverityMedium,
	ActionQuotaTransferred: SeverityMedium,
	ActionQuotaCarriedOver: SeverityMedium,

	ActionUserRoleChanged:   SeverityHigh,
	ActionPermissionGranted: SeverityHigh,
	ActionPermissionRevoked: SeverityHigh,

	ActionExportData:           SeverityMedium,
	ActionConfigurationChanged: SeverityHigh,
	ActionSystemAccess:         SeverityMedium,
}

// SeverityFor returns the severity assigned to an action type. Unknown
// actions default to INFO.
func SeverityFor(action ActionType) Severity {
	if severity, ok := actionSeverities[action]; ok {
		return severity
	}
	return SeverityInfo
}
