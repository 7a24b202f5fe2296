package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mathilda/internal/integration"
)

// Service derives audit entries from bus events and exposes direct logging
// helpers for callers that audit their own actions.
type Service struct {
	log   *logrus.Logger
	store Store
	bus   *integration.Bus
	subs  []*integration.Subscription
}

// NewService builds the service and subscribes it to every auditable event
// type on the bus.
func NewService(log *logrus.Logger, store Store, bus *integration.Bus) *Service {
	s := &Service{log: log, store: store, bus: bus}

	leaveTypes := []integration.EventType{
		integration.LeaveCreated,
		integration.LeaveUpdated,
		integration.LeaveApproved,
		integration.LeaveRejected,
		integration.LeaveCancelled,
		integration.LeaveDeleted,
	}
	for _, t := range leaveTypes {
		s.subs = append(s.subs, bus.Subscribe(t, s.handleLeaveEvent))
	}

	quotaTypes := []integration.EventType{
		integration.QuotaUpdated,
		integration.QuotaTransferred,
		integration.QuotaCarriedOver,
	}
	for _, t := range quotaTypes {
		s.subs = append(s.subs, bus.Subscribe(t, s.handleQuotaEvent))
	}

	s.subs = append(s.subs, bus.Subscribe(integration.AuditAction, s.handleGenericAuditEvent))

	return s
}

// Dispose removes the bus subscriptions. Already-stored entries remain
// searchable.
func (s *Service) Dispose() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
}

// CreateEntry assigns an ID and timestamp, defaults the severity from the
// action type when unset, and persists the entry.
func (s *Service) CreateEntry(ctx context.Context, entry Entry) (Entry, error) {
	entry.ID = uuid.NewString()
	entry.Timestamp = time.Now()
	if entry.Severity == "" {
		entry.Severity = SeverityFor(entry.ActionType)
	}

	if err := s.store.Append(ctx, entry); err != nil {
		return Entry{}, fmt.Errorf("create audit entry: %w", err)
	}
	s.log.Debugf("audit: created entry %s (%s)", entry.ID, entry.ActionType)
	return entry, nil
}

// Search returns one page of the audit trail.
func (s *Service) Search(ctx context.Context, opts SearchOptions) (PaginatedResult, error) {
	return s.store.Search(ctx, opts)
}

// GetEntry returns one entry by ID, or nil when absent.
func (s *Service) GetEntry(ctx context.Context, id string) (*Entry, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) handleLeaveEvent(event integration.Event) {
	action, ok := ActionForEvent(event.Type)
	if !ok {
		return
	}
	payload, ok := leavePayload(event.Payload)
	if !ok {
		s.log.Warnf("audit: %s event carries no leave payload", event.Type)
		return
	}

	userID := event.UserID
	if userID == "" {
		userID = payload.UserID
	}

	_, err := s.CreateEntry(context.Background(), Entry{
		ActionType:  action,
		UserID:      userID,
		TargetID:    payload.ID,
		TargetType:  "leave",
		Description: leaveDescription(event.Type, payload),
		Severity:    SeverityFor(action),
		Metadata: map[string]any{
			"leaveType":   payload.LeaveType,
			"leaveStatus": payload.Status,
			"startDate":   payload.StartDate,
			"endDate":     payload.EndDate,
		},
	})
	if err != nil {
		s.log.Errorf("audit: handling %s event: %v", event.Type, err)
	}
}

func (s *Service) handleQuotaEvent(event integration.Event) {
	action, ok := ActionForEvent(event.Type)
	if !ok {
		return
	}
	payload, ok := quotaPayload(event.Payload)
	if !ok {
		s.log.Warnf("audit: %s event carries no quota payload", event.Type)
		return
	}

	_, err := s.CreateEntry(context.Background(), Entry{
		ActionType:  action,
		UserID:      event.UserID,
		TargetID:    payload.UserID,
		TargetType:  "quota",
		Description: quotaDescription(event.Type, payload),
		Severity:    SeverityFor(action),
		Metadata: map[string]any{
			"leaveType": payload.LeaveType,
			"amount":    payload.Amount,
			"reason":    payload.Reason,
		},
	})
	if err != nil {
		s.log.Errorf("audit: handling %s event: %v", event.Type, err)
	}
}

// handleGenericAuditEvent turns an AUDIT_ACTION payload directly into an
// entry, trusting the publisher's fields.
func (s *Service) handleGenericAuditEvent(event integration.Event) {
	payload, ok := auditPayload(event.Payload)
	if !ok {
		s.log.Warnf("audit: AUDIT_ACTION event carries no audit payload")
		return
	}

	_, err := s.CreateEntry(context.Background(), Entry{
		ActionType:  ActionType(payload.ActionType),
		UserID:      payload.UserID,
		TargetID:    payload.TargetID,
		TargetType:  payload.TargetType,
		Description: payload.Description,
		Severity:    Severity(payload.Severity),
		Metadata:    payload.Metadata,
	})
	if err != nil {
		s.log.Errorf("audit: handling generic audit event: %v", err)
	}
}

// leaveDescription derives the verb from the event type's second token, so
// LEAVE_APPROVED reads "Leave approved - ...".
func leaveDescription(t integration.EventType, p integration.LeavePayload) string {
	verb := "updated"
	if parts := strings.SplitN(string(t), "_", 2); len(parts) == 2 {
		verb = strings.ToLower(parts[1])
	}
	return fmt.Sprintf("Leave %s - type: %s, status: %s, period: %s to %s",
		verb, p.LeaveType, p.Status,
		p.StartDate.Format("2006-01-02"), p.EndDate.Format("2006-01-02"))
}

func quotaDescription(t integration.EventType, p integration.QuotaPayload) string {
	switch t {
	case integration.QuotaUpdated:
		return fmt.Sprintf("Quota updated - type: %s, amount: %g", p.LeaveType, p.Amount)
	case integration.QuotaTransferred:
		return fmt.Sprintf("Quota transferred - from: %s, to: %s, amount: %g",
			p.FromLeaveType, p.ToLeaveType, p.Amount)
	case integration.QuotaCarriedOver:
		return fmt.Sprintf("Quota carried over - type: %s, from: %d, to: %d, amount: %g",
			p.LeaveType, p.FromYear, p.ToYear, p.Amount)
	default:
		return fmt.Sprintf("Quota action - type: %s", p.LeaveType)
	}
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

func quotaPayload(v any) (integration.QuotaPayload, bool) {
	switch p := v.(type) {
	case integration.QuotaPayload:
		return p, true
	case *integration.QuotaPayload:
		return *p, true
	default:
		return integration.QuotaPayload{}, false
	}
}

func auditPayload(v any) (integration.AuditPayload, bool) {
	switch p := v.(type) {
	case integration.AuditPayload:
		return p, true
	case *integration.AuditPayload:
		return *p, true
	default:
		return integration.AuditPayload{}, false
	}
}

// LogSystemAccess records a user reaching a sensitive section.
func (s *Service) LogSystemAccess(ctx context.Context, userID, section, action string, metadata map[string]any) {
	_, err := s.CreateEntry(ctx, Entry{
		ActionType:  ActionSystemAccess,
		UserID:      userID,
		Description: fmt.Sprintf("System access - section: %s, action: %s", section, action),
		Severity:    SeverityInfo,
		Metadata:    metadata,
	})
	if err != nil {
		s.log.Errorf("audit: log system access: %v", err)
	}
}

// LogUserRoleChange records a role change on a user account.
func (s *Service) LogUserRoleChange(ctx context.Context, changedBy, targetUserID, oldRole, newRole string) {
	_, err := s.CreateEntry(ctx, Entry{
		ActionType:  ActionUserRoleChanged,
		UserID:      changedBy,
		TargetID:    targetUserID,
		TargetType:  "user",
		Description: fmt.Sprintf("Role changed from %s to %s", oldRole, newRole),
		Severity:    SeverityHigh,
		Metadata:    map[string]any{"oldRole": oldRole, "newRole": newRole},
	})
	if err != nil {
		s.log.Errorf("audit: log role change: %v", err)
	}
}

// LogPermissionChange records a grant or revocation of a single permission.
func (s *Service) LogPermissionChange(ctx context.Context, changedBy, targetUserID, permission string, granted bool) {
	action := ActionPermissionRevoked
	verb := "revoked"
	if granted {
		action = ActionPermissionGranted
		verb = "granted"
	}
	_, err := s.CreateEntry(ctx, Entry{
		ActionType:  action,
		UserID:      changedBy,
		TargetID:    targetUserID,
		TargetType:  "permission",
		Description: fmt.Sprintf("Permission %s %s", permission, verb),
		Severity:    SeverityHigh,
		Metadata:    map[string]any{"permission": permission, "granted": granted},
	})
	if err != nil {
		s.log.Errorf("audit: log permission change: %v", err)
	}
}

// LogDataExport records an export of module data.
func (s *Service) LogDataExport(ctx context.Context, userID, dataType, format string, filters map[string]any) {
	_, err := s.CreateEntry(ctx, Entry{
		ActionType:  ActionExportData,
		UserID:      userID,
		TargetType:  dataType,
		Description: fmt.Sprintf("Data export - type: %s, format: %s", dataType, format),
		Severity:    SeverityMedium,
		Metadata:    map[string]any{"dataType": dataType, "exportFormat": format, "filters": filters},
	})
	if err != nil {
		s.log.Errorf("audit: log data export: %v", err)
	}
}

// LogConfigurationChange records a configuration value change.
func (s *Service) LogConfigurationChange(ctx context.Context, userID, configKey string, oldValue, newValue any) {
	_, err := s.CreateEntry(ctx, Entry{
		ActionType:  ActionConfigurationChanged,
		UserID:      userID,
		TargetID:    configKey,
		TargetType:  "configuration",
		Description: fmt.Sprintf("Configuration changed - key: %s", configKey),
		Severity:    SeverityHigh,
		Metadata:    map[string]any{"configKey": configKey, "oldValue": oldValue, "newValue": newValue},
	})
	if err != nil {
		s.log.Errorf("audit: log configuration change: %v", err)
	}
}
