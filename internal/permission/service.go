package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"mathilda/internal/audit"
	"mathilda/internal/integration"
	"mathilda/internal/permission/cache"
	pkgstrings "mathilda/pkg/strings"
)

// ErrNotAuthorized is returned when the acting user lacks the right to
// manage permissions.
var ErrNotAuthorized = errors.New("not authorized to manage permissions")

// AuditLog is the slice of the audit service the permission service needs.
type AuditLog interface {
	LogPermissionChange(ctx context.Context, changedBy, targetUserID, permission string, granted bool)
	CreateEntry(ctx context.Context, entry audit.Entry) (audit.Entry, error)
}

// Service answers permission checks for the leave module. Every check runs
// through the two-level cache; custom per-user overrides beat role grants,
// and an explicit deny beats everything.
type Service struct {
	log      *logrus.Logger
	cache    *cache.Cache
	store    Store
	dir      Directory
	auditLog AuditLog
	bus      *integration.Bus
	sub      *integration.Subscription

	mu     sync.RWMutex
	custom map[string]CustomPermissions
	loaded bool
}

// NewService loads the stored overrides and subscribes to permission-change
// events so cached checks for an affected user are dropped immediately. A
// failed load is retried on the next check; until one succeeds, checks answer
// from role permissions alone.
func NewService(log *logrus.Logger, bus *integration.Bus, c *cache.Cache, store Store, dir Directory, auditLog AuditLog) *Service {
	s := &Service{
		log:      log,
		cache:    c,
		store:    store,
		dir:      dir,
		auditLog: auditLog,
		bus:      bus,
		custom:   make(map[string]CustomPermissions),
	}

	if err := s.loadCustomPermissions(context.Background()); err != nil {
		log.Warnf("permission: loading custom permissions (will retry on the next check): %v", err)
	}

	s.sub = bus.Subscribe(integration.AuditAction, s.handleAuditEvent)
	return s
}

// Dispose removes the bus subscription.
func (s *Service) Dispose() {
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
}

func (s *Service) loadCustomPermissions(ctx context.Context) error {
	all, err := s.store.Load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.custom = make(map[string]CustomPermissions, len(all))
	for _, perms := range all {
		s.custom[perms.UserID] = perms
	}
	s.loaded = true
	s.mu.Unlock()

	// A fresh override set makes every cached verdict suspect.
	s.cache.Clear(ctx)
	s.log.Debugf("permission: loaded %d custom permission sets", len(all))
	return nil
}

// ensureLoaded retries the override load until the store answers. Verdicts
// cached while the store was down are cleared by the successful load, so an
// explicit deny applies from the first check after recovery.
func (s *Service) ensureLoaded(ctx context.Context) {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return
	}
	if err := s.loadCustomPermissions(ctx); err != nil {
		s.log.Warnf("permission: loading custom permissions (will retry on the next check): %v", err)
	}
}

// handleAuditEvent drops the cached checks of any user whose permissions or
// role just changed.
func (s *Service) handleAuditEvent(event integration.Event) {
	payload, ok := event.Payload.(integration.AuditPayload)
	if !ok {
		if p, ok := event.Payload.(*integration.AuditPayload); ok {
			payload = *p
		} else {
			return
		}
	}

	switch audit.ActionType(payload.ActionType) {
	case audit.ActionPermissionGranted, audit.ActionPermissionRevoked, audit.ActionUserRoleChanged:
		s.InvalidateUserCache(context.Background(), payload.TargetID)
	}
}

// checkKey builds the cache key for a single permission check. Keys start
// with the user segment so one user's entries form a common prefix for
// invalidation.
func checkKey(p Permission, userID, targetUserID, targetDepartmentID string) string {
	return fmt.Sprintf("userId=%s|permission=%s|targetUser=%s|targetDept=%s",
		userID, p, targetUserID, targetDepartmentID)
}

// HasPermission reports whether the user holds the permission, optionally
// against a target user or department for relative permissions. The verdict
// is cached either way.
func (s *Service) HasPermission(ctx context.Context, p Permission, user User, targetUserID, targetDepartmentID string) bool {
	if user.ID == "" {
		return false
	}
	s.ensureLoaded(ctx)

	key := checkKey(p, user.ID, targetUserID, targetDepartmentID)
	if verdict, source := s.cache.GetBool(ctx, key); source != cache.SourceMiss {
		return verdict
	}

	verdict := s.evaluate(ctx, p, user, targetUserID, targetDepartmentID)
	s.cache.Set(ctx, key, verdict, cache.LevelBoth)
	if verdict {
		permChecks.WithLabelValues("allow").Inc()
	} else {
		permChecks.WithLabelValues("deny").Inc()
	}
	return verdict
}

func (s *Service) evaluate(ctx context.Context, p Permission, user User, targetUserID, targetDepartmentID string) bool {
	s.mu.RLock()
	custom, hasCustom := s.custom[user.ID]
	s.mu.RUnlock()

	if hasCustom {
		if custom.HasDenied(p) {
			return false
		}
		if custom.HasGranted(p) {
			return true
		}
	}

	if !containsPermission(RolePermissions(user.Role), p) {
		return false
	}
	if IsRelative(p) {
		return s.checkRelative(ctx, p, user, targetUserID, targetDepartmentID)
	}
	return true
}

// checkRelative validates a team or department permission against the
// target. With no target at all the permission stands on the role alone.
// Directory failures deny.
func (s *Service) checkRelative(ctx context.Context, p Permission, user User, targetUserID, targetDepartmentID string) bool {
	switch p {
	case ViewTeamLeaves, ApproveTeamLeaves:
		if targetUserID == "" {
			return true
		}
		managerID, err := s.dir.ManagerOf(ctx, targetUserID)
		if err != nil {
			s.log.Warnf("permission: team membership check for %s: %v", targetUserID, err)
			return false
		}
		return managerID == user.ID

	case ViewDepartmentLeaves, ApproveDepartmentLeaves:
		if targetDepartmentID != "" {
			return user.DepartmentID == targetDepartmentID
		}
		if targetUserID != "" {
			target, err := s.dir.GetUser(ctx, targetUserID)
			if err != nil || target == nil {
				if err != nil {
					s.log.Warnf("permission: department check for %s: %v", targetUserID, err)
				}
				return false
			}
			return target.DepartmentID == user.DepartmentID
		}
		return true

	default:
		return false
	}
}

// HasPermissions checks several permissions at once. With requireAll the
// check short-circuits on the first missing permission (AND); without it, on
// the first one held (OR). The combined verdict gets its own cache entry.
func (s *Service) HasPermissions(ctx context.Context, perms []Permission, requireAll bool, user User) bool {
	if user.ID == "" {
		return false
	}
	s.ensureLoaded(ctx)

	key := combinedKey(perms, requireAll, user.ID)
	if verdict, source := s.cache.GetBool(ctx, key); source != cache.SourceMiss {
		return verdict
	}

	verdict := requireAll
	for _, p := range perms {
		has := s.HasPermission(ctx, p, user, "", "")
		if requireAll && !has {
			verdict = false
			break
		}
		if !requireAll && has {
			verdict = true
			break
		}
	}

	s.cache.Set(ctx, key, verdict, cache.LevelBoth)
	return verdict
}

func combinedKey(perms []Permission, requireAll bool, userID string) string {
	joined := make([]string, len(perms))
	for i, p := range perms {
		joined[i] = string(p)
	}
	return fmt.Sprintf("userId=%s|permissions=%s|requireAll=%t",
		userID, strings.Join(joined, ","), requireAll)
}

// GetUserPermissions returns the effective permission set for a user: role
// grants plus custom grants, minus custom denials, deduplicated in first-seen
// order. Directory failures yield an empty set.
func (s *Service) GetUserPermissions(ctx context.Context, userID string) []Permission {
	s.ensureLoaded(ctx)
	key := fmt.Sprintf("userId=%s|userPermissions", userID)
	if cached, source := s.cache.GetStrings(ctx, key); source != cache.SourceMiss {
		return toPermissions(cached)
	}

	user, err := s.dir.GetUser(ctx, userID)
	if err != nil || user == nil {
		if err != nil {
			s.log.Warnf("permission: fetching user %s: %v", userID, err)
		}
		return nil
	}

	s.mu.RLock()
	custom := s.custom[userID]
	s.mu.RUnlock()

	combined := make([]string, 0, len(RolePermissions(user.Role))+len(custom.Granted))
	for _, p := range RolePermissions(user.Role) {
		combined = append(combined, string(p))
	}
	for _, p := range custom.Granted {
		combined = append(combined, string(p))
	}

	deduped := pkgstrings.DedupeAndTrim(combined)
	effective := make([]string, 0, len(deduped))
	for _, raw := range deduped {
		if !containsPermission(custom.Denied, Permission(raw)) {
			effective = append(effective, raw)
		}
	}

	s.cache.Set(ctx, key, effective, cache.LevelBoth)
	return toPermissions(effective)
}

func toPermissions(raw []string) []Permission {
	out := make([]Permission, len(raw))
	for i, s := range raw {
		out[i] = Permission(s)
	}
	return out
}

// Grant adds a permission to a user's custom grants, clearing any matching
// denial. It reports whether anything changed. Only holders of
// leaves.rules.manage may grant.
func (s *Service) Grant(ctx context.Context, actor User, userID string, p Permission) (bool, error) {
	if !s.HasPermission(ctx, ManageLeaveRules, actor, "", "") {
		return false, ErrNotAuthorized
	}

	s.mu.Lock()
	perms, ok := s.custom[userID]
	if !ok {
		perms = CustomPermissions{UserID: userID}
	}

	changed := false
	if !perms.HasGranted(p) {
		perms.Granted = append(perms.Granted, p)
		changed = true
	}
	if perms.HasDenied(p) {
		perms.Denied = removePermission(perms.Denied, p)
		changed = true
	}
	if changed {
		s.custom[userID] = perms
	}
	s.mu.Unlock()

	if !changed {
		return false, nil
	}

	if err := s.store.Save(ctx, perms); err != nil {
		return false, fmt.Errorf("save custom permissions: %w", err)
	}

	s.auditLog.LogPermissionChange(ctx, actor.ID, userID, string(p), true)
	s.InvalidateUserCache(ctx, userID)
	s.bus.Publish(integration.Event{
		Type: integration.AuditAction,
		Payload: integration.AuditPayload{
			ActionType: string(audit.ActionPermissionGranted),
			UserID:     actor.ID,
			TargetID:   userID,
			Permission: string(p),
		},
		Source: "permission-service",
		UserID: actor.ID,
	})
	return true, nil
}

// Revoke adds a permission to a user's custom denials, clearing any matching
// grant. It reports whether anything changed.
func (s *Service) Revoke(ctx context.Context, actor User, userID string, p Permission) (bool, error) {
	if !s.HasPermission(ctx, ManageLeaveRules, actor, "", "") {
		return false, ErrNotAuthorized
	}

	s.mu.Lock()
	perms, ok := s.custom[userID]
	if !ok {
		perms = CustomPermissions{UserID: userID}
	}

	changed := false
	if !perms.HasDenied(p) {
		perms.Denied = append(perms.Denied, p)
		changed = true
	}
	if perms.HasGranted(p) {
		perms.Granted = removePermission(perms.Granted, p)
		changed = true
	}
	if changed {
		s.custom[userID] = perms
	}
	s.mu.Unlock()

	if !changed {
		return false, nil
	}

	if err := s.store.Save(ctx, perms); err != nil {
		return false, fmt.Errorf("save custom permissions: %w", err)
	}

	s.auditLog.LogPermissionChange(ctx, actor.ID, userID, string(p), false)
	s.InvalidateUserCache(ctx, userID)
	s.bus.Publish(integration.Event{
		Type: integration.AuditAction,
		Payload: integration.AuditPayload{
			ActionType: string(audit.ActionPermissionRevoked),
			UserID:     actor.ID,
			TargetID:   userID,
			Permission: string(p),
		},
		Source: "permission-service",
		UserID: actor.ID,
	})
	return true, nil
}

// Reset removes all custom overrides for a user, restoring pure role-based
// permissions. Both the failure and the success paths leave an audit entry.
func (s *Service) Reset(ctx context.Context, actor User, userID string) error {
	if !s.HasPermission(ctx, ManageLeaveRules, actor, "", "") {
		return ErrNotAuthorized
	}

	s.mu.Lock()
	delete(s.custom, userID)
	s.mu.Unlock()

	if err := s.store.Delete(ctx, userID); err != nil {
		if _, auditErr := s.auditLog.CreateEntry(ctx, audit.Entry{
			ActionType:  audit.ActionPermissionRevoked,
			UserID:      actor.ID,
			TargetID:    userID,
			TargetType:  "user",
			Description: fmt.Sprintf("Failed to reset custom permissions for user %s: %v", userID, err),
			Severity:    audit.SeverityCritical,
			Metadata:    map[string]any{"resetPermissionsFailed": true},
		}); auditErr != nil {
			s.log.Errorf("permission: audit reset failure: %v", auditErr)
		}
		return fmt.Errorf("reset custom permissions: %w", err)
	}

	s.InvalidateUserCache(ctx, userID)
	if _, err := s.auditLog.CreateEntry(ctx, audit.Entry{
		ActionType:  audit.ActionPermissionRevoked,
		UserID:      actor.ID,
		TargetID:    userID,
		TargetType:  "user",
		Description: fmt.Sprintf("Custom permissions reset for user %s", userID),
		Severity:    audit.SeverityHigh,
		Metadata:    map[string]any{"resetPermissionsSuccess": true},
	}); err != nil {
		s.log.Errorf("permission: audit reset: %v", err)
	}
	return nil
}

// InvalidateUserCache drops every cached check for one user from both cache
// tiers. The trailing separator keeps the prefix from also matching users
// whose IDs merely extend this one.
func (s *Service) InvalidateUserCache(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	count := s.cache.InvalidateByPrefix(ctx, "userId="+userID+"|")
	if count > 0 {
		s.log.Debugf("permission: invalidated %d cache entries for user %s", count, userID)
	}
}

// PreloadPermissionsForUser warms the cache with the most frequently checked
// permissions for one user.
func (s *Service) PreloadPermissionsForUser(userID string) {
	if userID == "" {
		return
	}
	s.cache.PreloadFrequentPermissions(userID)
	s.log.Debugf("permission: preloaded frequent permissions for user %s", userID)
}

// ClearCache empties both cache tiers.
func (s *Service) ClearCache(ctx context.Context) {
	s.cache.Clear(ctx)
}

// GetCacheStats exposes the cache counters.
func (s *Service) GetCacheStats() cache.Stats {
	return s.cache.GetStats()
}
