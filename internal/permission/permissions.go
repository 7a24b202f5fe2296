// Package permission implements granular access control for the leave module:
// a fixed permission vocabulary, layered role grants, per-user custom
// grant/deny overrides with deny taking precedence, and a two-level cache in
// front of every check.
package permission

// Permission is a single capability in the leave module vocabulary.
type Permission string

const (
	// Base permissions every employee holds.
	ViewOwnLeaves  Permission = "leaves.view.own"
	RequestLeave   Permission = "leaves.request"
	CancelOwnLeave Permission = "leaves.cancel.own"

	// Team management.
	ViewTeamLeaves    Permission = "leaves.view.team"
	ApproveTeamLeaves Permission = "leaves.approve.team"

	// Department management.
	ViewDepartmentLeaves    Permission = "leaves.view.department"
	ApproveDepartmentLeaves Permission = "leaves.approve.department"

	// Administrative.
	ViewAllLeaves    Permission = "leaves.view.all"
	ApproveAllLeaves Permission = "leaves.approve.all"
	CancelAnyLeave   Permission = "leaves.cancel.any"
	DeleteLeave      Permission = "leaves.delete"
	ManageQuotas     Permission = "leaves.quotas.manage"
	TransferQuotas   Permission = "leaves.quotas.transfer"
	CarryOverQuotas  Permission = "leaves.quotas.carryover"

	// Configuration.
	ManageLeaveTypes Permission = "leaves.types.manage"
	ManageLeaveRules Permission = "leaves.rules.manage"

	// Reporting.
	ViewReports   Permission = "leaves.reports.view"
	ExportReports Permission = "leaves.reports.export"

	// Audit.
	ViewAuditLogs Permission = "leaves.audit.view"
)

// Role is a predefined bundle of permissions.
type Role string

const (
	RoleEmployee          Role = "EMPLOYEE"
	RoleTeamManager       Role = "TEAM_MANAGER"
	RoleDepartmentManager Role = "DEPARTMENT_MANAGER"
	RoleHRStaff           Role = "HR_STAFF"
	RoleHRAdmin           Role = "HR_ADMIN"
	RoleSystemAdmin       Role = "SYSTEM_ADMIN"
)

var employeePermissions = []Permission{
	ViewOwnLeaves,
	RequestLeave,
	CancelOwnLeave,
}

var teamManagerPermissions = append(append([]Permission{}, employeePermissions...),
	ViewTeamLeaves,
	ApproveTeamLeaves,
)

var departmentManagerPermissions = append(append([]Permission{}, teamManagerPermissions...),
	ViewDepartmentLeaves,
	ApproveDepartmentLeaves,
)

var hrStaffPermissions = append(append([]Permission{}, employeePermissions...),
	ViewAllLeaves,
	ViewReports,
	ExportReports,
)

var hrAdminPermissions = append(append([]Permission{}, employeePermissions...),
	ViewAllLeaves,
	ApproveAllLeaves,
	CancelAnyLeave,
	ManageQuotas,
	TransferQuotas,
	CarryOverQuotas,
	ViewReports,
	ExportReports,
	ViewAuditLogs,
)

var systemAdminPermissions = append(append([]Permission{}, hrAdminPermissions...),
	DeleteLeave,
	ManageLeaveTypes,
	ManageLeaveRules,
)

// rolePermissions maps each role to its full permission set. The legacy role
// names still present in older user records alias onto the current roles.
var rolePermissions = map[Role][]Permission{
	RoleEmployee:          employeePermissions,
	RoleTeamManager:       teamManagerPermissions,
	RoleDepartmentManager: departmentManagerPermissions,
	RoleHRStaff:           hrStaffPermissions,
	RoleHRAdmin:           hrAdminPermissions,
	RoleSystemAdmin:       systemAdminPermissions,

	"ADMIN_TOTAL":   systemAdminPermissions,
	"ADMIN_PARTIEL": hrAdminPermissions,
	"MANAGER":       teamManagerPermissions,
	"UTILISATEUR":   employeePermissions,
}

// RolePermissions returns the permission set for a role. Unknown roles get
// an empty set, not an error: an unrecognized role simply holds nothing.
func RolePermissions(role Role) []Permission {
	return rolePermissions[role]
}

// relativePermissions require a target check against the caller's team or
// department rather than a plain role lookup.
var relativePermissions = map[Permission]struct{}{
	ViewTeamLeaves:          {},
	ApproveTeamLeaves:       {},
	ViewDepartmentLeaves:    {},
	ApproveDepartmentLeaves: {},
}

// IsRelative reports whether a permission depends on a target user or
// department.
func IsRelative(p Permission) bool {
	_, ok := relativePermissions[p]
	return ok
}

// FrequentPermissions are the checks seen most often in production traffic,
// used to seed the cache for a user ahead of their first real check.
func FrequentPermissions() []string {
	return []string{
		string(ViewOwnLeaves),
		string(RequestLeave),
		string(CancelOwnLeave),
		string(ViewTeamLeaves),
	}
}
