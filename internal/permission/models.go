package permission

import "context"

// User is the subject of a permission check.
type User struct {
	ID           string
	Role         Role
	DepartmentID string
}

// CustomPermissions holds the per-user overrides layered on top of the role
// grants. Denied always wins over granted.
type CustomPermissions struct {
	UserID  string       `json:"userId"`
	Granted []Permission `json:"grantedPermissions"`
	Denied  []Permission `json:"deniedPermissions"`
}

// HasGranted reports whether the permission is explicitly granted.
func (c *CustomPermissions) HasGranted(p Permission) bool {
	return containsPermission(c.Granted, p)
}

// HasDenied reports whether the permission is explicitly denied.
func (c *CustomPermissions) HasDenied(p Permission) bool {
	return containsPermission(c.Denied, p)
}

func containsPermission(perms []Permission, p Permission) bool {
	for _, candidate := range perms {
		if candidate == p {
			return true
		}
	}
	return false
}

func removePermission(perms []Permission, p Permission) []Permission {
	out := perms[:0]
	for _, candidate := range perms {
		if candidate != p {
			out = append(out, candidate)
		}
	}
	return out
}

// Directory resolves organizational structure for relative permission checks.
type Directory interface {
	// GetUser returns the directory record for a user.
	GetUser(ctx context.Context, userID string) (*User, error)
	// ManagerOf returns the user ID of a user's direct manager, or "" when
	// the user has none.
	ManagerOf(ctx context.Context, userID string) (string, error)
}

// Store persists per-user custom permission overrides.
type Store interface {
	// Load returns every stored override set.
	Load(ctx context.Context) ([]CustomPermissions, error)
	// Save upserts one user's override set.
	Save(ctx context.Context, perms CustomPermissions) error
	// Delete removes one user's override set. Deleting an absent set is
	// not an error.
	Delete(ctx context.Context, userID string) error
}
