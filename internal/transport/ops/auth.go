package ops

import (
	"context"
	"net/http"

	"mathilda/internal/permission"
)

// PermissionChecker is the slice of the permission service the transport
// layer needs to gate endpoints.
type PermissionChecker interface {
	HasPermission(ctx context.Context, p permission.Permission, user permission.User, targetUserID, targetDepartmentID string) bool
}

type contextKeyUser struct{}

// ContextKeyUser stores the identified caller on the request context.
var ContextKeyUser = contextKeyUser{}

// UserFrom retrieves the identified caller from the context.
func UserFrom(ctx context.Context) (permission.User, bool) {
	user, ok := ctx.Value(ContextKeyUser).(permission.User)
	return user, ok
}

// identify reads the caller's identity from the gateway-set headers. The
// upstream gateway authenticates the session; this service only needs the
// resulting identity to evaluate permissions.
func identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-Id")
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		user := permission.User{
			ID:           userID,
			Role:         permission.Role(r.Header.Get("X-User-Role")),
			DepartmentID: r.Header.Get("X-User-Department"),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ContextKeyUser, user)))
	})
}

// requirePermission rejects requests whose caller does not hold the
// permission: 401 without an identity, 403 without the permission.
func (h *Handler) requirePermission(p permission.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFrom(r.Context())
			if !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "identity required"})
				return
			}
			if !h.perms.HasPermission(r.Context(), p, user, "", "") {
				h.log.Warnf("ops: user %s denied %s", user.ID, p)
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "permission denied"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
