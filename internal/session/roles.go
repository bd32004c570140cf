package session

import "github.com/wolfman30/smartqueue-portal/internal/qmsapi"

const (
	PathLogin     = "/login"
	PathDashboard = "/dashboard"
	PathAdmin     = "/admin"
)

// RouteForRole is the landing path after a successful login or
// registration. Unknown roles land on the personal dashboard.
func RouteForRole(role qmsapi.Role) string {
	switch role {
	case qmsapi.RoleStaff, qmsapi.RoleAdmin:
		return PathAdmin
	case qmsapi.RoleCitizen:
		return PathDashboard
	default:
		return PathDashboard
	}
}
