package auth

// Roles a user can hold. Only admins can change a user's role.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// IsValidRole reports whether role is a known role
func IsValidRole(role string) bool {
	return role == RoleUser || role == RoleAdmin
}
