package authorization

import "strings"

// Role is the coarse permission level of a subject.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Valid reports whether r is a defined role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	}
	return false
}

// ParseRole maps a provider role name onto a Role. Unknown names are not roles.
func ParseRole(name string) (Role, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case string(RoleAdmin):
		return RoleAdmin, true
	case string(RoleUser):
		return RoleUser, true
	}
	return "", false
}

// Identity is a resolved credential.
type Identity struct {
	SubjectID string
	Name      string
	Role      Role
}

// Requirement decides whether a role may perform an operation.
type Requirement func(Role) bool

// AnyRole admits every resolved identity.
func AnyRole(Role) bool { return true }

// AdminOnly admits the ADMIN role.
func AdminOnly(r Role) bool { return r == RoleAdmin }
