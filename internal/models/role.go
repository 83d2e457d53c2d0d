package models

// Role is the authenticated role of a session participant.
type Role string

const (
	RoleHost   Role = "host"
	RoleCoHost Role = "cohost"
	RoleViewer Role = "viewer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleHost, RoleCoHost, RoleViewer:
		return true
	}
	return false
}
