package domain

type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Principal is the verified caller of a request. Identity is issued by the
// external auth service; carebook only checks ownership.
type Principal struct {
	UserID   string
	TenantID string
	Role     Role
}

func (p Principal) Anonymous() bool {
	return p.UserID == ""
}
