package roles

import "strings"

type Role string

const (
	RoleClinician Role = "Clinician"
	RoleNurse     Role = "Nurse"
	RoleReception Role = "Reception"
	RoleManager   Role = "Manager"
	RoleOther     Role = "Other"
)

// Categories lists the roles offered on the entry form, in display order.
var Categories = []Role{RoleClinician, RoleNurse, RoleReception, RoleManager, RoleOther}

// Normalize maps a known category to its canonical spelling, keeps free-text
// roles as typed and falls back to RoleOther when empty.
func Normalize(role string) Role {
	trimmed := strings.TrimSpace(role)
	if trimmed == "" {
		return RoleOther
	}
	for _, category := range Categories {
		if strings.EqualFold(trimmed, string(category)) {
			return category
		}
	}
	return Role(trimmed)
}

func IsCategory(role Role) bool {
	for _, category := range Categories {
		if role == category {
			return true
		}
	}
	return false
}
