package auth

import "strings"

// RolePrefix is prepended to role names that do not already carry it.
const RolePrefix = "ROLE_"

// Principal is the identity established for one request.
type Principal struct {
	Identifier  string   `json:"identifier"`
	Authorities []string `json:"authorities"`
	Active      bool     `json:"active"`
	Locked      bool     `json:"locked"`
	RemoteAddr  string   `json:"remote_addr,omitempty"`
	RequestID   string   `json:"request_id,omitempty"`
}

// NormalizeRole returns role with the ROLE_ prefix, so "ADMIN" and
// "ROLE_ADMIN" name the same authority.
func NormalizeRole(role string) string {
	role = strings.TrimSpace(role)
	if role == "" || strings.HasPrefix(role, RolePrefix) {
		return role
	}
	return RolePrefix + role
}

// HasRole reports whether the principal holds role.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	want := NormalizeRole(role)
	if want == "" {
		return false
	}
	for _, a := range p.Authorities {
		if NormalizeRole(a) == want {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the principal holds at least one of roles.
func (p *Principal) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if p.HasRole(r) {
			return true
		}
	}
	return false
}
