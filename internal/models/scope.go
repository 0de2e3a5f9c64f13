// Package models defines the memory engine's metadata model: the scope
// tuple every record is qualified by, the record shape itself, status
// transitions, and category-driven defaults.
package models

import (
	"strings"
)

// Scope qualifies every read and write. Tenant and User are required;
// Agent, Session and Project are optional narrowings.
type Scope struct {
	Tenant  string `json:"tenant"`
	User    string `json:"user"`
	Agent   string `json:"agent,omitempty"`
	Session string `json:"session,omitempty"`
	Project string `json:"project,omitempty"`
}

// Valid reports whether the required tuple members are present.
func (s Scope) Valid() bool {
	return strings.TrimSpace(s.Tenant) != "" && strings.TrimSpace(s.User) != ""
}

// Canonical renders a deterministic string form used by the fingerprint
// service and as the scope-prefix for cache keys and lock keys. Field order
// is fixed; empty optional fields are included as empty segments so that
// (tenant, user, "", "", project) never collides with (tenant, user, "",
// session, "").
func (s Scope) Canonical() string {
	var b strings.Builder
	b.WriteString(s.Tenant)
	b.WriteByte(0x1e)
	b.WriteString(s.User)
	b.WriteByte(0x1e)
	b.WriteString(s.Agent)
	b.WriteByte(0x1e)
	b.WriteString(s.Session)
	b.WriteByte(0x1e)
	b.WriteString(s.Project)
	return b.String()
}
