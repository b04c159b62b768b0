// Package roles normalizes ERP role names so that variants like
// "Technical Director", "technical-director" and "td" compare equal.
package roles

import (
	"strings"
	"unicode"
)

// DefaultAliases maps each canonical role to its known synonyms.
var DefaultAliases = map[string][]string{
	"technical_director": {"td", "tech_director"},
	"project_manager":    {"pm", "projectmanager"},
	"site_engineer":      {"se", "site_supervisor", "sitesupervisor", "siteengineer"},
	"estimator":          {"est", "estimation"},
	"buyer":              {"procurement", "purchaser"},
	"admin":              {"administrator", "super_admin"},
	"mep_supervisor":     {"mep", "mep_manager"},
}

// Normalize lower-cases a role and collapses runs of whitespace, hyphens
// and underscores into a single underscore.
func Normalize(role string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.TrimSpace(role) {
		if unicode.IsSpace(r) || r == '-' || r == '_' {
			pendingSep = true
			continue
		}
		if pendingSep && b.Len() > 0 {
			b.WriteByte('_')
		}
		pendingSep = false
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Matcher resolves role names to canonical roles through an alias table.
type Matcher struct {
	canonical map[string]string
}

// NewMatcher builds a matcher from DefaultAliases overlaid with extra. An
// alias listed in extra takes precedence over a default mapping.
func NewMatcher(extra map[string][]string) *Matcher {
	m := &Matcher{canonical: make(map[string]string)}
	m.load(DefaultAliases)
	m.load(extra)
	return m
}

func (m *Matcher) load(table map[string][]string) {
	for role, aliases := range table {
		canon := Normalize(role)
		if canon == "" {
			continue
		}
		m.canonical[canon] = canon
		for _, a := range aliases {
			if n := Normalize(a); n != "" {
				m.canonical[n] = canon
			}
		}
	}
}

// Canonical returns the canonical form of role.
func (m *Matcher) Canonical(role string) string {
	n := Normalize(role)
	if c, ok := m.canonical[n]; ok {
		return c
	}
	return n
}

// Match reports whether a and b name the same role. Empty roles never match.
func (m *Matcher) Match(a, b string) bool {
	ca, cb := m.Canonical(a), m.Canonical(b)
	return ca != "" && ca == cb
}
