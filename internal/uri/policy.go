package uri

import "strings"

// ScopePolicy carries per-scope write/reindex/export flags (spec.md §3
// Entities).
type ScopePolicy struct {
	WritableByUser bool
	Reindexable    bool
	Exportable     bool
	SessionArtifact bool
	// SystemOnly marks scopes that may only be written from the system path
	// (the queue scope). Writes to a SystemOnly scope from a non-system
	// caller return PermissionDenied (spec.md §4.1, Testable Property 3).
	SystemOnly bool
}

// Policies maps every scope to its policy. Unknown scopes have no entry.
var Policies = map[Scope]ScopePolicy{
	ScopeResources: {WritableByUser: true, Reindexable: true, Exportable: true},
	ScopeUser:      {WritableByUser: true, Reindexable: true, Exportable: true},
	ScopeAgent:     {WritableByUser: true, Reindexable: true, Exportable: true},
	ScopeSession:   {WritableByUser: true, Reindexable: true, Exportable: true, SessionArtifact: true},
	ScopeTemp:      {WritableByUser: false, Reindexable: false, Exportable: false},
	ScopeQueue:     {WritableByUser: false, Reindexable: false, Exportable: false, SystemOnly: true},
}

// PolicyFor returns the ScopePolicy for scope, or the zero policy (most
// restrictive) if scope is unknown.
func PolicyFor(scope Scope) ScopePolicy {
	return Policies[scope]
}

// tierSuffixes are the generated tier-artifact suffixes (spec.md §4.1):
// read-only to external writers.
var tierSuffixes = []string{".abstract.md", ".overview.md"}

// IsTierArtifact reports whether name (a file basename) is a generated tier
// artifact forbidden as a write/edit target.
func IsTierArtifact(name string) bool {
	for _, suf := range tierSuffixes {
		if strings.HasSuffix(name, suf) {
			return true
		}
	}

	return false
}
