package domain

import (
	"strings"
)

// =====================================================
// Course Role Identifiers
// =====================================================

const (
	lisMembership  = "http://purl.imsglobal.org/vocab/lis/v2/membership"
	lisInstitution = "http://purl.imsglobal.org/vocab/lis/v2/institution/person"
)

const (
	RoleInstructor        = lisMembership + "#Instructor"
	RoleLearner           = lisMembership + "#Learner"
	RoleTeachingAssistant = lisMembership + "/Instructor#TeachingAssistant"
	RoleContentDeveloper  = lisMembership + "#ContentDeveloper"
	RoleMentor            = lisMembership + "#Mentor"
	RoleAdministrator     = lisInstitution + "#Administrator"
)

// RoleLocalName returns the fragment of a namespaced role identifier:
// the part after '#', else after the last '/', else the whole string.
func RoleLocalName(role string) string {
	role = strings.TrimSpace(role)
	if i := strings.LastIndex(role, "#"); i >= 0 {
		return role[i+1:]
	}
	if i := strings.LastIndex(role, "/"); i >= 0 {
		return role[i+1:]
	}
	return role
}

// RoleNameMatches reports whether a stored role answers to name, either on
// the full identifier or on the local name, ignoring case.
// IdentityRepo.ListCourseMembersWithRole applies the same rule in SQL.
func RoleNameMatches(role, name string) bool {
	if strings.EqualFold(strings.TrimSpace(role), strings.TrimSpace(name)) {
		return true
	}
	local := RoleLocalName(name)
	return local != "" && strings.EqualFold(RoleLocalName(role), local)
}

// RoleLookupKeys expands a caller's role set into every key a stored role
// record may use: the exact identifier and its local name.
func RoleLookupKeys(roles []string) []string {
	seen := make(map[string]struct{}, len(roles)*2)
	keys := make([]string, 0, len(roles)*2)
	add := func(k string) {
		if k == "" {
			return
		}
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	for _, r := range roles {
		add(strings.TrimSpace(r))
		add(RoleLocalName(r))
	}
	return keys
}

// =====================================================
// Privileged Role Policy
// =====================================================

// PrivilegedRule is one entry of the staff policy table. A role matching any
// rule receives implicit full access to every chatflow of the course.
type PrivilegedRule struct {
	Name  string
	Match func(role string) bool
}

func localNameIs(name string) func(string) bool {
	return func(role string) bool {
		return strings.EqualFold(RoleLocalName(role), name)
	}
}

func containsFold(fragment string) func(string) bool {
	return func(role string) bool {
		return strings.Contains(strings.ToLower(role), fragment)
	}
}

// PrivilegedRoles is the single policy table consulted by every access path.
var PrivilegedRoles = []PrivilegedRule{
	{Name: "instructor", Match: localNameIs("Instructor")},
	{Name: "teaching_assistant", Match: localNameIs("TeachingAssistant")},
	{Name: "administrator", Match: localNameIs("Administrator")},
	{Name: "content_developer", Match: localNameIs("ContentDeveloper")},
	{Name: "teacher", Match: containsFold("teacher")},
	{Name: "admin", Match: containsFold("admin")},
}

// MatchPrivileged returns the name of the first policy rule any role matches.
func MatchPrivileged(roles []string) (string, bool) {
	for _, role := range roles {
		for _, rule := range PrivilegedRoles {
			if rule.Match(role) {
				return rule.Name, true
			}
		}
	}
	return "", false
}

// IsPrivileged reports whether any role is course staff.
func IsPrivileged(roles []string) bool {
	_, ok := MatchPrivileged(roles)
	return ok
}

// =====================================================
// Role Label Table (bulk provisioning)
// =====================================================

var roleLabels = map[string]string{
	"instructor":         RoleInstructor,
	"teacher":            RoleInstructor,
	"learner":            RoleLearner,
	"student":            RoleLearner,
	"teachingassistant":  RoleTeachingAssistant,
	"teaching assistant": RoleTeachingAssistant,
	"ta":                 RoleTeachingAssistant,
	"contentdeveloper":   RoleContentDeveloper,
	"content developer":  RoleContentDeveloper,
	"administrator":      RoleAdministrator,
	"admin":              RoleAdministrator,
	"mentor":             RoleMentor,
}

// IsCanonicalRole reports whether token is already a URI-form role identifier.
func IsCanonicalRole(token string) bool {
	lower := strings.ToLower(token)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "urn:")
}

// ResolveRoleLabel maps a human label to its canonical identifier.
// Canonical tokens pass through unchanged.
func ResolveRoleLabel(token string) (string, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	if IsCanonicalRole(token) {
		return token, true
	}
	canonical, ok := roleLabels[strings.ToLower(token)]
	return canonical, ok
}
